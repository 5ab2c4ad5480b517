package permissions

import api "github.com/OvyFlash/telegram-bot-api"

func IsManager(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if member.IsCreator() {
		return true
	}
	return member.IsAdministrator() && (member.CanManageChat || member.CanPromoteMembers)
}

func IsPrivilegedModerator(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if IsManager(member) {
		return true
	}
	return member.IsAdministrator() && member.CanRestrictMembers
}

// Outranks reports whether actor may sanction subject: the actor must hold
// restriction rights and the subject must not outrank them in turn.
func Outranks(actor, subject *api.ChatMember) bool {
	if !IsPrivilegedModerator(actor) {
		return false
	}
	if subject == nil {
		return true
	}
	if subject.IsCreator() {
		return false
	}
	return !IsManager(subject) || IsManager(actor)
}
