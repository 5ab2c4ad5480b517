// Package telegram adapts the Telegram Bot API to the platform.Actions
// surface the moderation engine consumes. Telegram's "restrict" is our mute,
// a kick is a ban immediately followed by an unban, and promote/demote
// toggle the moderator permission set.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/wardenbot/warden/internal/platform"
	"github.com/wardenbot/warden/internal/policy/permissions"
)

const msgNoPrivileges = "not enough rights"

type Adapter struct {
	bot *api.BotAPI
}

var _ platform.Actions = (*Adapter)(nil)

func NewAdapter(bot *api.BotAPI) *Adapter {
	return &Adapter{bot: bot}
}

func (a *Adapter) Mute(ctx context.Context, communityID, subjectID int64, until time.Time) error {
	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: memberConfig(communityID, subjectID),
		Permissions:      &api.ChatPermissions{},

		UseIndependentChatPermissions: true,
	}
	if !until.IsZero() {
		config.UntilDate = until.Unix()
	}
	if _, err := a.bot.Request(config); err != nil {
		return classify(err, "restrict")
	}
	return nil
}

func (a *Adapter) Unmute(ctx context.Context, communityID, subjectID int64) error {
	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: memberConfig(communityID, subjectID),
		Permissions: &api.ChatPermissions{
			CanSendMessages:       true,
			CanSendOtherMessages:  true,
			CanAddWebPagePreviews: true,
		},
	}
	if _, err := a.bot.Request(config); err != nil {
		return classify(err, "unrestrict")
	}
	return nil
}

func (a *Adapter) Ban(ctx context.Context, communityID, subjectID int64, until time.Time) error {
	config := api.BanChatMemberConfig{
		ChatMemberConfig: memberConfig(communityID, subjectID),
		RevokeMessages:   true,
	}
	if !until.IsZero() {
		config.UntilDate = until.Unix()
	}
	if _, err := a.bot.Request(config); err != nil {
		return classify(err, "ban")
	}
	return nil
}

func (a *Adapter) Unban(ctx context.Context, communityID, subjectID int64) error {
	config := api.UnbanChatMemberConfig{
		ChatMemberConfig: memberConfig(communityID, subjectID),
		OnlyIfBanned:     true,
	}
	if _, err := a.bot.Request(config); err != nil {
		return classify(err, "unban")
	}
	return nil
}

func (a *Adapter) Kick(ctx context.Context, communityID, subjectID int64) error {
	if err := a.Ban(ctx, communityID, subjectID, time.Time{}); err != nil {
		return err
	}
	return a.Unban(ctx, communityID, subjectID)
}

func (a *Adapter) Promote(ctx context.Context, communityID, subjectID int64) error {
	config := api.PromoteChatMemberConfig{
		ChatMemberConfig:   memberConfig(communityID, subjectID),
		CanDeleteMessages:  true,
		CanRestrictMembers: true,
		CanPinMessages:     true,
	}
	if _, err := a.bot.Request(config); err != nil {
		return classify(err, "promote")
	}
	return nil
}

func (a *Adapter) Demote(ctx context.Context, communityID, subjectID int64) error {
	config := api.PromoteChatMemberConfig{
		ChatMemberConfig: memberConfig(communityID, subjectID),
	}
	if _, err := a.bot.Request(config); err != nil {
		return classify(err, "demote")
	}
	return nil
}

func (a *Adapter) CanModerate(ctx context.Context, communityID, actorID, subjectID int64) (bool, error) {
	actor, err := a.chatMember(communityID, actorID)
	if err != nil {
		return false, err
	}
	subject, err := a.chatMember(communityID, subjectID)
	if err != nil {
		return false, err
	}
	return permissions.Outranks(actor, subject), nil
}

func (a *Adapter) NotifyMember(ctx context.Context, subjectID int64, text string) error {
	if _, err := a.bot.Send(api.NewMessage(subjectID, text)); err != nil {
		return classify(err, "notify")
	}
	return nil
}

func (a *Adapter) PostAudit(ctx context.Context, channelID int64, text string) error {
	if channelID == 0 {
		return nil
	}
	if _, err := a.bot.Send(api.NewMessage(channelID, text)); err != nil {
		return classify(err, "post audit")
	}
	return nil
}

func (a *Adapter) chatMember(communityID, userID int64) (*api.ChatMember, error) {
	member, err := a.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: communityID},
			UserID:     userID,
		},
	})
	if err != nil {
		return nil, classify(err, "get chat member")
	}
	return &member, nil
}

func memberConfig(communityID, subjectID int64) api.ChatMemberConfig {
	return api.ChatMemberConfig{
		ChatConfig: api.ChatConfig{ChatID: communityID},
		UserID:     subjectID,
	}
}

// classify maps bot API failures onto the typed platform sentinels so the
// engine can tell a rights problem from a missing member.
func classify(err error, operation string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, msgNoPrivileges), strings.Contains(msg, "CHAT_ADMIN_REQUIRED"):
		return fmt.Errorf("%s: %w", operation, platform.ErrInsufficientPermissions)
	case strings.Contains(msg, "PARTICIPANT_ID_INVALID"), strings.Contains(msg, "user not found"):
		return fmt.Errorf("%s: %w", operation, platform.ErrTargetNotFound)
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}
