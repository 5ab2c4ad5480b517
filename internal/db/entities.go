package db

import "time"

type (
	// ActionRecord is one row of the append-only moderation ledger. Records
	// are immutable once written; the store assigns ID and CreatedAt.
	ActionRecord struct {
		ID           int64      `db:"id"`
		SubjectID    int64      `db:"subject_id"`
		CommunityID  int64      `db:"community_id"`
		Kind         ActionKind `db:"kind"`
		Reason       string     `db:"reason"`
		ActorID      int64      `db:"actor_id"`
		DurationSecs int64      `db:"duration_secs"`
		Delta        int64      `db:"delta"`
		CreatedAt    time.Time  `db:"created_at"`
	}

	// WarnCounterEntry is the cached warning projection for one member in
	// one community. It is rebuildable from the actions table at any time.
	WarnCounterEntry struct {
		SubjectID   int64     `db:"subject_id"`
		CommunityID int64     `db:"community_id"`
		Total       int64     `db:"total"`
		LastWarnAt  time.Time `db:"last_warn_at"`
	}

	// PendingSanction is a timed mute or ban awaiting automatic reversal.
	// At most one row exists per (subject, community, kind).
	PendingSanction struct {
		SubjectID      int64      `db:"subject_id"`
		CommunityID    int64      `db:"community_id"`
		Kind           ActionKind `db:"kind"`
		ExpiresAt      time.Time  `db:"expires_at"`
		SourceActionID int64      `db:"source_action_id"`
	}

	ActionKind string
)

const (
	KindWarn    ActionKind = "warn"
	KindUnwarn  ActionKind = "unwarn"
	KindMute    ActionKind = "mute"
	KindUnmute  ActionKind = "unmute"
	KindKick    ActionKind = "kick"
	KindBan     ActionKind = "ban"
	KindUnban   ActionKind = "unban"
	KindPromote ActionKind = "promote"
	KindDemote  ActionKind = "demote"
)

func (k ActionKind) Known() bool {
	switch k {
	case KindWarn, KindUnwarn, KindMute, KindUnmute, KindKick, KindBan, KindUnban, KindPromote, KindDemote:
		return true
	}
	return false
}

// Timeable reports whether the kind may carry a duration and therefore a
// pending sanction.
func (k ActionKind) Timeable() bool {
	return k == KindMute || k == KindBan
}

// Reversal returns the kind that undoes a timeable kind, or an empty kind.
func (k ActionKind) Reversal() ActionKind {
	switch k {
	case KindMute:
		return KindUnmute
	case KindBan:
		return KindUnban
	}
	return ""
}

// Undoes is the inverse of Reversal: the timeable kind an un-action lifts.
func (k ActionKind) Undoes() ActionKind {
	switch k {
	case KindUnmute:
		return KindMute
	case KindUnban:
		return KindBan
	}
	return ""
}

// HasPlatformEffect reports whether applying the kind changes the member's
// state on the platform. Warnings live only in the ledger.
func (k ActionKind) HasPlatformEffect() bool {
	return k != KindWarn && k != KindUnwarn
}
