// Package platform defines the chat-platform collaborator consumed by the
// moderation engine. The engine never talks to a concrete platform client;
// it relies on this interface for member-visible effects and on the typed
// sentinels below to classify failures.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrTargetNotFound          = errors.New("target not found")
)

// Actions is the capability surface of the moderated platform. A zero
// `until` on Mute/Ban means the sanction is indefinite.
type Actions interface {
	Mute(ctx context.Context, communityID, subjectID int64, until time.Time) error
	Unmute(ctx context.Context, communityID, subjectID int64) error
	Ban(ctx context.Context, communityID, subjectID int64, until time.Time) error
	Unban(ctx context.Context, communityID, subjectID int64) error
	Kick(ctx context.Context, communityID, subjectID int64) error
	Promote(ctx context.Context, communityID, subjectID int64) error
	Demote(ctx context.Context, communityID, subjectID int64) error

	// CanModerate reports whether the actor outranks the subject in the
	// community. The engine consumes the boolean, it never re-implements
	// the platform's role model.
	CanModerate(ctx context.Context, communityID, actorID, subjectID int64) (bool, error)

	NotifyMember(ctx context.Context, subjectID int64, text string) error
	PostAudit(ctx context.Context, channelID int64, text string) error
}
