package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wardenbot/warden/internal/db"
	"github.com/wardenbot/warden/internal/observability"
	"github.com/wardenbot/warden/internal/platform"
)

const unspecifiedReason = "unspecified"

var (
	ErrUnknownKind          = errors.New("unknown action kind")
	ErrInvalidTarget        = errors.New("invalid target")
	ErrPlatformActionFailed = errors.New("platform action failed")
	ErrStorageUnavailable   = errors.New("storage unavailable")
)

type ApplyStatus string

const (
	// StatusApplied means every step of the action completed.
	StatusApplied ApplyStatus = "applied"
	// StatusPartial means the platform-side effect is in place but a
	// bookkeeping step failed afterwards. The member IS sanctioned on the
	// platform; FailedStep names what an operator has to replay.
	StatusPartial ApplyStatus = "partial"
)

type (
	ApplyRequest struct {
		Kind        db.ActionKind
		SubjectID   int64
		CommunityID int64
		ActorID     int64
		Reason      string
		// Duration is the raw sanction duration string ("30m", "7d"),
		// empty for untimed actions.
		Duration string
		// Amount is how many warnings an unwarn removes, default 1.
		Amount int64
	}

	ApplyResult struct {
		Status     ApplyStatus
		Record     *db.ActionRecord
		WarnTotal  int64
		Removed    int64
		Escalated  bool
		ExpiresAt  time.Time
		FailedStep string
	}
)

type ledgerStore interface {
	AppendAction(ctx context.Context, record *db.ActionRecord) (*db.ActionRecord, error)
	ListActions(ctx context.Context, subjectID, communityID int64, limit int) ([]*db.ActionRecord, error)
	IncrementWarns(ctx context.Context, subjectID, communityID int64) (int64, error)
	ReduceWarns(ctx context.Context, subjectID, communityID int64, by int64) (int64, int64, error)
	GetWarnTotal(ctx context.Context, subjectID, communityID int64) (int64, error)
}

type sanctionTimers interface {
	Schedule(ctx context.Context, sanction *db.PendingSanction) error
	Cancel(ctx context.Context, subjectID, communityID int64, kind db.ActionKind) error
}

// Engine validates a requested moderation action, delegates the
// member-visible effect to the platform collaborator, records the action in
// the append-only ledger and maintains the warning counter and pending
// sanction timers around it.
type Engine struct {
	store     ledgerStore
	platform  platform.Actions
	scheduler sanctionTimers
	policy    EscalationPolicy
	botUserID int64
	now       func() time.Time
}

func NewEngine(store ledgerStore, actions platform.Actions, scheduler sanctionTimers, policy EscalationPolicy, botUserID int64) *Engine {
	return &Engine{
		store:     store,
		platform:  actions,
		scheduler: scheduler,
		policy:    policy,
		botUserID: botUserID,
		now:       time.Now,
	}
}

// Apply runs the whole action pipeline. Validation failures and platform
// failures return typed errors and leave no record behind; bookkeeping
// failures after a successful platform effect degrade to StatusPartial
// instead of pretending the action did not happen.
func (e *Engine) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	if !req.Kind.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}
	if req.SubjectID == req.ActorID {
		return nil, fmt.Errorf("%w: self-sanction", ErrInvalidTarget)
	}
	if e.botUserID != 0 && req.SubjectID == e.botUserID {
		return nil, fmt.Errorf("%w: bot-sanction", ErrInvalidTarget)
	}

	var duration time.Duration
	if req.Duration != "" {
		var err error
		if duration, err = ParseSanctionDuration(req.Duration); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDuration, req.Duration)
		}
	}
	if req.Reason == "" {
		req.Reason = unspecifiedReason
	}

	done := observability.StartApply(string(req.Kind))
	defer done()

	allowed, err := e.platform.CanModerate(ctx, req.CommunityID, req.ActorID, req.SubjectID)
	if err != nil {
		return nil, e.platformFailed(req, err)
	}
	if !allowed {
		return nil, e.platformFailed(req, platform.ErrInsufficientPermissions)
	}

	if err := e.effect(ctx, req, duration); err != nil {
		return nil, e.platformFailed(req, err)
	}

	switch req.Kind {
	case db.KindUnwarn:
		return e.finishUnwarn(ctx, req)
	case db.KindUnmute, db.KindUnban:
		// Cancel before recording, so a still-armed timer cannot fire
		// late and re-reverse a state the moderator just changed.
		if err := e.scheduler.Cancel(ctx, req.SubjectID, req.CommunityID, req.Kind.Undoes()); err != nil {
			e.getLogEntry(req).WithError(err).Error("cant cancel pending sanction")
		}
	}

	record, err := e.store.AppendAction(ctx, &db.ActionRecord{
		SubjectID:    req.SubjectID,
		CommunityID:  req.CommunityID,
		Kind:         req.Kind,
		Reason:       req.Reason,
		ActorID:      req.ActorID,
		DurationSecs: int64(duration / time.Second),
	})
	if err != nil {
		if !req.Kind.HasPlatformEffect() {
			observability.RecordAction(string(req.Kind), "failed")
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return e.partial(req, nil, "record", err), nil
	}

	result := &ApplyResult{Status: StatusApplied, Record: record}

	if req.Kind == db.KindWarn {
		newTotal, err := e.store.IncrementWarns(ctx, req.SubjectID, req.CommunityID)
		if err != nil {
			return e.partial(req, record, "counter", err), nil
		}
		result.WarnTotal = newTotal
		if e.policy.Evaluate(newTotal-1, newTotal) == EscalationNotify {
			result.Escalated = true
			observability.RecordEscalation()
		}
	}

	if req.Kind.Timeable() && duration > 0 {
		expiresAt := e.now().Add(duration)
		err := e.scheduler.Schedule(ctx, &db.PendingSanction{
			SubjectID:      req.SubjectID,
			CommunityID:    req.CommunityID,
			Kind:           req.Kind,
			ExpiresAt:      expiresAt,
			SourceActionID: record.ID,
		})
		if err != nil {
			return e.partial(req, record, "schedule", err), nil
		}
		result.ExpiresAt = expiresAt
	}

	observability.RecordAction(string(req.Kind), string(StatusApplied))
	return result, nil
}

// finishUnwarn reduces the counter first so the written record carries the
// amount that was actually removed, not the amount requested.
func (e *Engine) finishUnwarn(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	by := req.Amount
	if by <= 0 {
		by = 1
	}
	newTotal, removed, err := e.store.ReduceWarns(ctx, req.SubjectID, req.CommunityID, by)
	if err != nil {
		observability.RecordAction(string(req.Kind), "failed")
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	record, err := e.store.AppendAction(ctx, &db.ActionRecord{
		SubjectID:   req.SubjectID,
		CommunityID: req.CommunityID,
		Kind:        db.KindUnwarn,
		Reason:      req.Reason,
		ActorID:     req.ActorID,
		Delta:       removed,
	})
	if err != nil {
		res := e.partial(req, nil, "record", err)
		res.WarnTotal = newTotal
		res.Removed = removed
		return res, nil
	}

	observability.RecordAction(string(req.Kind), string(StatusApplied))
	return &ApplyResult{
		Status:    StatusApplied,
		Record:    record,
		WarnTotal: newTotal,
		Removed:   removed,
	}, nil
}

// effect performs the member-visible platform call for the action. Warn and
// unwarn are ledger-only, the member sees nothing until the caller renders
// the result.
func (e *Engine) effect(ctx context.Context, req ApplyRequest, duration time.Duration) error {
	var until time.Time
	if duration > 0 {
		until = e.now().Add(duration)
	}
	switch req.Kind {
	case db.KindMute:
		return e.platform.Mute(ctx, req.CommunityID, req.SubjectID, until)
	case db.KindUnmute:
		return e.platform.Unmute(ctx, req.CommunityID, req.SubjectID)
	case db.KindBan:
		return e.platform.Ban(ctx, req.CommunityID, req.SubjectID, until)
	case db.KindUnban:
		return e.platform.Unban(ctx, req.CommunityID, req.SubjectID)
	case db.KindKick:
		return e.platform.Kick(ctx, req.CommunityID, req.SubjectID)
	case db.KindPromote:
		return e.platform.Promote(ctx, req.CommunityID, req.SubjectID)
	case db.KindDemote:
		return e.platform.Demote(ctx, req.CommunityID, req.SubjectID)
	}
	return nil
}

// History returns the newest-first ledger slice for a member.
func (e *Engine) History(ctx context.Context, subjectID, communityID int64, limit int) ([]*db.ActionRecord, error) {
	records, err := e.store.ListActions(ctx, subjectID, communityID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return records, nil
}

// WarnTotal returns the current cached warning count for a member.
func (e *Engine) WarnTotal(ctx context.Context, subjectID, communityID int64) (int64, error) {
	total, err := e.store.GetWarnTotal(ctx, subjectID, communityID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return total, nil
}

// ReverseExpired is the scheduler's expiry callback: it performs the
// platform-side reversal of a sanction and writes the reversal record on
// behalf of the system actor.
func (e *Engine) ReverseExpired(ctx context.Context, sanction *db.PendingSanction) error {
	reversal := sanction.Kind.Reversal()
	if reversal == "" {
		return fmt.Errorf("%w: %q", ErrUnknownKind, sanction.Kind)
	}

	var err error
	switch reversal {
	case db.KindUnmute:
		err = e.platform.Unmute(ctx, sanction.CommunityID, sanction.SubjectID)
	case db.KindUnban:
		err = e.platform.Unban(ctx, sanction.CommunityID, sanction.SubjectID)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPlatformActionFailed, err)
	}

	if _, err := e.store.AppendAction(ctx, &db.ActionRecord{
		SubjectID:   sanction.SubjectID,
		CommunityID: sanction.CommunityID,
		Kind:        reversal,
		Reason:      "sanction expired",
		ActorID:     e.botUserID,
	}); err != nil {
		// The member is already unrestricted, losing the record must not
		// trigger another reversal attempt.
		e.getLogEntry(ApplyRequest{Kind: reversal, SubjectID: sanction.SubjectID, CommunityID: sanction.CommunityID}).
			WithError(err).Error("cant record automatic reversal")
	}
	observability.RecordAction(string(reversal), string(StatusApplied))
	return nil
}

func (e *Engine) partial(req ApplyRequest, record *db.ActionRecord, step string, err error) *ApplyResult {
	e.getLogEntry(req).WithError(err).WithField("step", step).Error("action applied on platform but bookkeeping failed")
	observability.RecordAction(string(req.Kind), string(StatusPartial))
	return &ApplyResult{Status: StatusPartial, Record: record, FailedStep: step}
}

func (e *Engine) platformFailed(req ApplyRequest, err error) error {
	observability.RecordAction(string(req.Kind), "failed")
	return fmt.Errorf("%w: %w", ErrPlatformActionFailed, err)
}

func (e *Engine) getLogEntry(req ApplyRequest) *log.Entry {
	return log.WithFields(log.Fields{
		"context":      "moderation_engine",
		"kind":         req.Kind,
		"subject_id":   req.SubjectID,
		"community_id": req.CommunityID,
	})
}
