package db

import (
	"context"
	"time"
)

// Client is the durable state behind the moderation engine: the append-only
// action ledger, the cached warning counters, and the pending timed
// sanctions. Mutations to the same (subject, community) key are serialized
// by the implementation; different keys proceed in parallel.
type Client interface {
	Close() error

	AppendAction(ctx context.Context, record *ActionRecord) (*ActionRecord, error)
	ListActions(ctx context.Context, subjectID, communityID int64, limit int) ([]*ActionRecord, error)
	CountActionsByKind(ctx context.Context, subjectID, communityID int64, kind ActionKind) (int64, error)

	IncrementWarns(ctx context.Context, subjectID, communityID int64) (int64, error)
	ReduceWarns(ctx context.Context, subjectID, communityID int64, by int64) (newTotal int64, removed int64, err error)
	GetWarnTotal(ctx context.Context, subjectID, communityID int64) (int64, error)
	ResetWarns(ctx context.Context, subjectID, communityID int64) error
	RebuildWarns(ctx context.Context, subjectID, communityID int64) (int64, error)

	UpsertPendingSanction(ctx context.Context, sanction *PendingSanction) error
	// ClaimPendingSanction removes the row only if it still references
	// sourceActionID, reporting whether the caller won the removal. This is
	// what makes timer fire, explicit cancel and supersession race-safe.
	ClaimPendingSanction(ctx context.Context, subjectID, communityID int64, kind ActionKind, sourceActionID int64) (bool, error)
	DeletePendingSanction(ctx context.Context, subjectID, communityID int64, kind ActionKind) (bool, error)
	GetPendingSanction(ctx context.Context, subjectID, communityID int64, kind ActionKind) (*PendingSanction, error)
	ListPendingSanctions(ctx context.Context) ([]*PendingSanction, error)
	ListOverduePendingSanctions(ctx context.Context, now time.Time) ([]*PendingSanction, error)
}
