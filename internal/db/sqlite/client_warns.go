package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/iamwavecut/tool"
	"github.com/pkg/errors"

	"github.com/wardenbot/warden/internal/db"
)

func (c *sqliteClient) IncrementWarns(ctx context.Context, subjectID, communityID int64) (int64, error) {
	defer c.keys.lock(pairKey(subjectID, communityID))()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO warn_counters (subject_id, community_id, total, last_warn_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(subject_id, community_id) DO UPDATE SET total = total + 1, last_warn_at = excluded.last_warn_at`,
		subjectID, communityID, time.Now().UTC(),
	)
	if err != nil {
		return 0, errors.WithMessage(err, "cant increment warns")
	}
	return c.warnTotal(ctx, subjectID, communityID)
}

func (c *sqliteClient) ReduceWarns(ctx context.Context, subjectID, communityID int64, by int64) (int64, int64, error) {
	if by < 0 {
		by = 0
	}
	defer c.keys.lock(pairKey(subjectID, communityID))()

	current, err := c.warnTotal(ctx, subjectID, communityID)
	if err != nil {
		return 0, 0, err
	}
	removed := by
	if removed > current {
		removed = current
	}
	newTotal := current - removed
	if removed > 0 {
		if err := c.setWarnTotal(ctx, subjectID, communityID, newTotal); err != nil {
			return 0, 0, err
		}
	}
	return newTotal, removed, nil
}

func (c *sqliteClient) GetWarnTotal(ctx context.Context, subjectID, communityID int64) (int64, error) {
	return c.warnTotal(ctx, subjectID, communityID)
}

func (c *sqliteClient) ResetWarns(ctx context.Context, subjectID, communityID int64) error {
	defer c.keys.lock(pairKey(subjectID, communityID))()
	return c.setWarnTotal(ctx, subjectID, communityID, 0)
}

// RebuildWarns recomputes the cached counter from the append-only ledger:
// the number of warn records minus the recorded delta of unwarn records,
// clamped at zero. The cache is overwritten with the recomputed value.
func (c *sqliteClient) RebuildWarns(ctx context.Context, subjectID, communityID int64) (int64, error) {
	defer c.keys.lock(pairKey(subjectID, communityID))()

	var warned int64
	if err := c.db.GetContext(ctx, &warned, `
		SELECT COUNT(*) FROM actions
		WHERE subject_id = ? AND community_id = ? AND kind = ?`,
		subjectID, communityID, db.KindWarn,
	); err != nil {
		return 0, errors.WithMessage(err, "cant count warn records")
	}

	var reduced int64
	if err := c.db.GetContext(ctx, &reduced, `
		SELECT COALESCE(SUM(delta), 0) FROM actions
		WHERE subject_id = ? AND community_id = ? AND kind = ?`,
		subjectID, communityID, db.KindUnwarn,
	); err != nil {
		return 0, errors.WithMessage(err, "cant sum unwarn records")
	}

	total := warned - reduced
	if total < 0 {
		total = 0
	}
	if err := c.setWarnTotal(ctx, subjectID, communityID, total); err != nil {
		return 0, err
	}
	return total, nil
}

func (c *sqliteClient) warnTotal(ctx context.Context, subjectID, communityID int64) (int64, error) {
	var total int64
	err := c.db.GetContext(ctx, &total, `
		SELECT total FROM warn_counters WHERE subject_id = ? AND community_id = ?`,
		subjectID, communityID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.WithMessage(err, "cant get warn total")
	}
	return total, nil
}

func (c *sqliteClient) setWarnTotal(ctx context.Context, subjectID, communityID, total int64) error {
	return tool.Err(c.db.ExecContext(ctx, `
		INSERT INTO warn_counters (subject_id, community_id, total, last_warn_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(subject_id, community_id) DO UPDATE SET total = excluded.total`,
		subjectID, communityID, total, time.Now().UTC(),
	))
}
