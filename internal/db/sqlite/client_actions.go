package sqlite

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/wardenbot/warden/internal/db"
)

const defaultHistoryLimit = 10

func (c *sqliteClient) AppendAction(ctx context.Context, record *db.ActionRecord) (*db.ActionRecord, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO actions (subject_id, community_id, kind, reason, actor_id, duration_secs, delta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.SubjectID,
		record.CommunityID,
		record.Kind,
		record.Reason,
		record.ActorID,
		record.DurationSecs,
		record.Delta,
		record.CreatedAt,
	)
	if err != nil {
		return nil, errors.WithMessage(err, "cant append action")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.WithMessage(err, "cant get action id")
	}
	stored := *record
	stored.ID = id
	return &stored, nil
}

func (c *sqliteClient) ListActions(ctx context.Context, subjectID, communityID int64, limit int) ([]*db.ActionRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	records := make([]*db.ActionRecord, 0, limit)
	err := c.db.SelectContext(ctx, &records, `
		SELECT id, subject_id, community_id, kind, reason, actor_id, duration_secs, delta, created_at
		FROM actions
		WHERE subject_id = ? AND community_id = ?
		ORDER BY id DESC
		LIMIT ?`,
		subjectID, communityID, limit,
	)
	if err != nil {
		return nil, errors.WithMessage(err, "cant list actions")
	}
	return records, nil
}

func (c *sqliteClient) CountActionsByKind(ctx context.Context, subjectID, communityID int64, kind db.ActionKind) (int64, error) {
	var count int64
	err := c.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM actions
		WHERE subject_id = ? AND community_id = ? AND kind = ?`,
		subjectID, communityID, kind,
	)
	if err != nil {
		return 0, errors.WithMessage(err, "cant count actions")
	}
	return count, nil
}
