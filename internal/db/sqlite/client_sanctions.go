package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/iamwavecut/tool"
	"github.com/pkg/errors"

	"github.com/wardenbot/warden/internal/db"
)

func (c *sqliteClient) UpsertPendingSanction(ctx context.Context, sanction *db.PendingSanction) error {
	defer c.keys.lock(sanctionKey(sanction.SubjectID, sanction.CommunityID, sanction.Kind))()

	return tool.Err(c.db.NamedExecContext(ctx, `
		INSERT INTO pending_sanctions (subject_id, community_id, kind, expires_at, source_action_id)
		VALUES (:subject_id, :community_id, :kind, :expires_at, :source_action_id)
		ON CONFLICT(subject_id, community_id, kind) DO UPDATE SET
			expires_at = excluded.expires_at,
			source_action_id = excluded.source_action_id`,
		sanction,
	))
}

func (c *sqliteClient) ClaimPendingSanction(ctx context.Context, subjectID, communityID int64, kind db.ActionKind, sourceActionID int64) (bool, error) {
	defer c.keys.lock(sanctionKey(subjectID, communityID, kind))()

	res, err := c.db.ExecContext(ctx, `
		DELETE FROM pending_sanctions
		WHERE subject_id = ? AND community_id = ? AND kind = ? AND source_action_id = ?`,
		subjectID, communityID, kind, sourceActionID,
	)
	if err != nil {
		return false, errors.WithMessage(err, "cant claim pending sanction")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.WithMessage(err, "cant read claim result")
	}
	return affected > 0, nil
}

func (c *sqliteClient) DeletePendingSanction(ctx context.Context, subjectID, communityID int64, kind db.ActionKind) (bool, error) {
	defer c.keys.lock(sanctionKey(subjectID, communityID, kind))()

	res, err := c.db.ExecContext(ctx, `
		DELETE FROM pending_sanctions
		WHERE subject_id = ? AND community_id = ? AND kind = ?`,
		subjectID, communityID, kind,
	)
	if err != nil {
		return false, errors.WithMessage(err, "cant delete pending sanction")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.WithMessage(err, "cant read delete result")
	}
	return affected > 0, nil
}

func (c *sqliteClient) GetPendingSanction(ctx context.Context, subjectID, communityID int64, kind db.ActionKind) (*db.PendingSanction, error) {
	var sanction db.PendingSanction
	err := c.db.GetContext(ctx, &sanction, `
		SELECT subject_id, community_id, kind, expires_at, source_action_id
		FROM pending_sanctions
		WHERE subject_id = ? AND community_id = ? AND kind = ?`,
		subjectID, communityID, kind,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.WithMessage(err, "cant get pending sanction")
	}
	return &sanction, nil
}

func (c *sqliteClient) ListPendingSanctions(ctx context.Context) ([]*db.PendingSanction, error) {
	var sanctions []*db.PendingSanction
	err := c.db.SelectContext(ctx, &sanctions, `
		SELECT subject_id, community_id, kind, expires_at, source_action_id
		FROM pending_sanctions
		ORDER BY expires_at ASC`,
	)
	if err != nil {
		return nil, errors.WithMessage(err, "cant list pending sanctions")
	}
	return sanctions, nil
}

func (c *sqliteClient) ListOverduePendingSanctions(ctx context.Context, now time.Time) ([]*db.PendingSanction, error) {
	var sanctions []*db.PendingSanction
	err := c.db.SelectContext(ctx, &sanctions, `
		SELECT subject_id, community_id, kind, expires_at, source_action_id
		FROM pending_sanctions
		WHERE expires_at <= ?
		ORDER BY expires_at ASC`,
		now,
	)
	if err != nil {
		return nil, errors.WithMessage(err, "cant list overdue sanctions")
	}
	return sanctions, nil
}
