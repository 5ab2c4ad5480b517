package moderation

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/wardenbot/warden/internal/db"
	"github.com/wardenbot/warden/internal/platform"
)

// Reporter routes applied actions to the audit channel and threshold
// crossings to the escalation channel. The engine itself only flags an
// escalation in its result; posting is the caller's concern, so a failed
// send can never undo or degrade an already-applied action.
type Reporter struct {
	platform            platform.Actions
	auditChannelID      int64
	escalationChannelID int64
}

// NewReporter builds a reporter. A zero channel id disables that route.
func NewReporter(actions platform.Actions, auditChannelID, escalationChannelID int64) *Reporter {
	return &Reporter{
		platform:            actions,
		auditChannelID:      auditChannelID,
		escalationChannelID: escalationChannelID,
	}
}

// Report posts the outcome of an applied action. Send failures are logged
// and swallowed, the action already happened.
func (r *Reporter) Report(ctx context.Context, req ApplyRequest, res *ApplyResult) {
	if res == nil {
		return
	}

	if r.auditChannelID != 0 {
		text := fmt.Sprintf("%s subject=%d community=%d actor=%d reason=%q",
			req.Kind, req.SubjectID, req.CommunityID, req.ActorID, req.Reason)
		if res.Status == StatusPartial {
			text += fmt.Sprintf(" PARTIAL failed_step=%s", res.FailedStep)
		}
		if !res.ExpiresAt.IsZero() {
			text += fmt.Sprintf(" until=%s", res.ExpiresAt.UTC().Format("2006-01-02 15:04:05"))
		}
		if err := r.platform.PostAudit(ctx, r.auditChannelID, text); err != nil {
			r.getLogEntry(req.CommunityID).WithError(err).Error("cant post audit record")
		}
	}

	if req.Kind == db.KindWarn {
		// Members with closed DMs are common, keep the noise down.
		text := fmt.Sprintf("you have been warned (%d active): %s", res.WarnTotal, req.Reason)
		if err := r.platform.NotifyMember(ctx, req.SubjectID, text); err != nil {
			r.getLogEntry(req.CommunityID).WithError(err).Debug("cant notify warned member")
		}
	}

	if res.Escalated && r.escalationChannelID != 0 {
		text := fmt.Sprintf("subject=%d community=%d reached %d warnings, last reason=%q",
			req.SubjectID, req.CommunityID, res.WarnTotal, req.Reason)
		if err := r.platform.PostAudit(ctx, r.escalationChannelID, text); err != nil {
			r.getLogEntry(req.CommunityID).WithError(err).Error("cant post escalation")
		}
	}
}

// ReportReversal posts an automatic expiry reversal to the audit channel.
func (r *Reporter) ReportReversal(ctx context.Context, sanction *db.PendingSanction) {
	if r.auditChannelID == 0 {
		return
	}
	text := fmt.Sprintf("%s subject=%d community=%d: sanction expired",
		sanction.Kind.Reversal(), sanction.SubjectID, sanction.CommunityID)
	if err := r.platform.PostAudit(ctx, r.auditChannelID, text); err != nil {
		r.getLogEntry(sanction.CommunityID).WithError(err).Error("cant post reversal audit record")
	}
}

func (r *Reporter) getLogEntry(communityID int64) *log.Entry {
	return log.WithFields(log.Fields{
		"context":      "moderation_reporter",
		"community_id": communityID,
	})
}
