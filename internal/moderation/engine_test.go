package moderation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/wardenbot/warden/internal/db"
	"github.com/wardenbot/warden/internal/db/sqlite"
	"github.com/wardenbot/warden/internal/platform"
)

type auditPost struct {
	channelID int64
	text      string
}

type fakePlatform struct {
	denyModeration bool
	failEffects    error
	failSends      error
	calls          []string
	audits         []auditPost
	notified       []string
}

func (f *fakePlatform) record(call string) { f.calls = append(f.calls, call) }

func (f *fakePlatform) Mute(ctx context.Context, communityID, subjectID int64, until time.Time) error {
	f.record("mute")
	return f.failEffects
}

func (f *fakePlatform) Unmute(ctx context.Context, communityID, subjectID int64) error {
	f.record("unmute")
	return f.failEffects
}

func (f *fakePlatform) Ban(ctx context.Context, communityID, subjectID int64, until time.Time) error {
	f.record("ban")
	return f.failEffects
}

func (f *fakePlatform) Unban(ctx context.Context, communityID, subjectID int64) error {
	f.record("unban")
	return f.failEffects
}

func (f *fakePlatform) Kick(ctx context.Context, communityID, subjectID int64) error {
	f.record("kick")
	return f.failEffects
}

func (f *fakePlatform) Promote(ctx context.Context, communityID, subjectID int64) error {
	f.record("promote")
	return f.failEffects
}

func (f *fakePlatform) Demote(ctx context.Context, communityID, subjectID int64) error {
	f.record("demote")
	return f.failEffects
}

func (f *fakePlatform) CanModerate(ctx context.Context, communityID, actorID, subjectID int64) (bool, error) {
	return !f.denyModeration, nil
}

func (f *fakePlatform) NotifyMember(ctx context.Context, subjectID int64, text string) error {
	f.record("notify")
	f.notified = append(f.notified, text)
	return f.failSends
}

func (f *fakePlatform) PostAudit(ctx context.Context, channelID int64, text string) error {
	f.record("audit")
	f.audits = append(f.audits, auditPost{channelID: channelID, text: text})
	return f.failSends
}

type fakeTimers struct {
	scheduled []*db.PendingSanction
	cancelled []db.ActionKind
	calls     []string
}

func (f *fakeTimers) Schedule(ctx context.Context, sanction *db.PendingSanction) error {
	f.scheduled = append(f.scheduled, sanction)
	f.calls = append(f.calls, "schedule")
	return nil
}

func (f *fakeTimers) Cancel(ctx context.Context, subjectID, communityID int64, kind db.ActionKind) error {
	f.cancelled = append(f.cancelled, kind)
	f.calls = append(f.calls, "cancel")
	return nil
}

type failingAppendStore struct {
	db.Client
}

func (s *failingAppendStore) AppendAction(ctx context.Context, record *db.ActionRecord) (*db.ActionRecord, error) {
	return nil, fmt.Errorf("disk on fire")
}

func newTestStore(t *testing.T) db.Client {
	t.Helper()
	store, err := sqlite.NewSQLiteClient(context.Background(), t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestEngine(t *testing.T) (*Engine, db.Client, *fakePlatform, *fakeTimers) {
	t.Helper()
	store := newTestStore(t)
	p := &fakePlatform{}
	timers := &fakeTimers{}
	engine := NewEngine(store, p, timers, NewEscalationPolicy(3), 1000)
	return engine, store, p, timers
}

func TestWarnEscalatesOnThirdOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _, _, _ := newTestEngine(t)

	req := ApplyRequest{Kind: db.KindWarn, SubjectID: 42, CommunityID: 1, ActorID: 7, Reason: "spam"}
	for i := 1; i <= 2; i++ {
		res, err := engine.Apply(ctx, req)
		if err != nil {
			t.Fatalf("warn %d: %v", i, err)
		}
		if res.Escalated {
			t.Fatalf("warn %d escalated early", i)
		}
		if res.WarnTotal != int64(i) {
			t.Fatalf("warn %d: got total %d", i, res.WarnTotal)
		}
	}

	third, err := engine.Apply(ctx, req)
	if err != nil {
		t.Fatalf("third warn: %v", err)
	}
	if !third.Escalated {
		t.Fatalf("third warn did not escalate")
	}
	if third.WarnTotal != 3 {
		t.Fatalf("third warn: got total %d, want 3", third.WarnTotal)
	}

	fourth, err := engine.Apply(ctx, req)
	if err != nil {
		t.Fatalf("fourth warn: %v", err)
	}
	if fourth.Escalated {
		t.Fatalf("fourth warn re-escalated")
	}
	if fourth.WarnTotal != 4 {
		t.Fatalf("fourth warn: got total %d, want 4", fourth.WarnTotal)
	}
}

func TestWarnDefaultsReason(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, store, _, _ := newTestEngine(t)

	res, err := engine.Apply(ctx, ApplyRequest{Kind: db.KindWarn, SubjectID: 42, CommunityID: 1, ActorID: 7})
	if err != nil {
		t.Fatalf("warn: %v", err)
	}
	if res.Record.Reason != "unspecified" {
		t.Fatalf("got reason %q, want unspecified", res.Record.Reason)
	}

	records, err := store.ListActions(ctx, 42, 1, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Reason != "unspecified" {
		t.Fatalf("stored record has wrong reason: %#v", records)
	}
}

func TestApplyRejectsInvalidTargets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, store, _, _ := newTestEngine(t)

	if _, err := engine.Apply(ctx, ApplyRequest{Kind: db.KindWarn, SubjectID: 7, CommunityID: 1, ActorID: 7}); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("self-sanction: got %v, want ErrInvalidTarget", err)
	}
	if _, err := engine.Apply(ctx, ApplyRequest{Kind: db.KindWarn, SubjectID: 1000, CommunityID: 1, ActorID: 7}); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("bot-sanction: got %v, want ErrInvalidTarget", err)
	}
	if _, err := engine.Apply(ctx, ApplyRequest{Kind: "obliterate", SubjectID: 42, CommunityID: 1, ActorID: 7}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("unknown kind: got %v, want ErrUnknownKind", err)
	}

	records, err := store.ListActions(ctx, 7, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("validation failure left %d records", len(records))
	}
}

func TestApplyRejectsMalformedDurations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _, _, _ := newTestEngine(t)

	for _, raw := range []string{"1h30m", "xx", "0m", "-5m"} {
		_, err := engine.Apply(ctx, ApplyRequest{Kind: db.KindMute, SubjectID: 42, CommunityID: 1, ActorID: 7, Duration: raw})
		if !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("duration %q: got %v, want ErrInvalidDuration", raw, err)
		}
	}
}

func TestPlatformFailureLeavesNoRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, store, p, _ := newTestEngine(t)
	p.failEffects = platform.ErrInsufficientPermissions

	_, err := engine.Apply(ctx, ApplyRequest{Kind: db.KindMute, SubjectID: 42, CommunityID: 1, ActorID: 7, Duration: "30m"})
	if !errors.Is(err, ErrPlatformActionFailed) {
		t.Fatalf("got %v, want ErrPlatformActionFailed", err)
	}
	if !errors.Is(err, platform.ErrInsufficientPermissions) {
		t.Fatalf("cause lost: %v", err)
	}

	records, listErr := store.ListActions(ctx, 42, 1, 10)
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if len(records) != 0 {
		t.Fatalf("platform failure left %d records", len(records))
	}
}

func TestCapabilityDenialFailsBeforeEffect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _, p, _ := newTestEngine(t)
	p.denyModeration = true

	_, err := engine.Apply(ctx, ApplyRequest{Kind: db.KindKick, SubjectID: 42, CommunityID: 1, ActorID: 7})
	if !errors.Is(err, ErrPlatformActionFailed) {
		t.Fatalf("got %v, want ErrPlatformActionFailed", err)
	}
	if len(p.calls) != 0 {
		t.Fatalf("platform effect ran despite denial: %v", p.calls)
	}
}

func TestStorageFailureAfterEffectIsPartial(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	p := &fakePlatform{}
	timers := &fakeTimers{}
	engine := NewEngine(&failingAppendStore{Client: store}, p, timers, NewEscalationPolicy(3), 1000)

	res, err := engine.Apply(ctx, ApplyRequest{Kind: db.KindMute, SubjectID: 42, CommunityID: 1, ActorID: 7, Duration: "30m"})
	if err != nil {
		t.Fatalf("partial success must not be an error: %v", err)
	}
	if res.Status != StatusPartial {
		t.Fatalf("got status %s, want partial", res.Status)
	}
	if res.FailedStep != "record" {
		t.Fatalf("got failed step %q, want record", res.FailedStep)
	}
	if len(timers.scheduled) != 0 {
		t.Fatalf("sanction scheduled despite lost record")
	}
}

func TestWarnStorageFailureIsFullFailure(t *testing.T) {
	t.Parallel()

	// A warn has no platform-side effect, so nothing is lost by failing
	// outright instead of reporting partial success.
	ctx := context.Background()
	store := newTestStore(t)
	engine := NewEngine(&failingAppendStore{Client: store}, &fakePlatform{}, &fakeTimers{}, NewEscalationPolicy(3), 1000)

	_, err := engine.Apply(ctx, ApplyRequest{Kind: db.KindWarn, SubjectID: 42, CommunityID: 1, ActorID: 7})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("got %v, want ErrStorageUnavailable", err)
	}
}

func TestUnwarnReportsActualRemoved(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, store, _, _ := newTestEngine(t)

	warn := ApplyRequest{Kind: db.KindWarn, SubjectID: 42, CommunityID: 1, ActorID: 7}
	for i := 0; i < 2; i++ {
		if _, err := engine.Apply(ctx, warn); err != nil {
			t.Fatalf("warn: %v", err)
		}
	}

	res, err := engine.Apply(ctx, ApplyRequest{Kind: db.KindUnwarn, SubjectID: 42, CommunityID: 1, ActorID: 7, Amount: 5})
	if err != nil {
		t.Fatalf("unwarn: %v", err)
	}
	if res.WarnTotal != 0 {
		t.Fatalf("got total %d, want 0", res.WarnTotal)
	}
	if res.Removed != 2 {
		t.Fatalf("got removed %d, want 2", res.Removed)
	}
	if res.Record.Delta != 2 {
		t.Fatalf("record delta %d, want 2", res.Record.Delta)
	}

	rebuilt, err := store.RebuildWarns(ctx, 42, 1)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rebuilt != 0 {
		t.Fatalf("rebuilt total %d, want 0", rebuilt)
	}
}

func TestTimedMuteSchedulesSanction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _, p, timers := newTestEngine(t)

	before := time.Now()
	res, err := engine.Apply(ctx, ApplyRequest{Kind: db.KindMute, SubjectID: 42, CommunityID: 1, ActorID: 7, Reason: "flood", Duration: "30m"})
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	if len(p.calls) != 1 || p.calls[0] != "mute" {
		t.Fatalf("unexpected platform calls: %v", p.calls)
	}
	if len(timers.scheduled) != 1 {
		t.Fatalf("got %d scheduled sanctions, want 1", len(timers.scheduled))
	}
	scheduled := timers.scheduled[0]
	if scheduled.Kind != db.KindMute || scheduled.SourceActionID != res.Record.ID {
		t.Fatalf("unexpected scheduled sanction: %#v", scheduled)
	}
	wantExpiry := before.Add(30 * time.Minute)
	if scheduled.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || scheduled.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Fatalf("expiry %v not near %v", scheduled.ExpiresAt, wantExpiry)
	}
	if res.ExpiresAt.IsZero() {
		t.Fatalf("result missing expiry")
	}
}

func TestPermanentMuteSchedulesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _, _, timers := newTestEngine(t)

	if _, err := engine.Apply(ctx, ApplyRequest{Kind: db.KindMute, SubjectID: 42, CommunityID: 1, ActorID: 7}); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if len(timers.scheduled) != 0 {
		t.Fatalf("permanent mute scheduled a reversal")
	}
}

func TestUnmuteCancelsBeforeRecording(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, store, _, timers := newTestEngine(t)

	if _, err := engine.Apply(ctx, ApplyRequest{Kind: db.KindUnmute, SubjectID: 42, CommunityID: 1, ActorID: 7}); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	if len(timers.cancelled) != 1 || timers.cancelled[0] != db.KindMute {
		t.Fatalf("unexpected cancellations: %v", timers.cancelled)
	}

	records, err := store.ListActions(ctx, 42, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Kind != db.KindUnmute {
		t.Fatalf("unexpected records: %#v", records)
	}
}

func TestHistoryAndWarnTotal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _, _, _ := newTestEngine(t)

	warn := ApplyRequest{Kind: db.KindWarn, SubjectID: 42, CommunityID: 1, ActorID: 7, Reason: "spam"}
	for i := 0; i < 3; i++ {
		if _, err := engine.Apply(ctx, warn); err != nil {
			t.Fatalf("warn: %v", err)
		}
	}

	history, err := engine.History(ctx, 42, 1, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d history records, want 2", len(history))
	}

	total, err := engine.WarnTotal(ctx, 42, 1)
	if err != nil {
		t.Fatalf("warn total: %v", err)
	}
	if total != 3 {
		t.Fatalf("got total %d, want 3", total)
	}
}

func TestReverseExpiredRecordsReversal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, store, p, _ := newTestEngine(t)

	err := engine.ReverseExpired(ctx, &db.PendingSanction{
		SubjectID: 42, CommunityID: 1, Kind: db.KindMute,
		ExpiresAt: time.Now(), SourceActionID: 1,
	})
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if len(p.calls) != 1 || p.calls[0] != "unmute" {
		t.Fatalf("unexpected platform calls: %v", p.calls)
	}

	records, err := store.ListActions(ctx, 42, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Kind != db.KindUnmute {
		t.Fatalf("unexpected records: %#v", records)
	}
	if records[0].ActorID != 1000 {
		t.Fatalf("reversal actor %d, want the system bot id", records[0].ActorID)
	}
}
