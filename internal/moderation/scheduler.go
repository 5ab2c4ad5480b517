package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wardenbot/warden/internal/db"
	"github.com/wardenbot/warden/internal/observability"
)

const (
	defaultReversalMaxAttempts = 5
	defaultReversalBackoff     = 2 * time.Second

	startupFireConcurrency = 4
)

// ExpireFunc performs the platform-side reversal of an expired sanction and
// records it. It runs on a background goroutine, never on an Apply path.
type ExpireFunc func(ctx context.Context, sanction *db.PendingSanction) error

type sanctionStore interface {
	UpsertPendingSanction(ctx context.Context, sanction *db.PendingSanction) error
	ClaimPendingSanction(ctx context.Context, subjectID, communityID int64, kind db.ActionKind, sourceActionID int64) (bool, error)
	DeletePendingSanction(ctx context.Context, subjectID, communityID int64, kind db.ActionKind) (bool, error)
	ListPendingSanctions(ctx context.Context) ([]*db.PendingSanction, error)
}

// SanctionScheduler guarantees that every active timed sanction is reversed
// exactly once, at or shortly after its expiry, across process restarts.
// Rows are persisted before any in-memory timer is armed; Start reloads the
// table, fires everything already overdue before returning, and re-arms the
// rest.
type SanctionScheduler struct {
	store       sanctionStore
	onExpire    ExpireFunc
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	runMutex  sync.Mutex
	started   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

func NewSanctionScheduler(store sanctionStore, maxAttempts int, backoff time.Duration) *SanctionScheduler {
	if maxAttempts <= 0 {
		maxAttempts = defaultReversalMaxAttempts
	}
	if backoff <= 0 {
		backoff = defaultReversalBackoff
	}
	return &SanctionScheduler{
		store:       store,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		now:         time.Now,
		timers:      map[string]*time.Timer{},
	}
}

// OnExpire registers the reversal callback. It must be set before Start.
func (s *SanctionScheduler) OnExpire(fn ExpireFunc) {
	s.onExpire = fn
}

// Start loads all persisted pending sanctions, fires the overdue ones and
// arms timers for the rest. It does not return until every overdue reversal
// has been attempted, so a caller that waits for Start cannot race a missed
// expiry with a superseding Apply.
func (s *SanctionScheduler) Start(ctx context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.started {
		return nil
	}
	if s.onExpire == nil {
		return errors.New("no expiry callback registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.runCancel = cancel

	pending, err := s.store.ListPendingSanctions(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("load pending sanctions: %w", err)
	}

	now := s.now()
	overdue := make([]*db.PendingSanction, 0, len(pending))
	for _, sanction := range pending {
		if sanction.ExpiresAt.After(now) {
			s.arm(sanction)
			continue
		}
		overdue = append(overdue, sanction)
	}
	if len(overdue) > 0 {
		s.getLogEntry().WithField("count", len(overdue)).Info("firing sanctions that expired while down")
		g, gCtx := errgroup.WithContext(runCtx)
		g.SetLimit(startupFireConcurrency)
		for _, sanction := range overdue {
			g.Go(func() error {
				s.fire(gCtx, sanction)
				return nil
			})
		}
		_ = g.Wait()
	}

	s.started = true
	return nil
}

func (s *SanctionScheduler) Stop(ctx context.Context) error {
	s.runMutex.Lock()
	if !s.started {
		s.runMutex.Unlock()
		return nil
	}
	s.started = false
	cancel := s.runCancel
	s.runMutex.Unlock()

	s.timersMu.Lock()
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
	s.timersMu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Schedule persists the sanction and then arms its timer. An existing
// sanction for the same (subject, community, kind) is superseded: its row is
// overwritten and its timer replaced, so the old countdown can never fire.
func (s *SanctionScheduler) Schedule(ctx context.Context, sanction *db.PendingSanction) error {
	if !sanction.Kind.Timeable() {
		return fmt.Errorf("kind %q cannot carry a pending sanction", sanction.Kind)
	}
	if err := s.store.UpsertPendingSanction(ctx, sanction); err != nil {
		return fmt.Errorf("persist pending sanction: %w", err)
	}
	s.arm(sanction)
	return nil
}

// Cancel removes the pending sanction and suppresses its timer. Used when an
// explicit unmute/unban arrives before natural expiry.
func (s *SanctionScheduler) Cancel(ctx context.Context, subjectID, communityID int64, kind db.ActionKind) error {
	s.disarm(timerKey(subjectID, communityID, kind))
	if _, err := s.store.DeletePendingSanction(ctx, subjectID, communityID, kind); err != nil {
		return fmt.Errorf("delete pending sanction: %w", err)
	}
	return nil
}

func (s *SanctionScheduler) arm(sanction *db.PendingSanction) {
	key := timerKey(sanction.SubjectID, sanction.CommunityID, sanction.Kind)
	delay := sanction.ExpiresAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if old, ok := s.timers[key]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		// Remove the map entry only if it is still ours. A superseding
		// Schedule may already have replaced it, and the replacement's
		// countdown must survive this fire.
		s.timersMu.Lock()
		if s.timers[key] == timer {
			delete(s.timers, key)
		}
		s.timersMu.Unlock()

		if !s.beginWork() {
			return
		}
		defer s.workersWg.Done()
		s.fire(s.runContext(), sanction)
	})
	s.timers[key] = timer
}

// beginWork registers a timer fire with the worker group. It refuses once
// Stop has begun, so the Add can never race the shutdown Wait.
func (s *SanctionScheduler) beginWork() bool {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if !s.started || s.runCtx == nil || s.runCtx.Err() != nil {
		return false
	}
	s.workersWg.Add(1)
	return true
}

func (s *SanctionScheduler) disarm(key string) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
		delete(s.timers, key)
	}
}

// fire claims the persisted row and runs the reversal callback with bounded
// backoff. Claiming is conditional on the source action id, so a timer that
// lost a race against Cancel or a superseding Schedule finds nothing to do.
func (s *SanctionScheduler) fire(ctx context.Context, sanction *db.PendingSanction) {
	entry := s.getLogEntry().WithFields(log.Fields{
		"subject_id":   sanction.SubjectID,
		"community_id": sanction.CommunityID,
		"kind":         sanction.Kind,
	})

	claimed, err := s.store.ClaimPendingSanction(ctx, sanction.SubjectID, sanction.CommunityID, sanction.Kind, sanction.SourceActionID)
	if err != nil {
		entry.WithError(err).Error("cant claim pending sanction")
		return
	}
	if !claimed {
		entry.Debug("sanction already cancelled or superseded")
		return
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.onExpire(ctx, sanction)
		if err == nil {
			observability.RecordReversal(string(sanction.Kind))
			entry.Debug("sanction reversed")
			return
		}
		entry.WithError(err).WithField("attempt", attempt).Warn("sanction reversal failed")
		observability.RecordReversalRetry()
		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			// The row is already claimed, nothing will retry this after
			// restart. Same standing alert as retry exhaustion.
			observability.RecordReversalAbandoned()
			entry.Error("sanction reversal interrupted by shutdown after claim, manual reconciliation required")
			return
		case <-time.After(s.backoff << (attempt - 1)):
		}
	}

	observability.RecordReversalAbandoned()
	entry.Error("sanction reversal abandoned after retry budget, manual reconciliation required")
}

func (s *SanctionScheduler) runContext() context.Context {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}

func (s *SanctionScheduler) getLogEntry() *log.Entry {
	return log.WithField("context", "sanction_scheduler")
}

func timerKey(subjectID, communityID int64, kind db.ActionKind) string {
	return fmt.Sprintf("%d:%d:%s", subjectID, communityID, kind)
}
