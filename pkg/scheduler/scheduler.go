// Package scheduler owns one timer per active feed and drives the
// fetch-ingest cycle. Next-fire times are derived deterministically from
// persisted anchor timestamps, so the schedule survives restarts without a
// stored "next fire" field that could drift from reality.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/rsspie/rsspie/pkg/domain"
)

//go:generate moq -out mocks/feed_store.go -pkg mocks -skip-ensure -fmt goimports . FeedStore
//go:generate moq -out mocks/parser.go -pkg mocks -skip-ensure -fmt goimports . Parser
//go:generate moq -out mocks/ingestor.go -pkg mocks -skip-ensure -fmt goimports . Ingestor

// ErrSyncInFlight is returned when a sync for the feed is already running
var ErrSyncInFlight = errors.New("sync already in progress")

// FeedStore is the persisted source of truth for feed state. The scheduler
// re-reads it after every fire instead of trusting in-memory state.
type FeedStore interface {
	Get(ctx context.Context, id int64) (*domain.Feed, error)
	List(ctx context.Context, activeOnly bool) ([]*domain.Feed, error)
	UpdateFetchStatus(ctx context.Context, feedID int64, fetchErr string) error
}

// Parser fetches a feed URL and returns its canonical document
type Parser interface {
	Parse(ctx context.Context, url string) (*domain.ParsedFeed, error)
}

// Ingestor persists the new-item subset of a canonical document
type Ingestor interface {
	Ingest(ctx context.Context, feed *domain.Feed, parsed *domain.ParsedFeed) int
}

// Sweeper removes expired articles during the retention sweep
type Sweeper interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SyncResult reports the outcome of one feed sync
type SyncResult struct {
	Success     bool   `json:"success"`
	NewArticles int    `json:"newArticles"`
	Error       string `json:"error,omitempty"`
}

// SyncSummary reports the outcome of syncing every active feed
type SyncSummary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Status describes one armed feed timer
type Status struct {
	FeedID     int64 `json:"feedId"`
	NextSyncIn int64 `json:"nextSyncIn"` // milliseconds until fire
}

// Params holds scheduler dependencies and configuration
type Params struct {
	Store    FeedStore
	Parser   Parser
	Ingestor Ingestor
	Sweeper  Sweeper

	Interval      time.Duration // fixed sync period shared by all feeds
	MaxWorkers    int           // concurrency for sync-all
	Retention     time.Duration // articles older than this are swept, 0 disables
	SweepInterval time.Duration
}

// Scheduler manages per-feed sync timers. All timer registry mutations go
// through a single mutex, so no two concurrent arms can install two timers
// for one feed.
type Scheduler struct {
	store      FeedStore
	parser     Parser
	ingestor   Ingestor
	sweeper    Sweeper
	interval   time.Duration
	maxWorkers int
	retention  time.Duration
	sweepEvery time.Duration

	mu       sync.Mutex
	entries  map[int64]*entry
	inflight map[int64]bool // per-feed busy flags, overlapping syncs are rejected
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	nowFn func() time.Time
}

// entry is one armed timer with its computed fire instant
type entry struct {
	timer    *time.Timer
	nextFire time.Time
}

// New creates a scheduler. It does not arm anything until Start.
func New(p Params) *Scheduler {
	if p.Interval <= 0 {
		p.Interval = 30 * time.Minute
	}
	if p.MaxWorkers <= 0 {
		p.MaxWorkers = 5
	}
	if p.SweepInterval <= 0 {
		p.SweepInterval = 24 * time.Hour
	}

	return &Scheduler{
		store:      p.Store,
		parser:     p.Parser,
		ingestor:   p.Ingestor,
		sweeper:    p.Sweeper,
		interval:   p.Interval,
		maxWorkers: p.MaxWorkers,
		retention:  p.Retention,
		sweepEvery: p.SweepInterval,
		entries:    make(map[int64]*entry),
		inflight:   make(map[int64]bool),
		nowFn:      time.Now,
	}
}

// NextFireTime computes the deterministic next fire instant for a feed:
// one full interval past the most recent interval boundary counted from the
// anchor. The anchor is the last completed fetch attempt, or the creation
// time for a feed that has never synced, so a manual sync shifts the phase
// of all future fires.
func NextFireTime(feed *domain.Feed, interval time.Duration, now time.Time) time.Time {
	anchor := feed.CreatedAt
	if feed.LastFetchedAt != nil {
		anchor = *feed.LastFetchedAt
	}

	elapsed := now.Sub(anchor)
	if elapsed < 0 {
		return anchor.Add(interval)
	}
	intervalsPassed := elapsed / interval
	return anchor.Add((intervalsPassed + 1) * interval)
}

// Start rebuilds the schedule from persisted feed state and begins the
// retention sweep. Safe to call once per scheduler instance.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	feeds, err := s.store.List(s.ctx, true)
	if err != nil {
		return fmt.Errorf("list active feeds: %w", err)
	}
	for _, feed := range feeds {
		s.Arm(feed)
	}
	lgr.Printf("[INFO] scheduler started, %d active feeds, interval %v", len(feeds), s.interval)

	if s.retention > 0 && s.sweeper != nil {
		s.wg.Add(1)
		go s.sweepWorker(s.ctx)
	}
	return nil
}

// Stop disarms every timer and waits for in-flight work. Running fetches
// are canceled through the context.
func (s *Scheduler) Stop() {
	lgr.Printf("[INFO] stopping scheduler")
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	lgr.Printf("[INFO] scheduler stopped")
}

// Arm cancels any existing timer for the feed and, if the feed is active,
// installs a new one at the computed next-fire instant
func (s *Scheduler) Arm(feed *domain.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disarmLocked(feed.ID)

	if !feed.IsActive {
		lgr.Printf("[DEBUG] feed %d is inactive, not arming", feed.ID)
		return
	}

	now := s.nowFn()
	nextFire := NextFireTime(feed, s.interval, now)
	delay := nextFire.Sub(now)
	if delay < 0 {
		delay = 0
	}

	feedID := feed.ID
	s.entries[feedID] = &entry{
		nextFire: nextFire,
		timer: time.AfterFunc(delay, func() {
			s.fire(feedID)
		}),
	}
	lgr.Printf("[DEBUG] armed feed %d (%s), next sync in %v", feed.ID, feed.Title, delay.Round(time.Second))
}

// Disarm cancels and forgets the feed's timer, safe to call when none exists
func (s *Scheduler) Disarm(feedID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked(feedID)
}

func (s *Scheduler) disarmLocked(feedID int64) {
	if e, ok := s.entries[feedID]; ok {
		e.timer.Stop()
		delete(s.entries, feedID)
	}
}

// Status returns the remaining time until fire for every armed feed
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	statuses := make([]Status, 0, len(s.entries))
	for id, e := range s.entries {
		remaining := e.nextFire.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, Status{FeedID: id, NextSyncIn: remaining.Milliseconds()})
	}
	return statuses
}

// fire runs when a feed timer goes off: sync, then reschedule from the
// freshly persisted state. Rescheduling is unconditional on outcome, a
// permanently failing feed still retries every interval.
func (s *Scheduler) fire(feedID int64) {
	ctx := s.ctx
	if ctx == nil || ctx.Err() != nil {
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	if !s.tryAcquire(feedID) {
		// a manual sync is running right now, it will reschedule on completion
		lgr.Printf("[DEBUG] feed %d sync already in flight, skipping scheduled fire", feedID)
		return
	}

	feed, err := s.store.Get(ctx, feedID)
	if err != nil {
		// feed deleted between fire and lookup, nothing to reschedule
		lgr.Printf("[WARN] scheduled fire for missing feed %d: %v", feedID, err)
		s.release(feedID)
		return
	}

	result := s.syncFeed(ctx, feed)
	s.release(feedID)

	if result.Success {
		lgr.Printf("[INFO] synced feed %d (%s), %d new articles", feed.ID, feed.Title, result.NewArticles)
	} else {
		lgr.Printf("[WARN] sync failed for feed %d (%s): %s", feed.ID, feed.Title, result.Error)
	}

	s.rearm(ctx, feedID)
}

// rearm re-reads the feed and arms it again only if still active; its state
// may have changed concurrently while the sync ran
func (s *Scheduler) rearm(ctx context.Context, feedID int64) {
	if ctx.Err() != nil {
		return
	}
	feed, err := s.store.Get(ctx, feedID)
	if err != nil {
		lgr.Printf("[WARN] cannot reschedule feed %d: %v", feedID, err)
		return
	}
	if !feed.IsActive {
		lgr.Printf("[DEBUG] feed %d deactivated, not rescheduling", feedID)
		return
	}
	s.Arm(feed)
}

// syncFeed runs one fetch-ingest cycle and records the completed attempt,
// success or not. Fetch errors are persisted on the feed, never propagated.
func (s *Scheduler) syncFeed(ctx context.Context, feed *domain.Feed) SyncResult {
	parsed, err := s.parser.Parse(ctx, feed.URL)
	if err != nil {
		if updErr := s.store.UpdateFetchStatus(ctx, feed.ID, err.Error()); updErr != nil {
			lgr.Printf("[ERROR] failed to record fetch error for feed %d: %v", feed.ID, updErr)
		}
		return SyncResult{Error: err.Error()}
	}

	count := s.ingestor.Ingest(ctx, feed, parsed)

	if err := s.store.UpdateFetchStatus(ctx, feed.ID, ""); err != nil {
		lgr.Printf("[ERROR] failed to record fetch status for feed %d: %v", feed.ID, err)
	}
	return SyncResult{Success: true, NewArticles: count}
}

// SyncNow runs a manual sync for one feed and reschedules it from the
// just-updated anchor, so manual and automatic syncs share one phase rule
func (s *Scheduler) SyncNow(ctx context.Context, feedID int64) (SyncResult, error) {
	feed, err := s.store.Get(ctx, feedID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("get feed: %w", err)
	}
	if !feed.IsActive {
		return SyncResult{Error: "feed is inactive"}, nil
	}

	if !s.tryAcquire(feedID) {
		return SyncResult{}, ErrSyncInFlight
	}
	result := s.syncFeed(ctx, feed)
	s.release(feedID)

	// the manual attempt moved the anchor, rebuild the timer from it
	s.Disarm(feedID)
	s.rearm(ctx, feedID)

	return result, nil
}

// SyncAll runs a manual sync for every active feed with bounded concurrency
func (s *Scheduler) SyncAll(ctx context.Context) (SyncSummary, error) {
	feeds, err := s.store.List(ctx, true)
	if err != nil {
		return SyncSummary{}, fmt.Errorf("list active feeds: %w", err)
	}

	var mu sync.Mutex
	summary := SyncSummary{Total: len(feeds)}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)
	for _, feed := range feeds {
		g.Go(func() error {
			result, err := s.SyncNow(ctx, feed.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || !result.Success {
				summary.Failed++
				return nil // a failed feed never aborts the rest
			}
			summary.Success++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	lgr.Printf("[INFO] synced all feeds: %d total, %d ok, %d failed", summary.Total, summary.Success, summary.Failed)
	return summary, nil
}

// tryAcquire sets the feed's busy flag, reporting false when already held
func (s *Scheduler) tryAcquire(feedID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[feedID] {
		return false
	}
	s.inflight[feedID] = true
	return true
}

func (s *Scheduler) release(feedID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, feedID)
}

// sweepWorker periodically removes expired non-favorite articles
func (s *Scheduler) sweepWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := s.nowFn().Add(-s.retention)
			deleted, err := s.sweeper.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				lgr.Printf("[ERROR] retention sweep failed: %v", err)
				continue
			}
			if deleted > 0 {
				lgr.Printf("[INFO] retention sweep removed %d articles", deleted)
			}
		}
	}
}
