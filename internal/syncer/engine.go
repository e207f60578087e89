// Package syncer runs the periodic reconciliation loop between a scanning
// session and the hub: push locally redeemed badge entities, pull redemption
// events from other terminals, advance the watermark.
package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"turnstile/internal/domain"
	"turnstile/internal/hub"
	"turnstile/internal/metrics"
	"turnstile/internal/session"
)

// DefaultInterval is the tick period between sync rounds.
const DefaultInterval = 5 * time.Second

// watermarkEpsilon is added to the hub watermark so the next pull excludes
// events already consumed in this round.
const watermarkEpsilon = time.Millisecond

// Hub is the subset of the hub client the engine needs.
type Hub interface {
	ParticipantListUpdate(ctx context.Context, req hub.SyncRequest) (hub.SyncResponse, error)
}

// Config wires an engine to one session.
type Config struct {
	Hub          Hub
	Session      *session.Session
	ScanTerminal string
	BadgeTypeIDs []string
	Interval     time.Duration
	Watermark    int64 // unix ms to resume from, usually the session start
	Logger       *log.Logger
	Metrics      *metrics.Metrics
}

// Engine drives sync rounds at a fixed interval. At most one round is in
// flight at a time; a tick that lands mid-round is skipped.
type Engine struct {
	cfg Config

	mu        sync.Mutex
	watermark int64
	inFlight  bool
	lastSync  time.Time
	stop      chan struct{}
	done      chan struct{}

	Now func() time.Time
}

// New builds an engine. Start must be called to begin ticking.
func New(cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Engine{
		cfg:       cfg,
		watermark: cfg.Watermark,
		Now:       time.Now,
	}
}

// Start launches the tick loop. It returns immediately.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.stop != nil {
		e.mu.Unlock()
		return
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				e.tick(ctx)
			}
		}
	}()
}

// Stop ends the tick loop and waits for a round in flight to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	stop, done := e.stop, e.done
	e.stop, e.done = nil, nil
	e.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// tick runs one round unless a previous round is still in flight.
func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		return
	}
	e.inFlight = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()
	if err := e.RunOnce(ctx); err != nil {
		e.cfg.Logger.Printf("sync round failed, retrying next tick: %v", err)
	}
}

// RunOnce performs a single push/pull round. On failure the watermark and the
// pending set are left untouched so the next round retries the same work. On
// success the merge happens before the watermark advance and the pending
// clear, and only the pushed snapshot is cleared.
func (e *Engine) RunOnce(ctx context.Context) error {
	s := e.cfg.Session
	if !s.Alive() {
		return nil
	}

	snapshot := s.SnapshotPending()
	e.mu.Lock()
	watermark := e.watermark
	e.mu.Unlock()

	resp, err := e.cfg.Hub.ParticipantListUpdate(ctx, hub.SyncRequest{
		ChangedEntityIDs: snapshot,
		ScanTerminal:     e.cfg.ScanTerminal,
		BadgeTypeIDs:     e.cfg.BadgeTypeIDs,
		Watermark:        watermark,
	})
	if err != nil {
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.SyncFailures.Inc()
		}
		return err
	}

	// The session may have closed while the request was in flight; the
	// merge and clear below are no-ops in that case.
	applied := s.MergeEvents(resp.Events)

	e.mu.Lock()
	// The watermark only moves forward; a stale or clock-skewed server
	// value must not rewind the feed.
	if next := resp.Watermark + watermarkEpsilon.Milliseconds(); next > e.watermark {
		e.watermark = next
	}
	e.lastSync = e.Now()
	e.mu.Unlock()

	s.ClearPending(snapshot)

	if e.cfg.Metrics != nil {
		e.cfg.Metrics.SyncRounds.Inc()
		e.cfg.Metrics.MergedEvents.Add(float64(applied))
	}
	if len(snapshot) > 0 || applied > 0 {
		e.cfg.Logger.Printf("sync round: pushed=%d pulled=%d applied=%d watermark=%d",
			len(snapshot), len(resp.Events), applied, resp.Watermark)
	}
	return nil
}

// Watermark returns the unix-ms timestamp the next pull resumes from.
func (e *Engine) Watermark() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.watermark
}

// LastSync returns when the last round completed successfully, zero if none.
func (e *Engine) LastSync() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// Bootstrap loads a roster from the hub and wraps it into a live session.
// The returned watermark is the session start time so the first sync round
// only pulls events recorded after the bootstrap.
func Bootstrap(ctx context.Context, c *hub.Client, badgeTypeIDs []string, now func() time.Time) ([]domain.RosterRow, int64, error) {
	if now == nil {
		now = time.Now
	}
	start := now().UnixMilli()
	rows, err := c.FetchRoster(ctx, badgeTypeIDs)
	if err != nil {
		return nil, 0, err
	}
	return rows, start, nil
}
