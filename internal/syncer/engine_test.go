package syncer

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"testing"
	"time"

	"turnstile/internal/domain"
	"turnstile/internal/hub"
	"turnstile/internal/roster"
	"turnstile/internal/session"
)

type fakeHub struct {
	requests []hub.SyncRequest
	respond  func(hub.SyncRequest) (hub.SyncResponse, error)
}

func (f *fakeHub) ParticipantListUpdate(_ context.Context, req hub.SyncRequest) (hub.SyncResponse, error) {
	f.requests = append(f.requests, req)
	return f.respond(req)
}

func newSession(t *testing.T, rows ...domain.RosterRow) *session.Session {
	t.Helper()
	r, err := roster.Load(rows)
	if err != nil {
		t.Fatalf("load roster: %v", err)
	}
	return session.New(r)
}

func row(userID, entityID string, used bool) domain.RosterRow {
	return domain.RosterRow{
		UserID:      userID,
		FirstName:   "Ana",
		LastName:    "Li",
		EntityID:    entityID,
		BadgeTypeID: "b1",
		IsUsed:      used,
	}
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func TestRunOncePushesAndAdvancesWatermark(t *testing.T) {
	s := newSession(t, row("u1", "e1", false))
	s.Resolve("u1")

	fh := &fakeHub{respond: func(req hub.SyncRequest) (hub.SyncResponse, error) {
		return hub.SyncResponse{Watermark: 2000}, nil
	}}
	e := New(Config{
		Hub:          fh,
		Session:      s,
		ScanTerminal: "term-1",
		BadgeTypeIDs: []string{"b1"},
		Watermark:    1000,
		Logger:       quiet(),
	})
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(fh.requests) != 1 {
		t.Fatalf("requests = %d", len(fh.requests))
	}
	req := fh.requests[0]
	if req.Watermark != 1000 || req.ScanTerminal != "term-1" {
		t.Fatalf("request = %+v", req)
	}
	if len(req.ChangedEntityIDs) != 1 || req.ChangedEntityIDs[0] != "e1" {
		t.Fatalf("pushed = %v", req.ChangedEntityIDs)
	}
	if got := e.Watermark(); got != 2001 {
		t.Fatalf("watermark = %d, want response+1ms", got)
	}
	if len(s.SnapshotPending()) != 0 {
		t.Fatalf("pending not drained after ack")
	}
	if e.LastSync().IsZero() {
		t.Fatalf("lastSync not recorded")
	}
}

func TestRunOnceMergesRemoteEvents(t *testing.T) {
	s := newSession(t, row("u1", "e1", false), row("u2", "e2", false))
	fh := &fakeHub{respond: func(req hub.SyncRequest) (hub.SyncResponse, error) {
		return hub.SyncResponse{
			Events:    []domain.RosterRow{row("u2", "e2", true)},
			Watermark: 500,
		}, nil
	}}
	e := New(Config{Hub: fh, Session: s, Logger: quiet()})
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := s.Stats(); st.RedeemedBadges != 1 {
		t.Fatalf("redeemed = %d", st.RedeemedBadges)
	}
	// Re-delivery of the same event is a no-op.
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := s.Stats(); st.RedeemedBadges != 1 {
		t.Fatalf("redeemed after replay = %d", st.RedeemedBadges)
	}
}

func TestRunOnceFailureLeavesStateUntouched(t *testing.T) {
	s := newSession(t, row("u1", "e1", false))
	s.Resolve("u1")
	fh := &fakeHub{respond: func(req hub.SyncRequest) (hub.SyncResponse, error) {
		return hub.SyncResponse{}, errors.New("hub down")
	}}
	e := New(Config{Hub: fh, Session: s, Watermark: 1000, Logger: quiet()})
	if err := e.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if got := e.Watermark(); got != 1000 {
		t.Fatalf("watermark moved on failure: %d", got)
	}
	pending := s.SnapshotPending()
	if len(pending) != 1 || pending[0] != "e1" {
		t.Fatalf("pending lost on failure: %v", pending)
	}

	// Next round retries the same id.
	fh.respond = func(req hub.SyncRequest) (hub.SyncResponse, error) {
		return hub.SyncResponse{Watermark: 3000}, nil
	}
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fh.requests) != 2 || fh.requests[1].ChangedEntityIDs[0] != "e1" {
		t.Fatalf("retry did not re-push: %+v", fh.requests)
	}
}

func TestMidRoundRedemptionsStayPending(t *testing.T) {
	s := newSession(t, row("u1", "e1", false), row("u2", "e2", false))
	s.Resolve("u1")
	fh := &fakeHub{respond: func(req hub.SyncRequest) (hub.SyncResponse, error) {
		// A scan lands while the push is in flight.
		s.Resolve("u2")
		return hub.SyncResponse{Watermark: 100}, nil
	}}
	e := New(Config{Hub: fh, Session: s, Logger: quiet()})
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	pending := s.SnapshotPending()
	sort.Strings(pending)
	if len(pending) != 1 || pending[0] != "e2" {
		t.Fatalf("pending = %v", pending)
	}
}

func TestRunOnceSkipsClosedSession(t *testing.T) {
	s := newSession(t, row("u1", "e1", false))
	s.Close()
	fh := &fakeHub{respond: func(req hub.SyncRequest) (hub.SyncResponse, error) {
		return hub.SyncResponse{}, nil
	}}
	e := New(Config{Hub: fh, Session: s, Logger: quiet()})
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fh.requests) != 0 {
		t.Fatalf("closed session still synced")
	}
}

func TestZeroWatermarkResponseDoesNotRegress(t *testing.T) {
	s := newSession(t, row("u1", "e1", false))
	fh := &fakeHub{respond: func(req hub.SyncRequest) (hub.SyncResponse, error) {
		return hub.SyncResponse{}, nil
	}}
	e := New(Config{Hub: fh, Session: s, Watermark: 5000, Logger: quiet()})
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := e.Watermark(); got != 5000 {
		t.Fatalf("watermark regressed to %d", got)
	}
}

func TestStaleServerWatermarkDoesNotRegress(t *testing.T) {
	s := newSession(t, row("u1", "e1", false))
	fh := &fakeHub{respond: func(req hub.SyncRequest) (hub.SyncResponse, error) {
		return hub.SyncResponse{Watermark: 100}, nil
	}}
	e := New(Config{Hub: fh, Session: s, Watermark: 5000, Logger: quiet()})
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := e.Watermark(); got != 5000 {
		t.Fatalf("watermark regressed to %d on a stale server watermark", got)
	}

	// A strictly newer value still advances it.
	fh.respond = func(req hub.SyncRequest) (hub.SyncResponse, error) {
		return hub.SyncResponse{Watermark: 6000}, nil
	}
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := e.Watermark(); got != 6001 {
		t.Fatalf("watermark = %d", got)
	}
}

func TestStartStop(t *testing.T) {
	s := newSession(t, row("u1", "e1", false))
	done := make(chan struct{})
	var once bool
	fh := &fakeHub{respond: func(req hub.SyncRequest) (hub.SyncResponse, error) {
		if !once {
			once = true
			close(done)
		}
		return hub.SyncResponse{Watermark: 1}, nil
	}}
	e := New(Config{Hub: fh, Session: s, Interval: 5 * time.Millisecond, Logger: quiet()})
	e.Start(context.Background())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("engine never ticked")
	}
	e.Stop()
	e.Stop() // idempotent
}
