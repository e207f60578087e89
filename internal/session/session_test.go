package session_test

import (
	"sort"
	"testing"

	"turnstile/internal/domain"
	"turnstile/internal/roster"
	"turnstile/internal/session"
)

func newSession(t *testing.T, rows []domain.RosterRow) *session.Session {
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

func TestResolveAutoRedeem(t *testing.T) {
	s := newSession(t, []domain.RosterRow{row("u1", "e1", false)})
	out := s.Resolve("u1")
	if out.Kind != session.OutcomeAutoRedeemed {
		t.Fatalf("kind = %s", out.Kind)
	}
	if out.EntityID != "e1" {
		t.Fatalf("entity = %s", out.EntityID)
	}
	if out.Participant == nil || !out.Participant.Badges[0].IsUsed {
		t.Fatalf("outcome participant should reflect redemption")
	}
	if st := s.Stats(); st.RedeemedBadges != 1 {
		t.Fatalf("redeemed = %d", st.RedeemedBadges)
	}
	pending := s.SnapshotPending()
	if len(pending) != 1 || pending[0] != "e1" {
		t.Fatalf("pending = %v", pending)
	}
}

func TestResolveNotFound(t *testing.T) {
	s := newSession(t, []domain.RosterRow{row("u1", "e1", false)})
	out := s.Resolve("unknown")
	if out.Kind != session.OutcomeNotFound {
		t.Fatalf("kind = %s", out.Kind)
	}
	if st := s.Stats(); st.RedeemedBadges != 0 || st.PendingPush != 0 {
		t.Fatalf("not-found scan mutated state: %+v", st)
	}
}

func TestResolveAlreadyRedeemed(t *testing.T) {
	s := newSession(t, []domain.RosterRow{row("u1", "e1", true)})
	out := s.Resolve("u1")
	if out.Kind != session.OutcomeAlreadyRedeemed {
		t.Fatalf("kind = %s", out.Kind)
	}
	if out.Participant == nil || out.Participant.UserID != "u1" {
		t.Fatalf("expected participant in outcome")
	}
}

func TestNeedsSelectionIsSideEffectFree(t *testing.T) {
	s := newSession(t, []domain.RosterRow{row("u1", "e1", false), row("u1", "e2", false)})
	out := s.Resolve("u1")
	if out.Kind != session.OutcomeNeedsSelection {
		t.Fatalf("kind = %s", out.Kind)
	}
	sort.Strings(out.Candidates)
	if len(out.Candidates) != 2 || out.Candidates[0] != "e1" || out.Candidates[1] != "e2" {
		t.Fatalf("candidates = %v", out.Candidates)
	}
	if st := s.Stats(); st.RedeemedBadges != 0 || st.PendingPush != 0 {
		t.Fatalf("ambiguous resolution must not mutate: %+v", st)
	}
}

func TestConfirmSelection(t *testing.T) {
	s := newSession(t, []domain.RosterRow{row("u1", "e1", false), row("u1", "e2", false)})
	if out := s.Resolve("u1"); out.Kind != session.OutcomeNeedsSelection {
		t.Fatalf("setup: %s", out.Kind)
	}
	marked, err := s.ConfirmSelection("u1", []string{"e1"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(marked) != 1 || marked[0] != "e1" {
		t.Fatalf("marked = %v", marked)
	}
	p := s.Filtered()[0]
	if !p.Badges[0].IsUsed || p.Badges[1].IsUsed {
		t.Fatalf("expected only e1 redeemed: %+v", p.Badges)
	}
	if st := s.Stats(); st.RedeemedBadges != 1 {
		t.Fatalf("redeemed = %d", st.RedeemedBadges)
	}
}

func TestConfirmSelectionSkipsRacedEntities(t *testing.T) {
	s := newSession(t, []domain.RosterRow{row("u1", "e1", false), row("u1", "e2", false)})
	// e1 redeemed elsewhere while the selection sheet was open.
	s.MergeEvents([]domain.RosterRow{row("u1", "e1", true)})
	marked, err := s.ConfirmSelection("u1", []string{"e1", "e2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(marked) != 1 || marked[0] != "e2" {
		t.Fatalf("marked = %v", marked)
	}
	pending := s.SnapshotPending()
	if len(pending) != 1 || pending[0] != "e2" {
		t.Fatalf("pending = %v", pending)
	}
}

func TestConfirmSelectionUnknownParticipant(t *testing.T) {
	s := newSession(t, []domain.RosterRow{row("u1", "e1", false)})
	if _, err := s.ConfirmSelection("nobody", []string{"e1"}); err == nil {
		t.Fatalf("expected error for unknown participant")
	}
}

func TestMergeEventsIdempotent(t *testing.T) {
	s := newSession(t, []domain.RosterRow{row("u1", "e1", false)})
	ev := []domain.RosterRow{row("u1", "e1", true)}
	if applied := s.MergeEvents(ev); applied != 1 {
		t.Fatalf("first merge applied = %d", applied)
	}
	if applied := s.MergeEvents(ev); applied != 0 {
		t.Fatalf("second merge applied = %d", applied)
	}
	if st := s.Stats(); st.RedeemedBadges != 1 {
		t.Fatalf("redeemed = %d", st.RedeemedBadges)
	}
}

func TestMergeIgnoresUnknownAndUnusedEvents(t *testing.T) {
	s := newSession(t, []domain.RosterRow{row("u1", "e1", false)})
	events := []domain.RosterRow{
		row("u9", "other-terminal-entity", true),
		row("u1", "e1", false),
	}
	if applied := s.MergeEvents(events); applied != 0 {
		t.Fatalf("applied = %d", applied)
	}
}

func TestClearPendingLeavesMidRoundRedemptions(t *testing.T) {
	s := newSession(t, []domain.RosterRow{
		row("u1", "e1", false),
		row("u2", "e2", false),
		row("u3", "e3", false),
	})
	s.Resolve("u1")
	snapshot := s.SnapshotPending()
	// Two more redemptions land while the push is in flight.
	s.Resolve("u2")
	s.Resolve("u3")
	s.ClearPending(snapshot)
	left := s.SnapshotPending()
	sort.Strings(left)
	if len(left) != 2 || left[0] != "e2" || left[1] != "e3" {
		t.Fatalf("pending after clear = %v", left)
	}
}

func TestClosedSessionIgnoresLateMerges(t *testing.T) {
	s := newSession(t, []domain.RosterRow{row("u1", "e1", false)})
	s.Resolve("u1")
	s.Close()
	if s.Alive() {
		t.Fatalf("session should be closed")
	}
	if applied := s.MergeEvents([]domain.RosterRow{row("u1", "e1", true)}); applied != 0 {
		t.Fatalf("late merge applied = %d", applied)
	}
	s.ClearPending([]string{"e1"})
	if len(s.SnapshotPending()) != 1 {
		t.Fatalf("late clear must not drain a closed session")
	}
}

func TestClosedSessionRejectsScans(t *testing.T) {
	s := newSession(t, []domain.RosterRow{
		row("u1", "e1", false),
		row("u2", "e2", false),
		row("u2", "e3", false),
	})
	s.Close()
	if out := s.Resolve("u1"); out.Kind != session.OutcomeNotFound {
		t.Fatalf("scan on closed session = %s", out.Kind)
	}
	if _, err := s.ConfirmSelection("u2", []string{"e2"}); err == nil {
		t.Fatalf("expected error confirming on closed session")
	}
	if st := s.Stats(); st.RedeemedBadges != 0 || st.PendingPush != 0 {
		t.Fatalf("closed session mutated: %+v", st)
	}
}

func TestOnChangeFiresOnMutations(t *testing.T) {
	s := newSession(t, []domain.RosterRow{row("u1", "e1", false), row("u2", "e2", false)})
	fired := 0
	s.OnChange(func() { fired++ })
	s.Resolve("u1")
	s.MergeEvents([]domain.RosterRow{row("u2", "e2", true)})
	s.Resolve("unknown") // no mutation, no notification
	if fired != 2 {
		t.Fatalf("onChange fired %d times", fired)
	}
}

func TestLastScanIndicator(t *testing.T) {
	s := newSession(t, []domain.RosterRow{row("u1", "e1", false)})
	if s.LastScan() != nil {
		t.Fatalf("fresh session has no last scan")
	}
	s.Resolve("unknown")
	if out := s.LastScan(); out == nil || out.Kind != session.OutcomeNotFound {
		t.Fatalf("last scan = %+v", out)
	}
	s.Resolve("u1")
	if out := s.LastScan(); out == nil || out.Kind != session.OutcomeAutoRedeemed {
		t.Fatalf("last scan not replaced: %+v", out)
	}
	s.ClearLastScan()
	if s.LastScan() != nil {
		t.Fatalf("last scan not cleared")
	}
}

func TestFilterTracksRedemptions(t *testing.T) {
	rows := []domain.RosterRow{
		{UserID: "u1", FirstName: "Ana", LastName: "Müller", EntityID: "e1", BadgeTypeID: "b1"},
		{UserID: "u2", FirstName: "Bo", LastName: "Chen", EntityID: "e2", BadgeTypeID: "b1"},
	}
	s := newSession(t, rows)
	got := s.Filter("mULLER")
	if len(got) != 1 || got[0].UserID != "u1" {
		t.Fatalf("filter = %+v", got)
	}
	s.Resolve("u1")
	got = s.Filtered()
	if len(got) != 1 || !got[0].Badges[0].IsUsed {
		t.Fatalf("filtered view stale after redemption: %+v", got)
	}
}
