// Package session holds the mutable state of one scanning session: the
// roster, the set of locally redeemed badges awaiting acknowledgment, and the
// filtered list view. The scan path and the sync merge path both mutate this
// state; a single mutex serializes every mutation.
package session

import (
	"fmt"
	"sync"

	"turnstile/internal/domain"
	"turnstile/internal/roster"
	"turnstile/internal/search"
)

// OutcomeKind tags the result of resolving a scanned or selected identifier.
type OutcomeKind string

const (
	OutcomeNotFound        OutcomeKind = "not_found"
	OutcomeAlreadyRedeemed OutcomeKind = "already_redeemed"
	OutcomeAutoRedeemed    OutcomeKind = "auto_redeemed"
	OutcomeNeedsSelection  OutcomeKind = "needs_selection"
)

// Outcome is produced per scan and consumed immediately by the presentation
// layer; it is never persisted.
type Outcome struct {
	Kind        OutcomeKind         `json:"kind" enum:"not_found,already_redeemed,auto_redeemed,needs_selection"`
	Participant *domain.Participant `json:"participant,omitempty"`
	EntityID    string              `json:"badge_entity_id,omitempty"`
	Candidates  []string            `json:"candidate_entity_ids,omitempty"`
}

// Stats is the O(1) counter view the UI polls.
type Stats struct {
	TotalBadges    int `json:"total_badges"`
	RedeemedBadges int `json:"redeemed_badges"`
	PendingPush    int `json:"pending_push"`
}

// Session owns the roster for one scanning run. All exported methods lock.
type Session struct {
	mu       sync.Mutex
	roster   *roster.Roster
	pending  map[string]struct{}
	query    string
	filtered []domain.Participant
	lastScan *Outcome
	closed   bool
	onChange []func()
}

// New wraps a loaded roster into a live session.
func New(r *roster.Roster) *Session {
	s := &Session{
		roster:  r,
		pending: make(map[string]struct{}),
	}
	s.filtered = r.Participants()
	return s
}

// OnChange registers a callback invoked after any mutation that changes
// redemption counts or the filtered view. Callbacks run outside the session
// lock.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Resolve computes the outcome for a raw scanned payload, expected to be a
// participant user id. A participant with exactly one unused badge is
// redeemed immediately; two or more unused badges defer to an explicit
// ConfirmSelection. The decision never touches the network. A closed session
// resolves nothing.
func (s *Session) Resolve(identifier string) Outcome {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{Kind: OutcomeNotFound}
	}
	out := s.resolveLocked(identifier)
	s.lastScan = &out
	changed := out.Kind == OutcomeAutoRedeemed
	if changed {
		s.refilterLocked()
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return out
}

func (s *Session) resolveLocked(identifier string) Outcome {
	p, ok := s.roster.Participant(identifier)
	if !ok {
		return Outcome{Kind: OutcomeNotFound}
	}
	unused := p.UnusedEntityIDs()
	switch len(unused) {
	case 0:
		return Outcome{Kind: OutcomeAlreadyRedeemed, Participant: &p}
	case 1:
		entityID := unused[0]
		if s.roster.MarkRedeemed(entityID) {
			s.pending[entityID] = struct{}{}
		}
		updated, _ := s.roster.Participant(identifier)
		return Outcome{Kind: OutcomeAutoRedeemed, Participant: &updated, EntityID: entityID}
	default:
		return Outcome{Kind: OutcomeNeedsSelection, Participant: &p, Candidates: unused}
	}
}

// ConfirmSelection redeems the chosen badge entities after a NeedsSelection
// outcome. Entities that raced to used in the interim are skipped; the newly
// marked ids are queued for the next sync push.
func (s *Session) ConfirmSelection(userID string, entityIDs []string) ([]string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("session closed")
	}
	if _, ok := s.roster.Participant(userID); !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("unknown participant %s", userID)
	}
	var marked []string
	for _, id := range entityIDs {
		if s.roster.MarkRedeemed(id) {
			s.pending[id] = struct{}{}
			marked = append(marked, id)
		}
	}
	if len(marked) > 0 {
		s.refilterLocked()
	}
	s.mu.Unlock()
	if len(marked) > 0 {
		s.notify()
	}
	return marked, nil
}

// SnapshotPending returns the entity ids currently awaiting acknowledgment.
// The sync engine pushes this snapshot, then clears exactly these ids on
// success so redemptions appended mid-round stay pending.
func (s *Session) SnapshotPending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	return ids
}

// ClearPending removes the given ids from the pending set.
func (s *Session) ClearPending(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, id := range ids {
		delete(s.pending, id)
	}
}

// MergeEvents applies redemption events pulled from the hub. Events for
// already-used or unknown entities are no-ops, so re-delivery of this
// terminal's own pushes is harmless. Returns the number of badges newly
// marked used.
func (s *Session) MergeEvents(events []domain.RosterRow) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	applied := 0
	for _, ev := range events {
		if !ev.IsUsed {
			continue
		}
		if s.roster.MarkRedeemed(ev.EntityID) {
			applied++
		}
	}
	if applied > 0 {
		s.refilterLocked()
	}
	s.mu.Unlock()
	if applied > 0 {
		s.notify()
	}
	return applied
}

// SetQuery updates the list filter and recomputes the view eagerly.
func (s *Session) SetQuery(q string) {
	s.mu.Lock()
	s.query = q
	s.refilterLocked()
	s.mu.Unlock()
}

// Filtered returns the current filtered participant view.
func (s *Session) Filtered() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Participant, len(s.filtered))
	copy(out, s.filtered)
	return out
}

// Filter recomputes the view for the given query and returns it.
func (s *Session) Filter(q string) []domain.Participant {
	s.SetQuery(q)
	return s.Filtered()
}

// Stats returns the badge counters and pending-push depth.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		TotalBadges:    s.roster.TotalBadges(),
		RedeemedBadges: s.roster.RedeemedBadges(),
		PendingPush:    len(s.pending),
	}
}

// LastScan returns the transient outcome of the most recent scan, if any.
func (s *Session) LastScan() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScan
}

// ClearLastScan drops the transient scan indicator (next scan or view switch).
func (s *Session) ClearLastScan() {
	s.mu.Lock()
	s.lastScan = nil
	s.mu.Unlock()
}

// Close marks the session ended. Late sync completions check this and leave
// torn-down state alone.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Alive reports whether the session is still accepting mutations.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *Session) refilterLocked() {
	s.filtered = search.Filter(s.query, s.roster.Participants())
}

func (s *Session) notify() {
	s.mu.Lock()
	callbacks := make([]func(), len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}
