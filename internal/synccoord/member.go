// Package synccoord implements the single intra-host handshake SPEC_FULL.md
// adds beyond spec.md's scope: when more than one player process shares a
// display (a rare but real deployment shape — e.g. a supervisor process and
// a renderer process each wanting to know which one owns CMS-facing
// side effects like collectNow), exactly one of them should act as lead.
// This is not multi-display leader/follower coordination (that stays a
// Non-goal); it is a lowest-ID election among processes on one host.
//
// The member bookkeeping here is adapted from internal/swimvocab's
// Member type (incarnation-based conflict resolution, state priority
// ordering) with the address list and ping bookkeeping dropped: a
// single-host gochannel bus has no addresses to dial and no network RTT
// to measure, only "have we heard from this member recently."
package synccoord

import (
	"sync"
	"time"
)

// MemberState is a coordinator participant's view of its own or a peer's
// liveness.
type MemberState int

const (
	StateAlive MemberState = iota
	StateSuspect
	StateLeft
)

func (s MemberState) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateSuspect:
		return "suspect"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Member is one participant in the handshake, keyed by its process ID
// (the display's hardware key, optionally suffixed to distinguish
// co-located processes).
type Member struct {
	mu sync.RWMutex

	ID          string
	State       MemberState
	Incarnation uint64
	StateTime   time.Time
	LastSeen    time.Time
}

func newMember(id string) *Member {
	now := time.Now()
	return &Member{ID: id, State: StateAlive, StateTime: now, LastSeen: now}
}

// SetState applies a state update, honoring the same conflict-resolution
// rule swimvocab's Member used: a higher incarnation always wins, and
// within the same incarnation a higher-priority state wins (Left > Suspect
// > Alive — there is no Failed state here, since a missed heartbeat just
// demotes a peer to Suspect, which excludes it from the election; the
// peer stays in the member table rather than being declared failed).
func (m *Member) SetState(state MemberState, incarnation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if incarnation > m.Incarnation || (incarnation == m.Incarnation && statePriority(state) > statePriority(m.State)) {
		m.State = state
		m.Incarnation = incarnation
		m.StateTime = time.Now()
	}
}

func statePriority(s MemberState) int {
	switch s {
	case StateAlive:
		return 0
	case StateSuspect:
		return 1
	case StateLeft:
		return 2
	default:
		return -1
	}
}

func (m *Member) touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastSeen = time.Now()
}

func (m *Member) snapshot() (state MemberState, lastSeen time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.State, m.LastSeen
}

func (m *Member) isStale(timeout time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastSeen.Before(timeout)
}
