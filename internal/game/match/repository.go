// Package match negotiates paired sessions and owns their simulation loops.
package match

import (
	"sync"
	"time"

	"github.com/cory-johannsen/matchhub/internal/game/pong"
	"github.com/cory-johannsen/matchhub/internal/game/room"
)

// State is a session's lifecycle state.
type State int

const (
	StateInvited State = iota
	StateAccepted
	StateRunning
	StateFinished
	StateCancelled
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateInvited:
		return "invited"
	case StateAccepted:
		return "accepted"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Pending reports whether the session is still being negotiated.
func (s State) Pending() bool {
	return s == StateInvited || s == StateAccepted
}

// Session is one paired match. Player1 and Player2 never change after creation;
// everything else is guarded by the session's own mutex.
type Session struct {
	ID      int64
	Player1 int64
	Player2 int64

	mu         sync.Mutex
	state      State
	accepted   [2]bool
	field      pong.Field
	sim        pong.State
	startedAt  time.Time
	finishedAt time.Time
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Field returns the field the session plays on.
func (s *Session) Field() pong.Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.field
}

// Snapshot returns a copy of the simulation state.
//
// Postcondition: ok is false until the session has been started.
func (s *Session) Snapshot() (snap pong.State, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning && s.state != StateFinished {
		return pong.State{}, false
	}
	return s.sim, true
}

// Room returns the ephemeral room used as the session's broadcast scope.
func (s *Session) Room() room.ID {
	return room.Match(s.ID)
}

// Participant reports whether userID is one of the two players.
func (s *Session) Participant(userID int64) bool {
	return userID == s.Player1 || userID == s.Player2
}

// Other returns the participant that is not userID.
//
// Precondition: Participant(userID) is true.
func (s *Session) Other(userID int64) int64 {
	if userID == s.Player1 {
		return s.Player2
	}
	return s.Player1
}

// Repository is the in-memory store of live sessions.
type Repository struct {
	mu       sync.RWMutex
	nextID   int64
	sessions map[int64]*Session
}

// NewRepository creates an empty Repository.
func NewRepository() *Repository {
	return &Repository{sessions: make(map[int64]*Session)}
}

// Create stores a new Invited session between player1 and player2 on field.
// Player 1 starts out accepted.
//
// Postcondition: The returned session's ID has never been issued by this repository before.
func (r *Repository) Create(player1, player2 int64, field pong.Field) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(player1, player2, field)
}

// CreateIfNoPending is Create, unless the two players already share a pending
// session. The lookup and the insert happen under one repository lock.
//
// Postcondition: created is false and s is the existing pending session when
// one exists; otherwise s is new.
func (r *Repository) CreateIfNoPending(player1, player2 int64, field pong.Field) (s *Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.findPendingLocked(player1, player2); ok {
		return s, false
	}
	return r.insertLocked(player1, player2, field), true
}

func (r *Repository) insertLocked(player1, player2 int64, field pong.Field) *Session {
	r.nextID++
	s := &Session{
		ID:       r.nextID,
		Player1:  player1,
		Player2:  player2,
		state:    StateInvited,
		accepted: [2]bool{true, false},
		field:    field,
	}
	r.sessions[s.ID] = s
	return s
}

// Get returns the session stored under id.
func (r *Repository) Get(id int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Delete removes the session stored under id.
//
// Postcondition: Returns false if no such session was stored.
func (r *Repository) Delete(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Count returns the number of live sessions.
func (r *Repository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// FindPending returns a session between a and b, in either role, that is still
// being negotiated.
func (r *Repository) FindPending(a, b int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findPendingLocked(a, b)
}

// findPendingLocked takes session locks while r.mu is held. Nothing acquires
// r.mu while holding a session lock.
func (r *Repository) findPendingLocked(a, b int64) (*Session, bool) {
	for _, s := range r.sessions {
		if (s.Player1 == a && s.Player2 == b) || (s.Player1 == b && s.Player2 == a) {
			if s.State().Pending() {
				return s, true
			}
		}
	}
	return nil, false
}

// ForUser returns every live session userID participates in.
func (r *Repository) ForUser(userID int64) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.Participant(userID) {
			out = append(out, s)
		}
	}
	return out
}
