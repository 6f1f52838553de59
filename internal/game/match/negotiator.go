package match

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/matchhub/internal/game/pong"
	"github.com/cory-johannsen/matchhub/internal/observability"
)

// Result tags the outcome of a negotiation operation.
type Result int

const (
	// Ready means the operation took effect and the caller may proceed.
	Ready Result = iota + 1
	// Waiting means the operation took effect but the other participant has not acted yet.
	Waiting
	// NotFound means no live session carries the given id.
	NotFound
	// InvalidState means the session exists but the caller or its state does not allow the operation.
	InvalidState
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case Ready:
		return "ready"
	case Waiting:
		return "waiting"
	case NotFound:
		return "not_found"
	case InvalidState:
		return "invalid_state"
	default:
		return "unknown"
	}
}

// Negotiator drives sessions from invitation to Running.
type Negotiator struct {
	repo    *Repository
	engine  *Engine
	field   pong.Field
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewNegotiator creates a Negotiator that starts accepted sessions on engine.
// field is used for invitations that do not name one.
//
// Precondition: repo, engine, and logger must be non-nil; metrics may be nil.
func NewNegotiator(repo *Repository, engine *Engine, field pong.Field, metrics *observability.Metrics, logger *zap.Logger) *Negotiator {
	return &Negotiator{
		repo:    repo,
		engine:  engine,
		field:   field,
		metrics: metrics,
		logger:  logger,
	}
}

// InviteOption customizes an invitation.
type InviteOption func(*inviteOptions)

type inviteOptions struct {
	field  pong.Field
	unique bool
}

// OnField plays the invited session on f instead of the default field.
func OnField(f pong.Field) InviteOption {
	return func(o *inviteOptions) { o.field = f }
}

// UniquePerPair rejects the invitation while the two users already share a
// pending session.
func UniquePerPair() InviteOption {
	return func(o *inviteOptions) { o.unique = true }
}

// Invite creates a session with inviter as player 1 (already accepted) and
// invitee as player 2.
//
// Postcondition: Returns (session, Waiting) on success; (nil, InvalidState) when
// inviter == invitee, or when UniquePerPair is set and a pending session exists.
func (n *Negotiator) Invite(inviter, invitee int64, opts ...InviteOption) (*Session, Result) {
	if inviter == invitee {
		return nil, InvalidState
	}
	o := inviteOptions{field: n.field}
	for _, opt := range opts {
		opt(&o)
	}
	var s *Session
	if o.unique {
		existing, created := n.repo.CreateIfNoPending(inviter, invitee, o.field)
		if !created {
			n.logger.Debug("duplicate invite rejected",
				zap.Int64("session_id", existing.ID),
				zap.Int64("inviter", inviter),
				zap.Int64("invitee", invitee),
			)
			return nil, InvalidState
		}
		s = existing
	} else {
		s = n.repo.Create(inviter, invitee, o.field)
	}
	n.metrics.SessionStateChanged("", StateInvited.String())
	n.logger.Debug("match invited",
		zap.Int64("session_id", s.ID),
		zap.Int64("inviter", inviter),
		zap.Int64("invitee", invitee),
		zap.String("field", o.field.Name),
	)
	return s, Waiting
}

// Accept records userID's acceptance.
//
// Postcondition: Returns (session, Ready) exactly once, on the call that completes
// both acceptances and moves the session to Accepted; Waiting while the other
// participant has not accepted; NotFound or InvalidState otherwise.
func (n *Negotiator) Accept(userID, id int64) (*Session, Result) {
	s, ok := n.repo.Get(id)
	if !ok {
		return nil, NotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInvited || !s.Participant(userID) {
		return nil, InvalidState
	}
	if userID == s.Player1 {
		s.accepted[0] = true
	}
	if userID == s.Player2 {
		s.accepted[1] = true
	}
	if !s.accepted[0] || !s.accepted[1] {
		return nil, Waiting
	}
	s.state = StateAccepted
	n.metrics.SessionStateChanged(StateInvited.String(), StateAccepted.String())
	return s, Ready
}

// Cancel withdraws a pending session on behalf of userID and removes it.
//
// Postcondition: On Ready, notify is the other participant and the session is gone
// from the repository; otherwise notify is zero and nothing changed.
func (n *Negotiator) Cancel(userID, id int64) (notify int64, res Result) {
	s, ok := n.repo.Get(id)
	if !ok {
		return 0, NotFound
	}

	s.mu.Lock()
	if !s.state.Pending() || !s.Participant(userID) {
		s.mu.Unlock()
		return 0, InvalidState
	}
	from := s.state
	s.state = StateCancelled
	s.mu.Unlock()

	n.repo.Delete(id)
	n.metrics.SessionStateChanged(from.String(), "")
	n.logger.Debug("match cancelled",
		zap.Int64("session_id", id),
		zap.Int64("by", userID),
	)
	return s.Other(userID), Ready
}

// Start moves an Accepted session to Running and launches its tick loop.
//
// Postcondition: Returns Ready if the loop was started; NotFound or InvalidState otherwise.
func (n *Negotiator) Start(id int64, onUpdate UpdateFunc, onFinish FinishFunc) Result {
	s, ok := n.repo.Get(id)
	if !ok {
		return NotFound
	}
	return n.engine.Start(s, onUpdate, onFinish)
}
