package gameserver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/matchhub/internal/game/broadcast"
	"github.com/cory-johannsen/matchhub/internal/game/connection"
	"github.com/cory-johannsen/matchhub/internal/game/match"
	"github.com/cory-johannsen/matchhub/internal/game/pong"
	"github.com/cory-johannsen/matchhub/internal/game/presence"
	"github.com/cory-johannsen/matchhub/internal/game/room"
)

var (
	errSelfInvite      = errors.New("cannot invite yourself")
	errUserOffline     = errors.New("invited user is not connected")
	errDuplicateInvite = errors.New("an invitation between these users is already pending")
)

// GameHandler negotiates matches and relays their simulation to the players.
type GameHandler struct {
	conns      *connection.Registry
	rooms      *room.Index
	dispatcher *broadcast.Dispatcher
	repo       *match.Repository
	negotiator *match.Negotiator
	engine     *match.Engine
	fields     *pong.Catalog
	notifier   *presence.Notifier
	profiles   presence.ProfileLookup
	logger     *zap.Logger
}

// GameHandlerDeps groups the collaborators of a GameHandler.
type GameHandlerDeps struct {
	Conns      *connection.Registry
	Rooms      *room.Index
	Dispatcher *broadcast.Dispatcher
	Repo       *match.Repository
	Negotiator *match.Negotiator
	Engine     *match.Engine
	Fields     *pong.Catalog
	Notifier   *presence.Notifier
	Profiles   presence.ProfileLookup
	Logger     *zap.Logger
}

// NewGameHandler creates a GameHandler.
//
// Precondition: every field of deps must be non-nil.
func NewGameHandler(deps GameHandlerDeps) *GameHandler {
	return &GameHandler{
		conns:      deps.Conns,
		rooms:      deps.Rooms,
		dispatcher: deps.Dispatcher,
		repo:       deps.Repo,
		negotiator: deps.Negotiator,
		engine:     deps.Engine,
		fields:     deps.Fields,
		notifier:   deps.Notifier,
		profiles:   deps.Profiles,
		logger:     deps.Logger,
	}
}

// Invite creates a session from userID to req.UserID and notifies both.
// Only one pending invitation may exist per pair of users.
//
// Postcondition: Returns the new session, or an error if the invitation was rejected.
func (h *GameHandler) Invite(ctx context.Context, userID int64, req InviteRequest) (*match.Session, error) {
	if req.UserID == userID {
		return nil, errSelfInvite
	}
	if _, live := h.conns.Lookup(req.UserID); !live {
		return nil, errUserOffline
	}
	opts := []match.InviteOption{match.UniquePerPair()}
	if req.Field != "" {
		f, ok := h.fields.Get(req.Field)
		if !ok {
			return nil, fmt.Errorf("unknown field %q", req.Field)
		}
		opts = append(opts, match.OnField(f))
	}
	s, res := h.negotiator.Invite(userID, req.UserID, opts...)
	switch res {
	case match.Waiting:
	case match.InvalidState:
		// Self invitations were rejected above; what remains is a pending pair.
		return nil, errDuplicateInvite
	default:
		return nil, fmt.Errorf("invite rejected: %s", res)
	}

	notice := InviteNotice{
		GameID:  s.ID,
		Player1: h.profile(ctx, s.Player1),
		Player2: h.profile(ctx, s.Player2),
		Field:   s.Field().Name,
	}
	h.dispatcher.ToUser(s.Player1, EventGameInvite, notice)
	h.dispatcher.ToUser(s.Player2, EventGameInvite, notice)
	return s, nil
}

// Accept records userID's acceptance and starts the match once both players accepted.
// Stale or invalid acceptances are ignored.
//
// Postcondition: Returns the result of the negotiation step.
func (h *GameHandler) Accept(ctx context.Context, userID, gameID int64) match.Result {
	s, res := h.negotiator.Accept(userID, gameID)
	if res != match.Ready {
		h.logger.Debug("accept ignored",
			zap.Int64("user_id", userID),
			zap.Int64("session_id", gameID),
			zap.Stringer("result", res),
		)
		return res
	}
	return h.start(ctx, s)
}

// Cancel withdraws a pending session and tells the other participant.
// Stale or invalid cancellations are ignored.
//
// Postcondition: Returns the result of the negotiation step.
func (h *GameHandler) Cancel(userID, gameID int64) match.Result {
	notify, res := h.negotiator.Cancel(userID, gameID)
	if res != match.Ready {
		return res
	}
	h.dispatcher.ToUser(notify, EventGameCancel, CancelNotice{GameID: gameID, By: userID})
	return res
}

// Move forwards a paddle input. Input for unknown or finished sessions is dropped.
func (h *GameHandler) Move(userID int64, req MoveRequest) bool {
	return h.engine.Move(req.GameID, userID, req.Delta)
}

// Withdraw cancels every pending session of userID, notifying the other participants.
//
// Postcondition: Returns the number of sessions cancelled.
func (h *GameHandler) Withdraw(userID int64) int {
	n := 0
	for _, s := range h.repo.ForUser(userID) {
		if h.Cancel(userID, s.ID) == match.Ready {
			n++
		}
	}
	return n
}

func (h *GameHandler) start(ctx context.Context, s *match.Session) match.Result {
	// Only Cancel moves an Accepted session anywhere but Running, and Cancel
	// has already told the other player.
	if s.State() != match.StateAccepted {
		h.logger.Debug("match withdrawn before start", zap.Int64("session_id", s.ID))
		return match.NotFound
	}

	roomID := s.Room()
	h.rooms.Join(roomID, s.Player1)
	h.rooms.Join(roomID, s.Player2)

	h.dispatcher.ToRoom(roomID, EventGameStart, StartNotice{
		GameID:  s.ID,
		Field:   s.Field(),
		Player1: h.profile(ctx, s.Player1),
		Player2: h.profile(ctx, s.Player2),
	})

	res := h.negotiator.Start(s.ID, h.onUpdate(roomID), h.onFinish(roomID))
	if res != match.Ready {
		h.logger.Warn("match did not start",
			zap.Int64("session_id", s.ID),
			zap.Stringer("result", res),
		)
		h.rooms.Drop(roomID)
		return res
	}

	h.publish(ctx, s.Player1, presence.StatusInGame)
	h.publish(ctx, s.Player2, presence.StatusInGame)
	return res
}

func (h *GameHandler) onUpdate(roomID room.ID) match.UpdateFunc {
	return func(id int64, snap pong.State) {
		h.dispatcher.ToRoom(roomID, EventGameUpdate, GameUpdate{GameID: id, State: snap})
	}
}

func (h *GameHandler) onFinish(roomID room.ID) match.FinishFunc {
	return func(rec match.Record) {
		h.dispatcher.ToRoom(roomID, EventGameEnd, GameEnd{
			GameID: rec.SessionID,
			Score1: rec.Score1,
			Score2: rec.Score2,
			Winner: rec.Winner,
		})
		h.rooms.Leave(roomID, rec.Player1)
		if destroyed := h.rooms.Leave(roomID, rec.Player2); !destroyed {
			h.logger.Warn("match room outlived its session", zap.Int64("session_id", rec.SessionID))
		}

		ctx := context.Background()
		for _, uid := range []int64{rec.Player1, rec.Player2} {
			if _, live := h.conns.Lookup(uid); live {
				h.publish(ctx, uid, presence.StatusOnline)
			}
		}
	}
}

// InGame reports whether userID is playing a running match.
func (h *GameHandler) InGame(userID int64) bool {
	for _, s := range h.repo.ForUser(userID) {
		if s.State() == match.StateRunning {
			return true
		}
	}
	return false
}

func (h *GameHandler) publish(ctx context.Context, userID int64, status presence.Status) {
	h.notifier.Publish(ctx, presence.SourceLocal, presence.Fact{UserID: userID, Status: status})
}

func (h *GameHandler) profile(ctx context.Context, userID int64) presence.Profile {
	return displayProfile(ctx, h.profiles, h.logger, userID)
}
