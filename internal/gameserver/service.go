// Package gameserver wires connection lifecycle and client events to the
// channel and match handlers.
package gameserver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/matchhub/internal/game/broadcast"
	"github.com/cory-johannsen/matchhub/internal/game/connection"
	"github.com/cory-johannsen/matchhub/internal/game/presence"
	"github.com/cory-johannsen/matchhub/internal/observability"
)

// Service receives connection lifecycle notifications and client events from
// the transport after identity has been verified.
type Service struct {
	conns      *connection.Registry
	dispatcher *broadcast.Dispatcher
	notifier   *presence.Notifier
	channelH   *ChannelHandler
	gameH      *GameHandler
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewService creates a Service with the given dependencies.
//
// Precondition: all arguments except metrics must be non-nil.
func NewService(
	conns *connection.Registry,
	dispatcher *broadcast.Dispatcher,
	notifier *presence.Notifier,
	channelHandler *ChannelHandler,
	gameHandler *GameHandler,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		conns:      conns,
		dispatcher: dispatcher,
		notifier:   notifier,
		channelH:   channelHandler,
		gameH:      gameHandler,
		metrics:    metrics,
		logger:     logger,
	}
}

// Codec returns the frame codec clients speak.
func (s *Service) Codec() broadcast.Codec {
	return s.dispatcher.Codec()
}

// StatusOf reports userID's presence as this process sees it.
func (s *Service) StatusOf(userID int64) presence.Status {
	if _, ok := s.conns.Lookup(userID); !ok {
		return presence.StatusOffline
	}
	if s.gameH.InGame(userID) {
		return presence.StatusInGame
	}
	return presence.StatusOnline
}

// OnConnect registers conn as userID's live connection, restores its channel
// rooms and reports the user online. A previous connection for the same user
// is closed.
//
// Precondition: userID has been authenticated by the transport.
func (s *Service) OnConnect(ctx context.Context, userID int64, conn connection.Conn) {
	if displaced := s.conns.Register(userID, conn); displaced != nil && displaced.ID() != conn.ID() {
		if err := displaced.Close(); err != nil {
			s.logger.Debug("closing displaced connection", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	s.metrics.SetConnections(s.conns.Count())

	n, err := s.channelH.Restore(ctx, userID)
	if err != nil {
		s.logger.Warn("restoring channel rooms", zap.Int64("user_id", userID), zap.Error(err))
	}
	s.logger.Info("user connected",
		zap.Int64("user_id", userID),
		zap.String("conn_id", conn.ID()),
		zap.Int("channels", n),
	)
	s.notifier.Publish(ctx, presence.SourceLocal, presence.Fact{UserID: userID, Status: presence.StatusOnline})
}

// OnDisconnect drops connID if it is still userID's live connection, withdraws
// the user's pending invitations and reports the user offline. A disconnect of
// an already replaced connection is ignored. Channel memberships persist.
func (s *Service) OnDisconnect(ctx context.Context, userID int64, connID string) {
	if !s.conns.UnregisterConn(userID, connID) {
		return
	}
	s.metrics.SetConnections(s.conns.Count())
	withdrawn := s.gameH.Withdraw(userID)
	s.logger.Info("user disconnected",
		zap.Int64("user_id", userID),
		zap.String("conn_id", connID),
		zap.Int("withdrawn_invites", withdrawn),
	)
	s.notifier.Publish(ctx, presence.SourceLocal, presence.Fact{UserID: userID, Status: presence.StatusOffline})
}

// Dispatch decodes one client frame and routes it to its handler. A rejected
// event is reported back to the sender as an error event.
func (s *Service) Dispatch(ctx context.Context, userID int64, frame []byte) {
	in, err := s.dispatcher.Codec().Decode(frame)
	if err != nil {
		s.logger.Debug("undecodable client frame", zap.Int64("user_id", userID), zap.Error(err))
		s.dispatcher.ToUser(userID, EventError, ErrorNotice{Message: err.Error()})
		return
	}
	if err := s.dispatch(ctx, userID, in); err != nil {
		s.logger.Debug("client event rejected",
			zap.Int64("user_id", userID),
			zap.String("event", in.Event),
			zap.Error(err),
		)
		s.dispatcher.ToUser(userID, EventError, ErrorNotice{Event: in.Event, Message: err.Error()})
	}
}

// dispatch routes a decoded client event to the appropriate handler.
func (s *Service) dispatch(ctx context.Context, userID int64, in broadcast.Inbound) error {
	switch in.Event {
	case EventJoinChannel:
		var ref ChannelRef
		if err := in.Bind(&ref); err != nil {
			return err
		}
		return s.channelH.Join(ctx, userID, ref.ChannelID)
	case EventLeaveChannel:
		var ref ChannelRef
		if err := in.Bind(&ref); err != nil {
			return err
		}
		return s.channelH.Leave(ctx, userID, ref.ChannelID)
	case EventMessageToServer:
		var req ChatRequest
		if err := in.Bind(&req); err != nil {
			return err
		}
		_, err := s.channelH.Say(ctx, userID, req)
		return err
	case EventGameInvite:
		var req InviteRequest
		if err := in.Bind(&req); err != nil {
			return err
		}
		_, err := s.gameH.Invite(ctx, userID, req)
		return err
	case EventGameAccept:
		var ref GameRef
		if err := in.Bind(&ref); err != nil {
			return err
		}
		s.gameH.Accept(ctx, userID, ref.GameID)
		return nil
	case EventGameCancel:
		var ref GameRef
		if err := in.Bind(&ref); err != nil {
			return err
		}
		s.gameH.Cancel(userID, ref.GameID)
		return nil
	case EventGameMove:
		var req MoveRequest
		if err := in.Bind(&req); err != nil {
			return err
		}
		s.gameH.Move(userID, req)
		return nil
	default:
		return fmt.Errorf("unknown event %q", in.Event)
	}
}
