package websocket

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/matchhub/internal/config"
	"github.com/cory-johannsen/matchhub/internal/game/connection"
)

// Conn is one upgraded client socket. Outbound frames are queued on the
// embedded Queue and written by writePump; closing the Queue ends the socket.
type Conn struct {
	*connection.Queue
	ws          *websocket.Conn
	userID      int64
	messageType int
	cfg         config.WebSocketConfig
	logger      *zap.Logger
}

func newConn(id string, userID int64, ws *websocket.Conn, binary bool, cfg config.WebSocketConfig, logger *zap.Logger) *Conn {
	messageType := websocket.TextMessage
	if binary {
		messageType = websocket.BinaryMessage
	}
	return &Conn{
		Queue:       connection.NewQueue(id, cfg.SendBuffer),
		ws:          ws,
		userID:      userID,
		messageType: messageType,
		cfg:         cfg,
		logger:      logger.With(zap.String("conn_id", id), zap.Int64("user_id", userID)),
	}
}

// UserID returns the authenticated user of this socket.
func (c *Conn) UserID() int64 {
	return c.userID
}

func (c *Conn) pingPeriod() time.Duration {
	return c.cfg.PongTimeout * 9 / 10
}

// readPump feeds inbound frames to dispatch until the socket fails.
//
// Postcondition: The queue is closed when readPump returns.
func (c *Conn) readPump(ctx context.Context, dispatch func(ctx context.Context, userID int64, frame []byte)) {
	defer func() { _ = c.Queue.Close() }()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		dispatch(ctx, c.userID, data)
	}
}

// writePump drains the queue to the socket and keeps the peer alive with pings.
//
// Postcondition: The socket is closed when writePump returns.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Frames():
			c.setWriteDeadline()
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(c.messageType, frame); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.setWriteDeadline()
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) setWriteDeadline() {
	if c.cfg.WriteTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
}
