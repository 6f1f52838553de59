package broadcast

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/matchhub/internal/game/connection"
	"github.com/cory-johannsen/matchhub/internal/game/room"
	"github.com/cory-johannsen/matchhub/internal/observability"
)

// Dispatcher delivers events to one user, one room, or every connection.
// Delivery is best effort: an unreachable target is skipped, never retried.
type Dispatcher struct {
	conns   *connection.Registry
	rooms   *room.Index
	codec   Codec
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewDispatcher creates a Dispatcher.
//
// Precondition: conns, rooms, codec, and logger must be non-nil; metrics may be nil.
func NewDispatcher(conns *connection.Registry, rooms *room.Index, codec Codec, metrics *observability.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		conns:   conns,
		rooms:   rooms,
		codec:   codec,
		metrics: metrics,
		logger:  logger,
	}
}

// Codec returns the frame codec shared with the transport.
func (d *Dispatcher) Codec() Codec {
	return d.codec
}

// ToUser delivers event to userID's live connection, if any.
//
// Postcondition: Returns true if the frame was handed to a live connection.
func (d *Dispatcher) ToUser(userID int64, event string, payload any) bool {
	data, ok := d.encode(event, payload)
	if !ok {
		return false
	}
	conn, live := d.conns.Lookup(userID)
	if !live {
		d.metrics.EventDropped(event)
		return false
	}
	return d.send(userID, conn, event, data)
}

// ToRoom delivers event to every live member of roomID except the excluded users.
// Membership is read once; members joining or leaving afterwards are not considered.
//
// Postcondition: Returns the number of connections the frame was handed to.
func (d *Dispatcher) ToRoom(roomID room.ID, event string, payload any, exclude ...int64) int {
	members := d.rooms.MembersOf(roomID)
	if len(members) == 0 {
		return 0
	}
	data, ok := d.encode(event, payload)
	if !ok {
		return 0
	}

	delivered := 0
	for _, uid := range members {
		if excluded(uid, exclude) {
			continue
		}
		conn, live := d.conns.Lookup(uid)
		if !live {
			d.metrics.EventDropped(event)
			continue
		}
		if d.send(uid, conn, event, data) {
			delivered++
		}
	}
	return delivered
}

// ToAll delivers event to every registered connection.
//
// Postcondition: Returns the number of connections the frame was handed to.
func (d *Dispatcher) ToAll(event string, payload any) int {
	entries := d.conns.All()
	if len(entries) == 0 {
		return 0
	}
	data, ok := d.encode(event, payload)
	if !ok {
		return 0
	}

	delivered := 0
	for _, e := range entries {
		if d.send(e.UserID, e.Conn, event, data) {
			delivered++
		}
	}
	return delivered
}

func (d *Dispatcher) encode(event string, payload any) ([]byte, bool) {
	data, err := d.codec.Encode(event, payload)
	if err != nil {
		d.logger.Error("encoding broadcast event",
			zap.String("event", event),
			zap.Error(err),
		)
		return nil, false
	}
	return data, true
}

func (d *Dispatcher) send(userID int64, conn connection.Conn, event string, data []byte) bool {
	if err := conn.Send(data); err != nil {
		d.metrics.EventDropped(event)
		d.logger.Debug("dropping event for unreachable connection",
			zap.Int64("user_id", userID),
			zap.String("conn_id", conn.ID()),
			zap.String("event", event),
			zap.Error(err),
		)
		return false
	}
	d.metrics.EventDelivered(event)
	return true
}

func excluded(uid int64, exclude []int64) bool {
	for _, x := range exclude {
		if x == uid {
			return true
		}
	}
	return false
}
