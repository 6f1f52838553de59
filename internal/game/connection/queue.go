// Package connection tracks which users currently hold a live connection.
package connection

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Send on a closed connection.
var ErrClosed = errors.New("connection closed")

// ErrFull is returned by Send when the outbound buffer is full.
var ErrFull = errors.New("connection buffer full")

// Conn is a handle that pushes encoded frames to exactly one remote peer.
type Conn interface {
	// ID uniquely identifies this connection instance.
	ID() string
	// Send enqueues one encoded frame without blocking.
	Send(data []byte) error
	// Close invalidates the handle. Close is idempotent.
	Close() error
}

// Queue is a Conn backed by a bounded channel. The transport drains Frames
// and writes each frame to the wire.
type Queue struct {
	id     string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewQueue creates a Queue for the given connection id.
//
// Precondition: id must be non-empty.
// Postcondition: Returns a Queue with an open frames channel of at least one slot.
func NewQueue(id string, bufferSize int) *Queue {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Queue{
		id:     id,
		frames: make(chan []byte, bufferSize),
	}
}

// ID returns the connection id.
func (q *Queue) ID() string {
	return q.id
}

// Send enqueues data.
//
// Postcondition: data is enqueued, or ErrClosed / ErrFull is returned.
func (q *Queue) Send(data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("connection %s: %w", q.id, ErrClosed)
	}
	select {
	case q.frames <- data:
		return nil
	default:
		return fmt.Errorf("connection %s: %w", q.id, ErrFull)
	}
}

// Frames returns the read-only frame channel. It is closed by Close.
func (q *Queue) Frames() <-chan []byte {
	return q.frames
}

// Close marks the queue closed and closes the frames channel.
//
// Postcondition: Further Send calls return ErrClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.frames)
	}
	return nil
}

// IsClosed reports whether the queue has been closed.
func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
