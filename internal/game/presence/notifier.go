// Package presence turns user status changes into room re-broadcasts.
package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/cory-johannsen/matchhub/internal/observability"
)

// Status is a user's reachability as seen by other users.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusInGame  Status = "ingame"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusInGame:
		return true
	default:
		return false
	}
}

// SourceLocal labels facts observed by this process.
const SourceLocal = "local"

// Fact is one reported status change.
type Fact struct {
	UserID int64  `json:"userId"`
	Status Status `json:"status"`
	// Origin names the process that observed the change; empty for local facts
	// that have not crossed a feed yet.
	Origin string `json:"origin,omitempty"`
}

// Validate checks that the fact names a user and a known status.
func (f Fact) Validate() error {
	if f.UserID <= 0 {
		return fmt.Errorf("presence fact: invalid user id %d", f.UserID)
	}
	if !f.Status.Valid() {
		return fmt.Errorf("presence fact: unknown status %q", f.Status)
	}
	return nil
}

// Listener reacts to a published fact.
type Listener func(ctx context.Context, f Fact)

// Notifier fans presence facts out to registered listeners.
type Notifier struct {
	mu        sync.RWMutex
	listeners []Listener
	metrics   *observability.Metrics
}

// NewNotifier creates a Notifier with no listeners.
//
// Precondition: metrics may be nil.
func NewNotifier(metrics *observability.Metrics) *Notifier {
	return &Notifier{metrics: metrics}
}

// AddListener registers l for every subsequent fact.
//
// Precondition: l must not be nil.
func (n *Notifier) AddListener(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, l)
}

// Publish delivers f to every listener in registration order on the calling goroutine.
// source labels where the fact came from ("local", "redis").
func (n *Notifier) Publish(ctx context.Context, source string, f Fact) {
	n.metrics.PresenceFact(source)
	n.mu.RLock()
	listeners := make([]Listener, len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, f)
	}
}
