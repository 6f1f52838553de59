package connection

import (
	"sort"
	"sync"
)

// Entry pairs a user id with its live connection.
type Entry struct {
	UserID int64
	Conn   Conn
}

// Registry maps a user id to its single live connection.
// All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]Conn
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[int64]Conn),
	}
}

// Register makes conn the live connection for userID, replacing any prior entry.
//
// Postcondition: Lookup(userID) returns conn. The displaced connection, if any,
// is returned so the caller can close it; Register never closes it itself.
func (r *Registry) Register(userID int64, conn Conn) (displaced Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.conns[userID]
	r.conns[userID] = conn
	if ok && prev != conn {
		return prev
	}
	return nil
}

// Unregister removes the entry for userID. It is a no-op if absent.
func (r *Registry) Unregister(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, userID)
}

// UnregisterConn removes the entry for userID only if it is still the
// connection identified by connID.
//
// Postcondition: Returns true if an entry was removed.
func (r *Registry) UnregisterConn(userID int64, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[userID]
	if !ok || conn.ID() != connID {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Lookup returns the live connection for userID.
//
// Postcondition: Returns (conn, true) if registered, or (nil, false) otherwise.
func (r *Registry) Lookup(userID int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// All returns a snapshot of every registered connection ordered by user id.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.conns))
	for uid, conn := range r.conns {
		entries = append(entries, Entry{UserID: uid, Conn: conn})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
