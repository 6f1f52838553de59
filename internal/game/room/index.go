// Package room maintains room membership for broadcast scoping.
//
// A room is either a persistent channel or an ephemeral match. Both kinds
// share one index so the broadcast layer has a single notion of "room".
package room

import (
	"fmt"
	"sort"
	"sync"
)

// Kind distinguishes persistent rooms from ephemeral ones.
type Kind int

const (
	// KindChannel is a persistent chat channel.
	KindChannel Kind = iota
	// KindMatch is an ephemeral room scoped to one match session.
	KindMatch
)

// String returns the kind's wire prefix.
func (k Kind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindMatch:
		return "match"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Ephemeral reports whether rooms of this kind are destroyed when empty.
func (k Kind) Ephemeral() bool {
	return k == KindMatch
}

// ID identifies a room by kind and number.
type ID struct {
	Kind Kind
	Num  int64
}

// Channel returns the room id for channel n.
func Channel(n int64) ID { return ID{Kind: KindChannel, Num: n} }

// Match returns the room id for match session n.
func Match(n int64) ID { return ID{Kind: KindMatch, Num: n} }

// String returns "kind:num", e.g. "channel:5".
func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.Kind, id.Num)
}

// Index maps rooms to members and members to rooms.
// All methods are safe for concurrent use.
//
// Invariant: members and rooms are mutual inverses.
type Index struct {
	mu      sync.RWMutex
	members map[ID]map[int64]struct{}
	rooms   map[int64]map[ID]struct{}
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{
		members: make(map[ID]map[int64]struct{}),
		rooms:   make(map[int64]map[ID]struct{}),
	}
}

// Join adds userID to roomID. Joining twice has no further effect.
//
// Postcondition: userID ∈ MembersOf(roomID) and roomID ∈ RoomsOf(userID).
func (x *Index) Join(roomID ID, userID int64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	set, ok := x.members[roomID]
	if !ok {
		set = make(map[int64]struct{})
		x.members[roomID] = set
	}
	set[userID] = struct{}{}

	joined, ok := x.rooms[userID]
	if !ok {
		joined = make(map[ID]struct{})
		x.rooms[userID] = joined
	}
	joined[roomID] = struct{}{}
}

// Leave removes userID from roomID. Leaving a room one is not in is a no-op.
//
// Postcondition: Returns true if the room was ephemeral and this call removed
// its last member, destroying the room.
func (x *Index) Leave(roomID ID, userID int64) (destroyed bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if joined, ok := x.rooms[userID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(x.rooms, userID)
		}
	}

	set, ok := x.members[roomID]
	if !ok {
		return false
	}
	if _, member := set[userID]; !member {
		return false
	}
	delete(set, userID)
	if len(set) == 0 && roomID.Kind.Ephemeral() {
		delete(x.members, roomID)
		return true
	}
	return false
}

// Drop removes roomID and all of its memberships, whatever its kind.
//
// Postcondition: Returns the user ids that were members.
func (x *Index) Drop(roomID ID) []int64 {
	x.mu.Lock()
	defer x.mu.Unlock()

	set, ok := x.members[roomID]
	if !ok {
		return nil
	}
	delete(x.members, roomID)

	removed := make([]int64, 0, len(set))
	for uid := range set {
		removed = append(removed, uid)
		if joined, ok := x.rooms[uid]; ok {
			delete(joined, roomID)
			if len(joined) == 0 {
				delete(x.rooms, uid)
			}
		}
	}
	sortIDs(removed)
	return removed
}

// MembersOf returns a snapshot of roomID's members in ascending order.
//
// Postcondition: Returns a slice of user ids (may be empty).
func (x *Index) MembersOf(roomID ID) []int64 {
	x.mu.RLock()
	set := x.members[roomID]
	out := make([]int64, 0, len(set))
	for uid := range set {
		out = append(out, uid)
	}
	x.mu.RUnlock()

	sortIDs(out)
	return out
}

// RoomsOf returns a snapshot of the rooms userID has joined.
//
// Postcondition: Returns a slice of room ids ordered by kind then number (may be empty).
func (x *Index) RoomsOf(userID int64) []ID {
	x.mu.RLock()
	joined := x.rooms[userID]
	out := make([]ID, 0, len(joined))
	for id := range joined {
		out = append(out, id)
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Num < out[j].Num
	})
	return out
}

// IsMember reports whether userID has joined roomID.
func (x *Index) IsMember(roomID ID, userID int64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.members[roomID][userID]
	return ok
}

// Has reports whether roomID has an entry in the index.
func (x *Index) Has(roomID ID) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.members[roomID]
	return ok
}

// RoomCount returns the number of rooms with an entry in the index.
func (x *Index) RoomCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.members)
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
