package presence

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cory-johannsen/matchhub/internal/game/broadcast"
	"github.com/cory-johannsen/matchhub/internal/game/room"
)

// Events emitted when a member's presence changes.
const (
	EventUpdateChannelMember = "updateChannelMember"
	EventUpdateGamePlayer    = "updateGamePlayer"
)

// ErrProfileNotFound is returned by a ProfileLookup for unknown users.
var ErrProfileNotFound = errors.New("profile not found")

// Profile is the public face of a user in member lists.
type Profile struct {
	UserID   int64  `json:"userId"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

// ProfileLookup resolves a user's display profile.
type ProfileLookup interface {
	DisplayProfile(ctx context.Context, userID int64) (Profile, error)
}

// MembershipLookup resolves the channels a user belongs to in persistent storage.
type MembershipLookup interface {
	ChannelsOf(ctx context.Context, userID int64) ([]int64, error)
}

// MemberView is one member's entry as seen by the rest of a room.
type MemberView struct {
	ChannelID int64   `json:"channelId,omitempty"`
	GameID    int64   `json:"gameId,omitempty"`
	User      Profile `json:"user"`
	Status    Status  `json:"status"`
}

// Rebroadcaster re-emits a member's view to every room the member belongs to.
type Rebroadcaster struct {
	rooms       *room.Index
	dispatcher  *broadcast.Dispatcher
	profiles    ProfileLookup
	memberships MembershipLookup
	logger      *zap.Logger
}

// RebroadcastOption customizes a Rebroadcaster.
type RebroadcastOption func(*Rebroadcaster)

// WithMemberships resolves the channels of users connected to other processes,
// who have no rooms in the local index.
func WithMemberships(m MembershipLookup) RebroadcastOption {
	return func(r *Rebroadcaster) { r.memberships = m }
}

// NewRebroadcaster creates a Rebroadcaster.
//
// Precondition: all arguments must be non-nil.
func NewRebroadcaster(rooms *room.Index, dispatcher *broadcast.Dispatcher, profiles ProfileLookup, logger *zap.Logger, opts ...RebroadcastOption) *Rebroadcaster {
	r := &Rebroadcaster{
		rooms:      rooms,
		dispatcher: dispatcher,
		profiles:   profiles,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Listener returns r as a Notifier listener.
func (r *Rebroadcaster) Listener() Listener {
	return func(ctx context.Context, f Fact) { r.OnFact(ctx, f) }
}

// OnFact sends updateChannelMember to each channel room and updateGamePlayer to
// each match room that f.UserID currently belongs to. A user reported by another
// process is not in the local index; their persistent channels that have local
// members are used instead.
//
// Postcondition: Returns the number of rooms the view was emitted to.
func (r *Rebroadcaster) OnFact(ctx context.Context, f Fact) int {
	rooms := r.rooms.RoomsOf(f.UserID)
	if len(rooms) == 0 && f.Origin != "" {
		rooms = r.remoteRooms(ctx, f.UserID)
	}
	if len(rooms) == 0 {
		return 0
	}

	profile, err := r.profiles.DisplayProfile(ctx, f.UserID)
	if err != nil {
		r.logger.Warn("presence profile lookup failed",
			zap.Int64("user_id", f.UserID),
			zap.Error(err),
		)
		profile = Profile{UserID: f.UserID}
	}

	for _, id := range rooms {
		view := MemberView{User: profile, Status: f.Status}
		event := EventUpdateChannelMember
		if id.Kind == room.KindMatch {
			view.GameID = id.Num
			event = EventUpdateGamePlayer
		} else {
			view.ChannelID = id.Num
		}
		r.dispatcher.ToRoom(id, event, view)
	}
	return len(rooms)
}

// remoteRooms returns the local channel rooms of userID's persistent channels.
func (r *Rebroadcaster) remoteRooms(ctx context.Context, userID int64) []room.ID {
	if r.memberships == nil {
		return nil
	}
	ids, err := r.memberships.ChannelsOf(ctx, userID)
	if err != nil {
		r.logger.Warn("presence membership lookup failed",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return nil
	}
	var rooms []room.ID
	for _, id := range ids {
		if rid := room.Channel(id); r.rooms.Has(rid) {
			rooms = append(rooms, rid)
		}
	}
	return rooms
}
