package gameserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/matchhub/internal/game/channel"
	"github.com/cory-johannsen/matchhub/internal/game/presence"
	"github.com/cory-johannsen/matchhub/internal/game/room"
)

// ChannelStore persists channel membership and chat history.
type ChannelStore interface {
	// ChannelsOf returns the ids of every channel userID belongs to.
	ChannelsOf(ctx context.Context, userID int64) ([]int64, error)
	// Channel returns channel id with its current member count, or channel.ErrNotFound.
	Channel(ctx context.Context, id int64) (channel.Channel, error)
	// AddMember adds userID to channelID; added is false if already a member.
	AddMember(ctx context.Context, channelID, userID int64) (added bool, err error)
	// RemoveMember removes userID and returns the remaining member count, or channel.ErrNotMember.
	RemoveMember(ctx context.Context, channelID, userID int64) (remaining int, err error)
	// DeleteChannel removes channelID and everything attached to it.
	DeleteChannel(ctx context.Context, id int64) error
	// SaveMessage persists one chat message.
	SaveMessage(ctx context.Context, channelID, userID int64, body string) (channel.Message, error)
	// Create inserts a channel whose only member is its owner.
	Create(ctx context.Context, title string, typ channel.Type, ownerID int64) (channel.Channel, error)
	// History returns up to limit of the newest messages of channelID, oldest first.
	History(ctx context.Context, channelID int64, limit int) ([]channel.Message, error)
}

// HistoryReplay is how many recent messages a user receives on joining a channel.
const HistoryReplay = 50

var (
	// errJoinRestricted is returned for sockets joining a non-public channel they are not in.
	errJoinRestricted = errors.New("channel requires an invitation")
	// ErrMuted is returned when a muted member speaks.
	ErrMuted = errors.New("muted in this channel")
)

type muteKey struct {
	channelID int64
	userID    int64
}

// ChannelHandler handles channel membership and chat events.
type ChannelHandler struct {
	store    ChannelStore
	rooms    *room.Index
	events   *ChannelEvents
	profiles presence.ProfileLookup
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	muted map[muteKey]time.Time
}

// NewChannelHandler creates a ChannelHandler with the given dependencies.
//
// Precondition: all arguments must be non-nil.
func NewChannelHandler(store ChannelStore, rooms *room.Index, events *ChannelEvents, profiles presence.ProfileLookup, logger *zap.Logger) *ChannelHandler {
	return &ChannelHandler{
		store:    store,
		rooms:    rooms,
		events:   events,
		profiles: profiles,
		logger:   logger,
		now:      time.Now,
		muted:    make(map[muteKey]time.Time),
	}
}

// Events returns the emitter used for channel notifications.
func (h *ChannelHandler) Events() *ChannelEvents {
	return h.events
}

// Restore joins userID to the rooms of every channel it belongs to.
//
// Postcondition: Returns the number of channel rooms joined, or an error from the store.
func (h *ChannelHandler) Restore(ctx context.Context, userID int64) (int, error) {
	ids, err := h.store.ChannelsOf(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("loading channels of user %d: %w", userID, err)
	}
	for _, id := range ids {
		h.rooms.Join(room.Channel(id), userID)
	}
	return len(ids), nil
}

// Join adds userID to channelID, announces the new member and refreshes listings.
// Joining a channel the user already belongs to only re-joins its room.
//
// Precondition: userID must be a connected user.
// Postcondition: On success userID is a member of the channel room.
func (h *ChannelHandler) Join(ctx context.Context, userID, channelID int64) error {
	ch, err := h.store.Channel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("joining channel %d: %w", channelID, err)
	}
	if ch.Type != channel.TypePublic && !h.rooms.IsMember(room.Channel(channelID), userID) {
		return errJoinRestricted
	}

	added, err := h.store.AddMember(ctx, channelID, userID)
	if err != nil {
		return fmt.Errorf("joining channel %d: %w", channelID, err)
	}
	h.rooms.Join(room.Channel(channelID), userID)
	if !added {
		return nil
	}

	h.events.MemberAdded(channel.Member{
		ChannelID:  channelID,
		User:       h.profile(ctx, userID),
		Permission: channel.PermissionMember,
		Status:     presence.StatusOnline,
	})
	if fresh, err := h.store.Channel(ctx, channelID); err == nil {
		ch = fresh
	}
	h.events.AddMyChannel(userID, ch)
	h.events.ChannelUpdated(ch)
	h.replayHistory(ctx, userID, channelID)
	return nil
}

// replayHistory sends the channel's recent messages to a new member only.
func (h *ChannelHandler) replayHistory(ctx context.Context, userID, channelID int64) {
	msgs, err := h.store.History(ctx, channelID, HistoryReplay)
	if err != nil {
		h.logger.Warn("loading channel history",
			zap.Int64("channel_id", channelID),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return
	}
	h.events.History(userID, msgs)
}

// Leave removes userID from channelID. The channel is deleted when its last
// member leaves. Leaving a channel the user is not in is a no-op.
//
// Postcondition: userID is no longer in the channel room.
func (h *ChannelHandler) Leave(ctx context.Context, userID, channelID int64) error {
	remaining, err := h.store.RemoveMember(ctx, channelID, userID)
	if errors.Is(err, channel.ErrNotMember) || errors.Is(err, channel.ErrNotFound) {
		h.rooms.Leave(room.Channel(channelID), userID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("leaving channel %d: %w", channelID, err)
	}

	h.rooms.Leave(room.Channel(channelID), userID)
	h.events.MemberRemoved(channelID, userID)
	h.events.RemoveMyChannel(userID, channelID)

	if remaining > 0 {
		if ch, err := h.store.Channel(ctx, channelID); err == nil {
			h.events.ChannelUpdated(ch)
		}
		return nil
	}

	if err := h.store.DeleteChannel(ctx, channelID); err != nil {
		return fmt.Errorf("deleting empty channel %d: %w", channelID, err)
	}
	h.rooms.Drop(room.Channel(channelID))
	h.events.ChannelDeleted(channelID)
	h.events.ChannelUnlisted(channelID)
	h.logger.Info("deleted empty channel", zap.Int64("channel_id", channelID))
	return nil
}

// Say persists a chat message from userID and delivers it to the channel.
//
// Precondition: userID must be a member of the channel room.
// Postcondition: Returns the stored message or an error; nothing is delivered on error.
func (h *ChannelHandler) Say(ctx context.Context, userID int64, req ChatRequest) (channel.Message, error) {
	body := strings.TrimSpace(req.Message)
	if body == "" {
		return channel.Message{}, errors.New("message must not be empty")
	}
	if len(body) > channel.MaxMessageLength {
		return channel.Message{}, fmt.Errorf("message exceeds %d bytes", channel.MaxMessageLength)
	}
	if !h.rooms.IsMember(room.Channel(req.ChannelID), userID) {
		return channel.Message{}, channel.ErrNotMember
	}
	if h.isMuted(req.ChannelID, userID) {
		return channel.Message{}, ErrMuted
	}

	msg, err := h.store.SaveMessage(ctx, req.ChannelID, userID, body)
	if err != nil {
		return channel.Message{}, fmt.Errorf("saving message: %w", err)
	}
	h.events.Message(msg)
	return msg, nil
}

// Create stores a new channel owned by ownerID, joins the owner's room and
// lists the channel for everyone unless it is private.
//
// Postcondition: Returns the stored channel or the store's error; nothing is emitted on error.
func (h *ChannelHandler) Create(ctx context.Context, title string, typ channel.Type, ownerID int64) (channel.Channel, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return channel.Channel{}, errors.New("channel title must not be empty")
	}
	ch, err := h.store.Create(ctx, title, typ, ownerID)
	if err != nil {
		return channel.Channel{}, fmt.Errorf("creating channel: %w", err)
	}
	h.rooms.Join(room.Channel(ch.ID), ownerID)
	if ch.Type != channel.TypePrivate {
		h.events.ChannelListed(ch)
	}
	h.events.AddMyChannel(ownerID, ch)
	h.logger.Info("created channel", zap.Int64("channel_id", ch.ID), zap.Int64("owner_id", ownerID))
	return ch, nil
}

// Mute silences userID in channelID until until and tells them so.
//
// Precondition: until must be in the future.
func (h *ChannelHandler) Mute(channelID, userID int64, until time.Time) {
	h.mu.Lock()
	h.muted[muteKey{channelID, userID}] = until
	h.mu.Unlock()
	h.events.Mute(channelID, userID, until)
}

// Unmute lifts a mute early. Unmuting a member who is not muted still notifies them.
func (h *ChannelHandler) Unmute(channelID, userID int64) {
	h.mu.Lock()
	delete(h.muted, muteKey{channelID, userID})
	h.mu.Unlock()
	h.events.Unmute(channelID, userID)
}

func (h *ChannelHandler) isMuted(channelID, userID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := muteKey{channelID, userID}
	until, ok := h.muted[key]
	if !ok {
		return false
	}
	if !h.now().Before(until) {
		delete(h.muted, key)
		return false
	}
	return true
}

// UpdateMember announces userID's changed permission to channelID.
func (h *ChannelHandler) UpdateMember(ctx context.Context, channelID, userID int64, perm channel.Permission, status presence.Status) {
	h.events.MemberUpdated(channel.Member{
		ChannelID:  channelID,
		User:       h.profile(ctx, userID),
		Permission: perm,
		Status:     status,
	})
}

// History returns up to limit of channelID's newest messages, oldest first.
func (h *ChannelHandler) History(ctx context.Context, channelID int64, limit int) ([]channel.Message, error) {
	msgs, err := h.store.History(ctx, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history of channel %d: %w", channelID, err)
	}
	return msgs, nil
}

func (h *ChannelHandler) profile(ctx context.Context, userID int64) presence.Profile {
	return displayProfile(ctx, h.profiles, h.logger, userID)
}

// displayProfile resolves userID's profile, falling back to a bare id on failure.
func displayProfile(ctx context.Context, profiles presence.ProfileLookup, logger *zap.Logger, userID int64) presence.Profile {
	p, err := profiles.DisplayProfile(ctx, userID)
	if err != nil {
		logger.Warn("profile lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return presence.Profile{UserID: userID}
	}
	return p
}
