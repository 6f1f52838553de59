package gameserver

import (
	"time"

	"github.com/cory-johannsen/matchhub/internal/game/broadcast"
	"github.com/cory-johannsen/matchhub/internal/game/channel"
	"github.com/cory-johannsen/matchhub/internal/game/room"
)

// ChannelEvents emits channel state changes to the peers that must see them.
// Member-list changes go to the channel's room, per-user notices go to one
// connection, and channel-list changes go to everyone.
type ChannelEvents struct {
	dispatcher *broadcast.Dispatcher
}

// NewChannelEvents creates a ChannelEvents.
//
// Precondition: dispatcher must be non-nil.
func NewChannelEvents(dispatcher *broadcast.Dispatcher) *ChannelEvents {
	return &ChannelEvents{dispatcher: dispatcher}
}

// MemberAdded announces m to the channel.
func (e *ChannelEvents) MemberAdded(m channel.Member) {
	e.dispatcher.ToRoom(room.Channel(m.ChannelID), EventChannelMemberAdd, m)
}

// MemberRemoved announces that userID left channelID.
func (e *ChannelEvents) MemberRemoved(channelID, userID int64) {
	e.dispatcher.ToRoom(room.Channel(channelID), EventChannelMemberRemove, MemberRef{ChannelID: channelID, UserID: userID})
}

// MemberUpdated announces m's new view to the channel.
func (e *ChannelEvents) MemberUpdated(m channel.Member) {
	e.dispatcher.ToRoom(room.Channel(m.ChannelID), EventUpdateChannelMember, m)
}

// Mute tells memberID they cannot speak in channelID until expires.
func (e *ChannelEvents) Mute(channelID, memberID int64, expires time.Time) {
	e.dispatcher.ToUser(memberID, EventMuteMember, MuteNotice{ChannelID: channelID, Expires: expires})
}

// Unmute tells memberID they may speak in channelID again.
func (e *ChannelEvents) Unmute(channelID, memberID int64) {
	e.dispatcher.ToUser(memberID, EventUnmuteMember, ChannelRef{ChannelID: channelID})
}

// ChannelUpdated broadcasts c's new listing to everyone.
func (e *ChannelEvents) ChannelUpdated(c channel.Channel) {
	e.dispatcher.ToAll(EventUpdateChannel, c)
}

// ChannelDeleted broadcasts that channelID no longer exists.
func (e *ChannelEvents) ChannelDeleted(channelID int64) {
	e.dispatcher.ToAll(EventDeleteChannel, ChannelRef{ChannelID: channelID})
}

// ChannelListed adds c to everyone's channel list.
func (e *ChannelEvents) ChannelListed(c channel.Channel) {
	e.dispatcher.ToAll(EventAddChannel, c)
}

// ChannelUnlisted removes channelID from everyone's channel list.
func (e *ChannelEvents) ChannelUnlisted(channelID int64) {
	e.dispatcher.ToAll(EventRemoveChannel, ChannelRef{ChannelID: channelID})
}

// AddMyChannel adds c to userID's own channel list.
func (e *ChannelEvents) AddMyChannel(userID int64, c channel.Channel) {
	e.dispatcher.ToUser(userID, EventAddMyChannel, c)
}

// RemoveMyChannel removes channelID from userID's own channel list.
func (e *ChannelEvents) RemoveMyChannel(userID, channelID int64) {
	e.dispatcher.ToUser(userID, EventRemoveMyChannel, ChannelRef{ChannelID: channelID})
}

// Message delivers a persisted chat message to the channel.
func (e *ChannelEvents) Message(m channel.Message) {
	e.dispatcher.ToRoom(room.Channel(m.ChannelID), EventMsgToClient, m)
}

// History replays msgs to userID alone, in order.
func (e *ChannelEvents) History(userID int64, msgs []channel.Message) {
	for _, m := range msgs {
		e.dispatcher.ToUser(userID, EventMsgToClient, m)
	}
}
