package gameserver

import (
	"time"

	"github.com/cory-johannsen/matchhub/internal/game/pong"
	"github.com/cory-johannsen/matchhub/internal/game/presence"
)

// Client events consumed by Dispatch.
const (
	EventJoinChannel     = "joinChannel"
	EventLeaveChannel    = "leaveChannel"
	EventMessageToServer = "messageToServer"
	EventGameInvite      = "gameInvite"
	EventGameAccept      = "gameAccept"
	EventGameCancel      = "gameCancel"
	EventGameMove        = "gameMove"
)

// Server events produced for remote peers.
const (
	EventChannelMemberAdd    = "channelMemberAdd"
	EventChannelMemberRemove = "channelMemberRemove"
	EventUpdateChannelMember = presence.EventUpdateChannelMember
	EventMuteMember          = "muteMember"
	EventUnmuteMember        = "unmuteMember"
	EventUpdateChannel       = "updateChannel"
	EventDeleteChannel       = "deleteChannel"
	EventAddChannel          = "addChannel"
	EventRemoveChannel       = "removeChannel"
	EventAddMyChannel        = "addMyChannel"
	EventRemoveMyChannel     = "removeMyChannel"
	EventMsgToClient         = "msgToClient"
	EventGameStart           = "gameStart"
	EventGameUpdate          = "gameUpdate"
	EventGameEnd             = "gameEnd"
	EventUpdateGamePlayer    = presence.EventUpdateGamePlayer
	EventError               = "error"
)

// ChannelRef names a channel.
type ChannelRef struct {
	ChannelID int64 `json:"channelId"`
}

// MemberRef names one member of a channel.
type MemberRef struct {
	ChannelID int64 `json:"channelId"`
	UserID    int64 `json:"userId"`
}

// MuteNotice tells a member they are muted until Expires.
type MuteNotice struct {
	ChannelID int64     `json:"channelId"`
	Expires   time.Time `json:"expired"`
}

// ChatRequest is the messageToServer payload.
type ChatRequest struct {
	ChannelID int64  `json:"channelId"`
	Message   string `json:"message"`
}

// InviteRequest is the gameInvite client payload.
type InviteRequest struct {
	UserID int64  `json:"userId"`
	Field  string `json:"field,omitempty"`
}

// GameRef names a match session.
type GameRef struct {
	GameID int64 `json:"gameId"`
}

// MoveRequest is the gameMove client payload. Delta is the paddle's vertical velocity.
type MoveRequest struct {
	GameID int64   `json:"gameId"`
	Delta  float64 `json:"delta"`
}

// InviteNotice is sent to both participants of a new invitation.
type InviteNotice struct {
	GameID  int64            `json:"gameId"`
	Player1 presence.Profile `json:"player1"`
	Player2 presence.Profile `json:"player2"`
	Field   string           `json:"field"`
}

// CancelNotice tells a participant that the other side withdrew.
type CancelNotice struct {
	GameID int64 `json:"gameId"`
	By     int64 `json:"by"`
}

// StartNotice announces a match to its room before the first update.
type StartNotice struct {
	GameID  int64            `json:"gameId"`
	Field   pong.Field       `json:"field"`
	Player1 presence.Profile `json:"player1"`
	Player2 presence.Profile `json:"player2"`
}

// GameUpdate carries one tick's snapshot.
type GameUpdate struct {
	GameID int64      `json:"gameId"`
	State  pong.State `json:"state"`
}

// GameEnd carries the final score.
type GameEnd struct {
	GameID int64 `json:"gameId"`
	Score1 int   `json:"score1"`
	Score2 int   `json:"score2"`
	Winner int64 `json:"winner"`
}

// ErrorNotice reports a rejected client event back to its sender.
type ErrorNotice struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
