// Package channel defines the chat channel domain model.
package channel

import (
	"errors"
	"time"

	"github.com/cory-johannsen/matchhub/internal/game/presence"
)

// ErrNotFound is returned when a channel does not exist.
var ErrNotFound = errors.New("channel not found")

// Type controls who may join a channel.
type Type int

const (
	TypePublic Type = iota
	TypePrivate
	TypeProtected
)

// Permission is a member's role within a channel.
type Permission int

const (
	PermissionMember Permission = iota
	PermissionAdmin
	PermissionOwner
)

// Channel is a persistent chat channel with its current member count.
//
// ID is set by the persistence layer; zero indicates an unsaved channel.
type Channel struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Type        Type   `json:"type"`
	MemberCount int    `json:"memberCount"`
}

// Member is one user's membership in a channel.
type Member struct {
	ChannelID  int64            `json:"channelId"`
	User       presence.Profile `json:"user"`
	Permission Permission       `json:"permission"`
	Status     presence.Status  `json:"status"`
}

// Message is one persisted chat message.
type Message struct {
	ID        int64     `json:"id"`
	ChannelID int64     `json:"channelId"`
	UserID    int64     `json:"userId"`
	Body      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxMessageLength bounds a chat message body in bytes.
const MaxMessageLength = 2000

// ErrNotMember is returned when a user is not a member of a channel.
var ErrNotMember = errors.New("not a channel member")
