// Package notifyapi is the HTTP surface the account and channel REST tier
// calls after it has changed state, so that connected users hear about it.
// Requests carry already-resolved ids; the gateway only routes /internal from
// inside the cluster.
package notifyapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cory-johannsen/matchhub/internal/game/channel"
	"github.com/cory-johannsen/matchhub/internal/game/match"
	"github.com/cory-johannsen/matchhub/internal/game/presence"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Channels performs channel changes and notifies the affected users.
type Channels interface {
	Create(ctx context.Context, title string, typ channel.Type, ownerID int64) (channel.Channel, error)
	Mute(channelID, userID int64, until time.Time)
	Unmute(channelID, userID int64)
	UpdateMember(ctx context.Context, channelID, userID int64, perm channel.Permission, status presence.Status)
	History(ctx context.Context, channelID int64, limit int) ([]channel.Message, error)
}

// Statuses reports a user's current presence.
type Statuses interface {
	StatusOf(userID int64) presence.Status
}

// MatchHistory lists a user's finished matches, newest first.
type MatchHistory interface {
	RecentForUser(ctx context.Context, userID int64, limit int) ([]match.Record, error)
}

// API serves the notification routes.
type API struct {
	channels Channels
	statuses Statuses
	matches  MatchHistory
	now      func() time.Time
	logger   *zap.Logger
}

// New creates an API.
//
// Precondition: all arguments must be non-nil.
func New(channels Channels, statuses Statuses, matches MatchHistory, logger *zap.Logger) *API {
	return &API{
		channels: channels,
		statuses: statuses,
		matches:  matches,
		now:      time.Now,
		logger:   logger,
	}
}

// Routes returns the router to mount under /internal.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/channels", a.createChannel)
	r.Get("/channels/{channelID}/messages", a.history)
	r.Put("/channels/{channelID}/members/{userID}", a.updateMember)
	r.Put("/channels/{channelID}/mutes/{userID}", a.mute)
	r.Delete("/channels/{channelID}/mutes/{userID}", a.unmute)
	r.Get("/users/{userID}/matches", a.recentMatches)
	return r
}

type createChannelRequest struct {
	Title   string       `json:"title"`
	Type    channel.Type `json:"type"`
	OwnerID int64        `json:"ownerId"`
}

type updateMemberRequest struct {
	Permission channel.Permission `json:"permission"`
}

type muteRequest struct {
	Expires time.Time `json:"expires"`
}

type matchView struct {
	GameID     int64     `json:"gameId"`
	Field      string    `json:"field"`
	Player1    int64     `json:"player1"`
	Player2    int64     `json:"player2"`
	Score1     int       `json:"score1"`
	Score2     int       `json:"score2"`
	Winner     int64     `json:"winner,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (a *API) createChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.OwnerID <= 0 {
		http.Error(w, "ownerId is required", http.StatusBadRequest)
		return
	}
	switch req.Type {
	case channel.TypePublic, channel.TypePrivate, channel.TypeProtected:
	default:
		http.Error(w, "unknown channel type", http.StatusBadRequest)
		return
	}
	ch, err := a.channels.Create(r.Context(), req.Title, req.Type, req.OwnerID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	channelID, ok := pathID(w, r, "channelID")
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	msgs, err := a.channels.History(r.Context(), channelID, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []channel.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *API) updateMember(w http.ResponseWriter, r *http.Request) {
	channelID, ok := pathID(w, r, "channelID")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req updateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body: "+err.Error(), http.StatusBadRequest)
		return
	}
	switch req.Permission {
	case channel.PermissionMember, channel.PermissionAdmin, channel.PermissionOwner:
	default:
		http.Error(w, "unknown permission", http.StatusBadRequest)
		return
	}
	a.channels.UpdateMember(r.Context(), channelID, userID, req.Permission, a.statuses.StatusOf(userID))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) mute(w http.ResponseWriter, r *http.Request) {
	channelID, ok := pathID(w, r, "channelID")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req muteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Expires.After(a.now()) {
		http.Error(w, "expires must be in the future", http.StatusBadRequest)
		return
	}
	a.channels.Mute(channelID, userID, req.Expires)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) unmute(w http.ResponseWriter, r *http.Request) {
	channelID, ok := pathID(w, r, "channelID")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	a.channels.Unmute(channelID, userID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) recentMatches(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	recs, err := a.matches.RecentForUser(r.Context(), userID, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	views := make([]matchView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, matchView{
			GameID:     rec.SessionID,
			Field:      rec.Field,
			Player1:    rec.Player1,
			Player2:    rec.Player2,
			Score1:     rec.Score1,
			Score2:     rec.Score2,
			Winner:     rec.Winner,
			StartedAt:  rec.StartedAt,
			FinishedAt: rec.FinishedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, channel.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	a.logger.Error("notification request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxLimit {
		http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
