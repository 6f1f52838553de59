package gameserver

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/matchhub/internal/game/broadcast"
	"github.com/cory-johannsen/matchhub/internal/game/channel"
	"github.com/cory-johannsen/matchhub/internal/game/connection"
	"github.com/cory-johannsen/matchhub/internal/game/match"
	"github.com/cory-johannsen/matchhub/internal/game/pong"
	"github.com/cory-johannsen/matchhub/internal/game/presence"
	"github.com/cory-johannsen/matchhub/internal/game/room"
)

// memStore is an in-memory ChannelStore.
type memStore struct {
	mu       sync.Mutex
	channels map[int64]channel.Channel
	members  map[int64]map[int64]bool
	messages []channel.Message
}

func newMemStore() *memStore {
	return &memStore{
		channels: make(map[int64]channel.Channel),
		members:  make(map[int64]map[int64]bool),
	}
}

func (m *memStore) addChannel(id int64, title string, typ channel.Type, members ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[id] = channel.Channel{ID: id, Title: title, Type: typ}
	m.members[id] = make(map[int64]bool)
	for _, uid := range members {
		m.members[id][uid] = true
	}
}

func (m *memStore) ChannelsOf(_ context.Context, userID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, set := range m.members {
		if set[userID] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memStore) Channel(_ context.Context, id int64) (channel.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[id]
	if !ok {
		return channel.Channel{}, channel.ErrNotFound
	}
	c.MemberCount = len(m.members[id])
	return c, nil
}

func (m *memStore) AddMember(_ context.Context, channelID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[channelID]; !ok {
		return false, channel.ErrNotFound
	}
	if m.members[channelID][userID] {
		return false, nil
	}
	m.members[channelID][userID] = true
	return true, nil
}

func (m *memStore) RemoveMember(_ context.Context, channelID, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[channelID]; !ok {
		return 0, channel.ErrNotFound
	}
	if !m.members[channelID][userID] {
		return 0, channel.ErrNotMember
	}
	delete(m.members[channelID], userID)
	return len(m.members[channelID]), nil
}

func (m *memStore) DeleteChannel(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, id)
	delete(m.members, id)
	return nil
}

func (m *memStore) SaveMessage(_ context.Context, channelID, userID int64, body string) (channel.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := channel.Message{
		ID:        int64(len(m.messages) + 1),
		ChannelID: channelID,
		UserID:    userID,
		Body:      body,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *memStore) Create(_ context.Context, title string, typ channel.Type, ownerID int64) (channel.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var id int64 = 100
	for existing := range m.channels {
		if existing >= id {
			id = existing + 1
		}
	}
	m.channels[id] = channel.Channel{ID: id, Title: title, Type: typ}
	m.members[id] = map[int64]bool{ownerID: true}
	return channel.Channel{ID: id, Title: title, Type: typ, MemberCount: 1}, nil
}

func (m *memStore) History(_ context.Context, channelID int64, limit int) ([]channel.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []channel.Message
	for _, msg := range m.messages {
		if msg.ChannelID == channelID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type stubProfiles struct{}

func (stubProfiles) DisplayProfile(_ context.Context, userID int64) (presence.Profile, error) {
	names := map[int64]string{1: "alice", 2: "bob", 3: "carol"}
	name, ok := names[userID]
	if !ok {
		return presence.Profile{}, presence.ErrProfileNotFound
	}
	return presence.Profile{UserID: userID, Nickname: name, Avatar: name + ".png"}, nil
}

// manualTicker fires only when the test sends on ch.
type manualTicker struct{ ch chan time.Time }

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

// signalPersister forwards persisted records to a channel.
type signalPersister struct{ done chan match.Record }

func (p *signalPersister) PersistMatchResult(_ context.Context, rec match.Record) error {
	p.done <- rec
	return nil
}

type world struct {
	conns     *connection.Registry
	rooms     *room.Index
	repo      *match.Repository
	engine    *match.Engine
	store     *memStore
	channelH  *ChannelHandler
	gameH     *GameHandler
	svc       *Service
	tickers   chan *manualTicker
	persisted chan match.Record
}

func newWorld(t *testing.T, winScore int) *world {
	t.Helper()
	logger := zaptest.NewLogger(t)
	w := &world{
		conns:     connection.NewRegistry(),
		rooms:     room.NewIndex(),
		repo:      match.NewRepository(),
		store:     newMemStore(),
		tickers:   make(chan *manualTicker, 8),
		persisted: make(chan match.Record, 8),
	}
	dispatcher := broadcast.NewDispatcher(w.conns, w.rooms, broadcast.JSONCodec{}, nil, logger)
	notifier := presence.NewNotifier(nil)
	notifier.AddListener(presence.NewRebroadcaster(w.rooms, dispatcher, stubProfiles{}, logger,
		presence.WithMemberships(w.store),
	).Listener())

	w.engine = match.NewEngine(w.repo, match.EngineConfig{TickInterval: time.Millisecond, WinScore: winScore},
		&signalPersister{done: w.persisted}, nil, logger,
		match.WithTicker(func(time.Duration) match.Ticker {
			tk := &manualTicker{ch: make(chan time.Time)}
			w.tickers <- tk
			return tk
		}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.engine.Shutdown(ctx)
	})
	catalog, err := pong.NewCatalog()
	require.NoError(t, err)

	w.channelH = NewChannelHandler(w.store, w.rooms, NewChannelEvents(dispatcher), stubProfiles{}, logger)
	w.gameH = NewGameHandler(GameHandlerDeps{
		Conns:      w.conns,
		Rooms:      w.rooms,
		Dispatcher: dispatcher,
		Repo:       w.repo,
		Negotiator: match.NewNegotiator(w.repo, w.engine, pong.ClassicField(), nil, logger),
		Engine:     w.engine,
		Fields:     catalog,
		Notifier:   notifier,
		Profiles:   stubProfiles{},
		Logger:     logger,
	})
	w.svc = NewService(w.conns, dispatcher, notifier, w.channelH, w.gameH, nil, logger)
	return w
}

func (w *world) connect(t *testing.T, uid int64) *connection.Queue {
	t.Helper()
	q := connection.NewQueue(connID(uid), 2048)
	w.svc.OnConnect(context.Background(), uid, q)
	return q
}

func connID(uid int64) string {
	return "conn-" + string(rune('a'+uid))
}

func (w *world) send(t *testing.T, uid int64, event string, payload any) {
	t.Helper()
	frame, err := broadcast.JSONCodec{}.Encode(event, payload)
	require.NoError(t, err)
	w.svc.Dispatch(context.Background(), uid, frame)
}

// received is one decoded frame.
type received struct {
	Event string
	Data  json.RawMessage
}

func (r received) bind(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, v))
}

// drain decodes every frame queued on q.
func drain(t *testing.T, q *connection.Queue) []received {
	t.Helper()
	var out []received
	for {
		select {
		case frame, ok := <-q.Frames():
			if !ok {
				return out
			}
			var r received
			require.NoError(t, json.Unmarshal(frame, &struct {
				Event *string          `json:"event"`
				Data  *json.RawMessage `json:"data"`
			}{&r.Event, &r.Data}))
			out = append(out, r)
		default:
			return out
		}
	}
}

func eventNames(rs []received) []string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Event
	}
	return names
}

func find(rs []received, event string) (received, bool) {
	for _, r := range rs {
		if r.Event == event {
			return r, true
		}
	}
	return received{}, false
}
