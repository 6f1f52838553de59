package websocket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/matchhub/internal/config"
	"github.com/cory-johannsen/matchhub/internal/game/broadcast"
	"github.com/cory-johannsen/matchhub/internal/game/connection"
	"github.com/cory-johannsen/matchhub/internal/observability"
)

type inbound struct {
	userID int64
	frame  []byte
}

// recordingHub captures lifecycle calls and inbound frames.
type recordingHub struct {
	mu          sync.Mutex
	conns       map[int64]connection.Conn
	connected   chan int64
	frames      chan inbound
	disconnects chan string
}

func newRecordingHub() *recordingHub {
	return &recordingHub{
		conns:       make(map[int64]connection.Conn),
		connected:   make(chan int64, 8),
		frames:      make(chan inbound, 8),
		disconnects: make(chan string, 8),
	}
}

func (h *recordingHub) OnConnect(_ context.Context, userID int64, conn connection.Conn) {
	h.mu.Lock()
	h.conns[userID] = conn
	h.mu.Unlock()
	h.connected <- userID
}

func (h *recordingHub) OnDisconnect(_ context.Context, _ int64, connID string) {
	h.disconnects <- connID
}

func (h *recordingHub) Dispatch(_ context.Context, userID int64, frame []byte) {
	h.frames <- inbound{userID: userID, frame: frame}
}

func (h *recordingHub) Codec() broadcast.Codec { return broadcast.JSONCodec{} }

func (h *recordingHub) conn(userID int64) connection.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[userID]
}

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		Host:           "127.0.0.1",
		Port:           0,
		Path:           "/ws",
		Codec:          "json",
		SendBuffer:     16,
		WriteTimeout:   2 * time.Second,
		PongTimeout:    5 * time.Second,
		MaxMessageSize: 4096,
		UserHeader:     "X-User-Id",
	}
}

func startServer(t *testing.T) (*Server, *recordingHub, string) {
	t.Helper()
	hub := newRecordingHub()
	cfg := testConfig()
	srv := NewServer(cfg, hub, HeaderAuthenticator{Header: cfg.UserHeader}, observability.NewMetrics(), zaptest.NewLogger(t))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop()
		ts.Close()
	})
	return srv, hub, ts.URL
}

func dial(t *testing.T, base string, userID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if userID != "" {
		header.Set("X-User-Id", userID)
	}
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/ws", header)
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hub call")
		var zero T
		return zero
	}
}

func TestServer_RejectsUnauthenticatedUpgrade(t *testing.T) {
	_, hub, base := startServer(t)

	_, resp, err := dial(t, base, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dial(t, base, "not-a-number")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Empty(t, hub.connected)
}

func TestServer_RoundTrip(t *testing.T) {
	srv, hub, base := startServer(t)

	ws, _, err := dial(t, base, "7")
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, int64(7), wait(t, hub.connected))
	assert.Equal(t, 1, srv.Open())

	// Outbound: frames queued on the handle reach the client as text messages.
	conn := hub.conn(7)
	require.NoError(t, conn.Send([]byte(`{"event":"gameStart"}`)))
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.JSONEq(t, `{"event":"gameStart"}`, string(data))

	// Inbound: client frames are dispatched with the authenticated user.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"gameMove"}`)))
	in := wait(t, hub.frames)
	assert.Equal(t, int64(7), in.userID)
	assert.JSONEq(t, `{"event":"gameMove"}`, string(in.frame))

	// Client close: the hub hears about exactly this connection.
	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Equal(t, conn.ID(), wait(t, hub.disconnects))
	require.Eventually(t, func() bool { return srv.Open() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ClosingHandleClosesSocket(t *testing.T) {
	_, hub, base := startServer(t)

	ws, _, err := dial(t, base, "3")
	require.NoError(t, err)
	defer ws.Close()
	wait(t, hub.connected)

	conn := hub.conn(3)
	require.NoError(t, conn.Close())

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, conn.ID(), wait(t, hub.disconnects))
}

func TestServer_StopClosesOpenSockets(t *testing.T) {
	srv, hub, base := startServer(t)

	ws, _, err := dial(t, base, "4")
	require.NoError(t, err)
	defer ws.Close()
	wait(t, hub.connected)

	srv.Stop()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, srv.Open())
	wait(t, hub.disconnects)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	_, _, base := startServer(t)

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "matchhub_connections")
}

func TestServer_Mount(t *testing.T) {
	hub := newRecordingHub()
	cfg := testConfig()
	srv := NewServer(cfg, hub, HeaderAuthenticator{Header: cfg.UserHeader}, nil, zaptest.NewLogger(t))
	srv.Mount("/internal", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("mounted"))
	}))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/internal/channels/1")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "mounted", string(body))
}

func TestServer_ListenAndServe(t *testing.T) {
	hub := newRecordingHub()
	cfg := testConfig()
	srv := NewServer(cfg, hub, HeaderAuthenticator{Header: cfg.UserHeader}, nil, zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	require.Eventually(t, func() bool { return srv.IsRunning() && srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	ws, _, err := dial(t, "http://"+srv.Addr(), "9")
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, int64(9), wait(t, hub.connected))

	srv.Stop()
	assert.NoError(t, wait(t, errCh))
	assert.False(t, srv.IsRunning())
}

func TestHeaderAuthenticator(t *testing.T) {
	auth := HeaderAuthenticator{Header: "X-User-Id"}
	cases := map[string]struct {
		value string
		want  int64
		ok    bool
	}{
		"valid":    {value: "42", want: 42, ok: true},
		"padded":   {value: " 42 ", want: 42, ok: true},
		"missing":  {value: ""},
		"zero":     {value: "0"},
		"negative": {value: "-3"},
		"garbage":  {value: "abc"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.value != "" {
				r.Header.Set("X-User-Id", tc.value)
			}
			got, err := auth.Authenticate(r)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrUnauthenticated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
