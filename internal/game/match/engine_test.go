package match_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/matchhub/internal/game/match"
	"github.com/cory-johannsen/matchhub/internal/game/pong"
)

func TestEngine_StartInitializesState(t *testing.T) {
	h := newHarness(t, 5)
	s := h.accepted(t)
	require.Equal(t, match.Ready, h.engine.Start(s, nil, nil))
	h.nextTicker(t)

	assert.Equal(t, match.StateRunning, s.State())
	snap, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 0, snap.Player1.Score)
	assert.Equal(t, 0, snap.Player2.Score)
	assert.Equal(t, pong.Point{X: 400, Y: 300}, snap.Ball.Position)
}

func TestEngine_TicksPublishSnapshots(t *testing.T) {
	h := newHarness(t, 5)
	s := h.accepted(t)

	var mu sync.Mutex
	var snaps []pong.State
	h.engine.Start(s, func(id int64, snap pong.State) {
		assert.Equal(t, s.ID, id)
		mu.Lock()
		snaps = append(snaps, snap)
		mu.Unlock()
	}, nil)
	tk := h.nextTicker(t)
	tick(t, tk, 3)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) == 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, snaps[2].Ball.Position.X, snaps[0].Ball.Position.X)
}

func TestEngine_RunsUntilWinAndRemovesSessionOnce(t *testing.T) {
	h := newHarness(t, 3)
	s := h.accepted(t)

	finished := make(chan match.Record, 4)
	var lastSnap pong.State
	h.engine.Start(s, func(_ int64, snap pong.State) { lastSnap = snap }, func(rec match.Record) {
		finished <- rec
	})
	tk := h.nextTicker(t)
	rec := tickUntil(t, tk, finished)

	assert.Equal(t, s.ID, rec.SessionID)
	assert.Equal(t, 3, rec.Score1)
	assert.Equal(t, 0, rec.Score2)
	assert.Equal(t, int64(1), rec.Winner)
	assert.Equal(t, "classic", rec.Field)
	assert.Equal(t, 3, lastSnap.Player1.Score, "final snapshot carries the final score")
	assert.Equal(t, match.StateFinished, s.State())

	require.Eventually(t, func() bool {
		_, ok := h.repo.Get(s.ID)
		return !ok && tk.stops.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.engine.Running())

	select {
	case tk.ch <- time.Time{}:
		t.Fatal("ticker fired after the session finished")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Len(t, finished, 0, "finish fires exactly once")

	require.Eventually(t, func() bool { return len(h.persister.saved()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, rec, h.persister.saved()[0])

	require.NoError(t, h.engine.Shutdown(context.Background()))
	assert.Equal(t, int32(1), tk.stops.Load(), "stop is idempotent")
}

func TestEngine_PersistFailureStillRemovesSession(t *testing.T) {
	h := newHarness(t, 1)
	h.persister.fail = true
	s := h.accepted(t)

	finished := make(chan match.Record, 1)
	h.engine.Start(s, nil, func(rec match.Record) { finished <- rec })
	tickUntil(t, h.nextTicker(t), finished)

	require.Eventually(t, func() bool {
		_, ok := h.repo.Get(s.ID)
		return !ok && len(h.persister.saved()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_UpdatePanicSkipsOnlyThatTick(t *testing.T) {
	h := newHarness(t, 5)
	s := h.accepted(t)

	var mu sync.Mutex
	calls := 0
	h.engine.Start(s, func(int64, pong.State) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("broadcast failed")
		}
	}, nil)
	tk := h.nextTicker(t)
	tick(t, tk, 3)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, match.StateRunning, s.State())
}

func TestEngine_MoveOwnPaddleOnly(t *testing.T) {
	h := newHarness(t, 5)
	s := h.accepted(t)
	h.engine.Start(s, nil, nil)
	h.nextTicker(t)

	assert.True(t, h.engine.Move(s.ID, 2, 4))
	assert.False(t, h.engine.Move(s.ID, 3, 4), "non-participant")

	snap, _ := s.Snapshot()
	assert.Equal(t, 4.0, snap.Player2.Vector.DY)
	assert.Equal(t, 0.0, snap.Player1.Vector.DY)
}

func TestEngine_MoveIgnoredOutsideRunning(t *testing.T) {
	h := newHarness(t, 5)
	s, _ := h.neg.Invite(1, 2)

	before, _ := json.Marshal(s)
	beforeSnap, _ := s.Snapshot()
	assert.False(t, h.engine.Move(s.ID, 1, 5))
	assert.False(t, h.engine.Move(999, 1, 5))
	after, _ := json.Marshal(s)
	afterSnap, _ := s.Snapshot()

	assert.Equal(t, before, after)
	assert.Equal(t, beforeSnap, afterSnap)
	assert.Equal(t, match.StateInvited, s.State())
}

func TestEngine_ShutdownStopsLoops(t *testing.T) {
	h := newHarness(t, 5)
	s := h.accepted(t)
	h.engine.Start(s, nil, nil)
	tk := h.nextTicker(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.engine.Shutdown(ctx))
	assert.Equal(t, int32(1), tk.stops.Load())
	assert.Equal(t, 0, h.engine.Running())
	require.NoError(t, h.engine.Shutdown(ctx))
}

func TestEngine_WallClockTicker(t *testing.T) {
	repo := match.NewRepository()
	engine := match.NewEngine(repo, match.EngineConfig{
		TickInterval: time.Millisecond,
		WinScore:     1,
	}, nil, nil, zaptest.NewLogger(t))
	neg := match.NewNegotiator(repo, engine, pong.ClassicField(), nil, zaptest.NewLogger(t))

	s, _ := neg.Invite(1, 2)
	neg.Accept(2, s.ID)
	finished := make(chan match.Record, 1)
	require.Equal(t, match.Ready, neg.Start(s.ID, nil, func(rec match.Record) { finished <- rec }))

	select {
	case rec := <-finished:
		assert.Equal(t, 1, rec.Score1)
	case <-time.After(5 * time.Second):
		t.Fatal("wall-clock session did not finish")
	}
	require.NoError(t, engine.Shutdown(context.Background()))
}

func TestNewEngine_RejectsZeroInterval(t *testing.T) {
	assert.Panics(t, func() {
		match.NewEngine(match.NewRepository(), match.EngineConfig{WinScore: 1}, nil, nil, zaptest.NewLogger(t))
	})
}
