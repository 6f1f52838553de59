package match_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/matchhub/internal/game/match"
	"github.com/cory-johannsen/matchhub/internal/game/pong"
)

// manualTicker fires only when the test sends on ch.
type manualTicker struct {
	ch    chan time.Time
	stops atomic.Int32
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stops.Add(1) }

// recordingPersister captures persisted records and optionally fails.
type recordingPersister struct {
	mu      sync.Mutex
	records []match.Record
	fail    bool
}

func (p *recordingPersister) PersistMatchResult(_ context.Context, rec match.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	if p.fail {
		return errors.New("database unavailable")
	}
	return nil
}

func (p *recordingPersister) saved() []match.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]match.Record(nil), p.records...)
}

type harness struct {
	repo      *match.Repository
	engine    *match.Engine
	neg       *match.Negotiator
	persister *recordingPersister
	tickers   chan *manualTicker
}

func newHarness(t *testing.T, winScore int) *harness {
	t.Helper()
	h := &harness{
		repo:      match.NewRepository(),
		persister: &recordingPersister{},
		tickers:   make(chan *manualTicker, 16),
	}
	logger := zaptest.NewLogger(t)
	h.engine = match.NewEngine(h.repo, match.EngineConfig{
		TickInterval: 10 * time.Millisecond,
		WinScore:     winScore,
	}, h.persister, nil, logger, match.WithTicker(func(time.Duration) match.Ticker {
		tk := &manualTicker{ch: make(chan time.Time)}
		h.tickers <- tk
		return tk
	}))
	h.neg = match.NewNegotiator(h.repo, h.engine, pong.ClassicField(), nil, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.engine.Shutdown(ctx)
	})
	return h
}

// accepted returns a session between 1 and 2 that is ready to start.
func (h *harness) accepted(t *testing.T) *match.Session {
	t.Helper()
	s, res := h.neg.Invite(1, 2)
	if res != match.Waiting {
		t.Fatalf("invite: %v", res)
	}
	if _, res := h.neg.Accept(2, s.ID); res != match.Ready {
		t.Fatalf("accept: %v", res)
	}
	return s
}

func (h *harness) nextTicker(t *testing.T) *manualTicker {
	t.Helper()
	select {
	case tk := <-h.tickers:
		return tk
	case <-time.After(2 * time.Second):
		t.Fatal("session loop did not create a ticker")
		return nil
	}
}

// tickUntil fires ticks until finished yields a record.
func tickUntil(t *testing.T, tk *manualTicker, finished <-chan match.Record) match.Record {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case tk.ch <- time.Time{}:
		case rec := <-finished:
			return rec
		case <-deadline:
			t.Fatal("session did not finish")
		}
	}
}

// tick fires n ticks and waits until each has been consumed.
func tick(t *testing.T, tk *manualTicker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case tk.ch <- time.Time{}:
		case <-time.After(2 * time.Second):
			t.Fatal("tick not consumed")
		}
	}
}
