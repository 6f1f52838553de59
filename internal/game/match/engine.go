package match

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/matchhub/internal/game/pong"
	"github.com/cory-johannsen/matchhub/internal/observability"
)

// UpdateFunc receives the snapshot produced by each tick.
type UpdateFunc func(id int64, snap pong.State)

// FinishFunc receives the final record once a session has finished.
type FinishFunc func(rec Record)

// Record is the final result of a finished session.
type Record struct {
	SessionID  int64
	Field      string
	Player1    int64
	Player2    int64
	Score1     int
	Score2     int
	Winner     int64
	StartedAt  time.Time
	FinishedAt time.Time
}

// Persister stores finished match results.
type Persister interface {
	PersistMatchResult(ctx context.Context, rec Record) error
}

// Ticker is the periodic trigger driving one session loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// EngineConfig holds the simulation rules shared by every session.
type EngineConfig struct {
	TickInterval   time.Duration
	WinScore       int
	ServeDelay     int
	PersistTimeout time.Duration
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithTicker replaces the wall-clock ticker factory.
func WithTicker(fn func(time.Duration) Ticker) EngineOption {
	return func(e *Engine) { e.newTicker = fn }
}

// WithClock replaces time.Now for start and finish timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// worker is the loop owning one Running session.
type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// stop cancels the loop. Safe to call any number of times from any goroutine.
func (w *worker) stop() {
	w.once.Do(w.cancel)
}

// Engine runs one tick loop per Running session.
//
// Invariant: at most one worker exists per session id.
type Engine struct {
	repo      *Repository
	cfg       EngineConfig
	persister Persister
	metrics   *observability.Metrics
	logger    *zap.Logger
	newTicker func(time.Duration) Ticker
	now       func() time.Time

	mu       sync.Mutex
	workers  map[int64]*worker
	persists sync.WaitGroup
}

// NewEngine creates an Engine.
//
// Precondition: repo and logger must be non-nil; cfg.TickInterval > 0; cfg.WinScore > 0.
// persister and metrics may be nil.
func NewEngine(repo *Repository, cfg EngineConfig, persister Persister, metrics *observability.Metrics, logger *zap.Logger, opts ...EngineOption) *Engine {
	if cfg.TickInterval <= 0 || cfg.WinScore <= 0 {
		panic("match.NewEngine: tick interval and win score must be > 0")
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	e := &Engine{
		repo:      repo,
		cfg:       cfg,
		persister: persister,
		metrics:   metrics,
		logger:    logger,
		newTicker: func(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} },
		now:       time.Now,
		workers:   make(map[int64]*worker),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start moves s from Accepted to Running, resets its simulation state and
// launches its tick loop.
//
// Postcondition: Returns Ready if a loop was launched; InvalidState if s was not Accepted.
func (e *Engine) Start(s *Session, onUpdate UpdateFunc, onFinish FinishFunc) Result {
	s.mu.Lock()
	if s.state != StateAccepted {
		s.mu.Unlock()
		return InvalidState
	}
	s.state = StateRunning
	s.sim = pong.NewState(s.field, s.Player1, s.Player2, e.cfg.ServeDelay)
	s.startedAt = e.now()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{cancel: cancel, done: make(chan struct{})}
	e.mu.Lock()
	e.workers[s.ID] = w
	e.mu.Unlock()

	e.metrics.SessionStateChanged(StateAccepted.String(), StateRunning.String())
	e.logger.Info("match started",
		zap.Int64("session_id", s.ID),
		zap.Int64("player1", s.Player1),
		zap.Int64("player2", s.Player2),
	)
	go e.run(ctx, s, w, onUpdate, onFinish)
	return Ready
}

// Move sets userID's paddle velocity in session id.
// Absent sessions, sessions that are not Running and non-participants are ignored.
//
// Postcondition: Returns true only if the caller's paddle vector was updated.
func (e *Engine) Move(id, userID int64, dy float64) bool {
	s, ok := e.repo.Get(id)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return false
	}
	return s.sim.SetPaddleSpeed(s.field, s.sim.SideOf(userID), dy)
}

// Running returns the number of live session loops.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

// Shutdown stops every session loop, waits for them to exit, then waits for
// pending result writes. Stopped sessions are not finished or persisted.
//
// Postcondition: Returns ctx.Err() if ctx expires before everything drained.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	workers := make([]*worker, 0, len(e.workers))
	for id, w := range e.workers {
		workers = append(workers, w)
		delete(e.workers, id)
	}
	e.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	for _, w := range workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	drained := make(chan struct{})
	go func() {
		e.persists.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run(ctx context.Context, s *Session, w *worker, onUpdate UpdateFunc, onFinish FinishFunc) {
	defer close(w.done)
	t := e.newTicker(e.cfg.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if e.tick(s, onUpdate) {
				e.finish(s, w, onFinish)
				return
			}
		}
	}
}

// tick advances s by one step and publishes the snapshot.
// A panic anywhere in the tick is logged and only skips this tick's broadcast.
func (e *Engine) tick(s *Session, onUpdate UpdateFunc) (finished bool) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.TickFailed()
			e.logger.Error("match tick failed",
				zap.Int64("session_id", s.ID),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	snap, done, ok := e.advance(s)
	if !ok {
		return false
	}
	finished = done
	e.metrics.Tick()
	if onUpdate != nil {
		onUpdate(s.ID, snap)
	}
	return finished
}

// advance steps the simulation under the session lock.
func (e *Engine) advance(s *Session) (snap pong.State, finished, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return pong.State{}, false, false
	}
	ev := s.sim.Step(s.field, e.cfg.WinScore)
	if ev.Finished {
		s.state = StateFinished
		s.finishedAt = e.now()
	}
	return s.sim, ev.Finished, true
}

func (e *Engine) finish(s *Session, w *worker, onFinish FinishFunc) {
	w.stop()
	e.mu.Lock()
	if e.workers[s.ID] == w {
		delete(e.workers, s.ID)
	}
	e.mu.Unlock()

	rec := s.record()
	e.metrics.SessionStateChanged(StateRunning.String(), "")
	e.logger.Info("match finished",
		zap.Int64("session_id", rec.SessionID),
		zap.Int("score1", rec.Score1),
		zap.Int("score2", rec.Score2),
		zap.Int64("winner", rec.Winner),
	)

	if onFinish != nil {
		e.notifyFinish(onFinish, rec)
	}
	e.persist(rec)
	e.repo.Delete(s.ID)
}

func (e *Engine) notifyFinish(onFinish FinishFunc, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("match finish callback failed",
				zap.Int64("session_id", rec.SessionID),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	onFinish(rec)
}

// persist hands rec to the persister without blocking the caller.
func (e *Engine) persist(rec Record) {
	if e.persister == nil {
		return
	}
	e.persists.Add(1)
	go func() {
		defer e.persists.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PersistTimeout)
		defer cancel()
		if err := e.persister.PersistMatchResult(ctx, rec); err != nil {
			e.metrics.MatchResult("failed")
			e.logger.Error("persisting match result",
				zap.Int64("session_id", rec.SessionID),
				zap.Error(err),
			)
			return
		}
		e.metrics.MatchResult("saved")
	}()
}

func (s *Session) record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := Record{
		SessionID:  s.ID,
		Field:      s.field.Name,
		Player1:    s.Player1,
		Player2:    s.Player2,
		Score1:     s.sim.Player1.Score,
		Score2:     s.sim.Player2.Score,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
	}
	switch s.sim.Winner() {
	case pong.Player1:
		rec.Winner = s.Player1
	case pong.Player2:
		rec.Winner = s.Player2
	}
	return rec
}
