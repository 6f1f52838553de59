// Package postgres stores profiles, channels, chat history and match results
// in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/matchhub/internal/config"
)

// applicationName tags every connection in pg_stat_activity.
const applicationName = "matchhub"

// Pool owns the pgx connection pool shared by all repositories.
type Pool struct {
	pool     *pgxpool.Pool
	done     chan struct{}
	doneOnce sync.Once
}

// PoolHealth is one monitor observation.
type PoolHealth struct {
	Err      error
	Acquired int32
	Idle     int32
	Total    int32
}

// NewPool connects to the database described by cfg.
//
// Precondition: cfg must pass config validation.
// Postcondition: Returns a pinged Pool or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
	}
	return &Pool{pool: pool, done: make(chan struct{})}, nil
}

// Health pings the database, giving up after timeout.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

// Monitor pings the database every interval and hands each observation to
// report, blocking until Close is called.
//
// Precondition: interval and timeout must be positive; report must be non-nil.
func (p *Pool) Monitor(interval, timeout time.Duration, report func(PoolHealth)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			stat := p.pool.Stat()
			report(PoolHealth{
				Err:      p.Health(context.Background(), timeout),
				Acquired: stat.AcquiredConns(),
				Idle:     stat.IdleConns(),
				Total:    stat.TotalConns(),
			})
		}
	}
}

// Close ends Monitor and releases every connection. Safe to call more than once.
func (p *Pool) Close() {
	p.doneOnce.Do(func() {
		close(p.done)
		p.pool.Close()
	})
}

// DB returns the pool used by the repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
