package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/matchhub/internal/game/match"
)

// MatchRepository stores finished match results.
type MatchRepository struct {
	db *pgxpool.Pool
}

// NewMatchRepository creates a MatchRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewMatchRepository(db *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{db: db}
}

// PersistMatchResult writes rec and both player rows in one transaction.
//
// Precondition: rec.Player1 and rec.Player2 must reference users.
// Postcondition: Either the whole result is stored or nothing is.
func (r *MatchRepository) PersistMatchResult(ctx context.Context, rec match.Record) error {
	var winner *int64
	if rec.Winner != 0 {
		winner = &rec.Winner
	}
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var matchID int64
		if err := tx.QueryRow(ctx,
			`INSERT INTO matches (session_id, field, winner_id, started_at, finished_at)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			rec.SessionID, rec.Field, winner, rec.StartedAt, rec.FinishedAt,
		).Scan(&matchID); err != nil {
			return fmt.Errorf("inserting match %d: %w", rec.SessionID, err)
		}

		batch := &pgx.Batch{}
		insert := `INSERT INTO match_players (match_id, slot, user_id, score) VALUES ($1, $2, $3, $4)`
		batch.Queue(insert, matchID, 1, rec.Player1, rec.Score1)
		batch.Queue(insert, matchID, 2, rec.Player2, rec.Score2)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting players of match %d: %w", rec.SessionID, err)
		}
		return nil
	})
}

// RecentForUser returns up to limit of userID's newest finished matches.
func (r *MatchRepository) RecentForUser(ctx context.Context, userID int64, limit int) ([]match.Record, error) {
	rows, err := r.db.Query(ctx,
		`SELECT m.session_id, m.field, COALESCE(m.winner_id, 0), m.started_at, m.finished_at,
		        p1.user_id, p1.score, p2.user_id, p2.score
		 FROM matches m
		 JOIN match_players p1 ON p1.match_id = m.id AND p1.slot = 1
		 JOIN match_players p2 ON p2.match_id = m.id AND p2.slot = 2
		 WHERE p1.user_id = $1 OR p2.user_id = $1
		 ORDER BY m.finished_at DESC, m.id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying matches of user %d: %w", userID, err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (match.Record, error) {
		var rec match.Record
		err := row.Scan(&rec.SessionID, &rec.Field, &rec.Winner, &rec.StartedAt, &rec.FinishedAt,
			&rec.Player1, &rec.Score1, &rec.Player2, &rec.Score2)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning matches: %w", err)
	}
	return recs, nil
}
