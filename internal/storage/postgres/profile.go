package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/matchhub/internal/game/presence"
)

// ErrNicknameTaken is returned when creating a user with a nickname in use.
var ErrNicknameTaken = errors.New("nickname already taken")

// ProfileRepository reads user display profiles.
type ProfileRepository struct {
	db *pgxpool.Pool
}

// NewProfileRepository creates a ProfileRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Create inserts a user row. Account management lives outside the hub; this
// exists for provisioning and tests.
//
// Precondition: nickname must be non-empty.
// Postcondition: Returns the stored profile, or ErrNicknameTaken.
func (r *ProfileRepository) Create(ctx context.Context, nickname, avatar string) (presence.Profile, error) {
	var p presence.Profile
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (nickname, avatar) VALUES ($1, $2)
		 RETURNING id, nickname, avatar`,
		nickname, avatar,
	).Scan(&p.UserID, &p.Nickname, &p.Avatar)
	if err != nil {
		if isDuplicateKeyError(err) {
			return presence.Profile{}, ErrNicknameTaken
		}
		return presence.Profile{}, fmt.Errorf("inserting user: %w", err)
	}
	return p, nil
}

// DisplayProfile returns the public profile of userID.
//
// Postcondition: Returns the profile, or presence.ErrProfileNotFound.
func (r *ProfileRepository) DisplayProfile(ctx context.Context, userID int64) (presence.Profile, error) {
	var p presence.Profile
	err := r.db.QueryRow(ctx,
		`SELECT id, nickname, avatar FROM users WHERE id = $1`,
		userID,
	).Scan(&p.UserID, &p.Nickname, &p.Avatar)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return presence.Profile{}, presence.ErrProfileNotFound
		}
		return presence.Profile{}, fmt.Errorf("querying user %d: %w", userID, err)
	}
	return p, nil
}
