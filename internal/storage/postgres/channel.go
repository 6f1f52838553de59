package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/matchhub/internal/game/channel"
)

// ChannelRepository persists channels, their members and chat history.
type ChannelRepository struct {
	db *pgxpool.Pool
}

// NewChannelRepository creates a ChannelRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewChannelRepository(db *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// Create inserts a channel owned by ownerID.
//
// Precondition: title must be non-empty; ownerID must reference a user.
// Postcondition: Returns the channel with one member, the owner.
func (r *ChannelRepository) Create(ctx context.Context, title string, typ channel.Type, ownerID int64) (channel.Channel, error) {
	var c channel.Channel
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO channels (title, type) VALUES ($1, $2) RETURNING id, title, type`,
			title, int16(typ),
		).Scan(&c.ID, &c.Title, &c.Type); err != nil {
			return fmt.Errorf("inserting channel: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO channel_members (channel_id, user_id, permission) VALUES ($1, $2, $3)`,
			c.ID, ownerID, int16(channel.PermissionOwner),
		); err != nil {
			return fmt.Errorf("inserting channel owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return channel.Channel{}, err
	}
	c.MemberCount = 1
	return c, nil
}

// ChannelsOf returns the ids of every channel userID belongs to, in id order.
func (r *ChannelRepository) ChannelsOf(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT channel_id FROM channel_members WHERE user_id = $1 ORDER BY channel_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying channels of user %d: %w", userID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scanning channel ids: %w", err)
	}
	return ids, nil
}

// Channel returns channel id with its current member count.
//
// Postcondition: Returns the channel, or channel.ErrNotFound.
func (r *ChannelRepository) Channel(ctx context.Context, id int64) (channel.Channel, error) {
	var c channel.Channel
	err := r.db.QueryRow(ctx,
		`SELECT c.id, c.title, c.type,
		        (SELECT COUNT(*) FROM channel_members m WHERE m.channel_id = c.id)
		 FROM channels c WHERE c.id = $1`,
		id,
	).Scan(&c.ID, &c.Title, &c.Type, &c.MemberCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return channel.Channel{}, channel.ErrNotFound
		}
		return channel.Channel{}, fmt.Errorf("querying channel %d: %w", id, err)
	}
	return c, nil
}

// AddMember adds userID to channelID as a plain member.
//
// Postcondition: added is false if the user was already a member; returns
// channel.ErrNotFound if the channel does not exist.
func (r *ChannelRepository) AddMember(ctx context.Context, channelID, userID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO channel_members (channel_id, user_id, permission) VALUES ($1, $2, $3)
		 ON CONFLICT (channel_id, user_id) DO NOTHING`,
		channelID, userID, int16(channel.PermissionMember),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return false, channel.ErrNotFound
		}
		return false, fmt.Errorf("adding member %d to channel %d: %w", userID, channelID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RemoveMember removes userID from channelID.
//
// Postcondition: Returns the remaining member count, channel.ErrNotMember if the
// user was not a member, or channel.ErrNotFound if the channel does not exist.
func (r *ChannelRepository) RemoveMember(ctx context.Context, channelID, userID int64) (int, error) {
	var remaining int
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var locked int64
		err := tx.QueryRow(ctx,
			`SELECT id FROM channels WHERE id = $1 FOR UPDATE`,
			channelID,
		).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return channel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("locking channel %d: %w", channelID, err)
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM channel_members WHERE channel_id = $1 AND user_id = $2`,
			channelID, userID,
		)
		if err != nil {
			return fmt.Errorf("removing member %d from channel %d: %w", userID, channelID, err)
		}
		if tag.RowsAffected() == 0 {
			return channel.ErrNotMember
		}

		return tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM channel_members WHERE channel_id = $1`,
			channelID,
		).Scan(&remaining)
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// DeleteChannel removes channelID with its members and messages.
func (r *ChannelRepository) DeleteChannel(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting channel %d: %w", id, err)
	}
	return nil
}

// SaveMessage stores one chat message.
//
// Postcondition: Returns the message with ID and Timestamp set.
func (r *ChannelRepository) SaveMessage(ctx context.Context, channelID, userID int64, body string) (channel.Message, error) {
	m := channel.Message{ChannelID: channelID, UserID: userID, Body: body}
	err := r.db.QueryRow(ctx,
		`INSERT INTO channel_messages (channel_id, user_id, body) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		channelID, userID, body,
	).Scan(&m.ID, &m.Timestamp)
	if err != nil {
		if isForeignKeyError(err) {
			return channel.Message{}, channel.ErrNotFound
		}
		return channel.Message{}, fmt.Errorf("inserting message: %w", err)
	}
	return m, nil
}

// History returns up to limit of the newest messages of channelID, oldest first.
func (r *ChannelRepository) History(ctx context.Context, channelID int64, limit int) ([]channel.Message, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, channel_id, user_id, body, created_at FROM (
		     SELECT id, channel_id, user_id, body, created_at
		     FROM channel_messages WHERE channel_id = $1
		     ORDER BY created_at DESC, id DESC LIMIT $2
		 ) newest ORDER BY created_at, id`,
		channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history of channel %d: %w", channelID, err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (channel.Message, error) {
		var m channel.Message
		err := row.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Body, &m.Timestamp)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning messages: %w", err)
	}
	return msgs, nil
}
