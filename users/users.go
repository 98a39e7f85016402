// Package users keeps the set of users who started the bot and the
// per-user conversation state of the admin flow.
//
// The set has set semantics: observing a user twice refreshes their
// contact details and last-seen time but never duplicates them.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/itembot/dbopen"
)

// ErrNotFound is returned when a user id has never been observed.
var ErrNotFound = errors.New("users: not found")

// State is a user's position in a multi-message exchange.
type State string

const (
	StateIdle                  State = "idle"
	StateAwaitingBroadcastText State = "awaiting_broadcast_text"
)

// Schema is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    user_id    TEXT PRIMARY KEY,
    chat_id    TEXT NOT NULL,
    name       TEXT NOT NULL DEFAULT '',
    channel    TEXT NOT NULL DEFAULT '',
    first_seen INTEGER NOT NULL,
    last_seen  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_first_seen ON users(first_seen);

CREATE TABLE IF NOT EXISTS user_states (
    user_id    TEXT PRIMARY KEY,
    state      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// User is an observed user.
type User struct {
	ID        string    `json:"user_id"`
	ChatID    string    `json:"chat_id"` // where to deliver broadcasts
	Name      string    `json:"name,omitempty"`
	Channel   string    `json:"channel"` // dispatcher channel the user came through
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Store is the SQLite-backed user repository.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore applies Schema to db and returns a Store.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("users: init schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Observe adds u to the set, or refreshes its chat, name, channel and
// last-seen time when already present. added reports whether u is new.
func (s *Store) Observe(ctx context.Context, u User) (added bool, err error) {
	if u.ID == "" {
		return false, fmt.Errorf("users: observe: empty user id")
	}
	if u.ChatID == "" {
		u.ChatID = u.ID
	}
	now := s.now().Unix()

	err = dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM users WHERE user_id = ?`, u.ID).Scan(&exists)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			added = true
		case err != nil:
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (user_id, chat_id, name, channel, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				chat_id = excluded.chat_id,
				name = excluded.name,
				channel = excluded.channel,
				last_seen = excluded.last_seen`,
			u.ID, u.ChatID, u.Name, u.Channel, now, now)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("users: observe %s: %w", u.ID, err)
	}
	return added, nil
}

// Get returns the user with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, chat_id, name, channel, first_seen, last_seen
		FROM users WHERE user_id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: get %s: %w", id, err)
	}
	return u, nil
}

// Count returns the number of observed users.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("users: count: %w", err)
	}
	return n, nil
}

// List returns every observed user in first-seen order. Rows are fully read
// before returning, so callers may send messages or write to the store
// while iterating the result.
func (s *Store) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, chat_id, name, channel, first_seen, last_seen
		FROM users ORDER BY first_seen, user_id`)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("users: list: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// State returns the conversation state of id. Users without a recorded
// state are idle.
func (s *Store) State(ctx context.Context, id string) (State, error) {
	var st string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM user_states WHERE user_id = ?`, id).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return StateIdle, nil
	}
	if err != nil {
		return StateIdle, fmt.Errorf("users: state %s: %w", id, err)
	}
	return State(st), nil
}

// SetState records the conversation state of id. Setting StateIdle clears
// the record.
func (s *Store) SetState(ctx context.Context, id string, st State) error {
	var err error
	if st == StateIdle {
		_, err = s.db.ExecContext(ctx, `DELETE FROM user_states WHERE user_id = ?`, id)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO user_states (user_id, state, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
			id, string(st), s.now().Unix())
	}
	if err != nil {
		return fmt.Errorf("users: set state %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (User, error) {
	var u User
	var first, last int64
	if err := sc.Scan(&u.ID, &u.ChatID, &u.Name, &u.Channel, &first, &last); err != nil {
		return User{}, err
	}
	u.FirstSeen = time.Unix(first, 0)
	u.LastSeen = time.Unix(last, 0)
	return u, nil
}
