// README: Ledger store backed by a SQLite file in the data directory.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ridesim/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS person_rides (
	person_id  TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS remote_ids (
	remote_id TEXT PRIMARY KEY,
	person_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

const metaLastGeneratedDay = "last_generated_day"

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore prepares the schema on db. The store owns db from then on.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*State, error) {
	st := NewState()

	rows, err := s.db.QueryContext(ctx, `SELECT person_id, payload FROM person_rides`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		pr, err := decodePersonRides(id, []byte(payload))
		if err != nil {
			return nil, err
		}
		st.Rides[types.ID(id)] = pr
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	remoteRows, err := s.db.QueryContext(ctx, `SELECT remote_id, person_id FROM remote_ids`)
	if err != nil {
		return nil, err
	}
	defer remoteRows.Close()
	for remoteRows.Next() {
		var remote, id string
		if err := remoteRows.Scan(&remote, &id); err != nil {
			return nil, err
		}
		st.RemoteIDs[remote] = types.ID(id)
	}
	if err := remoteRows.Err(); err != nil {
		return nil, err
	}

	var day string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaLastGeneratedDay).Scan(&day)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		if st.LastGeneratedDay, err = decodeDay(day); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *SQLiteStore) Commit(ctx context.Context, b *Batch) error {
	if b.Empty() {
		return nil
	}
	return s.transaction(ctx, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		for id, pr := range b.Put {
			payload, err := encodePersonRides(pr)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO person_rides (person_id, payload, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(person_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
				string(id), string(payload), now); err != nil {
				return fmt.Errorf("put rides of %s: %w", id, err)
			}
		}
		for remote, id := range b.RemoteIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO remote_ids (remote_id, person_id) VALUES (?, ?)
				ON CONFLICT(remote_id) DO UPDATE SET person_id = excluded.person_id`,
				remote, string(id)); err != nil {
				return fmt.Errorf("put remote id %s: %w", remote, err)
			}
		}
		if b.LastGeneratedDay != nil {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO meta (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
				metaLastGeneratedDay, encodeDay(*b.LastGeneratedDay)); err != nil {
				return fmt.Errorf("put last generated day: %w", err)
			}
		}
		return nil
	})
}

// transaction executes fn within a database transaction.
func (s *SQLiteStore) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
