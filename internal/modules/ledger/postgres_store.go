// README: Ledger store backed by PostgreSQL (pgxpool), one transaction per batch.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridesim/internal/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledger_person_rides (
	person_id  TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS ledger_remote_ids (
	remote_id TEXT PRIMARY KEY,
	person_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, db *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (*State, error) {
	st := NewState()

	rows, err := s.db.Query(ctx, `SELECT person_id, payload FROM ledger_person_rides`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			rows.Close()
			return nil, err
		}
		pr, err := decodePersonRides(id, payload)
		if err != nil {
			rows.Close()
			return nil, err
		}
		st.Rides[types.ID(id)] = pr
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	remoteRows, err := s.db.Query(ctx, `SELECT remote_id, person_id FROM ledger_remote_ids`)
	if err != nil {
		return nil, err
	}
	for remoteRows.Next() {
		var remote, id string
		if err := remoteRows.Scan(&remote, &id); err != nil {
			remoteRows.Close()
			return nil, err
		}
		st.RemoteIDs[remote] = types.ID(id)
	}
	remoteRows.Close()
	if err := remoteRows.Err(); err != nil {
		return nil, err
	}

	var day string
	err = s.db.QueryRow(ctx, `SELECT value FROM ledger_meta WHERE key = $1`, metaLastGeneratedDay).Scan(&day)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		if st.LastGeneratedDay, err = decodeDay(day); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *PostgresStore) Commit(ctx context.Context, b *Batch) error {
	if b.Empty() {
		return nil
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for id, pr := range b.Put {
			payload, err := encodePersonRides(pr)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO ledger_person_rides (person_id, payload, updated_at) VALUES ($1, $2, NOW())
				ON CONFLICT (person_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`,
				string(id), string(payload)); err != nil {
				return fmt.Errorf("put rides of %s: %w", id, err)
			}
		}
		for remote, id := range b.RemoteIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO ledger_remote_ids (remote_id, person_id) VALUES ($1, $2)
				ON CONFLICT (remote_id) DO UPDATE SET person_id = EXCLUDED.person_id`,
				remote, string(id)); err != nil {
				return fmt.Errorf("put remote id %s: %w", remote, err)
			}
		}
		if b.LastGeneratedDay != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO ledger_meta (key, value) VALUES ($1, $2)
				ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
				metaLastGeneratedDay, encodeDay(*b.LastGeneratedDay)); err != nil {
				return fmt.Errorf("put last generated day: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
