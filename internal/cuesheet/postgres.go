package cuesheet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the cue_sheets table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS cue_sheets (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    speaker_id TEXT NOT NULL DEFAULT '',
    body       JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_cue_sheets_speaker ON cue_sheets(speaker_id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. The whole
// sheet is serialised as a JSONB body; name and speaker id are lifted into
// columns for lookup.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] that uses the given connection
// or pool. Call [PostgresStore.Migrate] to ensure the schema exists before
// issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("cuesheet: migrate: %w", err)
	}
	return nil
}

// Add implements [Store.Add].
func (s *PostgresStore) Add(ctx context.Context, sheet Sheet) (Sheet, error) {
	if sheet.ID == "" {
		id, err := generateID()
		if err != nil {
			return Sheet{}, fmt.Errorf("cuesheet: generate id: %w", err)
		}
		sheet.ID = id
	}

	body, err := json.Marshal(sheet)
	if err != nil {
		return Sheet{}, fmt.Errorf("cuesheet: marshal sheet: %w", err)
	}

	const query = `
		INSERT INTO cue_sheets (id, name, speaker_id, body)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.db.Exec(ctx, query, sheet.ID, sheet.Meta.Name, sheet.Meta.SpeakerID, body); err != nil {
		if isDuplicateKeyError(err) {
			return Sheet{}, ErrDuplicateID
		}
		return Sheet{}, fmt.Errorf("cuesheet: add: %w", err)
	}
	return sheet, nil
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, id string) (Sheet, error) {
	const query = `SELECT body FROM cue_sheets WHERE id = $1`
	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

// GetBySpeaker implements [Store.GetBySpeaker].
func (s *PostgresStore) GetBySpeaker(ctx context.Context, speakerID string) (Sheet, error) {
	const query = `SELECT body FROM cue_sheets WHERE speaker_id = $1 LIMIT 1`
	return s.scanOne(s.db.QueryRow(ctx, query, speakerID))
}

// List implements [Store.List].
func (s *PostgresStore) List(ctx context.Context) ([]Sheet, error) {
	const query = `SELECT body FROM cue_sheets ORDER BY name`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("cuesheet: list: %w", err)
	}
	defer rows.Close()

	var out []Sheet
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("cuesheet: list scan: %w", err)
		}
		var sheet Sheet
		if err := json.Unmarshal(body, &sheet); err != nil {
			return nil, fmt.Errorf("cuesheet: unmarshal sheet: %w", err)
		}
		out = append(out, sheet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cuesheet: list rows: %w", err)
	}
	return out, nil
}

// Update implements [Store.Update].
func (s *PostgresStore) Update(ctx context.Context, sheet Sheet) error {
	body, err := json.Marshal(sheet)
	if err != nil {
		return fmt.Errorf("cuesheet: marshal sheet: %w", err)
	}

	const query = `
		UPDATE cue_sheets
		SET name = $2, speaker_id = $3, body = $4, updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, sheet.ID, sheet.Meta.Name, sheet.Meta.SpeakerID, body)
	if err != nil {
		return fmt.Errorf("cuesheet: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove implements [Store.Remove].
func (s *PostgresStore) Remove(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM cue_sheets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("cuesheet: remove: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanOne decodes one body column into a Sheet, mapping pgx.ErrNoRows to
// [ErrNotFound].
func (s *PostgresStore) scanOne(row pgx.Row) (Sheet, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sheet{}, ErrNotFound
		}
		return Sheet{}, fmt.Errorf("cuesheet: scan: %w", err)
	}
	var sheet Sheet
	if err := json.Unmarshal(body, &sheet); err != nil {
		return Sheet{}, fmt.Errorf("cuesheet: unmarshal sheet: %w", err)
	}
	return sheet, nil
}

// isDuplicateKeyError reports whether err is a unique-constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
