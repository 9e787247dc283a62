// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"
)

// Store implements metastore.Store over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ metastore.Store = (*Store)(nil)

// NewStore wraps an open database.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Open opens and pings a database and returns a configured Store.
func Open(driverName, dsn string, dialect Dialect, cfg metastore.Config) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, metastore.DefaultMaxOpenConns))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, metastore.DefaultMaxIdleConns))
	db.SetConnMaxLifetime(orDefault(cfg.ConnMaxLifetime, metastore.DefaultConnMaxLifetime))
	db.SetConnMaxIdleTime(orDefault(cfg.ConnMaxIdleTime, metastore.DefaultConnMaxIdleTime))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewStore(db, dialect), nil
}

func orDefault[T int | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Close() error { return s.db.Close() }

// Query, QueryRow and Exec take PostgreSQL-style placeholders.

func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.ReplacePlaceholders(query), args...)
}

func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.ReplacePlaceholders(query), args...)
}

func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.ReplacePlaceholders(query), args...)
}

// withTx runs fn in a transaction, rolling back when fn fails.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const recordColumns = `id, creator, created_at, proof_set_id, provider_id, complete, completed_at, compiled`

func (s *Store) SaveRecord(ctx context.Context, r *types.Recording) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var update []string
	if r.Creator != "" {
		update = append(update, "creator")
	}
	if r.ProofSetID != "" {
		update = append(update, "proof_set_id", "provider_id")
	}
	query := `INSERT INTO recordings (id, creator, created_at, proof_set_id, provider_id, complete)
		VALUES ($1, $2, $3, $4, $5, ` + s.dialect.BoolLiteral(false) + `)` +
		s.dialect.UpsertSuffix("id", update)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.dialect.ReplacePlaceholders(query),
			r.ID, r.Creator, createdAt.UTC(), r.ProofSetID, r.ProviderID,
		); err != nil {
			return fmt.Errorf("upsert recording %s: %w", r.ID, err)
		}
		for _, c := range r.Chunks {
			if err := s.upsertChunk(ctx, tx, r.ID, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) upsertChunk(ctx context.Context, tx *sql.Tx, recordingID string, c types.Chunk) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chunk %s: %w", c.ChunkID, err)
	}

	query := `INSERT INTO recording_chunks
		(recording_id, chunk_id, seq, content_id, size, duration_seconds, provenance, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)` +
		s.dialect.UpsertSuffix("recording_id, chunk_id",
			[]string{"seq", "content_id", "size", "duration_seconds", "provenance", "data"})

	if _, err := tx.ExecContext(ctx, s.dialect.ReplacePlaceholders(query),
		recordingID, c.ChunkID, c.Sequence, c.ContentID, c.Size, c.DurationSeconds, string(c.Provenance), string(data),
	); err != nil {
		return fmt.Errorf("upsert chunk %s: %w", c.ChunkID, err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (*types.Recording, error) {
	row := s.QueryRow(ctx, `SELECT `+recordColumns+` FROM recordings WHERE id = $1`, id)
	r, err := s.scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metastore.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recording %s: %w", id, err)
	}
	if err := s.loadChunks(ctx, r); err != nil {
		return nil, err
	}
	return metastore.Finalize(r), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRecord(row scanner) (*types.Recording, error) {
	var (
		r           types.Recording
		completedAt sql.NullTime
		compiled    sql.NullString
		complete    = s.dialect.ScanBool()
	)
	if err := row.Scan(&r.ID, &r.Creator, &r.CreatedAt, &r.ProofSetID, &r.ProviderID,
		complete.Dest(), &completedAt, &compiled); err != nil {
		return nil, err
	}
	r.Complete = complete.Value()
	if completedAt.Valid {
		r.CompletedAt = completedAt.Time
	}
	if compiled.Valid && compiled.String != "" {
		r.Compiled = &types.CompiledMetadata{}
		if err := json.Unmarshal([]byte(compiled.String), r.Compiled); err != nil {
			return nil, fmt.Errorf("decode compiled metadata for %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func (s *Store) loadChunks(ctx context.Context, r *types.Recording) error {
	rows, err := s.Query(ctx, `SELECT data FROM recording_chunks WHERE recording_id = $1`, r.ID)
	if err != nil {
		return fmt.Errorf("load chunks for %s: %w", r.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("scan chunk: %w", err)
		}
		var c types.Chunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return fmt.Errorf("decode chunk: %w", err)
		}
		r.Chunks = append(r.Chunks, c)
	}
	return rows.Err()
}

func (s *Store) AppendChunk(ctx context.Context, recordingID string, c types.Chunk) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		complete := s.dialect.ScanBool()
		err := tx.QueryRowContext(ctx,
			s.dialect.ReplacePlaceholders(`SELECT complete FROM recordings WHERE id = $1 FOR UPDATE`),
			recordingID,
		).Scan(complete.Dest())
		if errors.Is(err, sql.ErrNoRows) {
			return metastore.ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("lock recording %s: %w", recordingID, err)
		}
		if complete.Value() {
			return metastore.ErrRecordComplete
		}
		return s.upsertChunk(ctx, tx, recordingID, c)
	})
}

func (s *Store) MarkComplete(ctx context.Context, recordingID string, meta *types.CompiledMetadata) error {
	var compiled sql.NullString
	if meta != nil {
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal compiled metadata: %w", err)
		}
		compiled = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.Exec(ctx,
		`UPDATE recordings SET complete = `+s.dialect.BoolLiteral(true)+`, completed_at = $1, compiled = $2
		WHERE id = $3 AND complete = `+s.dialect.BoolLiteral(false),
		metastore.CompletionTime(meta).UTC(), compiled, recordingID,
	)
	if err != nil {
		return fmt.Errorf("mark complete %s: %w", recordingID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark complete %s: %w", recordingID, err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.QueryRow(ctx, `SELECT 1 FROM recordings WHERE id = $1`, recordingID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return metastore.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("mark complete %s: %w", recordingID, err)
	}
	return metastore.ErrAlreadyComplete
}

func (s *Store) ListCompleted(ctx context.Context) ([]*types.Recording, error) {
	return s.list(ctx, `SELECT `+recordColumns+` FROM recordings
		WHERE complete = `+s.dialect.BoolLiteral(true)+` ORDER BY completed_at DESC, id`)
}

func (s *Store) ListIncomplete(ctx context.Context) ([]*types.Recording, error) {
	return s.list(ctx, `SELECT `+recordColumns+` FROM recordings
		WHERE complete = `+s.dialect.BoolLiteral(false)+` ORDER BY created_at, id`)
}

func (s *Store) list(ctx context.Context, query string) ([]*types.Recording, error) {
	rows, err := s.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}

	var out []*types.Recording
	for rows.Next() {
		r, err := s.scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, r := range out {
		if err := s.loadChunks(ctx, r); err != nil {
			return nil, err
		}
		metastore.Finalize(r)
	}
	return out, nil
}
