// Package postgres implements a batch.Store on top of a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/draftpress/articlegen/internal/batch"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// pgxPool is the subset of *pgxpool.Pool the store needs; pgxmock satisfies
// it in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists batches in the article_batches and article_progress tables.
type Store struct {
	pool pgxPool
}

// New connects a pool from config and returns the store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveManifest upserts the batch manifest.
func (s *Store) SaveManifest(ctx context.Context, m batch.Manifest) error {
	itemsJSON, err := json.Marshal(m.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	metaJSON, err := json.Marshal(m.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	query := `
		INSERT INTO article_batches (id, items, meta, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET items = EXCLUDED.items, meta = EXCLUDED.meta;
	`
	if _, err := s.pool.Exec(ctx, query, m.ID, itemsJSON, metaJSON, m.CreatedAt); err != nil {
		return fmt.Errorf("upsert batch manifest: %w", err)
	}
	return nil
}

// GetManifest loads one batch manifest by id.
func (s *Store) GetManifest(ctx context.Context, batchID string) (batch.Manifest, error) {
	query := `
		SELECT id, items, meta, created_at
		FROM article_batches
		WHERE id = $1;
	`
	var (
		m         batch.Manifest
		itemsJSON []byte
		metaJSON  []byte
	)
	err := s.pool.QueryRow(ctx, query, batchID).Scan(&m.ID, &itemsJSON, &metaJSON, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return batch.Manifest{}, batch.ErrNotFound
		}
		return batch.Manifest{}, fmt.Errorf("get batch manifest: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &m.Items); err != nil {
		return batch.Manifest{}, fmt.Errorf("decode batch items: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &m.Meta); err != nil {
			return batch.Manifest{}, fmt.Errorf("decode batch meta: %w", err)
		}
	}
	return m, nil
}

// SaveRecord upserts one progress record.
func (s *Store) SaveRecord(ctx context.Context, r batch.Record) error {
	query := `
		INSERT INTO article_progress (batch_id, item_id, status, error_message, result_ref, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (batch_id, item_id) DO UPDATE
		SET status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			result_ref = EXCLUDED.result_ref,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := s.pool.Exec(ctx, query, r.BatchID, r.ItemID, string(r.Status), r.Error, r.ResultRef, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert progress record: %w", err)
	}
	return nil
}

// GetRecord performs a point lookup by (batchID, itemID).
func (s *Store) GetRecord(ctx context.Context, batchID, itemID string) (batch.Record, error) {
	query := `
		SELECT batch_id, item_id, status, error_message, result_ref, updated_at
		FROM article_progress
		WHERE batch_id = $1 AND item_id = $2;
	`
	var (
		r      batch.Record
		status string
	)
	err := s.pool.QueryRow(ctx, query, batchID, itemID).Scan(
		&r.BatchID, &r.ItemID, &status, &r.Error, &r.ResultRef, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return batch.Record{}, batch.ErrNotFound
		}
		return batch.Record{}, fmt.Errorf("get progress record: %w", err)
	}
	r.Status = batch.Status(status)
	return r, nil
}

// ListRecords scans all records of one batch in item order.
func (s *Store) ListRecords(ctx context.Context, batchID string) ([]batch.Record, error) {
	query := `
		SELECT batch_id, item_id, status, error_message, result_ref, updated_at
		FROM article_progress
		WHERE batch_id = $1
		ORDER BY item_id;
	`
	rows, err := s.pool.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("list progress records: %w", err)
	}
	defer rows.Close()

	var records []batch.Record
	for rows.Next() {
		var (
			r      batch.Record
			status string
		)
		if err := rows.Scan(&r.BatchID, &r.ItemID, &status, &r.Error, &r.ResultRef, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan progress record: %w", err)
		}
		r.Status = batch.Status(status)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress records: %w", err)
	}
	return records, nil
}
