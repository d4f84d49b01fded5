// Package file implements a batch.Store keeping one JSON document per batch
// on the local filesystem.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/draftpress/articlegen/internal/batch"
)

// Config captures the file store parameters.
type Config struct {
	// Dir is the directory holding one <batch-id>.json document per batch.
	Dir string `mapstructure:"dir"`
}

// document is the on-disk layout: the frozen manifest plus records keyed by
// item id.
type document struct {
	Manifest batch.Manifest          `json:"manifest"`
	Records  map[string]batch.Record `json:"records"`
}

// Store persists batches as JSON files. A process-wide mutex keeps writes to
// one document from interleaving; cross-process writers are out of scope for
// the single-driver CLI.
type Store struct {
	dir    string
	mu     sync.Mutex
	logger *zap.Logger
}

// New creates the store directory if needed.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("batch store directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create batch store directory: %w", err)
	}
	return &Store{dir: cfg.Dir, logger: logger}, nil
}

// SaveManifest writes the manifest, preserving any existing records.
func (s *Store) SaveManifest(_ context.Context, m batch.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(m.ID)
	if err != nil {
		doc = document{Records: make(map[string]batch.Record)}
	}
	doc.Manifest = m
	return s.write(m.ID, doc)
}

// GetManifest loads the frozen manifest for a batch.
func (s *Store) GetManifest(_ context.Context, batchID string) (batch.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(batchID)
	if err != nil {
		return batch.Manifest{}, err
	}
	return doc.Manifest, nil
}

// SaveRecord upserts one progress record.
func (s *Store) SaveRecord(_ context.Context, r batch.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(r.BatchID)
	if err != nil {
		return err
	}
	if doc.Records == nil {
		doc.Records = make(map[string]batch.Record)
	}
	doc.Records[r.ItemID] = r
	return s.write(r.BatchID, doc)
}

// GetRecord performs a point lookup by (batchID, itemID).
func (s *Store) GetRecord(_ context.Context, batchID, itemID string) (batch.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(batchID)
	if err != nil {
		return batch.Record{}, err
	}
	rec, ok := doc.Records[itemID]
	if !ok {
		return batch.Record{}, batch.ErrNotFound
	}
	return rec, nil
}

// ListRecords returns every record of a batch in manifest order.
func (s *Store) ListRecords(_ context.Context, batchID string) ([]batch.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(batchID)
	if err != nil {
		return nil, err
	}
	records := make([]batch.Record, 0, len(doc.Records))
	for _, item := range doc.Manifest.Items {
		if rec, ok := doc.Records[item.ID]; ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Close is a no-op for the file store.
func (s *Store) Close() {}

func (s *Store) path(batchID string) string {
	return filepath.Join(s.dir, batchID+".json")
}

func (s *Store) load(batchID string) (document, error) {
	raw, err := os.ReadFile(s.path(batchID))
	if err != nil {
		if os.IsNotExist(err) {
			return document{}, batch.ErrNotFound
		}
		return document{}, fmt.Errorf("read batch %s: %w", batchID, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return document{}, fmt.Errorf("parse batch %s: %w", batchID, err)
	}
	return doc, nil
}

// write lands the document atomically via temp file + rename so a crash never
// leaves a half-written batch behind.
func (s *Store) write(batchID string, doc document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", batchID, err)
	}
	path := s.path(batchID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write batch %s: %w", batchID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("orphaned temp file", zap.String("path", tmp), zap.Error(rmErr))
		}
		return fmt.Errorf("commit batch %s: %w", batchID, err)
	}
	return nil
}
