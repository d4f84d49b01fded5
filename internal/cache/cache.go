// Package cache implements a content-addressed, namespace-prefixed TTL cache
// backed by one JSON file per entry. The cache is best-effort: I/O failures
// degrade to a miss or a no-op and are only surfaced through logging, so
// losing the cache never stops the generation pipeline.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/draftpress/articlegen/internal/metrics"
)

// Clock supplies the current time; injectable for expiry tests.
type Clock interface {
	Now() time.Time
}

// Config captures cache store parameters.
type Config struct {
	// Dir is the directory holding entry files. Created if absent.
	Dir string `mapstructure:"dir"`
}

// Stats is a read-only snapshot of the backing directory.
type Stats struct {
	Total     int   `json:"total"`
	Expired   int   `json:"expired"`
	SizeBytes int64 `json:"sizeBytes"`
}

// entry is the on-disk JSON layout: timestamp and ttl are epoch/duration
// milliseconds.
type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`
}

func (e entry) expiredAt(now time.Time) bool {
	return now.UnixMilli()-e.Timestamp >= e.TTL
}

// Store is a file-backed TTL cache.
type Store struct {
	dir    string
	clock  Clock
	logger *zap.Logger
}

// New creates the cache directory if needed and verifies it is writable.
func New(cfg Config, clock Clock, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(cfg.Dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("cache path %s is not a directory", cfg.Dir)
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create cache directory: %w", mkErr)
		}
	default:
		return nil, fmt.Errorf("stat cache directory: %w", err)
	}
	probe := filepath.Join(cfg.Dir, ".writable_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("cache directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &Store{dir: cfg.Dir, clock: clock, logger: logger}, nil
}

// Get loads the entry for (namespace, key) into dest and reports whether a
// valid entry was found. An expired entry is deleted as a side effect.
func (s *Store) Get(_ context.Context, namespace, key string, dest any) bool {
	path := s.entryPath(namespace, key)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cache read failed", zap.String("namespace", namespace), zap.Error(err))
		}
		metrics.IncCacheOp(namespace, "miss")
		return false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		s.logger.Warn("cache entry corrupt", zap.String("namespace", namespace), zap.Error(err))
		s.remove(path)
		metrics.IncCacheOp(namespace, "miss")
		return false
	}
	if e.expiredAt(s.clock.Now()) {
		s.remove(path)
		metrics.IncCacheOp(namespace, "expired")
		return false
	}
	if err := json.Unmarshal(e.Data, dest); err != nil {
		s.logger.Warn("cache entry unmarshal failed", zap.String("namespace", namespace), zap.Error(err))
		metrics.IncCacheOp(namespace, "miss")
		return false
	}
	metrics.IncCacheOp(namespace, "hit")
	return true
}

// Set stores data under (namespace, key) with the given ttl. Failures are
// logged and otherwise ignored.
func (s *Store) Set(_ context.Context, namespace, key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Warn("cache marshal failed", zap.String("namespace", namespace), zap.Error(err))
		return
	}
	e := entry{
		Data:      payload,
		Timestamp: s.clock.Now().UnixMilli(),
		TTL:       ttl.Milliseconds(),
	}
	raw, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("cache encode failed", zap.String("namespace", namespace), zap.Error(err))
		return
	}
	path := s.entryPath(namespace, key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		s.logger.Warn("cache write failed", zap.String("namespace", namespace), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.logger.Warn("cache rename failed", zap.String("namespace", namespace), zap.Error(err))
		s.remove(tmp)
	}
}

// Has reports whether a valid entry exists without decoding its payload.
func (s *Store) Has(ctx context.Context, namespace, key string) bool {
	var ignored json.RawMessage
	return s.Get(ctx, namespace, key, &ignored)
}

// Delete removes the entry for (namespace, key) if present.
func (s *Store) Delete(_ context.Context, namespace, key string) {
	s.remove(s.entryPath(namespace, key))
}

// Clear removes every entry in one namespace and returns the count removed.
func (s *Store) Clear(_ context.Context, namespace string) int {
	removed := 0
	for _, path := range s.entryFiles() {
		if strings.HasPrefix(filepath.Base(path), namespace+"-") {
			s.remove(path)
			removed++
		}
	}
	return removed
}

// ClearAll removes every entry in every namespace.
func (s *Store) ClearAll(_ context.Context) int {
	removed := 0
	for _, path := range s.entryFiles() {
		s.remove(path)
		removed++
	}
	return removed
}

// Cleanup scans all entries, deletes every expired one, and returns the count
// removed. Unreadable or corrupt entries count as expired.
func (s *Store) Cleanup(_ context.Context) int {
	now := s.clock.Now()
	removed := 0
	for _, path := range s.entryFiles() {
		raw, err := os.ReadFile(path)
		if err != nil {
			s.remove(path)
			removed++
			continue
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil || e.expiredAt(now) {
			s.remove(path)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("cache cleanup removed entries", zap.Int("removed", removed))
	}
	return removed
}

// Stats reports totals without mutating the store; expired entries are
// counted but not deleted here.
func (s *Store) Stats(_ context.Context) Stats {
	now := s.clock.Now()
	var stats Stats
	for _, path := range s.entryFiles() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		stats.Total++
		stats.SizeBytes += info.Size()
		raw, err := os.ReadFile(path)
		if err != nil {
			stats.Expired++
			continue
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil || e.expiredAt(now) {
			stats.Expired++
		}
	}
	return stats
}

func (s *Store) entryPath(namespace, key string) string {
	sum := sha256.Sum256([]byte(key))
	name := fmt.Sprintf("%s-%s.json", namespace, hex.EncodeToString(sum[:]))
	return filepath.Join(s.dir, name)
}

func (s *Store) entryFiles() []string {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		s.logger.Warn("cache directory scan failed", zap.Error(err))
		return nil
	}
	return matches
}

func (s *Store) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("cache delete failed", zap.String("path", path), zap.Error(err))
	}
}
