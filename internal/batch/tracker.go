package batch

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Clock supplies timestamps for batch ids and record updates.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies the collision-resistant suffix of batch ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Tracker creates batches, records per-item lifecycle state, and supports
// resuming an interrupted batch.
type Tracker struct {
	store  Store
	clock  Clock
	idGen  IDGenerator
	logger *zap.Logger
}

// NewTracker constructs a Tracker over the given store.
func NewTracker(store Store, clock Clock, idGen IDGenerator, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, clock: clock, idGen: idGen, logger: logger}
}

// CreateBatch freezes items into a manifest, persists one pending record per
// item, and returns the new batch id. Ids are time-derived and sortable:
// batch-YYYYMMDD-HHMMSS-<suffix>.
func (t *Tracker) CreateBatch(ctx context.Context, items []Item, meta map[string]string) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("batch needs at least one item")
	}
	now := t.clock.Now()
	batchID, err := t.newBatchID(now)
	if err != nil {
		return "", err
	}
	manifest := Manifest{
		ID:        batchID,
		Items:     append([]Item(nil), items...),
		CreatedAt: now,
		Meta:      meta,
	}
	if err := t.store.SaveManifest(ctx, manifest); err != nil {
		return "", fmt.Errorf("save manifest: %w", err)
	}
	for _, item := range items {
		rec := Record{
			BatchID:   batchID,
			ItemID:    item.ID,
			Status:    StatusPending,
			UpdatedAt: now,
		}
		if err := t.store.SaveRecord(ctx, rec); err != nil {
			return "", fmt.Errorf("save record %s: %w", item.ID, err)
		}
	}
	t.logger.Info("batch created", zap.String("batch_id", batchID), zap.Int("items", len(items)))
	return batchID, nil
}

// ResumeBatch verifies the batch exists and returns the records that still
// need work: pending and failed items are re-admitted, completed ones are
// not.
func (t *Tracker) ResumeBatch(ctx context.Context, batchID string) ([]Record, error) {
	if _, err := t.store.GetManifest(ctx, batchID); err != nil {
		return nil, fmt.Errorf("resume batch %s: %w", batchID, err)
	}
	pending, err := t.PendingArticles(ctx, batchID)
	if err != nil {
		return nil, err
	}
	t.logger.Info("batch resumed",
		zap.String("batch_id", batchID),
		zap.Int("remaining", len(pending)),
	)
	return pending, nil
}

// Manifest returns the frozen item manifest for a batch.
func (t *Tracker) Manifest(ctx context.Context, batchID string) (Manifest, error) {
	return t.store.GetManifest(ctx, batchID)
}

// PendingArticles returns every record of the batch not in completed state.
func (t *Tracker) PendingArticles(ctx context.Context, batchID string) ([]Record, error) {
	records, err := t.store.ListRecords(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list records for %s: %w", batchID, err)
	}
	var pending []Record
	for _, r := range records {
		if r.Status != StatusCompleted {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// UpdateArticle applies a status transition to one record. Re-applying the
// same status is idempotent. A transition that would regress a record is
// ignored, except failed -> processing, which is the resume/retry path.
func (t *Tracker) UpdateArticle(ctx context.Context, batchID, itemID string, status Status, errMsg, resultRef string) error {
	current, err := t.store.GetRecord(ctx, batchID, itemID)
	if err != nil {
		return fmt.Errorf("load record %s/%s: %w", batchID, itemID, err)
	}
	if !transitionAllowed(current.Status, status) {
		t.logger.Warn("ignoring status regression",
			zap.String("batch_id", batchID),
			zap.String("item_id", itemID),
			zap.String("from", string(current.Status)),
			zap.String("to", string(status)),
		)
		return nil
	}
	current.Status = status
	current.Error = errMsg
	if resultRef != "" {
		current.ResultRef = resultRef
	}
	current.UpdatedAt = t.clock.Now()
	if err := t.store.SaveRecord(ctx, current); err != nil {
		return fmt.Errorf("save record %s/%s: %w", batchID, itemID, err)
	}
	return nil
}

// Stats derives batch statistics from its records. CompletionPercentage is
// rounded to the nearest integer.
func (t *Tracker) Stats(ctx context.Context, batchID string) (Stats, error) {
	records, err := t.store.ListRecords(ctx, batchID)
	if err != nil {
		return Stats{}, fmt.Errorf("list records for %s: %w", batchID, err)
	}
	var stats Stats
	stats.Total = len(records)
	for _, r := range records {
		switch r.Status {
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	if stats.Total > 0 {
		stats.CompletionPercentage = int(math.Round(float64(stats.Completed) / float64(stats.Total) * 100))
	}
	return stats, nil
}

func transitionAllowed(from, to Status) bool {
	if from == to {
		return true
	}
	if from == StatusFailed && to == StatusProcessing {
		return true
	}
	return statusRank(to) > statusRank(from)
}

func (t *Tracker) newBatchID(now time.Time) (string, error) {
	suffix, err := t.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate batch id: %w", err)
	}
	suffix = strings.ReplaceAll(suffix, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("batch-%s-%s", now.UTC().Format("20060102-150405"), suffix), nil
}
