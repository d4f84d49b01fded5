// Package batch tracks the lifecycle of article generation batches: a frozen
// item manifest plus one persisted progress record per item, resumable across
// process restarts.
package batch

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a batch or record does not exist.
var ErrNotFound = errors.New("batch: not found")

// Status is the lifecycle state of one item. Transitions are monotonic along
// pending -> processing -> completed|failed; failed re-enters processing only
// through the resume path.
type Status string

// Supported item states.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Item is one manifest entry, frozen at batch creation.
type Item struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
}

// Manifest is the immutable description of a batch.
type Manifest struct {
	ID        string            `json:"id"`
	Items     []Item            `json:"items"`
	CreatedAt time.Time         `json:"createdAt"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Record is the persisted progress of one item within one batch.
type Record struct {
	BatchID   string    `json:"batchId"`
	ItemID    string    `json:"itemId"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	ResultRef string    `json:"resultRef,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Stats is derived from the records of one batch, never stored.
type Stats struct {
	Total                int `json:"total"`
	Completed            int `json:"completed"`
	Failed               int `json:"failed"`
	CompletionPercentage int `json:"completionPercentage"`
}

// Store persists manifests and progress records. Implementations must support
// point lookups by (batchID, itemID) and full-batch scans.
type Store interface {
	SaveManifest(ctx context.Context, m Manifest) error
	GetManifest(ctx context.Context, batchID string) (Manifest, error)
	SaveRecord(ctx context.Context, r Record) error
	GetRecord(ctx context.Context, batchID, itemID string) (Record, error)
	ListRecords(ctx context.Context, batchID string) ([]Record, error)
	Close()
}

// statusRank orders states for the monotonicity guard.
func statusRank(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}
