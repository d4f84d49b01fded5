// Package progress defines the lifecycle events emitted by the batch
// orchestrator and the hub that fans them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageBatchStart Stage = "BATCH_START"
	StageBatchDone  Stage = "BATCH_DONE"
	StageItemStart  Stage = "ITEM_START"
	StageItemDone   Stage = "ITEM_DONE"
	StageItemError  Stage = "ITEM_ERROR"
	StageCallDone   Stage = "CALL_DONE"
)

// Event captures a single milestone of a batch run.
type Event struct {
	// BatchID identifies the batch the event belongs to.
	BatchID string
	// ItemID scopes item and call events to one work item.
	ItemID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Service names the external service for CALL_DONE events.
	Service string
	// CacheHit marks CALL_DONE events answered from the cache.
	CacheHit bool
	// Dur captures execution latency for item and call completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == "" {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchDone:
	case StageItemStart, StageItemDone, StageItemError:
		if e.ItemID == "" {
			return errors.New("item events require an item id")
		}
	case StageCallDone:
		if e.Service == "" {
			return errors.New("call done requires a service")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
