package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/draftpress/articlegen/internal/metrics"
	"github.com/draftpress/articlegen/internal/progress"
)

func TestPrometheus_ConsumeForwardsEvents(t *testing.T) {
	metrics.Init()
	sink := NewPrometheus()

	now := time.Now().UTC()
	batch := []progress.Event{
		{BatchID: "b1", ItemID: "a", TS: now, Stage: progress.StageItemDone, Dur: time.Second},
		{BatchID: "b1", ItemID: "b", TS: now, Stage: progress.StageItemError, Note: "boom"},
		{BatchID: "b1", TS: now, Stage: progress.StageCallDone, Service: "serp", CacheHit: true},
		{BatchID: "b1", TS: now, Stage: progress.StageCallDone, Service: "serp"},
		{BatchID: "b1", TS: now, Stage: progress.StageBatchDone, Dur: time.Minute},
		{BatchID: "b1", TS: now, Stage: progress.StageBatchStart}, // ignored
	}

	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))
}

func TestLog_ConsumeHandlesAllStages(t *testing.T) {
	t.Parallel()
	sink := NewLog(nil)

	now := time.Now().UTC()
	batch := []progress.Event{
		{BatchID: "b1", TS: now, Stage: progress.StageBatchStart},
		{BatchID: "b1", ItemID: "a", TS: now, Stage: progress.StageItemStart},
		{BatchID: "b1", ItemID: "a", TS: now, Stage: progress.StageItemError, Note: "boom", Dur: time.Second},
		{BatchID: "b1", TS: now, Stage: progress.StageCallDone, Service: "gemini", Dur: 2 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))
}
