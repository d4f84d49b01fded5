package sinks

import (
	"context"

	"github.com/draftpress/articlegen/internal/metrics"
	"github.com/draftpress/articlegen/internal/progress"
)

// Prometheus forwards progress events to the shared metric collectors.
type Prometheus struct{}

// NewPrometheus creates a metrics sink. metrics.Init must have been called.
func NewPrometheus() *Prometheus {
	return &Prometheus{}
}

// Consume implements progress.Sink.
func (p *Prometheus) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageItemDone:
			metrics.IncArticle("completed")
		case progress.StageItemError:
			metrics.IncArticle("failed")
		case progress.StageCallDone:
			outcome := "fetched"
			if evt.CacheHit {
				outcome = "cached"
			}
			metrics.IncResearchCall(evt.Service, outcome)
		case progress.StageBatchDone:
			metrics.ObserveBatchDuration(evt.Dur)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (p *Prometheus) Close(context.Context) error {
	return nil
}
