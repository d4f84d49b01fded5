// Package sinks holds progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/draftpress/articlegen/internal/progress"
)

// Log writes progress events to a zap logger.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a logging sink.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Consume implements progress.Sink.
func (l *Log) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("batch_id", evt.BatchID),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.ItemID != "" {
			fields = append(fields, zap.String("item_id", evt.ItemID))
		}
		if evt.Service != "" {
			fields = append(fields, zap.String("service", evt.Service), zap.Bool("cache_hit", evt.CacheHit))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("duration", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageItemError:
			l.logger.Warn("progress", fields...)
		default:
			l.logger.Info("progress", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (l *Log) Close(context.Context) error {
	return nil
}
