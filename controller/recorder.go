package controller

import (
	"context"
	"time"
)

// Recorder receives a stage when each operation starts and an event when it
// finishes
type Recorder interface {
	AddStage(ctx context.Context, name string, now time.Time) error
	AddEvent(ctx context.Context, note string, now time.Time) error
}

type noopRecorder struct{}

var _ Recorder = noopRecorder{}

// AddEvent implements Recorder.
func (noopRecorder) AddEvent(context.Context, string, time.Time) error {
	return nil
}

// AddStage implements Recorder.
func (noopRecorder) AddStage(context.Context, string, time.Time) error {
	return nil
}
