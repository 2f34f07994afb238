package train

import (
	"context"
	"time"

	"github.com/born-ml/born-vae/internal/config"
)

// RunInfo describes a training run when it starts.
type RunInfo struct {
	ID        string
	DataDir   string
	OutputDir string
	Config    config.Config
	Resumed   bool
	StartStep int64
	StartedAt time.Time
}

// StepMetrics are the loss terms of one optimizer step.
type StepMetrics struct {
	RunID          string
	Epoch          int
	Step           int64
	Loss           float64
	Reconstruction float64
	KL             float64
	Duration       time.Duration
}

// EpochStats summarizes the step losses of one epoch.
type EpochStats struct {
	RunID    string
	Epoch    int
	Steps    int
	MeanLoss float64
	StdLoss  float64
	MinLoss  float64
	MaxLoss  float64
}

// Recorder persists run progress. Recorder errors are logged and never stop
// training.
type Recorder interface {
	StartRun(ctx context.Context, run RunInfo) error
	RecordStep(ctx context.Context, m StepMetrics) error
	RecordEpoch(ctx context.Context, s EpochStats) error
	RecordCheckpoint(ctx context.Context, runID, path string, step int64) error
	FinishRun(ctx context.Context, runID string, state State, runErr error) error
}

type nopRecorder struct{}

func (nopRecorder) StartRun(context.Context, RunInfo) error                       { return nil }
func (nopRecorder) RecordStep(context.Context, StepMetrics) error                 { return nil }
func (nopRecorder) RecordEpoch(context.Context, EpochStats) error                 { return nil }
func (nopRecorder) RecordCheckpoint(context.Context, string, string, int64) error { return nil }
func (nopRecorder) FinishRun(context.Context, string, State, error) error         { return nil }
