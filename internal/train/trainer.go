// Package train runs the VAE optimization loop: batches from the image
// source, forward pass and loss on the autodiff backend, Adam updates and
// periodic checkpoints.
package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/born-vae/internal/autodiff"
	"github.com/born-ml/born-vae/internal/backend/cpu"
	"github.com/born-ml/born-vae/internal/config"
	"github.com/born-ml/born-vae/internal/dataset"
	"github.com/born-ml/born-vae/internal/nn"
	"github.com/born-ml/born-vae/internal/optim"
	"github.com/born-ml/born-vae/internal/vae"
)

// Backend is the backend training runs on.
type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

// State is the lifecycle position of a Trainer.
type State int

// Trainer states.
const (
	StateInitializing State = iota
	StateRunning
	StateCheckpointing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateCheckpointing:
		return "checkpointing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options locate the data and outputs of a run.
type Options struct {
	DataDir   string
	OutputDir string
	Resume    bool     // continue from the latest checkpoint in OutputDir
	Recorder  Recorder // optional
}

// Result summarizes a finished run.
type Result struct {
	RunID       string
	Epochs      int
	Steps       int64
	FinalLoss   float64
	Checkpoints []string
}

// Trainer owns the model, optimizer and data source of one run.
type Trainer struct {
	cfg     config.Config
	loss    vae.LossConfig
	opts    Options
	backend Backend
	model   *vae.Model[Backend]
	opt     *optim.Adam[Backend]
	source  *dataset.Source
	rec     Recorder

	state          State
	runID          string
	resumed        bool
	epoch          int
	step           int64
	lastLoss       float64
	lastCheckpoint int64
	checkpoints    []string
}

// New validates cfg, scans the image directory and builds the model. With
// opts.Resume the model and optimizer continue from the latest checkpoint in
// the output directory; a missing checkpoint starts a fresh run.
func New(cfg config.Config, opts Options) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	source, err := dataset.Open(opts.DataDir, dataset.Options{
		ImageSize: cfg.ImageSize,
		Channels:  cfg.Channels,
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
		Seed:      cfg.Seed,
	})
	if err != nil {
		return nil, err
	}

	backend := autodiff.New(cpu.New())
	model, err := vae.New(cfg.Model(), cfg.Seed, backend)
	if err != nil {
		return nil, err
	}

	t := &Trainer{
		cfg:     cfg,
		loss:    cfg.Loss(),
		opts:    opts,
		backend: backend,
		model:   model,
		opt: optim.NewAdam(model.Parameters(), optim.AdamConfig{
			LR: float32(cfg.LearningRate),
		}),
		source:         source,
		rec:            opts.Recorder,
		state:          StateInitializing,
		runID:          uuid.NewString(),
		lastCheckpoint: -1,
	}
	if t.rec == nil {
		t.rec = nopRecorder{}
	}

	if opts.Resume {
		if err := t.restore(); err != nil {
			return nil, err
		}
	}

	slog.Info("trainer ready",
		"run", t.runID,
		"images", source.Len(),
		"batches_per_epoch", source.BatchesPerEpoch(),
		"parameters", nn.CountParameters(model.Parameters()),
		"model", cfg.Model(),
		"resumed", t.resumed)
	return t, nil
}

func (t *Trainer) restore() error {
	path, err := vae.LatestCheckpoint(t.opts.OutputDir)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("no checkpoint to resume from, starting fresh", "dir", vae.CheckpointDir(t.opts.OutputDir))
		return nil
	}
	if err != nil {
		return err
	}

	info, err := t.model.LoadCheckpoint(path, t.opt)
	if err != nil {
		return err
	}
	if info.RunID != "" {
		t.runID = info.RunID
	}
	t.step = info.Step
	t.epoch = int(info.Step / int64(t.source.BatchesPerEpoch()))
	t.lastLoss = info.Loss
	t.lastCheckpoint = info.Step
	t.resumed = true
	slog.Info("resumed from checkpoint", "path", path, "epoch", t.epoch, "step", t.step, "loss", info.Loss)
	return nil
}

// Model returns the model being trained.
func (t *Trainer) Model() *vae.Model[Backend] {
	return t.model
}

// State returns the current lifecycle state.
func (t *Trainer) State() State {
	return t.state
}

// RunID returns the identifier written into checkpoints and history.
func (t *Trainer) RunID() string {
	return t.runID
}

// Step returns the number of optimizer steps taken so far.
func (t *Trainer) Step() int64 {
	return t.step
}

// Run trains until cfg.Epochs epochs are complete, ctx is cancelled or an
// error occurs. Checkpoints written before a failure stay valid.
func (t *Trainer) Run(ctx context.Context) (res Result, err error) {
	if err := os.MkdirAll(vae.CheckpointDir(t.opts.OutputDir), 0o755); err != nil {
		t.state = StateFailed
		return Result{}, &vae.IOError{Op: "create output dir", Path: t.opts.OutputDir, Err: err}
	}

	t.record(ctx, "start run", t.rec.StartRun(ctx, RunInfo{
		ID:        t.runID,
		DataDir:   t.opts.DataDir,
		OutputDir: t.opts.OutputDir,
		Config:    t.cfg,
		Resumed:   t.resumed,
		StartStep: t.step,
		StartedAt: time.Now(),
	}))
	defer func() {
		if err != nil {
			t.state = StateFailed
			slog.Error("training failed", "run", t.runID, "epoch", t.epoch+1, "step", t.step, "error", err)
		}
		// The run may have been stopped by ctx; history still gets the outcome.
		t.record(context.WithoutCancel(ctx), "finish run", t.rec.FinishRun(context.WithoutCancel(ctx), t.runID, t.state, err))
	}()

	t.state = StateRunning
	for t.epoch < t.cfg.Epochs {
		if err := t.runEpoch(ctx); err != nil {
			return t.result(), err
		}
		t.epoch++
	}

	t.state = StateCompleted
	slog.Info("training complete", "run", t.runID, "epochs", t.cfg.Epochs, "steps", t.step, "loss", t.lastLoss)
	return t.result(), nil
}

func (t *Trainer) runEpoch(ctx context.Context) error {
	t.source.StartEpoch(t.epoch)
	// Non-zero only for the first epoch after a resume.
	t.source.Skip(int(t.step - int64(t.epoch*t.source.BatchesPerEpoch())))

	var losses []float64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := t.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		m, err := t.trainStep(batch)
		if err != nil {
			return err
		}
		t.step++
		t.lastLoss = m.Loss
		losses = append(losses, m.Loss)

		if t.cfg.LogEvery > 0 && t.step%int64(t.cfg.LogEvery) == 0 {
			slog.Info("train", "epoch", m.Epoch, "step", m.Step,
				"loss", m.Loss, "recon", m.Reconstruction, "kl", m.KL, "duration", m.Duration)
		}
		t.record(ctx, "record step", t.rec.RecordStep(ctx, m))

		if t.cfg.CheckpointInterval > 0 && t.step%int64(t.cfg.CheckpointInterval) == 0 {
			if err := t.checkpoint(ctx); err != nil {
				return err
			}
		}
	}

	if len(losses) > 0 {
		s := epochStats(t.runID, t.epoch+1, losses)
		slog.Info("epoch complete", "epoch", s.Epoch, "steps", s.Steps,
			"mean_loss", s.MeanLoss, "std_loss", s.StdLoss, "min_loss", s.MinLoss, "max_loss", s.MaxLoss)
		t.record(ctx, "record epoch", t.rec.RecordEpoch(ctx, s))
	}

	if t.cfg.CheckpointInterval == 0 && t.lastCheckpoint != t.step {
		return t.checkpoint(ctx)
	}
	return nil
}

// trainStep runs one forward/backward pass and Adam update. A non-finite
// loss aborts before any parameter changes.
func (t *Trainer) trainStep(batch *dataset.Batch) (StepMetrics, error) {
	start := time.Now()
	tape := t.backend.Tape()

	t.opt.ZeroGrad()
	tape.Clear()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	x := dataset.Tensor(batch, t.backend)
	recon, mean, logVar, err := t.model.Forward(x)
	if err != nil {
		return StepMetrics{}, err
	}
	loss := vae.ComputeLoss(x, recon, mean, logVar, t.loss)
	total, reconLoss, kl := loss.Values()

	if math.IsNaN(total) || math.IsInf(total, 0) {
		return StepMetrics{}, &vae.TrainingDivergedError{Epoch: t.epoch + 1, Step: t.step + 1, Loss: total}
	}

	grads := autodiff.Backward(loss.Total, t.backend)
	t.opt.Step(grads)

	return StepMetrics{
		RunID:          t.runID,
		Epoch:          t.epoch + 1,
		Step:           t.step + 1,
		Loss:           total,
		Reconstruction: reconLoss,
		KL:             kl,
		Duration:       time.Since(start),
	}, nil
}

func (t *Trainer) checkpoint(ctx context.Context) error {
	t.state = StateCheckpointing
	// After the last epoch t.epoch == Epochs; the file keeps the last epoch's number.
	epoch := min(t.epoch+1, t.cfg.Epochs)
	path := vae.CheckpointPath(t.opts.OutputDir, epoch, t.step)

	err := t.model.SaveCheckpoint(path, t.opt, vae.CheckpointInfo{
		RunID: t.runID,
		Epoch: epoch,
		Step:  t.step,
		Loss:  t.lastLoss,
	})
	if err != nil {
		return err
	}

	t.lastCheckpoint = t.step
	t.checkpoints = append(t.checkpoints, path)
	t.state = StateRunning
	slog.Info("checkpoint saved", "path", path, "step", t.step, "loss", t.lastLoss)
	t.record(ctx, "record checkpoint", t.rec.RecordCheckpoint(ctx, t.runID, path, t.step))
	return nil
}

func (t *Trainer) result() Result {
	return Result{
		RunID:       t.runID,
		Epochs:      t.epoch,
		Steps:       t.step,
		FinalLoss:   t.lastLoss,
		Checkpoints: t.checkpoints,
	}
}

func (t *Trainer) record(ctx context.Context, what string, err error) {
	if err != nil && ctx.Err() == nil {
		slog.Warn("run history", "op", what, "error", err)
	}
}

func epochStats(runID string, epoch int, losses []float64) EpochStats {
	mean, std := stat.MeanStdDev(losses, nil)
	if len(losses) < 2 {
		std = 0
	}
	return EpochStats{
		RunID:    runID,
		Epoch:    epoch,
		Steps:    len(losses),
		MeanLoss: mean,
		StdLoss:  std,
		MinLoss:  floats.Min(losses),
		MaxLoss:  floats.Max(losses),
	}
}
