// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package vae

import (
	"context"
	"fmt"
	"os"

	"github.com/born-ml/born-vae/internal/backend/cpu"
	"github.com/born-ml/born-vae/internal/config"
	"github.com/born-ml/born-vae/internal/generate"
	"github.com/born-ml/born-vae/internal/runlog"
	"github.com/born-ml/born-vae/internal/serialization"
	"github.com/born-ml/born-vae/internal/train"
	"github.com/born-ml/born-vae/internal/vae"
)

// Config is the full run configuration (architecture, optimization and
// generation settings).
type Config = config.Config

// TrainResult summarizes a finished training run.
type TrainResult = train.Result

// Error sentinels. Every error returned by this package that falls into one
// of these kinds matches it through errors.Is.
var (
	ErrShapeMismatch = vae.ErrShapeMismatch
	ErrLoad          = vae.ErrLoad
	ErrDiverged      = vae.ErrDiverged
	ErrIO            = vae.ErrIO
)

// Error types carrying details for each kind.
type (
	ShapeMismatchError    = vae.ShapeMismatchError
	LoadError             = vae.LoadError
	TrainingDivergedError = vae.TrainingDivergedError
	IOError               = vae.IOError
)

// Version is the release version, also written into every saved model.
var Version = serialization.Version

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig returns the defaults overlaid with a YAML file (if path is not
// empty) and VAE_* environment variables.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// TrainOptions locate the data and outputs of a training run.
type TrainOptions struct {
	DataDir   string
	OutputDir string

	// Resume continues from the latest checkpoint in OutputDir.
	Resume bool

	// NoHistory disables the runs.db history database in OutputDir.
	NoHistory bool
}

// Train runs training to completion or until ctx is cancelled.
func Train(ctx context.Context, cfg Config, opts TrainOptions) (TrainResult, error) {
	trainOpts := train.Options{
		DataDir:   opts.DataDir,
		OutputDir: opts.OutputDir,
		Resume:    opts.Resume,
	}

	if !opts.NoHistory {
		if err := ensureDir(opts.OutputDir); err != nil {
			return TrainResult{}, err
		}
		store, err := runlog.OpenDir(opts.OutputDir)
		if err != nil {
			return TrainResult{}, fmt.Errorf("open run history: %w", err)
		}
		defer store.Close()
		trainOpts.Recorder = store
	}

	t, err := train.New(cfg, trainOpts)
	if err != nil {
		return TrainResult{}, err
	}
	return t.Run(ctx)
}

// GenerateOptions select the model and destination of generated images.
type GenerateOptions struct {
	OutputDir string

	// Checkpoint is the model file; empty uses the latest checkpoint in
	// OutputDir.
	Checkpoint string
}

// Generate writes cfg.SampleCount images and returns their paths. The model
// architecture is read from the checkpoint; cfg supplies the sample count,
// temperature and seed.
func Generate(ctx context.Context, cfg Config, opts GenerateOptions) ([]string, error) {
	gcfg := generate.DefaultGenerateConfig()
	gcfg.OutputDir = opts.OutputDir
	gcfg.Checkpoint = opts.Checkpoint
	gcfg.Count = cfg.SampleCount
	gcfg.Sampling = generate.SamplingConfig{
		Temperature: float32(cfg.Temperature),
		Seed:        cfg.Seed,
	}

	gen, _, err := generate.Load(gcfg)
	if err != nil {
		return nil, err
	}
	return gen.Generate(ctx)
}

// LayerInfo describes one parameter tensor of the network.
type LayerInfo struct {
	Name       string
	Shape      []int
	Parameters int
}

// Summary lists the parameters of the network cfg describes, in checkpoint
// order.
func Summary(cfg Config) ([]LayerInfo, error) {
	model, err := vae.New(cfg.Model(), cfg.Seed, cpu.New())
	if err != nil {
		return nil, err
	}
	params := model.Parameters()
	out := make([]LayerInfo, 0, len(params))
	for _, p := range params {
		out = append(out, LayerInfo{
			Name:       p.Name(),
			Shape:      p.Tensor().Shape().Clone(),
			Parameters: p.Tensor().NumElements(),
		})
	}
	return out, nil
}

// SummaryOf lists the parameters stored in a model file.
func SummaryOf(path string) (Config, []LayerInfo, error) {
	mcfg, _, err := vae.ReadCheckpointInfo(path)
	if err != nil {
		return Config{}, nil, err
	}
	cfg := DefaultConfig()
	cfg.ImageSize = mcfg.ImageSize
	cfg.Channels = mcfg.Channels
	cfg.LatentDim = mcfg.LatentDim
	cfg.BaseFilters = mcfg.BaseFilters
	cfg.ChannelMultipliers = mcfg.ChannelMultipliers
	cfg.ResBlocks = mcfg.ResBlocks
	cfg.NormGroups = mcfg.NormGroups
	layers, err := Summary(cfg)
	return cfg, layers, err
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "create output dir", Path: dir, Err: err}
	}
	return nil
}
