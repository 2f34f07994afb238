// Package config resolves the run configuration: built-in defaults, an
// optional YAML file, VAE_* environment variables and finally CLI flags.
//
// The resolved value is validated once and then passed by value.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/born-vae/internal/vae"
)

// Config is the full set of knobs for training and generation.
type Config struct {
	// Architecture.
	ImageSize          int   `yaml:"image_size"`
	Channels           int   `yaml:"channels"`
	LatentDim          int   `yaml:"latent_dim"`
	BaseFilters        int   `yaml:"base_filters"`
	ChannelMultipliers []int `yaml:"channel_multipliers"`
	ResBlocks          int   `yaml:"res_blocks"`
	NormGroups         int   `yaml:"norm_groups"`

	// Optimization.
	BatchSize          int     `yaml:"batch_size"`
	LearningRate       float64 `yaml:"learning_rate"`
	Beta               float64 `yaml:"beta"`
	Reconstruction     string  `yaml:"reconstruction"`
	Epochs             int     `yaml:"epochs"`
	CheckpointInterval int     `yaml:"checkpoint_interval"` // steps; 0 checkpoints at epoch end

	SampleCount int     `yaml:"sample_count"`
	Temperature float64 `yaml:"temperature"` // prior std scale for generation
	Seed        uint64  `yaml:"seed"`
	LogEvery    int     `yaml:"log_every"`
	Workers     int     `yaml:"workers"` // image decode goroutines; 0 picks the core count
}

// Default returns the built-in configuration.
func Default() Config {
	m := vae.DefaultConfig()
	return Config{
		ImageSize:          m.ImageSize,
		Channels:           m.Channels,
		LatentDim:          m.LatentDim,
		BaseFilters:        m.BaseFilters,
		ChannelMultipliers: m.ChannelMultipliers,
		ResBlocks:          m.ResBlocks,
		NormGroups:         m.NormGroups,

		BatchSize:          16,
		LearningRate:       1e-3,
		Beta:               1.0,
		Reconstruction:     string(vae.ReconstructionMSE),
		Epochs:             10,
		CheckpointInterval: 500,

		SampleCount: 16,
		Temperature: 1.0,
		Seed:        42,
		LogEvery:    10,
	}
}

// Load returns the defaults overlaid with the YAML file at path, then with
// the environment. An empty path skips the file. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	return cfg.WithEnv(), nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Model returns the architecture part of the configuration.
func (c Config) Model() vae.Config {
	return vae.Config{
		ImageSize:          c.ImageSize,
		Channels:           c.Channels,
		LatentDim:          c.LatentDim,
		BaseFilters:        c.BaseFilters,
		ChannelMultipliers: append([]int(nil), c.ChannelMultipliers...),
		ResBlocks:          c.ResBlocks,
		NormGroups:         c.NormGroups,
	}
}

// Loss returns the loss weights.
func (c Config) Loss() vae.LossConfig {
	return vae.LossConfig{
		Beta:           float32(c.Beta),
		Reconstruction: vae.Reconstruction(c.Reconstruction),
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.BatchSize > 0, "batch_size must be positive, got %d", c.BatchSize)
	check(c.LearningRate > 0, "learning_rate must be positive, got %g", c.LearningRate)
	check(c.Beta >= 0, "beta must be non-negative, got %g", c.Beta)
	check(c.Epochs > 0, "epochs must be positive, got %d", c.Epochs)
	check(c.CheckpointInterval >= 0, "checkpoint_interval must be non-negative, got %d", c.CheckpointInterval)
	check(c.SampleCount > 0, "sample_count must be positive, got %d", c.SampleCount)
	check(c.Temperature >= 0, "temperature must be non-negative, got %g", c.Temperature)
	check(c.LogEvery >= 0, "log_every must be non-negative, got %d", c.LogEvery)
	check(c.Workers >= 0, "workers must be non-negative, got %d", c.Workers)
	if _, err := vae.ParseReconstruction(c.Reconstruction); err != nil {
		errs = append(errs, err)
	}
	if err := c.Model().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
