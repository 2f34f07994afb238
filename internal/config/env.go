package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Var returns the value of an environment variable with surrounding
// whitespace and quotes removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// Debug reports whether VAE_DEBUG enables debug logging. Any value that is
// not a recognizable false counts as true.
func Debug() bool {
	s := Var("VAE_DEBUG")
	if s == "" {
		return false
	}
	b, err := strconv.ParseBool(s)
	return err != nil || b
}

// EnvVars lists the variables WithEnv reads, with a short description.
func EnvVars() map[string]string {
	return map[string]string{
		"VAE_IMAGE_SIZE":          "Square input and output image size",
		"VAE_CHANNELS":            "Image channels (1 or 3)",
		"VAE_LATENT_DIM":          "Latent space dimension",
		"VAE_BASE_FILTERS":        "Filters of the first encoder level",
		"VAE_CHANNEL_MULTIPLIERS": "Comma-separated filter multipliers per level",
		"VAE_RES_BLOCKS":          "Residual blocks per level",
		"VAE_NORM_GROUPS":         "Group normalization groups",
		"VAE_BATCH_SIZE":          "Images per training step",
		"VAE_LEARNING_RATE":       "Adam learning rate",
		"VAE_BETA":                "Weight of the KL term",
		"VAE_RECONSTRUCTION":      "Reconstruction loss (mse or bce)",
		"VAE_EPOCHS":              "Training epochs",
		"VAE_CHECKPOINT_INTERVAL": "Steps between checkpoints (0 = every epoch)",
		"VAE_SAMPLES":             "Images written by generate",
		"VAE_TEMPERATURE":         "Prior scale used by generate",
		"VAE_SEED":                "Seed for initialization, shuffling and sampling",
		"VAE_LOG_EVERY":           "Steps between progress log lines",
		"VAE_WORKERS":             "Image decode goroutines (0 = core count)",
		"VAE_DEBUG":               "Enable debug logging",
	}
}

// WithEnv returns c with every set VAE_* variable applied. Malformed values
// are logged and ignored.
func (c Config) WithEnv() Config {
	c.ImageSize = envInt("VAE_IMAGE_SIZE", c.ImageSize)
	c.Channels = envInt("VAE_CHANNELS", c.Channels)
	c.LatentDim = envInt("VAE_LATENT_DIM", c.LatentDim)
	c.BaseFilters = envInt("VAE_BASE_FILTERS", c.BaseFilters)
	c.ChannelMultipliers = envInts("VAE_CHANNEL_MULTIPLIERS", c.ChannelMultipliers)
	c.ResBlocks = envInt("VAE_RES_BLOCKS", c.ResBlocks)
	c.NormGroups = envInt("VAE_NORM_GROUPS", c.NormGroups)
	c.BatchSize = envInt("VAE_BATCH_SIZE", c.BatchSize)
	c.LearningRate = envFloat("VAE_LEARNING_RATE", c.LearningRate)
	c.Beta = envFloat("VAE_BETA", c.Beta)
	if s := Var("VAE_RECONSTRUCTION"); s != "" {
		c.Reconstruction = strings.ToLower(s)
	}
	c.Epochs = envInt("VAE_EPOCHS", c.Epochs)
	c.CheckpointInterval = envInt("VAE_CHECKPOINT_INTERVAL", c.CheckpointInterval)
	c.SampleCount = envInt("VAE_SAMPLES", c.SampleCount)
	c.Temperature = envFloat("VAE_TEMPERATURE", c.Temperature)
	c.Seed = envUint64("VAE_SEED", c.Seed)
	c.LogEvery = envInt("VAE_LOG_EVERY", c.LogEvery)
	c.Workers = envInt("VAE_WORKERS", c.Workers)
	return c
}

func envInt(key string, defaultValue int) int {
	if s := Var(key); s != "" {
		n, err := strconv.Atoi(s)
		if err == nil {
			return n
		}
		slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
	}
	return defaultValue
}

func envUint64(key string, defaultValue uint64) uint64 {
	if s := Var(key); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err == nil {
			return n
		}
		slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
	}
	return defaultValue
}

func envFloat(key string, defaultValue float64) float64 {
	if s := Var(key); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return f
		}
		slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
	}
	return defaultValue
}

func envInts(key string, defaultValue []int) []int {
	s := Var(key)
	if s == "" {
		return defaultValue
	}
	var out []int
	for field := range strings.SplitSeq(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}
