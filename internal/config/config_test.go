package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born-vae/internal/vae"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vae.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	if diff := cmp.Diff(vae.DefaultConfig(), cfg.Model()); diff != "" {
		t.Errorf("model config mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, vae.LossConfig{Beta: 1, Reconstruction: vae.ReconstructionMSE}, cfg.Loss())
}

func TestLoad(t *testing.T) {
	cases := map[string]struct {
		file string
		env  map[string]string
		edit func(*Config)
	}{
		"no file": {
			edit: func(*Config) {},
		},
		"empty file": {
			file: "",
			edit: func(*Config) {},
		},
		"file": {
			file: "latent_dim: 8\nchannel_multipliers: [1, 2]\nbeta: 0.5\n",
			edit: func(c *Config) {
				c.LatentDim = 8
				c.ChannelMultipliers = []int{1, 2}
				c.Beta = 0.5
			},
		},
		"env over file": {
			file: "latent_dim: 8\nepochs: 3\n",
			env: map[string]string{
				"VAE_LATENT_DIM":          "12",
				"VAE_LEARNING_RATE":       "0.01",
				"VAE_CHANNEL_MULTIPLIERS": "1, 1, 2",
				"VAE_RECONSTRUCTION":      "BCE",
				"VAE_SEED":                "'7'",
			},
			edit: func(c *Config) {
				c.LatentDim = 12
				c.Epochs = 3
				c.LearningRate = 0.01
				c.ChannelMultipliers = []int{1, 1, 2}
				c.Reconstruction = "bce"
				c.Seed = 7
			},
		},
		"bad env ignored": {
			env: map[string]string{
				"VAE_BATCH_SIZE":          "many",
				"VAE_CHANNEL_MULTIPLIERS": "1,x",
				"VAE_BETA":                "",
			},
			edit: func(*Config) {},
		},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if name != "no file" {
				path = writeFile(t, tt.file)
			}

			got, err := Load(path)
			require.NoError(t, err)

			want := Default()
			tt.edit(&want)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "open config")

	_, err = Load(writeFile(t, "latent_dims: 8\n"))
	assert.ErrorContains(t, err, "latent_dims")

	_, err = Load(writeFile(t, "latent_dim: [1\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.BatchSize = 0
	cfg.LearningRate = -1
	cfg.Reconstruction = "l1"
	cfg.ImageSize = 30

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"batch_size", "learning_rate", "l1", "divisible"} {
		assert.ErrorContains(t, err, want)
	}

	cfg = Default()
	cfg.CheckpointInterval = 0
	cfg.Beta = 0
	assert.NoError(t, cfg.Validate())
}

func TestModelCopiesMultipliers(t *testing.T) {
	cfg := Default()
	m := cfg.Model()
	m.ChannelMultipliers[0] = 99
	assert.Equal(t, 1, cfg.ChannelMultipliers[0])
}

func TestDebug(t *testing.T) {
	for value, want := range map[string]bool{"": false, "0": false, "false": false, "1": true, "yes": true, "true": true} {
		t.Setenv("VAE_DEBUG", value)
		assert.Equal(t, want, Debug(), "VAE_DEBUG=%q", value)
	}
}

func TestEnvVarsCoverWithEnv(t *testing.T) {
	vars := EnvVars()
	for _, key := range []string{"VAE_LATENT_DIM", "VAE_BATCH_SIZE", "VAE_SEED", "VAE_DEBUG"} {
		assert.Contains(t, vars, key)
	}
}
