package generate

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/born-ml/born-vae/internal/backend/cpu"
	"github.com/born-ml/born-vae/internal/imageio"
	"github.com/born-ml/born-vae/internal/tensor"
	"github.com/born-ml/born-vae/internal/vae"
)

// Backend is the backend generation runs on. It records no gradients.
type Backend = *cpu.CPUBackend

// GenerateConfig configures a generation run.
//
//nolint:revive // GenerateConfig is clearer than Config
type GenerateConfig struct {
	// OutputDir receives sample_NNNN.png files.
	OutputDir string

	// Checkpoint is the model file. Empty picks the latest checkpoint under
	// OutputDir.
	Checkpoint string

	// Count is the number of images to write.
	Count int

	// BatchSize is the number of latent vectors decoded per forward pass.
	BatchSize int

	// Sampling is the latent sampling configuration.
	Sampling SamplingConfig
}

// DefaultGenerateConfig returns the defaults for generation.
func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{
		Count:     16,
		BatchSize: 8,
		Sampling:  DefaultSamplingConfig(),
	}
}

// GenerateResult is a single result from streaming generation.
//
//nolint:revive // GenerateResult is clearer than Result
type GenerateResult struct {
	Index int    // Sample index, starting at 0
	Path  string // Written PNG file
	Done  bool   // Is generation complete
	Error error  // Error if any
}

// ImageGenerator decodes prior samples into images.
type ImageGenerator struct {
	model   *vae.Model[Backend]
	sampler *LatentSampler
	config  GenerateConfig
}

// Load opens the model named by config (or the latest checkpoint under
// config.OutputDir) on a plain CPU backend. It returns a *vae.LoadError when
// no usable model exists.
func Load(config GenerateConfig) (*ImageGenerator, string, error) {
	path := config.Checkpoint
	if path == "" {
		latest, err := vae.LatestCheckpoint(config.OutputDir)
		if err != nil {
			return nil, "", err
		}
		path = latest
	}

	model, err := vae.LoadModel(path, cpu.New(), config.Sampling.Seed)
	if err != nil {
		return nil, "", err
	}
	slog.Info("model loaded", "path", path, "model", model.Config())
	return NewImageGenerator(model, config), path, nil
}

// NewImageGenerator wraps an already loaded model.
func NewImageGenerator(model *vae.Model[Backend], config GenerateConfig) *ImageGenerator {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultGenerateConfig().BatchSize
	}
	return &ImageGenerator{
		model:   model,
		sampler: NewLatentSampler(config.Sampling),
		config:  config,
	}
}

// Generate writes config.Count images and returns their paths in order.
func (g *ImageGenerator) Generate(ctx context.Context) ([]string, error) {
	var paths []string
	for res := range g.GenerateStream(ctx) {
		if res.Error != nil {
			return paths, res.Error
		}
		if res.Done {
			break
		}
		paths = append(paths, res.Path)
	}
	return paths, nil
}

// GenerateStream writes images one by one and reports each on the returned
// channel. The channel is closed after a final Done result or an error.
func (g *ImageGenerator) GenerateStream(ctx context.Context) <-chan GenerateResult {
	ch := make(chan GenerateResult, g.config.BatchSize)

	go func() {
		defer close(ch)

		if g.config.Count <= 0 {
			ch <- GenerateResult{Error: fmt.Errorf("sample count must be positive, got %d", g.config.Count)}
			return
		}
		if err := os.MkdirAll(g.config.OutputDir, 0o755); err != nil {
			ch <- GenerateResult{Error: &vae.IOError{Op: "create output dir", Path: g.config.OutputDir, Err: err}}
			return
		}

		for start := 0; start < g.config.Count; start += g.config.BatchSize {
			if err := ctx.Err(); err != nil {
				ch <- GenerateResult{Error: err}
				return
			}

			n := min(g.config.BatchSize, g.config.Count-start)
			images, err := g.decode(n)
			if err != nil {
				ch <- GenerateResult{Error: err}
				return
			}
			for i, img := range images {
				idx := start + i
				path := SamplePath(g.config.OutputDir, idx)
				if err := imageio.SavePNG(path, img); err != nil {
					ch <- GenerateResult{Index: idx, Error: &vae.IOError{Op: "write sample", Path: path, Err: err}}
					return
				}
				slog.Debug("sample written", "index", idx, "path", path)
				ch <- GenerateResult{Index: idx, Path: path}
			}
		}
		ch <- GenerateResult{Done: true}
	}()

	return ch
}

// decode draws n latent vectors and decodes them into images.
func (g *ImageGenerator) decode(n int) ([]image.Image, error) {
	cfg := g.model.Config()
	backend := g.model.Backend()

	z, err := tensor.FromSlice(g.sampler.Sample(n, cfg.LatentDim), tensor.Shape{n, cfg.LatentDim}, backend)
	if err != nil {
		return nil, err
	}
	out, err := g.model.Decode(z)
	if err != nil {
		return nil, err
	}

	data := out.Data()
	per := cfg.Channels * cfg.ImageSize * cfg.ImageSize
	images := make([]image.Image, n)
	for i := range n {
		img, err := imageio.FromCHW(data[i*per:(i+1)*per], cfg.Channels, cfg.ImageSize, cfg.ImageSize)
		if err != nil {
			return nil, fmt.Errorf("convert sample %d: %w", i, err)
		}
		images[i] = img
	}
	return images, nil
}

// SamplePath names the i-th generated image.
func SamplePath(outDir string, i int) string {
	return filepath.Join(outDir, fmt.Sprintf("sample_%04d.png", i))
}
