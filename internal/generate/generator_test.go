package generate

import (
	"context"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born-vae/internal/backend/cpu"
	"github.com/born-ml/born-vae/internal/imageio"
	"github.com/born-ml/born-vae/internal/tensor"
	"github.com/born-ml/born-vae/internal/vae"
)

func tinyConfig() vae.Config {
	return vae.Config{
		ImageSize:          8,
		Channels:           3,
		LatentDim:          4,
		BaseFilters:        4,
		ChannelMultipliers: []int{1, 2},
		ResBlocks:          1,
		NormGroups:         2,
	}
}

// saveUntrained writes a freshly initialized model to path.
func saveUntrained(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	model, err := vae.New(tinyConfig(), 1, cpu.New())
	require.NoError(t, err)
	require.NoError(t, model.Save(path))
}

func TestGenerate_WritesSamples(t *testing.T) {
	out := t.TempDir()
	ckpt := filepath.Join(t.TempDir(), "model.born")
	saveUntrained(t, ckpt)

	config := DefaultGenerateConfig()
	config.OutputDir = out
	config.Checkpoint = ckpt
	config.Count = 5
	config.BatchSize = 2

	gen, path, err := Load(config)
	require.NoError(t, err)
	assert.Equal(t, ckpt, path)

	paths, err := gen.Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, paths, 5)

	for i, p := range paths {
		assert.Equal(t, SamplePath(out, i), p)
		f, err := os.Open(p)
		require.NoError(t, err)
		img, err := png.Decode(f)
		require.NoError(t, f.Close())
		require.NoError(t, err)
		assert.Equal(t, 8, img.Bounds().Dx())
		assert.Equal(t, 8, img.Bounds().Dy())
	}
	assert.Equal(t, "sample_0004.png", filepath.Base(paths[4]))
}

func TestGenerate_UsesLatestCheckpoint(t *testing.T) {
	out := t.TempDir()
	saveUntrained(t, vae.CheckpointPath(out, 1, 4))
	saveUntrained(t, vae.CheckpointPath(out, 2, 10))

	config := DefaultGenerateConfig()
	config.OutputDir = out
	config.Count = 1

	gen, path, err := Load(config)
	require.NoError(t, err)
	assert.Equal(t, vae.CheckpointPath(out, 2, 10), path)

	paths, err := gen.Generate(context.Background())
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

func TestGenerate_DecodesPriorSamplesOnly(t *testing.T) {
	ckpt := filepath.Join(t.TempDir(), "model.born")
	saveUntrained(t, ckpt)

	config := DefaultGenerateConfig()
	config.OutputDir = t.TempDir()
	config.Checkpoint = ckpt
	config.Count = 3
	config.Sampling.Seed = 11

	gen, _, err := Load(config)
	require.NoError(t, err)
	paths, err := gen.Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, paths, 3)

	// The same latent stream through the decoder alone gives the same pixels.
	model, err := vae.LoadModel(ckpt, cpu.New(), 0)
	require.NoError(t, err)
	cfg := model.Config()
	z, err := tensor.FromSlice(NewLatentSampler(config.Sampling).Sample(3, cfg.LatentDim),
		tensor.Shape{3, cfg.LatentDim}, model.Backend())
	require.NoError(t, err)
	out, err := model.Decode(z)
	require.NoError(t, err)

	per := cfg.Channels * cfg.ImageSize * cfg.ImageSize
	for i, p := range paths {
		want, err := imageio.FromCHW(out.Data()[i*per:(i+1)*per], cfg.Channels, cfg.ImageSize, cfg.ImageSize)
		require.NoError(t, err)

		f, err := os.Open(p)
		require.NoError(t, err)
		got, err := png.Decode(f)
		require.NoError(t, f.Close())
		require.NoError(t, err)

		for y := range cfg.ImageSize {
			for x := range cfg.ImageSize {
				wr, wg, wb, wa := want.At(x, y).RGBA()
				gr, gg, gb, ga := got.At(x, y).RGBA()
				require.Equal(t, [4]uint32{wr, wg, wb, wa}, [4]uint32{gr, gg, gb, ga}, "sample %d pixel (%d, %d)", i, x, y)
			}
		}
	}
}

func TestLoad_NoCheckpoint(t *testing.T) {
	config := DefaultGenerateConfig()
	config.OutputDir = t.TempDir()

	_, _, err := Load(config)
	assert.ErrorIs(t, err, vae.ErrLoad)

	config.Checkpoint = filepath.Join(config.OutputDir, "missing.born")
	_, _, err = Load(config)
	assert.ErrorIs(t, err, vae.ErrLoad)
}

func TestGenerate_Reproducible(t *testing.T) {
	ckpt := filepath.Join(t.TempDir(), "model.born")
	saveUntrained(t, ckpt)

	run := func() []byte {
		config := DefaultGenerateConfig()
		config.OutputDir = t.TempDir()
		config.Checkpoint = ckpt
		config.Count = 1
		gen, _, err := Load(config)
		require.NoError(t, err)
		paths, err := gen.Generate(context.Background())
		require.NoError(t, err)
		data, err := os.ReadFile(paths[0])
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, run(), run())
}

func TestGenerate_ZeroTemperatureRepeatsMeanImage(t *testing.T) {
	ckpt := filepath.Join(t.TempDir(), "model.born")
	saveUntrained(t, ckpt)

	config := DefaultGenerateConfig()
	config.OutputDir = t.TempDir()
	config.Checkpoint = ckpt
	config.Count = 3
	config.Sampling.Temperature = 0

	gen, _, err := Load(config)
	require.NoError(t, err)
	paths, err := gen.Generate(context.Background())
	require.NoError(t, err)

	first, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	for _, p := range paths[1:] {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, first, data)
	}
}

func TestGenerate_Errors(t *testing.T) {
	model, err := vae.New(tinyConfig(), 1, cpu.New())
	require.NoError(t, err)

	config := DefaultGenerateConfig()
	config.OutputDir = t.TempDir()
	config.Count = 0
	_, err = NewImageGenerator(model, config).Generate(context.Background())
	assert.ErrorContains(t, err, "sample count")

	config.Count = 4
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	paths, err := NewImageGenerator(model, config).Generate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, paths)

	// Output "directory" is an existing file.
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	config.OutputDir = file
	_, err = NewImageGenerator(model, config).Generate(context.Background())
	assert.ErrorIs(t, err, vae.ErrIO)
}

func TestGenerateStream_EndsWithDone(t *testing.T) {
	model, err := vae.New(tinyConfig(), 1, cpu.New())
	require.NoError(t, err)

	config := DefaultGenerateConfig()
	config.OutputDir = t.TempDir()
	config.Count = 3

	var results []GenerateResult
	for res := range NewImageGenerator(model, config).GenerateStream(context.Background()) {
		require.NoError(t, res.Error)
		results = append(results, res)
	}
	require.Len(t, results, 4)
	for i := range 3 {
		assert.Equal(t, i, results[i].Index)
		assert.False(t, results[i].Done)
	}
	assert.True(t, results[3].Done)
}

func TestLatentSampler(t *testing.T) {
	s := NewLatentSampler(SamplingConfig{Temperature: 0.5, Seed: 3})
	z := s.Sample(200, 10)
	require.Len(t, z, 2000)

	var sum, sumSq float64
	for _, v := range z {
		sum += float64(v)
		sumSq += float64(v) * float64(v)
	}
	mean := sum / float64(len(z))
	std := math.Sqrt(sumSq/float64(len(z)) - mean*mean)
	assert.InDelta(t, 0, mean, 0.05)
	assert.InDelta(t, 0.5, std, 0.05)

	again := NewLatentSampler(SamplingConfig{Temperature: 0.5, Seed: 3}).Sample(200, 10)
	assert.Equal(t, z, again)
	assert.NotEqual(t, z[:10], s.Sample(1, 10))
}
