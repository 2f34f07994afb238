package train

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born-vae/internal/backend/cpu"
	"github.com/born-ml/born-vae/internal/config"
	"github.com/born-ml/born-vae/internal/vae"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ImageSize = 8
	cfg.LatentDim = 4
	cfg.BaseFilters = 4
	cfg.ChannelMultipliers = []int{1, 2}
	cfg.NormGroups = 2
	cfg.BatchSize = 2
	cfg.Epochs = 1
	cfg.CheckpointInterval = 2
	cfg.LogEvery = 1
	cfg.Workers = 2
	cfg.Seed = 7
	return cfg
}

// writeImages writes n small gradient PNGs into a new directory.
func writeImages(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := range n {
		img := image.NewRGBA(image.Rect(0, 0, 12, 12))
		for y := range 12 {
			for x := range 12 {
				img.Set(x, y, color.RGBA{R: uint8(x * 20), G: uint8(y * 20), B: uint8(i * 25), A: 255})
			}
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("img%02d.png", i)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
	return dir
}

func listCheckpoints(t *testing.T, out string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(vae.CheckpointDir(out), "*.born"))
	require.NoError(t, err)
	return matches
}

type fakeRecorder struct {
	mu          sync.Mutex
	runs        []RunInfo
	steps       []StepMetrics
	epochs      []EpochStats
	checkpoints []string
	finalState  State
	finalErr    error
}

func (r *fakeRecorder) StartRun(_ context.Context, run RunInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *fakeRecorder) RecordStep(_ context.Context, m StepMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, m)
	return nil
}

func (r *fakeRecorder) RecordEpoch(_ context.Context, s EpochStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epochs = append(r.epochs, s)
	return nil
}

func (r *fakeRecorder) RecordCheckpoint(_ context.Context, _, path string, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints = append(r.checkpoints, path)
	return nil
}

func (r *fakeRecorder) FinishRun(_ context.Context, _ string, state State, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalState, r.finalErr = state, err
	return nil
}

func TestRun_WritesLoadableCheckpoints(t *testing.T) {
	data, out := writeImages(t, 10), t.TempDir()
	rec := &fakeRecorder{}

	trainer, err := New(testConfig(), Options{DataDir: data, OutputDir: out, Recorder: rec})
	require.NoError(t, err)
	assert.Equal(t, StateInitializing, trainer.State())

	res, err := trainer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, trainer.State())

	// 5 steps with interval 2: boundaries at steps 2 and 4 only.
	assert.Equal(t, int64(5), res.Steps)
	assert.Equal(t, []string{
		vae.CheckpointPath(out, 1, 2),
		vae.CheckpointPath(out, 1, 4),
	}, res.Checkpoints)
	assert.Len(t, listCheckpoints(t, out), 2)

	latest, err := vae.LatestCheckpoint(out)
	require.NoError(t, err)
	assert.Equal(t, vae.CheckpointPath(out, 1, 4), latest)

	model, err := vae.LoadModel(latest, cpu.New(), 0)
	require.NoError(t, err)
	assert.True(t, model.Config().Equal(testConfig().Model()))

	_, info, err := vae.ReadCheckpointInfo(latest)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, res.RunID, info.RunID)
	assert.Equal(t, int64(4), info.Step)

	require.Len(t, rec.runs, 1)
	assert.False(t, rec.runs[0].Resumed)
	require.Len(t, rec.steps, 5)
	assert.Equal(t, rec.steps[3].Loss, info.Loss)
	assert.Equal(t, rec.steps[4].Loss, res.FinalLoss)
	for i, m := range rec.steps {
		assert.Equal(t, int64(i+1), m.Step)
		assert.Equal(t, 1, m.Epoch)
	}
	require.Len(t, rec.epochs, 1)
	assert.Equal(t, 5, rec.epochs[0].Steps)
	assert.Equal(t, res.Checkpoints, rec.checkpoints)
	assert.Equal(t, StateCompleted, rec.finalState)
	assert.NoError(t, rec.finalErr)
}

func TestRun_OneCheckpointPerBoundary(t *testing.T) {
	tests := []struct {
		name     string
		interval int
		want     []int64
	}{
		{"interval 5", 5, []int64{5}},
		{"interval 3", 3, []int64{3}},
		{"interval longer than run", 7, nil},
	}

	data := writeImages(t, 10)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := t.TempDir()
			cfg := testConfig()
			cfg.LatentDim = 8
			cfg.CheckpointInterval = tt.interval

			trainer, err := New(cfg, Options{DataDir: data, OutputDir: out})
			require.NoError(t, err)
			res, err := trainer.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(5), res.Steps)

			var want []string
			for _, step := range tt.want {
				want = append(want, vae.CheckpointPath(out, 1, step))
			}
			assert.Equal(t, want, res.Checkpoints)
			assert.Equal(t, len(want), len(listCheckpoints(t, out)))

			for _, path := range want {
				model, err := vae.LoadModel(path, cpu.New(), 0)
				require.NoError(t, err)
				assert.Equal(t, 8, model.Config().LatentDim)
			}
		})
	}
}

func TestRun_CheckpointAtEpochEnd(t *testing.T) {
	data, out := writeImages(t, 5), t.TempDir()
	cfg := testConfig()
	cfg.CheckpointInterval = 0
	cfg.Epochs = 2

	trainer, err := New(cfg, Options{DataDir: data, OutputDir: out})
	require.NoError(t, err)
	res, err := trainer.Run(context.Background())
	require.NoError(t, err)

	// 5 images in batches of 2: the odd one out is dropped each epoch.
	assert.Equal(t, int64(4), res.Steps)
	assert.Equal(t, []string{
		vae.CheckpointPath(out, 1, 2),
		vae.CheckpointPath(out, 2, 4),
	}, res.Checkpoints)
}

func TestRun_Resume(t *testing.T) {
	data, out := writeImages(t, 6), t.TempDir()
	cfg := testConfig()
	cfg.CheckpointInterval = 0

	first, err := New(cfg, Options{DataDir: data, OutputDir: out})
	require.NoError(t, err)
	firstRes, err := first.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), firstRes.Steps)

	cfg.Epochs = 2
	rec := &fakeRecorder{}
	second, err := New(cfg, Options{DataDir: data, OutputDir: out, Resume: true, Recorder: rec})
	require.NoError(t, err)
	assert.Equal(t, firstRes.RunID, second.RunID())
	assert.Equal(t, int64(3), second.Step())

	res, err := second.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Steps)
	assert.Equal(t, []string{vae.CheckpointPath(out, 2, 6)}, res.Checkpoints)

	require.Len(t, rec.runs, 1)
	assert.True(t, rec.runs[0].Resumed)
	assert.Equal(t, int64(3), rec.runs[0].StartStep)
	require.Len(t, rec.steps, 3)
	assert.Equal(t, int64(4), rec.steps[0].Step)
	assert.Equal(t, 2, rec.steps[0].Epoch)

	// Nothing left to do: no steps and no new checkpoint.
	third, err := New(cfg, Options{DataDir: data, OutputDir: out, Resume: true})
	require.NoError(t, err)
	res, err = third.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Steps)
	assert.Empty(t, res.Checkpoints)
	assert.Len(t, listCheckpoints(t, out), 2)
}

func TestRun_ResumeWithoutCheckpointStartsFresh(t *testing.T) {
	data, out := writeImages(t, 4), t.TempDir()

	trainer, err := New(testConfig(), Options{DataDir: data, OutputDir: out, Resume: true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), trainer.Step())
}

func TestRun_DivergedWritesNoCheckpoint(t *testing.T) {
	data, out := writeImages(t, 10), t.TempDir()
	cfg := testConfig()
	cfg.CheckpointInterval = 0
	cfg.LearningRate = 1e30
	rec := &fakeRecorder{}

	trainer, err := New(cfg, Options{DataDir: data, OutputDir: out, Recorder: rec})
	require.NoError(t, err)
	_, err = trainer.Run(context.Background())

	require.ErrorIs(t, err, vae.ErrDiverged)
	var diverged *vae.TrainingDivergedError
	require.ErrorAs(t, err, &diverged)
	assert.Equal(t, 1, diverged.Epoch)
	assert.Greater(t, diverged.Step, int64(1))
	assert.Equal(t, StateFailed, trainer.State())
	assert.Empty(t, listCheckpoints(t, out))
	assert.Equal(t, StateFailed, rec.finalState)
	assert.ErrorIs(t, rec.finalErr, vae.ErrDiverged)
}

func TestRun_Cancelled(t *testing.T) {
	data, out := writeImages(t, 4), t.TempDir()
	trainer, err := New(testConfig(), Options{DataDir: data, OutputDir: out})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = trainer.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, trainer.State())
	assert.Empty(t, listCheckpoints(t, out))
}

func TestNew_Errors(t *testing.T) {
	data := writeImages(t, 1)
	_, err := New(testConfig(), Options{DataDir: data, OutputDir: t.TempDir()})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.BatchSize = 0
	_, err = New(cfg, Options{DataDir: data, OutputDir: t.TempDir()})
	assert.ErrorContains(t, err, "batch_size")
}

func TestEpochStats(t *testing.T) {
	s := epochStats("run", 3, []float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, "run", s.RunID)
	assert.Equal(t, 3, s.Epoch)
	assert.Equal(t, 8, s.Steps)
	assert.InDelta(t, 5.0, s.MeanLoss, 1e-12)
	assert.InDelta(t, 2.138, s.StdLoss, 1e-3) // sample standard deviation
	assert.Equal(t, 2.0, s.MinLoss)
	assert.Equal(t, 9.0, s.MaxLoss)

	single := epochStats("run", 1, []float64{3})
	assert.Equal(t, 0.0, single.StdLoss)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "checkpointing", StateCheckpointing.String())
	assert.Equal(t, "State(9)", State(9).String())
}
