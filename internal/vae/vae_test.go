package vae_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born-vae/internal/autodiff"
	"github.com/born-ml/born-vae/internal/backend/cpu"
	"github.com/born-ml/born-vae/internal/optim"
	"github.com/born-ml/born-vae/internal/tensor"
	"github.com/born-ml/born-vae/internal/vae"
)

type (
	CPU      = *cpu.CPUBackend
	Autodiff = *autodiff.AutodiffBackend[*cpu.CPUBackend]
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

func randomImages[B tensor.Backend](n int, seed uint64, backend B) *tensor.Tensor[B] {
	return tensor.Uniform(tensor.Shape{n, 3, 8, 8}, 0, 1, tensor.NewRNG(seed), backend)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, tinyConfig().Validate())
	require.NoError(t, vae.DefaultConfig().Validate())

	cfg := tinyConfig()
	cfg.ImageSize = 9
	assert.ErrorContains(t, cfg.Validate(), "divisible")

	cfg = tinyConfig()
	cfg.Channels = 4
	cfg.LatentDim = 0
	err := cfg.Validate()
	assert.ErrorContains(t, err, "channels")
	assert.ErrorContains(t, err, "latent_dim")

	cfg = tinyConfig()
	cfg.ChannelMultipliers = nil
	assert.Error(t, cfg.Validate())
}

func TestModel_ForwardShapes(t *testing.T) {
	backend := cpu.New()
	model, err := vae.New(tinyConfig(), 1, backend)
	require.NoError(t, err)

	recon, mean, logVar, err := model.Forward(randomImages(2, 3, backend))
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{2, 3, 8, 8}, recon.Shape())
	assert.Equal(t, tensor.Shape{2, 4}, mean.Shape())
	assert.Equal(t, tensor.Shape{2, 4}, logVar.Shape())
	for _, v := range recon.Data() {
		assert.True(t, v >= 0 && v <= 1, "pixel %v outside [0, 1]", v)
	}
}

func TestModel_ParameterNamesAreUnique(t *testing.T) {
	model, err := vae.New(tinyConfig(), 1, cpu.New())
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, p := range model.Parameters() {
		assert.False(t, seen[p.Name()], "duplicate parameter %s", p.Name())
		seen[p.Name()] = true
	}
	assert.True(t, seen["encoder.conv_in.weight"])
	assert.True(t, seen["encoder.down.1.block.0.shortcut.weight"])
	assert.True(t, seen["decoder.up.1.upsample.conv.weight"])
	assert.True(t, seen["encoder.mid.block.0.conv1.weight"])
	assert.True(t, seen["decoder.mid.block.0.conv2.weight"])
	assert.True(t, seen["decoder.conv_out.bias"])
	assert.False(t, seen["decoder.up.0.upsample.conv.weight"])
}

func TestModel_ShapeMismatch(t *testing.T) {
	backend := cpu.New()
	model, err := vae.New(tinyConfig(), 1, backend)
	require.NoError(t, err)

	_, _, _, err = model.Forward(tensor.Zeros(tensor.Shape{2, 3, 16, 16}, backend))
	assert.ErrorIs(t, err, vae.ErrShapeMismatch)
	var shapeErr *vae.ShapeMismatchError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, tensor.Shape{2, 3, 8, 8}, shapeErr.Expected)

	_, _, err = model.Encode(tensor.Zeros(tensor.Shape{3, 8, 8}, backend))
	assert.ErrorIs(t, err, vae.ErrShapeMismatch)

	_, err = model.Decode(tensor.Zeros(tensor.Shape{2, 5}, backend))
	assert.ErrorIs(t, err, vae.ErrShapeMismatch)
}

func TestEncoder_StdIsFinite(t *testing.T) {
	backend := cpu.New()
	model, err := vae.New(tinyConfig(), 1, backend)
	require.NoError(t, err)

	for _, scale := range []float32{0, 1, 1e3, -1e4, 1e6} {
		x := randomImages(2, 5, backend).MulScalar(scale)
		_, logVar, err := model.Encode(x)
		require.NoError(t, err)

		for _, v := range logVar.MulScalar(0.5).Exp().Data() {
			assert.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0), "std %v at scale %v", v, scale)
			assert.GreaterOrEqual(t, v, float32(0))
		}
	}
}

func TestSampleWith_ZeroNoiseReturnsMean(t *testing.T) {
	backend := cpu.New()
	rng := tensor.NewRNG(9)
	mean := tensor.Randn(tensor.Shape{3, 4}, rng, backend)
	logVar := tensor.Randn(tensor.Shape{3, 4}, rng, backend)
	eps := tensor.Zeros(tensor.Shape{3, 4}, backend)

	z := vae.SampleWith(mean, logVar, eps)
	assert.Equal(t, mean.Data(), z.Data())
}

func TestSampleWith_Reparameterization(t *testing.T) {
	backend := cpu.New()
	mean, _ := tensor.FromSlice([]float32{1, -2}, tensor.Shape{1, 2}, backend)
	logVar, _ := tensor.FromSlice([]float32{0, float32(2 * math.Log(3))}, tensor.Shape{1, 2}, backend)
	eps, _ := tensor.FromSlice([]float32{0.5, 1}, tensor.Shape{1, 2}, backend)

	z := vae.SampleWith(mean, logVar, eps).Data()
	assert.InDelta(t, 1.5, z[0], 1e-6)
	assert.InDelta(t, 1.0, z[1], 1e-5) // -2 + 3*1
}

func TestSampler_DrawsFreshNoise(t *testing.T) {
	backend := cpu.New()
	sampler := vae.NewSampler[CPU](tensor.NewRNG(1))
	mean := tensor.Zeros(tensor.Shape{2, 4}, backend)
	logVar := tensor.Zeros(tensor.Shape{2, 4}, backend)

	a := sampler.Sample(mean, logVar)
	b := sampler.Sample(mean, logVar)
	assert.NotEqual(t, a.Data(), b.Data())
}

func TestKLDivergence(t *testing.T) {
	backend := cpu.New()

	zero := tensor.Zeros(tensor.Shape{4, 8}, backend)
	assert.Equal(t, float32(0), vae.KLDivergence(zero, zero).Item())

	rng := tensor.NewRNG(11)
	for range 20 {
		mean := tensor.Randn(tensor.Shape{4, 8}, rng, backend).MulScalar(2)
		logVar := tensor.Randn(tensor.Shape{4, 8}, rng, backend).MulScalar(3)
		assert.GreaterOrEqual(t, vae.KLDivergence(mean, logVar).Item(), float32(-1e-5))
	}

	// One sample, one dim: mean=1, logVar=0 gives 0.5.
	mean, _ := tensor.FromSlice([]float32{1}, tensor.Shape{1, 1}, backend)
	logVar := tensor.Zeros(tensor.Shape{1, 1}, backend)
	assert.InDelta(t, 0.5, vae.KLDivergence(mean, logVar).Item(), 1e-6)
}

func TestComputeLoss(t *testing.T) {
	backend := cpu.New()
	x := randomImages(2, 1, backend)
	xHat := randomImages(2, 2, backend)
	rng := tensor.NewRNG(4)
	mean := tensor.Randn(tensor.Shape{2, 4}, rng, backend)
	logVar := tensor.Randn(tensor.Shape{2, 4}, rng, backend)

	for _, recon := range []vae.Reconstruction{vae.ReconstructionMSE, vae.ReconstructionBCE} {
		loss := vae.ComputeLoss(x, xHat, mean, logVar, vae.LossConfig{Beta: 0.5, Reconstruction: recon})
		total, r, kl := loss.Values()
		assert.InDelta(t, r+0.5*kl, total, 1e-3, string(recon))
		assert.Greater(t, r, 0.0)
	}

	_, err := vae.ParseReconstruction("l1")
	assert.Error(t, err)
	r, err := vae.ParseReconstruction("bce")
	require.NoError(t, err)
	assert.Equal(t, vae.ReconstructionBCE, r)
}

func TestSaveLoad_IdenticalOutput(t *testing.T) {
	backend := cpu.New()
	path := filepath.Join(t.TempDir(), "vae.born")

	src, err := vae.New(tinyConfig(), 1, backend)
	require.NoError(t, err)
	require.NoError(t, src.Save(path))

	dst, err := vae.LoadModel(path, backend, 99)
	require.NoError(t, err)

	x := randomImages(2, 8, backend)
	meanA, _, err := src.Encode(x)
	require.NoError(t, err)
	meanB, _, err := dst.Encode(x)
	require.NoError(t, err)
	assert.Equal(t, meanA.Data(), meanB.Data())

	outA, err := src.Decode(meanA)
	require.NoError(t, err)
	outB, err := dst.Decode(meanB)
	require.NoError(t, err)
	assert.Equal(t, outA.Data(), outB.Data())

	// Load into an existing model with different initial weights.
	other, err := vae.New(tinyConfig(), 2, backend)
	require.NoError(t, err)
	require.NoError(t, other.Load(path))
	outC, err := other.Decode(meanA)
	require.NoError(t, err)
	assert.Equal(t, outA.Data(), outC.Data())
}

func TestLoad_Errors(t *testing.T) {
	backend := cpu.New()
	dir := t.TempDir()
	model, err := vae.New(tinyConfig(), 1, backend)
	require.NoError(t, err)

	t.Run("missing", func(t *testing.T) {
		err := model.Load(filepath.Join(dir, "missing.born"))
		assert.ErrorIs(t, err, vae.ErrLoad)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("architecture", func(t *testing.T) {
		cfg := tinyConfig()
		cfg.LatentDim = 6
		other, err := vae.New(cfg, 1, backend)
		require.NoError(t, err)
		path := filepath.Join(dir, "other.born")
		require.NoError(t, other.Save(path))

		err = model.Load(path)
		assert.ErrorIs(t, err, vae.ErrLoad)
		assert.ErrorContains(t, err, "architecture mismatch")
	})

	t.Run("corrupt", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.born")
		require.NoError(t, model.Save(path))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data[len(data)-1] ^= 0x55
		require.NoError(t, os.WriteFile(path, data, 0o600))

		assert.ErrorIs(t, model.Load(path), vae.ErrLoad)
	})

	t.Run("not a checkpoint", func(t *testing.T) {
		path := filepath.Join(dir, "plain.born")
		require.NoError(t, model.Save(path))
		opt := optim.NewAdam(model.Parameters(), optim.AdamConfig{})
		_, err := model.LoadCheckpoint(path, opt)
		assert.ErrorIs(t, err, vae.ErrLoad)
	})
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	backend := autodiff.New(cpu.New())
	path := filepath.Join(t.TempDir(), "ckpt.born")

	model, err := vae.New(tinyConfig(), 1, backend)
	require.NoError(t, err)
	opt := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 1e-3})
	trainSteps(t, model, opt, randomImages(2, 1, backend), 2)

	info := vae.CheckpointInfo{RunID: "abc", Epoch: 1, Step: 2, Loss: 12.5}
	require.NoError(t, model.SaveCheckpoint(path, opt, info))

	cfg, stored, err := vae.ReadCheckpointInfo(path)
	require.NoError(t, err)
	assert.True(t, cfg.Equal(tinyConfig()))
	require.NotNil(t, stored)
	assert.Equal(t, info, *stored)

	restored, err := vae.New(tinyConfig(), 5, backend)
	require.NoError(t, err)
	restoredOpt := optim.NewAdam(restored.Parameters(), optim.AdamConfig{LR: 1e-3})
	got, err := restored.LoadCheckpoint(path, restoredOpt)
	require.NoError(t, err)
	assert.Equal(t, info, got)
	assert.Equal(t, 2, restoredOpt.GetTimestep())

	for i, p := range restored.Parameters() {
		assert.Equal(t, model.Parameters()[i].Tensor().Data(), p.Tensor().Data(), p.Name())
	}

	// A checkpoint is also a valid model file.
	plain, err := vae.LoadModel(path, cpu.New(), 0)
	require.NoError(t, err)
	assert.Len(t, plain.Parameters(), len(model.Parameters()))
}

// Training on one fixed batch lowers its deterministic (zero-noise) loss.
func TestTraining_ReducesLoss(t *testing.T) {
	backend := autodiff.New(cpu.New())
	model, err := vae.New(tinyConfig(), 3, backend)
	require.NoError(t, err)
	opt := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 5e-3})
	x := randomImages(4, 21, backend)

	before := deterministicLoss(t, model, x)
	trainSteps(t, model, opt, x, 40)
	after := deterministicLoss(t, model, x)

	assert.Less(t, after, before)
}

func trainSteps(t *testing.T, model *vae.Model[Autodiff], opt *optim.Adam[Autodiff], x *tensor.Tensor[Autodiff], steps int) {
	t.Helper()
	backend := model.Backend()
	cfg := vae.LossConfig{Beta: 1, Reconstruction: vae.ReconstructionMSE}
	for range steps {
		opt.ZeroGrad()
		backend.Tape().StartRecording()
		recon, mean, logVar, err := model.Forward(x)
		require.NoError(t, err)
		loss := vae.ComputeLoss(x, recon, mean, logVar, cfg)
		grads := autodiff.Backward(loss.Total, backend)
		opt.Step(grads)
		backend.Tape().Clear()
	}
	backend.Tape().StopRecording()
}

func deterministicLoss(t *testing.T, model *vae.Model[Autodiff], x *tensor.Tensor[Autodiff]) float64 {
	t.Helper()
	mean, logVar, err := model.Encode(x)
	require.NoError(t, err)
	recon, err := model.Decode(mean)
	require.NoError(t, err)
	total, _, _ := vae.ComputeLoss(x, recon, mean, logVar, vae.LossConfig{Beta: 1}).Values()
	return total
}
