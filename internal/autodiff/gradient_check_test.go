package autodiff_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born-vae/internal/autodiff"
	"github.com/born-ml/born-vae/internal/backend/cpu"
	"github.com/born-ml/born-vae/internal/tensor"
)

type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

type T = tensor.Tensor[Backend]

func randInput(seed uint64, shape tensor.Shape, fn func(float32) float32) *tensor.RawTensor {
	rng := tensor.NewRNG(seed)
	r := tensor.MustRaw(shape, tensor.CPU)
	for i := range r.Data() {
		v := float32(rng.NormFloat64())
		if fn != nil {
			v = fn(v)
		}
		r.Data()[i] = v
	}
	return r
}

// checkGradient compares tape gradients of L = sum(f(xs) * w) against central
// finite differences, for every element of every input.
func checkGradient(t *testing.T, inputs []*tensor.RawTensor, f func(xs []*T) *T) {
	t.Helper()
	backend := autodiff.New(cpu.New())

	var weights *tensor.RawTensor
	loss := func() (*T, []*T) {
		xs := make([]*T, len(inputs))
		for i, in := range inputs {
			xs[i] = tensor.New(in, backend)
		}
		out := f(xs)
		if weights == nil {
			weights = randInput(99, out.Shape(), nil)
		}
		return out.Mul(tensor.New(weights, backend)).Sum(), xs
	}

	backend.Tape().StartRecording()
	l, xs := loss()
	grads := autodiff.Backward(l, backend)
	backend.Tape().StopRecording()
	backend.Tape().Clear()

	const h = 1e-2
	for i, x := range xs {
		analytic, ok := grads[x.Raw()]
		require.True(t, ok, "no gradient for input %d", i)
		require.Equal(t, x.Shape(), analytic.Shape(), "gradient shape for input %d", i)

		data := inputs[i].Data()
		for j := range data {
			orig := data[j]
			data[j] = orig + h
			plus, _ := loss()
			data[j] = orig - h
			minus, _ := loss()
			data[j] = orig

			numeric := (float64(plus.Item()) - float64(minus.Item())) / (2 * h)
			got := float64(analytic.Data()[j])
			tol := 2e-2 * math.Max(1, math.Abs(numeric))
			assert.InDelta(t, numeric, got, tol, "input %d element %d", i, j)
		}
	}
}

func TestGradient_Elementwise(t *testing.T) {
	positive := func(v float32) float32 { return float32(math.Abs(float64(v))) + 0.5 }

	t.Run("add broadcast", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{
			randInput(1, tensor.Shape{2, 3, 2, 2}, nil),
			randInput(2, tensor.Shape{1, 3, 1, 1}, nil),
		}, func(xs []*T) *T { return xs[0].Add(xs[1]) })
	})
	t.Run("sub", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{
			randInput(3, tensor.Shape{3, 4}, nil),
			randInput(4, tensor.Shape{4}, nil),
		}, func(xs []*T) *T { return xs[0].Sub(xs[1]) })
	})
	t.Run("mul broadcast", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{
			randInput(5, tensor.Shape{3, 4}, nil),
			randInput(6, tensor.Shape{3, 1}, nil),
		}, func(xs []*T) *T { return xs[0].Mul(xs[1]) })
	})
	t.Run("square", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(7, tensor.Shape{5}, nil)},
			func(xs []*T) *T { return xs[0].Square() })
	})
	t.Run("div", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{
			randInput(8, tensor.Shape{2, 3}, nil),
			randInput(9, tensor.Shape{2, 3}, positive),
		}, func(xs []*T) *T { return xs[0].Div(xs[1]) })
	})
	t.Run("scalar ops", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(10, tensor.Shape{2, 3}, nil)},
			func(xs []*T) *T { return xs[0].MulScalar(-0.5).AddScalar(2) })
	})
}

func TestGradient_Math(t *testing.T) {
	positive := func(v float32) float32 { return float32(math.Abs(float64(v))) + 0.5 }
	// Keep samples clear of the clamp boundaries at ±1.
	awayFromEdges := func(v float32) float32 {
		if math.Abs(math.Abs(float64(v))-1) < 0.1 {
			return v * 0.5
		}
		return v
	}

	t.Run("exp", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(11, tensor.Shape{6}, nil)},
			func(xs []*T) *T { return xs[0].Exp() })
	})
	t.Run("log", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(12, tensor.Shape{6}, positive)},
			func(xs []*T) *T { return xs[0].Log() })
	})
	t.Run("clamp", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(13, tensor.Shape{8}, awayFromEdges)},
			func(xs []*T) *T { return xs[0].Clamp(-1, 1) })
	})
	t.Run("sigmoid", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(14, tensor.Shape{6}, nil)},
			func(xs []*T) *T { return xs[0].Sigmoid() })
	})
	t.Run("silu", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(15, tensor.Shape{6}, nil)},
			func(xs []*T) *T { return xs[0].SiLU() })
	})
}

func TestGradient_ShapeAndReduce(t *testing.T) {
	t.Run("matmul", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{
			randInput(20, tensor.Shape{3, 4}, nil),
			randInput(21, tensor.Shape{4, 2}, nil),
		}, func(xs []*T) *T { return xs[0].MatMul(xs[1]) })
	})
	t.Run("linear", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{
			randInput(22, tensor.Shape{2, 4}, nil),
			randInput(23, tensor.Shape{3, 4}, nil),
			randInput(24, tensor.Shape{3}, nil),
		}, func(xs []*T) *T { return xs[0].MatMul(xs[1].T()).Add(xs[2]) })
	})
	t.Run("transpose 3d", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(25, tensor.Shape{2, 3, 4}, nil)},
			func(xs []*T) *T { return xs[0].Transpose(2, 0, 1) })
	})
	t.Run("reshape", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(26, tensor.Shape{2, 6}, nil)},
			func(xs []*T) *T { return xs[0].Reshape(3, 4) })
	})
	t.Run("sum", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(27, tensor.Shape{2, 3}, nil)},
			func(xs []*T) *T { return xs[0].Sum() })
	})
	t.Run("sumdim", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(28, tensor.Shape{2, 3, 2}, nil)},
			func(xs []*T) *T { return xs[0].SumDim(1, false) })
	})
	t.Run("mean", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(29, tensor.Shape{4}, nil)},
			func(xs []*T) *T { return xs[0].Mean() })
	})
}

func TestGradient_Vision(t *testing.T) {
	t.Run("conv2d same", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{
			randInput(30, tensor.Shape{2, 2, 4, 4}, nil),
			randInput(31, tensor.Shape{3, 2, 3, 3}, nil),
		}, func(xs []*T) *T { return xs[0].Conv2D(xs[1], 1, 1) })
	})
	t.Run("conv2d strided", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{
			randInput(32, tensor.Shape{1, 2, 5, 5}, nil),
			randInput(33, tensor.Shape{2, 2, 3, 3}, nil),
		}, func(xs []*T) *T { return xs[0].Conv2D(xs[1], 2, 1) })
	})
	t.Run("avgpool", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(34, tensor.Shape{1, 2, 4, 4}, nil)},
			func(xs []*T) *T { return xs[0].AvgPool2D(2) })
	})
	t.Run("upsample", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(35, tensor.Shape{1, 2, 2, 2}, nil)},
			func(xs []*T) *T { return xs[0].Upsample2D(2) })
	})
	t.Run("groupnorm", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{randInput(36, tensor.Shape{2, 4, 2, 2}, nil)},
			func(xs []*T) *T { return xs[0].GroupNorm(2, 1e-5) })
	})
	t.Run("groupnorm affine silu", func(t *testing.T) {
		checkGradient(t, []*tensor.RawTensor{
			randInput(37, tensor.Shape{1, 4, 2, 2}, nil),
			randInput(38, tensor.Shape{1, 4, 1, 1}, nil),
			randInput(39, tensor.Shape{1, 4, 1, 1}, nil),
		}, func(xs []*T) *T { return xs[0].GroupNorm(2, 1e-5).Mul(xs[1]).Add(xs[2]).SiLU() })
	})
}
