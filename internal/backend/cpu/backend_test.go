package cpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born-vae/internal/tensor"
)

func raw(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromData(data, tensor.Shape(shape), tensor.CPU)
	require.NoError(t, err)
	return r
}

func randRaw(seed uint64, shape ...int) *tensor.RawTensor {
	rng := tensor.NewRNG(seed)
	r := tensor.MustRaw(tensor.Shape(shape), tensor.CPU)
	for i := range r.Data() {
		r.Data()[i] = float32(rng.NormFloat64())
	}
	return r
}

func dot(a, b *tensor.RawTensor) float64 {
	var s float64
	for i, v := range a.Data() {
		s += float64(v) * float64(b.Data()[i])
	}
	return s
}

func TestCPUBackend_New(t *testing.T) {
	backend := New()
	assert.Equal(t, "CPU", backend.Name())
	assert.Equal(t, tensor.CPU, backend.Device())
}

func TestCPUBackend_Add(t *testing.T) {
	backend := New()
	a := raw(t, []float32{1, 2, 3, 4}, 2, 2)
	b := raw(t, []float32{10, 20, 30, 40}, 2, 2)

	got := backend.Add(a, b)
	assert.Equal(t, []float32{11, 22, 33, 44}, got.Data())
	assert.Equal(t, []float32{1, 2, 3, 4}, a.Data(), "inputs must not be modified")
}

func TestCPUBackend_Broadcasting(t *testing.T) {
	backend := New()

	col := raw(t, []float32{1, 2, 3}, 3, 1)
	row := raw(t, []float32{10, 20, 30, 40}, 1, 4)

	got := backend.Add(col, row)
	assert.Equal(t, tensor.Shape{3, 4}, got.Shape())
	assert.Equal(t, []float32{
		11, 21, 31, 41,
		12, 22, 32, 42,
		13, 23, 33, 43,
	}, got.Data())

	bias := raw(t, []float32{1, -1}, 1, 2, 1, 1)
	x := raw(t, []float32{1, 1, 1, 1, 2, 2, 2, 2}, 1, 2, 2, 2)
	assert.Equal(t, []float32{2, 2, 2, 2, 1, 1, 1, 1}, backend.Add(x, bias).Data())

	scalar := raw(t, []float32{2}, 1)
	assert.Equal(t, []float32{2, 4, 6}, backend.Mul(raw(t, []float32{1, 2, 3}, 3), scalar).Data())
	assert.Equal(t, []float32{1, 0, -1}, backend.Sub(scalar, raw(t, []float32{1, 2, 3}, 3)).Data())
	assert.Equal(t, []float32{2, 1}, backend.Div(raw(t, []float32{4, 2}, 2), scalar).Data())
}

func TestCPUBackend_BroadcastIncompatiblePanics(t *testing.T) {
	backend := New()
	assert.Panics(t, func() {
		backend.Add(raw(t, make([]float32, 6), 2, 3), raw(t, make([]float32, 4), 2, 2))
	})
}

func TestCPUBackend_MatMul(t *testing.T) {
	backend := New()
	a := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := raw(t, []float32{7, 8, 9, 10, 11, 12}, 3, 2)

	got := backend.MatMul(a, b)
	assert.Equal(t, tensor.Shape{2, 2}, got.Shape())
	assert.Equal(t, []float32{58, 64, 139, 154}, got.Data())

	assert.Panics(t, func() { backend.MatMul(a, a) })
}

func TestCPUBackend_Transpose(t *testing.T) {
	backend := New()
	a := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)

	got := backend.Transpose(a)
	assert.Equal(t, tensor.Shape{3, 2}, got.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, got.Data())

	x := randRaw(1, 2, 3, 4)
	p := backend.Transpose(x, 2, 0, 1)
	assert.Equal(t, tensor.Shape{4, 2, 3}, p.Shape())
	// p[k, i, j] == x[i, j, k]
	assert.Equal(t, x.Data()[1*12+2*4+3], p.Data()[3*6+1*3+2])
}

func TestCPUBackend_Reshape(t *testing.T) {
	backend := New()
	a := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)

	got := backend.Reshape(a, tensor.Shape{3, 2})
	assert.Equal(t, tensor.Shape{3, 2}, got.Shape())
	assert.Equal(t, a.Data(), got.Data())
	assert.Panics(t, func() { backend.Reshape(a, tensor.Shape{4}) })
}

func TestCPUBackend_Unary(t *testing.T) {
	backend := New()
	x := raw(t, []float32{-2, 0, 3}, 3)

	assert.InDeltaSlice(t, []float32{0.1192, 0.5, 0.9526}, backend.Sigmoid(x).Data(), 1e-4)
	assert.InDeltaSlice(t, []float32{-0.2384, 0, 2.8577}, backend.SiLU(x).Data(), 1e-4)
	assert.InDeltaSlice(t, []float32{0.1353, 1, 20.0855}, backend.Exp(x).Data(), 1e-3)
	assert.Equal(t, []float32{-1, 0, 1}, backend.Clamp(x, -1, 1).Data())
	assert.Equal(t, []float32{-4, 0, 6}, backend.MulScalar(x, 2).Data())
	assert.Equal(t, []float32{-1, 1, 4}, backend.AddScalar(x, 1).Data())
	assert.InDeltaSlice(t, []float32{0, 1}, backend.Log(raw(t, []float32{1, float32(math.E)}, 2)).Data(), 1e-6)
}

func TestCPUBackend_SigmoidSaturates(t *testing.T) {
	backend := New()
	got := backend.Sigmoid(raw(t, []float32{-1000, 1000}, 2)).Data()
	assert.Equal(t, float32(0), got[0])
	assert.Equal(t, float32(1), got[1])
}

func TestCPUBackend_ClampKeepsNaN(t *testing.T) {
	backend := New()
	got := backend.Clamp(raw(t, []float32{float32(math.NaN())}, 1), -1, 1)
	assert.True(t, math.IsNaN(float64(got.Data()[0])))
}

func TestCPUBackend_Reduce(t *testing.T) {
	backend := New()
	x := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)

	sum := backend.Sum(x)
	assert.Equal(t, tensor.Shape{}, sum.Shape())
	assert.Equal(t, float32(21), sum.Item())

	rows := backend.SumDim(x, 1, false)
	assert.Equal(t, tensor.Shape{2}, rows.Shape())
	assert.Equal(t, []float32{6, 15}, rows.Data())

	cols := backend.SumDim(x, 0, true)
	assert.Equal(t, tensor.Shape{1, 3}, cols.Shape())
	assert.Equal(t, []float32{5, 7, 9}, cols.Data())
}

func TestCPUBackend_AvgPoolAndUpsample(t *testing.T) {
	backend := New()
	x := raw(t, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, 1, 1, 4, 4)

	pooled := backend.AvgPool2D(x, 2)
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, pooled.Shape())
	assert.Equal(t, []float32{3.5, 5.5, 11.5, 13.5}, pooled.Data())

	up := backend.Upsample2D(raw(t, []float32{1, 2, 3, 4}, 1, 1, 2, 2), 2)
	assert.Equal(t, []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, up.Data())

	assert.Panics(t, func() { backend.AvgPool2D(raw(t, make([]float32, 9), 1, 1, 3, 3), 2) })
}

// The backward kernels are the adjoints of their forward kernels:
// <f(x), g> == <x, f^T(g)>.
func TestCPUBackend_ResampleAdjoints(t *testing.T) {
	backend := New()

	x := randRaw(1, 2, 3, 8, 8)
	g := randRaw(2, 2, 3, 4, 4)
	assert.InDelta(t, dot(backend.AvgPool2D(x, 2), g), dot(x, backend.AvgPool2DBackward(g, 2)), 1e-3)

	x = randRaw(3, 2, 3, 4, 4)
	g = randRaw(4, 2, 3, 8, 8)
	assert.InDelta(t, dot(backend.Upsample2D(x, 2), g), dot(x, backend.Upsample2DBackward(g, 2)), 1e-3)
}

func TestCPUBackend_GroupNorm(t *testing.T) {
	backend := New()
	x := randRaw(5, 2, 4, 3, 3)
	for i := range x.Data() {
		x.Data()[i] = x.Data()[i]*3 + 7
	}

	y := backend.GroupNorm(x, 2, 1e-6)
	size := 2 * 9
	for s := 0; s < 4; s++ {
		var mean, sq float64
		for _, v := range y.Data()[s*size : (s+1)*size] {
			mean += float64(v)
			sq += float64(v) * float64(v)
		}
		mean /= float64(size)
		assert.InDelta(t, 0, mean, 1e-5)
		assert.InDelta(t, 1, sq/float64(size)-mean*mean, 1e-3)
	}

	assert.Panics(t, func() { backend.GroupNorm(x, 3, 1e-6) })
}

func TestCPUBackend_GroupNormBackwardFiniteDifference(t *testing.T) {
	backend := New()
	x := randRaw(6, 1, 4, 2, 2)
	g := randRaw(7, 1, 4, 2, 2)
	const eps = 1e-5

	analytic := backend.GroupNormBackward(x, g, 2, eps).Data()
	const h = 1e-2
	for i := range x.Data() {
		orig := x.Data()[i]
		x.Data()[i] = orig + h
		plus := dot(backend.GroupNorm(x, 2, eps), g)
		x.Data()[i] = orig - h
		minus := dot(backend.GroupNorm(x, 2, eps), g)
		x.Data()[i] = orig
		assert.InDelta(t, (plus-minus)/(2*h), analytic[i], 2e-2, "element %d", i)
	}
}
