// Package cpu implements the CPU backend. Dense products go through gonum's
// BLAS; element-wise kernels fan out with the parallel package.
package cpu

import (
	"fmt"

	"github.com/born-ml/born-vae/internal/parallel"
	"github.com/born-ml/born-vae/internal/tensor"
)

// CPUBackend implements tensor operations on CPU.
type CPUBackend struct {
	device tensor.Device
	par    parallel.Config
}

// New creates a new CPU backend sized to the machine's physical cores.
func New() *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		par:    parallel.DefaultConfig(),
	}
}

// NewWithWorkers creates a CPU backend limited to n worker goroutines.
// n <= 0 uses the default.
func NewWithWorkers(n int) *CPUBackend {
	b := New()
	b.par = b.par.WithWorkers(n)
	return b
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("div", a, b, func(x, y float32) float32 { return x / y })
}

// binary applies f element-wise, broadcasting a and b to a common shape.
func (cpu *CPUBackend) binary(name string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result, err := tensor.NewRaw(outShape, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}

	out := result.Data()
	aData, bData := a.Data(), b.Data()

	if !needsBroadcast {
		parallel.For(len(out), func(i int) {
			out[i] = f(aData[i], bData[i])
		}, cpu.par)
		return result
	}

	// Scalar on either side is common enough (loss terms) for its own path.
	if len(bData) == 1 {
		s := bData[0]
		for i := range out {
			out[i] = f(aData[i], s)
		}
		return result
	}
	if len(aData) == 1 {
		s := aData[0]
		for i := range out {
			out[i] = f(s, bData[i])
		}
		return result
	}

	aStrides := broadcastStrides(a.Shape(), outShape)
	bStrides := broadcastStrides(b.Shape(), outShape)
	outStrides := outShape.ComputeStrides()

	parallel.For(len(out), func(i int) {
		aIdx, bIdx := 0, 0
		rem := i
		for d, s := range outStrides {
			coord := rem / s
			rem %= s
			aIdx += coord * aStrides[d]
			bIdx += coord * bStrides[d]
		}
		out[i] = f(aData[aIdx], bData[bIdx])
	}, cpu.par)

	return result
}

// broadcastStrides returns strides of shape aligned to out, with 0 on every
// broadcast dimension.
func broadcastStrides(shape, out tensor.Shape) []int {
	strides := make([]int, len(out))
	src := shape.ComputeStrides()
	offset := len(out) - len(shape)
	for i := range shape {
		if shape[i] != 1 {
			strides[i+offset] = src[i]
		}
	}
	return strides
}
