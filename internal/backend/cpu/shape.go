package cpu

import (
	"fmt"

	"github.com/born-ml/born-vae/internal/tensor"
)

// Reshape returns a tensor sharing x's data under newShape.
// The new shape must have the same number of elements.
func (cpu *CPUBackend) Reshape(x *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if err := newShape.Validate(); err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	if newShape.NumElements() != x.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v (%d elements) to %v (%d elements)",
			x.Shape(), x.NumElements(), newShape, newShape.NumElements()))
	}
	return x.View(newShape)
}

// Transpose permutes the dimensions of x. With no axes the order is reversed.
func (cpu *CPUBackend) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := x.Shape()
	ndim := len(shape)

	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: got %d axes for %dD tensor", len(axes), ndim))
	}

	seen := make([]bool, ndim)
	newShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		if ax < 0 || ax >= ndim || seen[ax] {
			panic(fmt.Sprintf("transpose: invalid permutation %v", axes))
		}
		seen[ax] = true
		newShape[i] = shape[ax]
	}

	result := tensor.MustRaw(newShape, cpu.device)
	src, dst := x.Data(), result.Data()
	srcStrides := x.Strides()

	// Fast path for plain matrix transpose.
	if ndim == 2 && axes[0] == 1 {
		rows, cols := shape[0], shape[1]
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				dst[c*rows+r] = src[r*cols+c]
			}
		}
		return result
	}

	dstStrides := newShape.ComputeStrides()
	for i := range dst {
		rem := i
		srcIdx := 0
		for d, s := range dstStrides {
			coord := rem / s
			rem %= s
			srcIdx += coord * srcStrides[axes[d]]
		}
		dst[i] = src[srcIdx]
	}
	return result
}
