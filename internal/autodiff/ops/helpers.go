package ops

import (
	"fmt"

	"github.com/born-ml/born-vae/internal/tensor"
)

// reduceBroadcast reduces a gradient to targetShape, undoing any broadcast
// applied in the forward pass.
//
// Example:
//
//	Forward: a[3,1] + b[3,4] -> c[3,4]  (a was broadcast along dim 1)
//	Backward: grad_c[3,4] -> grad_a[3,1] (sum along dim 1)
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	gradShape := grad.Shape()
	if gradShape.Equal(targetShape) {
		return grad
	}

	if targetShape.NumElements() == 1 {
		return backend.Reshape(backend.Sum(grad), targetShape)
	}

	if len(targetShape) > len(gradShape) {
		panic(fmt.Sprintf("reduceBroadcast: cannot reduce %v to %v", gradShape, targetShape))
	}

	// Leading dimensions that broadcasting added.
	result := grad
	for len(result.Shape()) > len(targetShape) {
		result = backend.SumDim(result, 0, false)
	}

	// Dimensions where the target was 1.
	for i, d := range targetShape {
		if d == 1 && result.Shape()[i] != 1 {
			result = backend.SumDim(result, i, true)
		}
	}

	if !result.Shape().Equal(targetShape) {
		result = backend.Reshape(result, targetShape)
	}
	return result
}

// expandTo broadcasts a tensor (typically a scalar gradient) to shape.
func expandTo(x *tensor.RawTensor, shape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	zeros := tensor.MustRaw(shape, backend.Device())
	return backend.Add(zeros, x)
}

// mask returns a tensor holding 1 where keep(x) is true and 0 elsewhere.
func mask(x *tensor.RawTensor, keep func(v float32) bool) *tensor.RawTensor {
	m := tensor.MustRaw(x.Shape(), x.Device())
	out := m.Data()
	for i, v := range x.Data() {
		if keep(v) {
			out[i] = 1
		}
	}
	return m
}
