package cpu

import (
	"fmt"

	"github.com/born-ml/born-vae/internal/tensor"
)

// Sum reduces all elements to a scalar. Accumulation is done in float64.
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	var sum float64
	for _, v := range x.Data() {
		sum += float64(v)
	}
	result := tensor.MustRaw(tensor.Shape{}, cpu.device)
	result.Data()[0] = float32(sum)
	return result
}

// SumDim sums along dim. With keepDim the reduced dimension stays as size 1.
//
// Example:
//
//	x: [2, 3, 4], dim=1, keepDim=false -> [2, 4]
//	x: [2, 3, 4], dim=1, keepDim=true  -> [2, 1, 4]
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 {
		dim += len(shape)
	}
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("sumdim: dimension %d out of range for shape %v", dim, shape))
	}

	outer := 1
	for _, d := range shape[:dim] {
		outer *= d
	}
	inner := 1
	for _, d := range shape[dim+1:] {
		inner *= d
	}
	size := shape[dim]

	var outShape tensor.Shape
	for i, d := range shape {
		switch {
		case i != dim:
			outShape = append(outShape, d)
		case keepDim:
			outShape = append(outShape, 1)
		}
	}
	if outShape == nil {
		outShape = tensor.Shape{}
	}

	result := tensor.MustRaw(outShape, cpu.device)
	src, dst := x.Data(), result.Data()
	for o := 0; o < outer; o++ {
		for s := 0; s < size; s++ {
			base := (o*size + s) * inner
			out := dst[o*inner : (o+1)*inner]
			for i := range out {
				out[i] += src[base+i]
			}
		}
	}
	return result
}
