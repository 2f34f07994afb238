package cpu

import (
	"fmt"

	"github.com/born-ml/born-vae/internal/parallel"
	"github.com/born-ml/born-vae/internal/tensor"
)

func spatialDims(op string, x *tensor.RawTensor) (n, c, h, w int) {
	shape := x.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("%s: input must be 4D [N,C,H,W], got %dD", op, len(shape)))
	}
	return shape[0], shape[1], shape[2], shape[3]
}

// AvgPool2D averages non-overlapping k x k windows (stride = k).
// H and W must be divisible by k.
func (cpu *CPUBackend) AvgPool2D(input *tensor.RawTensor, k int) *tensor.RawTensor {
	n, c, h, w := spatialDims("avgpool2d", input)
	if k <= 0 || h%k != 0 || w%k != 0 {
		panic(fmt.Sprintf("avgpool2d: spatial size %dx%d not divisible by kernel %d", h, w, k))
	}
	oh, ow := h/k, w/k
	result := tensor.MustRaw(tensor.Shape{n, c, oh, ow}, cpu.device)

	src, dst := input.Data(), result.Data()
	scale := 1 / float32(k*k)

	parallel.For(n*c, func(plane int) {
		in := src[plane*h*w : (plane+1)*h*w]
		out := dst[plane*oh*ow : (plane+1)*oh*ow]
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				var sum float32
				for dy := 0; dy < k; dy++ {
					row := in[(y*k+dy)*w+x*k:]
					for dx := 0; dx < k; dx++ {
						sum += row[dx]
					}
				}
				out[y*ow+x] = sum * scale
			}
		}
	}, parallel.Coarse().WithWorkers(cpu.par.NumWorkers))

	return result
}

// AvgPool2DBackward spreads each output gradient evenly over its window.
func (cpu *CPUBackend) AvgPool2DBackward(grad *tensor.RawTensor, k int) *tensor.RawTensor {
	n, c, oh, ow := spatialDims("avgpool2d_backward", grad)
	h, w := oh*k, ow*k
	result := tensor.MustRaw(tensor.Shape{n, c, h, w}, cpu.device)

	src, dst := grad.Data(), result.Data()
	scale := 1 / float32(k*k)

	for plane := 0; plane < n*c; plane++ {
		g := src[plane*oh*ow : (plane+1)*oh*ow]
		out := dst[plane*h*w : (plane+1)*h*w]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out[y*w+x] = g[(y/k)*ow+x/k] * scale
			}
		}
	}
	return result
}

// Upsample2D repeats every pixel into a scale x scale block (nearest neighbour).
func (cpu *CPUBackend) Upsample2D(input *tensor.RawTensor, scale int) *tensor.RawTensor {
	n, c, h, w := spatialDims("upsample2d", input)
	if scale <= 0 {
		panic(fmt.Sprintf("upsample2d: scale must be positive, got %d", scale))
	}
	oh, ow := h*scale, w*scale
	result := tensor.MustRaw(tensor.Shape{n, c, oh, ow}, cpu.device)

	src, dst := input.Data(), result.Data()
	for plane := 0; plane < n*c; plane++ {
		in := src[plane*h*w : (plane+1)*h*w]
		out := dst[plane*oh*ow : (plane+1)*oh*ow]
		for y := 0; y < oh; y++ {
			row := in[(y/scale)*w:]
			for x := 0; x < ow; x++ {
				out[y*ow+x] = row[x/scale]
			}
		}
	}
	return result
}

// Upsample2DBackward sums the gradient of every scale x scale block.
func (cpu *CPUBackend) Upsample2DBackward(grad *tensor.RawTensor, scale int) *tensor.RawTensor {
	n, c, oh, ow := spatialDims("upsample2d_backward", grad)
	if oh%scale != 0 || ow%scale != 0 {
		panic(fmt.Sprintf("upsample2d_backward: gradient %dx%d not divisible by scale %d", oh, ow, scale))
	}
	h, w := oh/scale, ow/scale
	result := tensor.MustRaw(tensor.Shape{n, c, h, w}, cpu.device)

	src, dst := grad.Data(), result.Data()
	for plane := 0; plane < n*c; plane++ {
		g := src[plane*oh*ow : (plane+1)*oh*ow]
		out := dst[plane*h*w : (plane+1)*h*w]
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				out[(y/scale)*w+x/scale] += g[y*ow+x]
			}
		}
	}
	return result
}
