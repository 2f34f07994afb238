package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/born-vae/internal/parallel"
	"github.com/born-ml/born-vae/internal/tensor"
)

// groupLayout validates a GroupNorm input and returns the number of
// (sample, group) slices and the length of each. Channels of one group are
// contiguous in NCHW, so every slice is a contiguous run of the buffer.
func groupLayout(op string, x *tensor.RawTensor, groups int) (slices, size int) {
	shape := x.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("%s: input must be at least 2D [N,C,...], got %v", op, shape))
	}
	if groups <= 0 || shape[1]%groups != 0 {
		panic(fmt.Sprintf("%s: %d channels not divisible into %d groups", op, shape[1], groups))
	}
	spatial := 1
	for _, d := range shape[2:] {
		spatial *= d
	}
	return shape[0] * groups, shape[1] / groups * spatial
}

// groupStats returns mean and 1/sqrt(var+eps) of v, computed in float64.
func groupStats(v []float32, eps float32) (mean, rstd float64) {
	for _, x := range v {
		mean += float64(x)
	}
	mean /= float64(len(v))
	var variance float64
	for _, x := range v {
		d := float64(x) - mean
		variance += d * d
	}
	variance /= float64(len(v))
	return mean, 1 / math.Sqrt(variance+float64(eps))
}

// GroupNorm normalizes every (sample, group) slice to zero mean and unit
// variance (biased estimator). The affine scale and shift are applied by the
// caller.
func (cpu *CPUBackend) GroupNorm(input *tensor.RawTensor, groups int, eps float32) *tensor.RawTensor {
	slices, size := groupLayout("groupnorm", input, groups)
	result := tensor.MustRaw(input.Shape(), cpu.device)

	src, dst := input.Data(), result.Data()
	parallel.For(slices, func(s int) {
		x := src[s*size : (s+1)*size]
		y := dst[s*size : (s+1)*size]
		mean, rstd := groupStats(x, eps)
		for i, v := range x {
			y[i] = float32((float64(v) - mean) * rstd)
		}
	}, parallel.Coarse().WithWorkers(cpu.par.NumWorkers))

	return result
}

// GroupNormBackward computes dL/dx for GroupNorm from the original input.
//
// With x̂ = (x - μ)·rstd over a slice of m elements:
//
//	dx = rstd · (dy - mean(dy) - x̂ · mean(dy · x̂))
func (cpu *CPUBackend) GroupNormBackward(input, grad *tensor.RawTensor, groups int, eps float32) *tensor.RawTensor {
	slices, size := groupLayout("groupnorm_backward", input, groups)
	checkGradShape("groupnorm_backward", grad, input.Shape())
	result := tensor.MustRaw(input.Shape(), cpu.device)

	src, dy, dst := input.Data(), grad.Data(), result.Data()
	parallel.For(slices, func(s int) {
		x := src[s*size : (s+1)*size]
		g := dy[s*size : (s+1)*size]
		dx := dst[s*size : (s+1)*size]

		mean, rstd := groupStats(x, eps)
		var sumDy, sumDyXhat float64
		for i, v := range x {
			xhat := (float64(v) - mean) * rstd
			sumDy += float64(g[i])
			sumDyXhat += float64(g[i]) * xhat
		}
		m := float64(size)
		meanDy, meanDyXhat := sumDy/m, sumDyXhat/m
		for i, v := range x {
			xhat := (float64(v) - mean) * rstd
			dx[i] = float32(rstd * (float64(g[i]) - meanDy - xhat*meanDyXhat))
		}
	}, parallel.Coarse().WithWorkers(cpu.par.NumWorkers))

	return result
}
