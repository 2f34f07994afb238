package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"

	"github.com/born-ml/born-vae/internal/parallel"
	"github.com/born-ml/born-vae/internal/tensor"
)

// convGeometry holds the dimensions of one Conv2D call.
type convGeometry struct {
	N, CIn, H, W    int
	COut, KH, KW    int
	HOut, WOut      int
	stride, padding int
}

// rows is the im2col row count (C_in * K_h * K_w).
func (g convGeometry) rows() int { return g.CIn * g.KH * g.KW }

// cols is the im2col column count (H_out * W_out).
func (g convGeometry) cols() int { return g.HOut * g.WOut }

func newConvGeometry(op string, input, kernel *tensor.RawTensor, stride, padding int) convGeometry {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		panic(fmt.Sprintf("%s: input must be 4D [N,C,H,W], got %dD", op, len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("%s: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", op, len(kernelShape)))
	}
	if inputShape[1] != kernelShape[1] {
		panic(fmt.Sprintf("%s: input channels %d != kernel channels %d", op, inputShape[1], kernelShape[1]))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("%s: stride must be positive, got %d", op, stride))
	}

	g := convGeometry{
		N: inputShape[0], CIn: inputShape[1], H: inputShape[2], W: inputShape[3],
		COut: kernelShape[0], KH: kernelShape[2], KW: kernelShape[3],
		stride: stride, padding: padding,
	}
	g.HOut = (g.H+2*padding-g.KH)/stride + 1
	g.WOut = (g.W+2*padding-g.KW)/stride + 1

	if g.HOut <= 0 || g.WOut <= 0 {
		panic(fmt.Sprintf("%s: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", op, g.HOut, g.WOut))
	}
	return g
}

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape: [batch, in_channels, height, width]
// Kernel shape: [out_channels, in_channels, kernel_h, kernel_w]
// Output shape: [batch, out_channels, out_h, out_w]
//
// For each sample the input patches are unrolled into a [C_in*K_h*K_w, H_out*W_out]
// matrix, and the output is the single GEMM kernel[C_out, C_in*K_h*K_w] @ col.
// Samples are processed in parallel; each writes a disjoint output slice.
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeometry("conv2d", input, kernel, stride, padding)

	output := tensor.MustRaw(tensor.Shape{g.N, g.COut, g.HOut, g.WOut}, cpu.device)

	in, w, out := input.Data(), kernel.Data(), output.Data()
	inSize := g.CIn * g.H * g.W
	outSize := g.COut * g.cols()

	parallel.For(g.N, func(n int) {
		col := make([]float32, g.rows()*g.cols())
		im2col(col, in[n*inSize:(n+1)*inSize], g)
		gemm(blas.NoTrans, blas.NoTrans, g.COut, g.cols(), g.rows(), w, col, 0, out[n*outSize:(n+1)*outSize])
	}, parallel.Coarse().WithWorkers(cpu.par.NumWorkers))

	return output
}

// Conv2DInputBackward computes dL/dinput for a convolution.
//
// dcol = kernel^T @ grad, then col2im scatters the columns back onto the
// padded input grid.
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeometry("conv2d_input_backward", input, kernel, stride, padding)
	checkGradShape("conv2d_input_backward", grad, tensor.Shape{g.N, g.COut, g.HOut, g.WOut})

	result := tensor.MustRaw(input.Shape(), cpu.device)

	w, dOut, dIn := kernel.Data(), grad.Data(), result.Data()
	inSize := g.CIn * g.H * g.W
	outSize := g.COut * g.cols()

	parallel.For(g.N, func(n int) {
		dcol := make([]float32, g.rows()*g.cols())
		gemm(blas.Trans, blas.NoTrans, g.rows(), g.cols(), g.COut, w, dOut[n*outSize:(n+1)*outSize], 0, dcol)
		col2im(dIn[n*inSize:(n+1)*inSize], dcol, g)
	}, parallel.Coarse().WithWorkers(cpu.par.NumWorkers))

	return result
}

// Conv2DKernelBackward computes dL/dkernel for a convolution.
//
// dkernel = sum over samples of grad_n @ col_n^T.
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeometry("conv2d_kernel_backward", input, kernel, stride, padding)
	checkGradShape("conv2d_kernel_backward", grad, tensor.Shape{g.N, g.COut, g.HOut, g.WOut})

	result := tensor.MustRaw(kernel.Shape(), cpu.device)

	in, dOut, dW := input.Data(), grad.Data(), result.Data()
	inSize := g.CIn * g.H * g.W
	outSize := g.COut * g.cols()

	col := make([]float32, g.rows()*g.cols())
	for n := 0; n < g.N; n++ {
		clear(col)
		im2col(col, in[n*inSize:(n+1)*inSize], g)
		gemm(blas.NoTrans, blas.Trans, g.COut, g.rows(), g.cols(), dOut[n*outSize:(n+1)*outSize], col, 1, dW)
	}

	return result
}

// im2col unrolls one sample [C, H, W] into col [C*K_h*K_w, H_out*W_out].
// Padded positions are left at zero, so col must be zeroed by the caller.
func im2col(col, img []float32, g convGeometry) {
	colWidth := g.cols()
	for c := 0; c < g.CIn; c++ {
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				row := col[((c*g.KH+kh)*g.KW+kw)*colWidth:]
				for oh := 0; oh < g.HOut; oh++ {
					ih := oh*g.stride - g.padding + kh
					if ih < 0 || ih >= g.H {
						continue
					}
					src := img[(c*g.H+ih)*g.W:]
					dst := row[oh*g.WOut:]
					for ow := 0; ow < g.WOut; ow++ {
						iw := ow*g.stride - g.padding + kw
						if iw >= 0 && iw < g.W {
							dst[ow] = src[iw]
						}
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it accumulates col back into img.
func col2im(img, col []float32, g convGeometry) {
	colWidth := g.cols()
	for c := 0; c < g.CIn; c++ {
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				row := col[((c*g.KH+kh)*g.KW+kw)*colWidth:]
				for oh := 0; oh < g.HOut; oh++ {
					ih := oh*g.stride - g.padding + kh
					if ih < 0 || ih >= g.H {
						continue
					}
					dst := img[(c*g.H+ih)*g.W:]
					src := row[oh*g.WOut:]
					for ow := 0; ow < g.WOut; ow++ {
						iw := ow*g.stride - g.padding + kw
						if iw >= 0 && iw < g.W {
							dst[iw] += src[ow]
						}
					}
				}
			}
		}
	}
}

func checkGradShape(op string, grad *tensor.RawTensor, want tensor.Shape) {
	if !grad.Shape().Equal(want) {
		panic(fmt.Sprintf("%s: gradient shape %v, expected %v", op, grad.Shape(), want))
	}
}
