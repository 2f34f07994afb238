package ops

import "github.com/born-ml/born-vae/internal/tensor"

// Conv2DOp records a 2D convolution.
//
// Backward:
//   - d_input:  transposed convolution of d_output with the kernel
//   - d_kernel: correlation of the input with d_output
//
// Both are delegated to the backend.
type Conv2DOp struct {
	binary
	stride  int
	padding int
}

// NewConv2DOp creates a new Conv2D operation.
func NewConv2DOp(input, kernel, output *tensor.RawTensor, stride, padding int) *Conv2DOp {
	return &Conv2DOp{
		binary:  binary{a: input, b: kernel, output: output},
		stride:  stride,
		padding: padding,
	}
}

// Backward computes gradients for Conv2D.
func (op *Conv2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inputGrad := backend.Conv2DInputBackward(op.a, op.b, outputGrad, op.stride, op.padding)
	kernelGrad := backend.Conv2DKernelBackward(op.a, op.b, outputGrad, op.stride, op.padding)
	return []*tensor.RawTensor{inputGrad, kernelGrad}
}

// AvgPool2DOp records a non-overlapping average pool.
type AvgPool2DOp struct {
	unary
	kernelSize int
}

// NewAvgPool2DOp creates a new AvgPool2D operation.
func NewAvgPool2DOp(input, output *tensor.RawTensor, kernelSize int) *AvgPool2DOp {
	return &AvgPool2DOp{unary: unary{input: input, output: output}, kernelSize: kernelSize}
}

// Backward spreads each gradient evenly across its pooling window.
func (op *AvgPool2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.AvgPool2DBackward(outputGrad, op.kernelSize)}
}

// Upsample2DOp records a nearest-neighbour upsample.
type Upsample2DOp struct {
	unary
	scale int
}

// NewUpsample2DOp creates a new Upsample2D operation.
func NewUpsample2DOp(input, output *tensor.RawTensor, scale int) *Upsample2DOp {
	return &Upsample2DOp{unary: unary{input: input, output: output}, scale: scale}
}

// Backward sums the gradient over every replicated block.
func (op *Upsample2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Upsample2DBackward(outputGrad, op.scale)}
}

// GroupNormOp records the normalization step of GroupNorm (without affine).
type GroupNormOp struct {
	unary
	groups int
	eps    float32
}

// NewGroupNormOp creates a new GroupNorm operation.
func NewGroupNormOp(input, output *tensor.RawTensor, groups int, eps float32) *GroupNormOp {
	return &GroupNormOp{unary: unary{input: input, output: output}, groups: groups, eps: eps}
}

// Backward computes gradients for GroupNorm from the saved input.
func (op *GroupNormOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.GroupNormBackward(op.input, outputGrad, op.groups, op.eps)}
}
