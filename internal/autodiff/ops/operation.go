// Package ops defines the differentiable operations recorded by the autodiff tape.
//
// Each operation keeps references to its inputs and output from the forward
// pass and computes input gradients from the output gradient:
//
//   - Element-wise: Add, Sub, Mul, Div (with broadcast reduction)
//   - Linear algebra: MatMul
//   - Shape: Reshape, Transpose
//   - Vision: Conv2D, AvgPool2D, Upsample2D, GroupNorm
//   - Math: Exp, Log, Clamp, MulScalar, AddScalar
//   - Activations: Sigmoid, SiLU
//   - Reductions: Sum, SumDim
package ops

import "github.com/born-ml/born-vae/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// The returned slice is aligned with Inputs(); a nil entry means no
	// gradient flows to that input.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// unary holds the bookkeeping shared by single-input operations.
type unary struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// Inputs returns the input tensors.
func (op *unary) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor.
func (op *unary) Output() *tensor.RawTensor {
	return op.output
}

// binary holds the bookkeeping shared by two-input operations.
type binary struct {
	a, b   *tensor.RawTensor
	output *tensor.RawTensor
}

// Inputs returns the input tensors.
func (op *binary) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.a, op.b}
}

// Output returns the output tensor.
func (op *binary) Output() *tensor.RawTensor {
	return op.output
}
