package ops

import "github.com/born-ml/born-vae/internal/tensor"

// AddOp records c = a + b.
//
// Backward: d_a = reduce(grad), d_b = reduce(grad).
type AddOp struct{ binary }

// NewAddOp creates a new Add operation.
func NewAddOp(a, b, output *tensor.RawTensor) *AddOp {
	return &AddOp{binary{a: a, b: b, output: output}}
}

// Backward computes gradients for Add.
func (op *AddOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		reduceBroadcast(outputGrad, op.a.Shape(), backend),
		reduceBroadcast(outputGrad, op.b.Shape(), backend),
	}
}

// SubOp records c = a - b.
//
// Backward: d_a = reduce(grad), d_b = reduce(-grad).
type SubOp struct{ binary }

// NewSubOp creates a new Sub operation.
func NewSubOp(a, b, output *tensor.RawTensor) *SubOp {
	return &SubOp{binary{a: a, b: b, output: output}}
}

// Backward computes gradients for Sub.
func (op *SubOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		reduceBroadcast(outputGrad, op.a.Shape(), backend),
		reduceBroadcast(backend.MulScalar(outputGrad, -1), op.b.Shape(), backend),
	}
}

// MulOp records c = a * b.
//
// Backward: d_a = reduce(grad * b), d_b = reduce(grad * a).
type MulOp struct{ binary }

// NewMulOp creates a new Mul operation.
func NewMulOp(a, b, output *tensor.RawTensor) *MulOp {
	return &MulOp{binary{a: a, b: b, output: output}}
}

// Backward computes gradients for Mul.
func (op *MulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		reduceBroadcast(backend.Mul(outputGrad, op.b), op.a.Shape(), backend),
		reduceBroadcast(backend.Mul(outputGrad, op.a), op.b.Shape(), backend),
	}
}

// DivOp records c = a / b.
//
// Backward: d_a = reduce(grad / b), d_b = reduce(-grad * a / b²).
type DivOp struct{ binary }

// NewDivOp creates a new Div operation.
func NewDivOp(a, b, output *tensor.RawTensor) *DivOp {
	return &DivOp{binary{a: a, b: b, output: output}}
}

// Backward computes gradients for Div.
func (op *DivOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	gradA := backend.Div(outputGrad, op.b)
	// -grad * (a / b) / b == -grad * c / b
	gradB := backend.MulScalar(backend.Div(backend.Mul(outputGrad, op.output), op.b), -1)
	return []*tensor.RawTensor{
		reduceBroadcast(gradA, op.a.Shape(), backend),
		reduceBroadcast(gradB, op.b.Shape(), backend),
	}
}

// MatMulOp records C = A @ B for 2D matrices.
//
// Backward: d_A = grad @ Bᵀ, d_B = Aᵀ @ grad.
type MatMulOp struct{ binary }

// NewMatMulOp creates a new MatMul operation.
func NewMatMulOp(a, b, output *tensor.RawTensor) *MatMulOp {
	return &MatMulOp{binary{a: a, b: b, output: output}}
}

// Backward computes gradients for MatMul.
func (op *MatMulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		backend.MatMul(outputGrad, backend.Transpose(op.b)),
		backend.MatMul(backend.Transpose(op.a), outputGrad),
	}
}
