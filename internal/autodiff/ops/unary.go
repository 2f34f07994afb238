package ops

import "github.com/born-ml/born-vae/internal/tensor"

// MulScalarOp records y = s * x.
type MulScalarOp struct {
	unary
	scalar float32
}

// NewMulScalarOp creates a new MulScalar operation.
func NewMulScalarOp(input, output *tensor.RawTensor, scalar float32) *MulScalarOp {
	return &MulScalarOp{unary: unary{input: input, output: output}, scalar: scalar}
}

// Backward computes d_x = s * grad.
func (op *MulScalarOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.MulScalar(outputGrad, op.scalar)}
}

// AddScalarOp records y = x + s.
type AddScalarOp struct{ unary }

// NewAddScalarOp creates a new AddScalar operation.
func NewAddScalarOp(input, output *tensor.RawTensor) *AddScalarOp {
	return &AddScalarOp{unary{input: input, output: output}}
}

// Backward passes the gradient through unchanged.
func (op *AddScalarOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad}
}

// ExpOp records y = eˣ.
//
// Backward: d_x = grad * y.
type ExpOp struct{ unary }

// NewExpOp creates a new Exp operation.
func NewExpOp(input, output *tensor.RawTensor) *ExpOp {
	return &ExpOp{unary{input: input, output: output}}
}

// Backward computes gradients for Exp.
func (op *ExpOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Mul(outputGrad, op.output)}
}

// LogOp records y = ln(x).
//
// Backward: d_x = grad / x.
type LogOp struct{ unary }

// NewLogOp creates a new Log operation.
func NewLogOp(input, output *tensor.RawTensor) *LogOp {
	return &LogOp{unary{input: input, output: output}}
}

// Backward computes gradients for Log.
func (op *LogOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Div(outputGrad, op.input)}
}

// ClampOp records y = min(max(x, lo), hi).
//
// Backward: the gradient passes where lo <= x <= hi and is zero elsewhere.
type ClampOp struct {
	unary
	lo, hi float32
}

// NewClampOp creates a new Clamp operation.
func NewClampOp(input, output *tensor.RawTensor, lo, hi float32) *ClampOp {
	return &ClampOp{unary: unary{input: input, output: output}, lo: lo, hi: hi}
}

// Backward computes gradients for Clamp.
func (op *ClampOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inside := mask(op.input, func(v float32) bool { return v >= op.lo && v <= op.hi })
	return []*tensor.RawTensor{backend.Mul(outputGrad, inside)}
}

// SigmoidOp records y = σ(x) = 1 / (1 + e⁻ˣ).
//
// Backward: d_x = grad * y * (1 - y), using the saved output.
type SigmoidOp struct{ unary }

// NewSigmoidOp creates a new Sigmoid operation.
func NewSigmoidOp(input, output *tensor.RawTensor) *SigmoidOp {
	return &SigmoidOp{unary{input: input, output: output}}
}

// Backward computes gradients for Sigmoid.
func (op *SigmoidOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	oneMinus := backend.AddScalar(backend.MulScalar(op.output, -1), 1)
	derivative := backend.Mul(op.output, oneMinus)
	return []*tensor.RawTensor{backend.Mul(outputGrad, derivative)}
}

// SiLUOp records y = x * σ(x) (also known as swish).
//
// Backward: d_x = grad * σ(x) * (1 + x * (1 - σ(x))).
type SiLUOp struct{ unary }

// NewSiLUOp creates a new SiLU operation.
func NewSiLUOp(input, output *tensor.RawTensor) *SiLUOp {
	return &SiLUOp{unary{input: input, output: output}}
}

// Backward computes gradients for SiLU.
func (op *SiLUOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	sig := backend.Sigmoid(op.input)
	oneMinus := backend.AddScalar(backend.MulScalar(sig, -1), 1)
	inner := backend.AddScalar(backend.Mul(op.input, oneMinus), 1)
	derivative := backend.Mul(sig, inner)
	return []*tensor.RawTensor{backend.Mul(outputGrad, derivative)}
}
