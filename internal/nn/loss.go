package nn

import (
	"fmt"

	"github.com/born-ml/born-vae/internal/tensor"
)

// bceEps keeps log() away from 0 and 1.
const bceEps = 1e-6

// SumSquaredError returns Σ(pred - target)² per sample, averaged over the batch.
//
// Both tensors must share the shape [batch, ...]. The result is a scalar.
func SumSquaredError[B tensor.Backend](pred, target *tensor.Tensor[B]) *tensor.Tensor[B] {
	checkSameShape("SumSquaredError", pred, target)
	diff := pred.Sub(target)
	return diff.Square().Sum().MulScalar(1 / float32(pred.Shape()[0]))
}

// BinaryCrossEntropy returns -Σ[t·log(p) + (1-t)·log(1-p)] per sample, averaged
// over the batch. pred must hold probabilities; it is clamped to [ε, 1-ε].
func BinaryCrossEntropy[B tensor.Backend](pred, target *tensor.Tensor[B]) *tensor.Tensor[B] {
	checkSameShape("BinaryCrossEntropy", pred, target)
	p := pred.Clamp(bceEps, 1-bceEps)

	logP := p.Log()
	logNotP := p.MulScalar(-1).AddScalar(1).Log()
	notT := target.MulScalar(-1).AddScalar(1)

	ll := target.Mul(logP).Add(notT.Mul(logNotP))
	return ll.Sum().MulScalar(-1 / float32(pred.Shape()[0]))
}

func checkSameShape[B tensor.Backend](op string, a, b *tensor.Tensor[B]) {
	if !a.Shape().Equal(b.Shape()) {
		panic(fmt.Sprintf("%s: predictions %v and targets %v must have the same shape", op, a.Shape(), b.Shape()))
	}
	if len(a.Shape()) == 0 {
		panic(fmt.Sprintf("%s: expected a batch dimension", op))
	}
}
