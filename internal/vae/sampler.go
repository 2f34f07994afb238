package vae

import (
	"math/rand/v2"

	"github.com/born-ml/born-vae/internal/tensor"
)

// Sampler draws latent vectors with the reparameterization
// z = mean + exp(0.5*logVar) * eps, eps ~ N(0, I).
//
// Only eps is random, so gradients flow through z to mean and logVar.
type Sampler[B tensor.Backend] struct {
	rng *rand.Rand
}

// NewSampler creates a sampler that draws noise from rng.
func NewSampler[B tensor.Backend](rng *rand.Rand) *Sampler[B] {
	return &Sampler[B]{rng: rng}
}

// Sample draws fresh noise and returns z.
func (s *Sampler[B]) Sample(mean, logVar *tensor.Tensor[B]) *tensor.Tensor[B] {
	eps := tensor.Randn(mean.Shape(), s.rng, mean.Backend())
	return SampleWith(mean, logVar, eps)
}

// SampleWith applies the reparameterization to caller-supplied noise.
func SampleWith[B tensor.Backend](mean, logVar, eps *tensor.Tensor[B]) *tensor.Tensor[B] {
	std := logVar.MulScalar(0.5).Exp()
	return mean.Add(std.Mul(eps))
}
