// Package generate synthesizes images from a trained VAE: latent vectors are
// drawn from the prior, decoded and written as PNG files.
package generate

import (
	"math/rand/v2"
)

// SamplingConfig configures how latent vectors are drawn.
type SamplingConfig struct {
	// Temperature scales the prior's standard deviation. 1 samples N(0, I);
	// lower values trade variety for cleaner images.
	Temperature float32

	// Seed makes the drawn vectors reproducible.
	Seed uint64
}

// DefaultSamplingConfig samples the standard normal prior.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		Temperature: 1.0,
		Seed:        42,
	}
}

// LatentSampler draws latent vectors z ~ N(0, Temperature² I).
type LatentSampler struct {
	config SamplingConfig
	rng    *rand.Rand
}

// NewLatentSampler creates a sampler with its own random stream.
func NewLatentSampler(config SamplingConfig) *LatentSampler {
	return &LatentSampler{
		config: config,
		rng:    rand.New(rand.NewPCG(config.Seed, 0x5a)),
	}
}

// Sample returns n vectors of size dim as row-major [n, dim] data.
func (s *LatentSampler) Sample(n, dim int) []float32 {
	z := make([]float32, n*dim)
	for i := range z {
		z[i] = float32(s.rng.NormFloat64()) * s.config.Temperature
	}
	return z
}
