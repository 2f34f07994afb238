package vae

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/born-vae/internal/nn"
	"github.com/born-ml/born-vae/internal/tensor"
)

// Log-variance is clamped so exp(0.5*logVar) stays finite and non-zero.
const (
	MinLogVar = -30
	MaxLogVar = 20
)

// Encoder maps images [N, C, S, S] to latent distribution parameters
// (mean, logVar), each [N, D].
//
//	conv_in -> per level: ResBlock x R, AvgPool 2x2 (not after the last level)
//	        -> mid: ResBlock x R -> GroupNorm -> SiLU -> flatten
//	        -> Linear(mean), Linear(log_var)
type Encoder[B tensor.Backend] struct {
	cfg     Config
	convIn  *nn.Conv2D[B]
	down    *nn.Sequential[B]
	mid     *nn.Sequential[B]
	normOut *nn.GroupNorm[B]
	mean    *nn.Linear[B]
	logVar  *nn.Linear[B]
	flat    int
}

// NewEncoder builds an encoder for cfg. cfg must be valid.
func NewEncoder[B tensor.Backend](cfg Config, rng *rand.Rand, backend B) *Encoder[B] {
	e := &Encoder[B]{
		cfg:    cfg,
		convIn: nn.NewConv2D("encoder.conv_in", cfg.Channels, cfg.channels(0), 3, 1, 1, rng, backend),
		down:   nn.NewSequential[B](),
		mid:    nn.NewSequential[B](),
	}

	in := cfg.channels(0)
	last := len(cfg.ChannelMultipliers) - 1
	for level := range cfg.ChannelMultipliers {
		out := cfg.channels(level)
		for j := 0; j < cfg.ResBlocks; j++ {
			name := fmt.Sprintf("encoder.down.%d.block.%d", level, j)
			e.down.Add(nn.NewResBlock(name, in, out, cfg.NormGroups, rng, backend))
			in = out
		}
		if level != last {
			e.down.Add(nn.NewDownsample[B]())
		}
	}

	for j := 0; j < cfg.ResBlocks; j++ {
		e.mid.Add(nn.NewResBlock(fmt.Sprintf("encoder.mid.block.%d", j), in, in, cfg.NormGroups, rng, backend))
	}

	s := cfg.bottleneckSize()
	e.flat = in * s * s
	e.normOut = nn.NewGroupNorm("encoder.norm_out", nn.Groups(in, cfg.NormGroups), in, backend)
	e.mean = nn.NewLinear("encoder.mean", e.flat, cfg.LatentDim, rng, backend)
	e.logVar = nn.NewLinear("encoder.log_var", e.flat, cfg.LatentDim, rng, backend)
	return e
}

// Forward returns (mean, logVar) for a batch of images. The input shape must
// already have been checked against the config.
func (e *Encoder[B]) Forward(x *tensor.Tensor[B]) (mean, logVar *tensor.Tensor[B]) {
	h := e.convIn.Forward(x)
	h = e.down.Forward(h)
	h = e.mid.Forward(h)
	h = e.normOut.Forward(h).SiLU()
	h = h.Reshape(x.Shape()[0], e.flat)

	mean = e.mean.Forward(h)
	logVar = e.logVar.Forward(h).Clamp(MinLogVar, MaxLogVar)
	return mean, logVar
}

// Parameters returns the encoder's parameters in forward order.
func (e *Encoder[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	params = append(params, e.convIn.Parameters()...)
	params = append(params, e.down.Parameters()...)
	params = append(params, e.mid.Parameters()...)
	params = append(params, e.normOut.Parameters()...)
	params = append(params, e.mean.Parameters()...)
	params = append(params, e.logVar.Parameters()...)
	return params
}
