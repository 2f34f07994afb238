package vae

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/born-vae/internal/nn"
	"github.com/born-ml/born-vae/internal/tensor"
)

// Decoder maps latent vectors [N, D] back to images [N, C, S, S] in [0, 1].
// It mirrors the encoder:
//
//	fc -> reshape -> conv_in -> mid: ResBlock x R -> per level, deepest
//	first: ResBlock x R, Upsample (not at level 0) -> GroupNorm -> SiLU
//	-> conv_out -> Sigmoid
type Decoder[B tensor.Backend] struct {
	cfg     Config
	fc      *nn.Linear[B]
	convIn  *nn.Conv2D[B]
	mid     *nn.Sequential[B]
	up      *nn.Sequential[B]
	normOut *nn.GroupNorm[B]
	convOut *nn.Conv2D[B]
	inC     int
	inS     int
}

// NewDecoder builds a decoder for cfg. cfg must be valid.
func NewDecoder[B tensor.Backend](cfg Config, rng *rand.Rand, backend B) *Decoder[B] {
	last := len(cfg.ChannelMultipliers) - 1
	d := &Decoder[B]{
		cfg: cfg,
		mid: nn.NewSequential[B](),
		up:  nn.NewSequential[B](),
		inC: cfg.channels(last),
		inS: cfg.bottleneckSize(),
	}
	d.fc = nn.NewLinear("decoder.fc", cfg.LatentDim, d.inC*d.inS*d.inS, rng, backend)
	d.convIn = nn.NewConv2D("decoder.conv_in", d.inC, d.inC, 3, 1, 1, rng, backend)

	for j := 0; j < cfg.ResBlocks; j++ {
		d.mid.Add(nn.NewResBlock(fmt.Sprintf("decoder.mid.block.%d", j), d.inC, d.inC, cfg.NormGroups, rng, backend))
	}

	in := d.inC
	for level := last; level >= 0; level-- {
		out := cfg.channels(level)
		for j := 0; j < cfg.ResBlocks; j++ {
			name := fmt.Sprintf("decoder.up.%d.block.%d", level, j)
			d.up.Add(nn.NewResBlock(name, in, out, cfg.NormGroups, rng, backend))
			in = out
		}
		if level != 0 {
			d.up.Add(nn.NewUpsample(fmt.Sprintf("decoder.up.%d.upsample", level), in, rng, backend))
		}
	}

	d.normOut = nn.NewGroupNorm("decoder.norm_out", nn.Groups(in, cfg.NormGroups), in, backend)
	d.convOut = nn.NewConv2D("decoder.conv_out", in, cfg.Channels, 3, 1, 1, rng, backend)
	return d
}

// Forward decodes z into images. The input shape must already have been
// checked against the config.
func (d *Decoder[B]) Forward(z *tensor.Tensor[B]) *tensor.Tensor[B] {
	h := d.fc.Forward(z)
	h = h.Reshape(z.Shape()[0], d.inC, d.inS, d.inS)
	h = d.convIn.Forward(h)
	h = d.mid.Forward(h)
	h = d.up.Forward(h)
	h = d.normOut.Forward(h).SiLU()
	return d.convOut.Forward(h).Sigmoid()
}

// Parameters returns the decoder's parameters in forward order.
func (d *Decoder[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	params = append(params, d.fc.Parameters()...)
	params = append(params, d.convIn.Parameters()...)
	params = append(params, d.mid.Parameters()...)
	params = append(params, d.up.Parameters()...)
	params = append(params, d.normOut.Parameters()...)
	params = append(params, d.convOut.Parameters()...)
	return params
}
