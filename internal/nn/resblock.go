package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/born-vae/internal/tensor"
)

// ResBlock is a pre-activation residual block:
//
//	h = conv2(SiLU(norm2(conv1(SiLU(norm1(x))))))
//	y = shortcut(x) + h
//
// The shortcut is a 1x1 convolution when the channel count changes and the
// identity otherwise.
type ResBlock[B tensor.Backend] struct {
	inChannels  int
	outChannels int

	norm1    *GroupNorm[B]
	conv1    *Conv2D[B]
	norm2    *GroupNorm[B]
	conv2    *Conv2D[B]
	shortcut *Conv2D[B]
}

// NewResBlock creates a residual block. groups is the preferred GroupNorm
// group count; it is lowered to a divisor of the channel count if needed.
func NewResBlock[B tensor.Backend](name string, inChannels, outChannels, groups int, rng *rand.Rand, backend B) *ResBlock[B] {
	r := &ResBlock[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		norm1:       NewGroupNorm(join(name, "norm1"), Groups(inChannels, groups), inChannels, backend),
		conv1:       NewConv2D(join(name, "conv1"), inChannels, outChannels, 3, 1, 1, rng, backend),
		norm2:       NewGroupNorm(join(name, "norm2"), Groups(outChannels, groups), outChannels, backend),
		conv2:       NewConv2D(join(name, "conv2"), outChannels, outChannels, 3, 1, 1, rng, backend),
	}
	if inChannels != outChannels {
		r.shortcut = NewConv2D(join(name, "shortcut"), inChannels, outChannels, 1, 1, 0, rng, backend)
	}
	return r
}

// Forward applies the block.
func (r *ResBlock[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	h := r.norm1.Forward(input).SiLU()
	h = r.conv1.Forward(h)
	h = r.norm2.Forward(h).SiLU()
	h = r.conv2.Forward(h)

	residual := input
	if r.shortcut != nil {
		residual = r.shortcut.Forward(input)
	}
	return residual.Add(h)
}

// Parameters returns the block's parameters in forward order.
func (r *ResBlock[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	params = append(params, r.norm1.Parameters()...)
	params = append(params, r.conv1.Parameters()...)
	params = append(params, r.norm2.Parameters()...)
	params = append(params, r.conv2.Parameters()...)
	if r.shortcut != nil {
		params = append(params, r.shortcut.Parameters()...)
	}
	return params
}

// String returns a string representation of the block.
func (r *ResBlock[B]) String() string {
	return fmt.Sprintf("ResBlock(in_channels=%d, out_channels=%d)", r.inChannels, r.outChannels)
}

// Downsample halves the spatial resolution with 2x2 average pooling.
type Downsample[B tensor.Backend] struct{}

// NewDownsample creates a 2x average-pool downsampler.
func NewDownsample[B tensor.Backend]() *Downsample[B] {
	return &Downsample[B]{}
}

// Forward pools the input.
func (d *Downsample[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return input.AvgPool2D(2)
}

// Parameters returns nil (no trainable parameters).
func (d *Downsample[B]) Parameters() []*Parameter[B] {
	return nil
}

// String returns a string representation of the layer.
func (d *Downsample[B]) String() string {
	return "Downsample(avg_pool=2)"
}

// Upsample doubles the spatial resolution with nearest-neighbour
// interpolation followed by a 3x3 convolution.
type Upsample[B tensor.Backend] struct {
	conv *Conv2D[B]
}

// NewUpsample creates an upsampler whose convolution keeps the channel count.
func NewUpsample[B tensor.Backend](name string, channels int, rng *rand.Rand, backend B) *Upsample[B] {
	return &Upsample[B]{
		conv: NewConv2D(join(name, "conv"), channels, channels, 3, 1, 1, rng, backend),
	}
}

// Forward upsamples and convolves the input.
func (u *Upsample[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return u.conv.Forward(input.Upsample2D(2))
}

// Parameters returns the convolution's parameters.
func (u *Upsample[B]) Parameters() []*Parameter[B] {
	return u.conv.Parameters()
}

// String returns a string representation of the layer.
func (u *Upsample[B]) String() string {
	return fmt.Sprintf("Upsample(nearest=2, channels=%d)", u.conv.OutChannels())
}
