package nn

import (
	"fmt"

	"github.com/born-ml/born-vae/internal/tensor"
)

// GroupNorm normalizes channel groups per sample and applies a learned
// per-channel scale (gamma, init 1) and shift (beta, init 0).
//
// Input shape: [batch, channels, height, width]. Channels must be divisible
// by the number of groups.
type GroupNorm[B tensor.Backend] struct {
	groups   int
	channels int
	eps      float32
	gamma    *Parameter[B]
	beta     *Parameter[B]
}

// DefaultGroupNormEps matches the epsilon commonly used by convolutional VAEs.
const DefaultGroupNormEps = 1e-6

// NewGroupNorm creates a GroupNorm layer named "<name>.weight" / "<name>.bias".
func NewGroupNorm[B tensor.Backend](name string, groups, channels int, backend B) *GroupNorm[B] {
	if groups <= 0 || channels%groups != 0 {
		panic(fmt.Sprintf("groupnorm: %d channels not divisible into %d groups", channels, groups))
	}
	return &GroupNorm[B]{
		groups:   groups,
		channels: channels,
		eps:      DefaultGroupNormEps,
		gamma:    NewParameter(join(name, "weight"), Ones(tensor.Shape{channels}, backend)),
		beta:     NewParameter(join(name, "bias"), Zeros(tensor.Shape{channels}, backend)),
	}
}

// Groups picks a group count for channels: the largest divisor of channels
// that is at most want.
func Groups(channels, want int) int {
	for g := min(want, channels); g > 1; g-- {
		if channels%g == 0 {
			return g
		}
	}
	return 1
}

// Forward normalizes the input and applies the affine transform.
func (n *GroupNorm[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != n.channels {
		panic(fmt.Sprintf("groupnorm: expected [N,%d,H,W], got %v", n.channels, shape))
	}
	normalized := input.GroupNorm(n.groups, n.eps)
	scale := n.gamma.Tensor().Reshape(1, n.channels, 1, 1)
	shift := n.beta.Tensor().Reshape(1, n.channels, 1, 1)
	return normalized.Mul(scale).Add(shift)
}

// Parameters returns [gamma, beta].
func (n *GroupNorm[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{n.gamma, n.beta}
}

// String returns a string representation of the layer.
func (n *GroupNorm[B]) String() string {
	return fmt.Sprintf("GroupNorm(groups=%d, channels=%d)", n.groups, n.channels)
}
