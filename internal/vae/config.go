package vae

import (
	"errors"
	"fmt"
	"slices"

	"github.com/born-ml/born-vae/internal/tensor"
)

// Config describes the network architecture. It is stored in every saved
// model so a file can only be loaded into an identical network.
type Config struct {
	ImageSize          int   `json:"image_size" yaml:"image_size"`
	Channels           int   `json:"channels" yaml:"channels"`
	LatentDim          int   `json:"latent_dim" yaml:"latent_dim"`
	BaseFilters        int   `json:"base_filters" yaml:"base_filters"`
	ChannelMultipliers []int `json:"channel_multipliers" yaml:"channel_multipliers"`
	ResBlocks          int   `json:"res_blocks" yaml:"res_blocks"`
	NormGroups         int   `json:"norm_groups" yaml:"norm_groups"`
}

// DefaultConfig returns a small architecture for 64x64 RGB images.
func DefaultConfig() Config {
	return Config{
		ImageSize:          64,
		Channels:           3,
		LatentDim:          32,
		BaseFilters:        32,
		ChannelMultipliers: []int{1, 2, 4},
		ResBlocks:          1,
		NormGroups:         8,
	}
}

// Validate checks that the architecture can be built.
func (c Config) Validate() error {
	var errs []error
	if c.ImageSize <= 0 {
		errs = append(errs, fmt.Errorf("image_size must be positive, got %d", c.ImageSize))
	}
	if c.Channels != 1 && c.Channels != 3 {
		errs = append(errs, fmt.Errorf("channels must be 1 or 3, got %d", c.Channels))
	}
	if c.LatentDim <= 0 {
		errs = append(errs, fmt.Errorf("latent_dim must be positive, got %d", c.LatentDim))
	}
	if c.BaseFilters <= 0 {
		errs = append(errs, fmt.Errorf("base_filters must be positive, got %d", c.BaseFilters))
	}
	if len(c.ChannelMultipliers) == 0 {
		errs = append(errs, errors.New("channel_multipliers must not be empty"))
	}
	for _, m := range c.ChannelMultipliers {
		if m <= 0 {
			errs = append(errs, fmt.Errorf("channel_multipliers must be positive, got %v", c.ChannelMultipliers))
			break
		}
	}
	if c.ResBlocks <= 0 {
		errs = append(errs, fmt.Errorf("res_blocks must be positive, got %d", c.ResBlocks))
	}
	if c.NormGroups <= 0 {
		errs = append(errs, fmt.Errorf("norm_groups must be positive, got %d", c.NormGroups))
	}
	if c.ImageSize > 0 && len(c.ChannelMultipliers) > 0 {
		if f := c.downsampleFactor(); c.ImageSize%f != 0 {
			errs = append(errs, fmt.Errorf("image_size %d must be divisible by %d for %d levels",
				c.ImageSize, f, len(c.ChannelMultipliers)))
		}
	}
	return errors.Join(errs...)
}

// Equal reports whether two configs describe the same network.
func (c Config) Equal(other Config) bool {
	return c.ImageSize == other.ImageSize &&
		c.Channels == other.Channels &&
		c.LatentDim == other.LatentDim &&
		c.BaseFilters == other.BaseFilters &&
		slices.Equal(c.ChannelMultipliers, other.ChannelMultipliers) &&
		c.ResBlocks == other.ResBlocks &&
		c.NormGroups == other.NormGroups
}

// String returns a compact description, e.g. "64x64x3 z=32 f=32 [1 2 4] r=1 g=8".
func (c Config) String() string {
	return fmt.Sprintf("%dx%dx%d z=%d f=%d %v r=%d g=%d",
		c.ImageSize, c.ImageSize, c.Channels, c.LatentDim, c.BaseFilters,
		c.ChannelMultipliers, c.ResBlocks, c.NormGroups)
}

// downsampleFactor is 2^(levels-1): every level but the last halves the resolution.
func (c Config) downsampleFactor() int {
	return 1 << (len(c.ChannelMultipliers) - 1)
}

// bottleneckSize returns the spatial size after the encoder's last level.
func (c Config) bottleneckSize() int {
	return c.ImageSize / c.downsampleFactor()
}

// channels returns the feature count of level i.
func (c Config) channels(level int) int {
	return c.BaseFilters * c.ChannelMultipliers[level]
}

// InputShape returns [n, C, S, S].
func (c Config) InputShape(n int) tensor.Shape {
	return tensor.Shape{n, c.Channels, c.ImageSize, c.ImageSize}
}
