// Package nn implements the neural network building blocks of the VAE.
//
//   - Module interface: Forward + Parameters
//   - Parameter: named trainable tensor with its gradient
//   - Layers: Linear, Conv2D, GroupNorm, SiLU, Sigmoid, Downsample, Upsample, ResBlock
//   - Sequential: container that chains modules
//   - Reconstruction losses: summed squared error and binary cross-entropy
//   - State dicts: ordered name -> tensor maps for checkpoints
//
// Parameter names are fully qualified at construction ("decoder.up.1.conv.weight"),
// so the order of Parameters() is the serialization order.
package nn

import "github.com/born-ml/born-vae/internal/tensor"

// Module is the base interface for all neural network components.
//
// Modules can be composed to build complex architectures:
//
//	block := nn.NewSequential[Backend](
//	    nn.NewGroupNorm("enc.norm", 8, 64, backend),
//	    nn.NewSiLU[Backend](),
//	    nn.NewConv2D("enc.conv", 64, 64, 3, 1, 1, rng, backend),
//	)
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[B]) *tensor.Tensor[B]

	// Parameters returns all trainable parameters of this module in a stable
	// order. Modules without weights return nil.
	Parameters() []*Parameter[B]
}

// CountParameters returns the total number of scalar weights in params.
func CountParameters[B tensor.Backend](params []*Parameter[B]) int {
	n := 0
	for _, p := range params {
		n += p.Tensor().NumElements()
	}
	return n
}

// join builds a dotted parameter name.
func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
