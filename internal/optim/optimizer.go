// Package optim implements the optimizer used to train the VAE.
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 1e-3})
//
//	backend.Tape().StartRecording()
//	loss := lossFn(model, batch)
//	grads := autodiff.Backward(loss, backend)
//	optimizer.Step(grads)
//	optimizer.ZeroGrad()
//	backend.Tape().Clear()
package optim

import (
	"github.com/born-ml/born-vae/internal/nn"
	"github.com/born-ml/born-vae/internal/tensor"
)

// Optimizer is the base interface for optimization algorithms.
type Optimizer interface {
	// Step applies gradient updates to all parameters.
	//
	// grads maps a parameter's RawTensor to its gradient, as returned by
	// autodiff.Backward. Parameters are updated in place.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32

	// StateDict returns the optimizer state for checkpointing.
	StateDict() *nn.StateDict

	// LoadStateDict restores state produced by StateDict.
	LoadStateDict(sd *nn.StateDict) error
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float32 // Learning rate
}

// getGradient retrieves the gradient for a parameter.
//
// Returns nil if the parameter was not part of the computation graph.
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) *tensor.RawTensor {
	if param == nil {
		return nil
	}
	return grads[param.Tensor().Raw()]
}
