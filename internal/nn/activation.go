package nn

import "github.com/born-ml/born-vae/internal/tensor"

// SiLU applies x * sigmoid(x) element-wise (swish).
type SiLU[B tensor.Backend] struct{}

// NewSiLU creates a SiLU activation.
func NewSiLU[B tensor.Backend]() *SiLU[B] {
	return &SiLU[B]{}
}

// Forward applies the activation.
func (s *SiLU[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return input.SiLU()
}

// Parameters returns nil (no trainable parameters).
func (s *SiLU[B]) Parameters() []*Parameter[B] {
	return nil
}

// String returns a string representation of the layer.
func (s *SiLU[B]) String() string {
	return "SiLU()"
}

// Sigmoid squashes values into (0, 1).
type Sigmoid[B tensor.Backend] struct{}

// NewSigmoid creates a Sigmoid activation.
func NewSigmoid[B tensor.Backend]() *Sigmoid[B] {
	return &Sigmoid[B]{}
}

// Forward applies the activation.
func (s *Sigmoid[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return input.Sigmoid()
}

// Parameters returns nil (no trainable parameters).
func (s *Sigmoid[B]) Parameters() []*Parameter[B] {
	return nil
}

// String returns a string representation of the layer.
func (s *Sigmoid[B]) String() string {
	return "Sigmoid()"
}
