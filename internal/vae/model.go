// Package vae implements the convolutional variational autoencoder: encoder,
// reparameterized sampler, decoder, the composite loss and model persistence.
//
// The model is generic over the tensor backend, so the same network trains on
// the autodiff backend and generates on the plain CPU backend:
//
//	backend := autodiff.New(cpu.New())
//	model, err := vae.New(cfg, seed, backend)
//	recon, mean, logVar, err := model.Forward(batch)
//	loss := vae.ComputeLoss(batch, recon, mean, logVar, lossCfg)
package vae

import (
	"math/rand/v2"

	"github.com/born-ml/born-vae/internal/nn"
	"github.com/born-ml/born-vae/internal/tensor"
)

// Model composes Encoder -> Sampler -> Decoder and owns their parameters.
type Model[B tensor.Backend] struct {
	cfg     Config
	encoder *Encoder[B]
	decoder *Decoder[B]
	sampler *Sampler[B]
	backend B
}

// New builds a model with freshly initialized weights. seed determines both
// the initial weights and the sampler's noise stream.
func New[B tensor.Backend](cfg Config, seed uint64, backend B) (*Model[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	initRNG := rand.New(rand.NewPCG(seed, 1))
	return &Model[B]{
		cfg:     cfg,
		encoder: NewEncoder(cfg, initRNG, backend),
		decoder: NewDecoder(cfg, initRNG, backend),
		sampler: NewSampler[B](rand.New(rand.NewPCG(seed, 2))),
		backend: backend,
	}, nil
}

// Config returns the architecture.
func (m *Model[B]) Config() Config {
	return m.cfg
}

// Backend returns the backend the model computes on.
func (m *Model[B]) Backend() B {
	return m.backend
}

// Forward runs a full pass and returns the reconstruction with the latent
// distribution parameters.
func (m *Model[B]) Forward(x *tensor.Tensor[B]) (recon, mean, logVar *tensor.Tensor[B], err error) {
	mean, logVar, err = m.Encode(x)
	if err != nil {
		return nil, nil, nil, err
	}
	z := m.sampler.Sample(mean, logVar)
	return m.decoder.Forward(z), mean, logVar, nil
}

// Encode returns (mean, logVar) for images [N, C, S, S].
func (m *Model[B]) Encode(x *tensor.Tensor[B]) (mean, logVar *tensor.Tensor[B], err error) {
	if err := m.checkInput(x.Shape()); err != nil {
		return nil, nil, err
	}
	mean, logVar = m.encoder.Forward(x)
	return mean, logVar, nil
}

// Decode maps latent vectors [N, D] to images [N, C, S, S].
func (m *Model[B]) Decode(z *tensor.Tensor[B]) (*tensor.Tensor[B], error) {
	shape := z.Shape()
	if len(shape) != 2 || shape[0] <= 0 || shape[1] != m.cfg.LatentDim {
		return nil, &ShapeMismatchError{Op: "decode", Expected: tensor.Shape{shape.Batch(), m.cfg.LatentDim}, Got: shape}
	}
	return m.decoder.Forward(z), nil
}

// Parameters returns encoder then decoder parameters, in a fixed order.
func (m *Model[B]) Parameters() []*nn.Parameter[B] {
	return append(m.encoder.Parameters(), m.decoder.Parameters()...)
}

// StateDict returns the model parameters by name. Tensors are shared.
func (m *Model[B]) StateDict() *nn.StateDict {
	return nn.StateDictOf(m.Parameters())
}

func (m *Model[B]) checkInput(got tensor.Shape) error {
	if len(got) == 4 && got[0] > 0 && got[1] == m.cfg.Channels &&
		got[2] == m.cfg.ImageSize && got[3] == m.cfg.ImageSize {
		return nil
	}
	return &ShapeMismatchError{Op: "encode", Expected: m.cfg.InputShape(got.Batch()), Got: got}
}
