package vae

import (
	"fmt"

	"github.com/born-ml/born-vae/internal/nn"
	"github.com/born-ml/born-vae/internal/tensor"
)

// Reconstruction selects the per-pixel reconstruction term.
type Reconstruction string

// Supported reconstruction losses.
const (
	ReconstructionMSE Reconstruction = "mse" // summed squared error
	ReconstructionBCE Reconstruction = "bce" // binary cross-entropy
)

// ParseReconstruction validates a reconstruction name.
func ParseReconstruction(s string) (Reconstruction, error) {
	switch r := Reconstruction(s); r {
	case ReconstructionMSE, ReconstructionBCE:
		return r, nil
	default:
		return "", fmt.Errorf("unknown reconstruction loss %q (want mse or bce)", s)
	}
}

// LossConfig holds the fixed weights of the objective.
type LossConfig struct {
	Beta           float32
	Reconstruction Reconstruction
}

// Loss holds the scalar terms of one evaluation.
type Loss[B tensor.Backend] struct {
	Total          *tensor.Tensor[B]
	Reconstruction *tensor.Tensor[B]
	KL             *tensor.Tensor[B]
}

// Values returns the terms as float64 for logging.
func (l Loss[B]) Values() (total, recon, kl float64) {
	return float64(l.Total.Item()), float64(l.Reconstruction.Item()), float64(l.KL.Item())
}

// ComputeLoss returns recon(x, xHat) + beta*KL(mean, logVar). Both terms are
// summed per sample and averaged over the batch.
func ComputeLoss[B tensor.Backend](x, xHat, mean, logVar *tensor.Tensor[B], cfg LossConfig) Loss[B] {
	var recon *tensor.Tensor[B]
	switch cfg.Reconstruction {
	case ReconstructionBCE:
		recon = nn.BinaryCrossEntropy(xHat, x)
	case ReconstructionMSE, "":
		recon = nn.SumSquaredError(xHat, x)
	default:
		panic(fmt.Sprintf("vae: unknown reconstruction loss %q", cfg.Reconstruction))
	}

	kl := KLDivergence(mean, logVar)
	return Loss[B]{
		Total:          recon.Add(kl.MulScalar(cfg.Beta)),
		Reconstruction: recon,
		KL:             kl,
	}
}

// KLDivergence returns KL(N(mean, exp(logVar)) || N(0, I)):
//
//	-0.5 * sum(1 + logVar - mean² - exp(logVar))
//
// per sample, averaged over the batch.
func KLDivergence[B tensor.Backend](mean, logVar *tensor.Tensor[B]) *tensor.Tensor[B] {
	n := mean.Shape()[0]
	terms := mean.Square().Add(logVar.Exp()).Sub(logVar).AddScalar(-1)
	return terms.Sum().MulScalar(0.5 / float32(n))
}
