package optim

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/born-ml/born-vae/internal/nn"
	"github.com/born-ml/born-vae/internal/tensor"
)

// State dict key prefixes. Moments are stored per parameter name.
const (
	StatePrefix   = "optim.adam."
	stepKey       = StatePrefix + "step"
	firstMoment   = StatePrefix + "m."
	secondMoment  = StatePrefix + "v."
	defaultLR     = 1e-3
	defaultBeta1  = 0.9
	defaultBeta2  = 0.999
	defaultAdamEp = 1e-8
)

// ErrState is returned when optimizer state cannot be restored.
var ErrState = errors.New("invalid optimizer state")

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam[B tensor.Backend] struct {
	params []*nn.Parameter[B]
	lr     float32
	beta1  float32
	beta2  float32
	eps    float32
	t      int                                    // Timestep for bias correction
	m      map[*nn.Parameter[B]]*tensor.RawTensor // First moment estimates
	v      map[*nn.Parameter[B]]*tensor.RawTensor // Second moment estimates
}

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	LR    float32    // Learning rate (default: 0.001)
	Betas [2]float32 // Coefficients for the running averages (default: [0.9, 0.999])
	Eps   float32    // Term for numerical stability (default: 1e-8)
}

// NewAdam creates a new Adam optimizer. Zero config fields take defaults.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig) *Adam[B] {
	if config.LR == 0 {
		config.LR = defaultLR
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = defaultBeta1
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = defaultBeta2
	}
	if config.Eps == 0 {
		config.Eps = defaultAdamEp
	}

	return &Adam[B]{
		params: params,
		lr:     config.LR,
		beta1:  config.Betas[0],
		beta2:  config.Betas[1],
		eps:    config.Eps,
		m:      make(map[*nn.Parameter[B]]*tensor.RawTensor),
		v:      make(map[*nn.Parameter[B]]*tensor.RawTensor),
	}
}

// Step performs a single optimization step.
//
// Parameters with no gradient are skipped.
func (a *Adam[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	a.t++

	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, param := range a.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		if !grad.Shape().Equal(param.Tensor().Shape()) {
			panic(fmt.Sprintf("adam: gradient shape %v does not match parameter %s %v",
				grad.Shape(), param.Name(), param.Tensor().Shape()))
		}
		a.updateParameter(param, grad, a.moment(a.m, param), a.moment(a.v, param), biasCorrection1, biasCorrection2)
	}
}

func (a *Adam[B]) moment(moments map[*nn.Parameter[B]]*tensor.RawTensor, param *nn.Parameter[B]) *tensor.RawTensor {
	m, ok := moments[param]
	if !ok {
		m = tensor.MustRaw(param.Tensor().Shape(), param.Tensor().Device())
		moments[param] = m
	}
	return m
}

// updateParameter performs the Adam update for a single parameter.
func (a *Adam[B]) updateParameter(
	param *nn.Parameter[B],
	grad, m, v *tensor.RawTensor,
	biasCorrection1, biasCorrection2 float32,
) {
	gradData := grad.Data()
	mData := m.Data()
	vData := v.Data()
	paramData := param.Tensor().Data()

	for i := range paramData {
		g := gradData[i]
		mData[i] = a.beta1*mData[i] + (1.0-a.beta1)*g
		vData[i] = a.beta2*vData[i] + (1.0-a.beta2)*g*g

		mHat := mData[i] / biasCorrection1
		vHat := vData[i] / biasCorrection2
		paramData[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam[B]) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (a *Adam[B]) GetLR() float32 {
	return a.lr
}

// SetLR updates the learning rate.
func (a *Adam[B]) SetLR(lr float32) {
	a.lr = lr
}

// GetTimestep returns the number of steps taken.
func (a *Adam[B]) GetTimestep() int {
	return a.t
}

// StateDict returns the timestep and both moment buffers of every parameter
// that has taken at least one step. Moment tensors are copies.
func (a *Adam[B]) StateDict() *nn.StateDict {
	sd := nn.NewStateDict()
	step := tensor.MustRaw(tensor.Shape{1}, tensor.CPU)
	step.Data()[0] = float32(a.t)
	sd.Set(stepKey, step)

	for _, param := range a.params {
		if m, ok := a.m[param]; ok {
			sd.Set(firstMoment+param.Name(), m.Clone())
		}
		if v, ok := a.v[param]; ok {
			sd.Set(secondMoment+param.Name(), v.Clone())
		}
	}
	return sd
}

// LoadStateDict restores state produced by StateDict. Keys outside the
// optimizer prefix are ignored so a full checkpoint dict can be passed in.
func (a *Adam[B]) LoadStateDict(sd *nn.StateDict) error {
	step, ok := sd.Get(stepKey)
	if !ok || step.NumElements() != 1 {
		return fmt.Errorf("%w: missing %s", ErrState, stepKey)
	}
	t := int(step.Data()[0])
	if t < 0 {
		return fmt.Errorf("%w: negative timestep %d", ErrState, t)
	}

	byName := make(map[string]*nn.Parameter[B], len(a.params))
	for _, param := range a.params {
		byName[param.Name()] = param
	}

	m := make(map[*nn.Parameter[B]]*tensor.RawTensor)
	v := make(map[*nn.Parameter[B]]*tensor.RawTensor)
	for pair := sd.Oldest(); pair != nil; pair = pair.Next() {
		var (
			target map[*nn.Parameter[B]]*tensor.RawTensor
			name   string
		)
		switch {
		case strings.HasPrefix(pair.Key, firstMoment):
			target, name = m, strings.TrimPrefix(pair.Key, firstMoment)
		case strings.HasPrefix(pair.Key, secondMoment):
			target, name = v, strings.TrimPrefix(pair.Key, secondMoment)
		default:
			continue
		}
		param, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: moment for unknown parameter %s", ErrState, name)
		}
		if !pair.Value.Shape().Equal(param.Tensor().Shape()) {
			return fmt.Errorf("%w: %s: expected %v, got %v", ErrState, pair.Key, param.Tensor().Shape(), pair.Value.Shape())
		}
		target[param] = pair.Value.Clone()
	}

	a.t, a.m, a.v = t, m, v
	return nil
}
