package nn

import (
	"errors"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/born-ml/born-vae/internal/tensor"
)

// State dict errors.
var (
	ErrMissingTensor    = errors.New("missing tensor")
	ErrUnexpectedTensor = errors.New("unexpected tensor")
	ErrTensorShape      = errors.New("tensor shape mismatch")
)

// StateDict maps fully qualified parameter names to tensors, preserving the
// order in which they were added.
type StateDict = orderedmap.OrderedMap[string, *tensor.RawTensor]

// NewStateDict returns an empty state dict.
func NewStateDict() *StateDict {
	return orderedmap.New[string, *tensor.RawTensor]()
}

// StateDictOf collects params into a state dict. Tensors are shared, not copied.
func StateDictOf[B tensor.Backend](params []*Parameter[B]) *StateDict {
	sd := orderedmap.New[string, *tensor.RawTensor](len(params))
	for _, p := range params {
		sd.Set(p.Name(), p.Tensor().Raw())
	}
	return sd
}

// LoadStateDict copies tensors from sd into params by name.
//
// Every parameter must be present with an identical shape, and sd must not
// hold any tensor that is not a parameter. Nothing is modified unless the
// whole dict matches.
func LoadStateDict[B tensor.Backend](params []*Parameter[B], sd *StateDict) error {
	byName := make(map[string]*Parameter[B], len(params))
	for _, p := range params {
		byName[p.Name()] = p
		src, ok := sd.Get(p.Name())
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingTensor, p.Name())
		}
		if !src.Shape().Equal(p.Tensor().Shape()) {
			return fmt.Errorf("%w: %s: expected %v, got %v", ErrTensorShape, p.Name(), p.Tensor().Shape(), src.Shape())
		}
	}
	for pair := sd.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := byName[pair.Key]; !ok {
			return fmt.Errorf("%w: %s", ErrUnexpectedTensor, pair.Key)
		}
	}

	for _, p := range params {
		src, _ := sd.Get(p.Name())
		copy(p.Tensor().Data(), src.Data())
	}
	return nil
}
