package vae

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/born-ml/born-vae/internal/tensor"
)

// Sentinels matched by the error kinds below through errors.Is.
var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrLoad          = errors.New("load failed")
	ErrDiverged      = errors.New("training diverged")
	ErrIO            = errors.New("i/o failure")
)

// ShapeMismatchError reports an input whose dimensions do not match the model.
type ShapeMismatchError struct {
	Op       string
	Expected tensor.Shape
	Got      tensor.Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: expected shape %v, got %v", e.Op, e.Expected, e.Got)
}

// Is reports whether target is ErrShapeMismatch.
func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

// LoadError reports a checkpoint that is missing, corrupt or built for
// another architecture.
type LoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	msg := "load " + e.Path + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is ErrLoad.
func (e *LoadError) Is(target error) bool { return target == ErrLoad }

func (e *LoadError) Unwrap() error { return e.Err }

// TrainingDivergedError reports a non-finite loss.
type TrainingDivergedError struct {
	Epoch int
	Step  int64
	Loss  float64
}

func (e *TrainingDivergedError) Error() string {
	return "training diverged at epoch " + strconv.Itoa(e.Epoch) +
		", step " + strconv.FormatInt(e.Step, 10) +
		": loss is " + strconv.FormatFloat(e.Loss, 'g', -1, 64)
}

// Is reports whether target is ErrDiverged.
func (e *TrainingDivergedError) Is(target error) bool { return target == ErrDiverged }

// IOError reports a filesystem failure on images, checkpoints or outputs.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

// Is reports whether target is ErrIO.
func (e *IOError) Is(target error) bool { return target == ErrIO }

func (e *IOError) Unwrap() error { return e.Err }
