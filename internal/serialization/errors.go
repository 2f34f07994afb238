package serialization

import (
	"errors"
	"fmt"
)

var (
	ErrChecksumMismatch   = errors.New("checksum mismatch: file may be corrupted")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrTruncated          = errors.New("file truncated")
	ErrTensorNotFound     = errors.New("tensor not found")
	ErrReaderClosed       = errors.New("reader is closed")
)

// Problem classifies a header validation failure.
type Problem string

const (
	TooManyTensors   Problem = "too_many_tensors"
	NegativeOffset   Problem = "negative_offset"
	OutOfBounds      Problem = "out_of_bounds"
	OffsetOverlap    Problem = "offset_overlap"
	InvalidName      Problem = "invalid_name"
	NameTooLong      Problem = "name_too_long"
	DuplicateName    Problem = "duplicate_name"
	UnsupportedDType Problem = "unsupported_dtype"
	InvalidShape     Problem = "invalid_shape"
	SizeMismatch     Problem = "size_mismatch"
)

// ValidationError reports a header entry that would make reading unsafe.
// Other names the second tensor of an overlapping pair.
type ValidationError struct {
	Problem Problem
	Tensor  string
	Other   string
	Details string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Other != "":
		return fmt.Sprintf("%s: tensors %q and %q: %s", e.Problem, e.Tensor, e.Other, e.Details)
	case e.Tensor != "":
		return fmt.Sprintf("%s: tensor %q: %s", e.Problem, e.Tensor, e.Details)
	default:
		return fmt.Sprintf("%s: %s", e.Problem, e.Details)
	}
}
