package tensor

import (
	"fmt"
	"slices"
)

// Shape is the row-major dimension list of a tensor. An empty shape is a scalar.
type Shape []int

// NumElements returns the product of the dimensions, 1 for a scalar.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate rejects zero or negative dimensions.
func (s Shape) Validate() error {
	if i := slices.IndexFunc(s, func(d int) bool { return d <= 0 }); i >= 0 {
		return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, s[i])
	}
	return nil
}

// Equal reports whether both shapes have the same dimensions.
func (s Shape) Equal(other Shape) bool {
	return slices.Equal(s, other)
}

// Clone returns a copy that does not alias s.
func (s Shape) Clone() Shape {
	return slices.Clone(s)
}

// Batch returns the leading dimension, or 1 when s has none usable.
// Used to build the expected shape in mismatch errors.
func (s Shape) Batch() int {
	if len(s) == 0 || s[0] <= 0 {
		return 1
	}
	return s[0]
}

// ComputeStrides returns row-major strides: stride[i] is the product of the
// dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	stride := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= s[i]
	}
	return strides
}

func (s Shape) String() string {
	return fmt.Sprint([]int(s))
}

// BroadcastShapes aligns a and b from the right; a dimension broadcasts when
// it is 1 or missing. The bool is false when the result equals both inputs.
//
//	[3 1] with [3 5] -> [3 5], true
//	[5]   with [3 5] -> [3 5], true
//	[3 4] with [3 5] -> error
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	n := max(len(a), len(b))
	out := make(Shape, n)
	broadcast := len(a) != len(b)

	dim := func(s Shape, i int) int {
		if j := len(s) - n + i; j >= 0 {
			return s[j]
		}
		return 1
	}
	for i := range n {
		da, db := dim(a, i), dim(b, i)
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
			broadcast = true
		case db == 1:
			out[i] = da
			broadcast = true
		default:
			return nil, false, fmt.Errorf("shapes not compatible for broadcasting: %v vs %v (dimension %d: %d vs %d)",
				a, b, i, da, db)
		}
	}
	return out, broadcast, nil
}
