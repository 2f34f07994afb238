// Package tensor provides the core tensor types used by the VAE runtime.
//
// Tensors are dense, row-major float32 arrays. A RawTensor carries the data and
// shape; Tensor[B] pairs a RawTensor with the Backend that computes on it, so the
// same model code runs on a plain CPU backend for inference and on the autodiff
// decorator for training.
package tensor

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors.
const (
	Float32 DataType = iota
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	default:
		return "unknown"
	}
}

// ParseDataType maps a serialized dtype name back to a DataType.
func ParseDataType(name string) (DataType, bool) {
	switch name {
	case "float32", "F32":
		return Float32, true
	default:
		return 0, false
	}
}

// Device represents the compute device for tensor operations.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	default:
		return "Unknown"
	}
}
