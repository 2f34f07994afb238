package tensor

// Backend defines the interface that all compute backends must implement.
// Backends handle the actual computation for tensor operations.
//
// Implementations:
//   - cpu.CPUBackend: pure Go kernels, GEMM through gonum BLAS
//   - autodiff.AutodiffBackend: decorator that records operations on a tape
//
// Backends never modify their inputs.
type Backend interface {
	// Element-wise binary operations with NumPy broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// MatMul multiplies 2D matrices: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// Convolutional operations (NCHW input, [C_out, C_in, K_h, K_w] kernel).
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor
	Conv2DInputBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	Conv2DKernelBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor

	// Spatial resampling. AvgPool2D uses a square window with stride equal to
	// the window; Upsample2D repeats each pixel scale x scale times.
	AvgPool2D(input *RawTensor, kernelSize int) *RawTensor
	AvgPool2DBackward(grad *RawTensor, kernelSize int) *RawTensor
	Upsample2D(input *RawTensor, scale int) *RawTensor
	Upsample2DBackward(grad *RawTensor, scale int) *RawTensor

	// GroupNorm normalizes each (sample, group) slice of an NCHW tensor to
	// zero mean and unit variance. No affine transform is applied here.
	GroupNorm(input *RawTensor, groups int, eps float32) *RawTensor
	GroupNormBackward(input, grad *RawTensor, groups int, eps float32) *RawTensor

	// Shape operations
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Scalar operations
	MulScalar(x *RawTensor, scalar float32) *RawTensor
	AddScalar(x *RawTensor, scalar float32) *RawTensor

	// Math operations (element-wise)
	Exp(x *RawTensor) *RawTensor
	Log(x *RawTensor) *RawTensor
	Clamp(x *RawTensor, lo, hi float32) *RawTensor

	// Activation functions
	Sigmoid(x *RawTensor) *RawTensor
	SiLU(x *RawTensor) *RawTensor

	// Reduction operations
	Sum(x *RawTensor) *RawTensor                           // total sum (scalar result)
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor // sum along dimension

	// Metadata
	Name() string
	Device() Device
}
