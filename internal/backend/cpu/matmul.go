package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/born-vae/internal/tensor"
)

// MatMul performs matrix multiplication: (M, K) @ (K, N) -> (M, N).
// The product is computed by gonum's SGEMM.
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape := a.Shape()
	bShape := b.Shape()

	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape)))
	}

	m, k := aShape[0], aShape[1]
	kAlt, n := bShape[0], bShape[1]

	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch [%d,%d] @ [%d,%d]", m, k, kAlt, n))
	}

	result := tensor.MustRaw(tensor.Shape{m, n}, cpu.device)
	gemm(blas.NoTrans, blas.NoTrans, m, n, k, a.Data(), b.Data(), 0, result.Data())
	return result
}

// gemm computes c = op(a) @ op(b) + beta*c for row-major buffers.
// m, n, k are the dimensions of the product after applying the transposes.
func gemm(tA, tB blas.Transpose, m, n, k int, a, b []float32, beta float32, c []float32) {
	ga := blas32.General{Rows: m, Cols: k, Stride: k, Data: a}
	if tA == blas.Trans {
		ga = blas32.General{Rows: k, Cols: m, Stride: m, Data: a}
	}
	gb := blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	if tB == blas.Trans {
		gb = blas32.General{Rows: n, Cols: k, Stride: k, Data: b}
	}
	gc := blas32.General{Rows: m, Cols: n, Stride: n, Data: c}
	blas32.Gemm(tA, tB, 1, ga, gb, beta, gc)
}
