// Package qp assembles the flow-trading market-clearing problem into a
// sparse quadratic program and defines the Solver interface its two
// backends (interior and admm) implement.
//
// Grounded on the original Rust implementation's fts-solver/src/impls.rs
// (prepare) and fts-solver/src/impls/clarabel.rs (matrix construction and
// outcome extraction); the column/row layout is carried over unchanged.
package qp

// CscMatrix is a column-compressed sparse matrix, matching the layout
// Clarabel and OSQP both expect: colptr has n+1 entries, rowval/nzval have
// colptr[n] entries, and column j's entries are nzval[colptr[j]:colptr[j+1]]
// at rows rowval[colptr[j]:colptr[j+1]].
type CscMatrix struct {
	Rows, Cols int
	ColPtr     []int
	RowVal     []int
	NzVal      []float64
}

// NewDiagonalCsc builds a square diagonal CSC matrix from its diagonal
// entries, used for the QP's P matrix (the objective is always separable:
// each decision variable contributes independently to the quadratic term).
func NewDiagonalCsc(diag []float64) CscMatrix {
	n := len(diag)
	colptr := make([]int, n+1)
	rowval := make([]int, n)
	for i := range diag {
		colptr[i] = i
		rowval[i] = i
	}
	colptr[n] = n
	return CscMatrix{Rows: n, Cols: n, ColPtr: colptr, RowVal: rowval, NzVal: append([]float64(nil), diag...)}
}

// Problem is the assembled market-clearing QP:
//
//	minimize    1/2 x'Px + q'x
//	subject to  Ax + s = b,  s in {0}^NumZeroRows x R+^(len(B)-NumZeroRows)
//
// The first NumZeroRows rows of A (one per product, then one per demand
// curve group) are equality constraints; the remaining rows are the
// segment box constraints (x0 <= y <= x1), expressed as one nonnegative
// row per finite bound.
type Problem struct {
	P CscMatrix
	Q []float64
	A CscMatrix
	B []float64

	// NumZeroRows is the count of leading equality rows in A (products plus
	// demand curve groups).
	NumZeroRows int
}
