// Package admm implements an ADMM (alternating direction method of
// multipliers) backend for the market-clearing QP, playing the role the
// original implementation gave to the OSQP solver
// (fts-solver/src/impls/osqp.rs): faster per-iteration work than the
// interior-point backend, trading off some precision, and cheap to
// warm-start between consecutive batches of the same portfolio set.
//
// No Go binding of OSQP exists, so this backend implements OSQP's own
// published algorithm (Stellato et al., "OSQP: An Operator Splitting
// Solver for Quadratic Programs") directly over gonum's dense linear
// algebra: a single Cholesky factorization of (P + sigma*I + rho*A'A) is
// computed once per solve and reused across every iteration.
package admm

import (
	"context"
	"fmt"
	"math"

	"github.com/flowtrade/engine/internal/qp"
	"gonum.org/v1/gonum/mat"
)

// Settings tunes the ADMM iteration.
type Settings struct {
	qp.Settings
	// Sigma is the proximal regularization added to P for numerical
	// stability (OSQP's default is 1e-6).
	Sigma float64
	// Rho is the ADMM penalty parameter. OSQP adapts this dynamically;
	// this backend keeps it fixed for the whole solve and never updates
	// it, however slowly the iteration converges.
	Rho float64
	// Alpha is the relaxation parameter (OSQP default 1.6).
	Alpha float64
}

// DefaultSettings mirrors OSQP's published defaults.
func DefaultSettings() Settings {
	return Settings{Settings: qp.DefaultSettings(), Sigma: 1e-6, Rho: 0.1, Alpha: 1.6}
}

// Solver is a qp.Solver backed by ADMM.
type Solver struct {
	settings Settings
}

// New constructs a Solver with the given settings.
func New(settings Settings) *Solver { return &Solver{settings: settings} }

func (solver *Solver) Solve(ctx context.Context, problem *qp.Problem, warm *qp.WarmStart) (qp.RawSolution, qp.WarmStart, qp.Status, error) {
	n := problem.P.Cols
	m := problem.A.Rows
	nz := problem.NumZeroRows

	if n == 0 {
		return qp.RawSolution{}, qp.WarmStart{}, qp.StatusSolved, nil
	}

	settings := solver.settings
	if settings.MaxIterations == 0 {
		settings = DefaultSettings()
	}

	P := toDense(problem.P)
	A := toDense(problem.A)
	q := mat.NewVecDense(n, problem.Q)
	b := mat.NewVecDense(m, problem.B)

	// KKT matrix for the ADMM x-update: (P + sigma*I + rho*A'A) x = rhs.
	reg := mat.NewDense(n, n, nil)
	reg.Scale(settings.Sigma, identity(n))
	reg.Add(reg, P)
	ata := mat.NewDense(n, n, nil)
	ata.Mul(A.T(), A)
	ata.Scale(settings.Rho, ata)
	reg.Add(reg, ata)

	var chol mat.Cholesky
	if ok := chol.Factorize(mat.NewSymDense(n, denseToSlice(reg, n))); !ok {
		return qp.RawSolution{}, qp.WarmStart{}, qp.StatusInfeasible, fmt.Errorf("qp/admm: (P + sigma*I + rho*A'A) is not positive definite")
	}

	x := mat.NewVecDense(n, nil)
	z := mat.NewVecDense(m, nil)
	y := mat.NewVecDense(m, nil)
	if warm != nil && len(warm.X) == n {
		x = mat.NewVecDense(n, warm.X)
	}
	if warm != nil && len(warm.S) == m {
		z = mat.NewVecDense(m, warm.S)
	}
	if warm != nil && len(warm.Z) == m {
		y = mat.NewVecDense(m, warm.Z)
	}

	status := qp.StatusMaxIterations
	for iter := 0; iter < settings.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			return qp.RawSolution{}, qp.WarmStart{}, qp.StatusMaxIterations, ctx.Err()
		default:
		}

		// x-update: solve (P+sigma*I+rho*A'A) xTilde = sigma*x - q + rho*A'(z-y/rho)
		rhs := mat.NewVecDense(n, nil)
		rhs.ScaleVec(settings.Sigma, x)
		rhs.SubVec(rhs, q)
		zy := mat.NewVecDense(m, nil)
		zy.ScaleVec(1.0/settings.Rho, y)
		zy.SubVec(z, zy)
		atzy := mat.NewVecDense(n, nil)
		atzy.MulVec(A.T(), zy)
		atzy.ScaleVec(settings.Rho, atzy)
		rhs.AddVec(rhs, atzy)

		var xTilde mat.VecDense
		if err := xTilde.SolveVec(&chol, rhs); err != nil {
			return qp.RawSolution{}, qp.WarmStart{}, qp.StatusInfeasible, fmt.Errorf("qp/admm: x-update solve failed at iteration %d: %w", iter, err)
		}

		// zTilde = A xTilde.
		axTilde := mat.NewVecDense(m, nil)
		axTilde.MulVec(A, &xTilde)

		// Relaxation.
		xRelaxed := mat.NewVecDense(n, nil)
		xRelaxed.ScaleVec(settings.Alpha, &xTilde)
		tmpX := mat.NewVecDense(n, nil)
		tmpX.ScaleVec(1-settings.Alpha, x)
		xRelaxed.AddVec(xRelaxed, tmpX)

		axRelaxed := mat.NewVecDense(m, nil)
		axRelaxed.ScaleVec(settings.Alpha, axTilde)
		tmpM := mat.NewVecDense(m, nil)
		tmpM.ScaleVec(1-settings.Alpha, z)
		axRelaxed.AddVec(axRelaxed, tmpM)

		// z-update: project (axRelaxed + y/rho) onto the constraint set
		// (z = b on equality rows, z <= b on cone rows), then update y.
		preProj := mat.NewVecDense(m, nil)
		preProj.ScaleVec(1.0/settings.Rho, y)
		preProj.AddVec(axRelaxed, preProj)

		zNext := mat.NewVecDense(m, nil)
		for i := 0; i < m; i++ {
			v := preProj.AtVec(i)
			if i < nz {
				zNext.SetVec(i, b.AtVec(i))
			} else {
				zNext.SetVec(i, math.Min(v, b.AtVec(i)))
			}
		}

		yNext := mat.NewVecDense(m, nil)
		diff := mat.NewVecDense(m, nil)
		diff.SubVec(axRelaxed, zNext)
		yNext.ScaleVec(settings.Rho, diff)
		yNext.AddVec(y, yNext)

		// Residuals for convergence: primal r = Ax - z, dual s = P x + q + A'y.
		primal := mat.NewVecDense(m, nil)
		primal.MulVec(A, &xTilde)
		primal.SubVec(primal, zNext)

		dual := mat.NewVecDense(n, nil)
		dual.MulVec(P, &xTilde)
		dual.AddVec(dual, q)
		aty := mat.NewVecDense(n, nil)
		aty.MulVec(A.T(), yNext)
		dual.AddVec(dual, aty)

		x = &xTilde
		z = zNext
		y = yNext

		if mat.Norm(primal, 2) < settings.Tolerance && mat.Norm(dual, 2) < settings.Tolerance {
			status = qp.StatusSolved
			break
		}
	}

	fullX := vecSlice(x, n)
	fullY := vecSlice(y, m)
	fullZ := vecSlice(z, m)

	warmOut := qp.WarmStart{X: fullX, Z: fullY, S: fullZ}
	return qp.RawSolution{X: fullX, Z: fullY[:nz]}, warmOut, status, nil
}

func vecSlice(v *mat.VecDense, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = v.AtVec(i)
	}
	return out
}

func identity(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1.0)
	}
	return d
}

func denseToSlice(d *mat.Dense, n int) []float64 {
	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i*n+j] = d.At(i, j)
		}
	}
	return out
}

func toDense(m qp.CscMatrix) *mat.Dense {
	d := mat.NewDense(m.Rows, m.Cols, nil)
	for col := 0; col < m.Cols; col++ {
		for k := m.ColPtr[col]; k < m.ColPtr[col+1]; k++ {
			d.Set(m.RowVal[k], col, m.NzVal[k])
		}
	}
	return d
}
