// Package interior implements a primal-dual interior-point method for the
// market-clearing QP, playing the role the original implementation gave to
// the Clarabel solver (fts-solver/src/impls/clarabel.rs): higher precision
// at the cost of more work per iteration than the ADMM backend.
//
// No Go binding for Clarabel (or any other conic interior-point solver)
// exists, so this backend is a from-scratch short-step path-following
// method over the same conic form Clarabel uses (equality rows followed by
// nonnegative-cone rows), built on gonum's dense linear algebra.
package interior

import (
	"context"
	"fmt"
	"math"

	"github.com/flowtrade/engine/internal/qp"
	"gonum.org/v1/gonum/mat"
)

// Settings tunes the interior-point iteration.
type Settings struct {
	qp.Settings
	// Sigma is the fixed centering parameter in (0, 1); larger values bias
	// each step toward the central path at the cost of slower progress.
	Sigma float64
}

// DefaultSettings returns conservative defaults.
func DefaultSettings() Settings {
	return Settings{Settings: qp.DefaultSettings(), Sigma: 0.2}
}

// Solver is a qp.Solver backed by the interior-point method.
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

	nc := m - nz

	P := toDense(problem.P)
	A := toDense(problem.A)
	q := mat.NewVecDense(n, problem.Q)
	b := mat.NewVecDense(m, problem.B)

	aZ := A.Slice(0, nz, 0, n).(*mat.Dense)
	aC := A.Slice(nz, m, 0, n).(*mat.Dense)
	bZ := mat.NewVecDense(nz, problem.B[:nz])

	x := mat.NewVecDense(n, nil)
	yZ := mat.NewVecDense(nz, nil)
	sC := mat.NewVecDense(nc, nil)
	yC := mat.NewVecDense(nc, nil)
	for i := 0; i < nc; i++ {
		sC.SetVec(i, 1.0)
		yC.SetVec(i, 1.0)
	}
	applyWarmStart(warm, n, nz, nc, x, yZ, sC, yC)

	settings := solver.settings
	if settings.MaxIterations == 0 {
		settings = DefaultSettings()
	}

	status := qp.StatusMaxIterations
	for iter := 0; iter < settings.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			return qp.RawSolution{}, qp.WarmStart{}, qp.StatusMaxIterations, ctx.Err()
		default:
		}

		// Dual residual: r1 = Px + q + A'y
		r1 := mat.NewVecDense(n, nil)
		r1.MulVec(P, x)
		r1.AddVec(r1, q)
		aty := mat.NewVecDense(n, nil)
		fullY := mat.NewVecDense(m, nil)
		for i := 0; i < nz; i++ {
			fullY.SetVec(i, yZ.AtVec(i))
		}
		for i := 0; i < nc; i++ {
			fullY.SetVec(nz+i, yC.AtVec(i))
		}
		aty.MulVec(A.T(), fullY)
		r1.AddVec(r1, aty)

		// Primal residuals.
		r2Z := mat.NewVecDense(nz, nil)
		r2Z.MulVec(aZ, x)
		r2Z.SubVec(r2Z, bZ)

		r2C := mat.NewVecDense(nc, nil)
		r2C.MulVec(aC, x)
		r2C.AddVec(r2C, sC)
		bC := mat.NewVecDense(nc, problem.B[nz:m])
		r2C.SubVec(r2C, bC)

		mu := 0.0
		if nc > 0 {
			for i := 0; i < nc; i++ {
				mu += sC.AtVec(i) * yC.AtVec(i)
			}
			mu /= float64(nc)
		}

		if norm(r1) < settings.Tolerance && norm(r2Z) < settings.Tolerance && norm(r2C) < settings.Tolerance && mu < settings.Tolerance {
			status = qp.StatusSolved
			break
		}

		// D_C = S_C ./ Y_C, rhs_C = (sigma*mu*e - S_C.*Y_C) ./ Y_C
		invD := mat.NewDiagDense(nc, nil)
		rhsC := mat.NewVecDense(nc, nil)
		for i := 0; i < nc; i++ {
			s, y := sC.AtVec(i), yC.AtVec(i)
			if y < 1e-14 {
				y = 1e-14
			}
			d := s / y
			if d < 1e-14 {
				d = 1e-14
			}
			invD.SetDiag(i, 1.0/d)
			rhsC.SetVec(i, (settings.Sigma*mu-s*y)/y)
		}

		// Reduced KKT: [P + A_C' invD A_C, A_Z'; A_Z, 0] [dx; dyZ] = [rhs1; rhs2]
		scaledAC := mat.NewDense(nc, n, nil)
		scaledAC.Mul(invD, aC)
		reduced := mat.NewDense(n, n, nil)
		reduced.Mul(aC.T(), scaledAC)
		reduced.Add(reduced, P)

		tmp := mat.NewVecDense(nc, nil)
		tmp.AddVec(r2C, rhsC)
		rhs1 := mat.NewVecDense(n, nil)
		rhs1.MulVec(aC.T(), scaleVec(invD, tmp))
		rhs1.AddVec(rhs1, r1)
		rhs1.ScaleVec(-1, rhs1)

		size := n + nz
		K := mat.NewDense(size, size, nil)
		K.Slice(0, n, 0, n).(*mat.Dense).Copy(reduced)
		if nz > 0 {
			K.Slice(0, n, n, size).(*mat.Dense).Copy(aZ.T())
			K.Slice(n, size, 0, n).(*mat.Dense).Copy(aZ)
		}
		rhs := mat.NewVecDense(size, nil)
		for i := 0; i < n; i++ {
			rhs.SetVec(i, rhs1.AtVec(i))
		}
		for i := 0; i < nz; i++ {
			rhs.SetVec(n+i, -r2Z.AtVec(i))
		}

		var delta mat.VecDense
		if err := delta.SolveVec(K, rhs); err != nil {
			return qp.RawSolution{}, qp.WarmStart{}, qp.StatusInfeasible, fmt.Errorf("qp/interior: singular KKT system at iteration %d: %w", iter, err)
		}

		dx := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			dx.SetVec(i, delta.AtVec(i))
		}
		dyZ := mat.NewVecDense(nz, nil)
		for i := 0; i < nz; i++ {
			dyZ.SetVec(i, delta.AtVec(n+i))
		}

		// dy_C = invD .* (A_C dx + r2_C + rhs_C)
		acdx := mat.NewVecDense(nc, nil)
		acdx.MulVec(aC, dx)
		acdx.AddVec(acdx, r2C)
		acdx.AddVec(acdx, rhsC)
		dyC := scaleVec(invD, acdx)

		// ds_C = rhs_C - D_C .* dy_C
		dsC := mat.NewVecDense(nc, nil)
		for i := 0; i < nc; i++ {
			d := sC.AtVec(i) / math.Max(yC.AtVec(i), 1e-14)
			dsC.SetVec(i, rhsC.AtVec(i)-d*dyC.AtVec(i))
		}

		alpha := stepLength(sC, dsC, yC, dyC)

		x.AddScaledVec(x, alpha, dx)
		yZ.AddScaledVec(yZ, alpha, dyZ)
		sC.AddScaledVec(sC, alpha, dsC)
		yC.AddScaledVec(yC, alpha, dyC)
	}

	fullX := make([]float64, n)
	for i := 0; i < n; i++ {
		fullX[i] = x.AtVec(i)
	}
	fullZ := make([]float64, nz)
	for i := 0; i < nz; i++ {
		fullZ[i] = yZ.AtVec(i)
	}

	warmOut := qp.WarmStart{X: fullX, Z: fullZ, S: vecSlice(sC, nc)}
	return qp.RawSolution{X: fullX, Z: fullZ}, warmOut, status, nil
}

func applyWarmStart(warm *qp.WarmStart, n, nz, nc int, x, yZ, sC, yC *mat.VecDense) {
	if warm == nil {
		return
	}
	if len(warm.X) == n {
		x.SetVec(0, 0)
		for i := 0; i < n; i++ {
			x.SetVec(i, warm.X[i])
		}
	}
	if len(warm.Z) == nz {
		for i := 0; i < nz; i++ {
			yZ.SetVec(i, warm.Z[i])
		}
	}
	if len(warm.S) == nc {
		for i := 0; i < nc; i++ {
			if warm.S[i] > 1e-8 {
				sC.SetVec(i, warm.S[i])
			}
		}
	}
	_ = yC
}

func vecSlice(v *mat.VecDense, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = v.AtVec(i)
	}
	return out
}

func scaleVec(diag *mat.DiagDense, v *mat.VecDense) *mat.VecDense {
	n, _ := diag.Dims()
	out := mat.NewVecDense(n, nil)
	out.MulVec(diag, v)
	return out
}

// stepLength finds the largest alpha in (0, 1] (scaled by a 0.99 safety
// factor) keeping both s+alpha*ds and y+alpha*dy strictly positive.
func stepLength(s, ds, y, dy *mat.VecDense) float64 {
	alpha := 1.0
	n, _ := s.Dims()
	for i := 0; i < n; i++ {
		if d := ds.AtVec(i); d < 0 {
			alpha = math.Min(alpha, -0.99*s.AtVec(i)/d)
		}
		if d := dy.AtVec(i); d < 0 {
			alpha = math.Min(alpha, -0.99*y.AtVec(i)/d)
		}
	}
	if alpha < 0 {
		return 0
	}
	return alpha
}

func norm(v *mat.VecDense) float64 { return mat.Norm(v, 2) }

func toDense(m qp.CscMatrix) *mat.Dense {
	d := mat.NewDense(m.Rows, m.Cols, nil)
	for col := 0; col < m.Cols; col++ {
		for k := m.ColPtr[col]; k < m.ColPtr[col+1]; k++ {
			d.Set(m.RowVal[k], col, m.NzVal[k])
		}
	}
	return d
}
