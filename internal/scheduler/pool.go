package scheduler

import "runtime"

// SolverPool bounds how many QP solves run concurrently, so one batch's
// solve cannot stall HTTP handlers sharing the process. Sized to GOMAXPROCS since the solve is CPU-bound dense linear
// algebra (gonum/mat), not I/O-bound.
type SolverPool chan struct{}

// NewSolverPool creates a pool with capacity GOMAXPROCS(0).
func NewSolverPool() SolverPool {
	return make(SolverPool, runtime.GOMAXPROCS(0))
}

// Acquire blocks until a slot is free, then returns a release function.
func (p SolverPool) Acquire() func() {
	p <- struct{}{}
	return func() { <-p }
}
