// Command ftsolve clears a single auction document read from a file or
// stdin and writes its outcome to stdout, without touching Postgres,
// Kafka, or Redis. Useful for scripting and for reproducing a batch
// offline from a recorded auction document.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/flowtrade/engine/internal/auction"
	"github.com/flowtrade/engine/internal/qp"
	"github.com/flowtrade/engine/internal/qp/admm"
	"github.com/flowtrade/engine/internal/qp/interior"
	"github.com/flowtrade/engine/internal/wire"
)

func main() {
	inputPath := flag.String("in", "", "path to an auction JSON document (default: stdin)")
	backend := flag.String("backend", "interior", "solver backend: interior or admm")
	flag.Parse()

	if err := run(*inputPath, *backend); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(inputPath, backend string) error {
	data, err := readInput(inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	submissions, err := wire.DecodeAuction(data)
	if err != nil {
		return fmt.Errorf("decode auction: %w", err)
	}

	problem, index, err := qp.Assemble(submissions)
	if err != nil {
		return fmt.Errorf("assemble problem: %w", err)
	}

	solver, err := selectSolver(backend)
	if err != nil {
		return err
	}

	raw, _, status, err := solver.Solve(context.Background(), problem, nil)
	if err != nil {
		return fmt.Errorf("solve: %w", err)
	}
	if status != qp.StatusSolved && status != qp.StatusAlmostSolved {
		return fmt.Errorf("solver terminated with status %s", status)
	}

	outcome := qp.ExtractOutcome(index, raw, mergePortfolioWeights(submissions))

	encoded, err := wire.EncodeOutcome(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}

	_, err = os.Stdout.Write(append(encoded, '\n'))
	return err
}

func selectSolver(backend string) (qp.Solver, error) {
	switch backend {
	case "interior":
		return interior.New(interior.DefaultSettings()), nil
	case "admm":
		return admm.New(admm.DefaultSettings()), nil
	default:
		return nil, fmt.Errorf("unknown solver backend %q", backend)
	}
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// mergePortfolioWeights flattens every bidder's submission into one
// portfolio-id-keyed weight map, since qp.ExtractOutcome prices a
// portfolio off its own product weights regardless of which bidder
// submitted it.
func mergePortfolioWeights(submissions map[auction.BidderId]*auction.Submission) map[auction.PortfolioId]auction.ProductGroup {
	merged := map[auction.PortfolioId]auction.ProductGroup{}
	for _, sub := range submissions {
		for id, weights := range sub.Portfolios {
			merged[id] = weights
		}
	}
	return merged
}
