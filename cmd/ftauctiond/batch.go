package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/flowtrade/engine/internal/auction"
	"github.com/flowtrade/engine/internal/cache"
	"github.com/flowtrade/engine/internal/events"
	"github.com/flowtrade/engine/internal/qp"
	"github.com/flowtrade/engine/internal/repository"
	"github.com/flowtrade/engine/internal/scheduler"
)

// warmStartKey is the single problem the cache tracks. A deployment that
// partitioned products into independent auctions would key this per
// partition; this service clears one market-wide batch per tick.
const warmStartKey = "default"

// runner wires the repository, solver, event producer, and warm-start
// cache together into one batch solve, matching scheduler.BatchFunc and
// api.BatchRunner so the same pipeline backs both the aligned schedule and
// the on-demand admin endpoint.
type runner struct {
	db       *repository.DB
	solver   qp.Solver
	pool     scheduler.SolverPool
	events   *events.Producer
	warm     *cache.WarmStart
	log      zerolog.Logger
}

// run gathers every active portfolio and demand, groups them by bidder,
// assembles and solves the resulting QP, and persists + publishes the
// outcome. It satisfies both scheduler.BatchFunc and api.BatchRunner.
func (r *runner) run(ctx context.Context, anchor auction.DateTime) (auction.BatchId, error) {
	batchId := auction.NewBatchId()
	log := r.log.With().Str("batch_id", batchId.String()).Logger()

	if err := r.db.CreateScheduledBatch(ctx, batchId, anchor, auction.Now()); err != nil {
		return auction.BatchId{}, fmt.Errorf("record scheduled batch: %w", err)
	}

	submissions, weights, err := r.gatherSubmissions(ctx)
	if err != nil {
		r.fail(ctx, batchId, anchor, log, err)
		return auction.BatchId{}, err
	}

	problem, index, err := qp.Assemble(submissions)
	if err != nil {
		r.fail(ctx, batchId, anchor, log, err)
		return auction.BatchId{}, fmt.Errorf("%w: assemble problem: %v", auction.ErrSolver, err)
	}

	release := r.pool.Acquire()
	defer release()

	var warm *qp.WarmStart
	if cached, ok, err := r.warm.Get(ctx, warmStartKey); err != nil {
		log.Warn().Err(err).Msg("failed to fetch warm start, solving cold")
	} else if ok {
		warm = &cached
	}

	raw, next, status, err := r.solver.Solve(ctx, problem, warm)
	if err != nil {
		r.fail(ctx, batchId, anchor, log, err)
		return auction.BatchId{}, fmt.Errorf("%w: %v", auction.ErrSolver, err)
	}
	if status != qp.StatusSolved && status != qp.StatusAlmostSolved {
		err := fmt.Errorf("%w: solver terminated with status %s", auction.ErrSolver, status)
		r.fail(ctx, batchId, anchor, log, err)
		return auction.BatchId{}, err
	}
	if status == qp.StatusAlmostSolved {
		log.Warn().Msg("solver converged to loosened tolerance")
	}

	outcome := qp.ExtractOutcome(index, raw, weights)

	clearedAt := auction.Now()
	if err := r.db.CompleteBatch(ctx, batchId, clearedAt, outcome); err != nil {
		return auction.BatchId{}, fmt.Errorf("persist batch outcome: %w", err)
	}

	batch, err := r.db.GetBatch(ctx, batchId)
	if err != nil {
		log.Warn().Err(err).Msg("failed to reload batch for validUntil")
	}
	var validUntil *auction.DateTime
	if batch != nil {
		validUntil = batch.ValidUntil
	}

	if err := r.events.PublishBatchCleared(ctx, batchId, anchor, validUntil, outcome); err != nil {
		log.Warn().Err(err).Msg("failed to publish batch cleared event")
	}

	if err := r.warm.Put(ctx, warmStartKey, next); err != nil {
		log.Warn().Err(err).Msg("failed to persist warm start")
	}

	log.Info().
		Int("products", len(outcome.Products)).
		Int("bidders", len(outcome.Portfolios)).
		Msg("batch cleared")

	return batchId, nil
}

func (r *runner) fail(ctx context.Context, batchId auction.BatchId, anchor auction.DateTime, log zerolog.Logger, cause error) {
	if err := r.db.FailBatch(ctx, batchId); err != nil {
		log.Error().Err(err).Msg("failed to record batch failure")
	}
	if err := r.events.PublishBatchFailed(ctx, batchId, anchor, cause.Error()); err != nil {
		log.Error().Err(err).Msg("failed to publish batch failed event")
	}
	log.Error().Err(cause).Msg("batch failed")
}

// gatherSubmissions loads every active portfolio and demand curve and
// groups portfolios by bidder into canonical submissions (internal/qp's
// Assemble treats each bidder's submission independently). A demand curve
// itself carries no group; the group a demand trades against is the
// inverse of every portfolio's own demand group, built here before
// canonicalization. The same demand input list is handed to every bidder's
// NewSubmission call: each call's own pruning step drops any group entries
// that don't name one of that bidder's portfolios, so a demand curve only
// ever actually participates in the submissions of bidders whose
// portfolios reference it.
// It also returns a merged, bidder-agnostic portfolio weight map for
// qp.ExtractOutcome, which prices a portfolio off its own product weights
// regardless of which bidder submitted it.
func (r *runner) gatherSubmissions(ctx context.Context) (map[auction.BidderId]*auction.Submission, map[auction.PortfolioId]auction.ProductGroup, error) {
	portfolios, err := r.db.ActivePortfoliosForBatch(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load active portfolios: %w", err)
	}
	demands, err := r.db.ActiveDemandsForBatch(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load active demands: %w", err)
	}

	portfoliosByBidder := map[auction.BidderId]map[auction.PortfolioId]auction.ProductGroup{}
	weights := map[auction.PortfolioId]auction.ProductGroup{}
	demandGroups := map[auction.DemandId]auction.PortfolioGroup{}
	for _, p := range portfolios {
		byId, ok := portfoliosByBidder[p.BidderId]
		if !ok {
			byId = map[auction.PortfolioId]auction.ProductGroup{}
			portfoliosByBidder[p.BidderId] = byId
		}
		byId[p.Id] = p.Products
		weights[p.Id] = p.Products

		for demandId, weight := range p.Demands {
			group, ok := demandGroups[demandId]
			if !ok {
				group = auction.PortfolioGroup{}
				demandGroups[demandId] = group
			}
			group[p.Id] = weight
		}
	}

	demandInputs := make([]auction.DemandCurveInput, 0, len(demands))
	for _, d := range demands {
		// ActiveDemandsForBatch already excludes deactivated demands, so
		// d.Curve is always non-nil here. A batch solve always reveals a
		// demand's full curve domain; there is no batch-scoped truncation.
		min, max := d.Curve.Domain()
		input, err := auction.NewDemandCurveInput(d.Id, demandGroups[d.Id], *d.Curve, min, max)
		if err != nil {
			return nil, nil, fmt.Errorf("canonicalize demand curve input for demand %s: %w", d.Id, err)
		}
		demandInputs = append(demandInputs, *input)
	}

	submissions := make(map[auction.BidderId]*auction.Submission, len(portfoliosByBidder))
	for bidderId, byId := range portfoliosByBidder {
		sub, err := auction.NewSubmission(byId, demandInputs)
		if err != nil {
			return nil, nil, fmt.Errorf("canonicalize submission for bidder %s: %w", bidderId, err)
		}
		submissions[bidderId] = sub
	}

	return submissions, weights, nil
}
