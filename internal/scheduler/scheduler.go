// Package scheduler runs batch auctions at aligned, regular intervals.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowtrade/engine/internal/auction"
)

// Scheduler configures when to start executing batches and how often to
// repeat. Ported from original_source/ftdemo/src/schedule.rs, generalized
// with structured logging in place of its tracing spans.
type Scheduler struct {
	// From anchors the first batch. Zero value means "start from now".
	From auction.DateTime
	// Every is how often to run a batch. Zero disables scheduling entirely.
	Every time.Duration
	Log   zerolog.Logger
}

// BatchFunc runs a single batch at the given anchor time and returns the
// resulting batch id, or an error if the solve failed.
type BatchFunc func(ctx context.Context, anchor auction.DateTime) (auction.BatchId, error)

// Run aligns the clock to the configured schedule, then invokes f at every
// tick until ctx is canceled. A solver failure (an error wrapping
// auction.ErrSolver) is logged and the next tick runs as usual; any other
// error from f stops Run, which returns it. The anchor advances by exactly
// Every each tick regardless of how long the previous batch took, so
// anchors stay on the From + k*Every grid; ticks that pass while a batch
// overruns are dropped, not made up, so after a slow solve the anchor
// lags wall-clock time.
//
// Run returns nil immediately if Every is zero (scheduling disabled).
func (s *Scheduler) Run(ctx context.Context, f BatchFunc) error {
	if s.Every <= 0 {
		return nil
	}

	now := auction.Now()
	anchor := s.From
	if anchor.Time.IsZero() {
		anchor = now
	}
	if anchor.Before(now) {
		elapsed := now.Time.Sub(anchor.Time)
		ticks := (elapsed + s.Every - 1) / s.Every
		anchor = auction.NewDateTime(anchor.Time.Add(s.Every * ticks))
	}

	sleepFor := anchor.Time.Sub(auction.Now().Time)
	if sleepFor > 0 {
		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(s.Every)
	defer ticker.Stop()

	for {
		log := s.Log.With().Time("anchor", anchor.Time).Logger()
		log.Info().Msg("running scheduled batch")
		start := time.Now()

		id, err := f(ctx, anchor)
		duration := time.Since(start)
		if err != nil {
			log.Error().Err(err).Dur("duration", duration).Msg("batch failed")
			if !errors.Is(err, auction.ErrSolver) {
				return err
			}
		} else {
			log.Info().Str("batch_id", id.String()).Dur("duration", duration).Msg("batch cleared")
		}

		anchor = auction.NewDateTime(anchor.Time.Add(s.Every))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
