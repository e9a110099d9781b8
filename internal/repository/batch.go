package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flowtrade/engine/internal/auction"
	"github.com/flowtrade/engine/internal/qp"
)

// BatchStatus records the lifecycle stage of a scheduled batch.
type BatchStatus string

const (
	BatchScheduled BatchStatus = "scheduled"
	BatchCleared   BatchStatus = "cleared"
	BatchFailed    BatchStatus = "failed"
)

// Batch is a single scheduled or cleared auction round.
type Batch struct {
	Id          auction.BatchId
	Anchor      auction.DateTime
	ScheduledAt auction.DateTime
	ClearedAt   *auction.DateTime
	Status      BatchStatus
	// ValidUntil is the earliest time at which any entity referenced by
	// this batch's solve could have changed (invariant P10): the minimum
	// valid_until across every portfolio and demand active in the batch,
	// or nil if none will ever expire. A cached solve is safe to reuse
	// until this time.
	ValidUntil *auction.DateTime
}

// CreateScheduledBatch records that a batch has been scheduled, before its
// solve completes.
func (db *DB) CreateScheduledBatch(ctx context.Context, id auction.BatchId, anchor, scheduledAt auction.DateTime) error {
	_, err := db.write.ExecContext(ctx,
		`INSERT INTO batches (id, anchor, scheduled_at, status) VALUES ($1, $2, $3, $4)`,
		id, anchor, scheduledAt, BatchScheduled,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to create scheduled batch: %v", auction.ErrRepository, err)
	}
	return nil
}

// CompleteBatch persists a batch's outcome and marks it cleared, in one
// transaction.
func (db *DB) CompleteBatch(ctx context.Context, id auction.BatchId, clearedAt auction.DateTime, outcome qp.AuctionOutcome) error {
	tx, err := db.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", auction.ErrRepository, err)
	}
	defer tx.Rollback()

	validUntil, err := db.earliestFutureInvalidation(ctx, tx, clearedAt)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE batches SET cleared_at = $2, status = $3, valid_until = $4 WHERE id = $1`,
		id, clearedAt, BatchCleared, validUntil,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update batch: %v", auction.ErrRepository, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: batch %s", auction.ErrNotFound, id)
	}

	for productId, po := range outcome.Products {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_products (batch_id, product_id, price, trade) VALUES ($1, $2, $3, $4)`,
			id, productId, po.Price, po.Trade,
		); err != nil {
			return fmt.Errorf("%w: failed to insert batch product outcome: %v", auction.ErrRepository, err)
		}
	}

	for _, byPortfolio := range outcome.Portfolios {
		for portfolioId, po := range byPortfolio {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO batch_portfolios (batch_id, portfolio_id, price, trade) VALUES ($1, $2, $3, $4)`,
				id, portfolioId, po.Price, po.Trade,
			); err != nil {
				return fmt.Errorf("%w: failed to insert batch portfolio outcome: %v", auction.ErrRepository, err)
			}
		}
	}

	return tx.Commit()
}

// FailBatch marks a scheduled batch as failed (the solver could not find a
// feasible or converged solution).
func (db *DB) FailBatch(ctx context.Context, id auction.BatchId) error {
	_, err := db.write.ExecContext(ctx, `UPDATE batches SET status = $2 WHERE id = $1`, id, BatchFailed)
	if err != nil {
		return fmt.Errorf("%w: failed to mark batch failed: %v", auction.ErrRepository, err)
	}
	return nil
}

// earliestFutureInvalidation computes invariant P10: the minimum
// valid_until across every portfolio and demand history row still active
// or closed after asOf, i.e. the earliest moment a reused solve could
// become stale.
func (db *DB) earliestFutureInvalidation(ctx context.Context, tx *sql.Tx, asOf auction.DateTime) (*auction.DateTime, error) {
	var portfolioMin, demandMin sql.NullTime

	if err := tx.QueryRowContext(ctx,
		`SELECT MIN(valid_until) FROM portfolio_history WHERE valid_until > $1`, asOf,
	).Scan(&portfolioMin); err != nil {
		return nil, fmt.Errorf("%w: failed to compute portfolio invalidation: %v", auction.ErrRepository, err)
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT MIN(valid_until) FROM demand_history WHERE valid_until > $1`, asOf,
	).Scan(&demandMin); err != nil {
		return nil, fmt.Errorf("%w: failed to compute demand invalidation: %v", auction.ErrRepository, err)
	}

	switch {
	case portfolioMin.Valid && demandMin.Valid:
		result := auction.MinDateTime(auction.NewDateTime(portfolioMin.Time), auction.NewDateTime(demandMin.Time))
		return &result, nil
	case portfolioMin.Valid:
		result := auction.NewDateTime(portfolioMin.Time)
		return &result, nil
	case demandMin.Valid:
		result := auction.NewDateTime(demandMin.Time)
		return &result, nil
	default:
		return nil, nil
	}
}

// productOutcomeVersion is one cleared batch's outcome for a single product.
type productOutcomeVersion struct {
	BatchId   auction.BatchId
	ClearedAt auction.DateTime
	Outcome   qp.ProductOutcome
}

// GetProductOutcomeHistory returns a page of id's cleared-batch outcome
// history, newest first, truncated to limit with a continuation cursor
// (spec.md §4.4 "range history"). Bounds are matched against each batch's
// cleared_at rather than a valid_from/valid_until window, since outcomes
// aren't a bitemporal entity: each cleared batch contributes at most one
// row per product.
func (db *DB) GetProductOutcomeHistory(ctx context.Context, id auction.ProductId, q HistoryQuery, limit int) (HistoryPage[productOutcomeVersion], error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT b.id, b.cleared_at, bp.price, bp.trade
		 FROM batch_products bp
		 JOIN batches b ON b.id = bp.batch_id
		 WHERE bp.product_id = $1
		   AND b.cleared_at IS NOT NULL
		   AND ($2::timestamptz IS NULL OR b.cleared_at <= $2)
		   AND ($3::timestamptz IS NULL OR b.cleared_at > $3)
		 ORDER BY b.cleared_at DESC
		 LIMIT $4`,
		id, nullableTime(q.Before), nullableTime(q.After), limit+1,
	)
	if err != nil {
		return HistoryPage[productOutcomeVersion]{}, fmt.Errorf("%w: failed to query product outcome history: %v", auction.ErrRepository, err)
	}
	defer rows.Close()

	var out []productOutcomeVersion
	for rows.Next() {
		var v productOutcomeVersion
		if err := rows.Scan(&v.BatchId, &v.ClearedAt, &v.Outcome.Price, &v.Outcome.Trade); err != nil {
			return HistoryPage[productOutcomeVersion]{}, fmt.Errorf("%w: failed to scan product outcome history row: %v", auction.ErrRepository, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return HistoryPage[productOutcomeVersion]{}, err
	}

	return truncatePage(out, limit, q.After, func(v productOutcomeVersion) auction.DateTime { return v.ClearedAt }), nil
}

// portfolioOutcomeVersion is one cleared batch's outcome for a single
// portfolio.
type portfolioOutcomeVersion struct {
	BatchId   auction.BatchId
	ClearedAt auction.DateTime
	Outcome   qp.PortfolioOutcome
}

// GetPortfolioOutcomeHistory returns a page of id's cleared-batch outcome
// history, newest first, truncated to limit with a continuation cursor,
// mirroring GetProductOutcomeHistory but scanning batch_portfolios.
func (db *DB) GetPortfolioOutcomeHistory(ctx context.Context, id auction.PortfolioId, q HistoryQuery, limit int) (HistoryPage[portfolioOutcomeVersion], error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT b.id, b.cleared_at, bp.price, bp.trade
		 FROM batch_portfolios bp
		 JOIN batches b ON b.id = bp.batch_id
		 WHERE bp.portfolio_id = $1
		   AND b.cleared_at IS NOT NULL
		   AND ($2::timestamptz IS NULL OR b.cleared_at <= $2)
		   AND ($3::timestamptz IS NULL OR b.cleared_at > $3)
		 ORDER BY b.cleared_at DESC
		 LIMIT $4`,
		id, nullableTime(q.Before), nullableTime(q.After), limit+1,
	)
	if err != nil {
		return HistoryPage[portfolioOutcomeVersion]{}, fmt.Errorf("%w: failed to query portfolio outcome history: %v", auction.ErrRepository, err)
	}
	defer rows.Close()

	var out []portfolioOutcomeVersion
	for rows.Next() {
		var v portfolioOutcomeVersion
		if err := rows.Scan(&v.BatchId, &v.ClearedAt, &v.Outcome.Price, &v.Outcome.Trade); err != nil {
			return HistoryPage[portfolioOutcomeVersion]{}, fmt.Errorf("%w: failed to scan portfolio outcome history row: %v", auction.ErrRepository, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return HistoryPage[portfolioOutcomeVersion]{}, err
	}

	return truncatePage(out, limit, q.After, func(v portfolioOutcomeVersion) auction.DateTime { return v.ClearedAt }), nil
}

// GetBatch retrieves a batch's status and metadata by id.
func (db *DB) GetBatch(ctx context.Context, id auction.BatchId) (*Batch, error) {
	var b Batch
	var clearedAt, validUntil sql.NullTime
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, anchor, scheduled_at, cleared_at, status, valid_until FROM batches WHERE id = $1`,
		id,
	).Scan(&b.Id, &b.Anchor, &b.ScheduledAt, &clearedAt, &b.Status, &validUntil)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: batch %s", auction.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get batch: %v", auction.ErrRepository, err)
	}
	if clearedAt.Valid {
		t := auction.NewDateTime(clearedAt.Time)
		b.ClearedAt = &t
	}
	if validUntil.Valid {
		t := auction.NewDateTime(validUntil.Time)
		b.ValidUntil = &t
	}
	return &b, nil
}
