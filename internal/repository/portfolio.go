package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/flowtrade/engine/internal/auction"
)

// CreatePortfolio inserts the first version of a portfolio's history.
func (db *DB) CreatePortfolio(ctx context.Context, p *auction.Portfolio) error {
	tx, err := db.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", auction.ErrRepository, err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM portfolio_history WHERE portfolio_id = $1 AND valid_until IS NULL)`,
		p.Id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("%w: failed to check existing portfolio: %v", auction.ErrRepository, err)
	}
	if exists {
		return fmt.Errorf("%w: portfolio %s", auction.ErrIdConflict, p.Id)
	}

	if err := insertPortfolioVersion(ctx, tx, p, auction.Now()); err != nil {
		return err
	}

	return tx.Commit()
}

// ReplacePortfolio closes the current active version of p.Id as of asOf
// and opens a new active version with p's demand group and basis, in one
// transaction; it returns ErrNotFound if p.Id has no active version. This implements history exclusivity (I2): the close and
// the open happen atomically, so no point in time ever sees two active
// rows for the id. Use UpdatePortfolioDemands/UpdatePortfolioBasis instead
// when only one of the two needs to change.
func (db *DB) ReplacePortfolio(ctx context.Context, p *auction.Portfolio, asOf auction.DateTime) error {
	return db.replacePortfolio(ctx, p.Id, asOf, func(current *auction.Portfolio) {
		current.BidderId = p.BidderId
		current.AppData = p.AppData
		current.Demands = p.Demands
		current.Products = p.Products
		current.CreatedAt = p.CreatedAt
	})
}

// UpdatePortfolioDemands replaces a portfolio's demand group, leaving its
// product basis untouched (spec.md §6: demand group and basis are
// independently updatable).
func (db *DB) UpdatePortfolioDemands(ctx context.Context, id auction.PortfolioId, demands auction.DemandGroup, asOf auction.DateTime) error {
	return db.replacePortfolio(ctx, id, asOf, func(current *auction.Portfolio) {
		current.Demands = demands
	})
}

// UpdatePortfolioBasis replaces a portfolio's product basis, leaving its
// demand group untouched.
func (db *DB) UpdatePortfolioBasis(ctx context.Context, id auction.PortfolioId, basis auction.ProductGroup, asOf auction.DateTime) error {
	return db.replacePortfolio(ctx, id, asOf, func(current *auction.Portfolio) {
		current.Products = basis
	})
}

// replacePortfolio reads the currently active version inside a transaction,
// applies mutate, closes the active row as of asOf, and opens the mutated
// version as the new active row. Reading and closing inside the same
// transaction as the insert keeps the three independent update entry
// points (full replace, demands-only, basis-only) atomic with respect to
// each other.
func (db *DB) replacePortfolio(ctx context.Context, id auction.PortfolioId, asOf auction.DateTime, mutate func(*auction.Portfolio)) error {
	tx, err := db.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", auction.ErrRepository, err)
	}
	defer tx.Rollback()

	current, err := db.getPortfolioWhere(ctx, tx, "portfolio_id = $1 AND valid_until IS NULL", id)
	if err != nil {
		return err
	}
	mutate(current)
	current.CreatedAt = auction.Now()

	result, err := tx.ExecContext(ctx,
		`UPDATE portfolio_history SET valid_until = $2 WHERE portfolio_id = $1 AND valid_until IS NULL`,
		id, asOf,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to close portfolio history: %v", auction.ErrRepository, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: portfolio %s", auction.ErrNotFound, id)
	}

	if err := insertPortfolioVersion(ctx, tx, current, asOf); err != nil {
		return err
	}

	return tx.Commit()
}

func insertPortfolioVersion(ctx context.Context, tx *sql.Tx, p *auction.Portfolio, validFrom auction.DateTime) error {
	var historyId int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO portfolio_history (portfolio_id, bidder_id, app_data, valid_from, valid_until, created_at)
		 VALUES ($1, $2, $3, $4, NULL, $5) RETURNING history_id`,
		p.Id, p.BidderId, nullableJSON(p.AppData), validFrom, p.CreatedAt,
	).Scan(&historyId)
	if err != nil {
		return fmt.Errorf("%w: failed to insert portfolio history: %v", auction.ErrRepository, err)
	}

	for productId, weight := range p.Products {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO portfolio_weights (history_id, product_id, weight) VALUES ($1, $2, $3)`,
			historyId, productId, weight,
		); err != nil {
			return fmt.Errorf("%w: failed to insert portfolio weight: %v", auction.ErrRepository, err)
		}
	}

	for demandId, weight := range p.Demands {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO portfolio_demand_groups (history_id, demand_id, weight) VALUES ($1, $2, $3)`,
			historyId, demandId, weight,
		); err != nil {
			return fmt.Errorf("%w: failed to insert portfolio demand group entry: %v", auction.ErrRepository, err)
		}
	}
	return nil
}

// GetPortfolio returns the currently active version of a portfolio.
func (db *DB) GetPortfolio(ctx context.Context, id auction.PortfolioId) (*auction.Portfolio, error) {
	return db.getPortfolioWhere(ctx, db.conn, "portfolio_id = $1 AND valid_until IS NULL", id)
}

// GetPortfolioAt returns the version of a portfolio active at asOf.
func (db *DB) GetPortfolioAt(ctx context.Context, id auction.PortfolioId, asOf auction.DateTime) (*auction.Portfolio, error) {
	return db.getPortfolioWhere(ctx, db.conn,
		"portfolio_id = $1 AND valid_from <= $2 AND (valid_until IS NULL OR valid_until > $2)",
		id, asOf)
}

// GetPortfolioWithExpandedProducts returns the currently active version of
// a portfolio with its product basis expanded to leaf products (spec.md §6
// get_portfolio_with_expanded_products, §4.4 basis expansion / P9): any
// weight on a since-partitioned product is rewritten across its
// descendants via ExpandBasis.
func (db *DB) GetPortfolioWithExpandedProducts(ctx context.Context, id auction.PortfolioId) (*auction.Portfolio, error) {
	p, err := db.GetPortfolio(ctx, id)
	if err != nil {
		return nil, err
	}
	expanded, err := db.ExpandBasis(ctx, p.Products)
	if err != nil {
		return nil, err
	}
	p.Products = expanded
	return p, nil
}

func (db *DB) getPortfolioWhere(ctx context.Context, q querier, where string, args ...any) (*auction.Portfolio, error) {
	query := fmt.Sprintf(`SELECT history_id, portfolio_id, bidder_id, app_data, created_at FROM portfolio_history WHERE %s`, where)
	var historyId int64
	var p auction.Portfolio
	var appData []byte
	err := q.QueryRowContext(ctx, query, args...).Scan(&historyId, &p.Id, &p.BidderId, &appData, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: portfolio", auction.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get portfolio: %v", auction.ErrRepository, err)
	}
	if appData != nil {
		p.AppData = json.RawMessage(appData)
	}

	weights, err := db.portfolioWeightsWith(ctx, q, historyId)
	if err != nil {
		return nil, err
	}
	p.Products = weights

	demands, err := db.portfolioDemandGroupWith(ctx, q, historyId)
	if err != nil {
		return nil, err
	}
	p.Demands = demands
	return &p, nil
}

func (db *DB) portfolioWeights(ctx context.Context, historyId int64) (auction.ProductGroup, error) {
	return db.portfolioWeightsWith(ctx, db.conn, historyId)
}

func (db *DB) portfolioWeightsWith(ctx context.Context, q querier, historyId int64) (auction.ProductGroup, error) {
	rows, err := q.QueryContext(ctx, `SELECT product_id, weight FROM portfolio_weights WHERE history_id = $1`, historyId)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query portfolio weights: %v", auction.ErrRepository, err)
	}
	defer rows.Close()

	weights := auction.ProductGroup{}
	for rows.Next() {
		var productId auction.ProductId
		var weight float64
		if err := rows.Scan(&productId, &weight); err != nil {
			return nil, fmt.Errorf("%w: failed to scan portfolio weight: %v", auction.ErrRepository, err)
		}
		weights[productId] = weight
	}
	return weights, rows.Err()
}

func (db *DB) portfolioDemandGroupWith(ctx context.Context, q querier, historyId int64) (auction.DemandGroup, error) {
	rows, err := q.QueryContext(ctx, `SELECT demand_id, weight FROM portfolio_demand_groups WHERE history_id = $1`, historyId)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query portfolio demand group: %v", auction.ErrRepository, err)
	}
	defer rows.Close()

	demands := auction.DemandGroup{}
	for rows.Next() {
		var demandId auction.DemandId
		var weight float64
		if err := rows.Scan(&demandId, &weight); err != nil {
			return nil, fmt.Errorf("%w: failed to scan portfolio demand group entry: %v", auction.ErrRepository, err)
		}
		demands[demandId] = weight
	}
	return demands, rows.Err()
}

// ActivePortfolios returns every currently active portfolio for a bidder.
func (db *DB) ActivePortfolios(ctx context.Context, bidderId auction.BidderId) ([]*auction.Portfolio, error) {
	return db.activePortfoliosWhere(ctx, "bidder_id = $1 AND valid_until IS NULL", bidderId)
}

// ActivePortfoliosForBatch returns every currently active portfolio across
// all bidders, the other half (with ActiveDemandsForBatch) of a batch
// solve's input.
func (db *DB) ActivePortfoliosForBatch(ctx context.Context) ([]*auction.Portfolio, error) {
	return db.activePortfoliosWhere(ctx, "valid_until IS NULL")
}

func (db *DB) activePortfoliosWhere(ctx context.Context, where string, args ...any) ([]*auction.Portfolio, error) {
	query := fmt.Sprintf(`SELECT history_id, portfolio_id, bidder_id, app_data, created_at FROM portfolio_history WHERE %s`, where)
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query active portfolios: %v", auction.ErrRepository, err)
	}
	defer rows.Close()

	var out []*auction.Portfolio
	var historyIds []int64
	for rows.Next() {
		var historyId int64
		var p auction.Portfolio
		var appData []byte
		if err := rows.Scan(&historyId, &p.Id, &p.BidderId, &appData, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan portfolio: %v", auction.ErrRepository, err)
		}
		if appData != nil {
			p.AppData = json.RawMessage(appData)
		}
		out = append(out, &p)
		historyIds = append(historyIds, historyId)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, historyId := range historyIds {
		weights, err := db.portfolioWeights(ctx, historyId)
		if err != nil {
			return nil, err
		}
		out[i].Products = weights

		demands, err := db.portfolioDemandGroupWith(ctx, db.conn, historyId)
		if err != nil {
			return nil, err
		}
		out[i].Demands = demands
	}
	return out, nil
}

// portfolioDemandVersion is one row of a portfolio's demand-group history.
type portfolioDemandVersion struct {
	ValidFrom  auction.DateTime
	ValidUntil *auction.DateTime
	Demands    auction.DemandGroup
}

// GetPortfolioDemandHistory returns a page of id's demand-group history,
// newest first, truncated to limit with a continuation cursor, grounded on
// fts-sqlite's get_portfolio_demand_history.
func (db *DB) GetPortfolioDemandHistory(ctx context.Context, id auction.PortfolioId, q HistoryQuery, limit int) (HistoryPage[portfolioDemandVersion], error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT h.history_id, h.valid_from, h.valid_until
		 FROM portfolio_history h
		 WHERE h.portfolio_id = $1
		   AND ($2::timestamptz IS NULL OR h.valid_from <= $2)
		   AND ($3::timestamptz IS NULL OR h.valid_until IS NULL OR h.valid_until > $3)
		 ORDER BY h.valid_from DESC
		 LIMIT $4`,
		id, nullableTime(q.Before), nullableTime(q.After), limit+1,
	)
	if err != nil {
		return HistoryPage[portfolioDemandVersion]{}, fmt.Errorf("%w: failed to query portfolio demand history: %v", auction.ErrRepository, err)
	}

	type row struct {
		historyId int64
		v         portfolioDemandVersion
	}
	var scanned []row
	for rows.Next() {
		var r row
		var validUntil sql.NullTime
		if err := rows.Scan(&r.historyId, &r.v.ValidFrom, &validUntil); err != nil {
			rows.Close()
			return HistoryPage[portfolioDemandVersion]{}, fmt.Errorf("%w: failed to scan portfolio demand history row: %v", auction.ErrRepository, err)
		}
		if validUntil.Valid {
			t := auction.NewDateTime(validUntil.Time)
			r.v.ValidUntil = &t
		}
		scanned = append(scanned, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return HistoryPage[portfolioDemandVersion]{}, err
	}

	out := make([]portfolioDemandVersion, len(scanned))
	for i, r := range scanned {
		demands, err := db.portfolioDemandGroupWith(ctx, db.conn, r.historyId)
		if err != nil {
			return HistoryPage[portfolioDemandVersion]{}, err
		}
		r.v.Demands = demands
		out[i] = r.v
	}

	return truncatePage(out, limit, q.After, func(v portfolioDemandVersion) auction.DateTime { return v.ValidFrom }), nil
}

// portfolioBasisVersion is one row of a portfolio's product-basis history.
type portfolioBasisVersion struct {
	ValidFrom  auction.DateTime
	ValidUntil *auction.DateTime
	Products   auction.ProductGroup
}

// GetPortfolioBasisHistory returns a page of id's product-basis history,
// newest first, truncated to limit with a continuation cursor, grounded on
// fts-sqlite's get_portfolio_product_history.
func (db *DB) GetPortfolioBasisHistory(ctx context.Context, id auction.PortfolioId, q HistoryQuery, limit int) (HistoryPage[portfolioBasisVersion], error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT h.history_id, h.valid_from, h.valid_until
		 FROM portfolio_history h
		 WHERE h.portfolio_id = $1
		   AND ($2::timestamptz IS NULL OR h.valid_from <= $2)
		   AND ($3::timestamptz IS NULL OR h.valid_until IS NULL OR h.valid_until > $3)
		 ORDER BY h.valid_from DESC
		 LIMIT $4`,
		id, nullableTime(q.Before), nullableTime(q.After), limit+1,
	)
	if err != nil {
		return HistoryPage[portfolioBasisVersion]{}, fmt.Errorf("%w: failed to query portfolio basis history: %v", auction.ErrRepository, err)
	}

	type row struct {
		historyId int64
		v         portfolioBasisVersion
	}
	var scanned []row
	for rows.Next() {
		var r row
		var validUntil sql.NullTime
		if err := rows.Scan(&r.historyId, &r.v.ValidFrom, &validUntil); err != nil {
			rows.Close()
			return HistoryPage[portfolioBasisVersion]{}, fmt.Errorf("%w: failed to scan portfolio basis history row: %v", auction.ErrRepository, err)
		}
		if validUntil.Valid {
			t := auction.NewDateTime(validUntil.Time)
			r.v.ValidUntil = &t
		}
		scanned = append(scanned, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return HistoryPage[portfolioBasisVersion]{}, err
	}

	out := make([]portfolioBasisVersion, len(scanned))
	for i, r := range scanned {
		products, err := db.portfolioWeightsWith(ctx, db.conn, r.historyId)
		if err != nil {
			return HistoryPage[portfolioBasisVersion]{}, err
		}
		r.v.Products = products
		out[i] = r.v
	}

	return truncatePage(out, limit, q.After, func(v portfolioBasisVersion) auction.DateTime { return v.ValidFrom }), nil
}
