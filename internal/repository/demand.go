package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/flowtrade/engine/internal/auction"
	"github.com/flowtrade/engine/internal/curve"
)

// CreateDemand inserts the first version of a demand curve's history.
func (db *DB) CreateDemand(ctx context.Context, d *auction.Demand) error {
	tx, err := db.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", auction.ErrRepository, err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM demand_history WHERE demand_id = $1 AND valid_until IS NULL)`,
		d.Id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("%w: failed to check existing demand: %v", auction.ErrRepository, err)
	}
	if exists {
		return fmt.Errorf("%w: demand %s", auction.ErrIdConflict, d.Id)
	}

	if err := insertDemandVersion(ctx, tx, d, auction.Now()); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceDemand closes the current active version of d.Id as of asOf and
// opens a new active version, atomically (invariant I2); it returns
// ErrNotFound if d.Id has no active version. Passing
// a Demand whose Curve is nil performs a deactivating update (invariant
// I3): the new row's curve is null, and the closed row's valid_until
// records the exact moment of deactivation.
func (db *DB) ReplaceDemand(ctx context.Context, d *auction.Demand, asOf auction.DateTime) error {
	tx, err := db.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", auction.ErrRepository, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE demand_history SET valid_until = $2 WHERE demand_id = $1 AND valid_until IS NULL`,
		d.Id, asOf,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to close demand history: %v", auction.ErrRepository, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: demand %s", auction.ErrNotFound, d.Id)
	}

	if err := insertDemandVersion(ctx, tx, d, asOf); err != nil {
		return err
	}
	return tx.Commit()
}

// DeactivateDemand is a convenience wrapper over ReplaceDemand that clears
// the active curve, implementing invariant I3 without requiring the caller
// to re-fetch and mutate a Demand by hand.
func (db *DB) DeactivateDemand(ctx context.Context, id auction.DemandId, asOf auction.DateTime) error {
	current, err := db.GetDemand(ctx, id)
	if err != nil {
		return err
	}
	current.Deactivate()
	return db.ReplaceDemand(ctx, current, asOf)
}

func insertDemandVersion(ctx context.Context, tx *sql.Tx, d *auction.Demand, validFrom auction.DateTime) error {
	var curveJSON []byte
	if d.Curve != nil {
		marshaled, err := d.Curve.MarshalJSON()
		if err != nil {
			return fmt.Errorf("%w: failed to marshal demand curve: %v", auction.ErrValidation, err)
		}
		curveJSON = marshaled
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO demand_history (demand_id, bidder_id, app_data, valid_from, valid_until, curve, created_at)
		 VALUES ($1, $2, $3, $4, NULL, $5, $6)`,
		d.Id, d.BidderId, nullableJSON(d.AppData), validFrom, curveJSON, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to insert demand history: %v", auction.ErrRepository, err)
	}
	return nil
}

// GetDemand returns the currently active version of a demand curve.
func (db *DB) GetDemand(ctx context.Context, id auction.DemandId) (*auction.Demand, error) {
	return db.getDemandWhere(ctx, db.conn, "demand_id = $1 AND valid_until IS NULL", id)
}

// GetDemandAt returns the version of a demand curve active at asOf.
func (db *DB) GetDemandAt(ctx context.Context, id auction.DemandId, asOf auction.DateTime) (*auction.Demand, error) {
	return db.getDemandWhere(ctx, db.conn,
		"demand_id = $1 AND valid_from <= $2 AND (valid_until IS NULL OR valid_until > $2)",
		id, asOf)
}

func (db *DB) getDemandWhere(ctx context.Context, q querier, where string, args ...any) (*auction.Demand, error) {
	query := fmt.Sprintf(`SELECT demand_id, bidder_id, app_data, curve, created_at FROM demand_history WHERE %s`, where)
	var d auction.Demand
	var appData, curveJSON []byte
	err := q.QueryRowContext(ctx, query, args...).Scan(&d.Id, &d.BidderId, &appData, &curveJSON, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: demand", auction.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get demand: %v", auction.ErrRepository, err)
	}
	if appData != nil {
		d.AppData = json.RawMessage(appData)
	}
	if curveJSON != nil {
		var dc curve.DemandCurve
		if err := json.Unmarshal(curveJSON, &dc); err != nil {
			return nil, fmt.Errorf("%w: corrupt demand curve: %v", auction.ErrRepository, err)
		}
		d.Curve = &dc
	}
	return &d, nil
}

// ActiveDemands returns every currently active demand curve for a bidder,
// including deactivated ones (curve == nil). Callers that need only
// tradeable demands (e.g. batch assembly) should filter on d.Curve != nil,
// or use ActiveDemandsForBatch which already does.
func (db *DB) ActiveDemands(ctx context.Context, bidderId auction.BidderId) ([]*auction.Demand, error) {
	return db.activeDemandsWhere(ctx, "bidder_id = $1 AND valid_until IS NULL", bidderId)
}

// ActiveDemandsForBatch returns every currently active, non-deactivated
// demand curve across all bidders: the input to a batch solve. A demand
// whose current version carries a null curve (invariant I3) contributes
// nothing to a solve and is excluded here, matching spec.md §4.4's
// active-set definition.
func (db *DB) ActiveDemandsForBatch(ctx context.Context) ([]*auction.Demand, error) {
	return db.activeDemandsWhere(ctx, "valid_until IS NULL AND curve IS NOT NULL")
}

func (db *DB) activeDemandsWhere(ctx context.Context, where string, args ...any) ([]*auction.Demand, error) {
	query := fmt.Sprintf(`SELECT demand_id FROM demand_history WHERE %s`, where)
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query active demands: %v", auction.ErrRepository, err)
	}
	var ids []auction.DemandId
	for rows.Next() {
		var id auction.DemandId
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: failed to scan demand id: %v", auction.ErrRepository, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*auction.Demand, 0, len(ids))
	for _, id := range ids {
		d, err := db.GetDemand(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// demandCurveVersion is one row of a demand's curve history.
type demandCurveVersion struct {
	ValidFrom  auction.DateTime
	ValidUntil *auction.DateTime
	Curve      *curve.DemandCurve
}

// GetDemandCurveHistory returns a page of id's curve history, newest first,
// truncated to limit with a continuation cursor (spec.md §4.4 "range
// history"), grounded on fts-sqlite's get_demand_curve_history.
func (db *DB) GetDemandCurveHistory(ctx context.Context, id auction.DemandId, q HistoryQuery, limit int) (HistoryPage[demandCurveVersion], error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT valid_from, valid_until, curve FROM demand_history
		 WHERE demand_id = $1
		   AND ($2::timestamptz IS NULL OR valid_from <= $2)
		   AND ($3::timestamptz IS NULL OR valid_until IS NULL OR valid_until > $3)
		 ORDER BY valid_from DESC
		 LIMIT $4`,
		id, nullableTime(q.Before), nullableTime(q.After), limit+1,
	)
	if err != nil {
		return HistoryPage[demandCurveVersion]{}, fmt.Errorf("%w: failed to query demand curve history: %v", auction.ErrRepository, err)
	}
	defer rows.Close()

	var out []demandCurveVersion
	for rows.Next() {
		var v demandCurveVersion
		var validUntil sql.NullTime
		var curveJSON []byte
		if err := rows.Scan(&v.ValidFrom, &validUntil, &curveJSON); err != nil {
			return HistoryPage[demandCurveVersion]{}, fmt.Errorf("%w: failed to scan demand curve history row: %v", auction.ErrRepository, err)
		}
		if validUntil.Valid {
			t := auction.NewDateTime(validUntil.Time)
			v.ValidUntil = &t
		}
		if curveJSON != nil {
			var dc curve.DemandCurve
			if err := json.Unmarshal(curveJSON, &dc); err != nil {
				return HistoryPage[demandCurveVersion]{}, fmt.Errorf("%w: corrupt demand curve: %v", auction.ErrRepository, err)
			}
			v.Curve = &dc
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return HistoryPage[demandCurveVersion]{}, err
	}

	return truncatePage(out, limit, q.After, func(v demandCurveVersion) auction.DateTime { return v.ValidFrom }), nil
}
