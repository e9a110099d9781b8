package repository

import (
	"context"
	"database/sql"

	"github.com/flowtrade/engine/internal/auction"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting the read helpers
// below run either against the shared read pool or inside an in-flight
// write transaction (needed by the partial-update paths, which must read
// the current active version before replacing it).
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// HistoryQuery bounds a range-history query to a window of valid_from
// timestamps (spec.md §4.4 "range history"): Before excludes rows that
// became active after it (a row that became active exactly at Before is
// included), After excludes rows that stopped being
// active before it. Either may be nil for an unbounded side.
type HistoryQuery struct {
	Before *auction.DateTime
	After  *auction.DateTime
}

// HistoryPage is one page of a range-history query, ordered descending by
// valid_from. More is non-nil when older rows remain; re-querying with
// Before = More.Before and the same After walks the rest of the history.
type HistoryPage[T any] struct {
	Results []T
	More    *HistoryQuery
}

// nullableTime converts an optional DateTime bound into a driver value: nil
// binds SQL NULL, which the `$n::timestamptz IS NULL OR ...` queries below
// treat as "unbounded on this side".
func nullableTime(t *auction.DateTime) any {
	if t == nil {
		return nil
	}
	return t.Time
}

// truncatePage applies the limit+1 continuation-cursor trick (spec.md §4.4):
// rows must already be sorted descending by valid_from and number at most
// limit+1. If an extra row is present, it is dropped from the page and
// used to build the continuation cursor.
func truncatePage[T any](rows []T, limit int, after *auction.DateTime, validFrom func(T) auction.DateTime) HistoryPage[T] {
	if len(rows) <= limit {
		return HistoryPage[T]{Results: rows}
	}
	extra := rows[limit]
	before := validFrom(extra)
	return HistoryPage[T]{
		Results: rows[:limit],
		More:    &HistoryQuery{Before: &before, After: after},
	}
}
