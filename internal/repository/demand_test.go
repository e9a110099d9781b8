package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtrade/engine/internal/auction"
	"github.com/flowtrade/engine/internal/curve"
)

func newTestDemandCurve(t *testing.T) curve.DemandCurve {
	t.Helper()
	pwl, err := curve.NewPwlCurve([]curve.Point{
		{Quantity: -1, Price: 10},
		{Quantity: 1, Price: 5},
	})
	require.NoError(t, err)
	return curve.NewPwl(pwl)
}

func TestDemandsRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb := setupTestDB(t)
	defer tdb.cleanup(t)
	ctx := context.Background()

	t.Run("CreateDemand and GetDemand round trip", func(t *testing.T) {
		tdb.truncateAll(t)
		bidderId := auction.NewBidderId()
		dcurve := newTestDemandCurve(t)

		demand := auction.NewDemand(bidderId, json.RawMessage(`{"desk":"east"}`), &dcurve)
		require.NoError(t, tdb.CreateDemand(ctx, demand))

		got, err := tdb.GetDemand(ctx, demand.Id)
		require.NoError(t, err)
		assert.Equal(t, bidderId, got.BidderId)
		require.NotNil(t, got.Curve)
		assert.JSONEq(t, `{"desk":"east"}`, string(got.AppData))
	})

	t.Run("CreateDemand accepts an already-inactive demand", func(t *testing.T) {
		tdb.truncateAll(t)

		demand := auction.NewDemand(auction.NewBidderId(), nil, nil)
		require.NoError(t, tdb.CreateDemand(ctx, demand))

		got, err := tdb.GetDemand(ctx, demand.Id)
		require.NoError(t, err)
		assert.Nil(t, got.Curve)
	})

	t.Run("ReplaceDemand keeps history exclusive", func(t *testing.T) {
		tdb.truncateAll(t)
		bidderId := auction.NewBidderId()
		dcurve := newTestDemandCurve(t)

		original := auction.NewDemand(bidderId, nil, &dcurve)
		require.NoError(t, tdb.CreateDemand(ctx, original))

		replacement := auction.NewDemand(bidderId, nil, &dcurve)
		replacement.Id = original.Id
		require.NoError(t, tdb.ReplaceDemand(ctx, replacement, auction.Now()))

		var activeCount int
		err := tdb.conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM demand_history WHERE demand_id = $1 AND valid_until IS NULL`,
			original.Id,
		).Scan(&activeCount)
		require.NoError(t, err)
		assert.Equal(t, 1, activeCount)
	})

	t.Run("DeactivateDemand clears the active curve (invariant I3)", func(t *testing.T) {
		tdb.truncateAll(t)
		bidderId := auction.NewBidderId()
		dcurve := newTestDemandCurve(t)

		demand := auction.NewDemand(bidderId, nil, &dcurve)
		require.NoError(t, tdb.CreateDemand(ctx, demand))

		beforeDeactivate := auction.Now()
		time.Sleep(5 * time.Millisecond)
		asOf := auction.Now()
		require.NoError(t, tdb.DeactivateDemand(ctx, demand.Id, asOf))

		got, err := tdb.GetDemand(ctx, demand.Id)
		require.NoError(t, err)
		assert.Nil(t, got.Curve)

		// A point-in-time read before the deactivation still sees the curve.
		atBefore, err := tdb.GetDemandAt(ctx, demand.Id, beforeDeactivate)
		require.NoError(t, err)
		assert.NotNil(t, atBefore.Curve)
	})

	t.Run("ActiveDemandsForBatch excludes deactivated demands", func(t *testing.T) {
		tdb.truncateAll(t)
		dcurve := newTestDemandCurve(t)

		tradeable := auction.NewDemand(auction.NewBidderId(), nil, &dcurve)
		require.NoError(t, tdb.CreateDemand(ctx, tradeable))

		inactive := auction.NewDemand(auction.NewBidderId(), nil, &dcurve)
		require.NoError(t, tdb.CreateDemand(ctx, inactive))
		require.NoError(t, tdb.DeactivateDemand(ctx, inactive.Id, auction.Now()))

		all, err := tdb.ActiveDemandsForBatch(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, tradeable.Id, all[0].Id)
	})

	t.Run("GetDemandCurveHistory pages newest first with a continuation cursor", func(t *testing.T) {
		tdb.truncateAll(t)
		bidderId := auction.NewBidderId()
		dcurve := newTestDemandCurve(t)

		demand := auction.NewDemand(bidderId, nil, &dcurve)
		require.NoError(t, tdb.CreateDemand(ctx, demand))
		for i := 0; i < 3; i++ {
			time.Sleep(time.Millisecond)
			replacement := auction.NewDemand(bidderId, nil, &dcurve)
			replacement.Id = demand.Id
			require.NoError(t, tdb.ReplaceDemand(ctx, replacement, auction.Now()))
		}

		page, err := tdb.GetDemandCurveHistory(ctx, demand.Id, HistoryQuery{}, 2)
		require.NoError(t, err)
		assert.Len(t, page.Results, 2)
		require.NotNil(t, page.More)

		next, err := tdb.GetDemandCurveHistory(ctx, demand.Id, *page.More, 2)
		require.NoError(t, err)
		assert.Len(t, next.Results, 2)
		assert.Nil(t, next.More)
	})
}
