package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtrade/engine/internal/auction"
	"github.com/flowtrade/engine/internal/qp"
)

func TestBatchesRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb := setupTestDB(t)
	defer tdb.cleanup(t)
	ctx := context.Background()

	t.Run("CreateScheduledBatch then CompleteBatch persists outcome", func(t *testing.T) {
		tdb.truncateAll(t)
		productId := createTestProduct(t, tdb, ctx)
		bidderId := auction.NewBidderId()
		portfolioId := auction.NewPortfolioId()

		batchId := auction.NewBatchId()
		anchor := auction.Now()
		require.NoError(t, tdb.CreateScheduledBatch(ctx, batchId, anchor, auction.Now()))

		outcome := qp.AuctionOutcome{
			Portfolios: map[auction.BidderId]map[auction.PortfolioId]qp.PortfolioOutcome{
				bidderId: {portfolioId: {Price: 7.5, Trade: 0.5}},
			},
			Products: map[auction.ProductId]qp.ProductOutcome{
				productId: {Price: 7.5, Trade: 0.5},
			},
		}
		require.NoError(t, tdb.CompleteBatch(ctx, batchId, auction.Now(), outcome))

		got, err := tdb.GetBatch(ctx, batchId)
		require.NoError(t, err)
		assert.Equal(t, BatchCleared, got.Status)
		assert.NotNil(t, got.ClearedAt)
	})

	t.Run("FailBatch marks a scheduled batch failed", func(t *testing.T) {
		tdb.truncateAll(t)

		batchId := auction.NewBatchId()
		require.NoError(t, tdb.CreateScheduledBatch(ctx, batchId, auction.Now(), auction.Now()))
		require.NoError(t, tdb.FailBatch(ctx, batchId))

		got, err := tdb.GetBatch(ctx, batchId)
		require.NoError(t, err)
		assert.Equal(t, BatchFailed, got.Status)
		assert.Nil(t, got.ClearedAt)
	})

	t.Run("CompleteBatch's valid_until is the earliest future expiry", func(t *testing.T) {
		tdb.truncateAll(t)
		productId := createTestProduct(t, tdb, ctx)
		bidderId := auction.NewBidderId()

		portfolio := &auction.Portfolio{Id: auction.NewPortfolioId(), BidderId: bidderId, Products: auction.ProductGroup{productId: 1.0}, CreatedAt: auction.Now()}
		require.NoError(t, tdb.CreatePortfolio(ctx, portfolio))

		clearedAt := auction.Now()

		// Close the portfolio's current version shortly after the batch
		// clears, so valid_until should reflect that expiry.
		replacement := &auction.Portfolio{Id: portfolio.Id, BidderId: bidderId, Products: auction.ProductGroup{productId: 2.0}, CreatedAt: auction.Now()}
		expiry := clearedAt.Add(time.Minute)
		require.NoError(t, tdb.ReplacePortfolio(ctx, replacement, expiry))

		batchId := auction.NewBatchId()
		require.NoError(t, tdb.CreateScheduledBatch(ctx, batchId, clearedAt, clearedAt))
		require.NoError(t, tdb.CompleteBatch(ctx, batchId, clearedAt, qp.AuctionOutcome{
			Portfolios: map[auction.BidderId]map[auction.PortfolioId]qp.PortfolioOutcome{},
			Products:   map[auction.ProductId]qp.ProductOutcome{},
		}))

		got, err := tdb.GetBatch(ctx, batchId)
		require.NoError(t, err)
		require.NotNil(t, got.ValidUntil)
		assert.WithinDuration(t, expiry.Time, got.ValidUntil.Time, time.Second)
	})

	t.Run("GetProductOutcomeHistory and GetPortfolioOutcomeHistory page newest first", func(t *testing.T) {
		tdb.truncateAll(t)
		productId := createTestProduct(t, tdb, ctx)
		bidderId := auction.NewBidderId()
		portfolioId := auction.NewPortfolioId()

		for i := 0; i < 3; i++ {
			batchId := auction.NewBatchId()
			require.NoError(t, tdb.CreateScheduledBatch(ctx, batchId, auction.Now(), auction.Now()))
			outcome := qp.AuctionOutcome{
				Portfolios: map[auction.BidderId]map[auction.PortfolioId]qp.PortfolioOutcome{
					bidderId: {portfolioId: {Price: float64(i), Trade: 0.1}},
				},
				Products: map[auction.ProductId]qp.ProductOutcome{
					productId: {Price: float64(i), Trade: 0.1},
				},
			}
			require.NoError(t, tdb.CompleteBatch(ctx, batchId, auction.Now(), outcome))
			time.Sleep(time.Millisecond)
		}

		productPage, err := tdb.GetProductOutcomeHistory(ctx, productId, HistoryQuery{}, 2)
		require.NoError(t, err)
		assert.Len(t, productPage.Results, 2)
		require.NotNil(t, productPage.More)

		productNext, err := tdb.GetProductOutcomeHistory(ctx, productId, *productPage.More, 2)
		require.NoError(t, err)
		assert.Len(t, productNext.Results, 1)
		assert.Nil(t, productNext.More)

		portfolioPage, err := tdb.GetPortfolioOutcomeHistory(ctx, portfolioId, HistoryQuery{}, 10)
		require.NoError(t, err)
		assert.Len(t, portfolioPage.Results, 3)
		assert.Nil(t, portfolioPage.More)
	})
}
