package qp

import (
	"testing"

	"github.com/flowtrade/engine/internal/auction"
	"github.com/flowtrade/engine/internal/curve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemble_EmptyAuctionHasNoColumns(t *testing.T) {
	problem, index, err := Assemble(map[auction.BidderId]*auction.Submission{})
	require.NoError(t, err)
	assert.Equal(t, 0, problem.P.Cols)
	assert.Empty(t, index.Products)
}

func TestAssemble_SingleBidderSinglePortfolio(t *testing.T) {
	bidder := auction.NewBidderId()
	portfolio := auction.NewPortfolioId()
	product := auction.NewProductId()

	pwl, err := curve.NewPwlCurve([]curve.Point{{Quantity: -1, Price: 2}, {Quantity: 1, Price: 0}})
	require.NoError(t, err)
	segments, err := pwl.Disaggregate(-1, 1)
	require.NoError(t, err)

	sub := &auction.Submission{
		Portfolios: map[auction.PortfolioId]auction.ProductGroup{
			portfolio: {product: 1.0},
		},
		Demands: []auction.CanonicalDemand{
			{Group: auction.PortfolioGroup{portfolio: 1.0}, Segments: segments},
		},
	}

	problem, index, err := Assemble(map[auction.BidderId]*auction.Submission{bidder: sub})
	require.NoError(t, err)

	// One column for the portfolio, one per segment.
	assert.Equal(t, 1+len(segments), problem.P.Cols)
	assert.Len(t, index.Products, 1)
	assert.Len(t, index.Portfolios, 1)
	assert.Len(t, index.Segments, len(segments))

	// nzero rows = 1 product + 1 demand curve group.
	assert.Equal(t, 2, problem.NumZeroRows)
}

func TestAssemble_DeterministicOrdering(t *testing.T) {
	bidder := auction.NewBidderId()
	p1 := auction.NewPortfolioId()
	p2 := auction.NewPortfolioId()
	product := auction.NewProductId()

	sub := &auction.Submission{
		Portfolios: map[auction.PortfolioId]auction.ProductGroup{
			p1: {product: 1.0},
			p2: {product: -1.0},
		},
		Demands: nil,
	}

	problem1, index1, err := Assemble(map[auction.BidderId]*auction.Submission{bidder: sub})
	require.NoError(t, err)
	problem2, index2, err := Assemble(map[auction.BidderId]*auction.Submission{bidder: sub})
	require.NoError(t, err)

	assert.Equal(t, index1.Portfolios, index2.Portfolios)
	assert.Equal(t, problem1.A.RowVal, problem2.A.RowVal)
}
