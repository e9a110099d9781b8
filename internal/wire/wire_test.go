package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtrade/engine/internal/auction"
	"github.com/flowtrade/engine/internal/qp"
)

func TestDecodeAuction_SingleBuyerSingleSeller(t *testing.T) {
	buyer := auction.NewBidderId()
	seller := auction.NewBidderId()
	product := auction.NewProductId()
	buyerPortfolio := auction.NewPortfolioId()
	sellerPortfolio := auction.NewPortfolioId()

	doc := `{
		"` + buyer.String() + `": {
			"portfolios": { "` + buyerPortfolio.String() + `": "` + product.String() + `" },
			"demand_curves": [
				{ "group": "` + buyerPortfolio.String() + `", "points": [{"quantity": 0, "price": 10}, {"quantity": 1, "price": 5}] }
			]
		},
		"` + seller.String() + `": {
			"portfolios": { "` + sellerPortfolio.String() + `": "` + product.String() + `" },
			"demand_curves": [
				{ "group": "` + sellerPortfolio.String() + `", "points": [{"quantity": -1, "price": 7.5}, {"quantity": 0, "price": 7.5}] }
			]
		}
	}`

	submissions, err := DecodeAuction([]byte(doc))
	require.NoError(t, err)
	require.Len(t, submissions, 2)

	buyerSub := submissions[buyer]
	require.NotNil(t, buyerSub)
	assert.Contains(t, buyerSub.Portfolios, buyerPortfolio)
	require.Len(t, buyerSub.Demands, 1)
}

func TestDecodeAuction_ArrayGroupShorthand(t *testing.T) {
	bidder := auction.NewBidderId()
	p1 := auction.NewPortfolioId()
	p2 := auction.NewPortfolioId()
	product := auction.NewProductId()

	doc := `{
		"` + bidder.String() + `": {
			"portfolios": {
				"` + p1.String() + `": "` + product.String() + `",
				"` + p2.String() + `": "` + product.String() + `"
			},
			"demand_curves": [
				{ "group": ["` + p1.String() + `", "` + p2.String() + `"], "points": [{"quantity": -1, "price": 1}, {"quantity": 1, "price": -1}] }
			]
		}
	}`

	submissions, err := DecodeAuction([]byte(doc))
	require.NoError(t, err)
	sub := submissions[bidder]
	require.Len(t, sub.Demands, 1)
	assert.Equal(t, 1.0, sub.Demands[0].Group[p1])
	assert.Equal(t, 1.0, sub.Demands[0].Group[p2])
}

func TestDecodeAuction_RejectsInvalidBidderId(t *testing.T) {
	_, err := DecodeAuction([]byte(`{"not-a-uuid": {"portfolios": {}, "demand_curves": []}}`))
	assert.Error(t, err)
}

func TestEncodeDecodeOutcome_RoundTrip(t *testing.T) {
	bidder := auction.NewBidderId()
	portfolio := auction.NewPortfolioId()
	product := auction.NewProductId()

	outcome := qp.AuctionOutcome{
		Portfolios: map[auction.BidderId]map[auction.PortfolioId]qp.PortfolioOutcome{
			bidder: {portfolio: {Price: 7.5, Trade: 0.5}},
		},
		Products: map[auction.ProductId]qp.ProductOutcome{
			product: {Price: 7.5, Trade: 0.5},
		},
	}

	data, err := EncodeOutcome(outcome)
	require.NoError(t, err)

	decoded, err := DecodeOutcome(data)
	require.NoError(t, err)

	assert.Equal(t, outcome.Portfolios[bidder][portfolio], decoded.Portfolios[bidder][portfolio])
	assert.Equal(t, outcome.Products[product], decoded.Products[product])
}
