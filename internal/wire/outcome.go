package wire

import (
	"encoding/json"

	"github.com/flowtrade/engine/internal/auction"
	"github.com/flowtrade/engine/internal/qp"
)

// tradeDto is the wire shape of a single product or portfolio outcome.
type tradeDto struct {
	Trade float64 `json:"trade"`
	Price float64 `json:"price"`
}

// outcomeDto is the full wire document: per-bidder portfolio outcomes plus
// a top-level products map (spec.md §6: "Outcome JSON").
type outcomeDto struct {
	Bidders  map[string]map[string]tradeDto `json:"bidders"`
	Products map[string]tradeDto            `json:"products"`
}

// EncodeOutcome renders an AuctionOutcome as Outcome JSON.
func EncodeOutcome(outcome qp.AuctionOutcome) ([]byte, error) {
	dto := outcomeDto{
		Bidders:  make(map[string]map[string]tradeDto, len(outcome.Portfolios)),
		Products: make(map[string]tradeDto, len(outcome.Products)),
	}

	for bidderId, byPortfolio := range outcome.Portfolios {
		portfolios := make(map[string]tradeDto, len(byPortfolio))
		for portfolioId, po := range byPortfolio {
			portfolios[portfolioId.String()] = tradeDto{Trade: po.Trade, Price: po.Price}
		}
		dto.Bidders[bidderId.String()] = portfolios
	}

	for productId, po := range outcome.Products {
		dto.Products[productId.String()] = tradeDto{Trade: po.Trade, Price: po.Price}
	}

	return json.Marshal(dto)
}

// DecodeOutcome parses an Outcome JSON document, used by offline tooling
// that consumes a previously exported batch result.
func DecodeOutcome(data []byte) (qp.AuctionOutcome, error) {
	var dto outcomeDto
	if err := json.Unmarshal(data, &dto); err != nil {
		return qp.AuctionOutcome{}, err
	}

	outcome := qp.AuctionOutcome{
		Portfolios: make(map[auction.BidderId]map[auction.PortfolioId]qp.PortfolioOutcome, len(dto.Bidders)),
		Products:   make(map[auction.ProductId]qp.ProductOutcome, len(dto.Products)),
	}

	for bidderStr, byPortfolio := range dto.Bidders {
		bidderId, err := auction.ParseBidderId(bidderStr)
		if err != nil {
			return qp.AuctionOutcome{}, err
		}
		portfolios := make(map[auction.PortfolioId]qp.PortfolioOutcome, len(byPortfolio))
		for portfolioStr, t := range byPortfolio {
			portfolioId, err := auction.ParsePortfolioId(portfolioStr)
			if err != nil {
				return qp.AuctionOutcome{}, err
			}
			portfolios[portfolioId] = qp.PortfolioOutcome{Trade: t.Trade, Price: t.Price}
		}
		outcome.Portfolios[bidderId] = portfolios
	}

	for productStr, t := range dto.Products {
		productId, err := auction.ParseProductId(productStr)
		if err != nil {
			return qp.AuctionOutcome{}, err
		}
		outcome.Products[productId] = qp.ProductOutcome{Trade: t.Trade, Price: t.Price}
	}

	return outcome, nil
}
