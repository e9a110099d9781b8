package qp

import "github.com/flowtrade/engine/internal/auction"

// ProductOutcome reports a product's clearing price and total one-sided
// traded volume.
type ProductOutcome struct {
	Price float64
	Trade float64
}

// PortfolioOutcome reports a portfolio's effective clearing price and
// signed traded quantity (positive buy, negative sell).
type PortfolioOutcome struct {
	Price float64
	Trade float64
}

// AuctionOutcome is the fully translated result of a batch solve.
type AuctionOutcome struct {
	Portfolios map[auction.BidderId]map[auction.PortfolioId]PortfolioOutcome
	Products   map[auction.ProductId]ProductOutcome
}

// RawSolution is a Solver's untranslated primal/dual output: X has one
// entry per problem column (portfolio columns, then segment columns), Z
// has one entry per zero-cone row whose dual is a product's clearing price
// (i.e. Z[0:len(Products)]).
type RawSolution struct {
	X []float64
	Z []float64
}

// ExtractOutcome translates a Solver's raw solution into an AuctionOutcome,
// following the original's post-processing: each portfolio's trade is read
// directly off X, its price is the weighted sum of its products' clearing
// prices, and each product's reported trade is the sum of the absolute
// weighted trade across every portfolio that references it, halved because
// every trade is counted once per side. weights gives each portfolio's
// product weights, keyed the same way as auction.Submission.Portfolios,
// merged across all bidders.
func ExtractOutcome(index *ColumnIndex, sub RawSolution, weights map[auction.PortfolioId]auction.ProductGroup) AuctionOutcome {
	products := make(map[auction.ProductId]ProductOutcome, len(index.Products))
	for i, id := range index.Products {
		products[id] = ProductOutcome{Price: sub.Z[i]}
	}

	portfolios := make(map[auction.BidderId]map[auction.PortfolioId]PortfolioOutcome)

	for i, col := range index.Portfolios {
		trade := sub.X[i]

		byBidder, ok := portfolios[col.BidderId]
		if !ok {
			byBidder = make(map[auction.PortfolioId]PortfolioOutcome)
			portfolios[col.BidderId] = byBidder
		}

		var price float64
		for productId, weight := range weights[col.PortfolioId] {
			po := products[productId]
			po.Trade += abs(weight * trade)
			products[productId] = po
			price += weight * po.Price
		}

		byBidder[col.PortfolioId] = PortfolioOutcome{Price: price, Trade: trade}
	}

	// Every product's traded volume was accrued once per referencing
	// portfolio (i.e. once per side of the trade); halve to report the
	// one-sided volume.
	for id, po := range products {
		po.Trade *= 0.5
		products[id] = po
	}

	return AuctionOutcome{Portfolios: portfolios, Products: products}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
