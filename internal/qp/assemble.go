package qp

import (
	"math"
	"sort"

	"github.com/flowtrade/engine/internal/auction"
)

// PortfolioColumn describes a decision-variable column standing for one
// bidder's portfolio trade.
type PortfolioColumn struct {
	BidderId    auction.BidderId
	PortfolioId auction.PortfolioId
}

// SegmentColumn describes a decision-variable column standing for the
// traded volume along one segment of one demand curve.
type SegmentColumn struct {
	BidderId    auction.BidderId
	DemandIndex int
	Segment     int
}

// ColumnIndex records the meaning of every column and row in an assembled
// Problem, so a Solver's raw primal/dual vectors can be translated back
// into an AuctionOutcome.
type ColumnIndex struct {
	// Products is row order: Products[i] is the product whose clearing
	// price is the dual of row i.
	Products []auction.ProductId

	// Portfolios is column order for the portfolio-trade variables.
	Portfolios []PortfolioColumn

	// Segments is column order (after Portfolios) for the segment-trade
	// variables.
	Segments []SegmentColumn

	// groupRow maps (bidder, demand index) to its equality-constraint row.
	groupRow map[auction.BidderId]map[int]int
}

// Assemble builds the market-clearing QP from a bidder-indexed collection
// of canonicalized submissions (spec.md §4.3), following the original's
// column order (portfolio variables, then segment variables) and row order
// (one row per product, then one row per demand curve group, then one
// nonnegative row per finite segment bound).
func Assemble(submissions map[auction.BidderId]*auction.Submission) (*Problem, *ColumnIndex, error) {
	bidders := make([]auction.BidderId, 0, len(submissions))
	for b := range submissions {
		bidders = append(bidders, b)
	}
	sort.Slice(bidders, func(i, j int) bool { return bidders[i].Less(bidders[j]) })

	productSet := map[auction.ProductId]struct{}{}
	for _, bidder := range bidders {
		for _, weights := range submissions[bidder].Portfolios {
			for product := range weights {
				productSet[product] = struct{}{}
			}
		}
	}
	products := make([]auction.ProductId, 0, len(productSet))
	for p := range productSet {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Less(products[j]) })

	if len(products) == 0 {
		return &Problem{}, &ColumnIndex{}, nil
	}

	productRow := make(map[auction.ProductId]int, len(products))
	for i, p := range products {
		productRow[p] = i
	}

	ncosts := 0
	for _, bidder := range bidders {
		ncosts += len(submissions[bidder].Demands)
	}
	nzero := len(products) + ncosts

	var p, q []float64
	var aNzVal []float64
	var aRowVal []int
	var aColPtr []int
	b := make([]float64, nzero)

	index := &ColumnIndex{Products: products, groupRow: map[auction.BidderId]map[int]int{}}

	groupOffset := len(products)
	for _, bidder := range bidders {
		sub := submissions[bidder]
		index.groupRow[bidder] = map[int]int{}
		for i := range sub.Demands {
			index.groupRow[bidder][i] = groupOffset + i
		}

		portfolioIds := auction.SortedPortfolioIds(sub.Portfolios)
		for _, pid := range portfolioIds {
			weights := sub.Portfolios[pid]

			p = append(p, 0.0)
			q = append(q, 0.0)
			aColPtr = append(aColPtr, len(aNzVal))

			for _, product := range auction.SortedProductIds(weights) {
				aNzVal = append(aNzVal, weights[product])
				aRowVal = append(aRowVal, productRow[product])
			}

			for demandIdx, demand := range sub.Demands {
				if weight, ok := demand.Group[pid]; ok {
					aNzVal = append(aNzVal, weight)
					aRowVal = append(aRowVal, index.groupRow[bidder][demandIdx])
				}
			}

			index.Portfolios = append(index.Portfolios, PortfolioColumn{BidderId: bidder, PortfolioId: pid})
		}

		groupOffset += len(sub.Demands)
	}

	for _, bidder := range bidders {
		sub := submissions[bidder]
		for demandIdx, demand := range sub.Demands {
			groupRow := index.groupRow[bidder][demandIdx]
			for segIdx, seg := range demand.Segments {
				m, pzero := seg.SlopeIntercept()

				p = append(p, -m)
				q = append(q, -pzero)
				aColPtr = append(aColPtr, len(aNzVal))

				aNzVal = append(aNzVal, -1.0)
				aRowVal = append(aRowVal, groupRow)

				if !math.IsInf(seg.Q0, 0) {
					aNzVal = append(aNzVal, -1.0)
					aRowVal = append(aRowVal, len(b))
					b = append(b, -seg.Q0)
				}
				if !math.IsInf(seg.Q1, 0) {
					aNzVal = append(aNzVal, 1.0)
					aRowVal = append(aRowVal, len(b))
					b = append(b, seg.Q1)
				}

				index.Segments = append(index.Segments, SegmentColumn{BidderId: bidder, DemandIndex: demandIdx, Segment: segIdx})
			}
		}
	}

	aColPtr = append(aColPtr, len(aNzVal))

	problem := &Problem{
		P:           NewDiagonalCsc(p),
		Q:           q,
		A:           CscMatrix{Rows: len(b), Cols: len(p), ColPtr: aColPtr, RowVal: aRowVal, NzVal: aNzVal},
		B:           b,
		NumZeroRows: nzero,
	}
	return problem, index, nil
}

