// Package wire implements the Auction JSON and Outcome JSON exchange
// formats: the flat, bidder-keyed document shape solvers and exporters
// read and write, translated to and from the internal/auction domain
// types. Grounded on original_source/fts-solver/src/io.rs and
// fts-core/src/models/group.rs's Collection enum (Empty/OneOf/SumOf/MapOf),
// already implemented for groups as internal/auction.PortfolioGroup and
// ProductGroup's UnmarshalJSON.
package wire

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/flowtrade/engine/internal/auction"
	"github.com/flowtrade/engine/internal/curve"
)

// pointDto mirrors curve.Point for JSON purposes without importing curve's
// internal representation directly, keeping the wire schema decoupled from
// the domain type's field tags.
type pointDto struct {
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// demandCurveDto is a single demand curve entry in the wire format: an
// optional truncation domain, the portfolio group it's weighted over, and
// its defining points. Every wire curve is a PWL curve; ConstantCurve has
// no wire representation since it has no natural points list.
type demandCurveDto struct {
	Domain *[2]*float64        `json:"domain,omitempty"`
	Group  auction.PortfolioGroup `json:"group"`
	Points []pointDto          `json:"points"`
}

// submissionDto is one bidder's full set of portfolios and demand curves.
type submissionDto struct {
	Portfolios   map[string]auction.ProductGroup `json:"portfolios"`
	DemandCurves []demandCurveDto                `json:"demand_curves"`
}

// AuctionDto is the full wire document: bidder id (string) to submission.
type AuctionDto map[string]submissionDto

// DecodeAuction parses an Auction JSON document into per-bidder
// canonicalized submissions, ready for assembly into a QP problem.
func DecodeAuction(data []byte) (map[auction.BidderId]*auction.Submission, error) {
	var dto AuctionDto
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("wire: invalid auction document: %w", err)
	}

	out := make(map[auction.BidderId]*auction.Submission, len(dto))
	for bidderStr, sub := range dto {
		bidderId, err := auction.ParseBidderId(bidderStr)
		if err != nil {
			return nil, err
		}

		portfolios := make(map[auction.PortfolioId]auction.ProductGroup, len(sub.Portfolios))
		for pidStr, weights := range sub.Portfolios {
			pid, err := auction.ParsePortfolioId(pidStr)
			if err != nil {
				return nil, err
			}
			portfolios[pid] = weights
		}

		demands := make([]auction.DemandCurveInput, 0, len(sub.DemandCurves))
		for _, dc := range sub.DemandCurves {
			points := make([]curve.Point, len(dc.Points))
			for i, p := range dc.Points {
				points[i] = curve.Point{Quantity: p.Quantity, Price: p.Price}
			}
			pwl, err := curve.NewPwlCurve(points)
			if err != nil {
				return nil, fmt.Errorf("wire: invalid demand curve: %w", err)
			}
			dcurve := curve.NewPwl(pwl)

			min, max := dcurve.Domain()
			if dc.Domain != nil {
				if dc.Domain[0] != nil {
					min = *dc.Domain[0]
				} else {
					min = math.Inf(-1)
				}
				if dc.Domain[1] != nil {
					max = *dc.Domain[1]
				} else {
					max = math.Inf(1)
				}
			}

			d, err := auction.NewDemandCurveInput(auction.NewDemandId(), dc.Group, dcurve, min, max)
			if err != nil {
				return nil, err
			}
			demands = append(demands, *d)
		}

		submission, err := auction.NewSubmission(portfolios, demands)
		if err != nil {
			return nil, err
		}
		out[bidderId] = submission
	}
	return out, nil
}
