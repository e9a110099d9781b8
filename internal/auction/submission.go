package auction

import (
	"errors"
	"fmt"
	"sort"

	"github.com/flowtrade/engine/internal/curve"
)

// CanonicalDemand is a demand curve after canonicalization: a pruned,
// non-empty portfolio group and the curve's disaggregated segments. A
// demand curve with zero segments forces its group to trade exactly zero
// (the zero-forcing constraint, spec.md §4.2 / invariant P5).
type CanonicalDemand struct {
	Group    PortfolioGroup
	Segments []curve.Segment
}

// DemandCurveInput is one demand curve as fed into batch assembly: the
// portfolio group it applies to (derived by inverting every candidate
// portfolio's own Demands field, since Demand itself carries no group), the
// curve, and an optional truncation domain. Min/Max need not equal the
// curve's own validated domain: they let a caller reveal or limit only
// part of a curve for a particular batch, a concept distinct from (and
// narrower than) the curve's own guaranteed straddle-zero domain.
type DemandCurveInput struct {
	DemandId DemandId
	Group    PortfolioGroup
	Curve    curve.DemandCurve
	Min, Max float64
}

// NewDemandCurveInput validates that [min, max] straddles zero and lies
// within the curve's own domain before constructing a DemandCurveInput.
func NewDemandCurveInput(demandId DemandId, group PortfolioGroup, dc curve.DemandCurve, min, max float64) (*DemandCurveInput, error) {
	if !(min <= 0 && 0 <= max) {
		return nil, fmt.Errorf("%w: truncation domain [%v, %v] must straddle zero", ErrInvalidDomain, min, max)
	}
	cmin, cmax := dc.Domain()
	if min < cmin || max > cmax {
		return nil, fmt.Errorf("%w: truncation domain [%v, %v] exceeds curve domain [%v, %v]", ErrInvalidDomain, min, max, cmin, cmax)
	}
	return &DemandCurveInput{DemandId: demandId, Group: group, Curve: dc, Min: min, Max: max}, nil
}

// Submission is the canonicalized, solver-ready view of a batch's
// portfolios and demand curves (spec.md §4.2), grounded on the original's
// Submission::new constructor.
type Submission struct {
	// Portfolios maps each portfolio to its pruned, sparse product weights.
	Portfolios map[PortfolioId]ProductGroup

	// Demands holds one CanonicalDemand per surviving curve, plus one
	// synthetic zero-forcing demand (empty Segments) per portfolio that no
	// real demand curve referenced.
	Demands []CanonicalDemand
}

// NewSubmission canonicalizes a batch's raw portfolios and demands:
//   - portfolio product weights are sparsified (zero weights dropped);
//   - each demand's group is pruned to only the portfolios that exist and
//     have at least one product, dropping zero-weight entries; a demand
//     whose group becomes empty is discarded entirely;
//   - every portfolio not referenced by any surviving demand is forced to
//     zero via a synthetic unit-weight demand with no segments.
func NewSubmission(portfolios map[PortfolioId]ProductGroup, demands []DemandCurveInput) (*Submission, error) {
	canonPortfolios := make(map[PortfolioId]ProductGroup, len(portfolios))
	for id, weights := range portfolios {
		canonPortfolios[id] = sparsify(weights)
	}

	unused := make(map[PortfolioId]struct{}, len(canonPortfolios))
	for id := range canonPortfolios {
		unused[id] = struct{}{}
	}

	canonDemands := make([]CanonicalDemand, 0, len(demands))
	for _, d := range demands {
		group := make(PortfolioGroup, len(d.Group))
		for id, weight := range d.Group {
			if weight == 0.0 {
				continue
			}
			portfolio, exists := canonPortfolios[id]
			if !exists || len(portfolio) == 0 {
				continue
			}
			group[id] += weight
			delete(unused, id)
		}
		if len(group) == 0 {
			continue
		}

		segments, err := d.Curve.Disaggregate(d.Min, d.Max)
		if err != nil {
			var nme *curve.NonMonotoneError
			if errors.As(err, &nme) {
				return nil, fmt.Errorf("%w: invalid demand curve for demand %s: %v", ErrValidation, d.DemandId, nme)
			}
			return nil, fmt.Errorf("%w: demand %s: %v", ErrInvalidDomain, d.DemandId, err)
		}

		canonDemands = append(canonDemands, CanonicalDemand{Group: group, Segments: segments})
	}

	// Force every unreferenced portfolio to zero. Sorted so that matrix
	// assembly gets a deterministic row order independent of map iteration.
	unusedIds := make([]PortfolioId, 0, len(unused))
	for id := range unused {
		unusedIds = append(unusedIds, id)
	}
	sort.Slice(unusedIds, func(i, j int) bool { return unusedIds[i].Less(unusedIds[j]) })
	for _, id := range unusedIds {
		canonDemands = append(canonDemands, CanonicalDemand{
			Group:    PortfolioGroup{id: 1.0},
			Segments: nil,
		})
	}

	return &Submission{Portfolios: canonPortfolios, Demands: canonDemands}, nil
}

// SortedProductIds returns the portfolio's product ids in ascending order,
// giving the QP assembler a deterministic column order.
func SortedProductIds(weights ProductGroup) []ProductId {
	ids := make([]ProductId, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// SortedPortfolioIds returns ids in ascending order.
func SortedPortfolioIds[M ~map[PortfolioId]float64](m M) []PortfolioId {
	ids := make([]PortfolioId, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}
