package auction

import (
	"encoding/json"
	"fmt"
)

// PortfolioGroup is a sparse weighting of portfolios, used to define a demand
// curve's group (spec.md §3: "a demand curve applies to a linear combination
// of portfolios"). The wire format accepts three shorthands (spec.md §6,
// grounded on the original's Collection enum): a bare id (weight 1), an
// array of ids (each weight 1, summed on repeats), or an object mapping id
// to weight.
type PortfolioGroup map[PortfolioId]float64

// ProductGroup is a sparse weighting of products, used to define a
// portfolio's linear combination of products (its product basis).
type ProductGroup map[ProductId]float64

// DemandGroup is a sparse weighting of demands, used to define a
// portfolio's demand group: the linear combination of demand curves the
// portfolio is exposed to (spec.md §3's `demand_group`, owned by Portfolio
// rather than by Demand).
type DemandGroup map[DemandId]float64

func (g *PortfolioGroup) UnmarshalJSON(b []byte) error {
	m, err := unmarshalGroup(b, func(s string) (PortfolioId, error) { return ParsePortfolioId(s) })
	if err != nil {
		return err
	}
	*g = m
	return nil
}

func (g *DemandGroup) UnmarshalJSON(b []byte) error {
	m, err := unmarshalGroup(b, func(s string) (DemandId, error) { return ParseDemandId(s) })
	if err != nil {
		return err
	}
	*g = m
	return nil
}

func (g *ProductGroup) UnmarshalJSON(b []byte) error {
	m, err := unmarshalGroup(b, func(s string) (ProductId, error) { return ParseProductId(s) })
	if err != nil {
		return err
	}
	*g = m
	return nil
}

// unmarshalGroup implements the three-shorthand Collection<K> decoding:
// null -> empty, string -> {id: 1}, array -> each id gets weight 1 (summed
// on repeats), object -> id:weight pairs as given.
func unmarshalGroup[K comparable](b []byte, parse func(string) (K, error)) (map[K]float64, error) {
	out := map[K]float64{}

	if string(b) == "null" {
		return out, nil
	}

	var asString string
	if err := json.Unmarshal(b, &asString); err == nil {
		id, err := parse(asString)
		if err != nil {
			return nil, fmt.Errorf("auction: invalid group entry %q: %w", asString, err)
		}
		out[id] = 1.0
		return out, nil
	}

	var asArray []string
	if err := json.Unmarshal(b, &asArray); err == nil {
		for _, s := range asArray {
			id, err := parse(s)
			if err != nil {
				return nil, fmt.Errorf("auction: invalid group entry %q: %w", s, err)
			}
			out[id] += 1.0
		}
		return out, nil
	}

	var asMap map[string]float64
	if err := json.Unmarshal(b, &asMap); err == nil {
		for s, weight := range asMap {
			id, err := parse(s)
			if err != nil {
				return nil, fmt.Errorf("auction: invalid group entry %q: %w", s, err)
			}
			out[id] += weight
		}
		return out, nil
	}

	return nil, fmt.Errorf("auction: group must be null, a string, an array of strings, or a string-keyed object")
}

// sparsify aggregates repeated keys (already done by the map itself) and
// drops zero-weight entries, returning a fresh map with no side effects on
// the input.
func sparsify[K comparable](m map[K]float64) map[K]float64 {
	out := make(map[K]float64, len(m))
	for k, v := range m {
		if v != 0.0 {
			out[k] = v
		}
	}
	return out
}
