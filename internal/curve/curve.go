package curve

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Validation errors for PWL and constant curves (spec.md §4.1).
var (
	ErrEmpty        = errors.New("curve: points list is empty")
	ErrNaN          = errors.New("curve: coordinate is NaN")
	ErrInfinity     = errors.New("curve: coordinate is infinite")
	ErrNonMonotone  = errors.New("curve: points are not weakly monotone decreasing")
	ErrZeroTrade    = errors.New("curve: domain does not contain zero")
	ErrInfinitePrice = errors.New("curve: price must be finite")
)

// PwlCurve is a validated, non-empty, weakly-monotone-decreasing sequence of
// points whose rate-domain contains 0.
type PwlCurve struct {
	points []Point
}

// NewPwlCurve validates points per spec.md §4.1 and, on success, returns an
// immutable PwlCurve. The slice is copied; the caller's slice may be reused.
func NewPwlCurve(points []Point) (*PwlCurve, error) {
	if len(points) == 0 {
		return nil, ErrEmpty
	}

	cp := make([]Point, len(points))
	copy(cp, points)

	for i, p := range cp {
		if math.IsNaN(p.Quantity) || math.IsNaN(p.Price) {
			return nil, ErrNaN
		}
		if math.IsInf(p.Quantity, 0) || math.IsInf(p.Price, 0) {
			return nil, ErrInfinity
		}
		if i > 0 && !cp[i-1].LessOrEqual(p) {
			return nil, ErrNonMonotone
		}
	}

	min, max := cp[0].Quantity, cp[len(cp)-1].Quantity
	if !(min <= 0 && 0 <= max) {
		return nil, ErrZeroTrade
	}

	return &PwlCurve{points: cp}, nil
}

// NewPwlCurveUnchecked constructs a PwlCurve without validation. Callers
// must only use this when the points were already validated elsewhere (e.g.
// deserializing a curve previously persisted by this same service).
func NewPwlCurveUnchecked(points []Point) *PwlCurve {
	cp := make([]Point, len(points))
	copy(cp, points)
	return &PwlCurve{points: cp}
}

// Points returns a copy of the curve's defining points.
func (c *PwlCurve) Points() []Point {
	cp := make([]Point, len(c.points))
	copy(cp, c.points)
	return cp
}

// Domain returns the curve's rate-domain, [first.Quantity, last.Quantity].
func (c *PwlCurve) Domain() (min, max float64) {
	return c.points[0].Quantity, c.points[len(c.points)-1].Quantity
}

// Disaggregate decomposes the curve into segments clipped to [min, max].
func (c *PwlCurve) Disaggregate(min, max float64) ([]Segment, error) {
	return Disaggregate(c.points, min, max)
}

// ConstantCurve represents a flat price over [MinRate, MaxRate], with
// MinRate possibly -Inf and MaxRate possibly +Inf.
type ConstantCurve struct {
	MinRate float64
	MaxRate float64
	Price   float64
}

// NewConstantCurve validates a constant curve per spec.md §4.1.
func NewConstantCurve(minRate, maxRate, price float64) (*ConstantCurve, error) {
	if math.IsNaN(minRate) || math.IsNaN(maxRate) || math.IsNaN(price) {
		return nil, ErrNaN
	}
	if math.IsInf(price, 0) {
		return nil, ErrInfinitePrice
	}
	if !(minRate <= 0 && 0 <= maxRate) {
		return nil, ErrZeroTrade
	}
	return &ConstantCurve{MinRate: minRate, MaxRate: maxRate, Price: price}, nil
}

// Domain returns the curve's rate-domain.
func (c *ConstantCurve) Domain() (min, max float64) { return c.MinRate, c.MaxRate }

// Disaggregate emits the single segment (min, max, price, price), clipped to
// the requested [min, max] (which must be within the curve's own domain).
func (c *ConstantCurve) Disaggregate(min, max float64) ([]Segment, error) {
	if !(min <= 0 && 0 <= max) {
		return nil, fmt.Errorf("curve: invalid clipping domain [%v, %v]", min, max)
	}
	if min == max {
		return nil, nil
	}
	return []Segment{{Q0: min, Q1: max, P0: c.Price, P1: c.Price}}, nil
}

// Kind distinguishes the two DemandCurve variants.
type Kind int

const (
	KindPwl Kind = iota
	KindConstant
)

// DemandCurve is the tagged union of PwlCurve and ConstantCurve (spec.md
// §3). Dispatch on the variant never leaks past the Curve Algebra boundary;
// callers use Domain/Disaggregate uniformly.
type DemandCurve struct {
	kind     Kind
	pwl      *PwlCurve
	constant *ConstantCurve
}

// NewPwl wraps a validated PwlCurve as a DemandCurve.
func NewPwl(c *PwlCurve) DemandCurve { return DemandCurve{kind: KindPwl, pwl: c} }

// NewConstant wraps a validated ConstantCurve as a DemandCurve.
func NewConstant(c *ConstantCurve) DemandCurve { return DemandCurve{kind: KindConstant, constant: c} }

// Kind reports which variant this curve holds.
func (d DemandCurve) Kind() Kind { return d.kind }

// Domain returns the curve's rate-domain, dispatching on variant.
func (d DemandCurve) Domain() (min, max float64) {
	switch d.kind {
	case KindPwl:
		return d.pwl.Domain()
	default:
		return d.constant.Domain()
	}
}

// Disaggregate decomposes the curve into segments clipped to [min, max],
// dispatching on variant.
func (d DemandCurve) Disaggregate(min, max float64) ([]Segment, error) {
	switch d.kind {
	case KindPwl:
		return d.pwl.Disaggregate(min, max)
	default:
		return d.constant.Disaggregate(min, max)
	}
}

// dto is the wire/storage representation of a DemandCurve: a tagged JSON
// object, mirroring the original's serde-tagged enum.
type dto struct {
	Type    string  `json:"type"`
	Points  []Point `json:"points,omitempty"`
	MinRate float64 `json:"min_rate,omitempty"`
	MaxRate float64 `json:"max_rate,omitempty"`
	Price   float64 `json:"price,omitempty"`
}

func (d DemandCurve) MarshalJSON() ([]byte, error) {
	switch d.kind {
	case KindPwl:
		return json.Marshal(dto{Type: "pwl", Points: d.pwl.Points()})
	default:
		return json.Marshal(dto{
			Type:    "constant",
			MinRate: d.constant.MinRate,
			MaxRate: d.constant.MaxRate,
			Price:   d.constant.Price,
		})
	}
}

func (d *DemandCurve) UnmarshalJSON(b []byte) error {
	var raw dto
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case "pwl":
		c, err := NewPwlCurve(raw.Points)
		if err != nil {
			return err
		}
		*d = NewPwl(c)
		return nil
	case "constant":
		c, err := NewConstantCurve(raw.MinRate, raw.MaxRate, raw.Price)
		if err != nil {
			return err
		}
		*d = NewConstant(c)
		return nil
	default:
		return fmt.Errorf("curve: unknown demand curve variant %q", raw.Type)
	}
}
