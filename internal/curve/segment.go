package curve

import "math"

// Segment is a single line piece of a disaggregated demand curve, satisfying
// Q0 <= 0 <= Q1 and P0 >= P1.
type Segment struct {
	// Q0 is the supply side of the segment (Q0 <= 0).
	Q0 float64
	// Q1 is the demand side of the segment (Q1 >= 0).
	Q1 float64
	// P0 is the bidding price at Q0.
	P0 float64
	// P1 is the asking price at Q1.
	P1 float64
}

// newSegmentUnchecked builds a Segment from two neighboring curve points,
// translating them by the minimal amount needed to place 0 in [Q0, Q1].
// Does not check that a and b are properly ordered. Also returns the
// translation applied, so a caller can recover the original coordinates via
// Q0+translate == a.Quantity and Q1+translate == b.Quantity.
func newSegmentUnchecked(a, b Point) (Segment, float64) {
	q0, p0 := a.Quantity, a.Price
	q1, p1 := b.Quantity, b.Price

	translate := math.Max(q0, 0) + math.Min(q1, 0)
	q0 -= translate
	q1 -= translate

	return Segment{Q0: q0, Q1: q1, P0: p0, P1: p1}, translate
}

// newSegment builds a Segment from two neighboring curve points, validating
// that a precedes b under the demand-curve partial order. The segment (and
// translation) are always returned, even when validation fails, so the
// caller can surface the offending segment in a diagnostic.
func newSegment(a, b Point) (Segment, float64, bool) {
	ok := a.LessOrEqual(b)
	seg, translate := newSegmentUnchecked(a, b)
	return seg, translate, ok
}

// SlopeIntercept computes the segment's slope and p-intercept. A degenerate
// segment (Q0 == Q1) has slope -Inf and reports the midpoint price.
func (s Segment) SlopeIntercept() (slope, intercept float64) {
	qmid := (s.Q0 + s.Q1) / 2.0
	pmid := (s.P0 + s.P1) / 2.0

	if s.Q0 == s.Q1 {
		return math.Inf(-1), pmid
	}

	m := (s.P1 - s.P0) / (s.Q1 - s.Q0)
	if math.IsInf(qmid, 0) {
		return m, pmid
	}
	return m, pmid - m*qmid
}

// clipUnchecked restricts s to [qmin, qmax] without validating the interval.
func (s Segment) clipUnchecked(qmin, qmax float64) Segment {
	m, b := s.SlopeIntercept()

	q0, p0 := s.Q0, s.P0
	if s.Q0 < qmin {
		q0, p0 = qmin, m*qmin+b
	}

	q1, p1 := s.Q1, s.P1
	if s.Q1 > qmax {
		q1, p1 = qmax, m*qmax+b
	}

	return Segment{Q0: q0, Q1: q1, P0: p0, P1: p1}
}

// Clip restricts s to [qmin, qmax], returning false if the interval does
// not straddle zero (and is therefore invalid as a clipping domain).
func (s Segment) Clip(qmin, qmax float64) (Segment, bool) {
	if qmin <= 0 && qmax >= 0 {
		return s.clipUnchecked(qmin, qmax), true
	}
	return Segment{}, false
}
