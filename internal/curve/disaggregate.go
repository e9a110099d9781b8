package curve

import "fmt"

// NonMonotoneError reports that a pair of consecutive curve points violated
// the demand-curve partial order during disaggregation. The offending
// segment is preserved (translated, unclipped) for diagnostic purposes.
type NonMonotoneError struct {
	Segment Segment
}

func (e *NonMonotoneError) Error() string {
	return fmt.Sprintf("curve: non-monotone segment [%v, %v] x [%v, %v]", e.Segment.Q0, e.Segment.Q1, e.Segment.P0, e.Segment.P1)
}

// Disaggregate decomposes a PWL curve's points into the canonical segments
// used by the QP assembler, clipped to [min, max]. min must be <= 0 and max
// must be >= 0; otherwise Disaggregate reports an error and no segments.
//
// Algorithm (ported from fts-solver/src/types/demand/disaggregate.rs):
//  1. If the leftmost point's quantity is greater than min, anchor an
//     extrapolated point at (min, leftmost.Price).
//  2. Walk consecutive pairs, skipping over interior points collinear with
//     the current window, emitting one Segment per surviving pair, clipped
//     to [min, max].
//  3. If the rightmost point's quantity is less than max, extrapolate one
//     final segment at the rightmost price.
//  4. Segments that vanish entirely under clipping (Q0 == Q1) are dropped.
//
// The first encountered non-monotone pair aborts the scan: segments
// collected up to that point are discarded and the error is returned.
func Disaggregate(points []Point, min, max float64) ([]Segment, error) {
	if !(min <= 0 && 0 <= max) {
		return nil, fmt.Errorf("curve: invalid clipping domain [%v, %v]", min, max)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("curve: cannot disaggregate an empty point list")
	}

	var segments []Segment

	first := points[0]
	var anchor Point
	var rest []Point
	if first.Quantity < min {
		anchor = first
		rest = points[1:]
	} else {
		anchor = Point{Quantity: min, Price: first.Price}
		rest = points
	}

	i := 0
	for {
		if max <= anchor.Quantity {
			return segments, nil
		}

		if i >= len(rest) {
			// Extrapolate one final segment at the anchor's price.
			next := Point{Quantity: max, Price: anchor.Price}
			seg, err := emit(anchor, next, min, max)
			if err != nil {
				return nil, err
			}
			if seg != nil {
				segments = append(segments, *seg)
			}
			return segments, nil
		}

		next := rest[i]
		i++
		// Drop interior points collinear with the current window.
		for i < len(rest) && next.isCollinear(anchor, rest[i]) {
			next = rest[i]
			i++
		}

		seg, err := emit(anchor, next, min, max)
		if err != nil {
			return nil, err
		}
		anchor = next
		if seg != nil {
			segments = append(segments, *seg)
		}
	}
}

// emit builds and clips a single segment from a consecutive pair, returning
// nil (no error) if the segment vanishes under clipping, and an error if the
// pair is non-monotone.
func emit(a, b Point, min, max float64) (*Segment, error) {
	seg, translate, ok := newSegment(a, b)
	if !ok {
		return nil, &NonMonotoneError{Segment: seg}
	}

	clipped, valid := seg.Clip(min-translate, max-translate)
	if !valid {
		// min/max were already validated by the caller, so this cannot
		// happen; treat defensively as "no contribution".
		return nil, nil
	}
	if clipped.Q0 == clipped.Q1 {
		return nil, nil
	}
	return &clipped, nil
}
