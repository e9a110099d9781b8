// Package curve implements the demand-curve algebra: points, piecewise-linear
// and constant curves, and their disaggregation into the line segments the
// QP assembler consumes.
//
// Grounded on the original Rust implementation's fts-solver/src/types/demand
// module (point.rs, segment.rs, disaggregate.rs); the translation and
// collinearity formulas are carried over unchanged.
package curve

// Point is a single (quantity, price) pair on a demand curve. Quantity is
// often called "rate" in the specification; "quantity" matches the original
// source and the teacher's decimal-quantity naming in trade records.
type Point struct {
	Quantity float64
	Price    float64
}

// LessOrEqual implements the demand-curve partial order: a <= b iff
// a.Quantity <= b.Quantity and a.Price >= b.Price (price non-increasing in
// quantity); any other relative ordering, including when either coordinate
// is NaN, is incomparable and reports false both ways.
func (a Point) LessOrEqual(b Point) bool {
	return a.Quantity <= b.Quantity && a.Price >= b.Price
}

// isCollinear reports whether self lies on the line through lhs and rhs, via
// the usual cross-product test. Ported from Point::is_collinear.
func (self Point) isCollinear(lhs, rhs Point) bool {
	x0, y0 := lhs.Quantity, lhs.Price
	x1, y1 := self.Quantity, self.Price
	x2, y2 := rhs.Quantity, rhs.Price
	return (x2-x0)*(y1-y0) == (x1-x0)*(y2-y0)
}
