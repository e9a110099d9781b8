package curve

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPwlCurve_Valid(t *testing.T) {
	points := []Point{{-2, 4}, {-1, 3}, {1, 1}, {2, 0}}
	c, err := NewPwlCurve(points)
	require.NoError(t, err)
	min, max := c.Domain()
	assert.Equal(t, -2.0, min)
	assert.Equal(t, 2.0, max)
}

func TestNewPwlCurve_Empty(t *testing.T) {
	_, err := NewPwlCurve(nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestNewPwlCurve_NaN(t *testing.T) {
	_, err := NewPwlCurve([]Point{{-1, math.NaN()}, {1, 0}})
	assert.ErrorIs(t, err, ErrNaN)
}

func TestNewPwlCurve_InfiniteQuantity(t *testing.T) {
	_, err := NewPwlCurve([]Point{{math.Inf(-1), 4}, {1, 0}})
	assert.ErrorIs(t, err, ErrInfinity)
}

func TestNewPwlCurve_NonMonotone(t *testing.T) {
	// Price increases while quantity increases: violates a <= b.
	_, err := NewPwlCurve([]Point{{-1, 1}, {1, 3}})
	assert.ErrorIs(t, err, ErrNonMonotone)
}

func TestNewPwlCurve_ZeroTrade(t *testing.T) {
	_, err := NewPwlCurve([]Point{{1, 4}, {2, 3}})
	assert.ErrorIs(t, err, ErrZeroTrade)
}

func TestNewConstantCurve_Valid(t *testing.T) {
	c, err := NewConstantCurve(math.Inf(-1), math.Inf(1), 5)
	require.NoError(t, err)
	min, max := c.Domain()
	assert.True(t, math.IsInf(min, -1))
	assert.True(t, math.IsInf(max, 1))
}

func TestNewConstantCurve_InfinitePrice(t *testing.T) {
	_, err := NewConstantCurve(-1, 1, math.Inf(1))
	assert.ErrorIs(t, err, ErrInfinitePrice)
}

func TestNewConstantCurve_ZeroTrade(t *testing.T) {
	_, err := NewConstantCurve(1, 2, 5)
	assert.ErrorIs(t, err, ErrZeroTrade)
}

// TestDisaggregate_ExtrapolateDemand covers clipping at the lower domain
// boundary, extrapolation past the upper one, and collinear-point elision
// (P3, P4).
func TestDisaggregate_ExtrapolateDemand(t *testing.T) {
	points := []Point{{-2, 4}, {-1, 3}, {1, 1}, {2, 0}}
	segs, err := Disaggregate(points, 0, 5)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, Segment{Q0: 0, Q1: 2, P0: 2, P1: 0}, segs[0])
	assert.Equal(t, Segment{Q0: 0, Q1: 3, P0: 0, P1: 0}, segs[1])
}

func TestDisaggregate_CollinearReduction(t *testing.T) {
	points := []Point{{-2, 4}, {-1, 3}, {1, 1}, {2, 0}}
	segs, err := Disaggregate(points, -2, 2)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, Segment{Q0: -2, Q1: 2, P0: 4, P1: 0}, segs[0])
}

func TestDisaggregate_InvalidDomain(t *testing.T) {
	points := []Point{{-2, 4}, {2, 0}}
	_, err := Disaggregate(points, -10, -5)
	assert.Error(t, err)
	_, err = Disaggregate(points, 5, 10)
	assert.Error(t, err)
}

func TestDisaggregate_NonMonotoneAborts(t *testing.T) {
	// Points are not validated by Disaggregate itself (PwlCurve validation is
	// a separate gate); a caller who bypasses it via NewPwlCurveUnchecked
	// gets a NonMonotoneError from the scan.
	points := []Point{{-1, 1}, {1, 3}}
	_, err := Disaggregate(points, -1, 1)
	var nme *NonMonotoneError
	assert.True(t, errors.As(err, &nme))
}

// TestDisaggregate_SumConservation checks that the total traded volume
// implied by the segments' domain matches the clip window exactly (P3).
func TestDisaggregate_SumConservation(t *testing.T) {
	points := []Point{{-3, 5}, {0, 2}, {4, 0}}
	segs, err := Disaggregate(points, -3, 4)
	require.NoError(t, err)
	require.NotEmpty(t, segs)
	assert.Equal(t, -3.0, segs[0].Q0)
	assert.Equal(t, 4.0, segs[len(segs)-1].Q1)
	for i := 1; i < len(segs); i++ {
		assert.Equal(t, segs[i-1].Q1, segs[i].Q0, "segments must be contiguous")
	}
}

func TestDemandCurve_JSONRoundTrip(t *testing.T) {
	pwl, err := NewPwlCurve([]Point{{-1, 2}, {1, 0}})
	require.NoError(t, err)
	d := NewPwl(pwl)

	b, err := d.MarshalJSON()
	require.NoError(t, err)

	var out DemandCurve
	require.NoError(t, out.UnmarshalJSON(b))
	assert.Equal(t, KindPwl, out.Kind())
	min, max := out.Domain()
	assert.Equal(t, -1.0, min)
	assert.Equal(t, 1.0, max)
}

func TestConstantCurve_Disaggregate(t *testing.T) {
	c, err := NewConstantCurve(math.Inf(-1), math.Inf(1), 7)
	require.NoError(t, err)
	segs, err := c.Disaggregate(-5, 5)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, Segment{Q0: -5, Q1: 5, P0: 7, P1: 7}, segs[0])
}
