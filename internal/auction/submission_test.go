package auction

import (
	"testing"

	"github.com/flowtrade/engine/internal/curve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPwl(t *testing.T, points []curve.Point) curve.DemandCurve {
	t.Helper()
	c, err := curve.NewPwlCurve(points)
	require.NoError(t, err)
	return curve.NewPwl(c)
}

func TestNewSubmission_ZeroForcesUnreferencedPortfolios(t *testing.T) {
	p1 := NewPortfolioId()
	p2 := NewPortfolioId()
	product := NewProductId()

	portfolios := map[PortfolioId]ProductGroup{
		p1: {product: 1.0},
		p2: {product: 1.0},
	}

	dc := mustPwl(t, []curve.Point{{Quantity: -1, Price: 2}, {Quantity: 1, Price: 0}})
	d, err := NewDemandCurveInput(NewDemandId(), PortfolioGroup{p1: 1.0}, dc, -1, 1)
	require.NoError(t, err)

	sub, err := NewSubmission(portfolios, []DemandCurveInput{*d})
	require.NoError(t, err)

	// p1 is referenced by a real demand curve; p2 must get a zero-forcing
	// synthetic demand with no segments.
	var sawP1, sawP2ZeroForce bool
	for _, cd := range sub.Demands {
		if _, ok := cd.Group[p1]; ok && len(cd.Segments) > 0 {
			sawP1 = true
		}
		if w, ok := cd.Group[p2]; ok && len(cd.Segments) == 0 && w == 1.0 && len(cd.Group) == 1 {
			sawP2ZeroForce = true
		}
	}
	assert.True(t, sawP1)
	assert.True(t, sawP2ZeroForce)
}

func TestNewSubmission_DropsCurveWithEmptyGroup(t *testing.T) {
	// Referencing a nonexistent portfolio means the curve's group becomes
	// empty after pruning, so the curve is discarded entirely.
	ghost := NewPortfolioId()
	dc := mustPwl(t, []curve.Point{{Quantity: -1, Price: 2}, {Quantity: 1, Price: 0}})
	d, err := NewDemandCurveInput(NewDemandId(), PortfolioGroup{ghost: 1.0}, dc, -1, 1)
	require.NoError(t, err)

	sub, err := NewSubmission(map[PortfolioId]ProductGroup{}, []DemandCurveInput{*d})
	require.NoError(t, err)
	assert.Empty(t, sub.Demands)
}

func TestNewSubmission_SparsifiesPortfolioWeights(t *testing.T) {
	p1 := NewPortfolioId()
	product := NewProductId()
	portfolios := map[PortfolioId]ProductGroup{
		p1: {product: 0.0},
	}
	sub, err := NewSubmission(portfolios, nil)
	require.NoError(t, err)
	assert.Empty(t, sub.Portfolios[p1])
}

func TestNewDemandCurveInput_RejectsDomainOutsideCurve(t *testing.T) {
	dc := mustPwl(t, []curve.Point{{Quantity: -1, Price: 2}, {Quantity: 1, Price: 0}})
	_, err := NewDemandCurveInput(NewDemandId(), PortfolioGroup{}, dc, -5, 1)
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

func TestNewDemandCurveInput_RejectsDomainNotStraddlingZero(t *testing.T) {
	dc := mustPwl(t, []curve.Point{{Quantity: -1, Price: 2}, {Quantity: 1, Price: 0}})
	_, err := NewDemandCurveInput(NewDemandId(), PortfolioGroup{}, dc, 0.2, 1)
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

func TestSortedProductIds_Deterministic(t *testing.T) {
	weights := ProductGroup{}
	var ids []ProductId
	for i := 0; i < 5; i++ {
		id := NewProductId()
		ids = append(ids, id)
		weights[id] = 1.0
	}
	sorted1 := SortedProductIds(weights)
	sorted2 := SortedProductIds(weights)
	assert.Equal(t, sorted1, sorted2)
	for i := 1; i < len(sorted1); i++ {
		assert.True(t, sorted1[i-1].Less(sorted1[i]))
	}
}

func TestNewDemand_DeactivateClearsCurve(t *testing.T) {
	dc := mustPwl(t, []curve.Point{{Quantity: -1, Price: 2}, {Quantity: 1, Price: 0}})
	d := NewDemand(NewBidderId(), nil, &dc)
	require.NotNil(t, d.Curve)

	d.Deactivate()
	assert.Nil(t, d.Curve)
}
