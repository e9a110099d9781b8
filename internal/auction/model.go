package auction

import (
	"encoding/json"

	"github.com/flowtrade/engine/internal/curve"
)

// Product is a tradeable instrument, or an interior node of the product
// partition forest once it has been split into sub-products. ParentId and
// ParentRatio are both nil for a root product; a partitioned child always
// carries both, with ParentRatio strictly positive (invariant I4) and
// fixed forever once the partition event that created it is recorded.
type Product struct {
	Id          ProductId
	Name        string
	AppData     json.RawMessage
	ParentId    *ProductId
	ParentRatio *float64
	ValidFrom   DateTime
	CreatedAt   DateTime
}

// NewProduct constructs a fresh root product, valid from now.
func NewProduct(name string, appData json.RawMessage) *Product {
	now := Now()
	return &Product{
		Id:        NewProductId(),
		Name:      name,
		AppData:   appData,
		ValidFrom: now,
		CreatedAt: now,
	}
}

// ProductPartitionChild describes one new leaf created by splitting a
// product into several ratio-weighted children. Ratio must be strictly
// positive (invariant I4); the repository rejects a partition whose
// children don't satisfy this before any row is written.
type ProductPartitionChild struct {
	Name    string
	AppData json.RawMessage
	Ratio   float64
}

// Portfolio is a named linear combination of products (its basis) together
// with the linear combination of demand curves it is exposed to (its
// demand group), owned by a bidder. Both maps are sparse: an absent key
// contributes zero.
type Portfolio struct {
	Id        PortfolioId
	BidderId  BidderId
	AppData   json.RawMessage
	Demands   DemandGroup
	Products  ProductGroup
	CreatedAt DateTime
}

// NewPortfolio constructs a fresh portfolio.
func NewPortfolio(bidderId BidderId, appData json.RawMessage, demands DemandGroup, products ProductGroup) *Portfolio {
	return &Portfolio{
		Id:        NewPortfolioId(),
		BidderId:  bidderId,
		AppData:   appData,
		Demands:   demands,
		Products:  products,
		CreatedAt: Now(),
	}
}

// Demand is a single demand curve, owned by a bidder. Curve is nil when the
// demand has been deactivated (invariant I3): deactivation opens a new
// history record carrying a null curve rather than deleting anything, so
// the previous record's valid_until still marks the deactivation time.
type Demand struct {
	Id        DemandId
	BidderId  BidderId
	AppData   json.RawMessage
	Curve     *curve.DemandCurve
	CreatedAt DateTime
}

// NewDemand constructs a fresh demand curve. dc may be nil to create an
// already-inactive demand (a valid, if unusual, starting state).
func NewDemand(bidderId BidderId, appData json.RawMessage, dc *curve.DemandCurve) *Demand {
	return &Demand{
		Id:        NewDemandId(),
		BidderId:  bidderId,
		AppData:   appData,
		Curve:     dc,
		CreatedAt: Now(),
	}
}

// Deactivate clears the demand's curve in place, leaving its id and app
// data untouched. Callers persist this via ReplaceDemand, which is what
// actually implements invariant I3's "new record with null payload".
func (d *Demand) Deactivate() {
	d.Curve = nil
}
