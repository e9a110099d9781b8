// Package auction defines the core domain model of the flow-trading batch
// auction: demands, portfolios, products, and the submission canonicalizer
// that turns raw bidder input into the layout the QP assembler expects.
package auction

import (
	"bytes"
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// BidderId identifies the party submitting demands and portfolios.
type BidderId struct{ uuid.UUID }

// DemandId identifies a single demand curve's history.
type DemandId struct{ uuid.UUID }

// PortfolioId identifies a single portfolio's history.
type PortfolioId struct{ uuid.UUID }

// ProductId identifies a tradeable product (leaf or, once partitioned, an
// interior node of the product tree).
type ProductId struct{ uuid.UUID }

// BatchId identifies a single cleared batch.
type BatchId struct{ uuid.UUID }

// NewBidderId generates a fresh random bidder identifier.
func NewBidderId() BidderId { return BidderId{uuid.New()} }

// NewDemandId generates a fresh random demand identifier.
func NewDemandId() DemandId { return DemandId{uuid.New()} }

// NewPortfolioId generates a fresh random portfolio identifier.
func NewPortfolioId() PortfolioId { return PortfolioId{uuid.New()} }

// NewProductId generates a fresh random product identifier.
func NewProductId() ProductId { return ProductId{uuid.New()} }

// NewBatchId generates a fresh random batch identifier.
func NewBatchId() BatchId { return BatchId{uuid.New()} }

func (id BidderId) String() string    { return id.UUID.String() }
func (id DemandId) String() string    { return id.UUID.String() }
func (id PortfolioId) String() string { return id.UUID.String() }
func (id ProductId) String() string   { return id.UUID.String() }
func (id BatchId) String() string     { return id.UUID.String() }

func (id BidderId) MarshalJSON() ([]byte, error)    { return quoteString(id.String()), nil }
func (id DemandId) MarshalJSON() ([]byte, error)    { return quoteString(id.String()), nil }
func (id PortfolioId) MarshalJSON() ([]byte, error) { return quoteString(id.String()), nil }
func (id ProductId) MarshalJSON() ([]byte, error)   { return quoteString(id.String()), nil }
func (id BatchId) MarshalJSON() ([]byte, error)     { return quoteString(id.String()), nil }

func (id *BidderId) UnmarshalJSON(b []byte) error    { return unmarshalUUID(b, &id.UUID) }
func (id *DemandId) UnmarshalJSON(b []byte) error    { return unmarshalUUID(b, &id.UUID) }
func (id *PortfolioId) UnmarshalJSON(b []byte) error { return unmarshalUUID(b, &id.UUID) }
func (id *ProductId) UnmarshalJSON(b []byte) error   { return unmarshalUUID(b, &id.UUID) }
func (id *BatchId) UnmarshalJSON(b []byte) error     { return unmarshalUUID(b, &id.UUID) }

// Value implements driver.Valuer so ids can be bound directly as query
// parameters against a uuid-typed Postgres column.
func (id BidderId) Value() (driver.Value, error)    { return id.UUID.String(), nil }
func (id DemandId) Value() (driver.Value, error)    { return id.UUID.String(), nil }
func (id PortfolioId) Value() (driver.Value, error) { return id.UUID.String(), nil }
func (id ProductId) Value() (driver.Value, error)   { return id.UUID.String(), nil }
func (id BatchId) Value() (driver.Value, error)     { return id.UUID.String(), nil }

// Scan implements sql.Scanner, accepting the string or []byte form Postgres
// returns for a uuid column.
func (id *BidderId) Scan(src any) error    { return scanUUID(src, &id.UUID) }
func (id *DemandId) Scan(src any) error    { return scanUUID(src, &id.UUID) }
func (id *PortfolioId) Scan(src any) error { return scanUUID(src, &id.UUID) }
func (id *ProductId) Scan(src any) error   { return scanUUID(src, &id.UUID) }
func (id *BatchId) Scan(src any) error     { return scanUUID(src, &id.UUID) }

// ParseBidderId parses a canonical UUID string into a BidderId.
func ParseBidderId(s string) (BidderId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return BidderId{}, fmt.Errorf("auction: invalid bidder id %q: %w", s, err)
	}
	return BidderId{u}, nil
}

// ParseDemandId parses a canonical UUID string into a DemandId.
func ParseDemandId(s string) (DemandId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return DemandId{}, fmt.Errorf("auction: invalid demand id %q: %w", s, err)
	}
	return DemandId{u}, nil
}

// ParsePortfolioId parses a canonical UUID string into a PortfolioId.
func ParsePortfolioId(s string) (PortfolioId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PortfolioId{}, fmt.Errorf("auction: invalid portfolio id %q: %w", s, err)
	}
	return PortfolioId{u}, nil
}

// ParseProductId parses a canonical UUID string into a ProductId.
func ParseProductId(s string) (ProductId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ProductId{}, fmt.Errorf("auction: invalid product id %q: %w", s, err)
	}
	return ProductId{u}, nil
}

// Less imposes a total order over ids, used to make matrix-column
// construction deterministic regardless of map iteration order.
func (id ProductId) Less(other ProductId) bool { return bytes.Compare(id.UUID[:], other.UUID[:]) < 0 }

// Less imposes a total order over ids, used to make matrix-column
// construction deterministic regardless of map iteration order.
func (id PortfolioId) Less(other PortfolioId) bool {
	return bytes.Compare(id.UUID[:], other.UUID[:]) < 0
}

// Less imposes a total order over ids, used to make matrix-column
// construction deterministic regardless of map iteration order.
func (id BidderId) Less(other BidderId) bool { return bytes.Compare(id.UUID[:], other.UUID[:]) < 0 }

func quoteString(s string) []byte {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	out = append(out, s...)
	out = append(out, '"')
	return out
}

func unmarshalUUID(b []byte, dst *uuid.UUID) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("auction: invalid id literal %q", b)
	}
	parsed, err := uuid.Parse(string(b[1 : len(b)-1]))
	if err != nil {
		return fmt.Errorf("auction: invalid id %q: %w", b, err)
	}
	*dst = parsed
	return nil
}

func scanUUID(src any, dst *uuid.UUID) error {
	switch v := src.(type) {
	case string:
		parsed, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		*dst = parsed
		return nil
	case []byte:
		parsed, err := uuid.ParseBytes(v)
		if err != nil {
			return err
		}
		*dst = parsed
		return nil
	default:
		return fmt.Errorf("auction: cannot scan %T into id", src)
	}
}
