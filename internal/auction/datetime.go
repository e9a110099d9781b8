package auction

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// DateTime is a UTC instant with sub-second precision, serialized as
// RFC3339 over the wire and stored as a Postgres timestamptz.
type DateTime struct{ time.Time }

// Now returns the current instant, normalized to UTC.
func Now() DateTime { return DateTime{time.Now().UTC()} }

// NewDateTime normalizes t to UTC.
func NewDateTime(t time.Time) DateTime { return DateTime{t.UTC()} }

func (d DateTime) Before(other DateTime) bool { return d.Time.Before(other.Time) }
func (d DateTime) After(other DateTime) bool  { return d.Time.After(other.Time) }
func (d DateTime) Equal(other DateTime) bool  { return d.Time.Equal(other.Time) }

// Add returns d shifted by the given duration.
func (d DateTime) Add(delta time.Duration) DateTime { return DateTime{d.Time.Add(delta)} }

func (d DateTime) MarshalJSON() ([]byte, error) {
	return quoteString(d.Time.UTC().Format(time.RFC3339Nano)), nil
}

func (d *DateTime) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("auction: invalid datetime literal %q", b)
	}
	t, err := time.Parse(time.RFC3339Nano, string(b[1:len(b)-1]))
	if err != nil {
		return fmt.Errorf("auction: invalid datetime %q: %w", b, err)
	}
	d.Time = t.UTC()
	return nil
}

func (d DateTime) Value() (driver.Value, error) { return d.Time.UTC(), nil }

func (d *DateTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		d.Time = v.UTC()
		return nil
	case nil:
		return fmt.Errorf("auction: cannot scan NULL into DateTime")
	default:
		return fmt.Errorf("auction: cannot scan %T into DateTime", src)
	}
}

// MinDateTime returns the earlier of a and b.
func MinDateTime(a, b DateTime) DateTime {
	if a.Before(b) {
		return a
	}
	return b
}
