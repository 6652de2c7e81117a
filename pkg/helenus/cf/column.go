package cf

import (
	"fmt"
	"time"

	"github.com/flynnfc/helenus/pkg/helenus/marshal"
	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

// Writable is a column that can be sent in an insert batch: a *Column or a *CounterColumn.
type Writable interface {
	encode(nameCodec *marshal.Marshaler, valueCodec func(rawName []byte) *marshal.Marshaler, now time.Time) (*wire.Column, *wire.CounterColumn, error)
}

// Column is a typed column. A zero Timestamp is replaced by the write time of
// the insert that sends it.
type Column struct {
	Name      any
	Value     any
	Timestamp time.Time
	TTL       time.Duration
}

// NewColumn returns a column stamped with ts.
func NewColumn(name, value any, ts time.Time, ttl time.Duration) *Column {
	return &Column{Name: name, Value: value, Timestamp: ts, TTL: ttl}
}

// ToWire encodes the column. The wire timestamp is the millisecond timestamp
// scaled to microseconds. The column must already be stamped.
func (c *Column) ToWire(nameCodec, valueCodec *marshal.Marshaler) (wire.Column, error) {
	if c.Timestamp.IsZero() {
		return wire.Column{}, fmt.Errorf("column %v has no timestamp", c.Name)
	}
	name, err := nameCodec.Serialize(c.Name)
	if err != nil {
		return wire.Column{}, err
	}
	value, err := valueCodec.Serialize(c.Value)
	if err != nil {
		return wire.Column{}, err
	}
	out := wire.Column{
		Name:      name,
		Value:     value,
		Timestamp: c.Timestamp.UnixMilli() * 1000,
	}
	if c.TTL > 0 {
		secs := uint32((c.TTL + time.Second - 1) / time.Second)
		out.TTL = &secs
	}
	return out, nil
}

func (c *Column) encode(nameCodec *marshal.Marshaler, valueCodec func(rawName []byte) *marshal.Marshaler, now time.Time) (*wire.Column, *wire.CounterColumn, error) {
	col := c
	if c.Timestamp.IsZero() {
		stamped := *c
		stamped.Timestamp = now
		col = &stamped
	}
	raw, err := nameCodec.Serialize(col.Name)
	if err != nil {
		return nil, nil, err
	}
	out, err := col.ToWire(nameCodec, valueCodec(raw))
	if err != nil {
		return nil, nil, err
	}
	return &out, nil, nil
}

func (c *Column) clone() *Column {
	out := *c
	return &out
}

func (c *Column) String() string {
	return fmt.Sprintf("%v=%v", c.Name, c.Value)
}

// CounterColumn is a delta to apply to a counter. Counter values are always
// plain 64-bit integers on the wire, whatever validator the family declares.
type CounterColumn struct {
	Name  any
	Value int64
}

func NewCounterColumn(name any, delta int64) *CounterColumn {
	return &CounterColumn{Name: name, Value: delta}
}

func (c *CounterColumn) ToWire(nameCodec *marshal.Marshaler) (wire.CounterColumn, error) {
	name, err := nameCodec.Serialize(c.Name)
	if err != nil {
		return wire.CounterColumn{}, err
	}
	return wire.CounterColumn{Name: name, Value: c.Value}, nil
}

func (c *CounterColumn) encode(nameCodec *marshal.Marshaler, _ func([]byte) *marshal.Marshaler, _ time.Time) (*wire.Column, *wire.CounterColumn, error) {
	out, err := c.ToWire(nameCodec)
	if err != nil {
		return nil, nil, err
	}
	return nil, &out, nil
}
