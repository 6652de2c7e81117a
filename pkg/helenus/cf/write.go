package cf

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/flynnfc/helenus/pkg/helenus/consistency"
	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

// WriteOptions apply to every column of one write.
type WriteOptions struct {
	// Timestamp stamps columns that carry none. Defaults to the family's clock.
	Timestamp time.Time
	TTL       time.Duration
	// SuperColumn is the super column written to. Required on super families.
	SuperColumn any
	Consistency consistency.Level
}

func writeOptsOrZero(opts *WriteOptions) WriteOptions {
	if opts == nil {
		return WriteOptions{}
	}
	return *opts
}

func (c *ColumnFamily) now(o WriteOptions) time.Time {
	if !o.Timestamp.IsZero() {
		return o.Timestamp
	}
	return c.clock.Now()
}

// Insert writes columns to one row in a single batch_mutate. Each column's value
// is encoded with its per-column validator when one is registered, otherwise
// with the family default.
func (c *ColumnFamily) Insert(ctx context.Context, key any, columns []Writable, opts *WriteOptions) error {
	o := writeOptsOrZero(opts)
	rawKey, err := c.keyCodec.Serialize(key)
	if err != nil {
		return err
	}
	if c.isSuper && o.SuperColumn == nil {
		return fmt.Errorf("column family %s is a super column family: writes need a SuperColumn", c.name)
	}
	super, err := c.superName(o.SuperColumn)
	if err != nil {
		return err
	}
	nameCodec := c.nameCodec(super != nil)
	now := c.now(o)

	mutations := make([]wire.Mutation, 0, len(columns))
	for _, col := range columns {
		wc, wcc, err := col.encode(nameCodec, c.ValueCodec, now)
		if err != nil {
			return err
		}
		mutations = append(mutations, wire.Mutation{ColumnOrSuperColumn: wrapColumn(super, wc, wcc)})
	}

	req := &wire.BatchMutateRequest{
		Mutations:   wire.MutationMap{string(rawKey): {c.name: mutations}},
		Consistency: o.Consistency.Or(c.writeCL),
	}
	if err := c.execute(ctx, req, nil); err != nil {
		return err
	}
	c.logger.Debug("insert", zap.Int("columns", len(mutations)))
	return nil
}

func wrapColumn(super []byte, wc *wire.Column, wcc *wire.CounterColumn) *wire.ColumnOrSuperColumn {
	switch {
	case super == nil && wc != nil:
		return &wire.ColumnOrSuperColumn{Column: wc}
	case super == nil:
		return &wire.ColumnOrSuperColumn{CounterColumn: wcc}
	case wc != nil:
		return &wire.ColumnOrSuperColumn{SuperColumn: &wire.SuperColumn{Name: super, Columns: []wire.Column{*wc}}}
	}
	return &wire.ColumnOrSuperColumn{CounterSuperColumn: &wire.CounterSuperColumn{Name: super, Columns: []wire.CounterColumn{*wcc}}}
}

// InsertMap writes one column per entry, all sharing one timestamp and the TTL in opts.
// Names are sent in sorted order.
func (c *ColumnFamily) InsertMap(ctx context.Context, key any, values map[string]any, opts *WriteOptions) error {
	o := writeOptsOrZero(opts)
	o.Timestamp = c.now(o)
	names := lo.Keys(values)
	sort.Strings(names)
	columns := lo.Map(names, func(name string, _ int) Writable {
		return NewColumn(name, values[name], o.Timestamp, o.TTL)
	})
	return c.Insert(ctx, key, columns, &o)
}

// RemoveRow deletes every column of the row.
func (c *ColumnFamily) RemoveRow(ctx context.Context, key any, opts *WriteOptions) error {
	return c.remove(ctx, key, wire.ColumnPath{ColumnFamily: c.name}, opts)
}

// RemoveColumn deletes one column. On a super family it deletes a whole super column.
func (c *ColumnFamily) RemoveColumn(ctx context.Context, key, column any, opts *WriteOptions) error {
	raw, err := c.comparator.Serialize(column)
	if err != nil {
		return err
	}
	path := wire.ColumnPath{ColumnFamily: c.name}
	if c.isSuper {
		path.SuperColumn = raw
	} else {
		path.Column = raw
	}
	return c.remove(ctx, key, path, opts)
}

// RemoveSubcolumn deletes one subcolumn of a super column.
func (c *ColumnFamily) RemoveSubcolumn(ctx context.Context, key, superColumn, subcolumn any, opts *WriteOptions) error {
	if !c.isSuper || superColumn == nil {
		return fmt.Errorf("column family %s: removing a subcolumn needs a super column family and a super column", c.name)
	}
	super, err := c.superName(superColumn)
	if err != nil {
		return err
	}
	raw, err := c.subcomparator.Serialize(subcolumn)
	if err != nil {
		return err
	}
	return c.remove(ctx, key, wire.ColumnPath{ColumnFamily: c.name, SuperColumn: super, Column: raw}, opts)
}

func (c *ColumnFamily) remove(ctx context.Context, key any, path wire.ColumnPath, opts *WriteOptions) error {
	o := writeOptsOrZero(opts)
	rawKey, err := c.keyCodec.Serialize(key)
	if err != nil {
		return err
	}
	cl := o.Consistency.Or(c.writeCL)
	if c.isCounter {
		return c.execute(ctx, &wire.RemoveCounterRequest{Key: rawKey, Path: path, Consistency: cl}, nil)
	}
	return c.execute(ctx, &wire.RemoveRequest{Key: rawKey, Path: path, Timestamp: microseconds(c.now(o)), Consistency: cl}, nil)
}

// Incr adds delta to a counter column. The delta is always sent as a plain
// 64-bit integer, ignoring any validator registered for the column.
func (c *ColumnFamily) Incr(ctx context.Context, key, column any, delta int64, opts *WriteOptions) error {
	o := writeOptsOrZero(opts)
	rawKey, err := c.keyCodec.Serialize(key)
	if err != nil {
		return err
	}
	super, err := c.superName(o.SuperColumn)
	if err != nil {
		return err
	}
	counter, err := NewCounterColumn(column, delta).ToWire(c.nameCodec(super != nil))
	if err != nil {
		return err
	}
	req := &wire.AddRequest{
		Key:         rawKey,
		Parent:      wire.ColumnParent{ColumnFamily: c.name, SuperColumn: super},
		Column:      counter,
		Consistency: o.Consistency.Or(c.writeCL),
	}
	return c.execute(ctx, req, nil)
}

// Increment adds one to a counter column.
func (c *ColumnFamily) Increment(ctx context.Context, key, column any, opts *WriteOptions) error {
	return c.Incr(ctx, key, column, 1, opts)
}

// Truncate drops all data in the family.
func (c *ColumnFamily) Truncate(ctx context.Context) error {
	if err := c.execute(ctx, &wire.TruncateRequest{ColumnFamily: c.name}, nil); err != nil {
		return err
	}
	c.logger.Info("truncated")
	return nil
}
