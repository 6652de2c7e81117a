package cf

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/flynnfc/helenus/pkg/helenus/consistency"
	"github.com/flynnfc/helenus/pkg/helenus/marshal"
	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

// ReadOptions selects the columns returned by Get, Count and GetIndexed.
// When Columns is non-nil the read is an exact name list and the range fields
// are ignored. Nil Start and End leave the range open.
type ReadOptions struct {
	Start    any
	End      any
	Reversed bool
	Max      int
	Columns  []any

	// SuperColumn reads the subcolumns of one super column. Required on super families.
	SuperColumn any
	Consistency consistency.Level
}

// IndexQuery is a secondary index scan. Every field's value is encoded with the
// validator of its column.
type IndexQuery struct {
	Fields   []IndexField
	StartKey any
	Max      int
}

type IndexField struct {
	Column   any
	Operator wire.IndexOperator
	Value    any
}

// SlicePredicate builds the wire predicate for opts, with names encoded by nameCodec.
// The start bound is packed for ascending traversal unless reversed, and the end bound the opposite way.
func SlicePredicate(nameCodec *marshal.Marshaler, opts ReadOptions) (wire.SlicePredicate, error) {
	if opts.Columns != nil {
		names := make([][]byte, len(opts.Columns))
		for i, name := range opts.Columns {
			raw, err := nameCodec.Serialize(name)
			if err != nil {
				return wire.SlicePredicate{}, err
			}
			names[i] = raw
		}
		return wire.SlicePredicate{ColumnNames: names}, nil
	}

	start, err := nameCodec.SerializeBound(opts.Start, !opts.Reversed)
	if err != nil {
		return wire.SlicePredicate{}, err
	}
	finish, err := nameCodec.SerializeBound(opts.End, opts.Reversed)
	if err != nil {
		return wire.SlicePredicate{}, err
	}
	return wire.SlicePredicate{SliceRange: &wire.SliceRange{
		Start:    start,
		Finish:   finish,
		Reversed: opts.Reversed,
		Count:    wireCount(opts.Max),
	}}, nil
}

func (c *ColumnFamily) readParent(opts ReadOptions) (wire.ColumnParent, error) {
	parent := wire.ColumnParent{ColumnFamily: c.name}
	if c.isSuper && opts.SuperColumn == nil {
		return parent, fmt.Errorf("column family %s is a super column family: reads need a SuperColumn", c.name)
	}
	super, err := c.superName(opts.SuperColumn)
	if err != nil {
		return parent, err
	}
	parent.SuperColumn = super
	return parent, nil
}

func optsOrZero(opts *ReadOptions) ReadOptions {
	if opts == nil {
		return ReadOptions{}
	}
	return *opts
}

// Get reads one row. The returned row's Key is key exactly as passed in.
func (c *ColumnFamily) Get(ctx context.Context, key any, opts *ReadOptions) (*Row, error) {
	o := optsOrZero(opts)
	rawKey, parent, predicate, err := c.sliceArgs(key, o)
	if err != nil {
		return nil, err
	}
	var reply []wire.ColumnOrSuperColumn
	req := &wire.GetSliceRequest{Key: rawKey, Parent: parent, Predicate: predicate, Consistency: o.Consistency.Or(c.readCL)}
	if err := c.execute(ctx, req, &reply); err != nil {
		return nil, err
	}
	row, err := rowFromWire(key, reply, c.isCounter, c.nameCodec(parent.SuperColumn != nil), c.ValueCodec)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("get", zap.Int("columns", row.Count()))
	return row, nil
}

// Count returns how many columns of the row match opts.
func (c *ColumnFamily) Count(ctx context.Context, key any, opts *ReadOptions) (int, error) {
	o := optsOrZero(opts)
	rawKey, parent, predicate, err := c.sliceArgs(key, o)
	if err != nil {
		return 0, err
	}
	var n int32
	req := &wire.GetCountRequest{Key: rawKey, Parent: parent, Predicate: predicate, Consistency: o.Consistency.Or(c.readCL)}
	if err := c.execute(ctx, req, &n); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (c *ColumnFamily) sliceArgs(key any, o ReadOptions) ([]byte, wire.ColumnParent, wire.SlicePredicate, error) {
	rawKey, err := c.keyCodec.Serialize(key)
	if err != nil {
		return nil, wire.ColumnParent{}, wire.SlicePredicate{}, err
	}
	parent, err := c.readParent(o)
	if err != nil {
		return nil, parent, wire.SlicePredicate{}, err
	}
	predicate, err := SlicePredicate(c.nameCodec(parent.SuperColumn != nil), o)
	if err != nil {
		return nil, parent, wire.SlicePredicate{}, err
	}
	return rawKey, parent, predicate, nil
}

// GetIndexed scans a secondary index. Unlike Get, each returned row's Key is
// the key decoded by the family's key validator.
func (c *ColumnFamily) GetIndexed(ctx context.Context, query IndexQuery, opts *ReadOptions) ([]*Row, error) {
	o := optsOrZero(opts)
	clause, err := c.indexClause(query)
	if err != nil {
		return nil, err
	}
	parent, err := c.readParent(o)
	if err != nil {
		return nil, err
	}
	nameCodec := c.nameCodec(parent.SuperColumn != nil)
	predicate, err := SlicePredicate(nameCodec, o)
	if err != nil {
		return nil, err
	}

	var reply []wire.KeySlice
	req := &wire.GetIndexedSlicesRequest{Parent: parent, Clause: clause, Predicate: predicate, Consistency: o.Consistency.Or(c.readCL)}
	if err := c.execute(ctx, req, &reply); err != nil {
		return nil, err
	}
	rows := make([]*Row, 0, len(reply))
	for _, slice := range reply {
		key, err := c.keyCodec.Deserialize(slice.Key)
		if err != nil {
			return nil, err
		}
		row, err := rowFromWire(key, slice.Columns, c.isCounter, nameCodec, c.ValueCodec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	c.logger.Debug("get indexed", zap.Int("rows", len(rows)))
	return rows, nil
}

func (c *ColumnFamily) indexClause(query IndexQuery) (wire.IndexClause, error) {
	clause := wire.IndexClause{Count: wireCount(query.Max)}
	startKey, err := c.keyCodec.Serialize(query.StartKey)
	if err != nil {
		return clause, err
	}
	clause.StartKey = startKey
	for _, f := range query.Fields {
		rawName, err := c.comparator.Serialize(f.Column)
		if err != nil {
			return clause, err
		}
		value, err := c.ValueCodec(rawName).Serialize(f.Value)
		if err != nil {
			return clause, err
		}
		clause.Expressions = append(clause.Expressions, wire.IndexExpression{ColumnName: rawName, Op: f.Operator, Value: value})
	}
	return clause, nil
}

// wireCount converts a Max option to a wire count, defaulting non-positive
// values and saturating at the largest int32.
func wireCount(n int) int32 {
	if n <= 0 {
		return DefaultMax
	}
	return int32(min(n, math.MaxInt32))
}
