package memstore

import (
	"slices"
	"sort"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/flynnfc/helenus/pkg/helenus/marshal"
	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

// cell is one stored column. Counter families use counter instead of value.
type cell struct {
	value     []byte
	counter   int64
	timestamp int64
	ttl       *uint32
}

func (c *cell) expired(now time.Time) bool {
	if c.ttl == nil || *c.ttl == 0 {
		return false
	}
	expires := time.UnixMicro(c.timestamp).Add(time.Duration(*c.ttl) * time.Second)
	return !now.Before(expires)
}

type row struct {
	columns *skipList[*cell]
	supers  *skipList[*skipList[*cell]]
}

func (r *row) empty() bool {
	return r.columns.Len() == 0 && r.supers.Len() == 0
}

// table is the storage of one column family.
type table struct {
	def           wire.CfDef
	keys          *marshal.Marshaler
	comparator    *marshal.Marshaler
	subcomparator *marshal.Marshaler
	validator     *marshal.Marshaler
	validators    map[string]*marshal.Marshaler
	counter       bool

	rows   map[string]*row
	filter *bloom.BloomFilter
}

func parseOrBytes(typeName string) (*marshal.Marshaler, error) {
	if typeName == "" {
		typeName = "BytesType"
	}
	return marshal.Parse(typeName)
}

func newTable(def wire.CfDef, expectedRows uint, falsePositive float64) (*table, error) {
	t := &table{
		def:        def,
		validators: make(map[string]*marshal.Marshaler, len(def.ColumnMetadata)),
		rows:       make(map[string]*row),
		filter:     bloom.NewWithEstimates(expectedRows, falsePositive),
	}
	var err error
	if t.keys, err = parseOrBytes(def.KeyValidationClass); err != nil {
		return nil, err
	}
	if t.comparator, err = parseOrBytes(def.ComparatorType); err != nil {
		return nil, err
	}
	if def.IsSuper() {
		if t.subcomparator, err = parseOrBytes(def.SubcomparatorType); err != nil {
			return nil, err
		}
	}
	if t.validator, err = parseOrBytes(def.DefaultValidationClass); err != nil {
		return nil, err
	}
	t.counter = t.validator.Kind() == marshal.CounterKind
	for _, col := range def.ColumnMetadata {
		m, err := parseOrBytes(col.ValidationClass)
		if err != nil {
			return nil, err
		}
		t.validators[string(col.Name)] = m
	}
	return t, nil
}

func (t *table) super() bool { return t.def.IsSuper() }

func (t *table) valueCodec(name []byte) *marshal.Marshaler {
	if m, ok := t.validators[string(name)]; ok {
		return m
	}
	return t.validator
}

func (t *table) indexed(name []byte) bool {
	for _, col := range t.def.ColumnMetadata {
		if string(col.Name) == string(name) {
			return col.IndexType != ""
		}
	}
	return false
}

// row returns the stored row, consulting the bloom filter first.
func (t *table) row(key []byte) *row {
	if !t.filter.Test(key) {
		return nil
	}
	return t.rows[string(key)]
}

func (t *table) mustRow(key []byte) *row {
	if r := t.row(key); r != nil {
		return r
	}
	r := &row{
		columns: newSkipList[*cell](t.comparator.Compare),
		supers:  newSkipList[*skipList[*cell]](t.comparator.Compare),
	}
	t.rows[string(key)] = r
	t.filter.Add(key)
	return r
}

// columns returns the list holding plain columns, or a super column's
// subcolumns when super is set.
func (t *table) columns(r *row, super []byte, create bool) *skipList[*cell] {
	if r == nil {
		return nil
	}
	if super == nil {
		return r.columns
	}
	sub, ok := r.supers.Get(super)
	if !ok && create {
		sub = newSkipList[*cell](t.subcomparator.Compare)
		r.supers.Set(slices.Clone(super), sub)
	}
	return sub
}

func (t *table) dropIfEmpty(key []byte, r *row) {
	for n := r.supers.Front(); n != nil; {
		next := n.Next()
		if n.value.Len() == 0 {
			r.supers.Delete(n.key)
		}
		n = next
	}
	if r.empty() {
		delete(t.rows, string(key))
	}
}

// sortedKeys lists row keys in key validator order.
func (t *table) sortedKeys() [][]byte {
	keys := make([][]byte, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool { return t.keys.Compare(keys[i], keys[j]) < 0 })
	return keys
}

// selectNodes applies a slice predicate to list. Names come back in comparator
// order, or reverse comparator order for a reversed range.
func selectNodes[V any](list *skipList[V], pred wire.SlicePredicate, live func(V) bool) []*node[V] {
	if list == nil {
		return nil
	}
	var out []*node[V]
	if pred.SliceRange == nil {
		wanted := make(map[string]bool, len(pred.ColumnNames))
		for _, name := range pred.ColumnNames {
			wanted[string(name)] = true
		}
		for n := list.Front(); n != nil; n = n.Next() {
			if wanted[string(n.key)] && live(n.value) {
				out = append(out, n)
			}
		}
		return out
	}

	sr := pred.SliceRange
	limit := int(sr.Count)
	if !sr.Reversed {
		n := list.Front()
		if len(sr.Start) > 0 {
			n = list.Seek(sr.Start)
		}
		for ; n != nil && len(out) < limit; n = n.Next() {
			if len(sr.Finish) > 0 && list.compare(n.key, sr.Finish) > 0 {
				break
			}
			if live(n.value) {
				out = append(out, n)
			}
		}
		return out
	}

	// Reversed ranges run from Start down to Finish.
	for n := list.Front(); n != nil; n = n.Next() {
		if len(sr.Start) > 0 && list.compare(n.key, sr.Start) > 0 {
			break
		}
		if len(sr.Finish) > 0 && list.compare(n.key, sr.Finish) < 0 {
			continue
		}
		if live(n.value) {
			out = append(out, n)
		}
	}
	slices.Reverse(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (t *table) columnItem(super []byte, n *node[*cell]) wire.ColumnOrSuperColumn {
	if t.counter {
		cc := wire.CounterColumn{Name: n.key, Value: n.value.counter}
		if super != nil {
			return wire.ColumnOrSuperColumn{CounterSuperColumn: &wire.CounterSuperColumn{Name: super, Columns: []wire.CounterColumn{cc}}}
		}
		return wire.ColumnOrSuperColumn{CounterColumn: &cc}
	}
	return wire.ColumnOrSuperColumn{Column: &wire.Column{Name: n.key, Value: n.value.value, Timestamp: n.value.timestamp, TTL: n.value.ttl}}
}

// slice reads the columns of one row under parent.
func (t *table) slice(r *row, parent wire.ColumnParent, pred wire.SlicePredicate, now time.Time) []wire.ColumnOrSuperColumn {
	live := func(c *cell) bool { return !c.expired(now) }
	out := []wire.ColumnOrSuperColumn{}
	if r == nil {
		return out
	}

	if !t.super() || parent.SuperColumn != nil {
		for _, n := range selectNodes(t.columns(r, parent.SuperColumn, false), pred, live) {
			item := t.columnItem(nil, n)
			out = append(out, item)
		}
		return out
	}

	liveSuper := func(sub *skipList[*cell]) bool {
		for n := sub.Front(); n != nil; n = n.Next() {
			if live(n.value) {
				return true
			}
		}
		return false
	}
	for _, sn := range selectNodes(r.supers, pred, liveSuper) {
		var cols []wire.Column
		var counters []wire.CounterColumn
		for n := sn.value.Front(); n != nil; n = n.Next() {
			if !live(n.value) {
				continue
			}
			if t.counter {
				counters = append(counters, wire.CounterColumn{Name: n.key, Value: n.value.counter})
			} else {
				cols = append(cols, wire.Column{Name: n.key, Value: n.value.value, Timestamp: n.value.timestamp, TTL: n.value.ttl})
			}
		}
		if t.counter {
			out = append(out, wire.ColumnOrSuperColumn{CounterSuperColumn: &wire.CounterSuperColumn{Name: sn.key, Columns: counters}})
		} else {
			out = append(out, wire.ColumnOrSuperColumn{SuperColumn: &wire.SuperColumn{Name: sn.key, Columns: cols}})
		}
	}
	return out
}

// matches reports whether the row satisfies every index expression.
func (t *table) matches(r *row, exprs []wire.IndexExpression, now time.Time) bool {
	for _, e := range exprs {
		c, ok := r.columns.Get(e.ColumnName)
		if !ok || c.expired(now) {
			return false
		}
		cmp := t.valueCodec(e.ColumnName).Compare(c.value, e.Value)
		var hit bool
		switch e.Op {
		case wire.EQ:
			hit = cmp == 0
		case wire.GTE:
			hit = cmp >= 0
		case wire.GT:
			hit = cmp > 0
		case wire.LTE:
			hit = cmp <= 0
		case wire.LT:
			hit = cmp < 0
		}
		if !hit {
			return false
		}
	}
	return true
}

// deleteColumns removes the cells of list written at or before ts. A nil names
// set removes every such cell.
func deleteColumns(list *skipList[*cell], names [][]byte, ts int64) {
	if list == nil {
		return
	}
	if names != nil {
		for _, name := range names {
			if c, ok := list.Get(name); ok && c.timestamp <= ts {
				list.Delete(name)
			}
		}
		return
	}
	for n := list.Front(); n != nil; {
		next := n.Next()
		if n.value.timestamp <= ts {
			list.Delete(n.key)
		}
		n = next
	}
}
