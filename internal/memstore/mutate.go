package memstore

import (
	"math"
	"slices"

	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

// prepare validates a mutating request against the schema and returns the
// function that applies it. Nothing is changed until apply runs.
func (s *Store) prepare(req wire.Request) (apply func(), err error) {
	switch r := req.(type) {
	case *wire.BatchMutateRequest:
		return s.prepareBatch(r)
	case *wire.RemoveRequest:
		t, err := s.table(r.Path.ColumnFamily)
		if err != nil {
			return nil, err
		}
		if t.counter {
			return nil, invalid("column family %s holds counters: use remove_counter", t.def.Name)
		}
		if err := checkPath(t, r.Path); err != nil {
			return nil, err
		}
		return func() { t.removePath(r.Key, r.Path, r.Timestamp) }, nil
	case *wire.RemoveCounterRequest:
		t, err := s.table(r.Path.ColumnFamily)
		if err != nil {
			return nil, err
		}
		if !t.counter {
			return nil, invalid("column family %s does not hold counters", t.def.Name)
		}
		if err := checkPath(t, r.Path); err != nil {
			return nil, err
		}
		return func() { t.removePath(r.Key, r.Path, math.MaxInt64) }, nil
	case *wire.AddRequest:
		t, err := s.table(r.Parent.ColumnFamily)
		if err != nil {
			return nil, err
		}
		if !t.counter {
			return nil, invalid("column family %s does not hold counters", t.def.Name)
		}
		if err := checkParent(t, r.Parent.SuperColumn); err != nil {
			return nil, err
		}
		if len(r.Column.Name) == 0 {
			return nil, invalid("counter column name must not be empty")
		}
		return func() { t.add(r.Key, r.Parent.SuperColumn, r.Column) }, nil
	case *wire.TruncateRequest:
		t, err := s.table(r.ColumnFamily)
		if err != nil {
			return nil, err
		}
		return func() {
			t.rows = make(map[string]*row)
			t.filter.ClearAll()
		}, nil
	}
	return nil, invalid("%s is not a mutation", req.Command())
}

func checkParent(t *table, super []byte) error {
	if t.super() && super == nil {
		return invalid("column family %s is a super column family: a super column is required", t.def.Name)
	}
	if !t.super() && super != nil {
		return invalid("column family %s is not a super column family", t.def.Name)
	}
	return nil
}

func checkPath(t *table, path wire.ColumnPath) error {
	if path.SuperColumn != nil && !t.super() {
		return invalid("column family %s is not a super column family", t.def.Name)
	}
	if path.Column != nil && path.SuperColumn == nil && t.super() {
		return invalid("column family %s is a super column family: a super column is required", t.def.Name)
	}
	return nil
}

func (s *Store) prepareBatch(r *wire.BatchMutateRequest) (func(), error) {
	var steps []func()
	for key, families := range r.Mutations {
		rawKey := []byte(key)
		for name, mutations := range families {
			t, err := s.table(name)
			if err != nil {
				return nil, err
			}
			for _, m := range mutations {
				step, err := t.prepareMutation(rawKey, m)
				if err != nil {
					return nil, err
				}
				steps = append(steps, step)
			}
		}
	}
	return func() {
		for _, step := range steps {
			step()
		}
	}, nil
}

func (t *table) prepareMutation(key []byte, m wire.Mutation) (func(), error) {
	switch {
	case m.ColumnOrSuperColumn != nil && m.Deletion != nil:
		return nil, invalid("mutation must set exactly one of column_or_supercolumn and deletion")
	case m.Deletion != nil:
		return t.prepareDeletion(key, *m.Deletion)
	case m.ColumnOrSuperColumn == nil:
		return nil, invalid("empty mutation")
	}

	cosc := m.ColumnOrSuperColumn
	switch {
	case cosc.Column != nil && !t.counter && !t.super():
		c := *cosc.Column
		return func() { t.put(key, nil, c) }, nil
	case cosc.SuperColumn != nil && !t.counter && t.super():
		sc := *cosc.SuperColumn
		return func() {
			for _, c := range sc.Columns {
				t.put(key, sc.Name, c)
			}
		}, nil
	case cosc.CounterColumn != nil && t.counter && !t.super():
		cc := *cosc.CounterColumn
		return func() { t.add(key, nil, cc) }, nil
	case cosc.CounterSuperColumn != nil && t.counter && t.super():
		sc := *cosc.CounterSuperColumn
		return func() {
			for _, cc := range sc.Columns {
				t.add(key, sc.Name, cc)
			}
		}, nil
	}
	return nil, invalid("mutation does not match the type of column family %s", t.def.Name)
}

func (t *table) prepareDeletion(key []byte, d wire.Deletion) (func(), error) {
	ts := int64(math.MaxInt64)
	if !t.counter {
		if d.Timestamp == nil {
			return nil, invalid("deletion timestamp is required")
		}
		ts = *d.Timestamp
	}
	if d.SuperColumn != nil && !t.super() {
		return nil, invalid("column family %s is not a super column family", t.def.Name)
	}
	var names [][]byte
	if d.Predicate != nil {
		if d.Predicate.SliceRange != nil {
			return nil, invalid("deletions by slice range are not supported")
		}
		names = d.Predicate.ColumnNames
	}
	path := wire.ColumnPath{ColumnFamily: t.def.Name, SuperColumn: d.SuperColumn}
	return func() {
		if names == nil {
			t.removePath(key, path, ts)
			return
		}
		r := t.row(key)
		if r == nil {
			return
		}
		if d.SuperColumn == nil && t.super() {
			for _, name := range names {
				t.removePath(key, wire.ColumnPath{ColumnFamily: t.def.Name, SuperColumn: name}, ts)
			}
			return
		}
		deleteColumns(t.columns(r, d.SuperColumn, false), names, ts)
		t.dropIfEmpty(key, r)
	}, nil
}

func (t *table) put(key, super []byte, c wire.Column) {
	list := t.columns(t.mustRow(key), super, true)
	if old, ok := list.Get(c.Name); ok && old.timestamp > c.Timestamp {
		return
	}
	list.Set(slices.Clone(c.Name), &cell{value: slices.Clone(c.Value), timestamp: c.Timestamp, ttl: c.TTL})
}

func (t *table) add(key, super []byte, cc wire.CounterColumn) {
	list := t.columns(t.mustRow(key), super, true)
	if old, ok := list.Get(cc.Name); ok {
		old.counter += cc.Value
		return
	}
	list.Set(slices.Clone(cc.Name), &cell{counter: cc.Value})
}

// removePath deletes what path addresses, keeping cells written after ts.
func (t *table) removePath(key []byte, path wire.ColumnPath, ts int64) {
	r := t.row(key)
	if r == nil {
		return
	}
	switch {
	case path.SuperColumn == nil && path.Column == nil:
		deleteColumns(r.columns, nil, ts)
		for n := r.supers.Front(); n != nil; n = n.Next() {
			deleteColumns(n.value, nil, ts)
		}
	case path.SuperColumn == nil:
		deleteColumns(r.columns, [][]byte{path.Column}, ts)
	case path.Column == nil:
		deleteColumns(t.columns(r, path.SuperColumn, false), nil, ts)
	default:
		deleteColumns(t.columns(r, path.SuperColumn, false), [][]byte{path.Column}, ts)
	}
	t.dropIfEmpty(key, r)
}
