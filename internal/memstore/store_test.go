package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flynnfc/helenus/pkg/helenus/marshal"
	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

var (
	users = wire.CfDef{
		Name:                   "users",
		ColumnType:             "Standard",
		ComparatorType:         "UTF8Type",
		DefaultValidationClass: "UTF8Type",
		KeyValidationClass:     "UTF8Type",
		ColumnMetadata: []wire.ColumnDef{
			{Name: []byte("state"), ValidationClass: "UTF8Type", IndexType: "KEYS"},
			{Name: []byte("age"), ValidationClass: "LongType"},
		},
	}
	events = wire.CfDef{
		Name:                   "events",
		ColumnType:             "Standard",
		ComparatorType:         "LongType",
		DefaultValidationClass: "BytesType",
	}
	visits = wire.CfDef{
		Name:                   "visits",
		ColumnType:             "Standard",
		ComparatorType:         "UTF8Type",
		DefaultValidationClass: "CounterColumnType",
	}
	posts = wire.CfDef{
		Name:                   "posts",
		ColumnType:             "Super",
		ComparatorType:         "UTF8Type",
		SubcomparatorType:      "UTF8Type",
		DefaultValidationClass: "UTF8Type",
	}
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New("app", []wire.CfDef{users, events, visits, posts}, opts...)
	require.NoError(t, err)
	return s
}

func long(n int64) []byte {
	b, err := marshal.MustParse("LongType").Serialize(n)
	if err != nil {
		panic(err)
	}
	return b
}

func insert(t *testing.T, s *Store, family string, key string, cols ...wire.Column) {
	t.Helper()
	muts := make([]wire.Mutation, len(cols))
	for i := range cols {
		muts[i] = wire.Mutation{ColumnOrSuperColumn: &wire.ColumnOrSuperColumn{Column: &cols[i]}}
	}
	req := &wire.BatchMutateRequest{Mutations: wire.MutationMap{key: {family: muts}}}
	require.NoError(t, s.Execute(context.Background(), req, nil))
}

func slice(t *testing.T, s *Store, family, key string, pred wire.SlicePredicate) []wire.ColumnOrSuperColumn {
	t.Helper()
	var out []wire.ColumnOrSuperColumn
	req := &wire.GetSliceRequest{Key: []byte(key), Parent: wire.ColumnParent{ColumnFamily: family}, Predicate: pred}
	require.NoError(t, s.Execute(context.Background(), req, &out))
	return out
}

func all(count int32) wire.SlicePredicate {
	return wire.SlicePredicate{SliceRange: &wire.SliceRange{Count: count}}
}

func names(items []wire.ColumnOrSuperColumn) []string {
	out := make([]string, len(items))
	for i, item := range items {
		switch {
		case item.Column != nil:
			out[i] = string(item.Column.Name)
		case item.CounterColumn != nil:
			out[i] = string(item.CounterColumn.Name)
		case item.SuperColumn != nil:
			out[i] = string(item.SuperColumn.Name)
		}
	}
	return out
}

func requireKind(t *testing.T, err error, kind string) {
	t.Helper()
	var pe *wire.ProtocolError
	require.True(t, errors.As(err, &pe), "expected ProtocolError, got %v", err)
	require.Equal(t, kind, pe.Kind)
}

func TestColumnsComeBackInComparatorOrder(t *testing.T) {
	s := newStore(t)
	insert(t, s, "events", "k",
		wire.Column{Name: long(10), Value: []byte("ten"), Timestamp: 1},
		wire.Column{Name: long(-3), Value: []byte("minus three"), Timestamp: 1},
		wire.Column{Name: long(2), Value: []byte("two"), Timestamp: 1},
	)

	out := slice(t, s, "events", "k", all(100))
	require.Len(t, out, 3)
	require.Equal(t, long(-3), out[0].Column.Name)
	require.Equal(t, long(2), out[1].Column.Name)
	require.Equal(t, long(10), out[2].Column.Name)
}

func TestSliceRange(t *testing.T) {
	s := newStore(t)
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		insert(t, s, "users", "k", wire.Column{Name: []byte(n), Value: []byte(n), Timestamp: 1})
	}

	out := slice(t, s, "users", "k", wire.SlicePredicate{SliceRange: &wire.SliceRange{Start: []byte("b"), Finish: []byte("d"), Count: 100}})
	require.Equal(t, []string{"b", "c", "d"}, names(out))

	out = slice(t, s, "users", "k", wire.SlicePredicate{SliceRange: &wire.SliceRange{Start: []byte("b"), Count: 2}})
	require.Equal(t, []string{"b", "c"}, names(out))

	out = slice(t, s, "users", "k", wire.SlicePredicate{SliceRange: &wire.SliceRange{Start: []byte("d"), Finish: []byte("b"), Reversed: true, Count: 100}})
	require.Equal(t, []string{"d", "c", "b"}, names(out))

	out = slice(t, s, "users", "k", wire.SlicePredicate{SliceRange: &wire.SliceRange{Reversed: true, Count: 2}})
	require.Equal(t, []string{"e", "d"}, names(out))

	out = slice(t, s, "users", "k", wire.SlicePredicate{ColumnNames: [][]byte{[]byte("e"), []byte("a"), []byte("zz")}})
	require.Equal(t, []string{"a", "e"}, names(out))

	var n int32
	req := &wire.GetCountRequest{Key: []byte("k"), Parent: wire.ColumnParent{ColumnFamily: "users"}, Predicate: all(100)}
	require.NoError(t, s.Execute(context.Background(), req, &n))
	require.Equal(t, int32(5), n)
}

func TestMissingRowIsEmpty(t *testing.T) {
	s := newStore(t)
	out := slice(t, s, "users", "nobody", all(100))
	require.NotNil(t, out)
	require.Empty(t, out)
}

func TestLastWriteWins(t *testing.T) {
	s := newStore(t)
	insert(t, s, "users", "k", wire.Column{Name: []byte("name"), Value: []byte("new"), Timestamp: 20})
	insert(t, s, "users", "k", wire.Column{Name: []byte("name"), Value: []byte("old"), Timestamp: 10})

	out := slice(t, s, "users", "k", all(100))
	require.Equal(t, []byte("new"), out[0].Column.Value)
}

func TestTTLExpiry(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1000, 0))
	s := newStore(t, WithClock(mock))

	ttl := uint32(10)
	insert(t, s, "users", "k",
		wire.Column{Name: []byte("session"), Value: []byte("x"), Timestamp: mock.Now().UnixMicro(), TTL: &ttl},
		wire.Column{Name: []byte("name"), Value: []byte("y"), Timestamp: mock.Now().UnixMicro()},
	)
	require.Equal(t, []string{"name", "session"}, names(slice(t, s, "users", "k", all(100))))

	mock.Add(9 * time.Second)
	require.Len(t, slice(t, s, "users", "k", all(100)), 2)

	mock.Add(time.Second)
	require.Equal(t, []string{"name"}, names(slice(t, s, "users", "k", all(100))))
}

func TestRemove(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	insert(t, s, "users", "k",
		wire.Column{Name: []byte("a"), Value: []byte("1"), Timestamp: 10},
		wire.Column{Name: []byte("b"), Value: []byte("2"), Timestamp: 30},
	)

	// Older deletions do not shadow newer writes.
	err := s.Execute(ctx, &wire.RemoveRequest{Key: []byte("k"), Path: wire.ColumnPath{ColumnFamily: "users"}, Timestamp: 20}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, names(slice(t, s, "users", "k", all(100))))

	err = s.Execute(ctx, &wire.RemoveRequest{Key: []byte("k"), Path: wire.ColumnPath{ColumnFamily: "users", Column: []byte("b")}, Timestamp: 30}, nil)
	require.NoError(t, err)
	require.Empty(t, slice(t, s, "users", "k", all(100)))
}

func TestBatchDeletion(t *testing.T) {
	s := newStore(t)
	insert(t, s, "users", "k",
		wire.Column{Name: []byte("a"), Value: []byte("1"), Timestamp: 1},
		wire.Column{Name: []byte("b"), Value: []byte("2"), Timestamp: 1},
	)
	ts := int64(5)
	del := wire.Mutation{Deletion: &wire.Deletion{Timestamp: &ts, Predicate: &wire.SlicePredicate{ColumnNames: [][]byte{[]byte("a")}}}}
	req := &wire.BatchMutateRequest{Mutations: wire.MutationMap{"k": {"users": {del}}}}
	require.NoError(t, s.Execute(context.Background(), req, nil))
	require.Equal(t, []string{"b"}, names(slice(t, s, "users", "k", all(100))))

	noTS := wire.Mutation{Deletion: &wire.Deletion{}}
	err := s.Execute(context.Background(), &wire.BatchMutateRequest{Mutations: wire.MutationMap{"k": {"users": {noTS}}}}, nil)
	requireKind(t, err, wire.InvalidRequest)
}

func TestBatchIsAllOrNothing(t *testing.T) {
	s := newStore(t)
	good := wire.Mutation{ColumnOrSuperColumn: &wire.ColumnOrSuperColumn{Column: &wire.Column{Name: []byte("a"), Value: []byte("1"), Timestamp: 1}}}
	req := &wire.BatchMutateRequest{Mutations: wire.MutationMap{"k": {"users": {good}, "missing": {good}}}}
	requireKind(t, s.Execute(context.Background(), req, nil), wire.InvalidRequest)
	require.Empty(t, slice(t, s, "users", "k", all(100)))
}

func TestCounters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	add := func(delta int64) {
		req := &wire.AddRequest{Key: []byte("page"), Parent: wire.ColumnParent{ColumnFamily: "visits"}, Column: wire.CounterColumn{Name: []byte("hits"), Value: delta}}
		require.NoError(t, s.Execute(ctx, req, nil))
	}
	add(5)
	add(-2)

	out := slice(t, s, "visits", "page", all(100))
	require.Len(t, out, 1)
	require.Equal(t, int64(3), out[0].CounterColumn.Value)

	err := s.Execute(ctx, &wire.RemoveCounterRequest{Key: []byte("page"), Path: wire.ColumnPath{ColumnFamily: "visits", Column: []byte("hits")}}, nil)
	require.NoError(t, err)
	require.Empty(t, slice(t, s, "visits", "page", all(100)))

	err = s.Execute(ctx, &wire.AddRequest{Key: []byte("k"), Parent: wire.ColumnParent{ColumnFamily: "users"}, Column: wire.CounterColumn{Name: []byte("x"), Value: 1}}, nil)
	requireKind(t, err, wire.InvalidRequest)

	err = s.Execute(ctx, &wire.RemoveRequest{Key: []byte("page"), Path: wire.ColumnPath{ColumnFamily: "visits"}, Timestamp: 1}, nil)
	requireKind(t, err, wire.InvalidRequest)
}

func TestSuperColumns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sc := wire.SuperColumn{Name: []byte("2024"), Columns: []wire.Column{
		{Name: []byte("title"), Value: []byte("hello"), Timestamp: 1},
		{Name: []byte("body"), Value: []byte("world"), Timestamp: 1},
	}}
	req := &wire.BatchMutateRequest{Mutations: wire.MutationMap{"alice": {"posts": {{ColumnOrSuperColumn: &wire.ColumnOrSuperColumn{SuperColumn: &sc}}}}}}
	require.NoError(t, s.Execute(ctx, req, nil))

	var sub []wire.ColumnOrSuperColumn
	get := &wire.GetSliceRequest{Key: []byte("alice"), Parent: wire.ColumnParent{ColumnFamily: "posts", SuperColumn: []byte("2024")}, Predicate: all(100)}
	require.NoError(t, s.Execute(ctx, get, &sub))
	require.Equal(t, []string{"body", "title"}, names(sub))

	supers := slice(t, s, "posts", "alice", all(100))
	require.Equal(t, []string{"2024"}, names(supers))
	require.Len(t, supers[0].SuperColumn.Columns, 2)

	rm := &wire.RemoveRequest{Key: []byte("alice"), Path: wire.ColumnPath{ColumnFamily: "posts", SuperColumn: []byte("2024"), Column: []byte("body")}, Timestamp: 1}
	require.NoError(t, s.Execute(ctx, rm, nil))
	require.NoError(t, s.Execute(ctx, get, &sub))
	require.Equal(t, []string{"title"}, names(sub))

	rm = &wire.RemoveRequest{Key: []byte("alice"), Path: wire.ColumnPath{ColumnFamily: "posts", SuperColumn: []byte("2024")}, Timestamp: 1}
	require.NoError(t, s.Execute(ctx, rm, nil))
	require.Empty(t, slice(t, s, "posts", "alice", all(100)))

	plain := &wire.BatchMutateRequest{Mutations: wire.MutationMap{"alice": {"posts": {{ColumnOrSuperColumn: &wire.ColumnOrSuperColumn{Column: &wire.Column{Name: []byte("x"), Timestamp: 1}}}}}}}
	requireKind(t, s.Execute(ctx, plain, nil), wire.InvalidRequest)
}

func TestIndexedSlices(t *testing.T) {
	s := newStore(t)
	for key, state := range map[string]string{"carol": "UT", "alice": "UT", "bob": "CA"} {
		insert(t, s, "users", key,
			wire.Column{Name: []byte("state"), Value: []byte(state), Timestamp: 1},
			wire.Column{Name: []byte("age"), Value: long(int64(len(key))), Timestamp: 1},
		)
	}

	var out []wire.KeySlice
	req := &wire.GetIndexedSlicesRequest{
		Parent:    wire.ColumnParent{ColumnFamily: "users"},
		Clause:    wire.IndexClause{Expressions: []wire.IndexExpression{{ColumnName: []byte("state"), Op: wire.EQ, Value: []byte("UT")}}, Count: 100},
		Predicate: all(100),
	}
	require.NoError(t, s.Execute(context.Background(), req, &out))
	require.Len(t, out, 2)
	require.Equal(t, []byte("alice"), out[0].Key)
	require.Equal(t, []byte("carol"), out[1].Key)

	req.Clause.Expressions = append(req.Clause.Expressions, wire.IndexExpression{ColumnName: []byte("age"), Op: wire.LT, Value: long(5)})
	require.NoError(t, s.Execute(context.Background(), req, &out))
	require.Empty(t, out)

	req.Clause.Expressions = []wire.IndexExpression{{ColumnName: []byte("age"), Op: wire.EQ, Value: long(3)}}
	requireKind(t, s.Execute(context.Background(), req, &out), wire.InvalidRequest)
}

func TestTruncate(t *testing.T) {
	s := newStore(t)
	insert(t, s, "users", "k", wire.Column{Name: []byte("a"), Value: []byte("1"), Timestamp: 1})
	require.NoError(t, s.Execute(context.Background(), &wire.TruncateRequest{ColumnFamily: "users"}, nil))
	require.Empty(t, slice(t, s, "users", "k", all(100)))

	insert(t, s, "users", "k", wire.Column{Name: []byte("a"), Value: []byte("2"), Timestamp: 1})
	require.Len(t, slice(t, s, "users", "k", all(100)), 1)
}

func TestDescribeKeyspace(t *testing.T) {
	s := newStore(t)
	var def wire.KsDef
	require.NoError(t, s.Execute(context.Background(), &wire.DescribeKeyspaceRequest{Keyspace: "app"}, &def))
	require.Equal(t, "app", def.Name)
	require.Len(t, def.CfDefs, 4)
	require.Equal(t, "users", def.CfDefs[0].Name)
	require.Equal(t, "app", def.CfDefs[0].Keyspace)

	err := s.Execute(context.Background(), &wire.DescribeKeyspaceRequest{Keyspace: "other"}, &def)
	requireKind(t, err, wire.NotFound)
}

func TestUnknownFamilyAndBadReply(t *testing.T) {
	s := newStore(t)
	var out []wire.ColumnOrSuperColumn
	err := s.Execute(context.Background(), &wire.GetSliceRequest{Key: []byte("k"), Parent: wire.ColumnParent{ColumnFamily: "nope"}, Predicate: all(1)}, &out)
	requireKind(t, err, wire.InvalidRequest)

	var wrong int32
	err = s.Execute(context.Background(), &wire.GetSliceRequest{Key: []byte("k"), Parent: wire.ColumnParent{ColumnFamily: "users"}, Predicate: all(1)}, &wrong)
	requireKind(t, err, wire.Application)
}

func TestDefineColumnFamilyTwice(t *testing.T) {
	s := newStore(t)
	require.Error(t, s.DefineColumnFamily(users))
}

func TestCanceledContext(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Execute(ctx, &wire.TruncateRequest{ColumnFamily: "users"}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWALReplay(t *testing.T) {
	dir := t.TempDir()
	log, err := OpenWAL(dir, zap.NewNop())
	require.NoError(t, err)
	s := newStore(t, WithWAL(log))
	insert(t, s, "users", "bob",
		wire.Column{Name: []byte("state"), Value: []byte("ca"), Timestamp: 1},
		wire.Column{Name: []byte("age"), Value: long(41), Timestamp: 1},
	)
	insert(t, s, "users", "bob", wire.Column{Name: []byte("state"), Value: []byte("ny"), Timestamp: 2})
	insert(t, s, "events", "k", wire.Column{Name: long(1), Value: []byte("one"), Timestamp: 1})
	require.NoError(t, s.Execute(context.Background(), &wire.RemoveRequest{
		Key:       []byte("bob"),
		Path:      wire.ColumnPath{ColumnFamily: "users", Column: []byte("age")},
		Timestamp: 3,
	}, nil))
	require.NoError(t, s.Close())

	// Reopen without the events family: its records no longer apply.
	log, err = OpenWAL(dir, zap.NewNop())
	require.NoError(t, err)
	reopened, err := New("app", []wire.CfDef{users}, WithWAL(log))
	require.NoError(t, err)
	defer reopened.Close()

	out := slice(t, reopened, "users", "bob", all(100))
	require.Equal(t, []string{"state"}, names(out))
	require.Equal(t, []byte("ny"), out[0].Column.Value)

	var unknown []wire.ColumnOrSuperColumn
	err = reopened.Execute(context.Background(), &wire.GetSliceRequest{
		Key:       []byte("k"),
		Parent:    wire.ColumnParent{ColumnFamily: "events"},
		Predicate: all(100),
	}, &unknown)
	requireKind(t, err, wire.InvalidRequest)
}
