package cf

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"github.com/flynnfc/helenus/internal/memstore"
	"github.com/flynnfc/helenus/pkg/helenus/consistency"
	"github.com/flynnfc/helenus/pkg/helenus/marshal"
	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

var (
	people = wire.CfDef{
		Name:                   "people",
		ColumnType:             "Standard",
		ComparatorType:         "UTF8Type",
		DefaultValidationClass: "BytesType",
		KeyValidationClass:     "LongType",
		ColumnMetadata: []wire.ColumnDef{
			{Name: []byte("age"), ValidationClass: "LongType"},
			{Name: []byte("state"), ValidationClass: "UTF8Type", IndexType: "KEYS"},
		},
	}
	pageViews = wire.CfDef{
		Name:                   "page_views",
		ColumnType:             "Standard",
		ComparatorType:         "UTF8Type",
		DefaultValidationClass: "CounterColumnType",
		KeyValidationClass:     "UTF8Type",
		ColumnMetadata: []wire.ColumnDef{
			{Name: []byte("visits"), ValidationClass: "UTF8Type"},
		},
	}
	timeline = wire.CfDef{
		Name:                   "timeline",
		ColumnType:             "Standard",
		ComparatorType:         "CompositeType(LongType,UTF8Type)",
		DefaultValidationClass: "UTF8Type",
		KeyValidationClass:     "UTF8Type",
	}
	inbox = wire.CfDef{
		Name:                   "inbox",
		ColumnType:             "Super",
		ComparatorType:         "UTF8Type",
		SubcomparatorType:      "UTF8Type",
		DefaultValidationClass: "UTF8Type",
		KeyValidationClass:     "UTF8Type",
	}
)

type fixture struct {
	store *memstore.Store
	clock *clock.Mock
	ks    *Keyspace
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store, err := memstore.New("app", []wire.CfDef{people, pageViews, timeline, inbox}, memstore.WithClock(mock))
	require.NoError(t, err)
	return &fixture{store: store, clock: mock, ks: NewKeyspace("app", store, WithClock(mock))}
}

func (f *fixture) family(t *testing.T, name string) *ColumnFamily {
	t.Helper()
	c, err := f.ks.ColumnFamily(context.Background(), name)
	require.NoError(t, err)
	return c
}

// recorder captures every request and fails each one with err.
type recorder struct {
	requests []wire.Request
	err      error
}

func (r *recorder) Execute(_ context.Context, req wire.Request, _ any) error {
	r.requests = append(r.requests, req)
	return r.err
}

func TestValidatorOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.family(t, "people")

	require.Equal(t, marshal.LongKind, c.ValueCodec([]byte("age")).Kind())
	require.Equal(t, marshal.BytesKind, c.ValueCodec([]byte("nickname")).Kind())

	err := c.InsertMap(ctx, 1, map[string]any{"age": 42, "nickname": []byte("bobby")}, nil)
	require.NoError(t, err)

	row, err := c.Get(ctx, 1, nil)
	require.NoError(t, err)
	require.Equal(t, int64(42), row.Value("age"))
	require.Equal(t, []byte("bobby"), row.Value("nickname"))

	// A value the override cannot encode fails before anything is sent.
	err = c.InsertMap(ctx, 1, map[string]any{"age": "forty"}, nil)
	var ce *marshal.CodecError
	require.ErrorAs(t, err, &ce)
}

func TestAddValidator(t *testing.T) {
	f := newFixture(t)
	c := f.family(t, "people")
	require.NoError(t, c.AddValidator([]byte("score"), "DoubleType"))
	require.Equal(t, marshal.DoubleKind, c.ValueCodec([]byte("score")).Kind())
	require.Error(t, c.AddValidator([]byte("broken"), "CompositeType("))
}

func TestCounterBypassesValidators(t *testing.T) {
	rec := &recorder{}
	c, err := NewColumnFamily(pageViews, rec)
	require.NoError(t, err)
	require.True(t, c.IsCounter())

	require.NoError(t, c.Incr(context.Background(), "home", "visits", 5, nil))
	require.Len(t, rec.requests, 1)
	add, ok := rec.requests[0].(*wire.AddRequest)
	require.True(t, ok)
	require.Equal(t, int64(5), add.Column.Value)
	require.Equal(t, []byte("visits"), add.Column.Name)
	require.Equal(t, []byte("home"), add.Key)
	require.Equal(t, consistency.QUORUM, add.Consistency)
}

func TestCounterReadsAndRemoval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.family(t, "page_views")

	require.NoError(t, c.Incr(ctx, "home", "visits", 5, nil))
	require.NoError(t, c.Increment(ctx, "home", "visits", nil))
	require.NoError(t, c.Insert(ctx, "home", []Writable{NewCounterColumn("clicks", 2)}, nil))

	row, err := c.Get(ctx, "home", nil)
	require.NoError(t, err)
	require.Equal(t, int64(6), row.Value("visits"))
	require.Equal(t, int64(2), row.Value("clicks"))

	require.NoError(t, c.RemoveColumn(ctx, "home", "visits", nil))
	n, err := c.Count(ctx, "home", nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestGetKeepsCallerKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.family(t, "people")

	require.NoError(t, c.InsertMap(ctx, "7", map[string]any{"state": "UT"}, nil))
	require.NoError(t, c.InsertMap(ctx, 9, map[string]any{"state": "CA"}, nil))

	row, err := c.Get(ctx, "7", nil)
	require.NoError(t, err)
	require.Equal(t, "7", row.Key)
	require.Equal(t, "UT", row.Value("state"))

	rows, err := c.GetIndexed(ctx, IndexQuery{Fields: []IndexField{{Column: "state", Operator: wire.EQ, Value: "UT"}}}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(7), rows[0].Key)
	require.Equal(t, "UT", rows[0].Value("state"))
}

func TestSlicePredicateShapes(t *testing.T) {
	names := marshal.MustParse("UTF8Type")

	p, err := SlicePredicate(names, ReadOptions{Columns: []any{"a", "b"}})
	require.NoError(t, err)
	require.Nil(t, p.SliceRange)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, p.ColumnNames)

	p, err = SlicePredicate(names, ReadOptions{Start: "a", End: "m"})
	require.NoError(t, err)
	require.Nil(t, p.ColumnNames)
	require.NotNil(t, p.SliceRange)
	require.Equal(t, []byte("a"), p.SliceRange.Start)
	require.Equal(t, []byte("m"), p.SliceRange.Finish)
	require.Equal(t, int32(DefaultMax), p.SliceRange.Count)

	p, err = SlicePredicate(names, ReadOptions{Max: 5, Reversed: true})
	require.NoError(t, err)
	require.Empty(t, p.SliceRange.Start)
	require.Empty(t, p.SliceRange.Finish)
	require.True(t, p.SliceRange.Reversed)
	require.Equal(t, int32(5), p.SliceRange.Count)

	p, err = SlicePredicate(names, ReadOptions{Max: math.MaxInt32 + 1})
	require.NoError(t, err)
	require.Equal(t, int32(math.MaxInt32), p.SliceRange.Count)
}

func TestWireCount(t *testing.T) {
	require.Equal(t, int32(DefaultMax), wireCount(0))
	require.Equal(t, int32(DefaultMax), wireCount(-4))
	require.Equal(t, int32(7), wireCount(7))
	require.Equal(t, int32(math.MaxInt32), wireCount(math.MaxInt32))
	require.Equal(t, int32(math.MaxInt32), wireCount(math.MaxInt64))
}

func TestCompositeRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.family(t, "timeline")

	cols := []Writable{
		NewColumn([]any{1, "a"}, "one-a", time.Time{}, 0),
		NewColumn([]any{1, "b"}, "one-b", time.Time{}, 0),
		NewColumn([]any{2, "a"}, "two-a", time.Time{}, 0),
		NewColumn([]any{0, "z"}, "zero-z", time.Time{}, 0),
	}
	require.NoError(t, c.Insert(ctx, "feed", cols, nil))

	row, err := c.Get(ctx, "feed", &ReadOptions{Start: []any{1}, End: []any{1}})
	require.NoError(t, err)
	require.Equal(t, 2, row.Count())
	require.Equal(t, "one-a", row.Value([]any{int64(1), "a"}))
	require.Equal(t, "one-b", row.Value([]any{int64(1), "b"}))

	row, err = c.Get(ctx, "feed", &ReadOptions{Start: marshal.Exclusive([]any{1}), Reversed: true})
	require.NoError(t, err)
	require.Equal(t, []any{[]any{int64(0), "z"}}, colNames(row))

	row, err = c.Get(ctx, "feed", &ReadOptions{Reversed: true, Max: 2})
	require.NoError(t, err)
	require.Equal(t, "two-a", row.At(0).Value)
	require.Equal(t, "one-b", row.At(1).Value)
}

func TestTimestampsAndTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.family(t, "people")

	require.NoError(t, c.InsertMap(ctx, 1, map[string]any{"state": "UT"}, &WriteOptions{TTL: 1500 * time.Millisecond}))
	row, err := c.Get(ctx, 1, nil)
	require.NoError(t, err)
	col, ok := row.Get("state")
	require.True(t, ok)
	require.True(t, f.clock.Now().Equal(col.Timestamp))
	require.Equal(t, 2*time.Second, col.TTL)

	f.clock.Add(2 * time.Second)
	row, err = c.Get(ctx, 1, nil)
	require.NoError(t, err)
	require.Equal(t, 0, row.Count())
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.family(t, "people")

	require.NoError(t, c.InsertMap(ctx, 1, map[string]any{"state": "UT", "age": 30}, nil))
	require.NoError(t, c.RemoveColumn(ctx, 1, "state", nil))
	row, err := c.Get(ctx, 1, nil)
	require.NoError(t, err)
	require.Equal(t, []any{"age"}, colNames(row))

	require.NoError(t, c.RemoveRow(ctx, 1, nil))
	n, err := c.Count(ctx, 1, nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSuperFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.family(t, "inbox")
	require.True(t, c.IsSuper())

	opts := &WriteOptions{SuperColumn: "2024-05"}
	require.NoError(t, c.InsertMap(ctx, "alice", map[string]any{"subject": "hi", "from": "bob"}, opts))

	row, err := c.Get(ctx, "alice", &ReadOptions{SuperColumn: "2024-05"})
	require.NoError(t, err)
	require.Equal(t, []any{"from", "subject"}, colNames(row))

	_, err = c.Get(ctx, "alice", nil)
	require.Error(t, err)
	require.Error(t, c.InsertMap(ctx, "alice", map[string]any{"x": "y"}, nil))

	require.NoError(t, c.RemoveSubcolumn(ctx, "alice", "2024-05", "from", nil))
	row, err = c.Get(ctx, "alice", &ReadOptions{SuperColumn: "2024-05"})
	require.NoError(t, err)
	require.Equal(t, []any{"subject"}, colNames(row))

	require.NoError(t, c.RemoveColumn(ctx, "alice", "2024-05", nil))
	row, err = c.Get(ctx, "alice", &ReadOptions{SuperColumn: "2024-05"})
	require.NoError(t, err)
	require.Zero(t, row.Count())

	plain := f.family(t, "people")
	require.Error(t, plain.RemoveSubcolumn(ctx, 1, "x", "y", nil))
	_, err = plain.Get(ctx, 1, &ReadOptions{SuperColumn: "x"})
	require.Error(t, err)
}

func TestTruncate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.family(t, "people")
	require.NoError(t, c.InsertMap(ctx, 1, map[string]any{"state": "UT"}, nil))
	require.NoError(t, c.Truncate(ctx))
	n, err := c.Count(ctx, 1, nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestErrorTagging(t *testing.T) {
	ctx := context.Background()

	rec := &recorder{err: errors.New("connection reset")}
	c, err := NewColumnFamily(people, rec)
	require.NoError(t, err)
	_, err = c.Get(ctx, 1, nil)
	var pe *wire.ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, wire.Transport, pe.Kind)
	require.Equal(t, wire.CmdGetSlice, pe.Command)

	rec.err = &wire.ProtocolError{Kind: wire.TimedOut, Message: "timed out"}
	err = c.Insert(ctx, 1, []Writable{NewColumn("state", "UT", time.Time{}, 0)}, nil)
	require.ErrorAs(t, err, &pe)
	require.Equal(t, wire.TimedOut, pe.Kind)
	require.Equal(t, wire.CmdBatchMutate, pe.Command)

	rec.err = context.DeadlineExceeded
	_, err = c.Count(ctx, 1, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	f := newFixture(t)
	missing, err := NewColumnFamily(wire.CfDef{Name: "missing"}, f.store)
	require.NoError(t, err)
	_, err = missing.Get(ctx, []byte("k"), nil)
	require.ErrorAs(t, err, &pe)
	require.Equal(t, wire.InvalidRequest, pe.Kind)
	require.Equal(t, wire.CmdGetSlice, pe.Command)
}

func TestConsistencyLevels(t *testing.T) {
	rec := &recorder{}
	c, err := NewColumnFamily(people, rec, WithReadConsistency(consistency.ONE), WithWriteConsistency(consistency.ALL))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, 1, nil)
	require.NoError(t, err)
	_, err = c.Get(ctx, 1, &ReadOptions{Consistency: consistency.TWO})
	require.NoError(t, err)
	require.NoError(t, c.RemoveRow(ctx, 1, nil))

	require.Equal(t, consistency.ONE, rec.requests[0].(*wire.GetSliceRequest).Consistency)
	require.Equal(t, consistency.TWO, rec.requests[1].(*wire.GetSliceRequest).Consistency)
	require.Equal(t, consistency.ALL, rec.requests[2].(*wire.RemoveRequest).Consistency)
}

func TestKeyspace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def, err := f.ks.Describe(ctx)
	require.NoError(t, err)
	require.Len(t, def.CfDefs, 4)

	a := f.family(t, "people")
	b := f.family(t, "people")
	require.Same(t, a, b)

	_, err = f.ks.ColumnFamily(ctx, "nope")
	var nf *wire.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "column family", nf.What)

	require.NoError(t, f.store.DefineColumnFamily(wire.CfDef{Name: "late"}))
	_, err = f.ks.ColumnFamily(ctx, "late")
	require.ErrorAs(t, err, &nf)
	f.ks.Refresh()
	_, err = f.ks.ColumnFamily(ctx, "late")
	require.NoError(t, err)

	_, err = NewKeyspace("other", f.store).ColumnFamily(ctx, "people")
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "keyspace", nf.What)
}
