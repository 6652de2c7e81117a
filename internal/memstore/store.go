// Package memstore is an in-memory column family store that answers the same
// commands as a Cassandra node. Columns are kept in skiplists ordered by each
// family's comparator; mutations can be journaled to a write-ahead log.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/aarthikrao/wal"
	"github.com/raulk/clock"
	"go.uber.org/zap"

	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

const (
	defaultExpectedRows  = 100_000
	defaultFalsePositive = 0.01
)

// Store implements wire.Connection for a single keyspace.
type Store struct {
	keyspace string
	logger   *zap.Logger
	clock    clock.Clock
	log      *wal.WriteAheadLog

	expectedRows  uint
	falsePositive float64

	mu     sync.RWMutex
	tables map[string]*table
	order  []string
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the clock TTL expiry is measured against.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithWAL journals every accepted mutation to log and replays it on New.
func WithWAL(log *wal.WriteAheadLog) Option {
	return func(s *Store) { s.log = log }
}

// WithBloomEstimates sizes each family's row key filter.
func WithBloomEstimates(expectedRows uint, falsePositive float64) Option {
	return func(s *Store) {
		s.expectedRows = expectedRows
		s.falsePositive = falsePositive
	}
}

// New creates a store holding the given column families. When a write-ahead
// log is configured its records are replayed before New returns.
func New(keyspace string, defs []wire.CfDef, opts ...Option) (*Store, error) {
	s := &Store{
		keyspace:      keyspace,
		logger:        zap.NewNop(),
		clock:         clock.New(),
		expectedRows:  defaultExpectedRows,
		falsePositive: defaultFalsePositive,
		tables:        make(map[string]*table),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("keyspace", keyspace))

	for _, def := range defs {
		if err := s.DefineColumnFamily(def); err != nil {
			return nil, err
		}
	}
	if s.log != nil {
		if err := s.replay(); err != nil {
			return nil, fmt.Errorf("replaying write-ahead log: %w", err)
		}
	}
	return s, nil
}

// DefineColumnFamily adds a column family to the keyspace.
func (s *Store) DefineColumnFamily(def wire.CfDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[def.Name]; ok {
		return fmt.Errorf("column family %s already exists", def.Name)
	}
	def.Keyspace = s.keyspace
	t, err := newTable(def, s.expectedRows, s.falsePositive)
	if err != nil {
		return fmt.Errorf("column family %s: %w", def.Name, err)
	}
	s.tables[def.Name] = t
	s.order = append(s.order, def.Name)
	s.logger.Info("column family defined", zap.String("column_family", def.Name), zap.String("type", def.ColumnType))
	return nil
}

// Close flushes and closes the write-ahead log, if any.
func (s *Store) Close() error {
	if s.log == nil {
		return nil
	}
	return s.log.Close()
}

func invalid(format string, args ...any) error {
	return &wire.ProtocolError{Kind: wire.InvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func (s *Store) table(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, invalid("unconfigured column family %s", name)
	}
	return t, nil
}

func setReply[T any](reply any, v T) error {
	if reply == nil {
		return nil
	}
	p, ok := reply.(*T)
	if !ok {
		return &wire.ProtocolError{Kind: wire.Application, Message: fmt.Sprintf("reply must be %T, got %T", p, reply)}
	}
	*p = v
	return nil
}

// Execute runs one command against the store.
func (s *Store) Execute(ctx context.Context, req wire.Request, reply any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch r := req.(type) {
	case *wire.GetSliceRequest:
		s.mu.RLock()
		defer s.mu.RUnlock()
		items, err := s.getSlice(r.Key, r.Parent, r.Predicate)
		if err != nil {
			return err
		}
		return setReply(reply, items)
	case *wire.GetCountRequest:
		s.mu.RLock()
		defer s.mu.RUnlock()
		items, err := s.getSlice(r.Key, r.Parent, r.Predicate)
		if err != nil {
			return err
		}
		return setReply(reply, int32(len(items)))
	case *wire.GetIndexedSlicesRequest:
		s.mu.RLock()
		defer s.mu.RUnlock()
		keySlices, err := s.getIndexedSlices(r)
		if err != nil {
			return err
		}
		return setReply(reply, keySlices)
	case *wire.DescribeKeyspaceRequest:
		s.mu.RLock()
		defer s.mu.RUnlock()
		if r.Keyspace != s.keyspace {
			return &wire.ProtocolError{Kind: wire.NotFound, Message: fmt.Sprintf("keyspace %s does not exist", r.Keyspace)}
		}
		return setReply(reply, s.describe())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	apply, err := s.prepare(req)
	if err != nil {
		return err
	}
	if s.log != nil {
		if err := s.journal(req); err != nil {
			return &wire.ProtocolError{Kind: wire.Unavailable, Message: err.Error(), Err: err}
		}
	}
	apply()
	s.logger.Debug("mutation applied", zap.String("command", req.Command()))
	return nil
}

func (s *Store) describe() wire.KsDef {
	def := wire.KsDef{
		Name:          s.keyspace,
		StrategyClass: "org.apache.cassandra.locator.SimpleStrategy",
		CfDefs:        make([]wire.CfDef, 0, len(s.order)),
	}
	for _, name := range s.order {
		def.CfDefs = append(def.CfDefs, s.tables[name].def)
	}
	return def
}

func checkPredicate(p wire.SlicePredicate) error {
	if (p.SliceRange == nil) == (p.ColumnNames == nil) {
		return invalid("predicate must set exactly one of column_names and slice_range")
	}
	if p.SliceRange != nil && p.SliceRange.Count < 0 {
		return invalid("get_slice requires non-negative count")
	}
	return nil
}

func (s *Store) getSlice(key []byte, parent wire.ColumnParent, pred wire.SlicePredicate) ([]wire.ColumnOrSuperColumn, error) {
	t, err := s.table(parent.ColumnFamily)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, invalid("key may not be empty")
	}
	if parent.SuperColumn != nil && !t.super() {
		return nil, invalid("column family %s is not a super column family", t.def.Name)
	}
	if err := checkPredicate(pred); err != nil {
		return nil, err
	}
	return t.slice(t.row(key), parent, pred, s.clock.Now()), nil
}

func (s *Store) getIndexedSlices(r *wire.GetIndexedSlicesRequest) ([]wire.KeySlice, error) {
	t, err := s.table(r.Parent.ColumnFamily)
	if err != nil {
		return nil, err
	}
	if t.super() {
		return nil, invalid("secondary indexes are not supported on super column family %s", t.def.Name)
	}
	if err := checkPredicate(r.Predicate); err != nil {
		return nil, err
	}
	var hasIndexedEQ bool
	for _, e := range r.Clause.Expressions {
		if e.Op == wire.EQ && t.indexed(e.ColumnName) {
			hasIndexedEQ = true
		}
	}
	if !hasIndexedEQ {
		return nil, invalid("no indexed columns present in index clause with operator EQ")
	}

	now := s.clock.Now()
	out := []wire.KeySlice{}
	for _, key := range t.sortedKeys() {
		if len(out) >= int(r.Clause.Count) {
			break
		}
		if len(r.Clause.StartKey) > 0 && t.keys.Compare(key, r.Clause.StartKey) < 0 {
			continue
		}
		rw := t.rows[string(key)]
		if !t.matches(rw, r.Clause.Expressions, now) {
			continue
		}
		out = append(out, wire.KeySlice{Key: key, Columns: t.slice(rw, r.Parent, r.Predicate, now)})
	}
	return out, nil
}
