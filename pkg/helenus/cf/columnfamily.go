// Package cf is the schema-aware data access layer: it turns typed keys,
// column names and values into wire requests and decodes the replies into rows.
package cf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flynnfc/helenus/pkg/helenus/consistency"
	"github.com/flynnfc/helenus/pkg/helenus/marshal"
	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

// DefaultMax is the column count requested by reads that do not set one.
const DefaultMax = 100

// Clock supplies write timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ColumnFamily holds the codecs of one column family and runs requests against it.
type ColumnFamily struct {
	name       string
	definition wire.CfDef
	isSuper    bool
	isCounter  bool

	keyCodec      *marshal.Marshaler
	comparator    *marshal.Marshaler
	subcomparator *marshal.Marshaler
	validator     *marshal.Marshaler
	// columnValidators is keyed by the wire-encoded column name.
	columnValidators map[string]*marshal.Marshaler

	conn    wire.Connection
	logger  *zap.Logger
	clock   Clock
	readCL  consistency.Level
	writeCL consistency.Level
}

type Option func(*ColumnFamily)

func WithLogger(l *zap.Logger) Option {
	return func(c *ColumnFamily) { c.logger = l }
}

// WithClock sets the clock used to stamp writes and deletions.
func WithClock(clock Clock) Option {
	return func(c *ColumnFamily) { c.clock = clock }
}

func WithReadConsistency(l consistency.Level) Option {
	return func(c *ColumnFamily) { c.readCL = l }
}

func WithWriteConsistency(l consistency.Level) Option {
	return func(c *ColumnFamily) { c.writeCL = l }
}

// NewColumnFamily resolves every codec named by def once, up front.
func NewColumnFamily(def wire.CfDef, conn wire.Connection, opts ...Option) (*ColumnFamily, error) {
	c := &ColumnFamily{
		name:             def.Name,
		definition:       def,
		isSuper:          def.IsSuper(),
		columnValidators: make(map[string]*marshal.Marshaler, len(def.ColumnMetadata)),
		conn:             conn,
		logger:           zap.NewNop(),
		clock:            systemClock{},
		readCL:           consistency.Default,
		writeCL:          consistency.Default,
	}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	if c.keyCodec, err = parseOrBytes(def.KeyValidationClass); err != nil {
		return nil, fmt.Errorf("column family %s key validator: %w", def.Name, err)
	}
	if c.comparator, err = parseOrBytes(def.ComparatorType); err != nil {
		return nil, fmt.Errorf("column family %s comparator: %w", def.Name, err)
	}
	if c.isSuper {
		if c.subcomparator, err = parseOrBytes(def.SubcomparatorType); err != nil {
			return nil, fmt.Errorf("column family %s subcomparator: %w", def.Name, err)
		}
	}
	if c.validator, err = parseOrBytes(def.DefaultValidationClass); err != nil {
		return nil, fmt.Errorf("column family %s default validator: %w", def.Name, err)
	}
	c.isCounter = c.validator.Kind() == marshal.CounterKind

	for _, col := range def.ColumnMetadata {
		if err := c.AddValidator(col.Name, col.ValidationClass); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With(zap.String("column_family", def.Name))
	return c, nil
}

// AddValidator overrides the value type of the column whose wire-encoded name is
// rawName. It is meant for schema bootstrap and must not race with requests.
func (c *ColumnFamily) AddValidator(rawName []byte, typeName string) error {
	m, err := parseOrBytes(typeName)
	if err != nil {
		return fmt.Errorf("column family %s validator for %q: %w", c.name, rawName, err)
	}
	c.columnValidators[string(rawName)] = m
	return nil
}

func (c *ColumnFamily) Name() string { return c.name }

// Definition returns the schema the family was built from.
func (c *ColumnFamily) Definition() wire.CfDef { return c.definition }

func (c *ColumnFamily) IsSuper() bool { return c.isSuper }

func (c *ColumnFamily) IsCounter() bool { return c.isCounter }

func (c *ColumnFamily) KeyCodec() *marshal.Marshaler { return c.keyCodec }

func (c *ColumnFamily) Comparator() *marshal.Marshaler { return c.comparator }

// Subcomparator is nil for standard families.
func (c *ColumnFamily) Subcomparator() *marshal.Marshaler { return c.subcomparator }

// ValueCodec returns the validator for a column: its override if one is
// registered under rawName, otherwise the family default.
func (c *ColumnFamily) ValueCodec(rawName []byte) *marshal.Marshaler {
	if m, ok := c.columnValidators[string(rawName)]; ok {
		return m
	}
	return c.validator
}

// nameCodec picks the codec for column names under a read or write parent.
// Inside a super column, names are subcolumn names.
func (c *ColumnFamily) nameCodec(inSuper bool) *marshal.Marshaler {
	if inSuper {
		return c.subcomparator
	}
	return c.comparator
}

func (c *ColumnFamily) superName(name any) ([]byte, error) {
	if name == nil {
		return nil, nil
	}
	if !c.isSuper {
		return nil, fmt.Errorf("column family %s is not a super column family", c.name)
	}
	return c.comparator.Serialize(name)
}

// microseconds converts a write time to the wire's timestamp resolution.
func microseconds(t time.Time) int64 {
	return t.UnixMilli() * 1000
}

// execute runs one request and tags collaborator failures with their kind.
func (c *ColumnFamily) execute(ctx context.Context, req wire.Request, reply any) error {
	start := time.Now()
	err := c.conn.Execute(ctx, req, reply)
	if err == nil {
		c.logger.Debug("request completed", zap.String("command", req.Command()), zap.Duration("took", time.Since(start)))
		return nil
	}
	c.logger.Warn("request failed", zap.String("command", req.Command()), zap.Error(err))

	var pe *wire.ProtocolError
	var nf *wire.NotFoundError
	switch {
	case errors.As(err, &pe):
		if pe.Command == "" {
			tagged := *pe
			tagged.Command = req.Command()
			return &tagged
		}
		return err
	case errors.As(err, &nf):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &wire.ProtocolError{Kind: wire.Transport, Command: req.Command(), Message: err.Error(), Err: err}
}
