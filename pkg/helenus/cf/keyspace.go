package cf

import (
	"context"
	"errors"
	"sync"

	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

// Keyspace looks column families up by name from the keyspace's schema. The
// schema is fetched once and cached until Refresh.
type Keyspace struct {
	name string
	conn wire.Connection
	opts []Option

	mu       sync.Mutex
	def      *wire.KsDef
	families map[string]*ColumnFamily
}

// NewKeyspace returns a Keyspace whose column families are built with opts.
func NewKeyspace(name string, conn wire.Connection, opts ...Option) *Keyspace {
	return &Keyspace{
		name:     name,
		conn:     conn,
		opts:     opts,
		families: make(map[string]*ColumnFamily),
	}
}

func (k *Keyspace) Name() string { return k.name }

// Describe returns the keyspace definition, fetching it on first use.
func (k *Keyspace) Describe(ctx context.Context) (*wire.KsDef, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.describeLocked(ctx)
}

func (k *Keyspace) describeLocked(ctx context.Context) (*wire.KsDef, error) {
	if k.def != nil {
		return k.def, nil
	}
	var def wire.KsDef
	err := k.conn.Execute(ctx, &wire.DescribeKeyspaceRequest{Keyspace: k.name}, &def)
	var pe *wire.ProtocolError
	if errors.As(err, &pe) && pe.Kind == wire.NotFound {
		return nil, &wire.NotFoundError{What: "keyspace", Name: k.name}
	}
	if err != nil {
		return nil, err
	}
	k.def = &def
	return k.def, nil
}

// ColumnFamily returns the named column family, or a *wire.NotFoundError.
func (k *Keyspace) ColumnFamily(ctx context.Context, name string) (*ColumnFamily, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if cf, ok := k.families[name]; ok {
		return cf, nil
	}
	def, err := k.describeLocked(ctx)
	if err != nil {
		return nil, err
	}
	for _, cfDef := range def.CfDefs {
		if cfDef.Name != name {
			continue
		}
		cf, err := NewColumnFamily(cfDef, k.conn, k.opts...)
		if err != nil {
			return nil, err
		}
		k.families[name] = cf
		return cf, nil
	}
	return nil, &wire.NotFoundError{What: "column family", Name: name}
}

// Refresh drops the cached schema so the next lookup fetches it again.
func (k *Keyspace) Refresh() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.def = nil
	k.families = make(map[string]*ColumnFamily)
}
