// Package cluster spreads one keyspace over several nodes. Row keys are placed
// on a consistent hash ring and every row is kept on the next distinct nodes
// clockwise, up to the replication factor.
//
// Writes go to every live replica and succeed once the request's consistency
// level is met. Reads are served by the first replica that answers; a replica
// that fails with a transport error is skipped until its retry delay passes.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raulk/clock"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/flynnfc/helenus/pkg/helenus/consistency"
	"github.com/flynnfc/helenus/pkg/helenus/marshal"
	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

const (
	DefaultReplicationFactor = 3
	DefaultVirtualNodes      = 64
	DefaultRetryAfter        = 5 * time.Second
)

// Dialer returns the connection to the node at addr.
type Dialer func(addr string) (wire.Connection, error)

// Cluster implements wire.Connection over a ring of nodes.
type Cluster struct {
	keyspace   string
	dial       Dialer
	ring       *Ring
	vnodes     int
	hash       Hash
	replicas   int
	retryAfter time.Duration
	logger     *zap.Logger
	clock      clock.Clock

	mu        sync.Mutex
	downUntil map[string]time.Time
	keyOrder  map[string]*marshal.Marshaler
}

type Option func(*Cluster)

func WithLogger(l *zap.Logger) Option {
	return func(c *Cluster) { c.logger = l }
}

// WithClock sets the clock node retry delays are measured against.
func WithClock(clk clock.Clock) Option {
	return func(c *Cluster) { c.clock = clk }
}

func WithReplicationFactor(n int) Option {
	return func(c *Cluster) { c.replicas = n }
}

// WithVirtualNodes sets how many points each node takes on the ring.
func WithVirtualNodes(n int) Option {
	return func(c *Cluster) { c.vnodes = n }
}

func WithHash(fn Hash) Option {
	return func(c *Cluster) { c.hash = fn }
}

// WithRetryAfter sets how long a node that failed with a transport error is
// left out of routing.
func WithRetryAfter(d time.Duration) Option {
	return func(c *Cluster) { c.retryAfter = d }
}

func New(keyspace string, dial Dialer, opts ...Option) *Cluster {
	c := &Cluster{
		keyspace:   keyspace,
		dial:       dial,
		vnodes:     DefaultVirtualNodes,
		replicas:   DefaultReplicationFactor,
		retryAfter: DefaultRetryAfter,
		logger:     zap.NewNop(),
		clock:      clock.New(),
		downUntil:  make(map[string]time.Time),
		keyOrder:   make(map[string]*marshal.Marshaler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.replicas < 1 {
		c.replicas = 1
	}
	c.ring = NewRing(c.vnodes, c.hash)
	return c
}

func (c *Cluster) AddNode(addrs ...string) {
	c.ring.Add(addrs...)
	c.logger.Info("nodes joined", zap.Strings("nodes", addrs))
}

func (c *Cluster) RemoveNode(addr string) {
	c.ring.Remove(addr)
	c.mu.Lock()
	delete(c.downUntil, addr)
	c.mu.Unlock()
	c.logger.Info("node left", zap.String("node", addr))
}

func (c *Cluster) Nodes() []string { return c.ring.Nodes() }

// Replicas returns the nodes holding key, primary first.
func (c *Cluster) Replicas(key []byte) []string {
	return c.ring.Get(key, c.replicas)
}

// Live reports whether addr is currently routed to.
func (c *Cluster) Live(addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, down := c.downUntil[addr]
	return !down || !c.clock.Now().Before(until)
}

func (c *Cluster) live(addrs []string) []string {
	return lo.Filter(addrs, func(addr string, _ int) bool { return c.Live(addr) })
}

func (c *Cluster) markDown(addr string, err error) {
	c.mu.Lock()
	c.downUntil[addr] = c.clock.Now().Add(c.retryAfter)
	c.mu.Unlock()
	c.logger.Warn("node marked down", zap.String("node", addr), zap.Duration("retry_after", c.retryAfter), zap.Error(err))
}

func (c *Cluster) markUp(addr string) {
	c.mu.Lock()
	_, was := c.downUntil[addr]
	delete(c.downUntil, addr)
	c.mu.Unlock()
	if was {
		c.logger.Info("node is back", zap.String("node", addr))
	}
}

func isTransport(err error) bool {
	var pe *wire.ProtocolError
	return errors.As(err, &pe) && pe.Kind == wire.Transport
}

func unavailable(command, format string, args ...any) *wire.ProtocolError {
	return &wire.ProtocolError{Kind: wire.Unavailable, Command: command, Message: fmt.Sprintf(format, args...)}
}

// call executes req on one node and keeps its liveness current.
func (c *Cluster) call(ctx context.Context, addr string, req wire.Request, reply any) error {
	conn, err := c.dial(addr)
	if err != nil {
		err = &wire.ProtocolError{Kind: wire.Transport, Command: req.Command(), Message: "dial " + addr, Err: err}
		c.markDown(addr, err)
		return err
	}
	err = conn.Execute(ctx, req, reply)
	switch {
	case err == nil:
		c.markUp(addr)
	case isTransport(err):
		c.markDown(addr, err)
	}
	return err
}

type result struct {
	addr string
	err  error
}

// fanOut runs one request per node concurrently.
func (c *Cluster) fanOut(ctx context.Context, addrs []string, build func(addr string) (wire.Request, any)) map[string]error {
	results := make(chan result, len(addrs))
	var wg sync.WaitGroup
	for _, addr := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			req, reply := build(addr)
			results <- result{addr: addr, err: c.call(ctx, addr, req, reply)}
		}(addr)
	}
	wg.Wait()
	close(results)

	errs := make(map[string]error, len(addrs))
	for r := range results {
		errs[r.addr] = r.err
	}
	return errs
}

// firstFailure prefers an error the server reported over transport failures,
// which are already accounted for as missing acknowledgements.
func firstFailure(errs map[string]error, addrs []string) error {
	var transport error
	for _, addr := range addrs {
		err := errs[addr]
		if err == nil {
			continue
		}
		if !isTransport(err) {
			return err
		}
		if transport == nil {
			transport = err
		}
	}
	return transport
}

func (c *Cluster) Execute(ctx context.Context, req wire.Request, reply any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch r := req.(type) {
	case *wire.GetSliceRequest:
		return c.read(ctx, r.Key, req, reply)
	case *wire.GetCountRequest:
		return c.read(ctx, r.Key, req, reply)
	case *wire.RemoveRequest:
		return c.write(ctx, r.Key, r.Consistency, req)
	case *wire.RemoveCounterRequest:
		return c.write(ctx, r.Key, r.Consistency, req)
	case *wire.AddRequest:
		return c.write(ctx, r.Key, r.Consistency, req)
	case *wire.BatchMutateRequest:
		return c.batchMutate(ctx, r)
	case *wire.GetIndexedSlicesRequest:
		return c.getIndexedSlices(ctx, r, reply)
	case *wire.TruncateRequest:
		return c.truncate(ctx, r)
	case *wire.DescribeKeyspaceRequest:
		return c.anyNode(ctx, c.Nodes(), req, reply)
	}
	return &wire.ProtocolError{Kind: wire.Application, Command: req.Command(), Message: "unsupported command"}
}

// anyNode tries live nodes in order until one answers. When every node is
// marked down they are all tried anyway.
func (c *Cluster) anyNode(ctx context.Context, addrs []string, req wire.Request, reply any) error {
	if len(addrs) == 0 {
		return unavailable(req.Command(), "no nodes in the ring")
	}
	candidates := c.live(addrs)
	if len(candidates) == 0 {
		candidates = addrs
	}
	var last error
	for _, addr := range candidates {
		err := c.call(ctx, addr, req, reply)
		if err == nil || !isTransport(err) {
			return err
		}
		last = err
	}
	pe := unavailable(req.Command(), "none of %d nodes answered", len(candidates))
	pe.Err = last
	return pe
}

func (c *Cluster) read(ctx context.Context, key []byte, req wire.Request, reply any) error {
	return c.anyNode(ctx, c.Replicas(key), req, reply)
}

func (c *Cluster) write(ctx context.Context, key []byte, level consistency.Level, req wire.Request) error {
	replicas := c.Replicas(key)
	if len(replicas) == 0 {
		return unavailable(req.Command(), "no nodes in the ring")
	}
	level = level.Or(consistency.Default)
	required := level.Required(len(replicas))
	targets := c.live(replicas)
	if len(targets) < required {
		return unavailable(req.Command(), "%s needs %d replicas, %d alive", level, required, len(targets))
	}

	errs := c.fanOut(ctx, targets, func(string) (wire.Request, any) { return req, nil })
	acks := len(lo.Filter(targets, func(addr string, _ int) bool { return errs[addr] == nil }))
	c.logger.Debug("write", zap.String("command", req.Command()), zap.Int("acks", acks), zap.Int("required", required))
	if acks >= required {
		return nil
	}
	if err := firstFailure(errs, targets); err != nil && !isTransport(err) {
		return err
	}
	return unavailable(req.Command(), "%s needs %d replicas, %d acknowledged", level, required, acks)
}

// batchMutate splits the batch by replica so every node receives the rows it
// holds, then checks the consistency level row by row.
func (c *Cluster) batchMutate(ctx context.Context, r *wire.BatchMutateRequest) error {
	if len(r.Mutations) == 0 {
		return nil
	}
	if len(c.Nodes()) == 0 {
		return unavailable(r.Command(), "no nodes in the ring")
	}
	level := r.Consistency.Or(consistency.Default)

	owners := make(map[string][]string, len(r.Mutations))
	perNode := make(map[string]wire.MutationMap)
	for key, families := range r.Mutations {
		replicas := c.Replicas([]byte(key))
		owners[key] = replicas
		targets := c.live(replicas)
		if required := level.Required(len(replicas)); len(targets) < required {
			return unavailable(r.Command(), "%s needs %d replicas, %d alive", level, required, len(targets))
		}
		for _, addr := range targets {
			if perNode[addr] == nil {
				perNode[addr] = make(wire.MutationMap)
			}
			perNode[addr][key] = families
		}
	}

	nodes := lo.Keys(perNode)
	sort.Strings(nodes)
	errs := c.fanOut(ctx, nodes, func(addr string) (wire.Request, any) {
		return &wire.BatchMutateRequest{Mutations: perNode[addr], Consistency: level}, nil
	})

	for key, replicas := range owners {
		required := level.Required(len(replicas))
		acks := 0
		for _, addr := range replicas {
			if err, sent := errs[addr]; sent && err == nil {
				acks++
			}
		}
		if acks < required {
			if err := firstFailure(errs, nodes); err != nil && !isTransport(err) {
				return err
			}
			return unavailable(r.Command(), "%s needs %d replicas for row %x, %d acknowledged", level, required, key, acks)
		}
	}
	return nil
}

// truncate needs every node, as a truncated family must not come back from a
// replica that missed it.
func (c *Cluster) truncate(ctx context.Context, r *wire.TruncateRequest) error {
	nodes := c.Nodes()
	if len(nodes) == 0 {
		return unavailable(r.Command(), "no nodes in the ring")
	}
	if live := c.live(nodes); len(live) < len(nodes) {
		return unavailable(r.Command(), "truncate needs all %d nodes, %d alive", len(nodes), len(live))
	}
	errs := c.fanOut(ctx, nodes, func(string) (wire.Request, any) { return r, nil })
	if err := firstFailure(errs, nodes); err != nil {
		if isTransport(err) {
			return unavailable(r.Command(), "truncate did not reach every node: %v", err)
		}
		return err
	}
	return nil
}

// getIndexedSlices asks every live node and merges the answers in key order.
// Each row is complete on any of its replicas, so fewer than replication
// factor nodes may be missing.
func (c *Cluster) getIndexedSlices(ctx context.Context, r *wire.GetIndexedSlicesRequest, reply any) error {
	out, ok := reply.(*[]wire.KeySlice)
	if !ok {
		return &wire.ProtocolError{Kind: wire.Application, Command: r.Command(), Message: fmt.Sprintf("reply must be *[]wire.KeySlice, got %T", reply)}
	}
	nodes := c.Nodes()
	if len(nodes) == 0 {
		return unavailable(r.Command(), "no nodes in the ring")
	}
	live := c.live(nodes)
	if missing := len(nodes) - len(live); missing >= min(c.replicas, len(nodes)) {
		return unavailable(r.Command(), "%d of %d nodes down with replication factor %d", missing, len(nodes), c.replicas)
	}

	var mu sync.Mutex
	perNode := make(map[string]*[]wire.KeySlice, len(live))
	errs := c.fanOut(ctx, live, func(addr string) (wire.Request, any) {
		slices := new([]wire.KeySlice)
		mu.Lock()
		perNode[addr] = slices
		mu.Unlock()
		return r, slices
	})
	if err := firstFailure(errs, live); err != nil && !isTransport(err) {
		return err
	}
	failed := len(lo.Filter(live, func(addr string, _ int) bool { return errs[addr] != nil }))
	if missing := len(nodes) - len(live) + failed; missing >= min(c.replicas, len(nodes)) {
		return unavailable(r.Command(), "%d of %d nodes did not answer with replication factor %d", missing, len(nodes), c.replicas)
	}

	order, err := c.keyOrderOf(ctx, r.Parent.ColumnFamily)
	if err != nil {
		return err
	}
	var merged []wire.KeySlice
	for _, addr := range live {
		if errs[addr] == nil {
			merged = append(merged, *perNode[addr]...)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return order.Compare(merged[i].Key, merged[j].Key) < 0 })
	merged = lo.UniqBy(merged, func(ks wire.KeySlice) string { return string(ks.Key) })
	if count := int(r.Clause.Count); count > 0 && len(merged) > count {
		merged = merged[:count]
	}
	if merged == nil {
		merged = []wire.KeySlice{}
	}
	*out = merged
	return nil
}

// keyOrderOf returns the key validator of family, fetching the schema once.
func (c *Cluster) keyOrderOf(ctx context.Context, family string) (*marshal.Marshaler, error) {
	c.mu.Lock()
	m, ok := c.keyOrder[family]
	c.mu.Unlock()
	if ok {
		return m, nil
	}

	var def wire.KsDef
	if err := c.anyNode(ctx, c.Nodes(), &wire.DescribeKeyspaceRequest{Keyspace: c.keyspace}, &def); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cf := range def.CfDefs {
		keys, err := marshal.Parse(cf.KeyValidationClass)
		if err != nil {
			keys = marshal.MustParse("BytesType")
		}
		c.keyOrder[cf.Name] = keys
	}
	if m, ok := c.keyOrder[family]; ok {
		return m, nil
	}
	return marshal.MustParse("BytesType"), nil
}
