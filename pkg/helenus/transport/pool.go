package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// connItem wraps a gRPC connection with a lastUsed timestamp.
type connItem struct {
	conn     *grpc.ClientConn
	lastUsed time.Time
}

// ConnectionPool caches gRPC connections keyed by target address.
type ConnectionPool struct {
	mu           sync.Mutex
	connections  map[string]*connItem
	idleTimeout  time.Duration
	cleanupDelay time.Duration

	logger  *zap.Logger
	metrics *grpcprom.ClientMetrics
	stop    chan struct{}
	closed  bool
}

type PoolOption func(*ConnectionPool)

func WithPoolLogger(l *zap.Logger) PoolOption {
	return func(p *ConnectionPool) { p.logger = l }
}

// WithClientMetrics records per-method gRPC client metrics. The caller
// registers m with its Prometheus registry.
func WithClientMetrics(m *grpcprom.ClientMetrics) PoolOption {
	return func(p *ConnectionPool) { p.metrics = m }
}

// NewConnectionPool initializes a new connection pool with the given idle timeout.
// cleanupDelay determines how often the janitor will scan for idle connections.
func NewConnectionPool(idleTimeout, cleanupDelay time.Duration, opts ...PoolOption) *ConnectionPool {
	cp := &ConnectionPool{
		connections:  make(map[string]*connItem),
		idleTimeout:  idleTimeout,
		cleanupDelay: cleanupDelay,
		logger:       zap.NewNop(),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(cp)
	}
	go cp.evictIdleConnections()
	return cp
}

func (p *ConnectionPool) dialOptions() []grpc.DialOption {
	var interceptors []grpc.UnaryClientInterceptor
	if p.metrics != nil {
		interceptors = append(interceptors, p.metrics.UnaryClientInterceptor())
	}
	interceptors = append(interceptors, logging.UnaryClientInterceptor(InterceptorLogger(p.logger)))

	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, s string) (net.Conn, error) {
			if s == "" {
				return nil, fmt.Errorf("empty address provided")
			}
			var d net.Dialer
			return d.DialContext(ctx, "tcp", s)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(interceptors...),
	}
}

// GetConn retrieves an existing connection or creates a new one if needed.
// It also updates the lastUsed time on every access.
func (p *ConnectionPool) GetConn(addr string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("connection pool is closed")
	}
	if item, exists := p.connections[addr]; exists {
		item.lastUsed = time.Now()
		p.mu.Unlock()
		return item.conn, nil
	}
	p.mu.Unlock()

	conn, err := grpc.NewClient(addr, p.dialOptions()...)
	if err != nil {
		return nil, fmt.Errorf("creating gRPC client for %s: %w", addr, err)
	}
	conn.Connect()

	p.mu.Lock()
	defer p.mu.Unlock()
	// Another goroutine might have created the connection meanwhile.
	if existing, exists := p.connections[addr]; exists {
		conn.Close()
		return existing.conn, nil
	}
	p.connections[addr] = &connItem{conn: conn, lastUsed: time.Now()}
	p.logger.Debug("opened connection", zap.String("address", addr))
	return conn, nil
}

// Client returns a wire.Connection to the server at addr.
func (p *ConnectionPool) Client(addr string) (*Client, error) {
	conn, err := p.GetConn(addr)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// Len returns the number of open connections.
func (p *ConnectionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections)
}

// Close stops the janitor and closes every connection.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stop)
	var firstErr error
	for addr, item := range p.connections {
		if err := item.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.connections, addr)
	}
	return firstErr
}

// evictIdleConnections runs in a background goroutine to close idle connections.
func (p *ConnectionPool) evictIdleConnections() {
	ticker := time.NewTicker(p.cleanupDelay)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			p.mu.Lock()
			for addr, item := range p.connections {
				if now.Sub(item.lastUsed) > p.idleTimeout {
					item.conn.Close()
					delete(p.connections, addr)
					p.logger.Debug("evicted idle connection", zap.String("address", addr))
				}
			}
			p.mu.Unlock()
		}
	}
}
