// Package instrument decorates a wire.Connection with Prometheus metrics and
// OpenTelemetry spans, one per command.
package instrument

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

const tracerName = "github.com/flynnfc/helenus/pkg/helenus/instrument"

// Metrics are the collectors shared by every instrumented connection.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics registers the request collectors with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Commands executed, by command and outcome.",
		}, []string{"command", "outcome"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Command latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"command"}),
	}
}

// Connection is an instrumented wire.Connection.
type Connection struct {
	next    wire.Connection
	metrics *Metrics
	tracer  trace.Tracer
}

type Option func(*Connection)

// WithTracerProvider traces with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Connection) { c.tracer = tp.Tracer(tracerName) }
}

func Wrap(next wire.Connection, metrics *Metrics, opts ...Option) *Connection {
	c := &Connection{next: next, metrics: metrics, tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connection) Execute(ctx context.Context, req wire.Request, reply any) error {
	command := req.Command()
	ctx, span := c.tracer.Start(ctx, "helenus."+command,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("helenus.command", command)),
	)
	defer span.End()

	start := time.Now()
	err := c.next.Execute(ctx, req, reply)
	outcome := Outcome(err)

	if c.metrics != nil {
		c.metrics.requests.WithLabelValues(command, outcome).Inc()
		c.metrics.latency.WithLabelValues(command).Observe(time.Since(start).Seconds())
	}
	span.SetAttributes(attribute.String("helenus.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Outcome names the result of a command for metric labels: "ok", the server's
// exception kind, or a coarse error class.
func Outcome(err error) string {
	var pe *wire.ProtocolError
	var nf *wire.NotFoundError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &pe):
		return pe.Kind
	case errors.As(err, &nf):
		return wire.NotFound
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	}
	return "error"
}
