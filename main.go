package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/flynnfc/helenus/internal/config"
	"github.com/flynnfc/helenus/internal/memstore"
	"github.com/flynnfc/helenus/internal/truetime"
	"github.com/flynnfc/helenus/logger"
	"github.com/flynnfc/helenus/pkg/helenus/instrument"
	"github.com/flynnfc/helenus/pkg/helenus/transport"
)

type args struct {
	Config string `arg:"-c,--config" help:"path to the YAML config file"`
	Listen string `arg:"--listen" help:"override server.address"`
	NoNTP  bool   `arg:"--no-ntp" help:"serve the local clock without NTP correction"`
}

func (args) Description() string {
	return "helenus serves a Cassandra-compatible column family store over gRPC"
}

func main() {
	var a args
	arg.MustParse(&a)

	cfg, err := config.LoadConfig(a.Config)
	if err != nil {
		panic(err)
	}
	if a.Listen != "" {
		cfg.Server.Address = a.Listen
	}

	// Initialize logger
	log, err := logger.InitLogger(cfg.Log.Name, logger.Options{Dir: cfg.Log.Dir, Level: cfg.Log.Level, Console: cfg.Log.Console})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.Tracing {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			log.Fatal("Failed to create trace exporter", zap.Error(err))
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
			sdktrace.WithBatcher(exporter),
		)
		otel.SetTracerProvider(tp)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	// Clock
	tt := truetime.NewTrueTime(log.Named("truetime"),
		truetime.WithServer(cfg.Clock.NTPServer),
		truetime.WithInterval(cfg.Clock.SyncInterval),
	)
	if !a.NoNTP {
		go tt.Run(ctx)
	}

	// Store
	defs, err := cfg.Definitions()
	if err != nil {
		log.Fatal("Invalid column family definitions", zap.Error(err))
	}
	storeOpts := []memstore.Option{
		memstore.WithLogger(log.Named("memstore")),
		memstore.WithClock(tt.Clock()),
		memstore.WithBloomEstimates(cfg.Store.ExpectedRows, cfg.Store.FalsePositive),
	}
	if cfg.Store.WALDir != "" {
		journal, err := memstore.OpenWAL(cfg.Store.WALDir, log.Named("wal"))
		if err != nil {
			log.Fatal("Failed to open write-ahead log", zap.String("dir", cfg.Store.WALDir), zap.Error(err))
		}
		storeOpts = append(storeOpts, memstore.WithWAL(journal))
	}
	store, err := memstore.New(cfg.Store.Keyspace, defs, storeOpts...)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	srvMetrics := grpcprom.NewServerMetrics()
	reg.MustRegister(srvMetrics)
	backend := instrument.Wrap(store, instrument.NewMetrics(reg, "helenus"))

	srv := transport.NewServer(backend,
		transport.WithServerLogger(log.Named("transport")),
		transport.WithServerMetrics(srvMetrics),
	)

	listener, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		log.Fatal("Failed to start TCP listener", zap.String("address", cfg.Server.Address), zap.Error(err))
	}
	log.Info("gRPC server listening", zap.String("address", cfg.Server.Address), zap.String("keyspace", cfg.Store.Keyspace))

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatal("Failed to serve gRPC server", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddress, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	log.Info("Stopping gRPC server")
	srv.GracefulStop()

	log.Info("Closing store")
	if err := store.Close(); err != nil {
		log.Error("Failed to close store", zap.Error(err))
	}
	log.Info("Shutdown complete")
}
