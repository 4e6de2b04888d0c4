package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/joao-fontenele/orderdesk/internal/backoffice"
	"github.com/joao-fontenele/orderdesk/internal/catalog"
	"github.com/joao-fontenele/orderdesk/internal/composer"
	"github.com/joao-fontenele/orderdesk/internal/config"
	"github.com/joao-fontenele/orderdesk/internal/drafts"
	"github.com/joao-fontenele/orderdesk/internal/messaging"
	"github.com/joao-fontenele/orderdesk/internal/telemetry"
)

const serviceName = "orderdesk"

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error("failed to load .env file", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.Level()
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, serviceName, cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Error("failed to start runtime metrics", "error", err)
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout:   cfg.BackOffice.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	client := backoffice.NewClient(cfg.BackOffice.URL, httpClient, backoffice.BreakerSettings{
		MaxFailures: cfg.BackOffice.BreakerMaxFailures,
		OpenTimeout: cfg.BackOffice.BreakerOpenTimeout,
	}, logger)

	var (
		products    composer.ProductSource  = client
		customers   composer.CustomerSource = client
		invalidator drafts.CatalogInvalidator
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer func() { _ = rdb.Close() }()

		cache := catalog.NewCache(rdb, cfg.Redis.CacheTTL, logger)
		products = cache.Products(client)
		customers = cache.Customers(client)
		invalidator = cache
		logger.Info("catalog cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	opts := []composer.Option{composer.WithLogger(logger)}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = producer.Close() }()

		opts = append(opts, composer.WithPublisher(producer))
		logger.Info("order events enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	registry := drafts.NewRegistry()
	defer registry.CloseAll()

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go registry.RunSweeper(sweepCtx, cfg.Drafts.SweepInterval, cfg.Drafts.IdleTTL, logger)

	handler := drafts.NewHandler(registry, func() *composer.Composer {
		return composer.New(products, customers, client, opts...)
	}, invalidator, logger)

	mux := http.NewServeMux()
	handler.Register(mux, telemetry.RouteSpan)
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(mux, serviceName, otelhttp.WithSpanNameFormatter(telemetry.SpanName)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.BackOffice.Timeout + 5*time.Second,
	}

	go func() {
		logger.Info("starting orderdesk service", "port", cfg.Port, "backoffice_url", cfg.BackOffice.URL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down", "open_drafts", registry.Len())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
