package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calibervault/config"
	"calibervault/core"
	"calibervault/gateway"
	gwmiddleware "calibervault/gateway/middleware"
	"calibervault/observability"
	"calibervault/observability/logging"
	otelobs "calibervault/observability/otel"
	"calibervault/rpc"
	"calibervault/storage"
)

const otelHeadersEnv = "VAULT_OTEL_HEADERS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup(logging.Options{Service: "vaultd", Env: cfg.Env, File: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Traces || cfg.Telemetry.Metrics {
		shutdown, err := otelobs.Init(ctx, otelobs.Config{
			ServiceName: "vaultd",
			Environment: cfg.Env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     otelobs.ParseHeaders(os.Getenv(otelHeadersEnv)),
			Traces:      cfg.Telemetry.Traces,
			Metrics:     cfg.Telemetry.Metrics,
		})
		if err != nil {
			logger.Error("Failed to initialize telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node := core.NewNode(db, cfg.TransferWindow())
	node.SetEmitter(observability.NewEmitter(logger))

	rpcServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           rpc.NewServer(node, cfg.Env),
		ReadHeaderTimeout: 10 * time.Second,
	}

	gatewayHandler, err := gateway.New(gateway.Config{
		Node:        node,
		RateLimiter: gwmiddleware.NewRateLimiter(gwmiddleware.RateLimit{RequestsPerMinute: 600, Burst: 20}, logger),
		Observability: gwmiddleware.NewObservability(gwmiddleware.ObservabilityConfig{
			ServiceName: "vault-gateway",
			LogRequests: true,
			Enabled:     true,
		}, logger),
	})
	if err != nil {
		logger.Error("Failed to build gateway", slog.Any("error", err))
		os.Exit(1)
	}
	gatewayServer := &http.Server{
		Addr:              cfg.GatewayAddress,
		Handler:           gatewayHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("Starting JSON-RPC server", slog.String("addr", cfg.RPCAddress))
		if err := rpcServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("Starting gateway", slog.String("addr", cfg.GatewayAddress))
		if err := gatewayServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		logger.Error("Server failed", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("RPC shutdown failed", slog.Any("error", err))
	}
	if err := gatewayServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Gateway shutdown failed", slog.Any("error", err))
	}
	logger.Info("Shutdown complete")
}
