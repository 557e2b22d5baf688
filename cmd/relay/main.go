package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"hubcom/internal/core/services"
	httphandlers "hubcom/internal/handlers/http"
	"hubcom/internal/infrastructure/geo"
	"hubcom/internal/infrastructure/middleware"
	"hubcom/internal/infrastructure/monitoring"
	"hubcom/internal/infrastructure/repositories/memory"
	relaysignal "hubcom/internal/infrastructure/signal"
	"hubcom/pkg/config"
	"hubcom/pkg/logger"
	"hubcom/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "relay [port]",
	Version: version,
	Short:   "hubcom relay: hub-scoped WebSocket message broker for peer signaling",
	Args:    cobra.MaximumNArgs(1),
	RunE:    relayMain,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func relayMain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		addr, err := cfg.WithPort(args[0])
		if err != nil {
			return err
		}
		cfg.Relay.Address = addr
	}

	zapLogger, err := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	locator, closeGeo, err := geo.New(cfg.Relay.GeoIPFile, cfg.Relay.GeoCacheTTL)
	if err != nil {
		log.Warnw("geo lookup disabled", "file", cfg.Relay.GeoIPFile, "error", err)
	}
	defer closeGeo()

	metrics := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	registry := memory.NewMemoryHubRegistry()
	router := services.NewRelayRouter(registry, locator, metrics, logger.NewContextLogger(zapLogger), cfg.Relay.GeoTimeout)

	health := monitoring.NewHealthChecker()
	health.AddRegistryCheck(registry, cfg.Relay.GeoTimeout)

	relay := relaysignal.NewRelayServer(router, registry, health, metrics, relaysignal.RelayServerConfig{
		PingInterval:      cfg.Relay.PingInterval,
		PongTimeout:       cfg.Relay.PongTimeout,
		WriteTimeout:      cfg.Relay.WriteTimeout,
		MaxMessageSize:    cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		RateLimitEnabled:  cfg.RateLimiting.Enabled,
		MessagesPerSecond: cfg.RateLimiting.WebSocket.MessagesPerSecond,
		Burst:             cfg.RateLimiting.WebSocket.Burst,
	}, zapLogger)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		middleware.RecoveryMiddleware(log),
		middleware.ErrorHandlerMiddleware(log),
		middleware.TracingMiddleware(cfg.Relay.Path),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	httphandlers.NewRelayHandler(registry, relay).SetupRoutes(engine, cfg.Relay.Path)
	if cfg.Monitoring.PrometheusEnabled {
		engine.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	// WriteTimeout stays unset: it would cut long-lived relay sockets.
	srv := &http.Server{
		Addr:        cfg.Relay.Address,
		Handler:     engine,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("relay listening", "address", cfg.Relay.Address, "path", cfg.Relay.Path, "tls", cfg.Relay.TLS.Enabled)
		var err error
		if cfg.Relay.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Relay.TLS.CertFile, cfg.Relay.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("relay failed", "error", err)
		return err
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("graceful shutdown failed", "error", err)
		_ = srv.Close()
	}
	relay.Shutdown()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("tracer shutdown failed", "error", err)
	}
	log.Infow("relay stopped", "active_peers", registry.Count())
	return nil
}
