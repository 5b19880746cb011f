// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/coapbridge"
	"github.com/absmach/coapbridge/pkg/gateway"
	"github.com/absmach/coapbridge/pkg/health"
	"github.com/absmach/coapbridge/pkg/metrics"
	"github.com/absmach/coapbridge/pkg/radio"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	envPrefix = "COAPBRIDGE_"
	svcName   = "coapbridge"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	envErr := godotenv.Load()

	cfg, err := coapbridge.NewConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s configuration: %v\n", svcName, err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		logger.Warn("no .env file found, using environment variables")
	}

	tr := newRadioTransport(cfg, logger)
	m := metrics.New(svcName, prometheus.DefaultRegisterer)

	gw, err := gateway.New(cfg.GatewayConfig(logger), tr, m)
	if err != nil {
		logger.Error("failed to create gateway", slog.String("error", err.Error()))
		os.Exit(1)
	}

	checker := health.NewChecker(5 * time.Second)
	checker.Register("radio", health.RadioCheck(gw.RadioConnected))
	checker.Register("pending", health.PendingCheck(gw.Pending, cfg.MaxPending))

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	g.Go(func() error {
		return serveHTTP(ctx, "metrics", cfg.MetricsPort, metricsMux(), cfg.ShutdownTimeout, logger)
	})

	g.Go(func() error {
		return serveHTTP(ctx, "health", cfg.HealthPort, healthMux(checker), cfg.ShutdownTimeout, logger)
	})

	g.Go(func() error {
		logger.Info("starting gateway",
			slog.String("address", cfg.Address()),
			slog.String("radio", tr.Name()),
			slog.String("peer", cfg.PeerAddress))
		return gw.Listen(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service terminated with error: %s", svcName, err))
	} else {
		logger.Info(fmt.Sprintf("%s service stopped", svcName))
	}
}

func newRadioTransport(cfg coapbridge.Config, logger *slog.Logger) radio.Transport {
	if cfg.RadioTransport == coapbridge.RadioUDP {
		return radio.NewUDPTransport(cfg.RadioAddress, logger)
	}
	return radio.NewSerialTransport(cfg.SerialPort, cfg.SerialBaud, logger)
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func healthMux(checker *health.Checker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())
	return mux
}

// serveHTTP runs an auxiliary HTTP server until ctx is done. A zero port
// disables the server.
func serveHTTP(ctx context.Context, name string, port int, h http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) error {
	if port == 0 {
		return nil
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("starting %s server", name), slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
