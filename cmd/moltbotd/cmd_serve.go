// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/valtterimelkko/moltbot/pkg/logging"
	"github.com/valtterimelkko/moltbot/services/lifecycle/configstore"
	"github.com/valtterimelkko/moltbot/services/lifecycle/coordinator"
	"github.com/valtterimelkko/moltbot/services/lifecycle/handlers"
	"github.com/valtterimelkko/moltbot/services/lifecycle/plan"
	"github.com/valtterimelkko/moltbot/services/lifecycle/registry"
	"github.com/valtterimelkko/moltbot/services/lifecycle/watcher"
)

// initTracer configures the OTLP gRPC trace exporter and returns its
// shutdown function.
func initTracer(ctx context.Context) (func(context.Context), error) {
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("moltbotd")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newLogger builds the daemon logger for the given verbosity. Non-TTY
// stderr (service managers, containers) gets JSON output.
func newLogger(verbosity string) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(verbosity),
		LogDir:  "~/.moltbot/logs",
		Service: "moltbotd",
		JSON:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
}

// selectBridge picks the supervisor delivery mechanism from the gateway
// settings: pid file signalling when configured, HTTP otherwise.
func selectBridge(gw configstore.GatewaySettings) coordinator.Bridge {
	if gw.SupervisorPIDFile != "" {
		return coordinator.NewSignalBridge(gw.SupervisorPIDFile)
	}
	if gw.SupervisorURL != "" {
		return coordinator.NewHTTPBridge(gw.SupervisorURL, nil)
	}
	return unconfiguredBridge{}
}

// unconfiguredBridge fails every request so the coordinator logs the
// missing supervisor wiring instead of silently dropping restarts.
type unconfiguredBridge struct{}

func (unconfiguredBridge) RequestRestart(ctx context.Context, reason string) error {
	return fmt.Errorf("%w: neither supervisor_pid_file nor supervisor_url configured",
		coordinator.ErrSupervisorUnreachable)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path, err := resolveConfigPath()
	if err != nil {
		return err
	}

	store := configstore.New(path, 0)
	if _, err := store.EnsureDefault(); err != nil {
		return fmt.Errorf("ensure config: %w", err)
	}
	snap, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := snap.Config

	logger := newLogger(cfg.Bot.Verbosity)
	logger.Install()

	// Verbosity hot-applies swap the logger; close whichever one is
	// installed when the daemon exits.
	applier := &hotApplier{logger: logger, newLogger: newLogger}
	defer func() { applier.activeLogger().Close() }()

	cleanup, err := initTracer(ctx)
	if err != nil {
		return fmt.Errorf("setup OTLP tracer: %w", err)
	}
	defer cleanup(context.Background())

	slog.Info("moltbotd starting",
		"version", version,
		"config", path,
		"listen_addr", cfg.Gateway.ListenAddr,
	)

	// The store used for the governed write path honors the configured
	// interval; the bootstrap store above only needed Load.
	store = configstore.New(path, cfg.Lifecycle.MinWriteInterval())
	applier.store = store

	reg := registry.New(registry.Options{
		MaxRunAge: cfg.Lifecycle.MaxRunDuration(),
	})
	defer reg.Close()
	applier.reg = reg

	// current is the last applied snapshot, the baseline every settle is
	// classified against. Hot-applies move it; queued restarts do not —
	// the new content only becomes authoritative in the next process.
	var current atomic.Pointer[configstore.Snapshot]
	current.Store(&snap)

	hotApply := func(next configstore.Snapshot) error {
		prev := current.Load()
		if err := applier.apply(prev.Config, next.Config); err != nil {
			return err
		}
		current.Store(&next)
		return nil
	}

	coord := coordinator.New(reg, selectBridge(cfg.Gateway), hotApply)
	applier.coord = coord
	reg.OnCompletion(func(id string) {
		coord.RunCompleted(ctx, id)
	})

	planner := plan.NewPlanner(nil)
	w, err := watcher.New(store, func(next configstore.Snapshot) {
		coord.Evaluate(ctx, planner.Plan(*current.Load(), next))
	}, &watcher.Options{
		QuiescenceWindow: cfg.Lifecycle.QuiescenceWindow(),
	})
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer w.Stop()
	applier.watcher = w

	if !isatty.IsTerminal(os.Stderr.Fd()) {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("moltbotd"))
	handlers.SetupRoutes(router, coord)

	server := &http.Server{
		Addr:              cfg.Gateway.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := w.Start(groupCtx); err != nil {
			return fmt.Errorf("start config watcher: %w", err)
		}
		<-groupCtx.Done()
		return nil
	})
	group.Go(func() error {
		slog.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	slog.Info("moltbotd stopped")
	return nil
}
