package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harshitk-cp/bnoracle/internal/api"
	"github.com/Harshitk-cp/bnoracle/internal/backend"
	"github.com/Harshitk-cp/bnoracle/internal/buildconfig"
	"github.com/Harshitk-cp/bnoracle/internal/config"
	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/notify"
	"github.com/Harshitk-cp/bnoracle/internal/service"
	"github.com/Harshitk-cp/bnoracle/internal/store"
	"github.com/Harshitk-cp/bnoracle/internal/telemetry"
	"go.uber.org/zap"
)

func main() {
	if err := config.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger, err := backend.Logger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Exporter:    config.TracesExporter(),
		Endpoint:    config.OTLPEndpoint(),
		ServiceName: "bnoracle",
		Version:     buildconfig.Version(),
		Environment: os.Getenv("ENVIRONMENT"),
	})
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	net, seedTables, err := backend.Network()
	if err != nil {
		logger.Fatal("failed to load network", zap.Error(err))
	}
	logger.Info("network loaded",
		zap.String("name", net.Name()),
		zap.Strings("targets", net.Targets()),
		zap.Strings("required", net.Required()),
	)

	db, err := backend.Open(ctx, true, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer db.Close()

	feed := notify.NewFeed(db.Set.Events, logger)

	app, err := api.NewApp(db.Set, net, feed, logger)
	if err != nil {
		logger.Fatal("failed to build app", zap.Error(err))
	}

	if db.Kind == backend.Memory {
		bootstrapMemory(ctx, app, seedTables, logger)
	}

	// Outbound event stream
	subCtx, cancelSubs := context.WithCancel(ctx)
	defer cancelSubs()
	if url := config.RedisURL(); url != "" {
		sink, err := notify.NewRedisSink(url, config.NotifyChannel())
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer func() { _ = sink.Close() }()
		head, _, err := db.Set.Events.Head(ctx)
		if err != nil {
			logger.Fatal("failed to read ledger head", zap.Error(err))
		}
		feed.Subscribe(subCtx, head, nil, sink.Handle)
		logger.Info("publishing events", zap.String("channel", config.NotifyChannel()), zap.Int64("from_seq", head))
	}

	controller, err := controllerActor(ctx, db.Set)
	if err != nil {
		logger.Fatal("failed to resolve controller actor", zap.Error(err))
	}
	watcher := service.NewWatcherService(app.Claims, app.Oracle, db.Set.Claims, db.Set.Events, feed, controller, logger)
	watcher.SetInterval(config.WatchInterval())
	watcher.SetAutoResolve(config.AutoResolve())
	if err := watcher.Start(); err != nil {
		logger.Fatal("failed to start watcher", zap.Error(err))
	}

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr), zap.String("version", buildconfig.Version()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	watcher.Stop()
	cancelSubs()
	app.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// controllerActor returns the stored actor named CONTROLLER_NAME. When none
// exists the watcher acts as an in-process controller that holds no key.
func controllerActor(ctx context.Context, set *store.Set) (*domain.Actor, error) {
	name := config.ControllerName()
	a, err := set.Actors.GetByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return &domain.Actor{Name: name, Roles: []domain.Role{domain.RoleController}}, nil
	}
	if err != nil {
		return nil, err
	}
	if !a.HasRole(domain.RoleController) {
		return nil, fmt.Errorf("actor %q lacks the %s role", name, domain.RoleController)
	}
	return a, nil
}

// bootstrapMemory gives a fresh in-memory store an admin key and the seed
// tables, since nothing else could create them.
func bootstrapMemory(ctx context.Context, app *api.App, tables map[string][][]float64, logger *zap.Logger) {
	admin, key, err := app.Actors.Bootstrap(ctx, "admin", []domain.Role{
		domain.RoleGovernance, domain.RoleReporter, domain.RoleController, domain.RoleAuditor,
	})
	if err != nil {
		logger.Fatal("failed to bootstrap admin", zap.Error(err))
	}
	logger.Warn("bootstrapped admin actor", zap.String("name", admin.Name), zap.String("api_key", key))

	if len(tables) == 0 {
		return
	}
	revs, err := app.CPTs.Seed(ctx, admin, tables, false)
	if err != nil {
		logger.Fatal("failed to seed CPTs", zap.Error(err))
	}
	logger.Info("seeded CPTs", zap.Any("revisions", revs))
}
