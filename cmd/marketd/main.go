// marketd runs the round marketplace core: the round lifecycle, order
// intake, the conclusion scheduler, notification dispatch and the HTTP API.
//
// Usage: marketd --config configs/marketd.example.yaml --env .env
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"golang.org/x/sync/errgroup"

	"github.com/acquity/roundmarket/internal/chat"
	"github.com/acquity/roundmarket/internal/clock"
	"github.com/acquity/roundmarket/internal/config"
	"github.com/acquity/roundmarket/internal/database"
	"github.com/acquity/roundmarket/internal/httpapi"
	"github.com/acquity/roundmarket/internal/metrics"
	"github.com/acquity/roundmarket/internal/notify"
	"github.com/acquity/roundmarket/internal/orders"
	"github.com/acquity/roundmarket/internal/round"
	"github.com/acquity/roundmarket/internal/scheduler"
	"github.com/acquity/roundmarket/internal/store"
	"github.com/acquity/roundmarket/internal/store/memory"
	"github.com/acquity/roundmarket/internal/store/postgres"
	"github.com/acquity/roundmarket/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/marketd.example.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath, *envPath)
	if err != nil {
		slog.Error("failed to load config", "config", *configPath, "error", err)
		os.Exit(1)
	}

	level, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting marketd",
		append(version.LogAttrs(),
			"instance_id", cfg.Instance.ID,
			"config", *configPath,
		)...,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("marketd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("marketd stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Round.Location()
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()

	dispatcher := notify.NewDispatcher(notify.Config{
		BufferSize:     cfg.Notifications.BufferSize,
		BatchSize:      notify.DefaultConfig().BatchSize,
		PublishTimeout: cfg.Notifications.PublishTimeout,
	}, newPublisher(cfg.Notifications, logger), m, logger.With("component", "notify"))

	taskStore, err := openTaskStore(cfg.Scheduler.StorePath)
	if err != nil {
		return err
	}
	defer taskStore.Close()

	// The scheduler needs the manager as its handler and the manager needs
	// the scheduler to register tasks.
	var manager *round.Manager
	sched := scheduler.New(scheduler.Config{
		PollInterval:   cfg.Scheduler.PollInterval,
		Concurrency:    cfg.Scheduler.Concurrency,
		TaskTimeout:    cfg.Scheduler.TaskTimeout,
		RetryBaseDelay: cfg.Scheduler.RetryBaseDelay,
		RetryMaxDelay:  cfg.Scheduler.RetryMaxDelay,
	}, taskStore, scheduler.HandlerFunc(func(ctx context.Context, task scheduler.Task) error {
		return manager.HandleTask(ctx, task)
	}), logger.With("component", "scheduler"), scheduler.WithMetrics(m))

	hub := httpapi.NewHub(cfg.HTTP.AllowedOrigins, m, logger.With("component", "stream"))

	roundCfg := round.DefaultConfig()
	roundCfg.SellerCountCutoff = cfg.Round.SellerCountCutoff
	roundCfg.TotalShareCutoff = cfg.Round.TotalShareCutoff
	roundCfg.Length = cfg.Round.Length
	roundCfg.ClosingSoonLead = cfg.Round.ClosingSoonLead
	roundCfg.Location = loc
	roundCfg.RecoverInterval = cfg.Scheduler.RecoverInterval

	manager = round.New(roundCfg, st, sched,
		chat.NewFactory(st, clock.Real{}, logger.With("component", "chat")),
		dispatcher,
		logger.With("component", "round"),
		round.WithMetrics(m),
		round.WithEvents(hub),
	)

	intake := orders.NewService(st, manager, dispatcher, orders.Limits{
		SellOrdersPerRound: cfg.Orders.SellOrdersPerRoundLimit,
		BuyOrdersPerRound:  cfg.Orders.BuyOrdersPerRoundLimit,
	}, logger.With("component", "orders"), orders.WithMetrics(m))

	server := httpapi.NewServer(httpapi.Config{
		Port:           cfg.HTTP.Port,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		UserHeader:     cfg.HTTP.UserHeader,
	}, manager, hub, m, clock.Real{}, logger.With("component", "http"), httpapi.WithOrders(intake))

	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start notifications: %w", err)
	}
	if err := manager.Recover(ctx); err != nil {
		// Whatever failed is retried by the periodic sweep.
		logger.Error("failed to recover some round tasks", "error", err)
	}
	if _, err := manager.StartRoundIfDue(ctx); err != nil {
		logger.Error("startup cutoff check failed", "error", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return manager.RunRecovery(gctx) })

	logger.Info("marketd running",
		"http_port", cfg.HTTP.Port,
		"driver", cfg.Database.Driver,
		"round_length", cfg.Round.Length,
		"sell_limit", cfg.Orders.SellOrdersPerRoundLimit,
		"buy_limit", cfg.Orders.BuyOrdersPerRoundLimit,
	)

	err = g.Wait()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := sched.Stop(shutdownCtx); serr != nil {
		logger.Warn("scheduler stop", "error", serr)
	}
	if derr := dispatcher.Stop(shutdownCtx); derr != nil {
		logger.Warn("notification dispatcher stop", "error", derr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("using in-memory store, state is lost on exit")
		return memory.New(), func() {}, nil
	}

	logger.Info("connecting to database",
		"host", cfg.Postgres.Host,
		"port", cfg.Postgres.Port,
		"database", cfg.Postgres.Name,
	)
	pool, err := database.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("database connected")
	return postgres.New(pool, logger.With("component", "store")), pool.Close, nil
}

func openTaskStore(path string) (scheduler.TaskStore, error) {
	if path == "" {
		return scheduler.NewMemoryTaskStore(), nil
	}
	return scheduler.OpenPebbleTaskStore(path)
}

func newPublisher(cfg config.NotificationsConfig, logger *slog.Logger) notify.Publisher {
	if len(cfg.Brokers) == 0 {
		logger.Warn("no notification brokers configured, logging notifications instead")
		return notify.NewLogPublisher(logger.With("component", "notify"))
	}
	return notify.NewKafkaPublisher(cfg.Brokers, cfg.Topic)
}
