package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-cart-reservations/internal/config"
	"github.com/ariefcatur/go-cart-reservations/internal/inventory"
	kafkax "github.com/ariefcatur/go-cart-reservations/internal/kafka"
	"github.com/ariefcatur/go-cart-reservations/internal/logging"
	"github.com/ariefcatur/go-cart-reservations/internal/orders"
	"github.com/ariefcatur/go-cart-reservations/internal/postgres"
	"github.com/ariefcatur/go-cart-reservations/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// The inventory worker applies catalog changes to the ledger and releases
// holds left behind by interrupted checkouts and cancellations.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.ServiceName+"-inventory", cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("inventory exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Redis
	rdb, err := redisx.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()

	ledger := &postgres.Ledger{DB: db, Log: log.Named("ledger")}
	catalog := &inventory.CatalogSync{
		Catalog: ledger,
		Dedup:   &redisx.Dedup{Redis: rdb, Service: "inventory"},
		Log:     log.Named("catalog"),
	}
	sweeper := inventory.NewSweeper(ledger, orders.Liveness{Repo: &postgres.Orders{DB: db}},
		cfg.HoldGrace, cfg.SweepInterval, log.Named("sweeper"))
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.CatalogGroup, orders.TopicCatalogProductChanged,
		cfg.CatalogWorkers, log.Named("consumer"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("catalog consumer started",
			zap.String("group", cfg.CatalogGroup),
			zap.String("topic", orders.TopicCatalogProductChanged),
			zap.Int("workers", cfg.CatalogWorkers))
		return cons.Start(gctx, catalog.HandleProductChanged)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	err = g.Wait()
	log.Info("shutting down")
	if ctx.Err() != nil {
		return nil
	}
	return err
}
