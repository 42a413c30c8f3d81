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

	"github.com/ariefcatur/go-cart-reservations/internal/cart"
	"github.com/ariefcatur/go-cart-reservations/internal/checkout"
	"github.com/ariefcatur/go-cart-reservations/internal/config"
	"github.com/ariefcatur/go-cart-reservations/internal/httpx"
	kafkax "github.com/ariefcatur/go-cart-reservations/internal/kafka"
	"github.com/ariefcatur/go-cart-reservations/internal/logging"
	"github.com/ariefcatur/go-cart-reservations/internal/orders"
	"github.com/ariefcatur/go-cart-reservations/internal/postgres"
	"github.com/ariefcatur/go-cart-reservations/internal/pricing"
	"github.com/ariefcatur/go-cart-reservations/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
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

	// Kafka producers outlive the HTTP server so in-flight events get flushed.
	prodCtx, stopProducers := context.WithCancel(context.Background())
	defer stopProducers()
	placed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024, log)
	placed.Start(prodCtx)
	changed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024, log)
	changed.Start(prodCtx)

	ledger := &postgres.Ledger{DB: db, Log: log.Named("ledger")}
	repo := redisx.NewOrderCache(&postgres.Orders{DB: db}, rdb, log.Named("order-cache"))
	locks := redisx.NewLocker(rdb, cfg.LockTTL, log.Named("lock"))
	calc := pricing.NewCalculator(cfg.Pricing)

	carts := cart.NewService(&redisx.CartStore{Redis: rdb}, ledger, locks, calc, log.Named("cart"),
		cart.WithPlacedOrders(repo))
	coord := checkout.New(checkout.Deps{
		Carts:    carts,
		Ledger:   ledger,
		Orders:   repo,
		Sequence: &redisx.Sequence{Redis: rdb},
		Locks:    locks,
		Pricing:  calc,
		Publisher: &kafkax.Publisher{
			Placed:        placed,
			StatusChanged: changed,
			ServiceName:   cfg.ServiceName,
		},
		Log:          log.Named("checkout"),
		NumberPrefix: cfg.NumberPrefix,
	})

	router := httpx.NewRouter(log.Named("http"))
	(&httpx.CartHandler{Carts: carts, Log: log}).Register(router)
	(&httpx.OrdersHandler{Checkout: coord, Log: log}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	stopProducers()
	placed.WaitClosed()
	changed.WaitClosed()
	return nil
}
