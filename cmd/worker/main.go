package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/expiry"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orderflow"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payments"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/scheduler"
	"github.com/ariefcatur/go-storefront-orders/internal/shipping"
)

// The worker fires due order timers onto order.timeout and expires the orders behind them.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prodCtx, cancelProd := context.WithCancel(context.Background())
	events := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, logger.Named("kafka"))
	events.Start(prodCtx)
	// fired timers go out through Send so the poller sees broker errors
	timeouts := kafkax.NewSyncProducer(cfg.KafkaBrokers, orders.TopicOrderTimeout, logger.Named("kafka"))

	gateway, err := payments.NewStripeGateway(payments.StripeConfig{
		APIKey:   cfg.Payments.StripeAPIKey,
		Currency: cfg.Payments.Currency,
		Logger:   logging.EventLogger(logger.Named("payments")),
	})
	if err != nil {
		logger.Fatal("payment gateway", zap.Error(err))
	}
	sched := &scheduler.Scheduler{RDB: rdb, Delay: cfg.Scheduler.Delay}

	flow, err := orderflow.NewService(orderflow.Deps{
		Orders:       &orders.Repo{DB: db},
		Reservations: &orders.ReservationRepo{DB: db},
		Payments:     gateway,
		Shipping: shipping.New(shipping.Config{
			BaseURL:  cfg.Shipping.BaseURL,
			Email:    cfg.Shipping.Email,
			Password: cfg.Shipping.Password,
			Timeout:  cfg.Shipping.Timeout,
			Logger:   logging.EventLogger(logger.Named("shipping")),
		}),
		Timeouts:    sched,
		Locks:       &redisx.Locker{RDB: rdb, Wait: 5 * time.Second},
		Events:      events,
		Log:         logger.Named("orderflow"),
		ServiceName: cfg.ServiceName + "-worker",
	})
	if err != nil {
		logger.Fatal("order service", zap.Error(err))
	}

	poller := &scheduler.Poller{
		Scheduler:   sched,
		Dispatcher:  scheduler.KafkaDispatcher{Sender: timeouts, Producer: cfg.ServiceName + "-scheduler"},
		Log:         logger.Named("scheduler"),
		Interval:    cfg.Scheduler.PollInterval,
		BatchSize:   cfg.Scheduler.BatchSize,
		MaxAttempts: cfg.Scheduler.MaxAttempts,
		MaxEventAge: cfg.Scheduler.MaxEventAge,
	}
	handler := &expiry.Service{
		Orders:      flow,
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-expiry",
		Log:         logger.Named("expiry"),
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.Worker.Group, orders.TopicOrderTimeout, cfg.Worker.Workers, logger.Named("kafka"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("timer poller started", zap.Duration("interval", cfg.Scheduler.PollInterval))
		return poller.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("timeout consumer started",
			zap.String("group", cfg.Worker.Group), zap.String("topic", orders.TopicOrderTimeout), zap.Int("workers", cfg.Worker.Workers))
		return cons.Start(gctx, handler.HandleOrderTimeout)
	})
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", zap.Error(err))
	}

	events.Close()
	timeouts.Close()
	cancelProd()
	events.WaitClosed()
}
