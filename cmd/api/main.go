package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/customers"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
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

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer outlives ctx so events published during shutdown still flush
	prodCtx, cancelProd := context.WithCancel(context.Background())
	events := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, logger.Named("kafka"))
	events.Start(prodCtx)

	gateway, err := payments.NewStripeGateway(payments.StripeConfig{
		APIKey:     cfg.Payments.StripeAPIKey,
		Currency:   cfg.Payments.Currency,
		SuccessURL: cfg.Payments.SuccessURL,
		CancelURL:  cfg.Payments.CancelURL,
		Logger:     logging.EventLogger(logger.Named("payments")),
	})
	if err != nil {
		logger.Fatal("payment gateway", zap.Error(err))
	}
	shipper := shipping.New(shipping.Config{
		BaseURL:        cfg.Shipping.BaseURL,
		Email:          cfg.Shipping.Email,
		Password:       cfg.Shipping.Password,
		PickupLocation: cfg.Shipping.PickupLocation,
		PickupPincode:  cfg.Shipping.PickupPincode,
		ChannelID:      cfg.Shipping.ChannelID,
		Timeout:        cfg.Shipping.Timeout,
		DefaultLength:  cfg.Shipping.DefaultLength,
		DefaultBreadth: cfg.Shipping.DefaultBreadth,
		DefaultHeight:  cfg.Shipping.DefaultHeight,
		DefaultWeight:  cfg.Shipping.DefaultWeight,
		Logger:         logging.EventLogger(logger.Named("shipping")),
	})

	flow, err := orderflow.NewService(orderflow.Deps{
		Orders:        &orders.Repo{DB: db},
		Reservations:  &orders.ReservationRepo{DB: db},
		Payments:      gateway,
		Shipping:      shipper,
		Timeouts:      &scheduler.Scheduler{RDB: rdb, Delay: cfg.Scheduler.Delay},
		Locks:         &redisx.Locker{RDB: rdb, Wait: 5 * time.Second},
		Events:        events,
		Log:           logger.Named("orderflow"),
		ServiceName:   cfg.ServiceName,
		Currency:      cfg.Payments.Currency,
		PickupPincode: cfg.Shipping.PickupPincode,
	})
	if err != nil {
		logger.Fatal("order service", zap.Error(err))
	}

	accounts := &customers.Service{
		Store:    &customers.Repo{DB: db},
		Codes:    &customers.OTPStore{RDB: rdb, TTL: cfg.Auth.OTPTTL, MaxAttempts: cfg.Auth.OTPAttempts},
		Tokens:   &customers.Tokens{Secret: []byte(cfg.Auth.JWTSecret), TTL: cfg.Auth.SessionTTL, Issuer: cfg.ServiceName},
		Notifier: customers.LogNotifier{Log: logger.Named("otp")},
		Log:      logger.Named("customers"),
	}

	router := httpx.NewRouter(logger)
	httpx.Mount(router, httpx.Handlers{
		Orders:     &httpx.OrdersHandler{Flow: flow},
		Customers:  &httpx.CustomersHandler{Accounts: accounts, CookieName: cfg.Auth.CookieName, Secure: cfg.Auth.SecureCookie},
		Products:   &httpx.ProductsHandler{Catalog: &catalog.Repo{DB: db}},
		Auth:       accounts,
		CookieName: cfg.Auth.CookieName,
		AdminKey:   cfg.Auth.AdminKey,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("api stopped", zap.Error(err))
	}

	events.Close() // closes inbox -> flush & close writer
	cancelProd()
	events.WaitClosed()
}
