package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/cache"
	"checkout-service/config"
	"checkout-service/consumers"
	"checkout-service/controllers"
	"checkout-service/database"
	"checkout-service/events"
	"checkout-service/gateway"
	"checkout-service/kafka"
	"checkout-service/logging"
	"checkout-service/middlewares"
	"checkout-service/rabbitmq"
	"checkout-service/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	cfg, err := config.Load("config", env)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.Init(cfg.App.Name, cfg.App.LogFile, cfg.App.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("checkout service stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.Open(ctx, cfg, logging.New("database"))
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.MySQL.Migrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}
	store := database.NewStore(db)

	// Gateways
	httpClient := &http.Client{}
	fulfillment := gateway.NewClient(cfg.Fulfillment, httpClient, logging.New("fulfillment"))
	snap := gateway.NewSnapClient(gateway.SnapConfig{
		ServerKey:    cfg.Midtrans.ServerKey,
		IsProduction: cfg.Midtrans.IsProduction,
		BaseURL:      cfg.Midtrans.BaseURL,
		Timeout:      cfg.Midtrans.Timeout,
	}, cfg.Fulfillment, httpClient, logging.New("midtrans"))

	// Event fan-out
	dispatcher := events.NewDispatcher(store.Events(), logging.New("events"))

	var rmq *rabbitmq.RabbitMQ
	if cfg.RabbitMQ.URL != "" {
		rmq, err = rabbitmq.NewRabbitMQ(cfg, logging.New("rabbitmq"))
		if err != nil {
			return err
		}
		defer rmq.Close()
		if err := rmq.SetupQueues(); err != nil {
			return err
		}
		dispatcher.Register(rmq)
	}

	if brokers := kafka.ParseBrokers(cfg.Kafka.Brokers...); len(brokers) > 0 {
		pub := kafka.NewPublisher(brokers, cfg.Kafka.TopicEvents)
		defer pub.Close()
		dispatcher.Register(pub)
	}

	paymentOpts := []services.PaymentOption{
		services.WithSnap(snap, cfg.Checkout.CallbackBaseURL+"/api/payments/callback/finish"),
	}
	var dedupe consumers.Deduper
	if cfg.Redis.Addr != "" {
		rdb, err := cache.NewClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		paymentOpts = append(paymentOpts, services.WithLocker(cache.NewRedisLocker(rdb, cfg.Redis.LockTTL)))
		dedupe = cache.NewRedisDedupe(rdb, cfg.Redis.DedupTTL)
	}

	if rmq != nil {
		consumer := consumers.NewOrderConsumer(cfg, fulfillment, dedupe, logging.New("consumer"))
		if err := consumer.Start(ctx, rmq.Channel); err != nil {
			return err
		}
	}

	relay := events.NewRelay(dispatcher, store.Events(), cfg.Outbox.PollInterval, cfg.Outbox.MinAge, cfg.Outbox.BatchSize, logging.New("relay"))
	go relay.Run(ctx)

	// Services
	checkoutSvc := services.NewCheckoutService(store, fulfillment, services.SettingsFromConfig(cfg), logging.New("checkout"))
	paymentSvc := services.NewPaymentService(store, dispatcher, logging.New("payment"), paymentOpts...)
	orderSvc := services.NewOrderService(store, logging.New("orders"))

	// HTTP
	if cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestLogger(logger), middlewares.PrometheusMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		pctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(pctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	controllers.Register(r,
		controllers.NewOrderController(checkoutSvc, orderSvc),
		controllers.NewPaymentController(paymentSvc),
		cfg.Security.JWTSecret, cfg.Security.ServiceAPIKey)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("checkout service starting", "addr", cfg.HTTP.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
