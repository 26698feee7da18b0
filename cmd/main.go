package main

import (
	"context"
	"errors"
	"log"
	nethttp "net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/order-backend/internal/config"
	"github.com/sakashimaa/order-backend/internal/events"
	"github.com/sakashimaa/order-backend/internal/repository"
	"github.com/sakashimaa/order-backend/internal/service"
	"github.com/sakashimaa/order-backend/internal/transport/http"
	"github.com/sakashimaa/order-backend/internal/transport/kafka"
	"github.com/sakashimaa/order-backend/internal/transport/ws"
	"github.com/sakashimaa/order-backend/pkg/auth"
	"github.com/sakashimaa/order-backend/pkg/db"
	kafka2 "github.com/sakashimaa/order-backend/pkg/kafka"
	"github.com/sakashimaa/order-backend/pkg/mylogger"
	"github.com/sakashimaa/order-backend/pkg/utils"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()

	tp, err := utils.InitTracer(ctx, "order-backend")
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	logger, err := config.NewLogger(config.LoggerConfig{
		Level: "Info",
		Env:   cfg.Env,
	})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := db.NewPostgresDB(db.Config{
		URL:      cfg.Postgres.URL,
		MaxConns: cfg.Postgres.MaxConns,
		MinConns: cfg.Postgres.MinConns,
	})
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}

	kafkaProducer, err := kafka2.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}

	bus := events.NewBus(logger, events.Config{
		Throttle: cfg.Events.Throttle,
		IdleTTL:  cfg.Events.IdleTTL,
	})

	orderRepo := repository.NewOrderRepository(pool, logger)
	orderService := service.NewOrderService(
		pool,
		logger,
		orderRepo,
		bus,
		kafkaProducer,
		cfg.Kafka.StatusTopic,
		cfg.Orders.LockTimeout,
	)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
		})
		orderService = service.NewCachedOrderService(orderService, rdb)
	}

	verifier := auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.TTL)

	app := fiber.New()
	orderHandler := http.NewOrderHandler(orderService, bus, logger)
	http.RegisterRoutes(app, orderHandler, http.NewAuthMiddleware(verifier))

	gateway := ws.NewGateway(verifier, orderService, logger, ws.Config{
		RateLimitCalls:  cfg.Realtime.RateLimitCalls,
		RateLimitWindow: cfg.Realtime.RateLimitWin,
	})
	bus.Subscribe(gateway.HandleEvent)

	realtimeMux := nethttp.NewServeMux()
	realtimeMux.Handle("/realtime", gateway)
	realtimeServer := &nethttp.Server{
		Addr:    cfg.Realtime.Port,
		Handler: realtimeMux,
	}

	go func() {
		log.Printf("HTTP server listening on %s 🔥", cfg.HTTP.Port)
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("Error serving HTTP: %v", err)
		}
	}()

	go func() {
		log.Printf("Realtime server listening on %s 🔥", cfg.Realtime.Port)
		if err := realtimeServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatalf("Error serving realtime: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	events.RegisterMetrics(reg, bus)

	go func() {
		metricsMux := nethttp.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry: reg,
		}))
		log.Printf("Metrics server is listening on %s 📈", cfg.HTTP.MetricsPort)

		if err := nethttp.ListenAndServe(cfg.HTTP.MetricsPort, metricsMux); err != nil {
			log.Printf("Metrics serving failed: %v", err)
		}
	}()

	statusConsumer := kafka.NewStatusConsumer(bus, logger)
	go statusConsumer.Run(ctx, cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.StatusTopic)

	<-ctx.Done()

	shutdownCtx, exit := context.WithTimeout(context.Background(), time.Second*5)
	defer exit()

	mylogger.Info(
		shutdownCtx,
		logger,
		"Shutting down order backend",
	)

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		mylogger.Warn(
			shutdownCtx,
			logger,
			"Failed to shut down HTTP server",
			zap.Error(err),
		)
	}

	if err := realtimeServer.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(
			shutdownCtx,
			logger,
			"Failed to shut down realtime server",
			zap.Error(err),
		)
	}

	bus.Shutdown()

	if err := kafkaProducer.Close(); err != nil {
		mylogger.Warn(
			shutdownCtx,
			logger,
			"Failed to close kafka producer",
			zap.Error(err),
		)
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(
			shutdownCtx,
			logger,
			"Failed to shut down telemetry",
			zap.Error(err),
		)
	}

	pool.Close()
}
