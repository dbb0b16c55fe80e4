package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DDPL-Work/traveldesk/config"
	"github.com/DDPL-Work/traveldesk/internal/bootstrap"
	"github.com/DDPL-Work/traveldesk/internal/cache"
	"github.com/DDPL-Work/traveldesk/internal/gateway"
	"github.com/DDPL-Work/traveldesk/internal/kafka"
	"github.com/DDPL-Work/traveldesk/internal/repository"
	"github.com/DDPL-Work/traveldesk/internal/service/amendment"
	"github.com/DDPL-Work/traveldesk/internal/service/booking"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	redisCache := cache.NewRedisCache(cfg.Redis, time.Duration(cfg.Booking.AccountCacheTTLSeconds)*time.Second)
	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	provider := gateway.NewClient(cfg.Provider, logger)

	bookingRepo := repository.NewBookingRepository(pool)
	ledgerRepo := repository.NewLedgerRepository(pool)
	changeRepo := repository.NewChangeRepository(pool)

	lockTTL := time.Duration(cfg.Booking.ExecutionLockTTLSeconds) * time.Second

	bookingService := booking.NewBookingService(
		bookingRepo,
		ledgerRepo,
		redisCache,
		provider,
		producer,
		cfg.Kafka.BookingTopic,
		lockTTL,
		time.Duration(cfg.Booking.TicketWaitBudgetMinutes)*time.Minute,
		logger,
		booking.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
	)

	amendmentService := amendment.NewAmendmentService(
		bookingRepo,
		changeRepo,
		ledgerRepo,
		redisCache,
		provider,
		producer,
		cfg.Kafka.BookingTopic,
		lockTTL,
		time.Duration(cfg.Booking.ChangeStallBudgetMinutes)*time.Minute,
		logger,
	)

	if err := bootstrap.Run(ctx, cfg, bookingService, amendmentService); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
