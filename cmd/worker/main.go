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
	"github.com/DDPL-Work/traveldesk/internal/cache"
	"github.com/DDPL-Work/traveldesk/internal/email"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := repository.NewPool(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	redisCache := cache.NewRedisCache(cfg.Redis, time.Duration(cfg.Booking.AccountCacheTTLSeconds)*time.Second)
	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	provider := gateway.NewClient(cfg.Provider, logger)

	bookingRepo := repository.NewBookingRepository(pool)
	ledgerRepo := repository.NewLedgerRepository(pool)
	changeRepo := repository.NewChangeRepository(pool)

	bookingService := booking.NewBookingService(
		bookingRepo,
		ledgerRepo,
		redisCache,
		provider,
		producer,
		cfg.Kafka.BookingTopic,
		time.Duration(cfg.Booking.ExecutionLockTTLSeconds)*time.Second,
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
		time.Duration(cfg.Booking.ExecutionLockTTLSeconds)*time.Second,
		time.Duration(cfg.Booking.ChangeStallBudgetMinutes)*time.Minute,
		logger,
	)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic, logger)
	defer consumer.Close()

	emailSender := email.NewSender(logger)

	go func() {
		if err := consumer.Consume(ctx, emailSender.Send); err != nil {
			logger.Warn("consumer stopped", zap.Error(err))
		}
	}()

	pollTicker := time.NewTicker(time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second)
	defer pollTicker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-pollTicker.C:
			resolved, err := bookingService.RefreshTicketPending(ctx)
			if err != nil {
				logger.Warn("refresh ticket pending", zap.Error(err))
				continue
			}
			if len(resolved) > 0 {
				logger.Info("resolved in-flight bookings", zap.Int("count", len(resolved)))
			}
			stalled, err := amendmentService.FailStalled(ctx)
			if err != nil {
				logger.Warn("fail stalled changes", zap.Error(err))
				continue
			}
			if len(stalled) > 0 {
				logger.Info("closed stalled change requests", zap.Int("count", len(stalled)))
			}
		case s := <-sig:
			logger.Info("shutting down", zap.String("signal", s.String()))
			return
		}
	}
}
