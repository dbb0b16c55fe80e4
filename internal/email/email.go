package email

import (
	"context"

	"go.uber.org/zap"

	"github.com/DDPL-Work/traveldesk/internal/kafka"
)

// Sender notifies the traveler about booking lifecycle events. Delivery is
// a log line for now; the mail transport plugs in here.
type Sender struct {
	logger *zap.Logger
}

func NewSender(logger *zap.Logger) *Sender {
	return &Sender{logger: logger}
}

func (s *Sender) Send(ctx context.Context, event kafka.BookingEvent) error {
	s.logger.Info("send notification",
		zap.String("type", event.Type),
		zap.String("booking_id", event.BookingID),
		zap.String("traveler_id", event.TravelerID),
		zap.String("execution_status", event.ExecutionStatus))
	return nil
}
