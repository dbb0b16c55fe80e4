package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DDPL-Work/traveldesk/api"
	"github.com/DDPL-Work/traveldesk/config"
	"github.com/DDPL-Work/traveldesk/internal/service/amendment"
	"github.com/DDPL-Work/traveldesk/internal/service/booking"
)

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails.
func Run(ctx context.Context, cfg *config.Config, bookingSvc booking.BookingUseCase, amendmentSvc amendment.AmendmentUseCase) error {
	router := gin.New()
	router.Use(gin.Recovery())

	bookings := router.Group("/corporate/bookings")
	changes := router.Group("/corporate/changes")

	api.NewBookingHandler(bookingSvc).Register(bookings)
	api.NewChangeHandler(amendmentSvc).Register(bookings, changes)

	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}
