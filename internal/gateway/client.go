package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DDPL-Work/traveldesk/config"
	"github.com/DDPL-Work/traveldesk/internal/domain"
)

// Client talks to the reservation provider over HTTP JSON. Transport
// failures are retried with a linear backoff; the idempotency key carried on
// execute requests makes those retries safe.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

func NewClient(cfg config.ProviderConfig, logger *zap.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 3
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: retries,
		backoff:    500 * time.Millisecond,
		logger:     logger,
	}
}

type executePayload struct {
	IdempotencyKey string             `json:"idempotency_key"`
	BookingID      string             `json:"booking_id"`
	TripType       string             `json:"trip_type"`
	Segments       []domain.Segment   `json:"segments"`
	Travellers     []domain.Traveller `json:"travellers"`
	Fare           domain.FareSnapshot `json:"fare"`
}

type executeReply struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	payload := executePayload{
		IdempotencyKey: req.IdempotencyKey,
		BookingID:      req.BookingID,
		TripType:       string(req.TripType),
		Segments:       req.Segments,
		Travellers:     req.Travellers,
		Fare:           req.Fare,
	}

	var reply executeReply
	status, err := c.post(ctx, "/reservations", payload, &reply)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return &ExecuteResponse{Outcome: ExecuteRejected, Reason: reply.Reason}, nil
	}
	if reply.Status == "rejected" {
		return &ExecuteResponse{Outcome: ExecuteRejected, Reason: reply.Reason}, nil
	}
	return &ExecuteResponse{Outcome: ExecuteAccepted}, nil
}

type statusReply struct {
	Status    string `json:"status"`
	PNR       string `json:"pnr"`
	ReturnPNR string `json:"return_pnr"`
	Reason    string `json:"reason"`
}

func (c *Client) PollStatus(ctx context.Context, bookingID string) (*TicketStatus, error) {
	var reply statusReply
	status, err := c.get(ctx, "/reservations/"+bookingID+"/status", &reply)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("status %d: %w", status, domain.ErrProviderRejected)
	}

	switch reply.Status {
	case "ticketed":
		return &TicketStatus{State: TicketStateTicketed, PNR: reply.PNR, ReturnPNR: reply.ReturnPNR}, nil
	case "failed":
		return &TicketStatus{State: TicketStateFailed, Reason: reply.Reason}, nil
	default:
		return &TicketStatus{State: TicketStatePending}, nil
	}
}

type quotePayload struct {
	Kind         string   `json:"kind"`
	PassengerIDs []string `json:"passenger_ids,omitempty"`
	SegmentIdx   []int    `json:"segment_idx,omitempty"`
}

type quoteReply struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (c *Client) QuoteCharges(ctx context.Context, bookingID string, kind domain.ChangeKind, scope CancelScope) (decimal.Decimal, error) {
	payload := quotePayload{Kind: string(kind), PassengerIDs: scope.PassengerIDs, SegmentIdx: scope.SegmentIdx}

	var reply quoteReply
	status, err := c.post(ctx, "/reservations/"+bookingID+"/charges", payload, &reply)
	if err != nil {
		return decimal.Zero, err
	}
	if status >= 400 {
		return decimal.Zero, fmt.Errorf("quote charges status %d: %w", status, domain.ErrProviderRejected)
	}
	return reply.Amount, nil
}

func (c *Client) Cancel(ctx context.Context, bookingID string, scope CancelScope) error {
	payload := quotePayload{PassengerIDs: scope.PassengerIDs, SegmentIdx: scope.SegmentIdx}
	status, err := c.post(ctx, "/reservations/"+bookingID+"/cancel", payload, nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("cancel status %d: %w", status, domain.ErrProviderRejected)
	}
	return nil
}

type amendPayload struct {
	Segments []domain.Segment `json:"segments"`
}

func (c *Client) Amend(ctx context.Context, bookingID string, newSegments []domain.Segment) error {
	status, err := c.post(ctx, "/reservations/"+bookingID+"/amend", amendPayload{Segments: newSegments}, nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("amend status %d: %w", status, domain.ErrProviderRejected)
	}
	return nil
}

func (c *Client) ReleasePNR(ctx context.Context, bookingID string) error {
	status, err := c.post(ctx, "/reservations/"+bookingID+"/release", struct{}{}, nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("release status %d: %w", status, domain.ErrProviderRejected)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, reply interface{}) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body, reply)
}

func (c *Client) get(ctx context.Context, path string, reply interface{}) (int, error) {
	return c.do(ctx, http.MethodGet, path, nil, reply)
}

// do runs one request with bounded retries on transport errors and 5xx
// responses. 4xx responses are returned to the caller unretried.
func (c *Client) do(ctx context.Context, method, path string, body []byte, reply interface{}) (int, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}

		status, err := c.doOnce(ctx, method, path, body, reply)
		if err != nil {
			lastErr = err
			c.logger.Warn("provider call failed",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		if status >= 500 {
			lastErr = fmt.Errorf("provider returned status %d", status)
			c.logger.Warn("provider call failed",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Int("status", status))
			continue
		}
		return status, nil
	}

	return 0, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, reply interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if reply != nil && resp.StatusCode < 500 {
		if err := json.NewDecoder(resp.Body).Decode(reply); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

var _ ReservationProvider = (*Client)(nil)
