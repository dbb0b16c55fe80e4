package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/DDPL-Work/traveldesk/internal/domain"
	"github.com/DDPL-Work/traveldesk/internal/service/booking"
)

type BookingHandler struct {
	service booking.BookingUseCase
}

func NewBookingHandler(service booking.BookingUseCase) *BookingHandler {
	return &BookingHandler{service: service}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("/:id", h.get)
	router.GET("/:id/audit", h.audit)
	router.POST("/:id/approve", h.approve)
	router.POST("/:id/reject", h.reject)
	router.POST("/:id/execute", h.execute)
}

type createBookingRequest struct {
	CorporateID string              `json:"corporate_id"`
	TravelerID  string              `json:"traveler_id"`
	BookingType string              `json:"booking_type"`
	TripType    string              `json:"trip_type"`
	Fare        domain.FareSnapshot `json:"fare"`
	Segments    []domain.Segment    `json:"segments"`
	Travellers  []domain.Traveller  `json:"travellers"`
	TotalAmount decimal.Decimal     `json:"total_amount"`
	Currency    string              `json:"currency"`
}

type decisionRequest struct {
	ApproverID string `json:"approver_id"`
	Comments   string `json:"comments"`
}

type executeRequest struct {
	ActorID string `json:"actor_id"`
}

type bookingResponse struct {
	ID               string             `json:"id"`
	CorporateID      string             `json:"corporate_id"`
	TravelerID       string             `json:"traveler_id"`
	BookingType      string             `json:"booking_type"`
	TripType         string             `json:"trip_type"`
	RequestStatus    string             `json:"request_status"`
	ExecutionStatus  string             `json:"execution_status"`
	ApproverID       string             `json:"approver_id,omitempty"`
	ApproverComments string             `json:"approver_comments,omitempty"`
	DecidedAt        string             `json:"decided_at,omitempty"`
	Segments         []domain.Segment   `json:"segments"`
	Travellers       []domain.Traveller `json:"travellers"`
	TotalAmount      decimal.Decimal    `json:"total_amount"`
	Currency         string             `json:"currency"`
	PaymentStatus    string             `json:"payment_status"`
	PNR              string             `json:"pnr,omitempty"`
	OnwardPNR        string             `json:"onward_pnr,omitempty"`
	ReturnPNR        string             `json:"return_pnr,omitempty"`
	FailureReason    string             `json:"failure_reason,omitempty"`
	CreatedAt        string             `json:"created_at"`
}

func toBookingResponse(b *domain.BookingRequest) bookingResponse {
	resp := bookingResponse{
		ID:               b.ID,
		CorporateID:      b.CorporateID,
		TravelerID:       b.TravelerID,
		BookingType:      string(b.BookingType),
		TripType:         string(b.TripType),
		RequestStatus:    string(b.RequestStatus),
		ExecutionStatus:  string(b.ExecutionStatus),
		ApproverID:       b.ApproverID,
		ApproverComments: b.ApproverComments,
		Segments:         b.Segments,
		Travellers:       b.Travellers,
		TotalAmount:      b.Pricing.TotalAmount,
		Currency:         b.Pricing.Currency,
		PaymentStatus:    string(b.PaymentStatus),
		FailureReason:    b.FailureReason,
		CreatedAt:        b.CreatedAt.Format(time.RFC3339),
	}
	if b.DecidedAt != nil {
		resp.DecidedAt = b.DecidedAt.Format(time.RFC3339)
	}
	switch result := b.BookingResult.(type) {
	case domain.OnewayResult:
		resp.PNR = result.PNR
	case domain.RoundTripResult:
		resp.OnwardPNR = result.OnwardPNR
		resp.ReturnPNR = result.ReturnPNR
	}
	return resp
}

func (h *BookingHandler) create(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.service.CreateBookingRequest(c.Request.Context(), booking.CreateBookingInput{
		CorporateID: req.CorporateID,
		TravelerID:  req.TravelerID,
		BookingType: domain.BookingType(req.BookingType),
		TripType:    domain.TripType(req.TripType),
		Fare:        req.Fare,
		Segments:    req.Segments,
		Travellers:  req.Travellers,
		TotalAmount: req.TotalAmount,
		Currency:    req.Currency,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toBookingResponse(created))
}

func (h *BookingHandler) get(c *gin.Context) {
	b, err := h.service.GetBookingRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) audit(c *gin.Context) {
	audits, err := h.service.ListAudit(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": audits})
}

func (h *BookingHandler) approve(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.service.Approve(c.Request.Context(), c.Param("id"), req.ApproverID, req.Comments)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) reject(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.service.Reject(c.Request.Context(), c.Param("id"), req.ApproverID, req.Comments)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.service.BeginExecution(c.Request.Context(), c.Param("id"), req.ActorID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

// respondError maps the error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidBookingState),
		errors.Is(err, domain.ErrAmendmentInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrFareExpired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrProviderRejected):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
