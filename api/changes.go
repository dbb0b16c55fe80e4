package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/DDPL-Work/traveldesk/internal/domain"
	"github.com/DDPL-Work/traveldesk/internal/service/amendment"
)

type ChangeHandler struct {
	service amendment.AmendmentUseCase
}

func NewChangeHandler(service amendment.AmendmentUseCase) *ChangeHandler {
	return &ChangeHandler{service: service}
}

// Register mounts change routes under two groups: creation and listing hang
// off the owning booking, commit and lookup address the change directly.
func (h *ChangeHandler) Register(bookings, changes *gin.RouterGroup) {
	bookings.POST("/:id/changes", h.create)
	bookings.GET("/:id/changes", h.listByBooking)
	changes.GET("/:id", h.get)
	changes.POST("/:id/commit", h.commit)
}

type createChangeRequest struct {
	Kind         string           `json:"kind"`
	PassengerIDs []string         `json:"passenger_ids"`
	SegmentIdx   []int            `json:"segment_idx"`
	NewSegments  []domain.Segment `json:"new_segments"`
	Remarks      string           `json:"remarks"`
	RequestedBy  string           `json:"requested_by"`
}

type commitChangeRequest struct {
	ActorID string `json:"actor_id"`
}

type changeResponse struct {
	ID             string           `json:"id"`
	BookingID      string           `json:"booking_id"`
	Kind           string           `json:"kind"`
	Status         string           `json:"status"`
	Charges        decimal.Decimal  `json:"charges"`
	FareDifference decimal.Decimal  `json:"fare_difference"`
	RefundAmount   decimal.Decimal  `json:"refund_amount"`
	PassengerIDs   []string         `json:"passenger_ids,omitempty"`
	SegmentIdx     []int            `json:"segment_idx,omitempty"`
	NewSegments    []domain.Segment `json:"new_segments,omitempty"`
	Remarks        string           `json:"remarks,omitempty"`
	RequestedBy    string           `json:"requested_by"`
	FailureReason  string           `json:"failure_reason,omitempty"`
	CreatedAt      string           `json:"created_at"`
}

func toChangeResponse(change *domain.ChangeRequest) changeResponse {
	return changeResponse{
		ID:             change.ID,
		BookingID:      change.BookingID,
		Kind:           string(change.Kind),
		Status:         string(change.Status),
		Charges:        change.Charges,
		FareDifference: change.FareDifference,
		RefundAmount:   change.RefundAmount,
		PassengerIDs:   change.AffectedPassengerIDs,
		SegmentIdx:     change.AffectedSegments,
		NewSegments:    change.NewSegments,
		Remarks:        change.Remarks,
		RequestedBy:    change.RequestedBy,
		FailureReason:  change.FailureReason,
		CreatedAt:      change.CreatedAt.Format(time.RFC3339),
	}
}

func (h *ChangeHandler) create(c *gin.Context) {
	var req createChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	change, err := h.service.CreateChangeRequest(c.Request.Context(), c.Param("id"), domain.ChangeKind(req.Kind), domain.ChangeScope{
		PassengerIDs: req.PassengerIDs,
		SegmentIdx:   req.SegmentIdx,
		NewSegments:  req.NewSegments,
		Remarks:      req.Remarks,
	}, req.RequestedBy)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toChangeResponse(change))
}

func (h *ChangeHandler) listByBooking(c *gin.Context) {
	changes, err := h.service.ListByBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]changeResponse, 0, len(changes))
	for i := range changes {
		resp = append(resp, toChangeResponse(&changes[i]))
	}
	c.JSON(http.StatusOK, gin.H{"changes": resp})
}

func (h *ChangeHandler) get(c *gin.Context) {
	change, err := h.service.GetChangeRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toChangeResponse(change))
}

func (h *ChangeHandler) commit(c *gin.Context) {
	var req commitChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	change, err := h.service.CommitChangeRequest(c.Request.Context(), c.Param("id"), req.ActorID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toChangeResponse(change))
}
