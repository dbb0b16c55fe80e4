package domain

import "time"

type AuditField string

const (
	AuditFieldRequest   AuditField = "REQUEST"
	AuditFieldExecution AuditField = "EXECUTION"
)

// TransitionAudit records who moved a booking between states and when.
// Money moves on some transitions, so every one is kept for dispute
// resolution.
type TransitionAudit struct {
	ID         int64
	BookingID  string
	Actor      string
	Field      AuditField
	FromStatus string
	ToStatus   string
	Note       string
	CreatedAt  time.Time
}
