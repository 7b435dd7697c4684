package models

import "time"

// Event types appended by the lifecycle state machine.
const (
	PermitEventApproved      = "permit_approved"
	PermitEventRejected      = "permit_rejected"
	PermitEventClosed        = "permit_closed"
	PermitEventWorkStarted   = "work_started"
	PermitEventStatusChanged = "status_changed"
)

// PermitEvent is the append-only audit trail for permit status changes.
// Rows are immutable once written.
type PermitEvent struct {
	EventID   int       `gorm:"primaryKey;column:event_id" json:"event_id"`
	PermitID  int       `gorm:"column:permit_id" json:"permit_id"`
	EventType string    `gorm:"column:event_type" json:"event_type"`
	ActorID   *int      `gorm:"column:actor_id" json:"actor_id,omitempty"`
	Payload   string    `gorm:"column:payload" json:"payload"` // JSON object
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (PermitEvent) TableName() string { return "permit_events" }
