package models

import "time"

// ActivityLog records administrative actions (approve/reject/close) for
// later review. Separate from permit_events, which is the permit-scoped
// audit trail.
type ActivityLog struct {
	LogID     int       `gorm:"primaryKey;column:log_id" json:"log_id"`
	UserID    int       `gorm:"column:user_id" json:"user_id"`
	Action    string    `gorm:"column:action" json:"action"`
	Detail    string    `gorm:"column:detail" json:"detail"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (ActivityLog) TableName() string { return "activity_logs" }
