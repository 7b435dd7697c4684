package models

import "time"

// Email queue entry statuses. pending is the only non-terminal state;
// failed entries are not retried automatically (re-delivery is a new
// enqueue by an operator).
const (
	EmailStatusPending = "pending"
	EmailStatusSent    = "sent"
	EmailStatusFailed  = "failed"
)

// EmailQueueEntry is a transactional email waiting for (or finished with)
// delivery. Created by the notification dispatcher, finalized only by the
// queue processor.
type EmailQueueEntry struct {
	QueueID    int        `gorm:"primaryKey;column:queue_id" json:"queue_id"`
	ToAddress  string     `gorm:"column:to_address" json:"to_address"`
	Subject    string     `gorm:"column:subject" json:"subject"`
	Body       string     `gorm:"column:body" json:"-"`
	Status     string     `gorm:"column:status" json:"status"`
	DedupKey   *string    `gorm:"column:dedup_key" json:"dedup_key,omitempty"`
	ClaimToken *string    `gorm:"column:claim_token" json:"-"`
	ClaimedAt  *time.Time `gorm:"column:claimed_at" json:"-"`
	LastError  *string    `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at" json:"created_at"`
	SentAt     *time.Time `gorm:"column:sent_at" json:"sent_at,omitempty"`
}

func (EmailQueueEntry) TableName() string { return "email_queue" }
