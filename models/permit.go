package models

import "time"

// Permit lifecycle statuses. Transitions between them are owned by
// services.LifecycleService; nothing else writes the status column.
const (
	PermitStatusDraft    = "draft"
	PermitStatusPending  = "pending"
	PermitStatusIssued   = "issued"
	PermitStatusActive   = "active"
	PermitStatusRejected = "rejected"
	PermitStatusExpired  = "expired"
	PermitStatusClosed   = "closed"
)

// Permit represents a permit-to-work row. Permits are never physically
// deleted; terminal statuses stay readable indefinitely.
type Permit struct {
	PermitID        int        `gorm:"primaryKey;column:permit_id" json:"permit_id"`
	RefNumber       string     `gorm:"column:ref_number" json:"ref_number"`
	TemplateID      int        `gorm:"column:template_id" json:"template_id"`
	HolderID        int        `gorm:"column:holder_id" json:"holder_id"`
	HolderEmail     string     `gorm:"column:holder_email" json:"holder_email"`
	Status          string     `gorm:"column:status" json:"status"`
	ValidFrom       *time.Time `gorm:"column:valid_from" json:"valid_from,omitempty"`
	ValidTo         *time.Time `gorm:"column:valid_to" json:"valid_to,omitempty"`
	ApprovedBy      *int       `gorm:"column:approved_by" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `gorm:"column:approved_at" json:"approved_at,omitempty"`
	RejectionReason *string    `gorm:"column:rejection_reason" json:"rejection_reason,omitempty"`
	ClosedBy        *int       `gorm:"column:closed_by" json:"closed_by,omitempty"`
	ClosedAt        *time.Time `gorm:"column:closed_at" json:"closed_at,omitempty"`
	ClosureReason   *string    `gorm:"column:closure_reason" json:"closure_reason,omitempty"`
	WorkStartedAt   *time.Time `gorm:"column:work_started_at" json:"work_started_at,omitempty"`
	UniqueLink      string     `gorm:"column:unique_link;unique" json:"unique_link"`
	NotifiedPending bool       `gorm:"column:notified_pending" json:"-"`
	CreateAt        *time.Time `gorm:"column:create_at" json:"create_at"`
	UpdateAt        *time.Time `gorm:"column:update_at" json:"update_at"`

	// Relations
	Holder *User `gorm:"foreignKey:HolderID" json:"holder,omitempty"`
}

func (Permit) TableName() string { return "permits" }

// IsTerminal reports whether no further automatic transition applies.
func (p Permit) IsTerminal() bool {
	switch p.Status {
	case PermitStatusRejected, PermitStatusExpired, PermitStatusClosed:
		return true
	}
	return false
}

// Expirable reports whether the expiry sweep may pick this permit up.
func (p Permit) Expirable(now time.Time) bool {
	if p.Status != PermitStatusIssued && p.Status != PermitStatusActive {
		return false
	}
	return p.ValidTo != nil && p.ValidTo.Before(now)
}
