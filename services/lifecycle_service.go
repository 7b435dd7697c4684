package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"permit-management-api/config"
	"permit-management-api/models"
)

// LifecycleService owns the permit status state machine. Every status
// mutation and its audit event are written in one transaction, and the
// status predicate is re-checked in the UPDATE itself so concurrent
// callers cannot both win a transition.
type LifecycleService struct {
	db    *gorm.DB
	clock Clock
}

func NewLifecycleService(db *gorm.DB, clock Clock) *LifecycleService {
	if db == nil {
		db = config.DB
	}
	if clock == nil {
		clock = SystemClock
	}
	return &LifecycleService{db: db, clock: clock}
}

// FindByID loads a permit or returns ErrNotFound.
func (s *LifecycleService) FindByID(permitID int) (*models.Permit, error) {
	var permit models.Permit
	if err := s.db.Where("permit_id = ?", permitID).First(&permit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load permit %d: %w", permitID, err)
	}
	return &permit, nil
}

// FindByLink loads a permit by its public access token.
func (s *LifecycleService) FindByLink(link string) (*models.Permit, error) {
	var permit models.Permit
	if err := s.db.Where("unique_link = ?", link).First(&permit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load permit by link: %w", err)
	}
	return &permit, nil
}

// Approve transitions a pending permit to active and records who approved
// it. Non-pending permits fail with InvalidStateError.
func (s *LifecycleService) Approve(permitID, approverID int) (*models.Permit, error) {
	permit, err := s.FindByID(permitID)
	if err != nil {
		return nil, err
	}
	if permit.Status != models.PermitStatusPending {
		return nil, &InvalidStateError{Operation: "approve", Status: permit.Status}
	}

	now := s.clock.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Permit{}).
			Where("permit_id = ? AND status = ?", permitID, models.PermitStatusPending).
			Updates(map[string]interface{}{
				"status":      models.PermitStatusActive,
				"approved_by": approverID,
				"approved_at": now,
				"update_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race to another caller.
			return &InvalidStateError{Operation: "approve", Status: permit.Status}
		}
		return s.appendEvent(tx, permitID, models.PermitEventApproved, &approverID, map[string]interface{}{
			"old_status": models.PermitStatusPending,
			"new_status": models.PermitStatusActive,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	permit.Status = models.PermitStatusActive
	permit.ApprovedBy = &approverID
	permit.ApprovedAt = &now
	permit.UpdateAt = &now
	return permit, nil
}

// Reject transitions a pending permit to rejected and clears the
// pending-approval notification flag.
func (s *LifecycleService) Reject(permitID, actorID int, reason string) (*models.Permit, error) {
	permit, err := s.FindByID(permitID)
	if err != nil {
		return nil, err
	}
	if permit.Status != models.PermitStatusPending {
		return nil, &InvalidStateError{Operation: "reject", Status: permit.Status}
	}

	now := s.clock.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Permit{}).
			Where("permit_id = ? AND status = ?", permitID, models.PermitStatusPending).
			Updates(map[string]interface{}{
				"status":           models.PermitStatusRejected,
				"rejection_reason": reason,
				"notified_pending": false,
				"update_at":        now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &InvalidStateError{Operation: "reject", Status: permit.Status}
		}
		return s.appendEvent(tx, permitID, models.PermitEventRejected, &actorID, map[string]interface{}{
			"old_status": models.PermitStatusPending,
			"new_status": models.PermitStatusRejected,
			"reason":     reason,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	permit.Status = models.PermitStatusRejected
	permit.RejectionReason = &reason
	permit.NotifiedPending = false
	permit.UpdateAt = &now
	return permit, nil
}

// Close transitions an active permit to closed. Only admins, managers and
// the permit holder may close; a second close fails with ErrAlreadyClosed.
func (s *LifecycleService) Close(permitID int, actor AuthContext, reason string) (*models.Permit, error) {
	permit, err := s.FindByID(permitID)
	if err != nil {
		return nil, err
	}
	if !actor.CanClose(permit) {
		return nil, ErrForbidden
	}
	if permit.Status == models.PermitStatusClosed {
		return nil, ErrAlreadyClosed
	}
	if permit.Status != models.PermitStatusActive {
		return nil, &InvalidStateError{Operation: "close", Status: permit.Status}
	}

	now := s.clock.Now()
	actorID := actor.UserID
	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Permit{}).
			Where("permit_id = ? AND status = ?", permitID, models.PermitStatusActive).
			Updates(map[string]interface{}{
				"status":         models.PermitStatusClosed,
				"closed_by":      actorID,
				"closed_at":      now,
				"closure_reason": reason,
				"update_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyClosed
		}
		return s.appendEvent(tx, permitID, models.PermitEventClosed, &actorID, map[string]interface{}{
			"old_status": models.PermitStatusActive,
			"new_status": models.PermitStatusClosed,
			"reason":     reason,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	permit.Status = models.PermitStatusClosed
	permit.ClosedBy = &actorID
	permit.ClosedAt = &now
	permit.ClosureReason = &reason
	permit.UpdateAt = &now
	return permit, nil
}

// RecordWorkStart stamps the first work-start time on an active permit.
// Idempotent: once set, the original timestamp is returned and no further
// event is appended.
func (s *LifecycleService) RecordWorkStart(permitID int) (time.Time, error) {
	permit, err := s.FindByID(permitID)
	if err != nil {
		return time.Time{}, err
	}
	if permit.WorkStartedAt != nil {
		return *permit.WorkStartedAt, nil
	}
	if permit.Status != models.PermitStatusActive {
		return time.Time{}, &InvalidStateError{Operation: "start work on", Status: permit.Status}
	}

	now := s.clock.Now()
	var claimed bool
	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Permit{}).
			Where("permit_id = ? AND status = ? AND work_started_at IS NULL", permitID, models.PermitStatusActive).
			Updates(map[string]interface{}{
				"work_started_at": now,
				"update_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent caller set it first; no event from us.
			return nil
		}
		claimed = true
		return s.appendEvent(tx, permitID, models.PermitEventWorkStarted, nil, map[string]interface{}{
			"work_started_at": now.Format(time.RFC3339),
		}, now)
	})
	if err != nil {
		return time.Time{}, err
	}
	if claimed {
		return now, nil
	}

	// Re-read to return the timestamp the winner wrote.
	permit, err = s.FindByID(permitID)
	if err != nil {
		return time.Time{}, err
	}
	if permit.WorkStartedAt == nil {
		return time.Time{}, &InvalidStateError{Operation: "start work on", Status: permit.Status}
	}
	return *permit.WorkStartedAt, nil
}

// Expire transitions an issued or active permit past its validity window
// to expired. Returns false without error when the permit is no longer
// eligible (already expired by an overlapping sweep, or closed meanwhile).
func (s *LifecycleService) Expire(permitID int, now time.Time) (bool, error) {
	permit, err := s.FindByID(permitID)
	if err != nil {
		return false, err
	}
	if !permit.Expirable(now) {
		return false, nil
	}
	oldStatus := permit.Status

	var expired bool
	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Permit{}).
			Where("permit_id = ? AND status IN ? AND valid_to < ?",
				permitID, []string{models.PermitStatusIssued, models.PermitStatusActive}, now).
			Updates(map[string]interface{}{
				"status":    models.PermitStatusExpired,
				"update_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		expired = true
		return s.appendEvent(tx, permitID, models.PermitEventStatusChanged, nil, map[string]interface{}{
			"old_status": oldStatus,
			"new_status": models.PermitStatusExpired,
			"reason":     "auto-expired",
		}, now)
	})
	if err != nil {
		return false, err
	}
	return expired, nil
}

// Events returns the audit trail for a permit, oldest first.
func (s *LifecycleService) Events(permitID int) ([]models.PermitEvent, error) {
	var events []models.PermitEvent
	if err := s.db.Where("permit_id = ?", permitID).
		Order("created_at ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("load events for permit %d: %w", permitID, err)
	}
	return events, nil
}

func (s *LifecycleService) appendEvent(tx *gorm.DB, permitID int, eventType string, actorID *int, payload map[string]interface{}, at time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	event := models.PermitEvent{
		PermitID:  permitID,
		EventType: eventType,
		ActorID:   actorID,
		Payload:   string(raw),
		CreatedAt: at,
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}
