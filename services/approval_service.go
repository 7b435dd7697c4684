package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"permit-management-api/models"
)

// notifyTimeout bounds the best-effort notification work that follows a
// committed state change.
const notifyTimeout = 30 * time.Second

// ApprovalService is the authorization and orchestration layer over the
// lifecycle state machine. The state mutation commits first; notification
// failures are logged, never returned, so they cannot mask or roll back a
// successful transition.
type ApprovalService struct {
	lifecycle *LifecycleService
	notifier  *NotificationService
	activity  ActivityLogger
}

func NewApprovalService(lifecycle *LifecycleService, notifier *NotificationService, activity ActivityLogger) *ApprovalService {
	if activity == nil {
		activity = NopActivityLogger{}
	}
	return &ApprovalService{lifecycle: lifecycle, notifier: notifier, activity: activity}
}

// Approve approves a pending permit. Admin/manager only.
func (s *ApprovalService) Approve(actor AuthContext, permitID int) (*models.Permit, error) {
	if !actor.IsApprover() {
		return nil, ErrForbidden
	}
	permit, err := s.lifecycle.Approve(permitID, actor.UserID)
	if err != nil {
		return nil, err
	}
	s.activity.LogActivity(actor.UserID, "approve_permit", permit.RefNumber)
	s.notifyDecision(permit, DecisionApproved, "")
	return permit, nil
}

// Reject rejects a pending permit. Admin/manager only.
func (s *ApprovalService) Reject(actor AuthContext, permitID int, reason string) (*models.Permit, error) {
	if !actor.IsApprover() {
		return nil, ErrForbidden
	}
	permit, err := s.lifecycle.Reject(permitID, actor.UserID, reason)
	if err != nil {
		return nil, err
	}
	s.activity.LogActivity(actor.UserID, "reject_permit", describe(permit.RefNumber, reason))
	s.notifyDecision(permit, DecisionRejected, reason)
	return permit, nil
}

// Close closes an active permit. The holder check lives in the lifecycle,
// which knows the permit.
func (s *ApprovalService) Close(actor AuthContext, permitID int, reason string) (*models.Permit, error) {
	permit, err := s.lifecycle.Close(permitID, actor, reason)
	if err != nil {
		return nil, err
	}
	s.activity.LogActivity(actor.UserID, "close_permit", describe(permit.RefNumber, reason))
	s.notifyDecision(permit, DecisionClosed, reason)
	return permit, nil
}

// StartWork records the work-start timestamp on an active permit.
// Idempotent; no role restriction.
func (s *ApprovalService) StartWork(permitID int) (time.Time, error) {
	return s.lifecycle.RecordWorkStart(permitID)
}

// StartWorkByLink resolves a permit by its public access token and records
// the work start.
func (s *ApprovalService) StartWorkByLink(link string) (time.Time, error) {
	permit, err := s.lifecycle.FindByLink(link)
	if err != nil {
		return time.Time{}, err
	}
	return s.lifecycle.RecordWorkStart(permit.PermitID)
}

func (s *ApprovalService) notifyDecision(permit *models.Permit, decision, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := s.notifier.NotifyDecision(ctx, permit, decision, reason); err != nil {
		log.Printf("permit %s: %s notification failed: %v", permit.RefNumber, decision, err)
	}
}

// describe is used in activity details for close/reject with a reason.
func describe(refNumber, reason string) string {
	if reason == "" {
		return refNumber
	}
	return fmt.Sprintf("%s (%s)", refNumber, reason)
}
