package services

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"permit-management-api/config"
	"permit-management-api/models"
)

// Reminder classes. Reminder-class emails are deduplicated per recipient,
// permit and class within reminderDedupWindow; decision emails are not.
const (
	ReminderClassExpiry = "expiry"

	reminderDedupWindow = 24 * time.Hour

	defaultPushConcurrency = 8
)

// NotificationService decides what to send and to whom: it enqueues
// transactional email and fans out push payloads. It never delivers email
// itself; that is the queue processor's job.
type NotificationService struct {
	db          *gorm.DB
	clock       Clock
	registry    *PushRegistryService
	transport   PushTransport
	concurrency int
}

func NewNotificationService(db *gorm.DB, clock Clock, registry *PushRegistryService, transport PushTransport) *NotificationService {
	if db == nil {
		db = config.DB
	}
	if clock == nil {
		clock = SystemClock
	}
	return &NotificationService{
		db:          db,
		clock:       clock,
		registry:    registry,
		transport:   transport,
		concurrency: defaultPushConcurrency,
	}
}

// EnqueueEmail writes a pending queue entry. No deduplication: every call
// is a distinct message.
func (s *NotificationService) EnqueueEmail(to, subject, body string) (*models.EmailQueueEntry, error) {
	if strings.TrimSpace(to) == "" {
		return nil, &ValidationError{Field: "to", Reason: "recipient address is required"}
	}
	entry := models.EmailQueueEntry{
		ToAddress: to,
		Subject:   subject,
		Body:      body,
		Status:    models.EmailStatusPending,
		CreatedAt: s.clock.Now(),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("enqueue email: %w", err)
	}
	return &entry, nil
}

// EnqueueReminder enqueues a reminder-class email unless one with the same
// dedup key (recipient + permit ref + class) was created within the last
// 24 hours. Returns the entry and whether it was enqueued.
func (s *NotificationService) EnqueueReminder(to, permitRef, class, subject, body string) (*models.EmailQueueEntry, bool, error) {
	if strings.TrimSpace(to) == "" {
		return nil, false, &ValidationError{Field: "to", Reason: "recipient address is required"}
	}
	key := ReminderDedupKey(to, permitRef, class)
	now := s.clock.Now()

	var count int64
	if err := s.db.Model(&models.EmailQueueEntry{}).
		Where("dedup_key = ? AND created_at > ?", key, now.Add(-reminderDedupWindow)).
		Count(&count).Error; err != nil {
		return nil, false, fmt.Errorf("check reminder dedup: %w", err)
	}
	if count > 0 {
		return nil, false, nil
	}

	entry := models.EmailQueueEntry{
		ToAddress: to,
		Subject:   subject,
		Body:      body,
		Status:    models.EmailStatusPending,
		DedupKey:  &key,
		CreatedAt: now,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return nil, false, fmt.Errorf("enqueue reminder: %w", err)
	}
	return &entry, true, nil
}

// ReminderDedupKey builds the structured dedup key for a reminder email.
func ReminderDedupKey(recipient, permitRef, class string) string {
	return strings.ToLower(strings.TrimSpace(recipient)) + "|" + permitRef + "|" + class
}

// PushDispatchSummary aggregates one fan-out run. Pruned endpoints (the
// push service answered 404/410) are not counted as failures.
type PushDispatchSummary struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Pruned int      `json:"pruned"`
	Errors []string `json:"errors,omitempty"`
}

// DispatchPush fans a single payload out to every subscription with one
// delivery attempt each, bounded by the worker pool size. A subset failure
// never aborts the rest; gone endpoints are pruned from the registry.
func (s *NotificationService) DispatchPush(ctx context.Context, payload []byte, subs []models.PushSubscription) *PushDispatchSummary {
	summary := &PushDispatchSummary{}
	if len(subs) == 0 || s.transport == nil {
		return summary
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.concurrency)
	)
	for _, sub := range subs {
		wg.Add(1)
		sem <- struct{}{}
		go func(sub models.PushSubscription) {
			defer wg.Done()
			defer func() { <-sem }()

			status, err := s.transport.Deliver(ctx, sub, payload)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				summary.Errors = append(summary.Errors,
					fmt.Sprintf("subscription %d: %v", sub.SubscriptionID, err))
			case status == 404 || status == 410:
				// Endpoint gone: prune. The registry delete is idempotent,
				// so concurrent prunes of the same endpoint are harmless.
				if _, delErr := s.registry.Delete(sub.Endpoint); delErr != nil {
					summary.Errors = append(summary.Errors,
						fmt.Sprintf("subscription %d: prune failed: %v", sub.SubscriptionID, delErr))
				}
				summary.Pruned++
			case status >= 200 && status < 300:
				summary.Sent++
			default:
				summary.Failed++
				summary.Errors = append(summary.Errors,
					fmt.Sprintf("subscription %d: push service returned %d", sub.SubscriptionID, status))
			}
		}(sub)
	}
	wg.Wait()
	return summary
}

// PushPayload is the JSON document delivered to subscribed devices.
type PushPayload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	PermitRef string `json:"permit_ref,omitempty"`
}

// Decision outcomes passed from the approval workflow.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
	DecisionClosed   = "closed"
)

// NotifyDecision informs the permit holder of an approval-workflow
// outcome: one queued email plus a push fan-out to the holder's devices.
// Decision emails are never deduplicated.
func (s *NotificationService) NotifyDecision(ctx context.Context, permit *models.Permit, decision, reason string) error {
	var subject, message string
	switch decision {
	case DecisionApproved:
		subject = fmt.Sprintf("Permit %s approved", permit.RefNumber)
		message = fmt.Sprintf("Your permit to work %s has been approved and is now active.", permit.RefNumber)
	case DecisionRejected:
		subject = fmt.Sprintf("Permit %s rejected", permit.RefNumber)
		message = fmt.Sprintf("Your permit to work %s has been rejected.", permit.RefNumber)
		if reason != "" {
			message += " Reason: " + reason
		}
	case DecisionClosed:
		subject = fmt.Sprintf("Permit %s closed", permit.RefNumber)
		message = fmt.Sprintf("Your permit to work %s has been closed.", permit.RefNumber)
		if reason != "" {
			message += " Reason: " + reason
		}
	default:
		return &ValidationError{Field: "decision", Reason: "unknown decision " + decision}
	}

	if _, err := s.EnqueueEmail(permit.HolderEmail, subject, BuildPermitEmailHTML(subject, message)); err != nil {
		return err
	}

	subs, err := s.registry.ListByUser(permit.HolderID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}
	payload, err := json.Marshal(PushPayload{Title: subject, Body: message, PermitRef: permit.RefNumber})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}
	summary := s.DispatchPush(ctx, payload, subs)
	if summary.Failed > 0 {
		return fmt.Errorf("push fan-out: %d of %d deliveries failed: %s",
			summary.Failed, len(subs), strings.Join(summary.Errors, "; "))
	}
	return nil
}

// BuildPermitEmailHTML wraps a plain message in the standard email shell.
func BuildPermitEmailHTML(subject, message string) string {
	escapedSubject := template.HTMLEscapeString(subject)
	escapedMessage := template.HTMLEscapeString(strings.TrimSpace(message))
	escapedMessage = strings.ReplaceAll(strings.ReplaceAll(escapedMessage, "\r\n", "\n"), "\r", "\n")
	escapedMessage = strings.ReplaceAll(escapedMessage, "\n", "<br />")

	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
</head>
<body style="margin:0;padding:0;background-color:#f9fafb;font-family:'Segoe UI',Tahoma,Arial,sans-serif;">
<div style="max-width:640px;margin:0 auto;padding:24px 20px;">
  <div style="background-color:#ffffff;border:1px solid #e5e7eb;border-radius:12px;padding:24px 24px 28px 24px;">
    <p style="margin:0 0 16px 0;font-size:18px;font-weight:600;color:#111827;">%s</p>
    <p style="margin:0;font-size:16px;line-height:1.7;color:#111827;word-break:break-word;">%s</p>
  </div>
</div>
</body>
</html>`, escapedSubject, escapedSubject, escapedMessage)
}
