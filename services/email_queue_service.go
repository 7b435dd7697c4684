package services

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"permit-management-api/config"
	"permit-management-api/models"
)

const (
	// DefaultProcessLimit is the batch size when the caller does not
	// specify one.
	DefaultProcessLimit = 50

	// staleClaimAge is how long a claimed-but-unfinalized row stays
	// invisible to other processors. An interrupted run's claims become
	// reclaimable after this.
	staleClaimAge = 15 * time.Minute
)

// EmailQueueService drains pending queue entries in bounded batches.
// Claiming is a single conditional UPDATE keyed by a fresh token, so two
// processors racing on the same pending set cannot claim the same rows.
type EmailQueueService struct {
	db      *gorm.DB
	channel MailChannel
	clock   Clock
}

func NewEmailQueueService(db *gorm.DB, channel MailChannel, clock Clock) *EmailQueueService {
	if db == nil {
		db = config.DB
	}
	if channel == nil {
		channel = SMTPMailChannel()
	}
	if clock == nil {
		clock = SystemClock
	}
	return &EmailQueueService{db: db, channel: channel, clock: clock}
}

// EmailQueueSummary reports one Process run.
type EmailQueueSummary struct {
	Processed int      `json:"processed"`
	Sent      int      `json:"sent"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Process claims up to limit pending entries oldest-first and attempts
// delivery for each. Outcomes are terminal: sent or failed, never retried
// here. A failing entry does not stop the rest of the batch.
func (s *EmailQueueService) Process(limit int) (*EmailQueueSummary, error) {
	if limit <= 0 {
		limit = DefaultProcessLimit
	}

	token := uuid.NewString()
	now := s.clock.Now()

	// MySQL ordered-limit update: claims rows atomically, FIFO. Rows whose
	// claim went stale (processor died mid-batch) are reclaimed too.
	res := s.db.Exec(
		"UPDATE email_queue SET claim_token = ?, claimed_at = ? "+
			"WHERE status = ? AND (claim_token IS NULL OR claimed_at < ?) "+
			"ORDER BY created_at ASC LIMIT ?",
		token, now, models.EmailStatusPending, now.Add(-staleClaimAge), limit,
	)
	if res.Error != nil {
		return nil, fmt.Errorf("claim pending emails: %w", res.Error)
	}

	summary := &EmailQueueSummary{}
	if res.RowsAffected == 0 {
		return summary, nil
	}

	var entries []models.EmailQueueEntry
	if err := s.db.Where("claim_token = ? AND status = ?", token, models.EmailStatusPending).
		Order("created_at ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load claimed emails: %w", err)
	}

	for _, entry := range entries {
		summary.Processed++
		if err := s.channel.Send([]string{entry.ToAddress}, entry.Subject, entry.Body); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("queue_id=%d: %v", entry.QueueID, err))
			s.finalize(entry.QueueID, token, models.EmailStatusFailed, nil, err)
			continue
		}
		sentAt := s.clock.Now()
		summary.Sent++
		s.finalize(entry.QueueID, token, models.EmailStatusSent, &sentAt, nil)
	}
	return summary, nil
}

// finalize moves one claimed row to its terminal status. The claim token
// is part of the predicate so only the claiming processor can finalize.
func (s *EmailQueueService) finalize(queueID int, token, status string, sentAt *time.Time, sendErr error) {
	updates := map[string]interface{}{"status": status}
	if sentAt != nil {
		updates["sent_at"] = *sentAt
	}
	if sendErr != nil {
		updates["last_error"] = sendErr.Error()
	}
	res := s.db.Model(&models.EmailQueueEntry{}).
		Where("queue_id = ? AND claim_token = ? AND status = ?", queueID, token, models.EmailStatusPending).
		Updates(updates)
	if res.Error != nil {
		log.Printf("email queue: failed to mark entry %d %s: %v", queueID, status, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		log.Printf("email queue: entry %d already finalized by another processor", queueID)
	}
}

// PendingCount reports how many entries are waiting. Used by monitoring.
func (s *EmailQueueService) PendingCount() (int64, error) {
	var count int64
	err := s.db.Model(&models.EmailQueueEntry{}).
		Where("status = ?", models.EmailStatusPending).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count pending emails: %w", err)
	}
	return count, nil
}
