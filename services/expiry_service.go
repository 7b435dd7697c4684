package services

import (
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"permit-management-api/config"
	"permit-management-api/models"
)

// ExpiryService sweeps permits past their validity window to expired.
// Safe under overlapping scheduler firings: each transition re-checks the
// status predicate, so a permit expired by a prior run is skipped.
type ExpiryService struct {
	db        *gorm.DB
	lifecycle *LifecycleService
	notifier  *NotificationService
	clock     Clock
}

func NewExpiryService(db *gorm.DB, lifecycle *LifecycleService, notifier *NotificationService, clock Clock) *ExpiryService {
	if db == nil {
		db = config.DB
	}
	if clock == nil {
		clock = SystemClock
	}
	return &ExpiryService{db: db, lifecycle: lifecycle, notifier: notifier, clock: clock}
}

// ExpirySummary reports one sweep.
type ExpirySummary struct {
	Found   int `json:"found"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// Run expires every issued or active permit with validTo before now. A
// failure on one permit is counted and logged but never stops the sweep.
func (s *ExpiryService) Run(now time.Time) (*ExpirySummary, error) {
	var permits []models.Permit
	if err := s.db.Where("status IN ? AND valid_to < ?",
		[]string{models.PermitStatusIssued, models.PermitStatusActive}, now).
		Find(&permits).Error; err != nil {
		return nil, fmt.Errorf("find expirable permits: %w", err)
	}

	summary := &ExpirySummary{Found: len(permits)}
	for _, permit := range permits {
		expired, err := s.lifecycle.Expire(permit.PermitID, now)
		if err != nil {
			summary.Errors++
			log.Printf("expiry sweep: permit %d (%s): %v", permit.PermitID, permit.RefNumber, err)
			continue
		}
		if expired {
			summary.Updated++
		}
	}
	return summary, nil
}

// ReminderSummary reports one reminder pass.
type ReminderSummary struct {
	Found    int `json:"found"`
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// RemindExpiring enqueues an expiry reminder to the holder of every active
// permit whose validity ends within the lead window. The structured dedup
// key keeps overlapping runs from mailing the same holder twice a day.
func (s *ExpiryService) RemindExpiring(now time.Time, lead time.Duration) (*ReminderSummary, error) {
	var permits []models.Permit
	if err := s.db.Where("status = ? AND valid_to >= ? AND valid_to < ?",
		models.PermitStatusActive, now, now.Add(lead)).
		Find(&permits).Error; err != nil {
		return nil, fmt.Errorf("find expiring permits: %w", err)
	}

	summary := &ReminderSummary{Found: len(permits)}
	for _, permit := range permits {
		subject := fmt.Sprintf("Permit %s expires soon", permit.RefNumber)
		message := fmt.Sprintf("Your permit to work %s is valid until %s. Close it or arrange a renewal before then.",
			permit.RefNumber, permit.ValidTo.Format("2006-01-02 15:04"))

		_, enqueued, err := s.notifier.EnqueueReminder(
			permit.HolderEmail, permit.RefNumber, ReminderClassExpiry,
			subject, BuildPermitEmailHTML(subject, message))
		if err != nil {
			summary.Errors++
			log.Printf("expiry reminder: permit %d (%s): %v", permit.PermitID, permit.RefNumber, err)
			continue
		}
		if enqueued {
			summary.Enqueued++
		} else {
			summary.Skipped++
		}
	}
	return summary, nil
}
