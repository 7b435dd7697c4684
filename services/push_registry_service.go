package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"permit-management-api/config"
	"permit-management-api/models"
)

// Upsert outcomes, for diagnostics only.
const (
	UpsertCreated = "created"
	UpsertUpdated = "updated"
)

// PushRegistryService manages push subscriptions keyed by endpoint hash.
// Upsert and Delete are both idempotent: repeated identical calls converge
// to the same single row (or absence of one).
type PushRegistryService struct {
	db    *gorm.DB
	clock Clock
}

func NewPushRegistryService(db *gorm.DB, clock Clock) *PushRegistryService {
	if db == nil {
		db = config.DB
	}
	if clock == nil {
		clock = SystemClock
	}
	return &PushRegistryService{db: db, clock: clock}
}

// HashEndpoint computes the natural key for a subscription endpoint.
func HashEndpoint(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:])
}

// Upsert registers or refreshes a subscription. Subscriptions rotate keys,
// so an existing row gets its p256dh/auth replaced; userID refreshes the
// owner when provided. Returns the row and which case occurred.
func (s *PushRegistryService) Upsert(endpoint, p256dh, auth string, userID *int) (*models.PushSubscription, string, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, "", &ValidationError{Field: "endpoint", Reason: "endpoint is required"}
	}
	if p256dh == "" || auth == "" {
		return nil, "", &ValidationError{Field: "keys", Reason: "p256dh and auth keys are required"}
	}

	hash := HashEndpoint(endpoint)

	var existing models.PushSubscription
	err := s.db.Where("endpoint_hash = ?", hash).First(&existing).Error
	switch {
	case err == nil:
		return s.refresh(&existing, endpoint, p256dh, auth, userID)
	case errors.Is(err, gorm.ErrRecordNotFound):
		// fall through to insert
	default:
		return nil, "", fmt.Errorf("lookup push subscription: %w", err)
	}

	sub := models.PushSubscription{
		UserID:       userID,
		Endpoint:     endpoint,
		EndpointHash: hash,
		P256dh:       p256dh,
		Auth:         auth,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.db.Create(&sub).Error; err != nil {
		// A concurrent subscribe for the same endpoint can win the insert;
		// converge by updating the row it created.
		var raced models.PushSubscription
		if lookupErr := s.db.Where("endpoint_hash = ?", hash).First(&raced).Error; lookupErr == nil {
			return s.refresh(&raced, endpoint, p256dh, auth, userID)
		}
		return nil, "", fmt.Errorf("insert push subscription: %w", err)
	}
	return &sub, UpsertCreated, nil
}

func (s *PushRegistryService) refresh(sub *models.PushSubscription, endpoint, p256dh, auth string, userID *int) (*models.PushSubscription, string, error) {
	updates := map[string]interface{}{
		"endpoint": endpoint,
		"p256dh":   p256dh,
		"auth":     auth,
	}
	if userID != nil {
		updates["user_id"] = *userID
	}
	if err := s.db.Model(sub).Updates(updates).Error; err != nil {
		return nil, "", fmt.Errorf("update push subscription: %w", err)
	}
	sub.Endpoint = endpoint
	sub.P256dh = p256dh
	sub.Auth = auth
	if userID != nil {
		sub.UserID = userID
	}
	return sub, UpsertUpdated, nil
}

// Delete removes the subscription for an endpoint. Absence is success:
// the count is 0 and no error is returned.
func (s *PushRegistryService) Delete(endpoint string) (int64, error) {
	res := s.db.Where("endpoint_hash = ?", HashEndpoint(endpoint)).
		Delete(&models.PushSubscription{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete push subscription: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListByUser returns the live subscriptions owned by a user.
func (s *PushRegistryService) ListByUser(userID int) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	if err := s.db.Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list push subscriptions for user %d: %w", userID, err)
	}
	return subs, nil
}

// ListAll returns every live subscription. Used by the test broadcast.
func (s *PushRegistryService) ListAll() ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	if err := s.db.Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	return subs, nil
}
