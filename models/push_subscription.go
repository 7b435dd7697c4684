package models

import "time"

// PushSubscription is a browser push endpoint registered by a client.
// EndpointHash is the natural key: at most one live row per endpoint.
type PushSubscription struct {
	SubscriptionID int       `gorm:"primaryKey;column:subscription_id" json:"subscription_id"`
	UserID         *int      `gorm:"column:user_id" json:"user_id,omitempty"`
	Endpoint       string    `gorm:"column:endpoint" json:"endpoint"`
	EndpointHash   string    `gorm:"column:endpoint_hash;unique" json:"-"`
	P256dh         string    `gorm:"column:p256dh" json:"-"`
	Auth           string    `gorm:"column:auth" json:"-"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
}

func (PushSubscription) TableName() string { return "push_subscriptions" }
