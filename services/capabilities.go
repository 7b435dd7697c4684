package services

import (
	"context"
	"log"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"permit-management-api/config"
	"permit-management-api/models"
)

// MailChannel delivers a single message. The SMTP implementation lives in
// config; tests and the queue processor inject their own.
type MailChannel interface {
	Send(to []string, subject, html string) error
}

// MailChannelFunc adapts a function to MailChannel.
type MailChannelFunc func(to []string, subject, html string) error

func (f MailChannelFunc) Send(to []string, subject, html string) error {
	return f(to, subject, html)
}

// SMTPMailChannel sends through the configured SMTP relay.
func SMTPMailChannel() MailChannel {
	return MailChannelFunc(config.SendMail)
}

// ActivityLogger records administrative actions. Absence of a real logger
// is a configuration choice: the default does nothing.
type ActivityLogger interface {
	LogActivity(userID int, action, detail string)
}

// NopActivityLogger discards all activity records.
type NopActivityLogger struct{}

func (NopActivityLogger) LogActivity(int, string, string) {}

// DBActivityLogger persists activity records. Write failures are logged
// and swallowed; an audit miss must not fail the triggering operation.
type DBActivityLogger struct {
	DB    *gorm.DB
	Clock Clock
}

func (l DBActivityLogger) LogActivity(userID int, action, detail string) {
	clock := l.Clock
	if clock == nil {
		clock = SystemClock
	}
	entry := models.ActivityLog{
		UserID:    userID,
		Action:    action,
		Detail:    detail,
		CreatedAt: clock.Now(),
	}
	if err := l.DB.Create(&entry).Error; err != nil {
		log.Printf("activity log write failed (action=%s user=%d): %v", action, userID, err)
	}
}

// PushTransport delivers one payload to one subscription and reports the
// HTTP status returned by the push service. A 404 or 410 status means the
// endpoint is gone and its subscription should be pruned.
type PushTransport interface {
	Deliver(ctx context.Context, sub models.PushSubscription, payload []byte) (int, error)
}

// WebPushTransport delivers via the Web Push protocol using the VAPID keys
// from config.
type WebPushTransport struct {
	TTL     int
	Timeout time.Duration
}

func (t WebPushTransport) Deliver(ctx context.Context, sub models.PushSubscription, payload []byte) (int, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := t.TTL
	if ttl <= 0 {
		ttl = 3600
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      config.VAPIDSubscriber(),
		VAPIDPublicKey:  config.VAPIDPublicKey(),
		VAPIDPrivateKey: config.VAPIDPrivateKey(),
		TTL:             ttl,
		HTTPClient:      &http.Client{Timeout: timeout},
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
