package config

import (
	"os"
)

// VAPID key pair for Web Push. Generate once with
// webpush.GenerateVAPIDKeys and keep the private key out of source control.
var (
	vapidPublicKey  string
	vapidPrivateKey string
	vapidSubscriber string
)

func init() {
	ReloadWebPushConfig()
}

// ReloadWebPushConfig re-reads VAPID settings from the environment.
func ReloadWebPushConfig() {
	vapidPublicKey = os.Getenv("VAPID_PUBLIC_KEY")
	vapidPrivateKey = os.Getenv("VAPID_PRIVATE_KEY")
	vapidSubscriber = os.Getenv("VAPID_SUBSCRIBER")
	if vapidSubscriber == "" {
		vapidSubscriber = "mailto:admin@localhost"
	}
}

// VAPIDPublicKey returns the configured public key (also served to clients
// so they can subscribe with the matching application server key).
func VAPIDPublicKey() string { return vapidPublicKey }

// VAPIDPrivateKey returns the configured private key.
func VAPIDPrivateKey() string { return vapidPrivateKey }

// VAPIDSubscriber returns the contact address sent to push services.
func VAPIDSubscriber() string { return vapidSubscriber }

// WebPushConfigured reports whether push delivery can be attempted.
func WebPushConfigured() bool {
	return vapidPublicKey != "" && vapidPrivateKey != ""
}
