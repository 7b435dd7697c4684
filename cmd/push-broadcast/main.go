package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"permit-management-api/config"
	"permit-management-api/services"
)

// Sends a test broadcast to every registered push subscription. Dead
// endpoints (404/410 from the push service) are pruned as a side effect,
// so this doubles as subscription hygiene. Exits non-zero when any
// delivery failed.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config.ReloadWebPushConfig()
	config.InitDB()

	var (
		title   string
		message string
		timeout int
	)
	flag.StringVar(&title, "title", "Permit system test", "notification title")
	flag.StringVar(&message, "message", "This is a test broadcast from the permit system.", "notification body")
	flag.IntVar(&timeout, "timeout", 60, "overall broadcast timeout in seconds")
	flag.Parse()

	if !config.WebPushConfigured() {
		log.Fatal("VAPID keys not configured (VAPID_PUBLIC_KEY/VAPID_PRIVATE_KEY)")
	}

	registry := services.NewPushRegistryService(nil, nil)
	notifier := services.NewNotificationService(nil, nil, registry, services.WebPushTransport{})

	subs, err := registry.ListAll()
	if err != nil {
		log.Fatalf("load subscriptions: %v", err)
	}
	if len(subs) == 0 {
		fmt.Println("No push subscriptions registered")
		return
	}

	payload, err := json.Marshal(services.PushPayload{Title: title, Body: message})
	if err != nil {
		log.Fatalf("marshal payload: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	summary := notifier.DispatchPush(ctx, payload, subs)

	fmt.Printf("Subscriptions: %d, sent: %d, failed: %d, pruned: %d\n",
		len(subs), summary.Sent, summary.Failed, summary.Pruned)
	for _, detail := range summary.Errors {
		fmt.Printf("  %s\n", detail)
	}

	if summary.Failed > 0 {
		os.Exit(2)
	}
}
