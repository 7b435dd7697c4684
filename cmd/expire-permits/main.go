package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"permit-management-api/config"
	"permit-management-api/services"
)

// Expiry sweep, intended for periodic invocation (e.g. hourly cron). Safe
// to run from overlapping schedules: permits already expired by a prior
// run are skipped. Exits non-zero when any permit failed to transition or
// any reminder failed to enqueue.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config.ReloadMailerConfig()
	config.InitDB()

	var remindHours int
	flag.IntVar(&remindHours, "remind-hours", 24, "enqueue expiry reminders for permits ending within this many hours (0 disables)")
	flag.Parse()

	lifecycle := services.NewLifecycleService(nil, nil)
	registry := services.NewPushRegistryService(nil, nil)
	notifier := services.NewNotificationService(nil, nil, registry, services.WebPushTransport{})
	sweep := services.NewExpiryService(nil, lifecycle, notifier, nil)

	now := time.Now()
	summary, err := sweep.Run(now)
	if err != nil {
		log.Fatalf("expiry sweep failed: %v", err)
	}

	fmt.Printf("Permits found: %d, expired: %d, errors: %d\n",
		summary.Found, summary.Updated, summary.Errors)

	failed := summary.Errors > 0

	if remindHours > 0 {
		reminders, err := sweep.RemindExpiring(now, time.Duration(remindHours)*time.Hour)
		if err != nil {
			log.Fatalf("expiry reminders failed: %v", err)
		}
		fmt.Printf("Reminders found: %d, enqueued: %d, deduplicated: %d, errors: %d\n",
			reminders.Found, reminders.Enqueued, reminders.Skipped, reminders.Errors)
		if reminders.Errors > 0 {
			failed = true
		}
	}

	if failed {
		os.Exit(2)
	}
}
