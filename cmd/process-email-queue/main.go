package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"permit-management-api/config"
	"permit-management-api/services"
)

// Drains the transactional email queue in one bounded batch. Intended for
// periodic invocation; concurrent runs cannot double-send because rows are
// claimed with a conditional update. Exits non-zero when any delivery
// failed.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config.ReloadMailerConfig()
	config.InitDB()

	var limit int
	flag.IntVar(&limit, "limit", services.DefaultProcessLimit, "maximum number of queue entries to process")
	flag.Parse()

	if limit <= 0 {
		log.Fatal("limit must be greater than 0")
	}

	processor := services.NewEmailQueueService(nil, nil, nil)
	summary, err := processor.Process(limit)
	if err != nil {
		log.Fatalf("email queue processing failed: %v", err)
	}

	fmt.Printf("Entries processed: %d, sent: %d, failed: %d\n",
		summary.Processed, summary.Sent, summary.Failed)
	for _, detail := range summary.Errors {
		fmt.Printf("  %s\n", detail)
	}

	if pending, err := processor.PendingCount(); err == nil {
		fmt.Printf("Entries still pending: %d\n", pending)
	}

	if summary.Failed > 0 {
		os.Exit(2)
	}
}
