package services

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"permit-management-api/models"
)

type fakeMailChannel struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]error
}

func (f *fakeMailChannel) Send(to []string, subject, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[to[0]]; ok {
		return err
	}
	f.sent = append(f.sent, to[0])
	return nil
}

var (
	claimPattern  = regexp.MustCompile("UPDATE email_queue SET claim_token = \\?, claimed_at = \\? WHERE status = \\? AND \\(claim_token IS NULL OR claimed_at < \\?\\) ORDER BY created_at ASC LIMIT \\?")
	loadClaimed   = regexp.MustCompile("SELECT \\* FROM .email_queue. WHERE claim_token = \\? AND status = \\?")
	finalizeSent  = regexp.MustCompile("UPDATE .email_queue. SET .*sent_at.*status.*WHERE queue_id = \\? AND claim_token = \\? AND status = \\?")
	finalizeError = regexp.MustCompile("UPDATE .email_queue. SET .*last_error.*status.*WHERE queue_id = \\? AND claim_token = \\? AND status = \\?")
)

func queueColumns() []string {
	return []string{"queue_id", "to_address", "subject", "body", "status", "created_at"}
}

func TestProcessDeliversClaimedBatchInOrder(t *testing.T) {
	steps := []*queryStep{
		{
			kind:    kindExec,
			pattern: claimPattern,
			result:  scriptedResult{rowsAffected: 2},
		},
		{
			kind:    kindQuery,
			pattern: loadClaimed,
			columns: queueColumns(),
			rows: [][]driver.Value{
				{int64(1), "first@example.org", "Permit approved", "<html>", models.EmailStatusPending, testNow.Add(-2 * time.Minute)},
				{int64(2), "second@example.org", "Permit rejected", "<html>", models.EmailStatusPending, testNow.Add(-time.Minute)},
			},
		},
		{
			kind:    kindExec,
			pattern: finalizeSent,
			result:  scriptedResult{rowsAffected: 1},
		},
		{
			kind:    kindExec,
			pattern: finalizeError,
			result:  scriptedResult{rowsAffected: 1},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	channel := &fakeMailChannel{failFor: map[string]error{
		"second@example.org": fmt.Errorf("smtp: connection refused"),
	}}
	svc := NewEmailQueueService(db, channel, FixedClock{At: testNow})

	summary, err := svc.Process(50)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if summary.Processed != 2 || summary.Sent != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("expected 1 error detail, got %d", len(summary.Errors))
	}
	if len(channel.sent) != 1 || channel.sent[0] != "first@example.org" {
		t.Fatalf("unexpected deliveries: %v", channel.sent)
	}

	if err := state.verifyComplete(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessWithNothingToClaimDoesNotSend(t *testing.T) {
	steps := []*queryStep{
		{
			kind:    kindExec,
			pattern: claimPattern,
			result:  scriptedResult{rowsAffected: 0},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	channel := &fakeMailChannel{}
	svc := NewEmailQueueService(db, channel, FixedClock{At: testNow})

	summary, err := svc.Process(50)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if summary.Processed != 0 || summary.Sent != 0 || summary.Failed != 0 {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
	if len(channel.sent) != 0 {
		t.Fatalf("nothing was claimed, nothing must be sent")
	}

	if err := state.verifyComplete(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestProcessFinalizeIsGuardedByClaimToken(t *testing.T) {
	// The terminal update re-checks claim token and pending status, so a
	// row finalized by a racing processor is left alone (RowsAffected 0).
	steps := []*queryStep{
		{
			kind:    kindExec,
			pattern: claimPattern,
			result:  scriptedResult{rowsAffected: 1},
		},
		{
			kind:    kindQuery,
			pattern: loadClaimed,
			columns: queueColumns(),
			rows: [][]driver.Value{
				{int64(1), "first@example.org", "Permit approved", "<html>", models.EmailStatusPending, testNow},
			},
		},
		{
			kind:    kindExec,
			pattern: finalizeSent,
			result:  scriptedResult{rowsAffected: 0},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	svc := NewEmailQueueService(db, &fakeMailChannel{}, FixedClock{At: testNow})
	summary, err := svc.Process(50)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if summary.Sent != 1 {
		t.Fatalf("delivery happened, summary should count it: %+v", summary)
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessSendFailureDoesNotAbortBatch(t *testing.T) {
	steps := []*queryStep{
		{
			kind:    kindExec,
			pattern: claimPattern,
			result:  scriptedResult{rowsAffected: 2},
		},
		{
			kind:    kindQuery,
			pattern: loadClaimed,
			columns: queueColumns(),
			rows: [][]driver.Value{
				{int64(1), "down@example.org", "Reminder", "<html>", models.EmailStatusPending, testNow},
				{int64(2), "up@example.org", "Reminder", "<html>", models.EmailStatusPending, testNow},
			},
		},
		{
			kind:    kindExec,
			pattern: finalizeError,
			result:  scriptedResult{rowsAffected: 1},
		},
		{
			kind:    kindExec,
			pattern: finalizeSent,
			result:  scriptedResult{rowsAffected: 1},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	channel := &fakeMailChannel{failFor: map[string]error{
		"down@example.org": errors.New("mailbox unavailable"),
	}}
	svc := NewEmailQueueService(db, channel, FixedClock{At: testNow})

	summary, err := svc.Process(50)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if summary.Sent != 1 || summary.Failed != 1 {
		t.Fatalf("second entry must still be processed: %+v", summary)
	}

	if err := state.verifyComplete(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
