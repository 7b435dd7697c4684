package services

import (
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"permit-management-api/models"
)

var testNow = time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

var (
	selectPermitPattern = regexp.MustCompile("SELECT \\* FROM .permits. WHERE permit_id = \\?")
	insertEventPattern  = regexp.MustCompile("INSERT INTO .permit_events.")
)

func permitColumns() []string {
	return []string{
		"permit_id", "ref_number", "holder_id", "holder_email",
		"status", "valid_to", "work_started_at", "notified_pending",
	}
}

func permitRow(id int64, ref string, holderID int64, status string, validTo interface{}, workStartedAt interface{}) []driver.Value {
	return []driver.Value{id, ref, holderID, "holder@example.org", status, validTo, workStartedAt, true}
}

func TestApproveTransitionsPendingPermit(t *testing.T) {
	steps := []*queryStep{
		{
			kind:    kindQuery,
			pattern: selectPermitPattern,
			columns: permitColumns(),
			rows:    [][]driver.Value{permitRow(42, "PTW-2026-0042", 9, models.PermitStatusPending, nil, nil)},
		},
		{
			kind:    kindExec,
			pattern: regexp.MustCompile("UPDATE .permits. SET .*approved_by.*status.*WHERE permit_id = \\? AND status = \\?"),
			result:  scriptedResult{rowsAffected: 1},
		},
		{
			kind:    kindExec,
			pattern: insertEventPattern,
			result:  scriptedResult{lastInsertID: 1, rowsAffected: 1},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	svc := NewLifecycleService(db, FixedClock{At: testNow})

	permit, err := svc.Approve(42, 7)
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if permit.Status != models.PermitStatusActive {
		t.Fatalf("expected status active, got %q", permit.Status)
	}
	if permit.ApprovedBy == nil || *permit.ApprovedBy != 7 {
		t.Fatalf("expected approved_by=7, got %v", permit.ApprovedBy)
	}
	if permit.ApprovedAt == nil || !permit.ApprovedAt.Equal(testNow) {
		t.Fatalf("expected approved_at=%v, got %v", testNow, permit.ApprovedAt)
	}

	if err := state.verifyComplete(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApproveRejectsNonPendingPermit(t *testing.T) {
	for _, status := range []string{
		models.PermitStatusDraft,
		models.PermitStatusActive,
		models.PermitStatusRejected,
		models.PermitStatusExpired,
		models.PermitStatusClosed,
	} {
		steps := []*queryStep{
			{
				kind:    kindQuery,
				pattern: selectPermitPattern,
				columns: permitColumns(),
				rows:    [][]driver.Value{permitRow(42, "PTW-2026-0042", 9, status, nil, nil)},
			},
		}

		db, state, cleanup := newScriptedGormDB(t, steps)

		svc := NewLifecycleService(db, FixedClock{At: testNow})
		_, err := svc.Approve(42, 7)
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("status %q: expected ErrInvalidState, got %v", status, err)
		}
		// No update or event must have been attempted.
		if err := state.verifyComplete(); err != nil {
			t.Fatalf("status %q: %v", status, err)
		}
		cleanup()
	}
}

func TestApproveMissingPermitReturnsNotFound(t *testing.T) {
	steps := []*queryStep{
		{
			kind:    kindQuery,
			pattern: selectPermitPattern,
			columns: permitColumns(),
			rows:    [][]driver.Value{},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	svc := NewLifecycleService(db, FixedClock{At: testNow})
	_, err := svc.Approve(999, 7)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestRejectClearsPendingNotificationFlag(t *testing.T) {
	steps := []*queryStep{
		{
			kind:    kindQuery,
			pattern: selectPermitPattern,
			columns: permitColumns(),
			rows:    [][]driver.Value{permitRow(42, "PTW-2026-0042", 9, models.PermitStatusPending, nil, nil)},
		},
		{
			kind:    kindExec,
			pattern: regexp.MustCompile("UPDATE .permits. SET .*notified_pending.*rejection_reason.*WHERE permit_id = \\? AND status = \\?"),
			result:  scriptedResult{rowsAffected: 1},
		},
		{
			kind:    kindExec,
			pattern: insertEventPattern,
			result:  scriptedResult{lastInsertID: 2, rowsAffected: 1},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	svc := NewLifecycleService(db, FixedClock{At: testNow})
	permit, err := svc.Reject(42, 7, "missing isolation certificate")
	if err != nil {
		t.Fatalf("Reject returned error: %v", err)
	}
	if permit.Status != models.PermitStatusRejected {
		t.Fatalf("expected status rejected, got %q", permit.Status)
	}
	if permit.NotifiedPending {
		t.Fatalf("expected notified_pending cleared")
	}
	if permit.RejectionReason == nil || *permit.RejectionReason != "missing isolation certificate" {
		t.Fatalf("unexpected rejection reason: %v", permit.RejectionReason)
	}

	if err := state.verifyComplete(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCloseByHolderSucceeds(t *testing.T) {
	steps := []*queryStep{
		{
			kind:    kindQuery,
			pattern: selectPermitPattern,
			columns: permitColumns(),
			rows:    [][]driver.Value{permitRow(42, "PTW-2026-0042", 9, models.PermitStatusActive, nil, nil)},
		},
		{
			kind:    kindExec,
			pattern: regexp.MustCompile("UPDATE .permits. SET .*closed_by.*closure_reason.*WHERE permit_id = \\? AND status = \\?"),
			result:  scriptedResult{rowsAffected: 1},
		},
		{
			kind:    kindExec,
			pattern: insertEventPattern,
			result:  scriptedResult{lastInsertID: 3, rowsAffected: 1},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	holder := AuthContext{UserID: 9, Role: models.RoleUser}
	svc := NewLifecycleService(db, FixedClock{At: testNow})

	permit, err := svc.Close(42, holder, "work complete")
	if err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if permit.Status != models.PermitStatusClosed {
		t.Fatalf("expected status closed, got %q", permit.Status)
	}
	if permit.ClosedBy == nil || *permit.ClosedBy != 9 {
		t.Fatalf("expected closed_by=9, got %v", permit.ClosedBy)
	}

	if err := state.verifyComplete(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCloseByStrangerIsForbidden(t *testing.T) {
	steps := []*queryStep{
		{
			kind:    kindQuery,
			pattern: selectPermitPattern,
			columns: permitColumns(),
			rows:    [][]driver.Value{permitRow(42, "PTW-2026-0042", 9, models.PermitStatusActive, nil, nil)},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	stranger := AuthContext{UserID: 11, Role: models.RoleUser}
	svc := NewLifecycleService(db, FixedClock{At: testNow})

	_, err := svc.Close(42, stranger, "")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestCloseTwiceFailsAlreadyClosed(t *testing.T) {
	steps := []*queryStep{
		{
			kind:    kindQuery,
			pattern: selectPermitPattern,
			columns: permitColumns(),
			rows:    [][]driver.Value{permitRow(42, "PTW-2026-0042", 9, models.PermitStatusClosed, nil, nil)},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	admin := AuthContext{UserID: 1, Role: models.RoleAdmin}
	svc := NewLifecycleService(db, FixedClock{At: testNow})

	_, err := svc.Close(42, admin, "")
	if !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
	// AlreadyClosed is still an invalid-state condition for callers that
	// only distinguish the category.
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrAlreadyClosed to match ErrInvalidState")
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestCloseNonActivePermitFailsInvalidState(t *testing.T) {
	steps := []*queryStep{
		{
			kind:    kindQuery,
			pattern: selectPermitPattern,
			columns: permitColumns(),
			rows:    [][]driver.Value{permitRow(42, "PTW-2026-0042", 9, models.PermitStatusPending, nil, nil)},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	admin := AuthContext{UserID: 1, Role: models.RoleAdmin}
	svc := NewLifecycleService(db, FixedClock{At: testNow})

	_, err := svc.Close(42, admin, "")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("a pending permit is not already closed")
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestRecordWorkStartIsIdempotent(t *testing.T) {
	started := testNow.Add(-2 * time.Hour)
	steps := []*queryStep{
		{
			kind:    kindQuery,
			pattern: selectPermitPattern,
			columns: permitColumns(),
			rows:    [][]driver.Value{permitRow(42, "PTW-2026-0042", 9, models.PermitStatusActive, nil, started)},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	svc := NewLifecycleService(db, FixedClock{At: testNow})

	got, err := svc.RecordWorkStart(42)
	if err != nil {
		t.Fatalf("RecordWorkStart returned error: %v", err)
	}
	if !got.Equal(started) {
		t.Fatalf("expected original timestamp %v, got %v", started, got)
	}
	// No update and no second event.
	if err := state.verifyComplete(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestRecordWorkStartStampsActivePermit(t *testing.T) {
	steps := []*queryStep{
		{
			kind:    kindQuery,
			pattern: selectPermitPattern,
			columns: permitColumns(),
			rows:    [][]driver.Value{permitRow(42, "PTW-2026-0042", 9, models.PermitStatusActive, nil, nil)},
		},
		{
			kind:    kindExec,
			pattern: regexp.MustCompile("UPDATE .permits. SET .*work_started_at.*WHERE permit_id = \\? AND status = \\? AND work_started_at IS NULL"),
			result:  scriptedResult{rowsAffected: 1},
		},
		{
			kind:    kindExec,
			pattern: insertEventPattern,
			result:  scriptedResult{lastInsertID: 4, rowsAffected: 1},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	svc := NewLifecycleService(db, FixedClock{At: testNow})

	got, err := svc.RecordWorkStart(42)
	if err != nil {
		t.Fatalf("RecordWorkStart returned error: %v", err)
	}
	if !got.Equal(testNow) {
		t.Fatalf("expected %v, got %v", testNow, got)
	}

	if err := state.verifyComplete(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordWorkStartRequiresActiveStatus(t *testing.T) {
	steps := []*queryStep{
		{
			kind:    kindQuery,
			pattern: selectPermitPattern,
			columns: permitColumns(),
			rows:    [][]driver.Value{permitRow(42, "PTW-2026-0042", 9, models.PermitStatusPending, nil, nil)},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	svc := NewLifecycleService(db, FixedClock{At: testNow})
	_, err := svc.RecordWorkStart(42)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestExpireSkipsIneligiblePermitWithoutError(t *testing.T) {
	future := testNow.Add(48 * time.Hour)
	steps := []*queryStep{
		{
			kind:    kindQuery,
			pattern: selectPermitPattern,
			columns: permitColumns(),
			rows:    [][]driver.Value{permitRow(42, "PTW-2026-0042", 9, models.PermitStatusActive, future, nil)},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	svc := NewLifecycleService(db, FixedClock{At: testNow})
	expired, err := svc.Expire(42, testNow)
	if err != nil {
		t.Fatalf("Expire returned error: %v", err)
	}
	if expired {
		t.Fatalf("permit still within its validity window must not expire")
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestExpireTransitionsOverduePermit(t *testing.T) {
	overdue := testNow.Add(-time.Hour)
	steps := []*queryStep{
		{
			kind:    kindQuery,
			pattern: selectPermitPattern,
			columns: permitColumns(),
			rows:    [][]driver.Value{permitRow(42, "PTW-2026-0042", 9, models.PermitStatusIssued, overdue, nil)},
		},
		{
			kind:    kindExec,
			pattern: regexp.MustCompile("UPDATE .permits. SET .*status.*WHERE permit_id = \\? AND status IN \\(\\?,\\?\\) AND valid_to < \\?"),
			result:  scriptedResult{rowsAffected: 1},
		},
		{
			kind:    kindExec,
			pattern: insertEventPattern,
			result:  scriptedResult{lastInsertID: 5, rowsAffected: 1},
		},
	}

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	svc := NewLifecycleService(db, FixedClock{At: testNow})
	expired, err := svc.Expire(42, testNow)
	if err != nil {
		t.Fatalf("Expire returned error: %v", err)
	}
	if !expired {
		t.Fatalf("expected overdue issued permit to expire")
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
