package auditlog

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestEventValidate(t *testing.T) {
	valid := Event{
		OccurredAt:   time.Unix(1700000000, 0),
		Actor:        "operator",
		Action:       "promotion.applied",
		ResourceType: "run",
		ResourceID:   "run-1",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	invalid := valid
	invalid.ResourceID = " "
	if err := invalid.Validate(); err == nil {
		t.Fatalf("expected error for blank resource id")
	}
}

func TestComputeIntegrityIsStable(t *testing.T) {
	event := Event{
		OccurredAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Actor:        " operator ",
		Action:       "promotion.applied",
		ResourceType: "run",
		ResourceID:   "run-1",
	}
	a, err := ComputeIntegritySHA256(event, []byte(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("integrity: %v", err)
	}
	event.Actor = "operator"
	b, err := ComputeIntegritySHA256(event, []byte(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("integrity: %v", err)
	}
	if a != b {
		t.Fatalf("expected trimmed actor to hash identically")
	}
	c, err := ComputeIntegritySHA256(event, []byte(`{"k":"w"}`))
	if err != nil {
		t.Fatalf("integrity: %v", err)
	}
	if a == c {
		t.Fatalf("expected payload change to alter integrity hash")
	}
}

func TestAppenderInserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_events")).
		WithArgs(sqlmock.AnyArg(), "operator", "promotion.applied", "run", "run-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}).AddRow(int64(7)))

	id, err := NewAppender(db).Append(context.Background(), Event{
		Actor:        "operator",
		Action:       "promotion.applied",
		ResourceType: "run",
		ResourceID:   "run-1",
		RequestID:    "promo-1",
		Payload:      map[string]any{"experiment_id": "2"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id != 7 {
		t.Fatalf("expected event id 7, got %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
