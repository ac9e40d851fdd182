package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestFinishStaleSessions_PassesLiveSIDsAndCutoff(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	cutoff := time.Now().UTC().Add(-2 * time.Minute)
	mock.ExpectExec(regexp.QuoteMeta("update sessions")).
		WithArgs([]string{"RM_1", "RM_2"}, cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	s := New(mock)
	closed, err := s.FinishStaleSessions(context.Background(), []string{"RM_1", "RM_2"}, cutoff)
	if err != nil {
		t.Fatalf("FinishStaleSessions returned err: %v", err)
	}
	if closed != 3 {
		t.Fatalf("expected 3 closed sessions, got %d", closed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFinishStaleSessions_NilLiveListBecomesEmptyArray(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	cutoff := time.Now().UTC().Add(-2 * time.Minute)
	mock.ExpectExec(regexp.QuoteMeta("update sessions")).
		WithArgs([]string{}, cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	s := New(mock)
	if _, err := s.FinishStaleSessions(context.Background(), nil, cutoff); err != nil {
		t.Fatalf("FinishStaleSessions returned err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateSessionParticipants(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("update sessions")).
		WithArgs("RM_1", 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	s := New(mock)
	if err := s.UpdateSessionParticipants(context.Background(), "RM_1", 5); err != nil {
		t.Fatalf("UpdateSessionParticipants returned err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeactivateStaleEgress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	cutoff := time.Now().UTC().Add(-time.Minute)
	mock.ExpectExec(regexp.QuoteMeta("update egress")).
		WithArgs([]string{"EG_1"}, cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	s := New(mock)
	deactivated, err := s.DeactivateStaleEgress(context.Background(), []string{"EG_1"}, cutoff)
	if err != nil {
		t.Fatalf("DeactivateStaleEgress returned err: %v", err)
	}
	if deactivated != 2 {
		t.Fatalf("expected 2 deactivated rows, got %d", deactivated)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateEgressOutput(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("update egress")).
		WithArgs("EG_1", "rtmp://live/out").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	s := New(mock)
	if err := s.UpdateEgressOutput(context.Background(), "EG_1", "rtmp://live/out"); err != nil {
		t.Fatalf("UpdateEgressOutput returned err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertIngress_DefaultsNameToID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("insert into ingress")).
		WithArgs("IN_1", "IN_1", "RTMP_INPUT", "show", "sk_1", "rtmps://in.example/live").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := New(mock)
	err = s.UpsertIngress(context.Background(), IngressUpsertInput{
		ID:        "IN_1",
		InputType: "RTMP_INPUT",
		RoomName:  "show",
		StreamKey: "sk_1",
		URL:       "rtmps://in.example/live",
	})
	if err != nil {
		t.Fatalf("UpsertIngress returned err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMaintenanceStatements(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("delete from webhook_events")).
		WithArgs("259200 seconds").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec(regexp.QuoteMeta("update sessions")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	s := New(mock)
	if err := s.CleanupProcessedWebhookEvents(context.Background(), 72*time.Hour); err != nil {
		t.Fatalf("CleanupProcessedWebhookEvents returned err: %v", err)
	}
	if err := s.BackfillSessionDurations(context.Background()); err != nil {
		t.Fatalf("BackfillSessionDurations returned err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
