package store

import (
	"context"
	"regexp"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestStartSession_UpsertBySID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	projectID := "abc"
	mock.ExpectExec(regexp.QuoteMeta("insert into sessions")).
		WithArgs("RM_1", "prj-abc-standup", &projectID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := New(mock)
	err = s.StartSession(context.Background(), StartSessionInput{
		SID:       "RM_1",
		RoomName:  "prj-abc-standup",
		ProjectID: &projectID,
	})
	if err != nil {
		t.Fatalf("StartSession returned err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordParticipantJoined_WritesRecordAndBumpsCountsInOneTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("insert into participant_records")).
		WithArgs("rec_1", "RM_1", "alice", "macos", "chrome", (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("update sessions")).
		WithArgs("RM_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	s := New(mock)
	err = s.RecordParticipantJoined(context.Background(), ParticipantJoinInput{
		RecordID:   "rec_1",
		SessionSID: "RM_1",
		Identity:   "alice",
		Platform:   "macos",
		Browser:    "chrome",
	})
	if err != nil {
		t.Fatalf("RecordParticipantJoined returned err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordParticipantLeft_ClosesRecordAndDecrements(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("update participant_records")).
		WithArgs("RM_1", "alice").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("update sessions")).
		WithArgs("RM_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	s := New(mock)
	if err := s.RecordParticipantLeft(context.Background(), "RM_1", "alice"); err != nil {
		t.Fatalf("RecordParticipantLeft returned err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStartEgress_DefaultsNameToID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("insert into egress")).
		WithArgs("EG_1", "EG_1", "EGRESS_ACTIVE", "show", "file", "", (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := New(mock)
	err = s.StartEgress(context.Background(), EgressStartInput{
		ID:         "EG_1",
		EgressType: "EGRESS_ACTIVE",
		RoomName:   "show",
		OutputType: "file",
	})
	if err != nil {
		t.Fatalf("StartEgress returned err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFinishEgress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("update egress")).
		WithArgs("EG_1", "s3://bucket/final.mp4").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	s := New(mock)
	if err := s.FinishEgress(context.Background(), "EG_1", "s3://bucket/final.mp4"); err != nil {
		t.Fatalf("FinishEgress returned err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
