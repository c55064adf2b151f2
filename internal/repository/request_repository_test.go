package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/thesis-desk-api/internal/models"
)

var requestRows = []string{
	"id", "student_id", "student_name", "student_email",
	"supervisor_id", "supervisor_name", "supervisor_email", "topic_id",
	"title", "description", "area", "expose_url", "status",
	"second_reviewer_id", "second_reviewer_name", "second_reviewer_email", "second_reviewer_status",
	"invoice_supervisor_created", "invoice_reviewer_created", "paid_supervisor", "paid_reviewer",
	"version", "created_at", "updated_at",
}

func sampleRequestRow(id, status string) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, "student-1", "Mara Voss", "mara@uni.example",
		"tutor-1", "Dr. Lang", "lang@uni.example", nil,
		"Cache coherence tracing", "Trace-based study", "Distributed Systems", "https://uni.example/expose.pdf", status,
		nil, nil, nil, "",
		false, false, false, false,
		1, now, now,
	}
}

func TestRequestRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO supervision_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	request := &models.SupervisionRequest{
		StudentID:       "student-1",
		StudentName:     "Mara Voss",
		StudentEmail:    "mara@uni.example",
		SupervisorID:    "tutor-1",
		SupervisorEmail: "lang@uni.example",
		Title:           "Cache coherence tracing",
		Description:     "Trace-based study",
		Area:            "Distributed Systems",
		ExposeURL:       "https://uni.example/expose.pdf",
	}
	require.NoError(t, repo.Create(context.Background(), request))
	require.NotEmpty(t, request.ID)
	require.Equal(t, models.RequestStatusOpen, request.Status)
	require.Equal(t, 1, request.Version)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, student_name")).
		WithArgs(request.ID).
		WillReturnRows(sqlmock.NewRows(requestRows).AddRow(sampleRequestRow(request.ID, "open")...))

	found, err := repo.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, request.ID, found.ID)
	require.Equal(t, models.RequestStatusOpen, found.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, student_name")).
		WithArgs("open", "accepted", "tutor-1").
		WillReturnRows(sqlmock.NewRows(requestRows).AddRow(sampleRequestRow("req-1", "open")...))

	list, err := repo.List(context.Background(), models.RequestFilter{
		Status:       []models.RequestStatus{models.RequestStatusOpen, models.RequestStatusAccepted},
		SupervisorID: "tutor-1",
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "req-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListByReviewerEmail(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("LOWER(second_reviewer_email) = LOWER(")).
		WithArgs("Lang@uni.example").
		WillReturnRows(sqlmock.NewRows(requestRows).AddRow(sampleRequestRow("req-2", "accepted")...))

	list, err := repo.List(context.Background(), models.RequestFilter{ReviewerEmail: "Lang@uni.example"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryUpdateStatusGuards(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE supervision_requests SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := repo.UpdateStatus(context.Background(), UpdateStatusParams{
		ID:              "req-1",
		Status:          models.RequestStatusAccepted,
		ExpectedVersion: 1,
		AllowedFrom:     []models.RequestStatus{models.RequestStatusOpen},
	})
	require.NoError(t, err)

	// Stale version or drifted status matches no row.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE supervision_requests SET status")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.UpdateStatus(context.Background(), UpdateStatusParams{
		ID:              "req-1",
		Status:          models.RequestStatusAccepted,
		ExpectedVersion: 1,
		AllowedFrom:     []models.RequestStatus{models.RequestStatusOpen},
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryReviewerDecisionGuard(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE supervision_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := repo.UpdateReviewerDecision(context.Background(), ReviewerDecisionParams{
		ID:              "req-1",
		Decision:        models.ReviewerStatusAccepted,
		ExpectedVersion: 2,
	})
	require.NoError(t, err)

	// A call after the decision already landed matches nothing.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE supervision_requests")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.UpdateReviewerDecision(context.Background(), ReviewerDecisionParams{
		ID:              "req-1",
		Decision:        models.ReviewerStatusAccepted,
		ExpectedVersion: 3,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryUpdateInvoiceBuildsSetList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	created := true
	status := models.RequestStatusInvoiced

	mock.ExpectExec(regexp.QuoteMeta("invoice_supervisor_created")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := repo.UpdateInvoice(context.Background(), UpdateInvoiceParams{
		ID:                       "req-1",
		ExpectedVersion:          4,
		InvoiceSupervisorCreated: &created,
		Status:                   &status,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryDeleteScope(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM supervision_requests")).
		WithArgs("req-1", "student-1", "open", "rejected").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "req-1", "student-1"))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM supervision_requests")).
		WithArgs("req-1", "other-student", "open", "rejected").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Delete(context.Background(), "req-1", "other-student")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
