package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/thesis-desk-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTopicRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTopicRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO topics")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	topic := &models.Topic{
		OwnerID:     "tutor-1",
		Title:       "Stream processing benchmarks",
		Description: "Compare windowing strategies",
		Area:        "Distributed Systems",
	}
	require.NoError(t, repo.Create(context.Background(), topic))
	require.NotEmpty(t, topic.ID)
	require.Equal(t, models.TopicStatusAvailable, topic.Status)

	rows := sqlmock.NewRows([]string{"id", "owner_id", "title", "description", "area", "status", "created_at", "updated_at"}).
		AddRow(topic.ID, "tutor-1", topic.Title, topic.Description, topic.Area, "available", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id, title")).
		WithArgs(topic.ID).
		WillReturnRows(rows)

	found, err := repo.GetByID(context.Background(), topic.ID)
	require.NoError(t, err)
	require.Equal(t, topic.ID, found.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTopicRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTopicRepository(db)
	rows := sqlmock.NewRows([]string{"id", "owner_id", "title", "description", "area", "status", "created_at", "updated_at"}).
		AddRow("topic-1", "tutor-1", "Graph databases", "Evaluate traversal engines", "Databases", "available", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id, title")).
		WithArgs("available", "tutor-1", "Databases").
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), models.TopicFilter{
		Status:  []models.TopicStatus{models.TopicStatusAvailable},
		OwnerID: "tutor-1",
		Area:    "Databases",
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "topic-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTopicRepositoryUpdateGuard(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTopicRepository(db)
	topic := &models.Topic{ID: "topic-1", Title: "Edited", Description: "Edited", Area: "Databases"}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE topics SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), topic))

	// Taken topics stop matching the guard; the caller sees ErrNoRows.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE topics SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Update(context.Background(), topic)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTopicRepositoryMarkTaken(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTopicRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE topics SET status")).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkTaken(context.Background(), "topic-1"))

	// Already taken: no row matches but the topic exists, so the call is a no-op.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE topics SET status")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("topic-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	require.NoError(t, repo.MarkTaken(context.Background(), "topic-1"))

	// Unknown id is reported.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE topics SET status")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	err := repo.MarkTaken(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTopicRepositoryDeleteGuard(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTopicRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM topics")).
		WithArgs("topic-1", "available").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Delete(context.Background(), "topic-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
