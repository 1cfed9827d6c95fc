package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/classbridge/classbridge-api/internal/models"
)

func newAssignmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestAssignmentRepositoryListByCourse(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "course_id", "title", "description", "due_date", "points", "type", "text_content", "file_name", "created_by", "created_at", "updated_at"}).
		AddRow("asg-1", "course-1", "Essay", "Write an essay", nil, 100, models.AssignmentTypeText, nil, nil, "tch-1", now, now).
		AddRow("asg-2", "course-1", "Quiz", "Weekly quiz", nil, 50, models.AssignmentTypeQuiz, nil, nil, "tch-1", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, course_id, title, description, due_date, points, type, text_content, file_name, created_by, created_at, updated_at FROM assignments WHERE course_id = $1 ORDER BY created_at ASC")).
		WithArgs("course-1").
		WillReturnRows(rows)

	assignments, err := repo.ListByCourse(context.Background(), "course-1")
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	require.Equal(t, "Essay", assignments[0].Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryCreateDefaultsType(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectExec("INSERT INTO assignments").
		WillReturnResult(sqlmock.NewResult(1, 1))

	assignment := &models.Assignment{
		CourseID:    "course-1",
		Title:       "Essay",
		Description: "Write an essay",
		Points:      100,
		CreatedBy:   "tch-1",
	}
	err := repo.Create(context.Background(), assignment)
	require.NoError(t, err)
	require.NotEmpty(t, assignment.ID)
	require.Equal(t, models.AssignmentTypeText, assignment.Type)
	require.NoError(t, mock.ExpectationsWereMet())
}
