package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newSubmissionRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSubmissionRepositoryListByStudent(t *testing.T) {
	db, mock, cleanup := newSubmissionRepoMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	now := time.Now()
	grade := 92.5
	rows := sqlmock.NewRows([]string{"id", "assignment_id", "student_id", "content", "file_name", "submitted_at", "grade", "graded_at", "graded_by"}).
		AddRow("sub-1", "asg-1", "stu-1", "my answer", nil, now, &grade, &now, "tch-1").
		AddRow("sub-2", "asg-2", "stu-1", "late answer", nil, now, nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, assignment_id, student_id, content, file_name, submitted_at, grade, graded_at, graded_by FROM submissions WHERE student_id = $1 ORDER BY submitted_at ASC")).
		WithArgs("stu-1").
		WillReturnRows(rows)

	submissions, err := repo.ListByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, submissions, 2)
	require.Equal(t, "asg-1", submissions[0].AssignmentID)
	require.NotNil(t, submissions[0].Grade)
	require.Nil(t, submissions[1].Grade)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryUpdateGrade(t *testing.T) {
	db, mock, cleanup := newSubmissionRepoMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET grade = $2, graded_by = $3, graded_at = $4 WHERE id = $1")).
		WithArgs("sub-1", 88.0, "tch-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateGrade(context.Background(), "sub-1", 88.0, "tch-1", now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
