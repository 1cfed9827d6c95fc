package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/classbridge/classbridge-api/internal/models"
	appErrors "github.com/classbridge/classbridge-api/pkg/errors"
)

type submissionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error)
	FindByAssignmentAndStudent(ctx context.Context, assignmentID, studentID string) (*models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	UpdateGrade(ctx context.Context, id string, grade float64, gradedBy string, gradedAt time.Time) error
}

type submissionAssignmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
}

type submissionEnrollmentChecker interface {
	ExistsActive(ctx context.Context, studentID, courseID, excludeID string) (bool, error)
}

// SubmitRequest describes submission creation payload.
type SubmitRequest struct {
	AssignmentID string  `json:"assignment_id" validate:"required"`
	Content      string  `json:"content" validate:"required"`
	FileName     *string `json:"file_name,omitempty"`
}

// GradeRequest describes grading payload.
type GradeRequest struct {
	Grade float64 `json:"grade" validate:"gte=0"`
}

// SubmissionService orchestrates submission workflows.
type SubmissionService struct {
	repo        submissionRepository
	assignments submissionAssignmentReader
	enrollments submissionEnrollmentChecker
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewSubmissionService constructs SubmissionService.
func NewSubmissionService(repo submissionRepository, assignments submissionAssignmentReader, enrollments submissionEnrollmentChecker, validate *validator.Validate, logger *zap.Logger) *SubmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionService{repo: repo, assignments: assignments, enrollments: enrollments, validator: validate, logger: logger}
}

// Submit records a student's answer to an assignment.
func (s *SubmissionService) Submit(ctx context.Context, studentID string, req SubmitRequest) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}
	assignment, err := s.assignments.FindByID(ctx, req.AssignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	enrolled, err := s.enrollments.ExistsActive(ctx, studentID, assignment.CourseID, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student not enrolled in course")
	}
	if _, err := s.repo.FindByAssignmentAndStudent(ctx, req.AssignmentID, studentID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "assignment already submitted")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing submission")
	}

	submission := &models.Submission{
		AssignmentID: req.AssignmentID,
		StudentID:    studentID,
		Content:      req.Content,
		FileName:     req.FileName,
		SubmittedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, submission); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create submission")
	}
	return submission, nil
}

// ListByAssignment returns all submissions to an assignment.
func (s *SubmissionService) ListByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error) {
	if _, err := s.assignments.FindByID(ctx, assignmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	submissions, err := s.repo.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}
	return submissions, nil
}

// Grade records a grade for a submission, clamped to the assignment's points.
func (s *SubmissionService) Grade(ctx context.Context, graderID, submissionID string, req GradeRequest) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	submission, err := s.repo.FindByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}
	assignment, err := s.assignments.FindByID(ctx, submission.AssignmentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	if assignment != nil && assignment.Points > 0 && req.Grade > float64(assignment.Points) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "grade exceeds assignment points")
	}

	gradedAt := time.Now().UTC()
	if err := s.repo.UpdateGrade(ctx, submissionID, req.Grade, graderID, gradedAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grade submission")
	}
	submission.Grade = &req.Grade
	submission.GradedAt = &gradedAt
	submission.GradedBy = &graderID
	return submission, nil
}
