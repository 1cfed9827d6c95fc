package service

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classbridge/classbridge-api/internal/models"
	appErrors "github.com/classbridge/classbridge-api/pkg/errors"
)

type assignmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Assignment, error)
	List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error)
	Create(ctx context.Context, assignment *models.Assignment) error
	Update(ctx context.Context, assignment *models.Assignment) error
	Delete(ctx context.Context, id string) error
}

type assignmentCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type attachmentStorage interface {
	Save(filename string, data []byte) (string, error)
	Delete(filename string) error
}

type attachmentSigner interface {
	Generate(resourceID, relPath string) (string, time.Time, error)
}

// CreateAssignmentRequest describes assignment creation payload.
type CreateAssignmentRequest struct {
	CourseID    string                `json:"course_id" validate:"required"`
	Title       string                `json:"title" validate:"required"`
	Description string                `json:"description"`
	DueDate     *time.Time            `json:"due_date,omitempty"`
	Points      int                   `json:"points" validate:"gte=0"`
	Type        models.AssignmentType `json:"type,omitempty"`
	TextContent *string               `json:"text_content,omitempty"`
}

// UpdateAssignmentRequest describes assignment update payload.
type UpdateAssignmentRequest struct {
	Title       *string                `json:"title,omitempty"`
	Description *string                `json:"description,omitempty"`
	DueDate     *time.Time             `json:"due_date,omitempty"`
	Points      *int                   `json:"points,omitempty"`
	Type        *models.AssignmentType `json:"type,omitempty"`
	TextContent *string                `json:"text_content,omitempty"`
}

// AttachmentConfig bounds uploaded assignment files.
type AttachmentConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// SignedAttachment couples a stored file name with its download token.
type SignedAttachment struct {
	FileName  string    `json:"file_name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AssignmentService orchestrates assignment workflows including file attachments.
type AssignmentService struct {
	repo      assignmentRepository
	courses   assignmentCourseReader
	storage   attachmentStorage
	signer    attachmentSigner
	cfg       AttachmentConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAssignmentService constructs AssignmentService.
func NewAssignmentService(repo assignmentRepository, courses assignmentCourseReader, storage attachmentStorage, signer attachmentSigner, cfg AttachmentConfig, validate *validator.Validate, logger *zap.Logger) *AssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSizeBytes <= 0 {
		cfg.MaxFileSizeBytes = 10 << 20
	}
	return &AssignmentService{repo: repo, courses: courses, storage: storage, signer: signer, cfg: cfg, validator: validate, logger: logger}
}

// Get returns an assignment by ID.
func (s *AssignmentService) Get(ctx context.Context, id string) (*models.Assignment, error) {
	assignment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	return assignment, nil
}

// List returns assignments with pagination metadata.
func (s *AssignmentService) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, *models.Pagination, error) {
	assignments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return assignments, pagination, nil
}

// Create registers a new assignment on behalf of the acting teacher.
// Admins may create assignments on any course; teachers only on their own.
func (s *AssignmentService) Create(ctx context.Context, actor models.JWTClaims, req CreateAssignmentRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := s.checkOwnership(actor, course); err != nil {
		return nil, err
	}
	assignmentType := req.Type
	if assignmentType == "" {
		assignmentType = models.AssignmentTypeText
	}
	assignment := &models.Assignment{
		CourseID:    req.CourseID,
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		Points:      req.Points,
		Type:        assignmentType,
		TextContent: req.TextContent,
		CreatedBy:   actor.UserID,
	}
	if err := s.repo.Create(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
	}
	return assignment, nil
}

// Update applies partial changes to an assignment.
func (s *AssignmentService) Update(ctx context.Context, actor models.JWTClaims, id string, req UpdateAssignmentRequest) (*models.Assignment, error) {
	assignment, course, err := s.loadWithCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(actor, course); err != nil {
		return nil, err
	}
	if req.Title != nil {
		assignment.Title = *req.Title
	}
	if req.Description != nil {
		assignment.Description = *req.Description
	}
	if req.DueDate != nil {
		assignment.DueDate = req.DueDate
	}
	if req.Points != nil {
		assignment.Points = *req.Points
	}
	if req.Type != nil {
		assignment.Type = *req.Type
	}
	if req.TextContent != nil {
		assignment.TextContent = req.TextContent
	}
	if err := s.repo.Update(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assignment")
	}
	return assignment, nil
}

// Delete removes an assignment and its stored attachment, if any.
func (s *AssignmentService) Delete(ctx context.Context, actor models.JWTClaims, id string) error {
	assignment, course, err := s.loadWithCourse(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checkOwnership(actor, course); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete assignment")
	}
	if assignment.FileName != nil && s.storage != nil {
		if err := s.storage.Delete(*assignment.FileName); err != nil {
			s.logger.Warn("failed to delete assignment attachment", zap.String("assignment_id", id), zap.Error(err))
		}
	}
	return nil
}

// AttachFile stores an uploaded file for an assignment and returns a signed download token.
func (s *AssignmentService) AttachFile(ctx context.Context, actor models.JWTClaims, id, originalName, contentType string, data []byte) (*SignedAttachment, error) {
	assignment, course, err := s.loadWithCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(actor, course); err != nil {
		return nil, err
	}
	if s.storage == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "attachment storage not configured")
	}
	if int64(len(data)) > s.cfg.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, "attachment exceeds size limit")
	}
	if len(s.cfg.AllowedMIMEs) > 0 && !containsString(s.cfg.AllowedMIMEs, contentType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attachment content type not allowed")
	}

	relPath := filepath.Join("assignments", id, uuid.NewString()+filepath.Ext(originalName))
	stored, err := s.storage.Save(relPath, data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
	}

	assignment.FileName = &stored
	if err := s.repo.Update(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attachment")
	}

	token, expiresAt, err := s.signer.Generate(id, stored)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign attachment url")
	}
	return &SignedAttachment{FileName: stored, Token: token, ExpiresAt: expiresAt}, nil
}

// SignAttachment returns a fresh signed download token for an existing attachment.
func (s *AssignmentService) SignAttachment(ctx context.Context, id string) (*SignedAttachment, error) {
	assignment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if assignment.FileName == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment has no attachment")
	}
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "attachment storage not configured")
	}
	token, expiresAt, err := s.signer.Generate(id, *assignment.FileName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign attachment url")
	}
	return &SignedAttachment{FileName: *assignment.FileName, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *AssignmentService) loadWithCourse(ctx context.Context, id string) (*models.Assignment, *models.Course, error) {
	assignment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	course, err := s.courses.FindByID(ctx, assignment.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return assignment, course, nil
}

func (s *AssignmentService) checkOwnership(actor models.JWTClaims, course *models.Course) error {
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAdmin:
		return nil
	case models.RoleTeacher:
		if course.TeacherID == actor.UserID {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "role cannot manage assignments")
	}
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
