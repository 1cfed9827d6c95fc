package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/classbridge/classbridge-api/internal/models"
	appErrors "github.com/classbridge/classbridge-api/pkg/errors"
	"github.com/classbridge/classbridge-api/pkg/mailer"
)

type notificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id string) error
}

// NotificationService persists operational notifications, logs them, and
// optionally forwards error-severity events to the operations mailbox.
// It implements the Notifier contract consumed by the feed pipeline.
type NotificationService struct {
	repo       notificationRepository
	mailer     mailer.Mailer
	opsAddress string
	logger     *zap.Logger
}

// NewNotificationService constructs NotificationService. The mailer may be
// nil; error events are then persisted and logged only.
func NewNotificationService(repo notificationRepository, m mailer.Mailer, opsAddress string, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, mailer: m, opsAddress: opsAddress, logger: logger}
}

// NotifyError records an error-severity notification. Persistence and mail
// delivery failures are logged, never propagated: the notification channel
// must not fail the operation that triggered it.
func (s *NotificationService) NotifyError(ctx context.Context, studentID, source, message string) {
	notification := &models.Notification{
		Severity: models.NotificationSeverityError,
		Source:   source,
		Message:  message,
	}
	if studentID != "" {
		notification.StudentID = &studentID
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		s.logger.Error("failed to persist notification", zap.String("source", source), zap.Error(err))
	}
	s.logger.Warn("operational notification", zap.String("source", source), zap.String("message", message), zap.String("student_id", studentID))

	if s.mailer != nil && s.opsAddress != "" {
		msg := mailer.Message{
			ToAddress: s.opsAddress,
			Subject:   "degraded " + source + " operation",
			Body:      message,
		}
		if err := s.mailer.Send(msg); err != nil {
			s.logger.Warn("failed to mail notification", zap.String("source", source), zap.Error(err))
		}
	}
}

// List returns notifications with pagination metadata.
func (s *NotificationService) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	notifications, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
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
	return notifications, pagination, nil
}

// MarkRead flags a notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	if id == "" {
		return appErrors.Clone(appErrors.ErrValidation, "notification id required")
	}
	if err := s.repo.MarkRead(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}
