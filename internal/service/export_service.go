package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/classbridge/classbridge-api/internal/dto"
	"github.com/classbridge/classbridge-api/internal/models"
	appErrors "github.com/classbridge/classbridge-api/pkg/errors"
	"github.com/classbridge/classbridge-api/pkg/export"
	"github.com/classbridge/classbridge-api/pkg/jobs"
)

type exportJobRepository interface {
	Create(ctx context.Context, job *models.ExportJob) error
	FindByID(ctx context.Context, id string) (*models.ExportJob, error)
	UpdateStatus(ctx context.Context, id string, status models.ExportStatus, progress int) error
	MarkFinished(ctx context.Context, id, resultURL string, finishedAt time.Time) error
	MarkFailed(ctx context.Context, id, message string, finishedAt time.Time) error
}

type feedFetcher interface {
	Fetch(ctx context.Context, studentID string) (*FeedResult, error)
}

type exportStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type exportSigner interface {
	Generate(resourceID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (resourceID, relPath string, expiresAt time.Time, err error)
}

type exportQueue interface {
	Enqueue(job jobs.Job) error
}

// ExportServiceParams groups constructor dependencies.
type ExportServiceParams struct {
	Repo     exportJobRepository
	Feed     feedFetcher
	Storage  exportStorage
	Signer   exportSigner
	CSV      *export.CSVExporter
	PDF      *export.PDFExporter
	Notifier Notifier
	Logger   *zap.Logger
	FileTTL  time.Duration
}

// ExportService renders a student's assignment feed to CSV or PDF through
// the background job queue and serves the result via signed URLs.
type ExportService struct {
	repo     exportJobRepository
	feed     feedFetcher
	storage  exportStorage
	signer   exportSigner
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	notifier Notifier
	queue    exportQueue
	logger   *zap.Logger
	fileTTL  time.Duration
}

// NewExportService constructs ExportService. Bind the queue afterwards with
// AttachQueue since the queue's handler needs the service.
func NewExportService(params ExportServiceParams) *ExportService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fileTTL := params.FileTTL
	if fileTTL <= 0 {
		fileTTL = 24 * time.Hour
	}
	return &ExportService{
		repo:     params.Repo,
		feed:     params.Feed,
		storage:  params.Storage,
		signer:   params.Signer,
		csv:      params.CSV,
		pdf:      params.PDF,
		notifier: params.Notifier,
		logger:   logger,
		fileTTL:  fileTTL,
	}
}

// AttachQueue binds the background queue used for processing.
func (s *ExportService) AttachQueue(q exportQueue) {
	s.queue = q
}

// Enqueue validates the request, persists the job, and hands it to the queue.
func (s *ExportService) Enqueue(ctx context.Context, createdBy string, req dto.ExportRequest) (*dto.ExportJobResponse, error) {
	if req.StudentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id required")
	}
	if req.Format != models.ExportFormatCSV && req.Format != models.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "export queue not running")
	}

	job := &models.ExportJob{
		Params: models.ExportJobParams{
			StudentID: req.StudentID,
			Format:    req.Format,
		},
		Status:    models.ExportStatusQueued,
		CreatedBy: createdBy,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist export job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "feed_export"}); err != nil {
		failedAt := time.Now().UTC()
		if markErr := s.repo.MarkFailed(ctx, job.ID, "queue unavailable", failedAt); markErr != nil {
			s.logger.Warn("failed to mark export job failed", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to enqueue export job")
	}

	return &dto.ExportJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// Process is the queue handler rendering a single export job.
func (s *ExportService) Process(ctx context.Context, queued jobs.Job) error {
	job, err := s.repo.FindByID(ctx, queued.ID)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", queued.ID, err)
	}
	if job.Status == models.ExportStatusFinished || job.Status == models.ExportStatusFailed {
		return nil
	}

	if err := s.repo.UpdateStatus(ctx, job.ID, models.ExportStatusProcessing, 10); err != nil {
		s.logger.Warn("failed to mark export job processing", zap.String("job_id", job.ID), zap.Error(err))
	}

	result, err := s.feed.Fetch(ctx, job.Params.StudentID)
	if err != nil {
		return s.fail(ctx, job.ID, "failed to assemble feed", err)
	}

	dataset := feedDataset(result)
	var payload []byte
	var ext string
	switch job.Params.Format {
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, "Assignment Feed")
		ext = "pdf"
	default:
		payload, err = s.csv.Render(dataset)
		ext = "csv"
	}
	if err != nil {
		return s.fail(ctx, job.ID, "failed to render export", err)
	}

	relPath := fmt.Sprintf("exports/%s.%s", job.ID, ext)
	if _, err := s.storage.Save(relPath, payload); err != nil {
		return s.fail(ctx, job.ID, "failed to store export file", err)
	}

	token, _, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return s.fail(ctx, job.ID, "failed to sign export url", err)
	}

	resultURL := "/api/v1/exports/download?token=" + token
	if err := s.repo.MarkFinished(ctx, job.ID, resultURL, time.Now().UTC()); err != nil {
		return fmt.Errorf("finish export job %s: %w", job.ID, err)
	}
	s.logger.Info("export job finished", zap.String("job_id", job.ID), zap.String("format", string(job.Params.Format)))
	return nil
}

// Status returns progress metadata for a job.
func (s *ExportService) Status(ctx context.Context, id string) (*dto.ExportStatusResponse, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	return &dto.ExportStatusResponse{
		ID:        job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		ResultURL: job.ResultURL,
		Error:     job.ErrorMessage,
	}, nil
}

// Download validates a signed token and opens the stored file.
func (s *ExportService) Download(ctx context.Context, token string) (*os.File, string, error) {
	jobID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.Status != models.ExportStatusFinished {
		return nil, "", appErrors.Clone(appErrors.ErrPreconditionFailed, "export not finished")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export file missing")
	}
	return file, relPath, nil
}

// CleanupExpired removes export files older than the retention TTL.
// Scheduled from the cron runner in main.
func (s *ExportService) CleanupExpired() {
	deleted, err := s.storage.CleanupOlderThan(s.fileTTL)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
		return
	}
	if len(deleted) > 0 {
		s.logger.Info("export cleanup removed files", zap.Int("count", len(deleted)))
	}
}

func (s *ExportService) fail(ctx context.Context, jobID, reason string, cause error) error {
	s.logger.Error("export job failed", zap.String("job_id", jobID), zap.String("reason", reason), zap.Error(cause))
	if err := s.repo.MarkFailed(ctx, jobID, reason, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to mark export job failed", zap.String("job_id", jobID), zap.Error(err))
	}
	if s.notifier != nil {
		s.notifier.NotifyError(ctx, "", "export", reason)
	}
	return fmt.Errorf("%s: %w", reason, cause)
}

func feedDataset(result *FeedResult) export.Dataset {
	headers := []string{"Course", "Title", "Due Date", "Points", "Type", "Submitted", "Grade"}
	rows := make([]map[string]string, 0, len(result.Views))
	for _, view := range result.Views {
		due := ""
		if view.DueDate != nil {
			due = view.DueDate.Format("2006-01-02")
		}
		grade := ""
		if view.Submission != nil && view.Submission.Grade != nil {
			grade = strconv.FormatFloat(*view.Submission.Grade, 'f', 1, 64)
		}
		rows = append(rows, map[string]string{
			"Course":    view.CourseName,
			"Title":     view.Title,
			"Due Date":  due,
			"Points":    strconv.Itoa(view.Points),
			"Type":      string(view.Type),
			"Submitted": strconv.FormatBool(view.Submitted),
			"Grade":     grade,
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
