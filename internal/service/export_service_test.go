package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classbridge/classbridge-api/internal/dto"
	"github.com/classbridge/classbridge-api/internal/models"
	"github.com/classbridge/classbridge-api/pkg/export"
	"github.com/classbridge/classbridge-api/pkg/jobs"
)

type fakeExportRepo struct {
	mu     sync.Mutex
	jobs   map[string]*models.ExportJob
	seq    int
	failOn string
}

func newFakeExportRepo() *fakeExportRepo {
	return &fakeExportRepo{jobs: map[string]*models.ExportJob{}}
}

func (f *fakeExportRepo) Create(_ context.Context, job *models.ExportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "create" {
		return errors.New("insert failed")
	}
	f.seq++
	if job.ID == "" {
		job.ID = "job-" + string(rune('0'+f.seq))
	}
	job.CreatedAt = time.Now().UTC()
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeExportRepo) FindByID(_ context.Context, id string) (*models.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (f *fakeExportRepo) UpdateStatus(_ context.Context, id string, status models.ExportStatus, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		job.Status = status
		job.Progress = progress
	}
	return nil
}

func (f *fakeExportRepo) MarkFinished(_ context.Context, id, resultURL string, finishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		job.Status = models.ExportStatusFinished
		job.Progress = 100
		job.ResultURL = &resultURL
		job.FinishedAt = &finishedAt
	}
	return nil
}

func (f *fakeExportRepo) MarkFailed(_ context.Context, id, message string, finishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		job.Status = models.ExportStatusFailed
		job.ErrorMessage = &message
		job.FinishedAt = &finishedAt
	}
	return nil
}

type fakeFeedFetcher struct {
	result *FeedResult
	err    error
}

func (f *fakeFeedFetcher) Fetch(_ context.Context, studentID string) (*FeedResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &FeedResult{StudentID: studentID, GeneratedAt: time.Now().UTC()}, nil
}

type fakeExportStorage struct {
	dir   string
	saved map[string][]byte
}

func newFakeExportStorage(t *testing.T) *fakeExportStorage {
	t.Helper()
	return &fakeExportStorage{dir: t.TempDir(), saved: map[string][]byte{}}
}

func (f *fakeExportStorage) Save(filename string, data []byte) (string, error) {
	full := filepath.Join(f.dir, filepath.FromSlash(filename))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", err
	}
	f.saved[filename] = data
	return full, nil
}

func (f *fakeExportStorage) Open(filename string) (*os.File, error) {
	return os.Open(filepath.Join(f.dir, filepath.FromSlash(filename)))
}

func (f *fakeExportStorage) CleanupOlderThan(time.Duration) ([]string, error) {
	return nil, nil
}

type fakeExportSigner struct{}

func (fakeExportSigner) Generate(resourceID, relPath string) (string, time.Time, error) {
	return resourceID + "|" + relPath, time.Now().Add(time.Hour), nil
}

func (fakeExportSigner) Parse(token string, _ bool) (string, string, time.Time, error) {
	parts := strings.SplitN(token, "|", 2)
	if len(parts) != 2 {
		return "", "", time.Time{}, errors.New("malformed token")
	}
	return parts[0], parts[1], time.Now().Add(time.Hour), nil
}

type fakeExportQueue struct {
	mu      sync.Mutex
	entries []jobs.Job
	err     error
}

func (f *fakeExportQueue) Enqueue(job jobs.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, job)
	return nil
}

type exportFixture struct {
	service *ExportService
	repo    *fakeExportRepo
	feed    *fakeFeedFetcher
	storage *fakeExportStorage
	queue   *fakeExportQueue
	notifs  *fakeNotifier
}

func newExportFixture(t *testing.T) *exportFixture {
	t.Helper()
	fx := &exportFixture{
		repo:    newFakeExportRepo(),
		feed:    &fakeFeedFetcher{},
		storage: newFakeExportStorage(t),
		queue:   &fakeExportQueue{},
		notifs:  &fakeNotifier{},
	}
	fx.service = NewExportService(ExportServiceParams{
		Repo:     fx.repo,
		Feed:     fx.feed,
		Storage:  fx.storage,
		Signer:   fakeExportSigner{},
		CSV:      export.NewCSVExporter(),
		PDF:      export.NewPDFExporter(),
		Notifier: fx.notifs,
	})
	fx.service.AttachQueue(fx.queue)
	return fx
}

func TestExportServiceEnqueueValidatesRequest(t *testing.T) {
	fx := newExportFixture(t)

	_, err := fx.service.Enqueue(context.Background(), "admin-1", dto.ExportRequest{Format: models.ExportFormatCSV})
	assert.Error(t, err)

	_, err = fx.service.Enqueue(context.Background(), "admin-1", dto.ExportRequest{StudentID: "stu-1", Format: "xlsx"})
	assert.Error(t, err)
	assert.Empty(t, fx.queue.entries)
}

func TestExportServiceEnqueuePersistsAndQueues(t *testing.T) {
	fx := newExportFixture(t)

	resp, err := fx.service.Enqueue(context.Background(), "admin-1", dto.ExportRequest{StudentID: "stu-1", Format: models.ExportFormatCSV})
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, resp.Status)
	require.Len(t, fx.queue.entries, 1)
	assert.Equal(t, resp.ID, fx.queue.entries[0].ID)

	stored, err := fx.repo.FindByID(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "stu-1", stored.Params.StudentID)
	assert.Equal(t, "admin-1", stored.CreatedBy)
}

func TestExportServiceEnqueueMarksFailedWhenQueueRejects(t *testing.T) {
	fx := newExportFixture(t)
	fx.queue.err = errors.New("queue full")

	_, err := fx.service.Enqueue(context.Background(), "admin-1", dto.ExportRequest{StudentID: "stu-1", Format: models.ExportFormatCSV})
	require.Error(t, err)

	var failed *models.ExportJob
	for _, job := range fx.repo.jobs {
		failed = job
	}
	require.NotNil(t, failed)
	assert.Equal(t, models.ExportStatusFailed, failed.Status)
}

func TestExportServiceProcessRendersCSVAndFinishes(t *testing.T) {
	fx := newExportFixture(t)
	due := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	fx.feed.result = &FeedResult{
		StudentID: "stu-1",
		Views: []dto.AssignmentView{
			{ID: "a1", CourseName: "Algebra I", Title: "Worksheet 3", DueDate: &due, Points: 100, Type: models.AssignmentTypeText, Submitted: true},
		},
		GeneratedAt: time.Now().UTC(),
	}

	resp, err := fx.service.Enqueue(context.Background(), "admin-1", dto.ExportRequest{StudentID: "stu-1", Format: models.ExportFormatCSV})
	require.NoError(t, err)

	require.NoError(t, fx.service.Process(context.Background(), jobs.Job{ID: resp.ID, Type: "feed_export"}))

	status, err := fx.service.Status(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, status.Status)
	assert.Equal(t, 100, status.Progress)
	require.NotNil(t, status.ResultURL)
	assert.Contains(t, *status.ResultURL, "token=")

	content := string(fx.storage.saved["exports/"+resp.ID+".csv"])
	assert.Contains(t, content, "Algebra I")
	assert.Contains(t, content, "Worksheet 3")
	assert.Contains(t, content, "2026-09-01")
}

func TestExportServiceProcessMarksFailedOnFeedError(t *testing.T) {
	fx := newExportFixture(t)
	fx.feed.err = errors.New("feed store down")

	resp, err := fx.service.Enqueue(context.Background(), "admin-1", dto.ExportRequest{StudentID: "stu-1", Format: models.ExportFormatPDF})
	require.NoError(t, err)

	require.Error(t, fx.service.Process(context.Background(), jobs.Job{ID: resp.ID}))

	status, err := fx.service.Status(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFailed, status.Status)
	require.NotNil(t, status.Error)
	assert.NotEmpty(t, *status.Error)
	assert.Equal(t, 1, fx.notifs.count())
}

func TestExportServiceProcessSkipsSettledJobs(t *testing.T) {
	fx := newExportFixture(t)

	resp, err := fx.service.Enqueue(context.Background(), "admin-1", dto.ExportRequest{StudentID: "stu-1", Format: models.ExportFormatCSV})
	require.NoError(t, err)
	require.NoError(t, fx.repo.MarkFinished(context.Background(), resp.ID, "/done", time.Now().UTC()))

	fx.feed.err = errors.New("should not be called")
	assert.NoError(t, fx.service.Process(context.Background(), jobs.Job{ID: resp.ID}))
}

func TestExportServiceDownloadServesFinishedJob(t *testing.T) {
	fx := newExportFixture(t)

	resp, err := fx.service.Enqueue(context.Background(), "admin-1", dto.ExportRequest{StudentID: "stu-1", Format: models.ExportFormatCSV})
	require.NoError(t, err)
	require.NoError(t, fx.service.Process(context.Background(), jobs.Job{ID: resp.ID}))

	file, relPath, err := fx.service.Download(context.Background(), resp.ID+"|exports/"+resp.ID+".csv")
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, "exports/"+resp.ID+".csv", relPath)
}

func TestExportServiceDownloadRejectsBadToken(t *testing.T) {
	fx := newExportFixture(t)

	_, _, err := fx.service.Download(context.Background(), "garbage")
	assert.Error(t, err)
}

func TestExportServiceDownloadRejectsUnfinishedJob(t *testing.T) {
	fx := newExportFixture(t)

	resp, err := fx.service.Enqueue(context.Background(), "admin-1", dto.ExportRequest{StudentID: "stu-1", Format: models.ExportFormatCSV})
	require.NoError(t, err)

	_, _, err = fx.service.Download(context.Background(), resp.ID+"|exports/"+resp.ID+".csv")
	assert.Error(t, err)
}
