package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/classbridge/classbridge-api/internal/dto"
	"github.com/classbridge/classbridge-api/internal/models"
)

// UnknownCourseTitle is substituted when a course record cannot be loaded.
const UnknownCourseTitle = "Unknown Course"

type feedEnrollmentReader interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
}

type feedCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type feedAssignmentReader interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Assignment, error)
}

type feedSubmissionReader interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Submission, error)
}

// Notifier receives degradation events from the feed pipeline.
type Notifier interface {
	NotifyError(ctx context.Context, studentID, source, message string)
}

// FeedResult carries the assembled feed plus degradation metadata.
// Callers that only need the views can flatten via FetchStudentAssignments.
type FeedResult struct {
	StudentID   string
	Views       []dto.AssignmentView
	Degraded    bool
	Reason      string
	GeneratedAt time.Time
}

// FeedServiceParams groups constructor dependencies.
type FeedServiceParams struct {
	Enrollments feedEnrollmentReader
	Courses     feedCourseReader
	Assignments feedAssignmentReader
	Submissions feedSubmissionReader
	Notifier    Notifier
	Metrics     *MetricsService
	Logger      *zap.Logger
}

// FeedService assembles the per-student assignment feed. Store failures
// degrade the result instead of surfacing errors: a broken course lookup
// falls back to a placeholder title, a broken assignment listing drops
// that course, and a broken enrollment or submission fetch yields an
// empty feed with a notification.
type FeedService struct {
	enrollments feedEnrollmentReader
	courses     feedCourseReader
	assignments feedAssignmentReader
	submissions feedSubmissionReader
	notifier    Notifier
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// NewFeedService constructs a FeedService.
func NewFeedService(params FeedServiceParams) *FeedService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedService{
		enrollments: params.Enrollments,
		courses:     params.Courses,
		assignments: params.Assignments,
		submissions: params.Submissions,
		notifier:    params.Notifier,
		metrics:     params.Metrics,
		logger:      logger,
		now:         time.Now,
	}
}

type courseFetch struct {
	courseID    string
	title       string
	assignments []models.Assignment
	skipped     bool
}

// Fetch assembles the feed for a student. It never returns an error for
// store failures; the result's Degraded flag and Reason describe what
// went wrong instead.
func (s *FeedService) Fetch(ctx context.Context, studentID string) (*FeedResult, error) {
	start := time.Now()
	result, err := s.fetch(ctx, studentID)
	if result != nil {
		s.metrics.ObserveFeedFetch(result.Degraded, time.Since(start))
	}
	return result, err
}

func (s *FeedService) fetch(ctx context.Context, studentID string) (*FeedResult, error) {
	result := &FeedResult{
		StudentID:   studentID,
		Views:       []dto.AssignmentView{},
		GeneratedAt: s.now().UTC(),
	}
	if studentID == "" {
		return result, nil
	}

	enrollments, err := s.enrollments.ListByStudent(ctx, studentID)
	if err != nil {
		return s.degrade(ctx, result, "failed to load enrollments", err), nil
	}
	if len(enrollments) == 0 {
		return result, nil
	}

	submissions, err := s.submissions.ListByStudent(ctx, studentID)
	if err != nil {
		return s.degrade(ctx, result, "failed to load submissions", err), nil
	}

	courseIDs := distinctCourseIDs(enrollments)
	fetches := s.fetchCourses(ctx, studentID, courseIDs)

	// First submission per assignment wins, matching store order.
	byAssignment := make(map[string]*models.Submission, len(submissions))
	for i := range submissions {
		sub := submissions[i]
		if _, ok := byAssignment[sub.AssignmentID]; !ok {
			byAssignment[sub.AssignmentID] = &sub
		}
	}

	for _, fetch := range fetches {
		if fetch.skipped {
			result.Degraded = true
			if result.Reason == "" {
				result.Reason = "failed to load assignments for course " + fetch.courseID
			}
			continue
		}
		for _, assignment := range fetch.assignments {
			result.Views = append(result.Views, buildView(assignment, fetch.title, byAssignment[assignment.ID]))
		}
	}
	return result, nil
}

// FetchStudentAssignments flattens the feed to the view list alone.
func (s *FeedService) FetchStudentAssignments(ctx context.Context, studentID string) ([]dto.AssignmentView, error) {
	result, err := s.Fetch(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return result.Views, nil
}

// fetchCourses loads title and assignments for each course concurrently,
// preserving the enrollment iteration order in the returned slice.
func (s *FeedService) fetchCourses(ctx context.Context, studentID string, courseIDs []string) []courseFetch {
	fetches := make([]courseFetch, len(courseIDs))
	var wg sync.WaitGroup
	for i, courseID := range courseIDs {
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			fetches[idx] = s.fetchCourse(ctx, studentID, id)
		}(i, courseID)
	}
	wg.Wait()
	return fetches
}

func (s *FeedService) fetchCourse(ctx context.Context, studentID, courseID string) courseFetch {
	fetch := courseFetch{courseID: courseID, title: UnknownCourseTitle}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		s.logger.Sugar().Warnw("course lookup failed, using placeholder title",
			"student_id", studentID, "course_id", courseID, "error", err)
	} else if course != nil && course.Title != "" {
		fetch.title = course.Title
	}

	assignments, err := s.assignments.ListByCourse(ctx, courseID)
	if err != nil {
		s.logger.Sugar().Warnw("assignment listing failed, skipping course",
			"student_id", studentID, "course_id", courseID, "error", err)
		if s.notifier != nil {
			s.notifier.NotifyError(ctx, studentID, "feed", "failed to load assignments for course "+courseID)
		}
		fetch.skipped = true
		return fetch
	}
	fetch.assignments = assignments
	return fetch
}

func (s *FeedService) degrade(ctx context.Context, result *FeedResult, reason string, err error) *FeedResult {
	s.logger.Sugar().Errorw("feed fetch degraded", "student_id", result.StudentID, "reason", reason, "error", err)
	if s.notifier != nil {
		s.notifier.NotifyError(ctx, result.StudentID, "feed", reason)
	}
	result.Degraded = true
	result.Reason = reason
	result.Views = []dto.AssignmentView{}
	return result
}

func distinctCourseIDs(enrollments []models.Enrollment) []string {
	seen := make(map[string]struct{}, len(enrollments))
	ids := make([]string, 0, len(enrollments))
	for _, enrollment := range enrollments {
		if enrollment.CourseID == "" {
			continue
		}
		if _, ok := seen[enrollment.CourseID]; ok {
			continue
		}
		seen[enrollment.CourseID] = struct{}{}
		ids = append(ids, enrollment.CourseID)
	}
	return ids
}

func buildView(assignment models.Assignment, courseTitle string, submission *models.Submission) dto.AssignmentView {
	viewType := assignment.Type
	if viewType == "" {
		viewType = models.AssignmentTypeText
	}
	textContent := assignment.Description
	if assignment.TextContent != nil && *assignment.TextContent != "" {
		textContent = *assignment.TextContent
	}
	return dto.AssignmentView{
		ID:          assignment.ID,
		CourseID:    assignment.CourseID,
		CourseName:  courseTitle,
		Title:       assignment.Title,
		Description: assignment.Description,
		DueDate:     assignment.DueDate,
		Points:      assignment.Points,
		Type:        viewType,
		TextContent: textContent,
		Submitted:   submission != nil,
		Submission:  submission,
	}
}
