package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classbridge/classbridge-api/internal/models"
)

type fakeEnrollmentReader struct {
	mu          sync.Mutex
	enrollments []models.Enrollment
	err         error
	calls       int
}

func (f *fakeEnrollmentReader) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.enrollments, nil
}

type fakeCourseReader struct {
	mu      sync.Mutex
	courses map[string]*models.Course
	errs    map[string]error
	calls   int
}

func (f *fakeCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	course, ok := f.courses[id]
	if !ok {
		return nil, errors.New("course not found")
	}
	return course, nil
}

type fakeAssignmentReader struct {
	mu          sync.Mutex
	assignments map[string][]models.Assignment
	errs        map[string]error
	calls       int
}

func (f *fakeAssignmentReader) ListByCourse(ctx context.Context, courseID string) ([]models.Assignment, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err, ok := f.errs[courseID]; ok {
		return nil, err
	}
	return f.assignments[courseID], nil
}

type fakeSubmissionReader struct {
	mu          sync.Mutex
	submissions []models.Submission
	err         error
	calls       int
}

func (f *fakeSubmissionReader) ListByStudent(ctx context.Context, studentID string) ([]models.Submission, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.submissions, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) NotifyError(ctx context.Context, studentID, source, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type feedFixture struct {
	enrollments *fakeEnrollmentReader
	courses     *fakeCourseReader
	assignments *fakeAssignmentReader
	submissions *fakeSubmissionReader
	notifier    *fakeNotifier
	svc         *FeedService
}

func newFeedFixture() *feedFixture {
	f := &feedFixture{
		enrollments: &fakeEnrollmentReader{},
		courses:     &fakeCourseReader{courses: map[string]*models.Course{}, errs: map[string]error{}},
		assignments: &fakeAssignmentReader{assignments: map[string][]models.Assignment{}, errs: map[string]error{}},
		submissions: &fakeSubmissionReader{},
		notifier:    &fakeNotifier{},
	}
	f.svc = NewFeedService(FeedServiceParams{
		Enrollments: f.enrollments,
		Courses:     f.courses,
		Assignments: f.assignments,
		Submissions: f.submissions,
		Notifier:    f.notifier,
	})
	return f
}

func enrollment(studentID, courseID string) models.Enrollment {
	return models.Enrollment{
		ID:        "enr-" + courseID,
		StudentID: studentID,
		CourseID:  courseID,
		JoinedAt:  time.Now(),
		Status:    models.EnrollmentStatusActive,
	}
}

func TestFeedFetchEmptyStudentIDSkipsStores(t *testing.T) {
	f := newFeedFixture()

	views, err := f.svc.FetchStudentAssignments(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, views)
	assert.Zero(t, f.enrollments.calls)
	assert.Zero(t, f.courses.calls)
	assert.Zero(t, f.assignments.calls)
	assert.Zero(t, f.submissions.calls)
}

func TestFeedFetchNoEnrollments(t *testing.T) {
	f := newFeedFixture()

	views, err := f.svc.FetchStudentAssignments(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Empty(t, views)
	assert.Zero(t, f.submissions.calls)
}

func TestFeedFetchJoinsSubmissions(t *testing.T) {
	f := newFeedFixture()
	f.enrollments.enrollments = []models.Enrollment{
		enrollment("stu-1", "course-a"),
		enrollment("stu-1", "course-b"),
	}
	f.courses.courses["course-a"] = &models.Course{ID: "course-a", Title: "Algebra"}
	f.courses.courses["course-b"] = &models.Course{ID: "course-b", Title: "Biology"}
	f.assignments.assignments["course-a"] = []models.Assignment{{ID: "a1", CourseID: "course-a", Title: "Sets"}}
	f.assignments.assignments["course-b"] = []models.Assignment{{ID: "b1", CourseID: "course-b", Title: "Cells"}}
	f.submissions.submissions = []models.Submission{{ID: "sub-1", AssignmentID: "b1", StudentID: "stu-1"}}

	result, err := f.svc.Fetch(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, result.Views, 2)
	assert.False(t, result.Degraded)

	assert.Equal(t, "a1", result.Views[0].ID)
	assert.Equal(t, "Algebra", result.Views[0].CourseName)
	assert.False(t, result.Views[0].Submitted)
	assert.Nil(t, result.Views[0].Submission)

	assert.Equal(t, "b1", result.Views[1].ID)
	assert.Equal(t, "Biology", result.Views[1].CourseName)
	assert.True(t, result.Views[1].Submitted)
	require.NotNil(t, result.Views[1].Submission)
	assert.Equal(t, "sub-1", result.Views[1].Submission.ID)

	// one submission fetch for the whole feed
	assert.Equal(t, 1, f.submissions.calls)
}

func TestFeedFetchCourseLookupFailureFallsBack(t *testing.T) {
	f := newFeedFixture()
	f.enrollments.enrollments = []models.Enrollment{
		enrollment("stu-1", "course-a"),
		enrollment("stu-1", "course-b"),
	}
	f.courses.errs["course-a"] = errors.New("store offline")
	f.courses.courses["course-b"] = &models.Course{ID: "course-b", Title: "Biology"}
	f.assignments.assignments["course-a"] = []models.Assignment{{ID: "a1", CourseID: "course-a", Title: "Sets"}}
	f.assignments.assignments["course-b"] = []models.Assignment{{ID: "b1", CourseID: "course-b", Title: "Cells"}}

	result, err := f.svc.Fetch(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, result.Views, 2)
	assert.Equal(t, UnknownCourseTitle, result.Views[0].CourseName)
	assert.Equal(t, "Biology", result.Views[1].CourseName)
	assert.False(t, result.Degraded)
}

func TestFeedFetchBlankCourseTitleFallsBack(t *testing.T) {
	f := newFeedFixture()
	f.enrollments.enrollments = []models.Enrollment{enrollment("stu-1", "course-a")}
	f.courses.courses["course-a"] = &models.Course{ID: "course-a", Title: ""}
	f.assignments.assignments["course-a"] = []models.Assignment{{ID: "a1", CourseID: "course-a"}}

	views, err := f.svc.FetchStudentAssignments(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, UnknownCourseTitle, views[0].CourseName)
}

func TestFeedFetchSkipsFailedCourseOnly(t *testing.T) {
	f := newFeedFixture()
	f.enrollments.enrollments = []models.Enrollment{
		enrollment("stu-1", "course-a"),
		enrollment("stu-1", "course-b"),
		enrollment("stu-1", "course-c"),
	}
	f.courses.courses["course-a"] = &models.Course{ID: "course-a", Title: "Algebra"}
	f.courses.courses["course-b"] = &models.Course{ID: "course-b", Title: "Biology"}
	f.courses.courses["course-c"] = &models.Course{ID: "course-c", Title: "Chemistry"}
	f.assignments.assignments["course-a"] = []models.Assignment{{ID: "a1", CourseID: "course-a"}}
	f.assignments.errs["course-b"] = errors.New("store offline")
	f.assignments.assignments["course-c"] = []models.Assignment{{ID: "c1", CourseID: "course-c"}}

	result, err := f.svc.Fetch(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, result.Views, 2)
	assert.Equal(t, "a1", result.Views[0].ID)
	assert.Equal(t, "c1", result.Views[1].ID)
	assert.True(t, result.Degraded)
	assert.Equal(t, 1, f.notifier.count())
}

func TestFeedFetchEnrollmentFailureReturnsEmpty(t *testing.T) {
	f := newFeedFixture()
	f.enrollments.err = errors.New("store offline")

	result, err := f.svc.Fetch(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Empty(t, result.Views)
	assert.True(t, result.Degraded)
	assert.Equal(t, 1, f.notifier.count())
	assert.Zero(t, f.courses.calls)
}

func TestFeedFetchSubmissionFailureReturnsEmpty(t *testing.T) {
	f := newFeedFixture()
	f.enrollments.enrollments = []models.Enrollment{enrollment("stu-1", "course-a")}
	f.submissions.err = errors.New("store offline")

	result, err := f.svc.Fetch(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Empty(t, result.Views)
	assert.True(t, result.Degraded)
	assert.Equal(t, 1, f.notifier.count())
}

func TestFeedFetchDuplicateEnrollmentsCollapse(t *testing.T) {
	f := newFeedFixture()
	f.enrollments.enrollments = []models.Enrollment{
		enrollment("stu-1", "course-a"),
		enrollment("stu-1", "course-a"),
	}
	f.courses.courses["course-a"] = &models.Course{ID: "course-a", Title: "Algebra"}
	f.assignments.assignments["course-a"] = []models.Assignment{{ID: "a1", CourseID: "course-a"}}

	views, err := f.svc.FetchStudentAssignments(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Len(t, views, 1)
	assert.Equal(t, 1, f.assignments.calls)
}

func TestFeedFetchDefaultsTypeAndTextContent(t *testing.T) {
	f := newFeedFixture()
	f.enrollments.enrollments = []models.Enrollment{enrollment("stu-1", "course-a")}
	f.courses.courses["course-a"] = &models.Course{ID: "course-a", Title: "Algebra"}
	generated := "generated prompt"
	f.assignments.assignments["course-a"] = []models.Assignment{
		{ID: "a1", CourseID: "course-a", Description: "solve the exercises"},
		{ID: "a2", CourseID: "course-a", Type: models.AssignmentTypeQuiz, TextContent: &generated},
	}

	views, err := f.svc.FetchStudentAssignments(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, models.AssignmentTypeText, views[0].Type)
	assert.Equal(t, "solve the exercises", views[0].TextContent)
	assert.Equal(t, models.AssignmentTypeQuiz, views[1].Type)
	assert.Equal(t, "generated prompt", views[1].TextContent)
}

func TestFeedFetchFirstSubmissionWins(t *testing.T) {
	f := newFeedFixture()
	f.enrollments.enrollments = []models.Enrollment{enrollment("stu-1", "course-a")}
	f.courses.courses["course-a"] = &models.Course{ID: "course-a", Title: "Algebra"}
	f.assignments.assignments["course-a"] = []models.Assignment{{ID: "a1", CourseID: "course-a"}}
	f.submissions.submissions = []models.Submission{
		{ID: "sub-1", AssignmentID: "a1", StudentID: "stu-1"},
		{ID: "sub-2", AssignmentID: "a1", StudentID: "stu-1"},
	}

	views, err := f.svc.FetchStudentAssignments(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].Submission)
	assert.Equal(t, "sub-1", views[0].Submission.ID)
}

func TestFeedFetchIdempotent(t *testing.T) {
	f := newFeedFixture()
	f.enrollments.enrollments = []models.Enrollment{
		enrollment("stu-1", "course-a"),
		enrollment("stu-1", "course-b"),
	}
	f.courses.courses["course-a"] = &models.Course{ID: "course-a", Title: "Algebra"}
	f.courses.courses["course-b"] = &models.Course{ID: "course-b", Title: "Biology"}
	f.assignments.assignments["course-a"] = []models.Assignment{{ID: "a1", CourseID: "course-a"}}
	f.assignments.assignments["course-b"] = []models.Assignment{{ID: "b1", CourseID: "course-b"}}
	f.submissions.submissions = []models.Submission{{ID: "sub-1", AssignmentID: "a1", StudentID: "stu-1"}}

	first, err := f.svc.FetchStudentAssignments(context.Background(), "stu-1")
	require.NoError(t, err)
	second, err := f.svc.FetchStudentAssignments(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFeedFetchPreservesEnrollmentOrder(t *testing.T) {
	f := newFeedFixture()
	f.enrollments.enrollments = []models.Enrollment{
		enrollment("stu-1", "course-c"),
		enrollment("stu-1", "course-a"),
		enrollment("stu-1", "course-b"),
	}
	for _, id := range []string{"course-a", "course-b", "course-c"} {
		f.courses.courses[id] = &models.Course{ID: id, Title: id}
		f.assignments.assignments[id] = []models.Assignment{{ID: "asg-" + id, CourseID: id}}
	}

	views, err := f.svc.FetchStudentAssignments(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, "asg-course-c", views[0].ID)
	assert.Equal(t, "asg-course-a", views[1].ID)
	assert.Equal(t, "asg-course-b", views[2].ID)
}
