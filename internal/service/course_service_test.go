package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classbridge/classbridge-api/internal/models"
	appErrors "github.com/classbridge/classbridge-api/pkg/errors"
)

type fakeCourseRepo struct {
	mu        sync.Mutex
	courses   map[string]*models.Course
	findCalls int
}

func newFakeCourseRepo() *fakeCourseRepo {
	return &fakeCourseRepo{courses: map[string]*models.Course{}}
}

func (f *fakeCourseRepo) FindByID(_ context.Context, id string) (*models.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	course, ok := f.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *course
	return &copied, nil
}

func (f *fakeCourseRepo) List(_ context.Context, _ models.CourseFilter) ([]models.CourseDetail, int, error) {
	return nil, 0, nil
}

func (f *fakeCourseRepo) Create(_ context.Context, course *models.Course) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if course.ID == "" {
		course.ID = "course-1"
	}
	copied := *course
	f.courses[course.ID] = &copied
	return nil
}

func (f *fakeCourseRepo) Update(_ context.Context, course *models.Course) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *course
	f.courses[course.ID] = &copied
	return nil
}

func (f *fakeCourseRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if course, ok := f.courses[id]; ok {
		course.Active = false
	}
	return nil
}

type fakeTeacherReader struct {
	users map[string]*models.User
}

func (f *fakeTeacherReader) FindByID(_ context.Context, id string) (*models.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

type memoryCacheRepo struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = raw
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

func newCourseServiceForTest(t *testing.T) (*CourseService, *fakeCourseRepo, *memoryCacheRepo) {
	t.Helper()
	repo := newFakeCourseRepo()
	teachers := &fakeTeacherReader{users: map[string]*models.User{
		"teacher-1": {ID: "teacher-1", Role: models.RoleTeacher, Active: true},
		"student-1": {ID: "student-1", Role: models.RoleStudent, Active: true},
	}}
	cacheRepo := newMemoryCacheRepo()
	cacheSvc := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	return NewCourseService(repo, teachers, cacheSvc, nil, nil), repo, cacheRepo
}

func TestCourseServiceGetCachesReads(t *testing.T) {
	svc, repo, _ := newCourseServiceForTest(t)
	require.NoError(t, repo.Create(context.Background(), &models.Course{ID: "c1", Code: "BIO-101", Title: "Biology", TeacherID: "teacher-1", Active: true}))

	first, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Biology", first.Title)

	second, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, first.Title, second.Title)
	assert.Equal(t, 1, repo.findCalls)
}

func TestCourseServiceUpdateInvalidatesCache(t *testing.T) {
	svc, repo, cacheRepo := newCourseServiceForTest(t)
	require.NoError(t, repo.Create(context.Background(), &models.Course{ID: "c1", Code: "BIO-101", Title: "Biology", TeacherID: "teacher-1", Active: true}))

	_, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.NotEmpty(t, cacheRepo.entries)

	newTitle := "Advanced Biology"
	updated, err := svc.Update(context.Background(), "c1", UpdateCourseRequest{Title: &newTitle})
	require.NoError(t, err)
	assert.Equal(t, newTitle, updated.Title)
	assert.Empty(t, cacheRepo.entries)

	fresh, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, newTitle, fresh.Title)
}

func TestCourseServiceCreateRejectsNonTeacherOwner(t *testing.T) {
	svc, _, _ := newCourseServiceForTest(t)

	_, err := svc.Create(context.Background(), CreateCourseRequest{Code: "BIO-101", Title: "Biology", TeacherID: "student-1"})
	assert.Error(t, err)

	course, err := svc.Create(context.Background(), CreateCourseRequest{Code: "BIO-101", Title: "Biology", TeacherID: "teacher-1"})
	require.NoError(t, err)
	assert.True(t, course.Active)
}

func TestCourseServiceGetUnknownCourse(t *testing.T) {
	svc, _, _ := newCourseServiceForTest(t)

	_, err := svc.Get(context.Background(), "missing")
	assert.Error(t, err)
}

func TestCourseServiceWorksWithoutCache(t *testing.T) {
	repo := newFakeCourseRepo()
	require.NoError(t, repo.Create(context.Background(), &models.Course{ID: "c1", Code: "BIO-101", Title: "Biology", TeacherID: "teacher-1", Active: true}))
	svc := NewCourseService(repo, &fakeTeacherReader{users: map[string]*models.User{}}, nil, nil, nil)

	course, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Biology", course.Title)
}
