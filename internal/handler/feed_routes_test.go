package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	internalmiddleware "github.com/classbridge/classbridge-api/internal/middleware"
	"github.com/classbridge/classbridge-api/internal/models"
	"github.com/classbridge/classbridge-api/internal/service"
)

type feedEnrollmentsMock struct {
	enrollments map[string][]models.Enrollment
	err         error
}

func (m *feedEnrollmentsMock) ListByStudent(_ context.Context, studentID string) ([]models.Enrollment, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.enrollments[studentID], nil
}

type feedCoursesMock struct {
	courses map[string]*models.Course
}

func (m *feedCoursesMock) FindByID(_ context.Context, id string) (*models.Course, error) {
	course, ok := m.courses[id]
	if !ok {
		return nil, errors.New("course store down")
	}
	return course, nil
}

type feedAssignmentsMock struct {
	assignments map[string][]models.Assignment
	failCourse  string
}

func (m *feedAssignmentsMock) ListByCourse(_ context.Context, courseID string) ([]models.Assignment, error) {
	if courseID == m.failCourse {
		return nil, errors.New("assignment store down")
	}
	return m.assignments[courseID], nil
}

type feedSubmissionsMock struct {
	submissions map[string][]models.Submission
}

func (m *feedSubmissionsMock) ListByStudent(_ context.Context, studentID string) ([]models.Submission, error) {
	return m.submissions[studentID], nil
}

type feedNotifierMock struct{}

func (feedNotifierMock) NotifyError(context.Context, string, string, string) {}

func buildFeedRouter(assignmentFailCourse string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if role := c.GetHeader("X-Test-Role"); role != "" {
			userID := c.GetHeader("X-Test-User")
			if userID == "" {
				userID = "test-user"
			}
			c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{
				UserID: userID,
				Role:   models.UserRole(role),
			})
		}
		c.Next()
	})

	feedSvc := service.NewFeedService(service.FeedServiceParams{
		Enrollments: &feedEnrollmentsMock{enrollments: map[string][]models.Enrollment{
			"stu-1": {
				{ID: "e1", StudentID: "stu-1", CourseID: "c1", Status: models.EnrollmentStatusActive},
			},
		}},
		Courses: &feedCoursesMock{courses: map[string]*models.Course{
			"c1": {ID: "c1", Title: "Biology", Active: true},
		}},
		Assignments: &feedAssignmentsMock{
			assignments: map[string][]models.Assignment{
				"c1": {{ID: "a1", CourseID: "c1", Title: "Lab Report", Points: 50}},
			},
			failCourse: assignmentFailCourse,
		},
		Submissions: &feedSubmissionsMock{submissions: map[string][]models.Submission{}},
		Notifier:    feedNotifierMock{},
	})
	feedHandler := NewFeedHandler(feedSvc)

	secured := router.Group("")
	secured.GET("/me/assignments",
		internalmiddleware.RBAC(string(models.RoleStudent)),
		feedHandler.MyFeed)
	secured.GET("/students/:id/assignments",
		internalmiddleware.RBAC(string(models.RoleAdmin), string(models.RoleSuperAdmin), string(models.RoleTeacher), internalmiddleware.SelfRole),
		feedHandler.StudentFeed)

	return router
}

func performFeedRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestFeedRoutesIntegration(t *testing.T) {
	router := buildFeedRouter("")

	t.Run("own feed success", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/me/assignments", nil)
		req.Header.Set("X-Test-Role", string(models.RoleStudent))
		req.Header.Set("X-Test-User", "stu-1")
		resp := performFeedRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"courseName":"Biology"`)
		require.Contains(t, resp.Body.String(), `"degraded":false`)
	})

	t.Run("unauthorized without claims", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/me/assignments", nil)
		resp := performFeedRequest(router, req)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("admin reads any student feed", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/students/stu-1/assignments", nil)
		req.Header.Set("X-Test-Role", string(models.RoleAdmin))
		resp := performFeedRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"Lab Report"`)
	})

	t.Run("student reads own feed by id", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/students/stu-1/assignments", nil)
		req.Header.Set("X-Test-Role", string(models.RoleStudent))
		req.Header.Set("X-Test-User", "stu-1")
		resp := performFeedRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("student forbidden from other feeds", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/students/stu-2/assignments", nil)
		req.Header.Set("X-Test-Role", string(models.RoleStudent))
		req.Header.Set("X-Test-User", "stu-1")
		resp := performFeedRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("unknown student yields empty feed", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/students/stu-9/assignments", nil)
		req.Header.Set("X-Test-Role", string(models.RoleAdmin))
		resp := performFeedRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"assignments":[]`)
	})
}

func TestFeedRoutesDegradedMeta(t *testing.T) {
	router := buildFeedRouter("c1")

	req, _ := http.NewRequest(http.MethodGet, "/students/stu-1/assignments", nil)
	req.Header.Set("X-Test-Role", string(models.RoleAdmin))
	resp := performFeedRequest(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"degraded":true`)
}
