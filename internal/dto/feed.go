package dto

import (
	"time"

	"github.com/classbridge/classbridge-api/internal/models"
)

// AssignmentView is the flattened feed entry joining an assignment with
// its course title and the student's submission, if any.
type AssignmentView struct {
	ID          string                `json:"id"`
	CourseID    string                `json:"courseId"`
	CourseName  string                `json:"courseName"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	DueDate     *time.Time            `json:"dueDate,omitempty"`
	Points      int                   `json:"points"`
	Type        models.AssignmentType `json:"type"`
	TextContent string                `json:"textContent"`
	Submitted   bool                  `json:"submitted"`
	Submission  *models.Submission    `json:"submission,omitempty"`
}

// FeedResponse wraps the assignment feed payload.
type FeedResponse struct {
	StudentID   string           `json:"studentId"`
	Assignments []AssignmentView `json:"assignments"`
	GeneratedAt time.Time        `json:"generatedAt"`
}
