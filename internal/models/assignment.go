package models

import "time"

// AssignmentType categorizes how an assignment is completed.
type AssignmentType string

const (
	AssignmentTypeText AssignmentType = "text"
	AssignmentTypeFile AssignmentType = "file"
	AssignmentTypeQuiz AssignmentType = "quiz"
)

// Assignment represents a unit of coursework belonging to a course.
type Assignment struct {
	ID          string         `db:"id" json:"id"`
	CourseID    string         `db:"course_id" json:"course_id"`
	Title       string         `db:"title" json:"title"`
	Description string         `db:"description" json:"description"`
	DueDate     *time.Time     `db:"due_date" json:"due_date,omitempty"`
	Points      int            `db:"points" json:"points"`
	Type        AssignmentType `db:"type" json:"type"`
	TextContent *string        `db:"text_content" json:"text_content,omitempty"`
	FileName    *string        `db:"file_name" json:"file_name,omitempty"`
	CreatedBy   string         `db:"created_by" json:"created_by"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// AssignmentFilter provides filters for listing assignments.
type AssignmentFilter struct {
	CourseID  string
	DueBefore *time.Time
	DueAfter  *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
