package models

import "time"

// Submission represents a student's answer to an assignment.
type Submission struct {
	ID           string     `db:"id" json:"id"`
	AssignmentID string     `db:"assignment_id" json:"assignment_id"`
	StudentID    string     `db:"student_id" json:"student_id"`
	Content      string     `db:"content" json:"content"`
	FileName     *string    `db:"file_name" json:"file_name,omitempty"`
	SubmittedAt  time.Time  `db:"submitted_at" json:"submitted_at"`
	Grade        *float64   `db:"grade" json:"grade,omitempty"`
	GradedAt     *time.Time `db:"graded_at" json:"graded_at,omitempty"`
	GradedBy     *string    `db:"graded_by" json:"graded_by,omitempty"`
}

// SubmissionFilter provides filters for listing submissions.
type SubmissionFilter struct {
	AssignmentID string
	StudentID    string
	Graded       *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
