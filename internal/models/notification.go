package models

import "time"

// NotificationSeverity ranks operational notifications.
type NotificationSeverity string

const (
	NotificationSeverityInfo    NotificationSeverity = "INFO"
	NotificationSeverityWarning NotificationSeverity = "WARNING"
	NotificationSeverityError   NotificationSeverity = "ERROR"
)

// Notification represents a persisted operational notification.
// Degraded feed fetches and background job failures land here so
// operators can review them later.
type Notification struct {
	ID        string               `db:"id" json:"id"`
	Severity  NotificationSeverity `db:"severity" json:"severity"`
	Source    string               `db:"source" json:"source"`
	Message   string               `db:"message" json:"message"`
	StudentID *string              `db:"student_id" json:"student_id,omitempty"`
	Read      bool                 `db:"read" json:"read"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
}

// NotificationFilter provides filters for listing notifications.
type NotificationFilter struct {
	Severity NotificationSeverity
	Source   string
	Unread   *bool
	Page     int
	PageSize int
}
