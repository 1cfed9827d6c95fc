// Command seed populates a development database with demo accounts,
// courses, enrollments, assignments and submissions.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/classbridge/classbridge-api/internal/models"
	"github.com/classbridge/classbridge-api/pkg/config"
	"github.com/classbridge/classbridge-api/pkg/database"
)

func main() {
	var (
		password string
		timeout  time.Duration
	)
	flag.StringVar(&password, "password", "changeme123", "Password assigned to every seeded account")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Overall seeding timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	teacherID := seedUser(ctx, db, "amelia.watts@classbridge.local", "Amelia Watts", models.RoleTeacher, string(hash))
	adminID := seedUser(ctx, db, "admin@classbridge.local", "Site Admin", models.RoleAdmin, string(hash))
	studentID := seedUser(ctx, db, "jordan.reyes@classbridge.local", "Jordan Reyes", models.RoleStudent, string(hash))

	bioID := seedCourse(ctx, db, "BIO-101", "Introduction to Biology", teacherID)
	algID := seedCourse(ctx, db, "MATH-201", "Linear Algebra", teacherID)

	seedEnrollment(ctx, db, studentID, bioID)
	seedEnrollment(ctx, db, studentID, algID)

	labID := seedAssignment(ctx, db, bioID, "Cell Structure Lab", "Document the organelles observed under the microscope.", teacherID, 50)
	seedAssignment(ctx, db, bioID, "Photosynthesis Essay", "Two pages on light-dependent reactions.", teacherID, 100)
	seedAssignment(ctx, db, algID, "Matrix Worksheet", "Problems 1 through 24.", teacherID, 40)

	seedSubmission(ctx, db, labID, studentID, "Observed mitochondria, nucleus and ribosomes at 400x.")

	log.Printf("seeded demo data (admin=%s teacher=%s student=%s)", adminID, teacherID, studentID)
}

func seedUser(ctx context.Context, db *sqlx.DB, email, fullName string, role models.UserRole, hash string) string {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, email, full_name, role, password_hash, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET full_name = EXCLUDED.full_name`,
		id, email, fullName, role, hash)
	if err != nil {
		log.Fatalf("failed to seed user %s: %v", email, err)
	}
	var existing string
	if err := db.GetContext(ctx, &existing, `SELECT id FROM users WHERE email = $1`, email); err != nil {
		log.Fatalf("failed to read back user %s: %v", email, err)
	}
	return existing
}

func seedCourse(ctx context.Context, db *sqlx.DB, code, title, teacherID string) string {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx, `
		INSERT INTO courses (id, code, title, description, teacher_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, '', $4, TRUE, NOW(), NOW())
		ON CONFLICT (code) DO UPDATE SET title = EXCLUDED.title`,
		id, code, title, teacherID)
	if err != nil {
		log.Fatalf("failed to seed course %s: %v", code, err)
	}
	var existing string
	if err := db.GetContext(ctx, &existing, `SELECT id FROM courses WHERE code = $1`, code); err != nil {
		log.Fatalf("failed to read back course %s: %v", code, err)
	}
	return existing
}

func seedEnrollment(ctx context.Context, db *sqlx.DB, studentID, courseID string) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO enrollments (id, student_id, course_id, status, joined_at)
		SELECT $1, $2, $3, $4, NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM enrollments WHERE student_id = $2 AND course_id = $3 AND status = $4
		)`,
		uuid.NewString(), studentID, courseID, models.EnrollmentStatusActive)
	if err != nil {
		log.Fatalf("failed to seed enrollment: %v", err)
	}
}

func seedAssignment(ctx context.Context, db *sqlx.DB, courseID, title, description, createdBy string, points int) string {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx, `
		INSERT INTO assignments (id, course_id, title, description, points, type, created_by, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, NOW(), NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM assignments WHERE course_id = $2 AND title = $3
		)`,
		id, courseID, title, description, points, models.AssignmentTypeText, createdBy)
	if err != nil {
		log.Fatalf("failed to seed assignment %s: %v", title, err)
	}
	var existing string
	if err := db.GetContext(ctx, &existing, `SELECT id FROM assignments WHERE course_id = $1 AND title = $2`, courseID, title); err != nil {
		log.Fatalf("failed to read back assignment %s: %v", title, err)
	}
	return existing
}

func seedSubmission(ctx context.Context, db *sqlx.DB, assignmentID, studentID, content string) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO submissions (id, assignment_id, student_id, content, submitted_at)
		SELECT $1, $2, $3, $4, NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM submissions WHERE assignment_id = $2 AND student_id = $3
		)`,
		uuid.NewString(), assignmentID, studentID, content)
	if err != nil {
		log.Fatalf("failed to seed submission: %v", err)
	}
}
