package model

import (
	"time"

	"github.com/google/uuid"
)

// Enrollment admits a student to an exam. An exam with no enrollments is open
// to every student.
type Enrollment struct {
	ExamID    uuid.UUID `json:"exam_id"`
	StudentID string    `json:"student_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EnrollStudentsRequest is the payload for enrolling students into an exam.
type EnrollStudentsRequest struct {
	StudentIDs []string `json:"student_ids" binding:"required,min=1,max=1000,dive,required,max=64"`
}
