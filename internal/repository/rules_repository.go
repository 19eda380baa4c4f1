package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// GetRules retrieves the proctoring rules of an exam.
func (q *queries) GetRules(ctx context.Context, examID uuid.UUID) (*model.ExamRules, error) {
	r := &model.ExamRules{}
	err := q.db.QueryRow(ctx,
		`SELECT exam_id, camera_required, mic_required, tab_switch_tolerance,
		        violation_threshold_minor, violation_threshold_major, violation_threshold_severe, updated_at
		 FROM exam_rules WHERE exam_id = $1`, examID,
	).Scan(&r.ExamID, &r.CameraRequired, &r.MicRequired, &r.TabSwitchTolerance,
		&r.ViolationThresholdMinor, &r.ViolationThresholdMajor, &r.ViolationThresholdSevere, &r.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return r, nil
}

// UpsertRules creates or replaces the rules of an exam.
func (q *queries) UpsertRules(ctx context.Context, r *model.ExamRules) error {
	err := q.db.QueryRow(ctx,
		`INSERT INTO exam_rules (exam_id, camera_required, mic_required, tab_switch_tolerance,
		                         violation_threshold_minor, violation_threshold_major, violation_threshold_severe)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (exam_id) DO UPDATE
		 SET camera_required = EXCLUDED.camera_required,
		     mic_required = EXCLUDED.mic_required,
		     tab_switch_tolerance = EXCLUDED.tab_switch_tolerance,
		     violation_threshold_minor = EXCLUDED.violation_threshold_minor,
		     violation_threshold_major = EXCLUDED.violation_threshold_major,
		     violation_threshold_severe = EXCLUDED.violation_threshold_severe,
		     updated_at = NOW()
		 RETURNING updated_at`,
		r.ExamID, r.CameraRequired, r.MicRequired, r.TabSwitchTolerance,
		r.ViolationThresholdMinor, r.ViolationThresholdMajor, r.ViolationThresholdSevere,
	).Scan(&r.UpdatedAt)
	return mapError(err)
}
