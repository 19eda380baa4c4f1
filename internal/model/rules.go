package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamRules is the per-exam proctoring configuration.
type ExamRules struct {
	ExamID                   uuid.UUID `json:"exam_id"`
	CameraRequired           bool      `json:"camera_required"`
	MicRequired              bool      `json:"mic_required"`
	TabSwitchTolerance       int       `json:"tab_switch_tolerance"`
	ViolationThresholdMinor  int       `json:"violation_threshold_minor"`
	ViolationThresholdMajor  int       `json:"violation_threshold_major"`
	ViolationThresholdSevere int       `json:"violation_threshold_severe"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// TerminationReason returns the reason a session with the given cumulative
// counts must be ended, if any. Severe is checked before major; minor
// breaches never terminate. A non-positive threshold disables its check.
func (r *ExamRules) TerminationReason(c SeverityCounts) (string, bool) {
	if r.ViolationThresholdSevere > 0 && c.Severe >= r.ViolationThresholdSevere {
		return TerminationSevereViolation, true
	}
	if r.ViolationThresholdMajor > 0 && c.Major >= r.ViolationThresholdMajor {
		return TerminationMajorViolation, true
	}
	return "", false
}

// ConfigureRulesRequest is the payload for configuring exam rules. Omitted
// fields take the configured defaults.
type ConfigureRulesRequest struct {
	CameraRequired           *bool `json:"camera_required"`
	MicRequired              *bool `json:"mic_required"`
	TabSwitchTolerance       *int  `json:"tab_switch_tolerance" binding:"omitempty,min=0,max=1000"`
	ViolationThresholdMinor  *int  `json:"violation_threshold_minor" binding:"omitempty,min=1,max=1000"`
	ViolationThresholdMajor  *int  `json:"violation_threshold_major" binding:"omitempty,min=1,max=1000"`
	ViolationThresholdSevere *int  `json:"violation_threshold_severe" binding:"omitempty,min=1,max=1000"`
}

// Apply overlays the request onto base.
func (req *ConfigureRulesRequest) Apply(base ExamRules) ExamRules {
	out := base
	if req.CameraRequired != nil {
		out.CameraRequired = *req.CameraRequired
	}
	if req.MicRequired != nil {
		out.MicRequired = *req.MicRequired
	}
	if req.TabSwitchTolerance != nil {
		out.TabSwitchTolerance = *req.TabSwitchTolerance
	}
	if req.ViolationThresholdMinor != nil {
		out.ViolationThresholdMinor = *req.ViolationThresholdMinor
	}
	if req.ViolationThresholdMajor != nil {
		out.ViolationThresholdMajor = *req.ViolationThresholdMajor
	}
	if req.ViolationThresholdSevere != nil {
		out.ViolationThresholdSevere = *req.ViolationThresholdSevere
	}
	return out
}
