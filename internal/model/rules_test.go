package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerminationReason(t *testing.T) {
	rules := ExamRules{ViolationThresholdMinor: 10, ViolationThresholdMajor: 5, ViolationThresholdSevere: 3}

	tests := []struct {
		name   string
		counts SeverityCounts
		reason string
		ok     bool
	}{
		{"below every threshold", SeverityCounts{Minor: 9, Major: 4, Severe: 2}, "", false},
		{"minor never terminates", SeverityCounts{Minor: 100}, "", false},
		{"major", SeverityCounts{Major: 5}, TerminationMajorViolation, true},
		{"severe", SeverityCounts{Severe: 3}, TerminationSevereViolation, true},
		{"severe wins over major", SeverityCounts{Major: 7, Severe: 3}, TerminationSevereViolation, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := rules.TerminationReason(tt.counts)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestConfigureRulesRequest_Apply(t *testing.T) {
	base := ExamRules{CameraRequired: true, TabSwitchTolerance: 3, ViolationThresholdMajor: 5}
	major := 2
	out := (&ConfigureRulesRequest{ViolationThresholdMajor: &major}).Apply(base)

	assert.True(t, out.CameraRequired)
	assert.Equal(t, 3, out.TabSwitchTolerance)
	assert.Equal(t, 2, out.ViolationThresholdMajor)
}
