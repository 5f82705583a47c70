package model

import "time"

// SkillMetadata tracks how a verified skill has performed since capture.
type SkillMetadata struct {
	SuccessRate  float64        `json:"success_rate" yaml:"success_rate"`
	TimesUsed    int            `json:"times_used" yaml:"times_used"`
	SuccessCount int            `json:"success_count" yaml:"success_count"`
	Provenance   map[string]int `json:"provenance,omitempty" yaml:"provenance,omitempty"`
}

// VerifiedSkill is a human-confirmed, reusable action plan. Skills are
// created only after someone confirms the plan actually worked.
type VerifiedSkill struct {
	SkillID         string        `json:"skill_id" yaml:"skill_id"`
	TaskDescription string        `json:"task_description" yaml:"task_description"`
	ActionPlan      []Action      `json:"action_plan" yaml:"action_plan"`
	Metadata        SkillMetadata `json:"metadata" yaml:"metadata"`
	Tags            []string      `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedAt       time.Time     `json:"created_at" yaml:"created_at"`
}

// RecordUse updates usage counters and recomputes the success rate.
func (s *VerifiedSkill) RecordUse(success bool) {
	s.Metadata.TimesUsed++
	if success {
		s.Metadata.SuccessCount++
	}
	s.Metadata.SuccessRate = float64(s.Metadata.SuccessCount) / float64(s.Metadata.TimesUsed)
}
