package model

// Trust score bounds for knowledge items. Each recorded failure decays the
// score multiplicatively; the floor keeps old items retrievable.
const (
	TrustInitial     = 1.0
	TrustDecayFactor = 0.95
	TrustFloor       = 0.5
)

// Learning records one failure observed while acting on a knowledge item.
// The list on a KnowledgeItem is append-only.
type Learning struct {
	Task             string `json:"task" yaml:"task"`
	StepNum          int    `json:"step_num" yaml:"step_num"`
	FailedAction     string `json:"failed_action" yaml:"failed_action"`
	ErrorText        string `json:"error_text" yaml:"error_text"`
	RecoveryApproach string `json:"recovery_approach,omitempty" yaml:"recovery_approach,omitempty"`
}

// KnowledgeItem is a retrievable snippet describing how to perform some
// operation, weighted by a trust score that decays as failures accumulate.
type KnowledgeItem struct {
	ID             string     `json:"id" yaml:"id"`
	Description    string     `json:"description" yaml:"description"`
	ActionSequence []string   `json:"action_sequence,omitempty" yaml:"action_sequence,omitempty"`
	TrustScore     float64    `json:"trust_score" yaml:"trust_score"`
	Learnings      []Learning `json:"learnings,omitempty" yaml:"learnings,omitempty"`
}

// RecordFailure appends a learning and decays the trust score, flooring it
// at TrustFloor.
func (k *KnowledgeItem) RecordFailure(l Learning) {
	k.Learnings = append(k.Learnings, l)
	k.TrustScore *= TrustDecayFactor
	if k.TrustScore < TrustFloor {
		k.TrustScore = TrustFloor
	}
}
