package domain

import "time"

type ClaimState string

const (
	ClaimStateOpen               ClaimState = "open"
	ClaimStateInferenceTriggered ClaimState = "inference_triggered"
	ClaimStateResolved           ClaimState = "resolved"
)

func (s ClaimState) IsValid() bool {
	switch s {
	case ClaimStateOpen, ClaimStateInferenceTriggered, ClaimStateResolved:
		return true
	}
	return false
}

// Claim is the real-world assertion evidence is collected for.
// EvidenceIDs is in arrival order and only ever grows.
type Claim struct {
	ID          int64      `json:"id"`
	ExternalKey string     `json:"external_key"`
	OpenedBy    string     `json:"opened_by"`
	State       ClaimState `json:"state"`
	EvidenceIDs []int64    `json:"evidence_ids"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}
