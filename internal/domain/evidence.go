package domain

import "time"

// Evidence is a single discrete observation for one network observation
// node. It is written once and never updated.
type Evidence struct {
	ID        int64     `json:"id"`
	ClaimID   int64     `json:"claim_id"`
	Index     int       `json:"evidence_index"`
	Value     int       `json:"value"`
	Reporter  string    `json:"reporter"`
	CreatedAt time.Time `json:"created_at"`
}

// EvidenceIDs returns the ids of evs in the order given.
func EvidenceIDs(evs []Evidence) []int64 {
	ids := make([]int64, len(evs))
	for i, e := range evs {
		ids[i] = e.ID
	}
	return ids
}
