package domain

import "time"

// CPT is one full revision of a node's conditional probability table.
// Rows are indexed by the mixed-radix encoding of the parent assignment,
// first parent most significant. A nil row has not been set yet.
type CPT struct {
	Node      string      `json:"node"`
	Revision  int64       `json:"revision"`
	Rows      [][]float64 `json:"rows"`
	UpdatedBy string      `json:"updated_by"`
	CreatedAt time.Time   `json:"created_at"`
}

// CPTSnapshot is a consistent point read: one revision per node.
type CPTSnapshot map[string]CPT

func (s CPTSnapshot) Revisions() map[string]int64 {
	out := make(map[string]int64, len(s))
	for node, c := range s {
		out[node] = c.Revision
	}
	return out
}

func (s CPTSnapshot) Tables() map[string][][]float64 {
	out := make(map[string][][]float64, len(s))
	for node, c := range s {
		out[node] = c.Rows
	}
	return out
}

// CloneRows deep-copies a table so callers can edit a row without
// touching a stored revision.
func CloneRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		if r == nil {
			continue
		}
		out[i] = append([]float64(nil), r...)
	}
	return out
}
