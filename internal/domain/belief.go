package domain

import (
	"fmt"
	"time"
)

// Posterior is the inferred distribution over one target node. Scaled holds
// the same distribution in parts per million for ledger commits.
type Posterior struct {
	Node         string    `json:"node"`
	Distribution []float64 `json:"distribution"`
	Scaled       []int64   `json:"scaled"`
}

// Belief is the committed, auditable result of resolving a claim.
type Belief struct {
	ClaimID      int64            `json:"claim_id"`
	Posteriors   []Posterior      `json:"posteriors"`
	CPTRevisions map[string]int64 `json:"cpt_revisions"`
	EvidenceIDs  []int64          `json:"evidence_ids"`
	Observations map[string]int   `json:"observations"`
	Likelihood   float64          `json:"likelihood"`
	Digest       string           `json:"digest"`
	ResolvedBy   string           `json:"resolved_by"`
	CreatedAt    time.Time        `json:"created_at"`
}

// beliefContent is the reproducible part of a belief: everything that is a
// pure function of the recorded evidence and CPT revisions.
type beliefContent struct {
	ClaimID      int64            `json:"claim_id"`
	Posteriors   []Posterior      `json:"posteriors"`
	CPTRevisions map[string]int64 `json:"cpt_revisions"`
	EvidenceIDs  []int64          `json:"evidence_ids"`
	Observations map[string]int   `json:"observations"`
	Likelihood   float64          `json:"likelihood"`
}

// ComputeDigest hashes the reproducible content of b. Who resolved the
// claim and when are excluded, so an auditor replaying the ledger arrives
// at the same digest.
func (b *Belief) ComputeDigest() (string, error) {
	d, err := CanonicalDigest(beliefContent{
		ClaimID:      b.ClaimID,
		Posteriors:   b.Posteriors,
		CPTRevisions: b.CPTRevisions,
		EvidenceIDs:  b.EvidenceIDs,
		Observations: b.Observations,
		Likelihood:   b.Likelihood,
	})
	if err != nil {
		return "", fmt.Errorf("belief digest: %w", err)
	}
	return d, nil
}

func (b *Belief) Seal() error {
	d, err := b.ComputeDigest()
	if err != nil {
		return err
	}
	b.Digest = d
	return nil
}

func (b *Belief) Posterior(node string) (Posterior, bool) {
	for _, p := range b.Posteriors {
		if p.Node == node {
			return p, true
		}
	}
	return Posterior{}, false
}
