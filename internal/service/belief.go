package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/bnoracle/internal/bayes"
	"github.com/Harshitk-cp/bnoracle/internal/domain"
)

// Observations derives the evidence map the engine consumes from a claim's
// evidence in arrival order. When a node was reported more than once the
// latest report wins. Indexes the network does not know are skipped.
func Observations(net *bayes.Network, evidence []domain.Evidence) map[string]int {
	obs := make(map[string]int, len(evidence))
	for _, ev := range evidence {
		node, ok := net.ObservationByIndex(ev.Index)
		if !ok {
			continue
		}
		obs[node.Name] = ev.Value
	}
	return obs
}

// BuildBelief runs inference for one claim and returns a sealed belief.
// The result depends only on its arguments, which is what lets an auditor
// rebuild a committed belief from the ledger and compare digests.
func BuildBelief(ctx context.Context, net *bayes.Network, claimID int64, evidence []domain.Evidence, snapshot domain.CPTSnapshot) (*domain.Belief, error) {
	obs := Observations(net, evidence)

	res, err := net.Infer(ctx, snapshot.Tables(), obs)
	if err != nil {
		return nil, mapInferenceError(err)
	}

	b := &domain.Belief{
		ClaimID:      claimID,
		Posteriors:   make([]domain.Posterior, 0, len(res.Marginals)),
		CPTRevisions: snapshot.Revisions(),
		EvidenceIDs:  domain.EvidenceIDs(evidence),
		Observations: obs,
		Likelihood:   res.Likelihood,
	}
	for _, m := range res.Marginals {
		b.Posteriors = append(b.Posteriors, domain.Posterior{
			Node:         m.Node,
			Distribution: m.Distribution,
			Scaled:       bayes.ToPPM(m.Distribution),
		})
	}
	if err := b.Seal(); err != nil {
		return nil, err
	}
	return b, nil
}

func mapInferenceError(err error) error {
	switch {
	case errors.Is(err, bayes.ErrZeroLikelihood):
		return fmt.Errorf("%w: %v", domain.ErrInferenceUndefined, err)
	case errors.Is(err, bayes.ErrIncompleteCPT),
		errors.Is(err, bayes.ErrInvalidCPT),
		errors.Is(err, bayes.ErrInvalidEvidence):
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrInferenceTimeout, err)
	}
	return err
}
