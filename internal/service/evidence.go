package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/bnoracle/internal/bayes"
	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/lifecycle"
	"github.com/Harshitk-cp/bnoracle/internal/store"
	"go.uber.org/zap"
)

type EvidenceService struct {
	ledger   domain.EvidenceLedger
	claims   domain.ClaimRegistry
	network  *bayes.Network
	notifier Notifier
	logger   *zap.Logger
}

func NewEvidenceService(ledger domain.EvidenceLedger, claims domain.ClaimRegistry, net *bayes.Network, logger *zap.Logger) *EvidenceService {
	return &EvidenceService{
		ledger:  ledger,
		claims:  claims,
		network: net,
		logger:  logger,
	}
}

func (s *EvidenceService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Add records one observation for a claim. Nothing is written unless the
// actor is a reporter, the index names an observation node, the value is
// one of its states and the claim is still accepting evidence.
func (s *EvidenceService) Add(ctx context.Context, actor *domain.Actor, claimID int64, index, value int) (*domain.Evidence, error) {
	if err := requireRole(actor, domain.RoleReporter); err != nil {
		return nil, err
	}
	node, ok := s.network.ObservationByIndex(index)
	if !ok {
		return nil, fmt.Errorf("%w: evidence index %d is not an observation node", domain.ErrValidation, index)
	}
	if value < 0 || value >= node.States {
		return nil, fmt.Errorf("%w: %s has no state %d", domain.ErrValidation, node.Name, value)
	}

	claim, err := s.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, mapClaimError(err, claimID)
	}
	if !lifecycle.AcceptsEvidence(claim.State) {
		return nil, fmt.Errorf("%w: claim %d is %s", domain.ErrClaimClosed, claimID, claim.State)
	}

	ev := &domain.Evidence{
		ClaimID:  claimID,
		Index:    index,
		Value:    value,
		Reporter: actor.Name,
	}
	// The claim can still be resolved between the check above and the
	// append; the store re-checks under the ledger lock.
	event, err := s.ledger.Append(ctx, ev)
	if err != nil {
		return nil, mapClaimError(err, claimID)
	}
	notifyWritten(s.notifier)

	s.logger.Info("evidence recorded",
		zap.Int64("evidence_id", ev.ID),
		zap.Int64("claim_id", claimID),
		zap.String("node", node.Name),
		zap.Int("value", value),
		zap.String("reporter", actor.Name),
		zap.Int64("seq", event.Seq))
	return ev, nil
}

// IDsForClaim returns the claim's evidence ids in arrival order.
func (s *EvidenceService) IDsForClaim(ctx context.Context, claimID int64) ([]int64, error) {
	if _, err := s.claims.GetByID(ctx, claimID); err != nil {
		return nil, mapClaimError(err, claimID)
	}
	ids, err := s.ledger.GetIDsForClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

func (s *EvidenceService) ListForClaim(ctx context.Context, claimID int64) ([]domain.Evidence, error) {
	if _, err := s.claims.GetByID(ctx, claimID); err != nil {
		return nil, mapClaimError(err, claimID)
	}
	evs, err := s.ledger.ListByClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if evs == nil {
		evs = []domain.Evidence{}
	}
	return evs, nil
}

func (s *EvidenceService) Get(ctx context.Context, ids []int64) ([]domain.Evidence, error) {
	return s.ledger.GetByIDs(ctx, ids)
}

// mapClaimError translates store errors for claim-scoped writes.
func mapClaimError(err error, claimID int64) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %d", domain.ErrClaimNotFound, claimID)
	case errors.Is(err, store.ErrStateConflict):
		return fmt.Errorf("%w: claim %d", domain.ErrClaimClosed, claimID)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %v", domain.ErrClaimConflict, err)
	}
	return err
}
