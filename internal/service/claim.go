package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/bnoracle/internal/bayes"
	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/lifecycle"
	"github.com/Harshitk-cp/bnoracle/internal/store"
	"go.uber.org/zap"
)

const maxExternalKeyLen = 256

type ClaimService struct {
	claims   domain.ClaimRegistry
	ledger   domain.EvidenceLedger
	network  *bayes.Network
	machine  *lifecycle.Machine
	notifier Notifier
	logger   *zap.Logger
}

func NewClaimService(claims domain.ClaimRegistry, ledger domain.EvidenceLedger, net *bayes.Network, machine *lifecycle.Machine, logger *zap.Logger) *ClaimService {
	return &ClaimService{
		claims:  claims,
		ledger:  ledger,
		network: net,
		machine: machine,
		logger:  logger,
	}
}

func (s *ClaimService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Open registers a claim. Evidence can only be filed against an open claim.
func (s *ClaimService) Open(ctx context.Context, actor *domain.Actor, externalKey string) (*domain.Claim, error) {
	if err := requireRole(actor, domain.RoleReporter); err != nil {
		return nil, err
	}
	externalKey = strings.TrimSpace(externalKey)
	if externalKey == "" {
		return nil, fmt.Errorf("%w: external_key is required", domain.ErrValidation)
	}
	if len(externalKey) > maxExternalKeyLen {
		return nil, fmt.Errorf("%w: external_key longer than %d", domain.ErrValidation, maxExternalKeyLen)
	}

	claim := &domain.Claim{ExternalKey: externalKey, OpenedBy: actor.Name}
	if _, err := s.claims.Create(ctx, claim); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %q", domain.ErrClaimConflict, externalKey)
		}
		return nil, err
	}
	notifyWritten(s.notifier)

	s.logger.Info("claim opened",
		zap.Int64("claim_id", claim.ID),
		zap.String("external_key", externalKey),
		zap.String("opened_by", actor.Name))
	return claim, nil
}

func (s *ClaimService) Get(ctx context.Context, id int64) (*domain.Claim, error) {
	claim, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return nil, mapClaimError(err, id)
	}
	return claim, nil
}

func (s *ClaimService) List(ctx context.Context, state domain.ClaimState, limit int) ([]domain.Claim, error) {
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: unknown state %q", domain.ErrValidation, state)
	}
	return s.claims.ListByState(ctx, state, limit)
}

// Belief returns the committed belief of a resolved claim.
func (s *ClaimService) Belief(ctx context.Context, id int64) (*domain.Belief, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	b, err := s.claims.GetBelief(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: claim %d is not resolved", domain.ErrBeliefNotFound, id)
	}
	return b, err
}

// Trigger moves an open claim to inference_triggered once every required
// observation node has evidence. It is a no-op for a claim that is already
// triggered. The bool reports whether this call made the transition.
func (s *ClaimService) Trigger(ctx context.Context, actor *domain.Actor, id int64) (*domain.Claim, bool, error) {
	if err := requireRole(actor, domain.RoleController); err != nil {
		return nil, false, err
	}
	return s.trigger(ctx, id)
}

func (s *ClaimService) trigger(ctx context.Context, id int64) (*domain.Claim, bool, error) {
	claim, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	switch claim.State {
	case domain.ClaimStateInferenceTriggered:
		return claim, false, nil
	case domain.ClaimStateResolved:
		return claim, false, fmt.Errorf("%w: claim %d is resolved", domain.ErrClaimClosed, id)
	}

	missing, err := s.missing(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if _, err := s.machine.Fire(claim.State, lifecycle.EventTrigger, &lifecycle.Context{ClaimID: id, Missing: missing}); err != nil {
		if errors.Is(err, lifecycle.ErrGuardRejected) {
			return claim, false, fmt.Errorf("%w: claim %d has no evidence for %s",
				domain.ErrEvidenceIncomplete, id, strings.Join(missing, ", "))
		}
		return claim, false, err
	}

	_, changed, err := s.claims.Trigger(ctx, id)
	if err != nil {
		return nil, false, mapClaimError(err, id)
	}
	if changed {
		notifyWritten(s.notifier)
		s.logger.Info("claim triggered", zap.Int64("claim_id", id))
	}

	claim, err = s.Get(ctx, id)
	return claim, changed, err
}

// allowResolve asks the lifecycle machine whether claim may move to
// resolved. Only a triggered claim may.
func (s *ClaimService) allowResolve(claim *domain.Claim) error {
	if _, err := s.machine.Fire(claim.State, lifecycle.EventResolve, &lifecycle.Context{ClaimID: claim.ID}); err != nil {
		if errors.Is(err, lifecycle.ErrIllegalTransition) && claim.State == domain.ClaimStateResolved {
			return fmt.Errorf("%w: claim %d is resolved", domain.ErrClaimClosed, claim.ID)
		}
		return err
	}
	return nil
}

// missing lists the required observation nodes the claim has no evidence
// for yet.
func (s *ClaimService) missing(ctx context.Context, id int64) ([]string, error) {
	evs, err := s.ledger.ListByClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.network.Missing(Observations(s.network, evs)), nil
}
