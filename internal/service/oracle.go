package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Harshitk-cp/bnoracle/internal/bayes"
	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/store"
	"go.uber.org/zap"
)

const (
	tracerName = "github.com/Harshitk-cp/bnoracle/internal/service"

	DefaultInferenceTimeout       = 5 * time.Second
	DefaultInferenceMaxConcurrent = 8
)

// OracleConfig bounds inference. Zero values take the defaults.
type OracleConfig struct {
	Timeout       time.Duration
	MaxConcurrent int
}

// OracleService turns a triggered claim into a committed belief.
type OracleService struct {
	claims   *ClaimService
	registry domain.ClaimRegistry
	ledger   domain.EvidenceLedger
	cpts     domain.CPTStore
	network  *bayes.Network
	notifier Notifier
	logger   *zap.Logger

	timeout  time.Duration
	bulkhead bulkhead.Bulkhead[*domain.Belief]
	tracer   trace.Tracer
}

func NewOracleService(claims *ClaimService, registry domain.ClaimRegistry, ledger domain.EvidenceLedger, cpts domain.CPTStore, net *bayes.Network, cfg OracleConfig, logger *zap.Logger) *OracleService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultInferenceTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultInferenceMaxConcurrent
	}
	return &OracleService{
		claims:   claims,
		registry: registry,
		ledger:   ledger,
		cpts:     cpts,
		network:  net,
		logger:   logger,
		timeout:  cfg.Timeout,
		bulkhead: bulkhead.New[*domain.Belief](bulkhead.Config{
			MaxConcurrent: cfg.MaxConcurrent,
		}),
		tracer: otel.Tracer(tracerName),
	}
}

func (s *OracleService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Resolve computes and commits the belief for a claim. Calling it again
// on a resolved claim returns the committed belief together with
// ErrAlreadyResolved, as does losing a race with a concurrent resolve.
// ErrInferenceUndefined leaves the claim triggered.
func (s *OracleService) Resolve(ctx context.Context, actor *domain.Actor, claimID int64) (*domain.Belief, error) {
	if err := requireRole(actor, domain.RoleController); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "oracle.resolve",
		trace.WithAttributes(
			attribute.Int64("claim.id", claimID),
			attribute.String("actor.name", actor.Name),
		))
	defer span.End()

	b, err := s.resolve(ctx, actor, claimID)
	switch {
	case errors.Is(err, domain.ErrAlreadyResolved):
		span.SetAttributes(attribute.Bool("claim.already_resolved", true))
		span.SetStatus(codes.Ok, "")
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		span.SetAttributes(attribute.String("belief.digest", b.Digest))
		span.SetStatus(codes.Ok, "")
	}
	return b, err
}

func (s *OracleService) resolve(ctx context.Context, actor *domain.Actor, claimID int64) (*domain.Belief, error) {
	claim, err := s.claims.Get(ctx, claimID)
	if err != nil {
		return nil, err
	}
	switch claim.State {
	case domain.ClaimStateResolved:
		return s.stored(ctx, claimID)
	case domain.ClaimStateOpen:
		triggered, _, err := s.claims.trigger(ctx, claimID)
		if err != nil {
			if errors.Is(err, domain.ErrClaimClosed) {
				return s.stored(ctx, claimID)
			}
			return nil, err
		}
		claim = triggered
	}
	if err := s.claims.allowResolve(claim); err != nil {
		if errors.Is(err, domain.ErrClaimClosed) {
			return s.stored(ctx, claimID)
		}
		return nil, err
	}

	evs, err := s.ledger.ListByClaim(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("read evidence: %w", err)
	}
	snapshot, err := s.cpts.Snapshot(ctx, s.network.NodeNames())
	if err != nil {
		return nil, fmt.Errorf("read cpt snapshot: %w", err)
	}

	belief, err := s.infer(ctx, claimID, evs, snapshot)
	if err != nil {
		if errors.Is(err, domain.ErrInferenceUndefined) {
			s.logger.Warn("inference undefined, claim stays triggered",
				zap.Int64("claim_id", claimID), zap.Error(err))
		}
		return nil, err
	}
	belief.ResolvedBy = actor.Name

	event, err := s.registry.Resolve(ctx, belief)
	if err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			return s.stored(ctx, claimID)
		}
		return nil, mapClaimError(err, claimID)
	}
	notifyWritten(s.notifier)

	s.logger.Info("claim resolved",
		zap.Int64("claim_id", claimID),
		zap.Int("evidence", len(belief.EvidenceIDs)),
		zap.String("digest", belief.Digest),
		zap.String("resolved_by", actor.Name),
		zap.Int64("seq", event.Seq))
	return belief, nil
}

// infer runs the engine under the bulkhead and the inference timeout.
func (s *OracleService) infer(ctx context.Context, claimID int64, evs []domain.Evidence, snapshot domain.CPTSnapshot) (*domain.Belief, error) {
	ctx, span := s.tracer.Start(ctx, "oracle.infer",
		trace.WithAttributes(attribute.Int("evidence.count", len(evs))))
	defer span.End()

	b, err := s.bulkhead.Execute(ctx, func(ctx context.Context) (*domain.Belief, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return BuildBelief(ctx, s.network, claimID, evs, snapshot)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrInferenceUndefined) && !errors.Is(err, domain.ErrValidation) &&
			!errors.Is(err, domain.ErrInferenceTimeout) && !errors.Is(err, context.Canceled) {
			// Bulkhead rejections are capacity problems; retrying later is
			// the right response, same as a timeout.
			err = fmt.Errorf("%w: %v", domain.ErrInferenceTimeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Float64("evidence.likelihood", b.Likelihood))
	return b, nil
}

func (s *OracleService) stored(ctx context.Context, claimID int64) (*domain.Belief, error) {
	b, err := s.registry.GetBelief(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("load committed belief for claim %d: %w", claimID, err)
	}
	return b, fmt.Errorf("%w: claim %d", domain.ErrAlreadyResolved, claimID)
}
