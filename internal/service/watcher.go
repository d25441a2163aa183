package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/notify"
	"go.uber.org/zap"
)

const (
	defaultWatchInterval = 30 * time.Second
	sweepBatch           = 500
)

// WatcherService is the controller loop. It follows the event feed and
// triggers claims as soon as their evidence is complete; with auto-resolve
// it also resolves them as the controller actor. A periodic sweep covers
// anything the feed did not deliver.
type WatcherService struct {
	claims     *ClaimService
	oracle     *OracleService
	registry   domain.ClaimRegistry
	events     domain.EventLog
	feed       *notify.Feed
	controller *domain.Actor
	logger     *zap.Logger

	autoResolve bool
	interval    time.Duration
	stopCh      chan struct{}
	cancel      context.CancelFunc
	sub         *notify.Subscription
	wg          sync.WaitGroup
}

func NewWatcherService(claims *ClaimService, oracle *OracleService, registry domain.ClaimRegistry, events domain.EventLog, feed *notify.Feed, controller *domain.Actor, logger *zap.Logger) *WatcherService {
	return &WatcherService{
		claims:     claims,
		oracle:     oracle,
		registry:   registry,
		events:     events,
		feed:       feed,
		controller: controller,
		logger:     logger,
		interval:   defaultWatchInterval,
		stopCh:     make(chan struct{}),
	}
}

func (s *WatcherService) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

func (s *WatcherService) SetAutoResolve(on bool) {
	s.autoResolve = on
}

// Start sweeps existing claims, then follows the feed from the current
// head in a background goroutine.
func (s *WatcherService) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	head, _, err := s.events.Head(ctx)
	if err != nil {
		cancel()
		return err
	}
	s.sweep(ctx)
	s.sub = s.feed.Subscribe(ctx, head,
		[]domain.EventType{domain.EventEvidenceAdded, domain.EventClaimTriggered},
		s.handle)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("claim watcher started",
			zap.Int64("from_seq", head),
			zap.Duration("interval", s.interval),
			zap.Bool("auto_resolve", s.autoResolve))

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-s.stopCh:
				s.logger.Info("claim watcher stopped")
				return
			}
		}
	}()
	return nil
}

// Stop gracefully stops the watcher.
func (s *WatcherService) Stop() {
	close(s.stopCh)
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.sub != nil {
		<-s.sub.Done()
	}
}

func (s *WatcherService) handle(ctx context.Context, ev domain.Event) error {
	switch ev.Type {
	case domain.EventEvidenceAdded:
		return s.process(ctx, ev.ClaimID)
	case domain.EventClaimTriggered:
		if s.autoResolve {
			return s.process(ctx, ev.ClaimID)
		}
	}
	return nil
}

func (s *WatcherService) sweep(ctx context.Context) {
	states := []domain.ClaimState{domain.ClaimStateOpen}
	if s.autoResolve {
		states = append(states, domain.ClaimStateInferenceTriggered)
	}
	for _, state := range states {
		claims, err := s.registry.ListByState(ctx, state, sweepBatch)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("failed to list claims", zap.String("state", string(state)), zap.Error(err))
			}
			return
		}
		for _, c := range claims {
			if err := s.process(ctx, c.ID); err != nil {
				s.logger.Warn("failed to advance claim", zap.Int64("claim_id", c.ID), zap.Error(err))
			}
		}
	}
}

// process moves one claim as far as it can go. Expected outcomes such as
// incomplete evidence are not errors.
func (s *WatcherService) process(ctx context.Context, claimID int64) error {
	claim, changed, err := s.claims.trigger(ctx, claimID)
	switch {
	case errors.Is(err, domain.ErrEvidenceIncomplete), errors.Is(err, domain.ErrClaimClosed):
		return nil
	case err != nil:
		return err
	}
	if changed {
		s.logger.Debug("watcher triggered claim", zap.Int64("claim_id", claimID))
	}
	if !s.autoResolve || claim.State != domain.ClaimStateInferenceTriggered {
		return nil
	}

	_, err = s.oracle.Resolve(ctx, s.controller, claimID)
	switch {
	case errors.Is(err, domain.ErrAlreadyResolved):
		return nil
	case errors.Is(err, domain.ErrInferenceUndefined):
		s.logger.Warn("claim cannot be resolved with current evidence",
			zap.Int64("claim_id", claimID), zap.Error(err))
		return nil
	}
	return err
}
