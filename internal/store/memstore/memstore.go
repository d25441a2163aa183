// Package memstore is an in-process implementation of the ledger stores
// with the same semantics as the Postgres ones. One mutex plays the part of
// the ledger advisory lock. Used by tests and STORE_BACKEND=memory.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/store"
	"github.com/google/uuid"
)

type Store struct {
	mu sync.RWMutex

	actors   map[uuid.UUID]domain.Actor
	claims   map[int64]*domain.Claim
	keys     map[string]int64
	evidence []domain.Evidence
	byClaim  map[int64][]int64
	cpts     map[string][]domain.CPT
	beliefs  map[int64]domain.Belief
	events   []domain.Event

	nextClaimID int64
}

func New() *Store {
	return &Store{
		actors:  make(map[uuid.UUID]domain.Actor),
		claims:  make(map[int64]*domain.Claim),
		keys:    make(map[string]int64),
		byClaim: make(map[int64][]int64),
		cpts:    make(map[string][]domain.CPT),
		beliefs: make(map[int64]domain.Belief),
	}
}

// Set exposes s through the store interfaces.
func (s *Store) Set() *store.Set {
	return &store.Set{
		Actors:   (*ActorStore)(s),
		Claims:   (*ClaimStore)(s),
		Evidence: (*EvidenceStore)(s),
		CPTs:     (*CPTStore)(s),
		Events:   (*EventStore)(s),
		Ping:     func(context.Context) error { return nil },
	}
}

// appendEvent seals ev onto the chain. Caller holds s.mu.
func (s *Store) appendEvent(ev *domain.Event) error {
	seq, head := int64(0), domain.GenesisHash
	if n := len(s.events); n > 0 {
		seq, head = s.events[n-1].Seq, s.events[n-1].Hash
	}
	if err := ev.Seal(seq+1, head); err != nil {
		return err
	}
	s.events = append(s.events, *ev)
	return nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

type ActorStore Store

func (a *ActorStore) Create(_ context.Context, actor *domain.Actor) error {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.actors {
		if existing.Name == actor.Name || existing.APIKeyHash == actor.APIKeyHash {
			return store.ErrConflict
		}
	}
	actor.ID = uuid.New()
	actor.CreatedAt = now()
	cp := *actor
	cp.Roles = append([]domain.Role(nil), actor.Roles...)
	s.actors[actor.ID] = cp
	return nil
}

func (a *ActorStore) GetByAPIKeyHash(_ context.Context, hash string) (*domain.Actor, error) {
	return a.find(func(x domain.Actor) bool { return x.APIKeyHash == hash })
}

func (a *ActorStore) GetByName(_ context.Context, name string) (*domain.Actor, error) {
	return a.find(func(x domain.Actor) bool { return x.Name == name })
}

func (a *ActorStore) find(match func(domain.Actor) bool) (*domain.Actor, error) {
	s := (*Store)(a)
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, x := range s.actors {
		if match(x) {
			cp := x
			cp.Roles = append([]domain.Role(nil), x.Roles...)
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

type ClaimStore Store

func (c *ClaimStore) Create(_ context.Context, claim *domain.Claim) (domain.Event, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.keys[claim.ExternalKey]; dup {
		return domain.Event{}, store.ErrConflict
	}

	ev, err := domain.NewEvent(domain.EventClaimOpened, s.nextClaimID+1, domain.ClaimOpenedPayload{
		ClaimID: s.nextClaimID + 1, ExternalKey: claim.ExternalKey, OpenedBy: claim.OpenedBy,
	})
	if err != nil {
		return domain.Event{}, err
	}
	if err := s.appendEvent(&ev); err != nil {
		return domain.Event{}, err
	}

	s.nextClaimID++
	claim.ID = s.nextClaimID
	claim.State = domain.ClaimStateOpen
	claim.EvidenceIDs = []int64{}
	claim.CreatedAt = now()
	claim.UpdatedAt = claim.CreatedAt
	claim.TriggeredAt, claim.ResolvedAt = nil, nil

	stored := *claim
	s.claims[claim.ID] = &stored
	s.keys[claim.ExternalKey] = claim.ID
	return ev, nil
}

func (c *ClaimStore) GetByID(_ context.Context, id int64) (*domain.Claim, error) {
	s := (*Store)(c)
	s.mu.RLock()
	defer s.mu.RUnlock()

	claim, ok := s.claims[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.copyClaim(claim), nil
}

func (c *ClaimStore) ListByState(_ context.Context, state domain.ClaimState, limit int) ([]domain.Claim, error) {
	s := (*Store)(c)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	ids := make([]int64, 0, len(s.claims))
	for id, claim := range s.claims {
		if claim.State == state {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]domain.Claim, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.copyClaim(s.claims[id]))
	}
	return out, nil
}

func (c *ClaimStore) Trigger(_ context.Context, id int64) (domain.Event, bool, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[id]
	if !ok {
		return domain.Event{}, false, store.ErrNotFound
	}
	switch claim.State {
	case domain.ClaimStateInferenceTriggered:
		return domain.Event{}, false, nil
	case domain.ClaimStateResolved:
		return domain.Event{}, false, fmt.Errorf("%w: claim %d is resolved", store.ErrStateConflict, id)
	}

	ev, err := domain.NewEvent(domain.EventClaimTriggered, id, domain.ClaimTriggeredPayload{
		ClaimID: id, EvidenceIDs: append([]int64{}, s.byClaim[id]...),
	})
	if err != nil {
		return domain.Event{}, false, err
	}
	if err := s.appendEvent(&ev); err != nil {
		return domain.Event{}, false, err
	}

	t := now()
	claim.State = domain.ClaimStateInferenceTriggered
	claim.TriggeredAt = &t
	claim.UpdatedAt = t
	return ev, true, nil
}

func (c *ClaimStore) Resolve(_ context.Context, b *domain.Belief) (domain.Event, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[b.ClaimID]
	if !ok {
		return domain.Event{}, store.ErrNotFound
	}
	if claim.State != domain.ClaimStateInferenceTriggered {
		return domain.Event{}, fmt.Errorf("%w: claim %d is not awaiting resolution", store.ErrStateConflict, b.ClaimID)
	}

	ev, err := domain.NewEvent(domain.EventClaimResolved, b.ClaimID, domain.ClaimResolvedPayload{
		ClaimID:      b.ClaimID,
		Posteriors:   b.Posteriors,
		CPTRevisions: b.CPTRevisions,
		EvidenceIDs:  b.EvidenceIDs,
		Digest:       b.Digest,
		ResolvedBy:   b.ResolvedBy,
	})
	if err != nil {
		return domain.Event{}, err
	}
	if err := s.appendEvent(&ev); err != nil {
		return domain.Event{}, err
	}

	t := now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = t
	}
	s.beliefs[b.ClaimID] = copyBelief(*b)
	claim.State = domain.ClaimStateResolved
	claim.ResolvedAt = &t
	claim.UpdatedAt = t
	return ev, nil
}

func (c *ClaimStore) GetBelief(_ context.Context, claimID int64) (*domain.Belief, error) {
	s := (*Store)(c)
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.beliefs[claimID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := copyBelief(b)
	return &cp, nil
}

func (s *Store) copyClaim(c *domain.Claim) *domain.Claim {
	cp := *c
	cp.EvidenceIDs = append([]int64{}, s.byClaim[c.ID]...)
	return &cp
}

func copyBelief(b domain.Belief) domain.Belief {
	cp := b
	cp.Posteriors = make([]domain.Posterior, len(b.Posteriors))
	for i, p := range b.Posteriors {
		cp.Posteriors[i] = domain.Posterior{
			Node:         p.Node,
			Distribution: append([]float64(nil), p.Distribution...),
			Scaled:       append([]int64(nil), p.Scaled...),
		}
	}
	cp.CPTRevisions = make(map[string]int64, len(b.CPTRevisions))
	for k, v := range b.CPTRevisions {
		cp.CPTRevisions[k] = v
	}
	cp.Observations = make(map[string]int, len(b.Observations))
	for k, v := range b.Observations {
		cp.Observations[k] = v
	}
	cp.EvidenceIDs = append([]int64{}, b.EvidenceIDs...)
	return cp
}

type EvidenceStore Store

func (e *EvidenceStore) Append(_ context.Context, ev *domain.Evidence) (domain.Event, error) {
	s := (*Store)(e)
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[ev.ClaimID]
	if !ok {
		return domain.Event{}, store.ErrNotFound
	}
	if claim.State == domain.ClaimStateResolved {
		return domain.Event{}, fmt.Errorf("%w: claim %d is resolved", store.ErrStateConflict, ev.ClaimID)
	}

	id := int64(len(s.evidence)) + 1
	event, err := domain.NewEvent(domain.EventEvidenceAdded, ev.ClaimID, domain.EvidenceAddedPayload{
		EvidenceID:    id,
		ClaimID:       ev.ClaimID,
		EvidenceIndex: ev.Index,
		Value:         ev.Value,
		Reporter:      ev.Reporter,
	})
	if err != nil {
		return domain.Event{}, err
	}
	if err := s.appendEvent(&event); err != nil {
		return domain.Event{}, err
	}

	ev.ID = id
	ev.CreatedAt = event.CreatedAt
	s.evidence = append(s.evidence, *ev)
	s.byClaim[ev.ClaimID] = append(s.byClaim[ev.ClaimID], id)
	claim.UpdatedAt = ev.CreatedAt
	return event, nil
}

func (e *EvidenceStore) GetIDsForClaim(_ context.Context, claimID int64) ([]int64, error) {
	s := (*Store)(e)
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]int64{}, s.byClaim[claimID]...), nil
}

func (e *EvidenceStore) GetByIDs(_ context.Context, ids []int64) ([]domain.Evidence, error) {
	s := (*Store)(e)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Evidence, 0, len(ids))
	for _, id := range ids {
		if id < 1 || id > int64(len(s.evidence)) {
			return nil, fmt.Errorf("%w: evidence %d", store.ErrNotFound, id)
		}
		out = append(out, s.evidence[id-1])
	}
	return out, nil
}

func (e *EvidenceStore) ListByClaim(ctx context.Context, claimID int64) ([]domain.Evidence, error) {
	s := (*Store)(e)
	s.mu.RLock()
	ids := append([]int64{}, s.byClaim[claimID]...)
	s.mu.RUnlock()

	return e.GetByIDs(ctx, ids)
}

type CPTStore Store

func (c *CPTStore) Put(_ context.Context, cpt *domain.CPT, expectedPrior int64) (domain.Event, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(len(s.cpts[cpt.Node]))
	if current != expectedPrior {
		return domain.Event{}, fmt.Errorf("%w: %s is at revision %d, expected %d",
			store.ErrRevisionConflict, cpt.Node, current, expectedPrior)
	}

	ev, err := domain.NewEvent(domain.EventCPTUpdated, 0, domain.CPTUpdatedPayload{
		Node: cpt.Node, Revision: current + 1, UpdatedBy: cpt.UpdatedBy,
	})
	if err != nil {
		return domain.Event{}, err
	}
	if err := s.appendEvent(&ev); err != nil {
		return domain.Event{}, err
	}

	cpt.Revision = current + 1
	cpt.CreatedAt = ev.CreatedAt
	stored := *cpt
	stored.Rows = domain.CloneRows(cpt.Rows)
	s.cpts[cpt.Node] = append(s.cpts[cpt.Node], stored)
	return ev, nil
}

func (c *CPTStore) Latest(_ context.Context, node string) (*domain.CPT, error) {
	s := (*Store)(c)
	s.mu.RLock()
	defer s.mu.RUnlock()

	revs := s.cpts[node]
	if len(revs) == 0 {
		return nil, store.ErrNotFound
	}
	return copyCPT(revs[len(revs)-1]), nil
}

func (c *CPTStore) GetRevision(_ context.Context, node string, revision int64) (*domain.CPT, error) {
	s := (*Store)(c)
	s.mu.RLock()
	defer s.mu.RUnlock()

	revs := s.cpts[node]
	if revision < 1 || revision > int64(len(revs)) {
		return nil, store.ErrNotFound
	}
	return copyCPT(revs[revision-1]), nil
}

func (c *CPTStore) Snapshot(_ context.Context, nodes []string) (domain.CPTSnapshot, error) {
	s := (*Store)(c)
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(domain.CPTSnapshot, len(nodes))
	for _, node := range nodes {
		if revs := s.cpts[node]; len(revs) > 0 {
			snap[node] = *copyCPT(revs[len(revs)-1])
		}
	}
	return snap, nil
}

func copyCPT(c domain.CPT) *domain.CPT {
	cp := c
	cp.Rows = domain.CloneRows(c.Rows)
	return &cp
}

type EventStore Store

func (e *EventStore) LoadAfter(_ context.Context, afterSeq int64, limit int) ([]domain.Event, error) {
	s := (*Store)(e)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 1000
	}
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(s.events)) {
		return nil, nil
	}
	// seq n lives at index n-1
	end := afterSeq + int64(limit)
	if end > int64(len(s.events)) {
		end = int64(len(s.events))
	}
	return append([]domain.Event(nil), s.events[afterSeq:end]...), nil
}

func (e *EventStore) Head(_ context.Context) (int64, string, error) {
	s := (*Store)(e)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) == 0 {
		return 0, domain.GenesisHash, nil
	}
	last := s.events[len(s.events)-1]
	return last.Seq, last.Hash, nil
}

var (
	_ domain.ActorStore     = (*ActorStore)(nil)
	_ domain.ClaimRegistry  = (*ClaimStore)(nil)
	_ domain.EvidenceLedger = (*EvidenceStore)(nil)
	_ domain.CPTStore       = (*CPTStore)(nil)
	_ domain.EventLog       = (*EventStore)(nil)
)
