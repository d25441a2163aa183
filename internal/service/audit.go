package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Harshitk-cp/bnoracle/internal/bayes"
	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/store"
	"go.uber.org/zap"
)

const chainPage = 1000

// ReporterSummary is what one reporter contributed to a resolved claim.
// Several reporters agreeing on every node is the pattern a collusion
// review starts from.
type ReporterSummary struct {
	Reporter string         `json:"reporter"`
	Evidence int            `json:"evidence"`
	Values   map[string]int `json:"values"`
}

type ClaimAudit struct {
	ClaimID        int64             `json:"claim_id"`
	RecordedDigest string            `json:"recorded_digest"`
	ComputedDigest string            `json:"computed_digest"`
	Match          bool              `json:"match"`
	Intact         bool              `json:"intact"`
	CPTRevisions   map[string]int64  `json:"cpt_revisions"`
	Unused         []int64           `json:"unused_evidence_ids"`
	Reporters      []ReporterSummary `json:"reporters"`
}

type ChainAudit struct {
	Events int64  `json:"events"`
	Head   string `json:"head"`
}

type AuditService struct {
	claims  domain.ClaimRegistry
	ledger  domain.EvidenceLedger
	cpts    domain.CPTStore
	events  domain.EventLog
	network *bayes.Network
	logger  *zap.Logger
}

func NewAuditService(claims domain.ClaimRegistry, ledger domain.EvidenceLedger, cpts domain.CPTStore, events domain.EventLog, net *bayes.Network, logger *zap.Logger) *AuditService {
	return &AuditService{
		claims:  claims,
		ledger:  ledger,
		cpts:    cpts,
		events:  events,
		network: net,
		logger:  logger,
	}
}

// VerifyClaim rebuilds a resolved claim's belief from the evidence and CPT
// revisions it records and compares digests. Intact reports whether the
// stored belief still hashes to its own digest.
func (s *AuditService) VerifyClaim(ctx context.Context, actor *domain.Actor, claimID int64) (*ClaimAudit, error) {
	if err := requireRole(actor, domain.RoleAuditor); err != nil {
		return nil, err
	}
	claim, err := s.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, mapClaimError(err, claimID)
	}
	stored, err := s.claims.GetBelief(ctx, claimID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: claim %d is %s", domain.ErrBeliefNotFound, claimID, claim.State)
	}
	if err != nil {
		return nil, err
	}

	evs, err := s.ledger.GetByIDs(ctx, stored.EvidenceIDs)
	if err != nil {
		return nil, fmt.Errorf("read evidence: %w", err)
	}
	snapshot := make(domain.CPTSnapshot, len(stored.CPTRevisions))
	for node, rev := range stored.CPTRevisions {
		cpt, err := s.cpts.GetRevision(ctx, node, rev)
		if err != nil {
			return nil, fmt.Errorf("read %s revision %d: %w", node, rev, err)
		}
		snapshot[node] = *cpt
	}

	rebuilt, err := BuildBelief(ctx, s.network, claimID, evs, snapshot)
	if err != nil {
		return nil, fmt.Errorf("replay inference: %w", err)
	}
	own, err := stored.ComputeDigest()
	if err != nil {
		return nil, err
	}

	audit := &ClaimAudit{
		ClaimID:        claimID,
		RecordedDigest: stored.Digest,
		ComputedDigest: rebuilt.Digest,
		Match:          rebuilt.Digest == stored.Digest,
		Intact:         own == stored.Digest,
		CPTRevisions:   stored.CPTRevisions,
		Unused:         unusedEvidence(claim.EvidenceIDs, stored.EvidenceIDs),
		Reporters:      summarizeReporters(s.network, evs),
	}
	if !audit.Match || !audit.Intact {
		s.logger.Warn("belief verification failed",
			zap.Int64("claim_id", claimID),
			zap.String("recorded", stored.Digest),
			zap.String("computed", rebuilt.Digest),
			zap.Bool("intact", audit.Intact))
	}
	return audit, nil
}

// VerifyChain walks the whole event log checking sequence numbers and
// hash links. The error wraps domain.ErrChainBroken at the first bad
// event.
func (s *AuditService) VerifyChain(ctx context.Context, actor *domain.Actor) (*ChainAudit, error) {
	if err := requireRole(actor, domain.RoleAuditor); err != nil {
		return nil, err
	}
	var (
		seq  int64
		head = domain.GenesisHash
	)
	for {
		page, err := s.events.LoadAfter(ctx, seq, chainPage)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		head, err = domain.VerifyChain(seq, head, page)
		if err != nil {
			s.logger.Error("event chain verification failed", zap.Int64("after_seq", seq), zap.Error(err))
			return nil, err
		}
		seq = page[len(page)-1].Seq
	}

	lastSeq, lastHash, err := s.events.Head(ctx)
	if err != nil {
		return nil, err
	}
	if lastSeq != seq || lastHash != head {
		return nil, fmt.Errorf("%w: head is %d/%s, walked to %d/%s", domain.ErrChainBroken, lastSeq, lastHash, seq, head)
	}
	return &ChainAudit{Events: seq, Head: head}, nil
}

// unusedEvidence lists evidence that reached the claim after the resolving
// read.
func unusedEvidence(all, used []int64) []int64 {
	seen := make(map[int64]bool, len(used))
	for _, id := range used {
		seen[id] = true
	}
	out := []int64{}
	for _, id := range all {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}

func summarizeReporters(net *bayes.Network, evs []domain.Evidence) []ReporterSummary {
	byName := make(map[string]*ReporterSummary)
	for _, ev := range evs {
		r, ok := byName[ev.Reporter]
		if !ok {
			r = &ReporterSummary{Reporter: ev.Reporter, Values: make(map[string]int)}
			byName[ev.Reporter] = r
		}
		r.Evidence++
		if node, ok := net.ObservationByIndex(ev.Index); ok {
			r.Values[node.Name] = ev.Value
		}
	}
	out := make([]ReporterSummary, 0, len(byName))
	for _, r := range byName {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reporter < out[j].Reporter })
	return out
}
