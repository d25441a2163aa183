package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventClaimOpened    EventType = "claim_opened"
	EventEvidenceAdded  EventType = "evidence_added"
	EventClaimTriggered EventType = "claim_triggered"
	EventClaimResolved  EventType = "claim_resolved"
	EventCPTUpdated     EventType = "cpt_updated"
)

// GenesisHash is the PrevHash of the first event in the log.
const GenesisHash = "genesis"

// Event is one entry of the append-only, hash-chained ledger. Seq is
// assigned at commit time and is gap-free; commit order equals Seq order.
type Event struct {
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	ClaimID   int64           `json:"claim_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
	CreatedAt time.Time       `json:"created_at"`
}

type ClaimOpenedPayload struct {
	ClaimID     int64  `json:"claim_id"`
	ExternalKey string `json:"external_key"`
	OpenedBy    string `json:"opened_by"`
}

type EvidenceAddedPayload struct {
	EvidenceID    int64  `json:"evidence_id"`
	ClaimID       int64  `json:"claim_id"`
	EvidenceIndex int    `json:"evidence_index"`
	Value         int    `json:"value"`
	Reporter      string `json:"reporter"`
}

type ClaimTriggeredPayload struct {
	ClaimID     int64   `json:"claim_id"`
	EvidenceIDs []int64 `json:"evidence_ids"`
}

type ClaimResolvedPayload struct {
	ClaimID      int64            `json:"claim_id"`
	Posteriors   []Posterior      `json:"posteriors"`
	CPTRevisions map[string]int64 `json:"cpt_revisions"`
	EvidenceIDs  []int64          `json:"evidence_ids"`
	Digest       string           `json:"digest"`
	ResolvedBy   string           `json:"resolved_by"`
}

type CPTUpdatedPayload struct {
	Node      string `json:"node"`
	Revision  int64  `json:"revision"`
	UpdatedBy string `json:"updated_by"`
}

// NewEvent builds an unsealed event. Seq and hashes are filled in by Seal
// once the store knows the chain head.
func NewEvent(t EventType, claimID int64, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{
		Type:    t,
		ClaimID: claimID,
		Payload: raw,
		// Postgres keeps microseconds; truncate so the hash survives a round trip.
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}, nil
}

type hashableEvent struct {
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	ClaimID   int64           `json:"claim_id"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	CreatedAt int64           `json:"created_at"`
}

func (e *Event) ComputeHash() (string, error) {
	return CanonicalDigest(hashableEvent{
		Seq:       e.Seq,
		Type:      e.Type,
		ClaimID:   e.ClaimID,
		Payload:   e.Payload,
		PrevHash:  e.PrevHash,
		CreatedAt: e.CreatedAt.UnixMicro(),
	})
}

// Seal links e after prevHash at position seq.
func (e *Event) Seal(seq int64, prevHash string) error {
	e.Seq = seq
	e.PrevHash = prevHash
	h, err := e.ComputeHash()
	if err != nil {
		return fmt.Errorf("hash event %d: %w", seq, err)
	}
	e.Hash = h
	return nil
}

func (e *Event) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// VerifyChain checks that events continue the chain whose head is
// (afterSeq, head). It returns the new head hash.
func VerifyChain(afterSeq int64, head string, events []Event) (string, error) {
	for _, e := range events {
		if e.Seq != afterSeq+1 {
			return head, fmt.Errorf("%w: expected seq %d, got %d", ErrChainBroken, afterSeq+1, e.Seq)
		}
		if e.PrevHash != head {
			return head, fmt.Errorf("%w: seq %d does not link to its predecessor", ErrChainBroken, e.Seq)
		}
		h, err := e.ComputeHash()
		if err != nil {
			return head, err
		}
		if h != e.Hash {
			return head, fmt.Errorf("%w: seq %d content does not match its hash", ErrChainBroken, e.Seq)
		}
		afterSeq, head = e.Seq, e.Hash
	}
	return head, nil
}
