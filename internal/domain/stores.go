package domain

import "context"

// Every write below appends its ledger event in the same transaction as
// the state change and returns it. None of the stores expose update or
// delete for committed records.

type ActorStore interface {
	Create(ctx context.Context, a *Actor) error
	GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*Actor, error)
	GetByName(ctx context.Context, name string) (*Actor, error)
}

type EvidenceLedger interface {
	// Append assigns e.ID and e.CreatedAt. It fails when the claim does not
	// exist or is already resolved.
	Append(ctx context.Context, e *Evidence) (Event, error)
	GetIDsForClaim(ctx context.Context, claimID int64) ([]int64, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Evidence, error)
	ListByClaim(ctx context.Context, claimID int64) ([]Evidence, error)
}

type ClaimRegistry interface {
	Create(ctx context.Context, c *Claim) (Event, error)
	GetByID(ctx context.Context, id int64) (*Claim, error)
	ListByState(ctx context.Context, state ClaimState, limit int) ([]Claim, error)
	// Trigger moves an open claim to inference_triggered. The bool is false
	// when the claim was already triggered and nothing changed.
	Trigger(ctx context.Context, id int64) (Event, bool, error)
	// Resolve moves an inference_triggered claim to resolved and stores b,
	// first writer wins.
	Resolve(ctx context.Context, b *Belief) (Event, error)
	GetBelief(ctx context.Context, claimID int64) (*Belief, error)
}

type CPTStore interface {
	// Put stores c as revision expectedPrior+1 of c.Node.
	Put(ctx context.Context, c *CPT, expectedPrior int64) (Event, error)
	Latest(ctx context.Context, node string) (*CPT, error)
	Snapshot(ctx context.Context, nodes []string) (CPTSnapshot, error)
	GetRevision(ctx context.Context, node string, revision int64) (*CPT, error)
}

type EventLog interface {
	LoadAfter(ctx context.Context, afterSeq int64, limit int) ([]Event, error)
	// Head returns the last sequence number and hash, or (0, GenesisHash).
	Head(ctx context.Context) (int64, string, error)
}
