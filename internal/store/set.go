package store

import (
	"context"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Set bundles the stores one backend provides.
type Set struct {
	Actors   domain.ActorStore
	Claims   domain.ClaimRegistry
	Evidence domain.EvidenceLedger
	CPTs     domain.CPTStore
	Events   domain.EventLog
	Ping     func(ctx context.Context) error
}

func NewPostgresSet(db *pgxpool.Pool) *Set {
	return &Set{
		Actors:   NewActorStore(db),
		Claims:   NewClaimStore(db),
		Evidence: NewEvidenceStore(db),
		CPTs:     NewCPTStore(db),
		Events:   NewEventStore(db),
		Ping:     db.Ping,
	}
}

var (
	_ domain.ActorStore     = (*ActorStore)(nil)
	_ domain.ClaimRegistry  = (*ClaimStore)(nil)
	_ domain.EvidenceLedger = (*EvidenceStore)(nil)
	_ domain.CPTStore       = (*CPTStore)(nil)
	_ domain.EventLog       = (*EventStore)(nil)
)
