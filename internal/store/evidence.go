package store

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EvidenceStore is the durable evidence ledger. Rows are only ever
// inserted; the schema rejects updates and deletes.
type EvidenceStore struct {
	db *pgxpool.Pool
}

func NewEvidenceStore(db *pgxpool.Pool) *EvidenceStore {
	return &EvidenceStore{db: db}
}

func (s *EvidenceStore) Append(ctx context.Context, e *domain.Evidence) (domain.Event, error) {
	var ev domain.Event
	err := inLedgerTx(ctx, s.db, func(tx pgx.Tx) error {
		state, err := lockClaim(ctx, tx, e.ClaimID)
		if err != nil {
			return err
		}
		if state == domain.ClaimStateResolved {
			return fmt.Errorf("%w: claim %d is resolved", ErrStateConflict, e.ClaimID)
		}

		// Ids come from the ledger lock, not a sequence, so they are gap-free
		// and increase in commit order.
		err = tx.QueryRow(ctx,
			`INSERT INTO evidence (id, claim_id, evidence_index, value, reporter, created_at)
			 SELECT COALESCE(MAX(id), 0) + 1, $1, $2, $3, $4, NOW() FROM evidence
			 RETURNING id, created_at`,
			e.ClaimID, e.Index, e.Value, e.Reporter,
		).Scan(&e.ID, &e.CreatedAt)
		if err != nil {
			return err
		}

		ev, err = domain.NewEvent(domain.EventEvidenceAdded, e.ClaimID, domain.EvidenceAddedPayload{
			EvidenceID:    e.ID,
			ClaimID:       e.ClaimID,
			EvidenceIndex: e.Index,
			Value:         e.Value,
			Reporter:      e.Reporter,
		})
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, &ev)
	})
	return ev, err
}

func (s *EvidenceStore) GetIDsForClaim(ctx context.Context, claimID int64) ([]int64, error) {
	return evidenceIDs(ctx, s.db, claimID)
}

// GetByIDs returns the records for ids in the order requested. Unknown ids
// are an error.
func (s *EvidenceStore) GetByIDs(ctx context.Context, ids []int64) ([]domain.Evidence, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, claim_id, evidence_index, value, reporter, created_at
		 FROM evidence WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	found, err := scanEvidence(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]domain.Evidence, len(found))
	for _, e := range found {
		byID[e.ID] = e
	}
	out := make([]domain.Evidence, 0, len(ids))
	for _, id := range ids {
		e, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: evidence %d", ErrNotFound, id)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *EvidenceStore) ListByClaim(ctx context.Context, claimID int64) ([]domain.Evidence, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, claim_id, evidence_index, value, reporter, created_at
		 FROM evidence WHERE claim_id = $1 ORDER BY id ASC`,
		claimID,
	)
	if err != nil {
		return nil, err
	}
	return scanEvidence(rows)
}

func scanEvidence(rows pgx.Rows) ([]domain.Evidence, error) {
	defer rows.Close()

	out := []domain.Evidence{}
	for rows.Next() {
		var e domain.Evidence
		if err := rows.Scan(&e.ID, &e.ClaimID, &e.Index, &e.Value, &e.Reporter, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
