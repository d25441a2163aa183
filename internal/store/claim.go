package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ClaimStore struct {
	db *pgxpool.Pool
}

func NewClaimStore(db *pgxpool.Pool) *ClaimStore {
	return &ClaimStore{db: db}
}

func (s *ClaimStore) Create(ctx context.Context, c *domain.Claim) (domain.Event, error) {
	var ev domain.Event
	err := inLedgerTx(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO claims (external_key, opened_by, state) VALUES ($1, $2, $3)
			 RETURNING id, state, created_at, updated_at`,
			c.ExternalKey, c.OpenedBy, string(domain.ClaimStateOpen),
		).Scan(&c.ID, &c.State, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return err
		}
		c.EvidenceIDs = []int64{}

		ev, err = domain.NewEvent(domain.EventClaimOpened, c.ID, domain.ClaimOpenedPayload{
			ClaimID: c.ID, ExternalKey: c.ExternalKey, OpenedBy: c.OpenedBy,
		})
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, &ev)
	})
	return ev, err
}

func (s *ClaimStore) GetByID(ctx context.Context, id int64) (*domain.Claim, error) {
	c := &domain.Claim{}
	err := s.db.QueryRow(ctx,
		`SELECT id, external_key, opened_by, state, created_at, updated_at, triggered_at, resolved_at
		 FROM claims WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.ExternalKey, &c.OpenedBy, &c.State, &c.CreatedAt, &c.UpdatedAt, &c.TriggeredAt, &c.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	c.EvidenceIDs, err = evidenceIDs(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ClaimStore) ListByState(ctx context.Context, state domain.ClaimState, limit int) ([]domain.Claim, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, external_key, opened_by, state, created_at, updated_at, triggered_at, resolved_at
		 FROM claims WHERE state = $1 ORDER BY id ASC LIMIT $2`,
		string(state), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []domain.Claim
	for rows.Next() {
		var c domain.Claim
		if err := rows.Scan(&c.ID, &c.ExternalKey, &c.OpenedBy, &c.State, &c.CreatedAt, &c.UpdatedAt, &c.TriggeredAt, &c.ResolvedAt); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (s *ClaimStore) Trigger(ctx context.Context, id int64) (domain.Event, bool, error) {
	var (
		ev      domain.Event
		changed bool
	)
	err := inLedgerTx(ctx, s.db, func(tx pgx.Tx) error {
		state, err := lockClaim(ctx, tx, id)
		if err != nil {
			return err
		}
		switch state {
		case domain.ClaimStateInferenceTriggered:
			return nil
		case domain.ClaimStateResolved:
			return fmt.Errorf("%w: claim %d is resolved", ErrStateConflict, id)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE claims SET state = $2, triggered_at = NOW(), updated_at = NOW()
			 WHERE id = $1 AND state = $3`,
			id, string(domain.ClaimStateInferenceTriggered), string(domain.ClaimStateOpen),
		); err != nil {
			return err
		}

		ids, err := evidenceIDs(ctx, tx, id)
		if err != nil {
			return err
		}
		ev, err = domain.NewEvent(domain.EventClaimTriggered, id, domain.ClaimTriggeredPayload{ClaimID: id, EvidenceIDs: ids})
		if err != nil {
			return err
		}
		changed = true
		return appendEvent(ctx, tx, &ev)
	})
	return ev, changed, err
}

// Resolve commits b and the resolved state together. Only a claim in
// inference_triggered can be resolved, so at most one belief is ever stored.
func (s *ClaimStore) Resolve(ctx context.Context, b *domain.Belief) (domain.Event, error) {
	var ev domain.Event
	err := inLedgerTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE claims SET state = $2, resolved_at = NOW(), updated_at = NOW()
			 WHERE id = $1 AND state = $3`,
			b.ClaimID, string(domain.ClaimStateResolved), string(domain.ClaimStateInferenceTriggered),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			if _, err := lockClaim(ctx, tx, b.ClaimID); err != nil {
				return err
			}
			return fmt.Errorf("%w: claim %d is not awaiting resolution", ErrStateConflict, b.ClaimID)
		}

		if b.CreatedAt.IsZero() {
			b.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO beliefs (claim_id, posteriors, cpt_revisions, evidence_ids, observations, likelihood, digest, resolved_by, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			b.ClaimID, b.Posteriors, b.CPTRevisions, b.EvidenceIDs, b.Observations, b.Likelihood, b.Digest, b.ResolvedBy, b.CreatedAt,
		); err != nil {
			return err
		}

		ev, err = domain.NewEvent(domain.EventClaimResolved, b.ClaimID, domain.ClaimResolvedPayload{
			ClaimID:      b.ClaimID,
			Posteriors:   b.Posteriors,
			CPTRevisions: b.CPTRevisions,
			EvidenceIDs:  b.EvidenceIDs,
			Digest:       b.Digest,
			ResolvedBy:   b.ResolvedBy,
		})
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, &ev)
	})
	return ev, err
}

func (s *ClaimStore) GetBelief(ctx context.Context, claimID int64) (*domain.Belief, error) {
	b := &domain.Belief{}
	err := s.db.QueryRow(ctx,
		`SELECT claim_id, posteriors, cpt_revisions, evidence_ids, observations, likelihood, digest, resolved_by, created_at
		 FROM beliefs WHERE claim_id = $1`,
		claimID,
	).Scan(&b.ClaimID, &b.Posteriors, &b.CPTRevisions, &b.EvidenceIDs, &b.Observations, &b.Likelihood, &b.Digest, &b.ResolvedBy, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// lockClaim reads the claim's state under a row lock.
func lockClaim(ctx context.Context, tx pgx.Tx, id int64) (domain.ClaimState, error) {
	var state domain.ClaimState
	err := tx.QueryRow(ctx, `SELECT state FROM claims WHERE id = $1 FOR UPDATE`, id).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return state, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func evidenceIDs(ctx context.Context, q querier, claimID int64) ([]int64, error) {
	rows, err := q.Query(ctx, `SELECT id FROM evidence WHERE claim_id = $1 ORDER BY id ASC`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
