package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CPTStore keeps every revision of every table. A write inserts revision
// expectedPrior+1; the (node, revision) key makes a lost race a conflict.
type CPTStore struct {
	db *pgxpool.Pool
}

func NewCPTStore(db *pgxpool.Pool) *CPTStore {
	return &CPTStore{db: db}
}

func (s *CPTStore) Put(ctx context.Context, c *domain.CPT, expectedPrior int64) (domain.Event, error) {
	var ev domain.Event
	err := inLedgerTx(ctx, s.db, func(tx pgx.Tx) error {
		var current int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(revision), 0) FROM cpt_revisions WHERE node = $1`,
			c.Node,
		).Scan(&current); err != nil {
			return err
		}
		if current != expectedPrior {
			return fmt.Errorf("%w: %s is at revision %d, expected %d", ErrRevisionConflict, c.Node, current, expectedPrior)
		}

		c.Revision = expectedPrior + 1
		err := tx.QueryRow(ctx,
			`INSERT INTO cpt_revisions (node, revision, table_rows, updated_by) VALUES ($1, $2, $3, $4)
			 RETURNING created_at`,
			c.Node, c.Revision, c.Rows, c.UpdatedBy,
		).Scan(&c.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrRevisionConflict
			}
			return err
		}

		ev, err = domain.NewEvent(domain.EventCPTUpdated, 0, domain.CPTUpdatedPayload{
			Node: c.Node, Revision: c.Revision, UpdatedBy: c.UpdatedBy,
		})
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, &ev)
	})
	return ev, err
}

func (s *CPTStore) Latest(ctx context.Context, node string) (*domain.CPT, error) {
	return s.getOne(ctx,
		`SELECT node, revision, table_rows, updated_by, created_at FROM cpt_revisions
		 WHERE node = $1 ORDER BY revision DESC LIMIT 1`,
		node)
}

func (s *CPTStore) GetRevision(ctx context.Context, node string, revision int64) (*domain.CPT, error) {
	return s.getOne(ctx,
		`SELECT node, revision, table_rows, updated_by, created_at FROM cpt_revisions
		 WHERE node = $1 AND revision = $2`,
		node, revision)
}

// Snapshot reads the latest revision of each node in one statement, so all
// tables come from the same point in time. Nodes without a table are absent.
func (s *CPTStore) Snapshot(ctx context.Context, nodes []string) (domain.CPTSnapshot, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT ON (node) node, revision, table_rows, updated_by, created_at
		 FROM cpt_revisions WHERE node = ANY($1)
		 ORDER BY node, revision DESC`,
		nodes,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := make(domain.CPTSnapshot, len(nodes))
	for rows.Next() {
		var c domain.CPT
		if err := rows.Scan(&c.Node, &c.Revision, &c.Rows, &c.UpdatedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		snap[c.Node] = c
	}
	return snap, rows.Err()
}

func (s *CPTStore) getOne(ctx context.Context, query string, args ...any) (*domain.CPT, error) {
	c := &domain.CPT{}
	err := s.db.QueryRow(ctx, query, args...).Scan(&c.Node, &c.Revision, &c.Rows, &c.UpdatedBy, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}
