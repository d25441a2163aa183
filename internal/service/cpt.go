package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/Harshitk-cp/bnoracle/internal/bayes"
	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/store"
	"go.uber.org/zap"
)

type CPTService struct {
	cpts      domain.CPTStore
	network   *bayes.Network
	tolerance float64
	notifier  Notifier
	logger    *zap.Logger

	seedRetry retry.Retry[int64]
}

func NewCPTService(cpts domain.CPTStore, net *bayes.Network, tolerance float64, logger *zap.Logger) *CPTService {
	if tolerance <= 0 {
		tolerance = bayes.DefaultTolerance
	}
	return &CPTService{
		cpts:      cpts,
		network:   net,
		tolerance: tolerance,
		logger:    logger,
		seedRetry: retry.New[int64](retry.Config{
			MaxAttempts:   5,
			InitialDelay:  10 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    2.0,
			// Only a lost revision race is worth another attempt.
			NonRetryableErrors: []error{domain.ErrValidation, domain.ErrUnauthorized},
		}),
	}
}

func (s *CPTService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetRow writes the distribution for one parent assignment of node and
// returns the new revision. expected must be the node's current revision
// (0 before the first write).
func (s *CPTService) SetRow(ctx context.Context, actor *domain.Actor, node string, assignment []int, dist []float64, expected int64) (*domain.CPT, error) {
	if err := requireRole(actor, domain.RoleGovernance); err != nil {
		return nil, err
	}
	row, err := s.network.RowIndex(node, assignment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := s.network.ValidateRow(node, dist, s.tolerance); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	current, err := s.cpts.Latest(ctx, node)
	var rows [][]float64
	switch {
	case errors.Is(err, store.ErrNotFound):
		if expected != 0 {
			return nil, fmt.Errorf("%w: %s has no revisions, expected %d", domain.ErrConcurrentModification, node, expected)
		}
		// Every stored revision is a complete table, so only a node with a
		// single row can start from a row write.
		if n := s.network.RowCount(node); n != 1 {
			return nil, fmt.Errorf("%w: %s has no table yet; write all %d rows first", domain.ErrValidation, node, n)
		}
		rows = make([][]float64, 1)
	case err != nil:
		return nil, err
	default:
		if current.Revision != expected {
			return nil, fmt.Errorf("%w: %s is at revision %d, expected %d",
				domain.ErrConcurrentModification, node, current.Revision, expected)
		}
		rows = domain.CloneRows(current.Rows)
	}
	rows[row] = append([]float64(nil), dist...)

	return s.put(ctx, actor, node, rows, expected)
}

// SetTable replaces every row of node in one revision.
func (s *CPTService) SetTable(ctx context.Context, actor *domain.Actor, node string, rows [][]float64, expected int64) (*domain.CPT, error) {
	if err := requireRole(actor, domain.RoleGovernance); err != nil {
		return nil, err
	}
	if err := s.network.ValidateTable(node, rows, s.tolerance); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return s.put(ctx, actor, node, domain.CloneRows(rows), expected)
}

func (s *CPTService) put(ctx context.Context, actor *domain.Actor, node string, rows [][]float64, expected int64) (*domain.CPT, error) {
	cpt := &domain.CPT{Node: node, Rows: rows, UpdatedBy: actor.Name}
	event, err := s.cpts.Put(ctx, cpt, expected)
	if err != nil {
		if errors.Is(err, store.ErrRevisionConflict) {
			return nil, fmt.Errorf("%w: %v", domain.ErrConcurrentModification, err)
		}
		return nil, err
	}
	notifyWritten(s.notifier)

	s.logger.Info("cpt revision written",
		zap.String("node", node),
		zap.Int64("revision", cpt.Revision),
		zap.String("updated_by", actor.Name),
		zap.Int64("seq", event.Seq))
	return cpt, nil
}

// Snapshot reads the latest revision of each node. An empty list means
// every node of the network.
func (s *CPTService) Snapshot(ctx context.Context, nodes []string) (domain.CPTSnapshot, error) {
	if len(nodes) == 0 {
		nodes = s.network.NodeNames()
	}
	for _, n := range nodes {
		if _, ok := s.network.Node(n); !ok {
			return nil, fmt.Errorf("%w: unknown node %q", domain.ErrValidation, n)
		}
	}
	return s.cpts.Snapshot(ctx, nodes)
}

func (s *CPTService) Revision(ctx context.Context, node string, revision int64) (*domain.CPT, error) {
	cpt, err := s.cpts.GetRevision(ctx, node, revision)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s revision %d", domain.ErrNotFound, node, revision)
	}
	return cpt, err
}

// Seed writes tables as whole-table revisions. Nodes that already have a
// revision are left alone unless overwrite is set. A write that loses a
// revision race is retried against the new head. Returns the revision of
// each node written.
func (s *CPTService) Seed(ctx context.Context, actor *domain.Actor, tables map[string][][]float64, overwrite bool) (map[string]int64, error) {
	if err := requireRole(actor, domain.RoleGovernance); err != nil {
		return nil, err
	}
	nodes := make([]string, 0, len(tables))
	for node := range tables {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	written := make(map[string]int64, len(nodes))
	for _, node := range nodes {
		rows := tables[node]
		rev, err := s.seedRetry.Do(ctx, func(ctx context.Context) (int64, error) {
			var expected int64
			current, err := s.cpts.Latest(ctx, node)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return 0, err
			case !overwrite:
				return 0, nil
			default:
				expected = current.Revision
			}
			cpt, err := s.SetTable(ctx, actor, node, rows, expected)
			if err != nil {
				return 0, err
			}
			return cpt.Revision, nil
		})
		if err != nil {
			return written, fmt.Errorf("seed %s: %w", node, err)
		}
		if rev > 0 {
			written[node] = rev
		}
	}
	return written, nil
}
