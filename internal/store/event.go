package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxEventPage = 1000

type EventStore struct {
	db *pgxpool.Pool
}

func NewEventStore(db *pgxpool.Pool) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) LoadAfter(ctx context.Context, afterSeq int64, limit int) ([]domain.Event, error) {
	if limit <= 0 || limit > maxEventPage {
		limit = maxEventPage
	}
	rows, err := s.db.Query(ctx,
		`SELECT seq, type, claim_id, payload, prev_hash, hash, created_at
		 FROM ledger_events WHERE seq > $1 ORDER BY seq ASC LIMIT $2`,
		afterSeq, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			e       domain.Event
			typ     string
			payload []byte
		)
		if err := rows.Scan(&e.Seq, &typ, &e.ClaimID, &payload, &e.PrevHash, &e.Hash, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(typ)
		e.Payload = json.RawMessage(payload)
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *EventStore) Head(ctx context.Context) (int64, string, error) {
	var (
		seq  int64
		hash string
	)
	err := s.db.QueryRow(ctx,
		`SELECT seq, hash FROM ledger_events ORDER BY seq DESC LIMIT 1`,
	).Scan(&seq, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.GenesisHash, nil
		}
		return 0, "", err
	}
	return seq, hash, nil
}
