package store

import (
	"context"
	"errors"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ActorStore struct {
	db *pgxpool.Pool
}

func NewActorStore(db *pgxpool.Pool) *ActorStore {
	return &ActorStore{db: db}
}

func (s *ActorStore) Create(ctx context.Context, a *domain.Actor) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO actors (name, roles, api_key_hash) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		a.Name, rolesToStrings(a.Roles), a.APIKeyHash,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *ActorStore) GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*domain.Actor, error) {
	return s.getOne(ctx,
		`SELECT id, name, roles, api_key_hash, created_at FROM actors WHERE api_key_hash = $1`,
		apiKeyHash)
}

func (s *ActorStore) GetByName(ctx context.Context, name string) (*domain.Actor, error) {
	return s.getOne(ctx,
		`SELECT id, name, roles, api_key_hash, created_at FROM actors WHERE name = $1`,
		name)
}

func (s *ActorStore) getOne(ctx context.Context, query string, arg any) (*domain.Actor, error) {
	a := &domain.Actor{}
	var roles []string
	err := s.db.QueryRow(ctx, query, arg).Scan(&a.ID, &a.Name, &roles, &a.APIKeyHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	for _, r := range roles {
		a.Roles = append(a.Roles, domain.Role(r))
	}
	return a, nil
}

func rolesToStrings(roles []domain.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
