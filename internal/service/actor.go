package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const apiKeyPrefix = "bno_"

type ActorService struct {
	store  domain.ActorStore
	logger *zap.Logger
}

func NewActorService(s domain.ActorStore, logger *zap.Logger) *ActorService {
	return &ActorService{store: s, logger: logger}
}

// Create registers an actor on behalf of a governance actor. The plaintext
// API key is returned once and only its hash is stored.
func (s *ActorService) Create(ctx context.Context, by *domain.Actor, name string, roles []domain.Role) (*domain.Actor, string, error) {
	if err := requireRole(by, domain.RoleGovernance); err != nil {
		return nil, "", err
	}
	return s.Bootstrap(ctx, name, roles)
}

// Bootstrap creates an actor without an authorizing caller. It exists for
// the operator CLI, which is how the first governance actor is made.
func (s *ActorService) Bootstrap(ctx context.Context, name string, roles []domain.Role) (*domain.Actor, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if len(roles) == 0 {
		return nil, "", fmt.Errorf("%w: at least one role is required", domain.ErrValidation)
	}
	for _, r := range roles {
		if !r.IsValid() {
			return nil, "", fmt.Errorf("%w: unknown role %q", domain.ErrValidation, r)
		}
	}

	key, err := generateAPIKey()
	if err != nil {
		return nil, "", err
	}
	actor := &domain.Actor{
		ID:         uuid.New(),
		Name:       name,
		Roles:      roles,
		APIKeyHash: domain.HashAPIKey(key),
	}
	if err := s.store.Create(ctx, actor); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, "", fmt.Errorf("%w: actor %q already exists", domain.ErrValidation, name)
		}
		return nil, "", err
	}
	s.logger.Info("actor created", zap.String("name", name), zap.Any("roles", roles))
	return actor, key, nil
}

// Authenticate resolves a plaintext API key to its actor.
func (s *ActorService) Authenticate(ctx context.Context, apiKey string) (*domain.Actor, error) {
	if apiKey == "" {
		return nil, domain.ErrUnauthorized
	}
	actor, err := s.store.GetByAPIKeyHash(ctx, domain.HashAPIKey(apiKey))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown api key", domain.ErrUnauthorized)
	}
	return actor, err
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(b), nil
}
