package service

import (
	"context"
	"strings"
	"testing"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	gov, key, err := env.actors.Bootstrap(ctx, "root", []domain.Role{domain.RoleGovernance})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "bno_"))
	assert.Len(t, key, len("bno_")+64)
	assert.NotEqual(t, key, gov.APIKeyHash)

	got, err := env.actors.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, gov.ID, got.ID)

	_, err = env.actors.Authenticate(ctx, "bno_wrong")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = env.actors.Authenticate(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	rep, _, err := env.actors.Create(ctx, got, "field-1", []domain.Role{domain.RoleReporter})
	require.NoError(t, err)
	assert.True(t, rep.HasRole(domain.RoleReporter))

	_, _, err = env.actors.Create(ctx, rep, "field-2", []domain.Role{domain.RoleReporter})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, _, err = env.actors.Create(ctx, got, "field-1", []domain.Role{domain.RoleReporter})
	assert.ErrorIs(t, err, domain.ErrValidation, "duplicate name")

	_, _, err = env.actors.Create(ctx, got, "x", []domain.Role{"superuser"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = env.actors.Create(ctx, got, "x", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
