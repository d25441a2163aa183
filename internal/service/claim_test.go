package service

import (
	"context"
	"testing"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimService_Open(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.open(t, "visit-1")
	assert.Equal(t, domain.ClaimStateOpen, c.State)
	assert.Equal(t, "reporter-1", c.OpenedBy)

	_, err := env.claims.Open(ctx, env.reporter, "visit-1")
	assert.ErrorIs(t, err, domain.ErrClaimConflict)

	_, err = env.claims.Open(ctx, env.reporter, "   ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.claims.Open(ctx, env.auditor, "visit-2")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = env.claims.Get(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrClaimNotFound)
}

func TestClaimService_Trigger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.open(t, "visit-1")

	// PMD is not required, so it does not help.
	env.report(t, env.reporter, c.ID, map[int]int{0: 1, 2: 1})
	_, _, err := env.claims.Trigger(ctx, env.controller, c.ID)
	require.ErrorIs(t, err, domain.ErrEvidenceIncomplete)
	assert.Contains(t, err.Error(), "PC, PR")

	got, err := env.claims.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStateOpen, got.State)

	env.report(t, env.reporter, c.ID, map[int]int{1: 0, 3: 0})
	got, changed, err := env.claims.Trigger(ctx, env.controller, c.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.ClaimStateInferenceTriggered, got.State)
	assert.NotNil(t, got.TriggeredAt)

	got, changed, err = env.claims.Trigger(ctx, env.controller, c.ID)
	require.NoError(t, err)
	assert.False(t, changed, "second trigger is a no-op")
	assert.Equal(t, domain.ClaimStateInferenceTriggered, got.State)

	_, _, err = env.claims.Trigger(ctx, env.reporter, c.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestClaimService_TriggerResolved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, skewedTables())
	c := env.open(t, "visit-1")
	env.report(t, env.reporter, c.ID, complete)
	_, err := env.oracle.Resolve(ctx, env.controller, c.ID)
	require.NoError(t, err)

	_, _, err = env.claims.Trigger(ctx, env.controller, c.ID)
	assert.ErrorIs(t, err, domain.ErrClaimClosed)
}

func TestClaimService_Belief(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.open(t, "visit-1")

	_, err := env.claims.Belief(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrBeliefNotFound)

	_, err = env.claims.List(ctx, "closed", 10)
	assert.ErrorIs(t, err, domain.ErrValidation)

	open, err := env.claims.List(ctx, domain.ClaimStateOpen, 10)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestClaimService_AllowResolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, skewedTables())
	c := env.open(t, "visit-1")

	// Open claims must be triggered first.
	assert.ErrorIs(t, env.claims.allowResolve(c), lifecycle.ErrIllegalTransition)

	env.report(t, env.reporter, c.ID, complete)
	triggered, changed, err := env.claims.Trigger(ctx, env.controller, c.ID)
	require.NoError(t, err)
	require.True(t, changed)
	assert.NoError(t, env.claims.allowResolve(triggered))

	_, err = env.oracle.Resolve(ctx, env.controller, c.ID)
	require.NoError(t, err)
	resolved, err := env.claims.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, env.claims.allowResolve(resolved), domain.ErrClaimClosed)
}
