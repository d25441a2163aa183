package service

import (
	"context"
	"testing"
	"time"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (e *testEnv) watcher(auto bool) *WatcherService {
	w := NewWatcherService(e.claims, e.oracle, e.set.Claims, e.set.Events, e.feed, e.controller, zap.NewNop())
	w.SetAutoResolve(auto)
	w.SetInterval(time.Hour)
	return w
}

func (e *testEnv) stateOf(t *testing.T, id int64) domain.ClaimState {
	t.Helper()
	c, err := e.claims.Get(context.Background(), id)
	require.NoError(t, err)
	return c.State
}

func TestWatcher_AutoResolve(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, skewedTables())

	// Complete before the watcher starts: picked up by the startup sweep.
	early := env.open(t, "early")
	env.report(t, env.reporter, early.ID, complete)

	w := env.watcher(true)
	require.NoError(t, w.Start())
	defer w.Stop()

	assert.Equal(t, domain.ClaimStateResolved, env.stateOf(t, early.ID))

	late := env.open(t, "late")
	env.report(t, env.reporter, late.ID, map[int]int{0: 1, 1: 0})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.ClaimStateOpen, env.stateOf(t, late.ID), "incomplete claims are left alone")

	_, err := env.evidence.Add(context.Background(), env.reporter, late.ID, 3, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return env.stateOf(t, late.ID) == domain.ClaimStateResolved
	}, 2*time.Second, 10*time.Millisecond)

	b, err := env.claims.Belief(context.Background(), late.ID)
	require.NoError(t, err)
	assert.Equal(t, "controller", b.ResolvedBy)
}

func TestWatcher_TriggerOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, skewedTables())

	w := env.watcher(false)
	require.NoError(t, w.Start())
	defer w.Stop()

	c := env.open(t, "visit")
	env.report(t, env.reporter, c.ID, complete)

	require.Eventually(t, func() bool {
		return env.stateOf(t, c.ID) == domain.ClaimStateInferenceTriggered
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.ClaimStateInferenceTriggered, env.stateOf(t, c.ID))
}
