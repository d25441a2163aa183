package service

import (
	"context"
	"testing"

	"github.com/Harshitk-cp/bnoracle/internal/bayes"
	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/lifecycle"
	"github.com/Harshitk-cp/bnoracle/internal/notify"
	"github.com/Harshitk-cp/bnoracle/internal/store"
	"github.com/Harshitk-cp/bnoracle/internal/store/memstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	set  *store.Set
	net  *bayes.Network
	feed *notify.Feed

	evidence *EvidenceService
	claims   *ClaimService
	cpts     *CPTService
	oracle   *OracleService
	audit    *AuditService
	actors   *ActorService

	reporter   *domain.Actor
	governance *domain.Actor
	controller *domain.Actor
	auditor    *domain.Actor
}

func newActor(name string, roles ...domain.Role) *domain.Actor {
	return &domain.Actor{Name: name, Roles: roles}
}

// observationRows is indexed by PPH*2+PPR: the more outcomes hold, the
// likelier a positive report.
var observationRows = [][]float64{
	{0.9, 0.1},
	{0.3, 0.7},
	{0.2, 0.8},
	{0.05, 0.95},
}

func skewedTables() map[string][][]float64 {
	return map[string][][]float64{
		"PPH": {{0.9, 0.1}},
		"PPR": {{0.8, 0.2}},
		"GPS": domain.CloneRows(observationRows),
		"PC":  domain.CloneRows(observationRows),
		"PMD": domain.CloneRows(observationRows),
		"PR":  domain.CloneRows(observationRows),
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	set := memstore.New().Set()
	net := bayes.Reference()
	machine, err := lifecycle.New()
	require.NoError(t, err)

	env := &testEnv{
		set:        set,
		net:        net,
		feed:       notify.NewFeed(set.Events, logger),
		reporter:   newActor("reporter-1", domain.RoleReporter),
		governance: newActor("gov", domain.RoleGovernance),
		controller: newActor("controller", domain.RoleController),
		auditor:    newActor("auditor", domain.RoleAuditor),
	}
	env.evidence = NewEvidenceService(set.Evidence, set.Claims, net, logger)
	env.claims = NewClaimService(set.Claims, set.Evidence, net, machine, logger)
	env.cpts = NewCPTService(set.CPTs, net, bayes.DefaultTolerance, logger)
	env.oracle = NewOracleService(env.claims, set.Claims, set.Evidence, set.CPTs, net, OracleConfig{}, logger)
	env.audit = NewAuditService(set.Claims, set.Evidence, set.CPTs, set.Events, net, logger)
	env.actors = NewActorService(set.Actors, logger)

	env.evidence.SetNotifier(env.feed)
	env.claims.SetNotifier(env.feed)
	env.cpts.SetNotifier(env.feed)
	env.oracle.SetNotifier(env.feed)
	return env
}

func (e *testEnv) seed(t *testing.T, tables map[string][][]float64) {
	t.Helper()
	_, err := e.cpts.Seed(context.Background(), e.governance, tables, true)
	require.NoError(t, err)
}

func (e *testEnv) open(t *testing.T, key string) *domain.Claim {
	t.Helper()
	c, err := e.claims.Open(context.Background(), e.reporter, key)
	require.NoError(t, err)
	return c
}

// report files one observation per evidence index, in index order.
func (e *testEnv) report(t *testing.T, by *domain.Actor, claimID int64, values map[int]int) {
	t.Helper()
	for idx := 0; idx < 4; idx++ {
		v, ok := values[idx]
		if !ok {
			continue
		}
		_, err := e.evidence.Add(context.Background(), by, claimID, idx, v)
		require.NoError(t, err)
	}
}

// complete is a report that satisfies the reference network's required
// nodes (GPS, PC, PR).
var complete = map[int]int{0: 1, 1: 1, 3: 1}
