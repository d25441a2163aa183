package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/store"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openClaim(t *testing.T, set *store.Set, key string) *domain.Claim {
	t.Helper()
	c := &domain.Claim{ExternalKey: key, OpenedBy: "reporter-1"}
	_, err := set.Claims.Create(context.Background(), c)
	require.NoError(t, err)
	return c
}

func TestEvidence_OrderPreservedUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	set := New().Set()
	a := openClaim(t, set, "claim-a")
	b := openClaim(t, set, "claim-b")

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				claimID := a.ID
				if (w+i)%2 == 0 {
					claimID = b.ID
				}
				_, err := set.Evidence.Append(ctx, &domain.Evidence{ClaimID: claimID, Index: i % 4, Value: 1, Reporter: fmt.Sprintf("r%d", w)})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	idsA, err := set.Evidence.GetIDsForClaim(ctx, a.ID)
	require.NoError(t, err)
	idsB, err := set.Evidence.GetIDsForClaim(ctx, b.ID)
	require.NoError(t, err)

	assert.Equal(t, writers*perWriter, len(idsA)+len(idsB))
	for _, ids := range [][]int64{idsA, idsB} {
		for i := 1; i < len(ids); i++ {
			if ids[i] <= ids[i-1] {
				t.Fatalf("ids not strictly increasing: %v", ids)
			}
		}
	}

	// the event log saw every append, in id order
	events, err := set.Events.LoadAfter(ctx, 0, 0)
	require.NoError(t, err)
	var last int64
	for _, ev := range events {
		if ev.Type != domain.EventEvidenceAdded {
			continue
		}
		var p domain.EvidenceAddedPayload
		require.NoError(t, ev.DecodePayload(&p))
		assert.Equal(t, last+1, p.EvidenceID)
		last = p.EvidenceID
	}
	_, err = domain.VerifyChain(0, domain.GenesisHash, events)
	require.NoError(t, err)
}

func TestProperty_EvidenceIDsFollowArrivalOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ids come back in call order with no gaps or extras", prop.ForAll(
		func(claimPicks []int) bool {
			ctx := context.Background()
			s := New()
			set := s.Set()
			var claims []int64
			for i := 0; i < 3; i++ {
				c := &domain.Claim{ExternalKey: fmt.Sprintf("k%d", i), OpenedBy: "r"}
				if _, err := set.Claims.Create(ctx, c); err != nil {
					return false
				}
				claims = append(claims, c.ID)
			}

			want := map[int64][]int64{}
			for _, pick := range claimPicks {
				e := &domain.Evidence{ClaimID: claims[pick], Index: 0, Value: 1, Reporter: "r"}
				if _, err := set.Evidence.Append(ctx, e); err != nil {
					return false
				}
				want[claims[pick]] = append(want[claims[pick]], e.ID)
			}

			for _, id := range claims {
				got, err := set.Evidence.GetIDsForClaim(ctx, id)
				if err != nil || len(got) != len(want[id]) {
					return false
				}
				for i := range got {
					if got[i] != want[id][i] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

func TestEvidence_Rejections(t *testing.T) {
	ctx := context.Background()
	set := New().Set()

	_, err := set.Evidence.Append(ctx, &domain.Evidence{ClaimID: 99, Value: 1})
	assert.ErrorIs(t, err, store.ErrNotFound)

	c := openClaim(t, set, "closed")
	_, _, err = set.Claims.Trigger(ctx, c.ID)
	require.NoError(t, err)
	_, err = set.Claims.Resolve(ctx, &domain.Belief{ClaimID: c.ID})
	require.NoError(t, err)

	_, err = set.Evidence.Append(ctx, &domain.Evidence{ClaimID: c.ID, Value: 1})
	assert.ErrorIs(t, err, store.ErrStateConflict)

	ids, err := set.Evidence.GetIDsForClaim(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCPT_OptimisticRaceHasOneWinner(t *testing.T) {
	ctx := context.Background()
	set := New().Set()

	const racers = 16
	var (
		wg        sync.WaitGroup
		winners   atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &domain.CPT{Node: "GPS", Rows: [][]float64{{0.5, 0.5}}, UpdatedBy: fmt.Sprintf("gov-%d", i)}
			_, err := set.CPTs.Put(ctx, c, 0)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, store.ErrRevisionConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(racers-1), conflicts.Load())

	latest, err := set.CPTs.Latest(ctx, "GPS")
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest.Revision)
}

func TestCPT_RevisionsAreRetained(t *testing.T) {
	ctx := context.Background()
	set := New().Set()

	for rev := int64(0); rev < 3; rev++ {
		p := 0.1 * float64(rev+1)
		_, err := set.CPTs.Put(ctx, &domain.CPT{Node: "PR", Rows: [][]float64{{1 - p, p}}, UpdatedBy: "gov"}, rev)
		require.NoError(t, err)
	}

	first, err := set.CPTs.GetRevision(ctx, "PR", 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, first.Rows[0][1], 1e-12)

	// callers cannot reach into stored revisions
	first.Rows[0][1] = 42
	again, err := set.CPTs.GetRevision(ctx, "PR", 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, again.Rows[0][1], 1e-12)

	snap, err := set.CPTs.Snapshot(ctx, []string{"PR", "GPS"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"PR": 3}, snap.Revisions())

	_, err = set.CPTs.GetRevision(ctx, "PR", 4)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClaim_ResolveRaceHasOneWinner(t *testing.T) {
	ctx := context.Background()
	set := New().Set()
	c := openClaim(t, set, "race")
	_, changed, err := set.Claims.Trigger(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, changed)

	const racers = 10
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := set.Claims.Resolve(ctx, &domain.Belief{ClaimID: c.ID, ResolvedBy: fmt.Sprintf("ctl-%d", i)})
			if err == nil {
				winners.Add(1)
				return
			}
			assert.ErrorIs(t, err, store.ErrStateConflict)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())

	got, err := set.Claims.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStateResolved, got.State)
	assert.NotNil(t, got.ResolvedAt)
}

func TestClaim_TriggerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	set := New().Set()
	c := openClaim(t, set, "trig")

	_, changed, err := set.Claims.Trigger(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	_, changed, err = set.Claims.Trigger(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	head, _, err := set.Events.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), head, "open + one trigger event")

	_, err = set.Claims.Create(ctx, &domain.Claim{ExternalKey: "trig", OpenedBy: "x"})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestEvents_LoadAfterPages(t *testing.T) {
	ctx := context.Background()
	set := New().Set()
	for i := 0; i < 5; i++ {
		openClaim(t, set, fmt.Sprintf("c%d", i))
	}

	page, err := set.Events.LoadAfter(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].Seq)
	assert.Equal(t, int64(3), page[1].Seq)

	page, err = set.Events.LoadAfter(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}
