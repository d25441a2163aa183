package bayes

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func skewedTables() map[string][][]float64 {
	return map[string][][]float64{
		"PPH": {{0.3, 0.7}},
		"PPR": {{0.4, 0.6}},
		"GPS": {{0.9, 0.1}, {0.85, 0.15}, {0.2, 0.8}, {0.1, 0.9}},
		"PC":  {{0.7, 0.3}, {0.9, 0.1}, {0.4, 0.6}, {0.05, 0.95}},
		"PMD": {{0.8, 0.2}, {0.8, 0.2}, {0.25, 0.75}, {0.2, 0.8}},
		"PR":  {{0.75, 0.25}, {0.85, 0.15}, {0.3, 0.7}, {0.15, 0.85}},
	}
}

// enumerate computes P(node | evidence) by summing the full joint.
func enumerate(n *Network, tables map[string][][]float64, evidence map[string]int, node string) []float64 {
	specs := n.Nodes()
	card := make([]int, len(specs))
	for i, ns := range specs {
		card[i] = ns.States
	}
	q := n.index[node]
	dist := make([]float64, card[q])

	assign := make([]int, len(specs))
	for k := 0; k < tableSize(card); k++ {
		consistent := true
		for name, v := range evidence {
			if assign[n.index[name]] != v {
				consistent = false
			}
		}
		if consistent {
			p := 1.0
			for i, ns := range specs {
				row := 0
				for _, par := range ns.Parents {
					pi := n.index[par]
					row = row*specs[pi].States + assign[pi]
				}
				p *= tables[ns.Name][row][assign[i]]
			}
			dist[assign[q]] += p
		}
		next(assign, card)
	}

	z := 0.0
	for _, p := range dist {
		z += p
	}
	for s := range dist {
		dist[s] /= z
	}
	return dist
}

func TestInfer_ConcreteScenario(t *testing.T) {
	net, err := New(Spec{
		Nodes: []NodeSpec{
			{Name: "GPS", Role: RoleObservation, EvidenceIndex: intPtr(0)},
			{Name: "PC", Role: RoleObservation, EvidenceIndex: intPtr(1)},
			{Name: "PR", Role: RoleObservation, EvidenceIndex: intPtr(3)},
			{Name: "PPH", Parents: []string{"GPS", "PC", "PR"}, Role: RoleTarget},
		},
	})
	require.NoError(t, err)

	pph := make([][]float64, 8)
	for r := range pph {
		pph[r] = []float64{0.5, 0.5}
	}
	row, err := net.RowIndex("PPH", []int{1, 1, 1})
	require.NoError(t, err)
	pph[row] = []float64{0.05, 0.95}

	tables := map[string][][]float64{
		"GPS": {{0.4, 0.6}},
		"PC":  {{0.5, 0.5}},
		"PR":  {{0.7, 0.3}},
		"PPH": pph,
	}

	res, err := net.Infer(context.Background(), tables, map[string]int{"GPS": 1, "PC": 1, "PR": 1})
	require.NoError(t, err)

	dist, ok := res.Marginal("PPH")
	require.True(t, ok)
	assert.InDelta(t, 0.95, dist[1], eps)
	assert.InDelta(t, 0.05, dist[0], eps)
	assert.InDelta(t, 0.6*0.5*0.3, res.Likelihood, eps)
	assert.Equal(t, []int64{50000, 950000}, ToPPM(dist))
}

func TestInfer_MatchesEnumeration(t *testing.T) {
	net := Reference()
	tables := skewedTables()

	cases := []map[string]int{
		{},
		{"GPS": 1},
		{"GPS": 1, "PC": 1, "PR": 0},
		{"GPS": 0, "PC": 1, "PMD": 1, "PR": 1},
		{"PMD": 0},
	}
	for _, ev := range cases {
		res, err := net.Infer(context.Background(), tables, ev)
		require.NoError(t, err)
		for _, target := range net.Targets() {
			got, _ := res.Marginal(target)
			want := enumerate(net, tables, ev, target)
			for s := range want {
				if math.Abs(got[s]-want[s]) > eps {
					t.Errorf("evidence %v target %s state %d: got %v, want %v", ev, target, s, got[s], want[s])
				}
			}
		}
	}
}

func TestInfer_AbsenceDiffersFromNegative(t *testing.T) {
	net := Reference()
	tables := skewedTables()
	ctx := context.Background()

	absent, err := net.Infer(ctx, tables, map[string]int{"GPS": 1, "PC": 1})
	require.NoError(t, err)
	negative, err := net.Infer(ctx, tables, map[string]int{"GPS": 1, "PC": 1, "PR": 0})
	require.NoError(t, err)

	a, _ := absent.Marginal("PPH")
	b, _ := negative.Marginal("PPH")
	if math.Abs(a[1]-b[1]) < 1e-3 {
		t.Fatalf("expected omitted PR to differ from PR=0, got %v and %v", a, b)
	}
	assert.Greater(t, a[1], b[1], "observing PR=0 should lower P(PPH=1)")
}

func TestInfer_Deterministic(t *testing.T) {
	net := Reference()
	tables := skewedTables()
	ev := map[string]int{"GPS": 1, "PC": 0, "PR": 1}

	first, err := net.Infer(context.Background(), tables, ev)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		res, err := net.Infer(context.Background(), tables, ev)
		require.NoError(t, err)
		require.Equal(t, math.Float64bits(first.Likelihood), math.Float64bits(res.Likelihood))
		for k, m := range res.Marginals {
			for s, p := range m.Distribution {
				if math.Float64bits(p) != math.Float64bits(first.Marginals[k].Distribution[s]) {
					t.Fatalf("run %d: %s[%d] = %v, first run gave %v", i, m.Node, s, p, first.Marginals[k].Distribution[s])
				}
			}
		}
	}
}

func TestInfer_ZeroLikelihood(t *testing.T) {
	net := Reference()
	tables := skewedTables()
	// GPS can never be 1.
	tables["GPS"] = [][]float64{{1, 0}, {1, 0}, {1, 0}, {1, 0}}

	_, err := net.Infer(context.Background(), tables, map[string]int{"GPS": 1})
	if !errors.Is(err, ErrZeroLikelihood) {
		t.Fatalf("expected ErrZeroLikelihood, got %v", err)
	}

	// unobserved, the same table is fine
	res, err := net.Infer(context.Background(), tables, map[string]int{"PC": 1})
	require.NoError(t, err)
	dist, _ := res.Marginal("PPH")
	assert.InDelta(t, 1.0, dist[0]+dist[1], eps)
}

func TestInfer_ObservedTargetIsOneHot(t *testing.T) {
	net := Reference()
	res, err := net.Infer(context.Background(), skewedTables(), map[string]int{"PPH": 1, "GPS": 0})
	require.NoError(t, err)

	dist, _ := res.Marginal("PPH")
	assert.Equal(t, []float64{0, 1}, dist)

	ppr, _ := res.Marginal("PPR")
	want := enumerate(net, skewedTables(), map[string]int{"PPH": 1, "GPS": 0}, "PPR")
	assert.InDelta(t, want[1], ppr[1], eps)
}

func TestInfer_PriorOnlyNode(t *testing.T) {
	net, err := New(Spec{
		Nodes: []NodeSpec{
			{Name: "T", Role: RoleTarget},
			{Name: "Loose", States: 3},
			{Name: "E", Parents: []string{"T"}, Role: RoleObservation, EvidenceIndex: intPtr(0)},
		},
	})
	require.NoError(t, err)

	tables := map[string][][]float64{
		"T":     {{0.2, 0.8}},
		"Loose": {{0.1, 0.2, 0.7}},
		"E":     {{0.9, 0.1}, {0.3, 0.7}},
	}
	res, err := net.Query(context.Background(), tables, map[string]int{"E": 1}, []string{"Loose", "T"})
	require.NoError(t, err)

	loose, _ := res.Marginal("Loose")
	assert.InDeltaSlice(t, []float64{0.1, 0.2, 0.7}, loose, eps)

	tgt, _ := res.Marginal("T")
	assert.InDelta(t, 0.8*0.7/(0.2*0.1+0.8*0.7), tgt[1], eps)
}

func TestInfer_InputErrors(t *testing.T) {
	net := Reference()
	ctx := context.Background()

	t.Run("missing table", func(t *testing.T) {
		tables := skewedTables()
		delete(tables, "PMD")
		_, err := net.Infer(ctx, tables, nil)
		assert.ErrorIs(t, err, ErrIncompleteCPT)
	})

	t.Run("unset row", func(t *testing.T) {
		tables := skewedTables()
		tables["PC"][2] = nil
		_, err := net.Infer(ctx, tables, nil)
		assert.ErrorIs(t, err, ErrIncompleteCPT)
	})

	t.Run("negative entry", func(t *testing.T) {
		tables := skewedTables()
		tables["PR"][0] = []float64{-0.1, 1.1}
		_, err := net.Infer(ctx, tables, nil)
		assert.ErrorIs(t, err, ErrInvalidCPT)
	})

	t.Run("unknown evidence node", func(t *testing.T) {
		_, err := net.Infer(ctx, skewedTables(), map[string]int{"XYZ": 1})
		assert.ErrorIs(t, err, ErrInvalidEvidence)
	})

	t.Run("state out of range", func(t *testing.T) {
		_, err := net.Infer(ctx, skewedTables(), map[string]int{"GPS": 2})
		assert.ErrorIs(t, err, ErrInvalidEvidence)
	})
}

func TestInfer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Reference().Infer(ctx, skewedTables(), map[string]int{"GPS": 1})
	assert.ErrorIs(t, err, context.Canceled)
}
