package bayes

import (
	"context"
	"fmt"
	"math"
)

// Marginal is the posterior distribution of one node.
type Marginal struct {
	Node         string    `json:"node"`
	Distribution []float64 `json:"distribution"`
}

type Result struct {
	Marginals []Marginal `json:"marginals"`
	// Likelihood is P(evidence) under the tables used.
	Likelihood float64 `json:"likelihood"`
}

func (r *Result) Marginal(node string) ([]float64, bool) {
	for _, m := range r.Marginals {
		if m.Node == node {
			return m.Distribution, true
		}
	}
	return nil, false
}

// Infer computes the posterior of every target node. evidence maps node
// names to observed states; nodes absent from it are summed out.
func (n *Network) Infer(ctx context.Context, tables map[string][][]float64, evidence map[string]int) (*Result, error) {
	return n.Query(ctx, tables, evidence, n.Targets())
}

// Query computes the posterior of each named node in the order given.
// For identical inputs the output is bit-identical: elimination order,
// factor order and summation order are all fixed.
func (n *Network) Query(ctx context.Context, tables map[string][][]float64, evidence map[string]int, nodes []string) (*Result, error) {
	obs, err := n.observations(evidence)
	if err != nil {
		return nil, err
	}
	query := make([]int, len(nodes))
	for k, name := range nodes {
		i, ok := n.index[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown query node %q", ErrInvalidEvidence, name)
		}
		query[k] = i
	}

	base, err := n.factors(tables)
	if err != nil {
		return nil, err
	}
	for i := range base {
		base[i] = base[i].reduce(obs)
	}

	res := &Result{Marginals: make([]Marginal, 0, len(query))}
	for k, q := range query {
		dist, z, err := n.marginal(ctx, base, obs, q)
		if err != nil {
			return nil, err
		}
		if k == 0 {
			res.Likelihood = z
		}
		res.Marginals = append(res.Marginals, Marginal{Node: n.nodes[q].Name, Distribution: dist})
	}
	return res, nil
}

func (n *Network) observations(evidence map[string]int) ([]int, error) {
	obs := make([]int, len(n.nodes))
	for i := range obs {
		obs[i] = -1
	}
	for name, v := range evidence {
		i, ok := n.index[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown node %q", ErrInvalidEvidence, name)
		}
		if v < 0 || v >= n.nodes[i].States {
			return nil, fmt.Errorf("%w: node %q has no state %d", ErrInvalidEvidence, name, v)
		}
		obs[i] = v
	}
	return obs, nil
}

// factors builds one factor per node, in declaration order.
func (n *Network) factors(tables map[string][][]float64) ([]factor, error) {
	out := make([]factor, len(n.nodes))
	for i, ns := range n.nodes {
		rows, ok := tables[ns.Name]
		if !ok {
			return nil, fmt.Errorf("%w: no table for %q", ErrIncompleteCPT, ns.Name)
		}
		if len(rows) != n.rowCounts[i] {
			return nil, fmt.Errorf("%w: %q has %d rows, want %d", ErrIncompleteCPT, ns.Name, len(rows), n.rowCounts[i])
		}
		for r, row := range rows {
			if len(row) != ns.States {
				return nil, fmt.Errorf("%w: %q row %d is unset or has the wrong width", ErrIncompleteCPT, ns.Name, r)
			}
			for _, p := range row {
				if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
					return nil, fmt.Errorf("%w: %q row %d holds %v", ErrInvalidCPT, ns.Name, r, p)
				}
			}
		}
		out[i] = n.cptFactor(i, rows)
	}
	return out, nil
}

func (n *Network) cptFactor(i int, rows [][]float64) factor {
	scope := append([]int{i}, n.parents[i]...)
	f := factor{}
	for v := 0; v < len(n.nodes); v++ {
		for _, s := range scope {
			if s == v {
				f.vars = append(f.vars, v)
				f.card = append(f.card, n.nodes[v].States)
			}
		}
	}

	self := f.pos(i)
	parentPos := make([]int, len(n.parents[i]))
	for k, p := range n.parents[i] {
		parentPos[k] = f.pos(p)
	}

	f.vals = make([]float64, tableSize(f.card))
	assign := make([]int, len(f.vars))
	for idx := range f.vals {
		row := 0
		for k, p := range n.parents[i] {
			row = row*n.nodes[p].States + assign[parentPos[k]]
		}
		f.vals[idx] = rows[row][assign[self]]
		next(assign, f.card)
	}
	return f
}

// marginal runs one elimination pass for node q over a private arena built
// from the evidence-reduced base factors.
func (n *Network) marginal(ctx context.Context, base []factor, obs []int, q int) ([]float64, float64, error) {
	arena := make([]factor, len(base), len(base)+len(n.elim))
	copy(arena, base)
	live := make([]bool, len(arena), cap(arena))
	for i := range live {
		live[i] = true
	}

	for _, v := range n.elim {
		if v == q || obs[v] >= 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		var prod factor
		found := false
		for i := range arena {
			if !live[i] || arena[i].pos(v) < 0 {
				continue
			}
			if !found {
				prod, found = arena[i], true
			} else {
				prod = product(prod, arena[i])
			}
			live[i] = false
		}
		if !found {
			continue
		}
		arena = append(arena, prod.sumOut(v))
		live = append(live, true)
	}

	joint := scalar(1)
	for i := range arena {
		if live[i] {
			joint = product(joint, arena[i])
		}
	}

	z := 0.0
	for _, p := range joint.vals {
		z += p
	}
	if math.IsNaN(z) || math.IsInf(z, 0) || z <= 0 {
		return nil, 0, fmt.Errorf("%w: P(evidence) = %v", ErrZeroLikelihood, z)
	}

	dist := make([]float64, n.nodes[q].States)
	if obs[q] >= 0 {
		dist[obs[q]] = 1
		return dist, z, nil
	}
	for s := range dist {
		dist[s] = joint.vals[s] / z
	}
	return dist, z, nil
}
