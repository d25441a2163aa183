// Package bayes implements a fixed-topology discrete Bayesian network and
// exact inference over it by variable elimination.
package bayes

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrInvalidNetwork  = errors.New("invalid network")
	ErrInvalidEvidence = errors.New("invalid evidence")
	ErrInvalidCPT      = errors.New("invalid cpt")
	ErrIncompleteCPT   = errors.New("incomplete cpt")
	ErrZeroLikelihood  = errors.New("evidence has zero likelihood")
)

const (
	// DefaultTolerance bounds |sum(row) - 1| for a valid CPT row.
	DefaultTolerance = 1e-6

	// Scale is the fixed-point denominator used when posteriors are committed.
	Scale = 1_000_000

	defaultStates = 2
)

type Role string

const (
	RoleTarget      Role = "target"
	RoleObservation Role = "observation"
	RoleLatent      Role = "latent"
)

// NodeSpec declares one node. Parents are listed in the order that defines
// the CPT row encoding.
type NodeSpec struct {
	Name          string   `yaml:"name" json:"name"`
	States        int      `yaml:"states,omitempty" json:"states"`
	Parents       []string `yaml:"parents,omitempty" json:"parents,omitempty"`
	Role          Role     `yaml:"role,omitempty" json:"role"`
	EvidenceIndex *int     `yaml:"evidence_index,omitempty" json:"evidence_index,omitempty"`
}

// Spec is the configuration form of a network, optionally carrying seed
// tables keyed by node name.
type Spec struct {
	Name     string                 `yaml:"name" json:"name"`
	Nodes    []NodeSpec             `yaml:"nodes" json:"nodes"`
	Required []string               `yaml:"required,omitempty" json:"required,omitempty"`
	CPTs     map[string][][]float64 `yaml:"cpts,omitempty" json:"-"`
}

// Network is an immutable, validated topology. The topological and
// elimination orders are fixed when it is built.
type Network struct {
	name      string
	nodes     []NodeSpec
	parents   [][]int
	index     map[string]int
	evidence  map[int]int
	targets   []int
	required  []int
	topo      []int
	elim      []int
	rowCounts []int
}

func New(spec Spec) (*Network, error) {
	if len(spec.Nodes) == 0 {
		return nil, fmt.Errorf("%w: no nodes", ErrInvalidNetwork)
	}

	n := &Network{
		name:     spec.Name,
		nodes:    make([]NodeSpec, len(spec.Nodes)),
		parents:  make([][]int, len(spec.Nodes)),
		index:    make(map[string]int, len(spec.Nodes)),
		evidence: make(map[int]int),
	}

	for i, ns := range spec.Nodes {
		if ns.Name == "" {
			return nil, fmt.Errorf("%w: node %d has no name", ErrInvalidNetwork, i)
		}
		if _, dup := n.index[ns.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate node %q", ErrInvalidNetwork, ns.Name)
		}
		if ns.States == 0 {
			ns.States = defaultStates
		}
		if ns.States < 2 {
			return nil, fmt.Errorf("%w: node %q needs at least 2 states", ErrInvalidNetwork, ns.Name)
		}
		if ns.Role == "" {
			ns.Role = RoleLatent
		}
		ns.Parents = append([]string(nil), ns.Parents...)
		n.index[ns.Name] = i
		n.nodes[i] = ns
	}

	for i, ns := range n.nodes {
		seen := make(map[string]bool, len(ns.Parents))
		for _, p := range ns.Parents {
			pi, ok := n.index[p]
			if !ok {
				return nil, fmt.Errorf("%w: node %q has unknown parent %q", ErrInvalidNetwork, ns.Name, p)
			}
			if seen[p] || pi == i {
				return nil, fmt.Errorf("%w: node %q lists parent %q twice or itself", ErrInvalidNetwork, ns.Name, p)
			}
			seen[p] = true
			n.parents[i] = append(n.parents[i], pi)
		}

		switch ns.Role {
		case RoleTarget:
			n.targets = append(n.targets, i)
		case RoleObservation:
			if ns.EvidenceIndex == nil || *ns.EvidenceIndex < 0 {
				return nil, fmt.Errorf("%w: observation node %q needs a non-negative evidence_index", ErrInvalidNetwork, ns.Name)
			}
			if other, dup := n.evidence[*ns.EvidenceIndex]; dup {
				return nil, fmt.Errorf("%w: evidence index %d used by %q and %q",
					ErrInvalidNetwork, *ns.EvidenceIndex, n.nodes[other].Name, ns.Name)
			}
			n.evidence[*ns.EvidenceIndex] = i
		case RoleLatent:
		default:
			return nil, fmt.Errorf("%w: node %q has unknown role %q", ErrInvalidNetwork, ns.Name, ns.Role)
		}
		if ns.Role != RoleObservation && ns.EvidenceIndex != nil {
			return nil, fmt.Errorf("%w: only observation nodes take an evidence_index (%q)", ErrInvalidNetwork, ns.Name)
		}
	}
	if len(n.targets) == 0 {
		return nil, fmt.Errorf("%w: at least one target node is required", ErrInvalidNetwork)
	}

	if err := n.order(); err != nil {
		return nil, err
	}

	if len(spec.Required) == 0 {
		for i, ns := range n.nodes {
			if ns.Role == RoleObservation {
				n.required = append(n.required, i)
			}
		}
	} else {
		for _, name := range spec.Required {
			i, ok := n.index[name]
			if !ok || n.nodes[i].Role != RoleObservation {
				return nil, fmt.Errorf("%w: required node %q is not an observation node", ErrInvalidNetwork, name)
			}
			n.required = append(n.required, i)
		}
	}

	n.rowCounts = make([]int, len(n.nodes))
	for i := range n.nodes {
		rows := 1
		for _, p := range n.parents[i] {
			rows *= n.nodes[p].States
		}
		n.rowCounts[i] = rows
	}
	return n, nil
}

// order computes a topological order (Kahn, ties broken by declaration
// order) and the elimination order, which is its reverse.
func (n *Network) order() error {
	indeg := make([]int, len(n.nodes))
	children := make([][]int, len(n.nodes))
	for i, ps := range n.parents {
		indeg[i] = len(ps)
		for _, p := range ps {
			children[p] = append(children[p], i)
		}
	}

	done := make([]bool, len(n.nodes))
	for len(n.topo) < len(n.nodes) {
		next := -1
		for i := range n.nodes {
			if !done[i] && indeg[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return fmt.Errorf("%w: graph has a cycle", ErrInvalidNetwork)
		}
		done[next] = true
		n.topo = append(n.topo, next)
		for _, c := range children[next] {
			indeg[c]--
		}
	}

	n.elim = make([]int, len(n.topo))
	for i, v := range n.topo {
		n.elim[len(n.topo)-1-i] = v
	}
	return nil
}

func (n *Network) Name() string { return n.name }

// Nodes returns the node declarations in declaration order.
func (n *Network) Nodes() []NodeSpec {
	out := make([]NodeSpec, len(n.nodes))
	copy(out, n.nodes)
	return out
}

func (n *Network) NodeNames() []string {
	out := make([]string, len(n.nodes))
	for i, ns := range n.nodes {
		out[i] = ns.Name
	}
	return out
}

func (n *Network) Node(name string) (NodeSpec, bool) {
	i, ok := n.index[name]
	if !ok {
		return NodeSpec{}, false
	}
	return n.nodes[i], true
}

// ObservationByIndex maps an evidence index to its observation node.
func (n *Network) ObservationByIndex(idx int) (NodeSpec, bool) {
	i, ok := n.evidence[idx]
	if !ok {
		return NodeSpec{}, false
	}
	return n.nodes[i], true
}

func (n *Network) Targets() []string { return n.names(n.targets) }
func (n *Network) Required() []string { return n.names(n.required) }
func (n *Network) EliminationOrder() []string { return n.names(n.elim) }

func (n *Network) names(idx []int) []string {
	out := make([]string, len(idx))
	for k, i := range idx {
		out[k] = n.nodes[i].Name
	}
	return out
}

// Missing lists the required observation nodes absent from observed,
// in declaration order.
func (n *Network) Missing(observed map[string]int) []string {
	var missing []string
	for _, i := range n.required {
		if _, ok := observed[n.nodes[i].Name]; !ok {
			missing = append(missing, n.nodes[i].Name)
		}
	}
	return missing
}

// RowCount is the number of parent assignments of node.
func (n *Network) RowCount(node string) int {
	i, ok := n.index[node]
	if !ok {
		return 0
	}
	return n.rowCounts[i]
}

// RowIndex encodes a parent assignment, given in declared parent order,
// as a CPT row index. The first parent is the most significant digit.
func (n *Network) RowIndex(node string, assignment []int) (int, error) {
	i, ok := n.index[node]
	if !ok {
		return 0, fmt.Errorf("%w: unknown node %q", ErrInvalidCPT, node)
	}
	if len(assignment) != len(n.parents[i]) {
		return 0, fmt.Errorf("%w: node %q has %d parents, got %d values",
			ErrInvalidCPT, node, len(n.parents[i]), len(assignment))
	}
	row := 0
	for k, p := range n.parents[i] {
		states := n.nodes[p].States
		if assignment[k] < 0 || assignment[k] >= states {
			return 0, fmt.Errorf("%w: parent %q of %q has no state %d",
				ErrInvalidCPT, n.nodes[p].Name, node, assignment[k])
		}
		row = row*states + assignment[k]
	}
	return row, nil
}

// ValidateRow checks that dist is a distribution over node's states.
func (n *Network) ValidateRow(node string, dist []float64, tolerance float64) error {
	ns, ok := n.Node(node)
	if !ok {
		return fmt.Errorf("%w: unknown node %q", ErrInvalidCPT, node)
	}
	return validateDistribution(dist, ns.States, tolerance)
}

// ValidateTable checks a complete table for node.
func (n *Network) ValidateTable(node string, rows [][]float64, tolerance float64) error {
	i, ok := n.index[node]
	if !ok {
		return fmt.Errorf("%w: unknown node %q", ErrInvalidCPT, node)
	}
	if len(rows) != n.rowCounts[i] {
		return fmt.Errorf("%w: node %q needs %d rows, got %d", ErrInvalidCPT, node, n.rowCounts[i], len(rows))
	}
	for r, row := range rows {
		if err := validateDistribution(row, n.nodes[i].States, tolerance); err != nil {
			return fmt.Errorf("node %q row %d: %w", node, r, err)
		}
	}
	return nil
}

func validateDistribution(dist []float64, states int, tolerance float64) error {
	if len(dist) != states {
		return fmt.Errorf("%w: expected %d probabilities, got %d", ErrInvalidCPT, states, len(dist))
	}
	sum := 0.0
	for _, p := range dist {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("%w: probability %v out of range", ErrInvalidCPT, p)
		}
		sum += p
	}
	if math.Abs(sum-1) > tolerance {
		return fmt.Errorf("%w: probabilities sum to %v", ErrInvalidCPT, sum)
	}
	return nil
}

// UniformTables returns a table per node with every row uniform.
func (n *Network) UniformTables() map[string][][]float64 {
	out := make(map[string][][]float64, len(n.nodes))
	for i, ns := range n.nodes {
		rows := make([][]float64, n.rowCounts[i])
		for r := range rows {
			rows[r] = make([]float64, ns.States)
			for s := range rows[r] {
				rows[r][s] = 1 / float64(ns.States)
			}
		}
		out[ns.Name] = rows
	}
	return out
}

// ToPPM converts a distribution to parts per million that sum to exactly
// Scale. Each entry is floored, then the shortfall goes one unit at a time
// to the entries with the largest fractional parts, lower index first on
// ties.
func ToPPM(dist []float64) []int64 {
	out := make([]int64, len(dist))
	if len(dist) == 0 {
		return out
	}
	frac := make([]float64, len(dist))
	var sum int64
	for i, p := range dist {
		v := p * Scale
		fl := math.Floor(v)
		out[i] = int64(fl)
		frac[i] = v - fl
		sum += out[i]
	}

	order := make([]int, len(dist))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return frac[order[a]] > frac[order[b]] })

	// A normalized input leaves a shortfall below len(dist); anything else
	// is spread round-robin so the total still lands on Scale.
	for k := 0; sum < Scale; k++ {
		out[order[k%len(order)]]++
		sum++
	}
	for k := len(order) - 1; sum > Scale; k-- {
		i := order[(k%len(order)+len(order))%len(order)]
		if out[i] > 0 {
			out[i]--
			sum--
		}
	}
	return out
}
