package bayes

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// LoadSpec reads a network definition from a YAML file.
func LoadSpec(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read network file: %w", err)
	}
	return ParseSpec(data)
}

func ParseSpec(data []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("parse network yaml: %w", err)
	}
	return spec, nil
}

// Load builds a network from path and validates any seed tables it carries.
func Load(path string, tolerance float64) (*Network, Spec, error) {
	spec, err := LoadSpec(path)
	if err != nil {
		return nil, Spec{}, err
	}
	n, err := New(spec)
	if err != nil {
		return nil, Spec{}, err
	}
	for node, rows := range spec.CPTs {
		if err := n.ValidateTable(node, rows, tolerance); err != nil {
			return nil, Spec{}, fmt.Errorf("seed table: %w", err)
		}
	}
	return n, spec, nil
}

func MarshalSpec(spec Spec) ([]byte, error) {
	return yaml.Marshal(spec)
}

func intPtr(v int) *int { return &v }

// ReferenceSpec is the presence-at-home network: two binary targets, PPH
// and PPR, each parent of four binary evidence nodes. PMD is optional for
// completeness.
func ReferenceSpec() Spec {
	targets := []string{"PPH", "PPR"}
	return Spec{
		Name: "pph-ppr",
		Nodes: []NodeSpec{
			{Name: "PPH", States: 2, Role: RoleTarget},
			{Name: "PPR", States: 2, Role: RoleTarget},
			{Name: "GPS", States: 2, Parents: targets, Role: RoleObservation, EvidenceIndex: intPtr(0)},
			{Name: "PC", States: 2, Parents: targets, Role: RoleObservation, EvidenceIndex: intPtr(1)},
			{Name: "PMD", States: 2, Parents: targets, Role: RoleObservation, EvidenceIndex: intPtr(2)},
			{Name: "PR", States: 2, Parents: targets, Role: RoleObservation, EvidenceIndex: intPtr(3)},
		},
		Required: []string{"GPS", "PC", "PR"},
	}
}

// Reference returns the built reference network.
func Reference() *Network {
	n, err := New(ReferenceSpec())
	if err != nil {
		panic(err)
	}
	return n
}
