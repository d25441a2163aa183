package bayes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ReferenceConfig(t *testing.T) {
	net, spec, err := Load("../../configs/network.yaml", DefaultTolerance)
	require.NoError(t, err)

	ref := Reference()
	assert.Equal(t, ref.NodeNames(), net.NodeNames())
	assert.Equal(t, ref.Required(), net.Required())
	assert.Equal(t, ref.EliminationOrder(), net.EliminationOrder())
	assert.Len(t, spec.CPTs, 6)
	assert.Equal(t, [][]float64{{0.5, 0.5}}, spec.CPTs["PPH"])
}

func TestParseSpec_DefaultsAndRoundTrip(t *testing.T) {
	data := []byte(`
name: tiny
nodes:
  - name: Rain
    role: target
  - name: Wet
    parents: [Rain]
    role: observation
    evidence_index: 5
cpts:
  Rain: [[0.8, 0.2]]
  Wet: [[0.9, 0.1], [0.2, 0.8]]
`)
	spec, err := ParseSpec(data)
	require.NoError(t, err)

	net, err := New(spec)
	require.NoError(t, err)
	wet, ok := net.ObservationByIndex(5)
	require.True(t, ok)
	assert.Equal(t, 2, wet.States)
	assert.Equal(t, []string{"Wet"}, net.Required())

	out, err := MarshalSpec(spec)
	require.NoError(t, err)
	again, err := ParseSpec(out)
	require.NoError(t, err)
	assert.Equal(t, spec.CPTs, again.CPTs)
}

func TestLoad_Errors(t *testing.T) {
	_, err := ParseSpec([]byte("nodes: [\n"))
	assert.Error(t, err)

	_, _, err = Load("testdata/does-not-exist.yaml", DefaultTolerance)
	assert.Error(t, err)

	_, _, err = Load("testdata/bad_seed.yaml", DefaultTolerance)
	assert.ErrorIs(t, err, ErrInvalidCPT)
}
