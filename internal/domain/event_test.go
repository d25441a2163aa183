package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildChain(t *testing.T, n int) []Event {
	t.Helper()
	head := GenesisHash
	events := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		ev, err := NewEvent(EventEvidenceAdded, 7, EvidenceAddedPayload{
			EvidenceID: int64(i), ClaimID: 7, EvidenceIndex: i % 4, Value: 1, Reporter: "r1",
		})
		require.NoError(t, err)
		require.NoError(t, ev.Seal(int64(i), head))
		head = ev.Hash
		events = append(events, ev)
	}
	return events
}

func TestVerifyChain_Valid(t *testing.T) {
	events := buildChain(t, 5)

	head, err := VerifyChain(0, GenesisHash, events)
	require.NoError(t, err)
	require.Equal(t, events[4].Hash, head)

	// resuming from the middle works too
	head, err = VerifyChain(2, events[1].Hash, events[2:])
	require.NoError(t, err)
	require.Equal(t, events[4].Hash, head)
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(evs []Event)
	}{
		{"payload edited", func(evs []Event) { evs[2].Payload = json.RawMessage(`{"value":0}`) }},
		{"event dropped", func(evs []Event) { copy(evs[2:], evs[3:]) }},
		{"link rewritten", func(evs []Event) { evs[3].PrevHash = "sha256:00" }},
		{"type changed", func(evs []Event) { evs[1].Type = EventClaimResolved }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := buildChain(t, 5)
			tt.mutate(events)
			_, err := VerifyChain(0, GenesisHash, events)
			if !errors.Is(err, ErrChainBroken) {
				t.Fatalf("expected ErrChainBroken, got %v", err)
			}
		})
	}
}

func TestEventHash_StableAcrossJSONReformatting(t *testing.T) {
	events := buildChain(t, 1)
	ev := events[0]

	// Same payload as a database would hand it back: reordered keys, whitespace.
	var m map[string]any
	require.NoError(t, json.Unmarshal(ev.Payload, &m))
	reformatted, err := json.MarshalIndent(m, "", "  ")
	require.NoError(t, err)
	ev.Payload = reformatted

	h, err := ev.ComputeHash()
	require.NoError(t, err)
	require.Equal(t, events[0].Hash, h)
}
