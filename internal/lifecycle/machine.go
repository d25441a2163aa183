// Package lifecycle defines the claim state machine:
//
//	open --TRIGGER[evidenceComplete]--> inference_triggered --RESOLVE--> resolved (final)
//
// The machine decides which transitions are legal. Stores still perform the
// compare-and-swap that makes a transition stick.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/statekit"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
)

var (
	ErrIllegalTransition = errors.New("illegal claim transition")
	ErrGuardRejected     = errors.New("transition guard rejected")
)

const (
	EventTrigger = "TRIGGER"
	EventResolve = "RESOLVE"

	machineID = "claim"
)

const (
	stateOpen      = statekit.StateID(domain.ClaimStateOpen)
	stateTriggered = statekit.StateID(domain.ClaimStateInferenceTriggered)
	stateResolved  = statekit.StateID(domain.ClaimStateResolved)
)

// Context is the machine context for one claim. Missing lists the required
// observation nodes that have no evidence yet.
type Context struct {
	ClaimID  int64
	Missing  []string
	rejected string
}

func guardEvidenceComplete(ctx *Context, _ statekit.Event) bool {
	if len(ctx.Missing) > 0 {
		ctx.rejected = "evidenceComplete"
		return false
	}
	return true
}

func NewClaimMachine() (*statekit.MachineConfig[*Context], error) {
	return statekit.NewMachine[*Context](machineID).
		WithInitial(stateOpen).
		WithContext(&Context{}).
		WithGuard("evidenceComplete", guardEvidenceComplete).
		State(stateOpen).
			On(EventTrigger).Target(stateTriggered).Guard("evidenceComplete").
			Done().
		State(stateTriggered).
			On(EventResolve).Target(stateResolved).
			Done().
		State(stateResolved).
			Final().
			Done().
		Build()
}

type Machine struct {
	config *statekit.MachineConfig[*Context]
}

func New() (*Machine, error) {
	config, err := NewClaimMachine()
	if err != nil {
		return nil, fmt.Errorf("build claim machine: %w", err)
	}
	return &Machine{config: config}, nil
}

// Fire applies event to a claim currently in state from and returns the
// resulting state. It has no side effects beyond ctx.
func (m *Machine) Fire(from domain.ClaimState, event statekit.EventType, ctx *Context) (to domain.ClaimState, err error) {
	if IsTerminal(from) {
		return from, fmt.Errorf("%w: %s is final", ErrIllegalTransition, from)
	}
	if ctx == nil {
		ctx = &Context{}
	}
	ctx.rejected = ""

	interp := statekit.NewInterpreter(m.config)
	interp.UpdateContext(func(c **Context) {
		*c = ctx
	})
	if err := interp.Restore(statekit.Snapshot[*Context]{
		MachineID:    machineID,
		CurrentState: statekit.StateID(from),
		Context:      ctx,
		CreatedAt:    time.Now(),
	}); err != nil {
		return from, fmt.Errorf("restore claim %d at %s: %w", ctx.ClaimID, from, err)
	}

	// statekit panics on events the current state does not handle.
	defer func() {
		if r := recover(); r != nil {
			to, err = from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event, from)
		}
	}()
	interp.Send(statekit.Event{Type: event, Payload: ctx.ClaimID})

	to = domain.ClaimState(interp.State().Value)
	if to != from {
		return to, nil
	}
	if ctx.rejected != "" {
		return from, fmt.Errorf("%w: %s", ErrGuardRejected, ctx.rejected)
	}
	return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event, from)
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s domain.ClaimState) bool {
	return s == domain.ClaimStateResolved
}

// AcceptsEvidence reports whether evidence may still be appended to a claim
// in state s. Evidence for a resolved claim is rejected, not recorded as
// non-binding.
func AcceptsEvidence(s domain.ClaimState) bool {
	return !IsTerminal(s)
}
