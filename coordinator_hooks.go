package algomart

import "github.com/google/uuid"

// StateChange describes a single coordinator state transition.
type StateChange struct {
	ListingID uuid.UUID
	From      State
	To        State
}

// StateHook observes coordinator state transitions. Hooks run synchronously
// on the purchase flow's goroutine and must not block.
type StateHook func(change StateChange)

// OnStateChange registers a state transition hook.
func (c *Coordinator) OnStateChange(hook StateHook) *Coordinator {
	c.stateHooks = append(c.stateHooks, hook)
	return c
}
