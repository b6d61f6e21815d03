package dispatcher

import (
	"github.com/morezero/nav-dispatch/pkg/launch"
)

// State is a step of a single dispatch.
type State string

const (
	StateCreated       State = "Created"
	StateChainRunning  State = "ChainRunning"
	StateVetoed        State = "Vetoed"
	StateChainFailed   State = "ChainFailed"
	StateResolving     State = "Resolving"
	StateNotFound      State = "NotFound"
	StateResolved      State = "Resolved"
	StateLaunching     State = "Launching"
	StateLaunched      State = "Launched"
	StateLaunchFaulted State = "LaunchFaulted"
)

// Terminal reports whether a dispatch stops in s.
func (s State) Terminal() bool {
	switch s {
	case StateVetoed, StateChainFailed, StateNotFound, StateLaunched, StateLaunchFaulted:
		return true
	}
	return false
}

// Result is what a dispatch ended with. Err is nil only for StateLaunched.
// For a veto, Err holds the interception recorded by the middleware, if any.
type Result struct {
	State     State
	Err       error
	HandlerID string
	Token     *int
	Outcome   launch.Outcome
}

// Ok reports whether the handler was launched.
func (r *Result) Ok() bool {
	return r.State == StateLaunched
}
