// Package launch starts resolved handlers. Backends do the platform work;
// executors choose the goroutine it runs on.
package launch

import (
	"context"

	"github.com/morezero/nav-dispatch/pkg/params"
	"github.com/morezero/nav-dispatch/pkg/request"
)

// Outcome reports what a backend did with a launch.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeLaunched
	// OutcomePending means the handler started and a result will follow
	// through the correlation token.
	OutcomePending
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLaunched:
		return "launched"
	case OutcomePending:
		return "pending"
	default:
		return "failed"
	}
}

// ParseOutcome maps a wire status to an Outcome. Unknown values are failures.
func ParseOutcome(s string) Outcome {
	switch s {
	case "launched":
		return OutcomeLaunched
	case "pending":
		return OutcomePending
	default:
		return OutcomeFailed
	}
}

// Target is everything a backend needs to start a handler. Params is a copy
// owned by the backend.
type Target struct {
	HandlerID   string              `json:"handlerId"`
	Path        string              `json:"path"`
	Params      *params.Bag         `json:"params,omitempty"`
	Flags       []int               `json:"flags,omitempty"`
	LaunchMode  *int                `json:"launchMode,omitempty"`
	RequestCode int                 `json:"requestCode,omitempty"`
	ResultToken *int                `json:"resultToken,omitempty"`
	Transition  *request.Transition `json:"transition,omitempty"`
}

// Backend starts handlers.
type Backend interface {
	Launch(ctx context.Context, target Target) (Outcome, error)
}

// FuncBackend adapts a function to Backend.
type FuncBackend func(ctx context.Context, target Target) (Outcome, error)

// Launch calls f.
func (f FuncBackend) Launch(ctx context.Context, target Target) (Outcome, error) {
	return f(ctx, target)
}
