// Package request defines the navigation request and the fluent builder used
// to submit one.
package request

import (
	"strings"
	"sync"

	"github.com/morezero/nav-dispatch/pkg/correlator"
	"github.com/morezero/nav-dispatch/pkg/naverr"
	"github.com/morezero/nav-dispatch/pkg/params"
	"github.com/morezero/nav-dispatch/pkg/pathutil"
)

// Transition is an enter/exit animation hint passed through to the launch backend.
type Transition struct {
	Enter int `json:"enter"`
	Exit  int `json:"exit"`
}

// Request is a single navigation attempt. It is consumed once by the dispatcher.
type Request struct {
	Path        string
	Params      *params.Bag
	Flags       []int
	LaunchMode  *int
	RequestCode int
	// ResultToken is assigned by the dispatcher when OnResult is set.
	ResultToken *int
	Transition  *Transition
	Callback    Callback
	OnResult    correlator.Callback

	mu           sync.Mutex
	interception error
}

// New creates a Request for path with an empty parameter bag.
func New(path string) *Request {
	return &Request{Path: path, Params: params.New()}
}

// Validate fails with INVALID_PATH unless Path is a well-formed navigation path.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Path) == "" {
		return naverr.New(naverr.CodeInvalidPath, "target path is blank")
	}
	if !strings.HasPrefix(r.Path, "/") {
		return naverr.Newf(naverr.CodeInvalidPath, "target path %q must start with /", r.Path)
	}
	if !pathutil.Validate(r.Path) {
		return naverr.Newf(naverr.CodeInvalidPath, "target path %q is malformed", r.Path)
	}
	return nil
}

// AddFlags adds flags, ignoring ones already present.
func (r *Request) AddFlags(flags ...int) {
	for _, f := range flags {
		if !r.HasFlag(f) {
			r.Flags = append(r.Flags, f)
		}
	}
}

// HasFlag reports whether flag is set.
func (r *Request) HasFlag(flag int) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// ExpectsResult reports whether the caller asked for an asynchronous result.
func (r *Request) ExpectsResult() bool {
	return r.OnResult != nil
}

// Intercept records why a middleware vetoed the request. The last call wins.
func (r *Request) Intercept(err error) {
	r.mu.Lock()
	r.interception = err
	r.mu.Unlock()
}

// Interception returns the detail recorded by Intercept, if any.
func (r *Request) Interception() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interception
}
