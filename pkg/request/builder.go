package request

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/nav-dispatch/pkg/correlator"
	"github.com/morezero/nav-dispatch/pkg/naverr"
	"github.com/morezero/nav-dispatch/pkg/params"
)

const logPrefix = "request:builder"

// Dispatcher runs requests built by a Builder.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *Request) bool
	// Go schedules fn in the background so the dispatcher can track it.
	Go(fn func())
}

// Builder assembles a Request in place. Every With method returns the same
// builder. A builder supports exactly one terminal call.
type Builder struct {
	d       Dispatcher
	req     *Request
	pathSet bool
	err     error
	used    bool
}

// NewBuilder creates a Builder that submits to d.
func NewBuilder(d Dispatcher) *Builder {
	return &Builder{d: d, req: &Request{Params: params.New()}}
}

// To sets the target path. It may be called once.
func (b *Builder) To(path string) *Builder {
	if b.pathSet {
		b.fail(naverr.Newf(naverr.CodeInvalidPath, "target path already set to %q", b.req.Path))
		return b
	}
	b.pathSet = true
	b.req.Path = path
	return b
}

// WithString sets a string parameter.
func (b *Builder) WithString(key, val string) *Builder {
	b.req.Params.PutString(key, val)
	return b
}

// WithInt64 sets an int64 parameter.
func (b *Builder) WithInt64(key string, val int64) *Builder {
	b.req.Params.PutInt64(key, val)
	return b
}

// WithFloat64 sets a float64 parameter.
func (b *Builder) WithFloat64(key string, val float64) *Builder {
	b.req.Params.PutFloat64(key, val)
	return b
}

// WithBool sets a bool parameter.
func (b *Builder) WithBool(key string, val bool) *Builder {
	b.req.Params.PutBool(key, val)
	return b
}

// WithBytes sets a byte array parameter. val is copied.
func (b *Builder) WithBytes(key string, val []byte) *Builder {
	b.req.Params.PutBytes(key, val)
	return b
}

// WithStrings sets a string array parameter.
func (b *Builder) WithStrings(key string, val []string) *Builder {
	b.req.Params.PutStrings(key, val)
	return b
}

// WithInt64s sets an int64 array parameter.
func (b *Builder) WithInt64s(key string, val []int64) *Builder {
	b.req.Params.PutInt64s(key, val)
	return b
}

// WithFloat64s sets a float64 array parameter.
func (b *Builder) WithFloat64s(key string, val []float64) *Builder {
	b.req.Params.PutFloat64s(key, val)
	return b
}

// WithObject stores val as an opaque JSON-serializable value. An encoding
// failure is reported by the terminal call.
func (b *Builder) WithObject(key string, val interface{}) *Builder {
	if err := b.req.Params.PutObject(key, val); err != nil {
		b.fail(naverr.Wrap(naverr.CodeInvalidState, err, fmt.Sprintf("parameter %q is not serializable", key)))
	}
	return b
}

// WithParams merges every entry of p into the request parameters.
func (b *Builder) WithParams(p *params.Bag) *Builder {
	b.req.Params.Merge(p)
	return b
}

// WithFlags adds launch flags. Duplicates are ignored.
func (b *Builder) WithFlags(flags ...int) *Builder {
	b.req.AddFlags(flags...)
	return b
}

// WithLaunchMode sets the launch mode passed to the backend.
func (b *Builder) WithLaunchMode(mode int) *Builder {
	b.req.LaunchMode = &mode
	return b
}

// WithTransition sets the enter and exit transition hints.
func (b *Builder) WithTransition(enter, exit int) *Builder {
	b.req.Transition = &Transition{Enter: enter, Exit: exit}
	return b
}

// WithCallback sets the callback notified when the dispatch ends.
func (b *Builder) WithCallback(cb Callback) *Builder {
	b.req.Callback = cb
	return b
}

// ForResult asks the handler for an asynchronous result delivered to cb.
func (b *Builder) ForResult(requestCode int, cb correlator.Callback) *Builder {
	b.req.RequestCode = requestCode
	b.req.OnResult = cb
	return b
}

// Build validates and returns the request without dispatching it.
func (b *Builder) Build() (*Request, error) {
	if err := b.finish(); err != nil {
		return nil, err
	}
	return b.req, nil
}

// Submit validates synchronously and dispatches in the background. Invalid
// paths fail here, before any middleware runs. The dispatch is detached from
// ctx cancellation.
func (b *Builder) Submit(ctx context.Context) error {
	if err := b.finish(); err != nil {
		return err
	}
	req := b.req
	dctx := context.WithoutCancel(ctx)
	b.d.Go(func() {
		b.d.Dispatch(dctx, req)
	})
	return nil
}

// SubmitAndAwait dispatches and waits for the result. If ctx ends first it
// returns ctx.Err(); the dispatch itself still runs to completion.
func (b *Builder) SubmitAndAwait(ctx context.Context) (bool, error) {
	if err := b.finish(); err != nil {
		return false, err
	}
	req := b.req
	dctx := context.WithoutCancel(ctx)
	done := make(chan bool, 1)
	b.d.Go(func() {
		done <- b.d.Dispatch(dctx, req)
	})

	select {
	case ok := <-done:
		return ok, nil
	case <-ctx.Done():
		slog.Warn(fmt.Sprintf("%s - stopped waiting for %s: %v", logPrefix, req.Path, ctx.Err()))
		return false, ctx.Err()
	}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) finish() error {
	if b.used {
		return naverr.New(naverr.CodeInvalidState, "builder already submitted")
	}
	b.used = true
	if b.err != nil {
		return b.err
	}
	if !b.pathSet {
		return naverr.New(naverr.CodeInvalidPath, "target path not set")
	}
	return b.req.Validate()
}
