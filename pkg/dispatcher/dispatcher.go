package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/morezero/nav-dispatch/pkg/correlator"
	"github.com/morezero/nav-dispatch/pkg/events"
	"github.com/morezero/nav-dispatch/pkg/launch"
	"github.com/morezero/nav-dispatch/pkg/metrics"
	"github.com/morezero/nav-dispatch/pkg/middleware"
	"github.com/morezero/nav-dispatch/pkg/naverr"
	"github.com/morezero/nav-dispatch/pkg/registry"
	"github.com/morezero/nav-dispatch/pkg/request"
	"github.com/morezero/nav-dispatch/pkg/session"
)

const logPrefix = "dispatcher:dispatch"

// Params holds the collaborators of a Dispatcher. Every field is optional
// except Backend; without one every launch faults.
type Params struct {
	Registry *registry.Registry
	Chain    *middleware.Chain
	// Binder turns route auth, capability and middleware declarations into
	// rules. The default binds middleware only, so routes that declare auth
	// or capabilities are rejected at registration.
	Binder     *middleware.Binder
	Backend    launch.Backend
	Correlator *correlator.Correlator
	Sink       events.Sink
	Metrics    metrics.Recorder
	Executor   launch.Executor
}

// Dispatcher runs navigation requests through the middleware chain,
// resolves them against the registry and launches the handler.
type Dispatcher struct {
	registry   *registry.Registry
	chain      *middleware.Chain
	binder     *middleware.Binder
	backend    launch.Backend
	correlator *correlator.Correlator
	sink       events.Sink
	metrics    metrics.Recorder
	executor   launch.Executor

	wg sync.WaitGroup
}

// New creates a new Dispatcher.
func New(p Params) *Dispatcher {
	d := &Dispatcher{
		registry:   p.Registry,
		chain:      p.Chain,
		binder:     p.Binder,
		backend:    p.Backend,
		correlator: p.Correlator,
		sink:       p.Sink,
		metrics:    p.Metrics,
		executor:   p.Executor,
	}
	if d.sink == nil {
		d.sink = &events.NoOpSink{}
	}
	if d.metrics == nil {
		d.metrics = metrics.NoOp{}
	}
	if d.registry == nil {
		d.registry = registry.NewRegistry(registry.NewRegistryParams{Sink: d.sink})
	}
	if d.chain == nil {
		d.chain = middleware.NewChain(d.metrics)
	}
	if d.binder == nil {
		d.binder = &middleware.Binder{Chain: d.chain}
	}
	if d.correlator == nil {
		d.correlator = correlator.New(correlator.Options{OnPendingChange: d.metrics.SetPending})
	}
	if d.executor == nil {
		d.executor = launch.Inline{}
	}
	if d.backend == nil {
		d.backend = launch.FuncBackend(func(_ context.Context, t launch.Target) (launch.Outcome, error) {
			return launch.OutcomeFailed, fmt.Errorf("no launch backend configured for %s", t.HandlerID)
		})
	}
	return d
}

// Registry returns the route registry.
func (d *Dispatcher) Registry() *registry.Registry { return d.registry }

// Chain returns the middleware chain.
func (d *Dispatcher) Chain() *middleware.Chain { return d.chain }

// Correlator returns the result correlator.
func (d *Dispatcher) Correlator() *correlator.Correlator { return d.correlator }

// Binder returns the binder routes are registered through.
func (d *Dispatcher) Binder() *middleware.Binder { return d.binder }

// Register maps path to the handler described by desc and installs the
// session, capability and middleware rules it declares, replacing those of
// any earlier registration of path. If a declared rule cannot be installed
// the route is removed again and the error returned, so a route never runs
// without the guards it asks for.
func (d *Dispatcher) Register(path string, desc registry.Descriptor) error {
	if err := d.registry.Register(path, desc); err != nil {
		return err
	}
	if err := d.binder.Bind(path, desc); err != nil {
		d.binder.Unbind(path)
		d.registry.Unregister(path)
		return naverr.Wrap(naverr.CodeInvalidState, err, fmt.Sprintf("route %s not registered", path))
	}
	return nil
}

// RegisterBatch registers every route it can and returns how many succeeded.
// Failures are logged and skipped.
func (d *Dispatcher) RegisterBatch(routes map[string]registry.Descriptor) int {
	paths := make([]string, 0, len(routes))
	for p := range routes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	n := 0
	for _, p := range paths {
		if err := d.Register(p, routes[p]); err != nil {
			slog.Warn(fmt.Sprintf("%s - skipping route %s: %v", logPrefix, p, err))
			continue
		}
		n++
	}
	return n
}

// IsRegistered reports whether path resolves to a handler.
func (d *Dispatcher) IsRegistered(path string) bool {
	return d.registry.IsRegistered(path)
}

// AllRoutes returns a copy of every registered route.
func (d *Dispatcher) AllRoutes() map[string]registry.Descriptor {
	return d.registry.Snapshot()
}

// ClearAll removes every route and every middleware.
func (d *Dispatcher) ClearAll() {
	d.registry.UnregisterAll()
	d.binder.Reset()
	d.chain.ClearAll()
}

// Navigate starts a request builder for path.
func (d *Dispatcher) Navigate(path string) *request.Builder {
	return request.NewBuilder(d).To(path)
}

// Go runs fn in the background. Wait blocks until it returns.
func (d *Dispatcher) Go(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// Wait blocks until every background dispatch has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// ResumeAfterAuth consumes the target persisted by the session check and
// returns a builder for it. ok is false when nothing was persisted.
func (d *Dispatcher) ResumeAfterAuth(ctx context.Context, oracle session.Oracle) (*request.Builder, bool, error) {
	path, ok, err := oracle.ConsumeRedirectTarget(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%s - failed to consume redirect target: %w", logPrefix, err)
	}
	if !ok {
		return nil, false, nil
	}
	slog.Debug(fmt.Sprintf("%s - resuming navigation to %s", logPrefix, path))
	return d.Navigate(path), true, nil
}

// Dispatch runs req and reports whether the handler was launched.
func (d *Dispatcher) Dispatch(ctx context.Context, req *request.Request) bool {
	return d.Run(ctx, req).Ok()
}

// Run drives req to a terminal state. The request's callback is told about
// the outcome exactly once.
func (d *Dispatcher) Run(ctx context.Context, req *request.Request) *Result {
	res := &Result{State: StateCreated}
	slog.Debug(fmt.Sprintf("%s - path=%s session=%s", logPrefix, req.Path, session.IDFrom(ctx)))

	// requests built by hand skip the builder's validation
	if err := req.Validate(); err != nil {
		return d.finish(ctx, req, res, StateNotFound, err)
	}

	res.State = StateChainRunning
	passed, err := d.runChain(ctx, req)
	if err != nil {
		return d.finish(ctx, req, res, StateChainFailed, err)
	}
	if !passed {
		return d.finish(ctx, req, res, StateVetoed, req.Interception())
	}

	res.State = StateResolving
	desc, ok := d.registry.Lookup(req.Path)
	if !ok {
		return d.finish(ctx, req, res, StateNotFound,
			naverr.Newf(naverr.CodeHandlerNotFound, "no handler registered for %s", req.Path))
	}
	res.State = StateResolved
	res.HandlerID = desc.HandlerID

	target := launch.Target{
		HandlerID:   desc.HandlerID,
		Path:        req.Path,
		Params:      req.Params.Clone(),
		Flags:       append([]int(nil), req.Flags...),
		LaunchMode:  req.LaunchMode,
		RequestCode: req.RequestCode,
		Transition:  req.Transition,
	}
	if req.ExpectsResult() {
		token := d.correlator.NextToken()
		d.correlator.Register(token, req.OnResult)
		req.ResultToken = &token
		target.ResultToken = &token
		res.Token = &token
	}

	res.State = StateLaunching
	outcome, err := d.launch(ctx, target)
	res.Outcome = outcome
	if err == nil && outcome == launch.OutcomeFailed {
		err = fmt.Errorf("backend reported failure")
	}
	if err != nil {
		if res.Token != nil {
			d.correlator.Resolve(ctx, *res.Token, correlator.ResultCanceled, nil)
		}
		return d.finish(ctx, req, res, StateLaunchFaulted,
			naverr.Wrap(naverr.CodeLaunchFaulted, err, fmt.Sprintf("failed to launch %s for %s", desc.HandlerID, req.Path)))
	}
	if outcome == launch.OutcomePending && res.Token == nil {
		slog.Debug(fmt.Sprintf("%s - %s is pending but no result was requested", logPrefix, desc.HandlerID))
	}
	return d.finish(ctx, req, res, StateLaunched, nil)
}

func (d *Dispatcher) runChain(ctx context.Context, req *request.Request) (passed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - middleware chain panicked for %s: %v", logPrefix, req.Path, r))
			passed = false
			err = naverr.Newf(naverr.CodeChainFailed, "middleware chain failed: %v", r)
		}
	}()
	return d.chain.RunChain(ctx, req), nil
}

// launch runs the backend on the executor and waits for it.
func (d *Dispatcher) launch(ctx context.Context, target launch.Target) (launch.Outcome, error) {
	var (
		outcome launch.Outcome
		lerr    error
	)
	start := time.Now()
	execErr := d.executor.Execute(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				outcome, lerr = launch.OutcomeFailed, fmt.Errorf("launch panicked: %v", r)
			}
		}()
		outcome, lerr = d.backend.Launch(ctx, target)
	})
	d.metrics.LaunchObserved(time.Since(start))
	if execErr != nil {
		return launch.OutcomeFailed, execErr
	}
	return outcome, lerr
}

func (d *Dispatcher) finish(ctx context.Context, req *request.Request, res *Result, state State, err error) *Result {
	res.State = state
	res.Err = err

	switch state {
	case StateLaunched:
		slog.Debug(fmt.Sprintf("%s - launched %s for %s", logPrefix, res.HandlerID, req.Path))
	case StateVetoed:
		slog.Info(fmt.Sprintf("%s - navigation to %s vetoed", logPrefix, req.Path))
	default:
		slog.Warn(fmt.Sprintf("%s - navigation to %s ended %s: %v", logPrefix, req.Path, state, err))
	}

	d.metrics.DispatchFinished(string(state))
	d.emitOutcome(ctx, req, res)
	notify(req, res)
	return res
}

func (d *Dispatcher) emitOutcome(ctx context.Context, req *request.Request, res *Result) {
	severity := events.SeverityInfo
	switch res.State {
	case StateNotFound:
		severity = events.SeverityWarn
	case StateChainFailed, StateLaunchFaulted:
		severity = events.SeverityError
	}
	fields := map[string]interface{}{
		"path":  req.Path,
		"state": string(res.State),
	}
	if res.HandlerID != "" {
		fields["handlerId"] = res.HandlerID
	}
	if res.Token != nil {
		fields["token"] = *res.Token
	}
	if code := naverr.CodeOf(res.Err); code != "" {
		fields["error"] = code
	}
	if err := d.sink.Emit(ctx, events.NewEvent(severity, events.MessageNavigationOutcome, fields)); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to emit outcome for %s: %v", logPrefix, req.Path, err))
	}
}

func notify(req *request.Request, res *Result) {
	cb := req.Callback
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - callback for %s panicked: %v", logPrefix, req.Path, r))
		}
	}()
	switch res.State {
	case StateLaunched:
		cb.OnSuccess(req.Path)
	case StateVetoed:
		cb.OnCancel(req.Path)
	default:
		cb.OnError(req.Path, res.Err)
	}
}
