package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/morezero/nav-dispatch/pkg/correlator"
	"github.com/morezero/nav-dispatch/pkg/events"
	"github.com/morezero/nav-dispatch/pkg/launch"
	"github.com/morezero/nav-dispatch/pkg/middleware"
	"github.com/morezero/nav-dispatch/pkg/naverr"
	"github.com/morezero/nav-dispatch/pkg/params"
	"github.com/morezero/nav-dispatch/pkg/registry"
	"github.com/morezero/nav-dispatch/pkg/request"
	"github.com/morezero/nav-dispatch/pkg/session"
)

type recordingCallback struct {
	mu       sync.Mutex
	success  []string
	errs     []error
	canceled []string
}

func (r *recordingCallback) OnSuccess(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success = append(r.success, path)
}

func (r *recordingCallback) OnError(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingCallback) OnCancel(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceled = append(r.canceled, path)
}

func (r *recordingCallback) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.success), len(r.errs), len(r.canceled)
}

type recordingBackend struct {
	mu      sync.Mutex
	targets []launch.Target
	outcome launch.Outcome
	err     error
}

func (b *recordingBackend) Launch(_ context.Context, t launch.Target) (launch.Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targets = append(b.targets, t)
	return b.outcome, b.err
}

func (b *recordingBackend) launched() []launch.Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]launch.Target(nil), b.targets...)
}

func newTestDispatcher(backend launch.Backend) *Dispatcher {
	return New(Params{Backend: backend})
}

func TestDispatch_LaunchesRegisteredHandler(t *testing.T) {
	backend := &recordingBackend{outcome: launch.OutcomeLaunched}
	d := newTestDispatcher(backend)
	if err := d.Register("/home", registry.Descriptor{HandlerID: "H1"}); err != nil {
		t.Fatal(err)
	}
	var ran atomic.Bool
	_ = d.Chain().AddGlobal(middleware.Descriptor{Name: "pass", Priority: 100, Handler: func(context.Context, *request.Request) (bool, error) {
		ran.Store(true)
		return true, nil
	}})

	cb := &recordingCallback{}
	ok, err := d.Navigate("/home").WithString("tab", "feed").WithCallback(cb).SubmitAndAwait(context.Background())
	if err != nil || !ok {
		t.Fatalf("dispatcher:dispatcher_test - ok=%v err=%v, want launched", ok, err)
	}
	if !ran.Load() {
		t.Error("dispatcher:dispatcher_test - global middleware did not run")
	}
	got := backend.launched()
	if len(got) != 1 || got[0].HandlerID != "H1" || got[0].Path != "/home" {
		t.Fatalf("dispatcher:dispatcher_test - launched %+v", got)
	}
	if v, _ := got[0].Params.GetString("tab"); v != "feed" {
		t.Errorf("dispatcher:dispatcher_test - tab = %q, want feed", v)
	}
	if s, e, c := cb.counts(); s != 1 || e != 0 || c != 0 {
		t.Errorf("dispatcher:dispatcher_test - callbacks success=%d error=%d cancel=%d", s, e, c)
	}
}

func TestDispatch_SessionCheckVetoes(t *testing.T) {
	backend := &recordingBackend{outcome: launch.OutcomeLaunched}
	store := session.NewMemoryStore()
	check, err := middleware.NewSessionCheck(store, "/login")
	if err != nil {
		t.Fatal(err)
	}
	chain := middleware.NewChain(nil)
	_ = chain.AddGlobal(check.Descriptor())
	d := New(Params{Backend: backend, Chain: chain, Binder: &middleware.Binder{Chain: chain, Session: check}})
	if err := d.Register("/secure", registry.Descriptor{HandlerID: "S1", RequiresAuth: true}); err != nil {
		t.Fatal(err)
	}

	ctx := session.WithID(context.Background(), "anon")
	cb := &recordingCallback{}
	req, err := d.Navigate("/secure").WithCallback(cb).Build()
	if err != nil {
		t.Fatal(err)
	}
	res := d.Run(ctx, req)
	if res.Ok() || res.State != StateVetoed {
		t.Fatalf("dispatcher:dispatcher_test - state = %s, want Vetoed", res.State)
	}
	if !naverr.HasCode(res.Err, naverr.CodeAuthRequired) {
		t.Errorf("dispatcher:dispatcher_test - err = %v, want AUTH_REQUIRED", res.Err)
	}
	if len(backend.launched()) != 0 {
		t.Error("dispatcher:dispatcher_test - vetoed navigation reached the backend")
	}
	if _, _, c := cb.counts(); c != 1 || cb.canceled[0] != "/secure" {
		t.Errorf("dispatcher:dispatcher_test - OnCancel calls = %v", cb.canceled)
	}

	// after login the persisted target is replayed
	_ = store.Authenticate(ctx, "anon")
	b, ok, err := d.ResumeAfterAuth(ctx, store)
	if err != nil || !ok {
		t.Fatalf("dispatcher:dispatcher_test - ResumeAfterAuth ok=%v err=%v", ok, err)
	}
	launched, err := b.SubmitAndAwait(ctx)
	if err != nil || !launched {
		t.Fatalf("dispatcher:dispatcher_test - resumed navigation ok=%v err=%v", launched, err)
	}
	if _, ok, _ := d.ResumeAfterAuth(ctx, store); ok {
		t.Error("dispatcher:dispatcher_test - redirect target consumed twice")
	}
}

func newGuardedDispatcher(t *testing.T, backend launch.Backend) (*Dispatcher, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	sessionCheck, err := middleware.NewSessionCheck(store, "/login")
	if err != nil {
		t.Fatal(err)
	}
	capabilityCheck := middleware.NewCapabilityCheck(store)
	chain := middleware.NewChain(nil)
	_ = chain.AddGlobal(sessionCheck.Descriptor())
	_ = chain.AddGlobal(capabilityCheck.Descriptor())
	binder := &middleware.Binder{Chain: chain, Session: sessionCheck, Capabilities: capabilityCheck}
	return New(Params{Backend: backend, Chain: chain, Binder: binder}), store
}

func TestRegister_DeclaredGuardsApply(t *testing.T) {
	backend := &recordingBackend{outcome: launch.OutcomeLaunched}
	d, store := newGuardedDispatcher(t, backend)
	if err := d.Register("/admin", registry.Descriptor{HandlerID: "A", RequiresAuth: true, RequiredCapabilities: []string{"admin"}}); err != nil {
		t.Fatal(err)
	}

	anon := session.WithID(context.Background(), "anon")
	if ok, _ := d.Navigate("/admin").SubmitAndAwait(anon); ok {
		t.Error("dispatcher:dispatcher_test - anonymous caller reached /admin")
	}

	user := session.WithID(context.Background(), "user")
	_ = store.Authenticate(user, "user")
	req, _ := d.Navigate("/admin").Build()
	if res := d.Run(user, req); res.State != StateVetoed || !naverr.HasCode(res.Err, naverr.CodeCapabilityDenied) {
		t.Errorf("dispatcher:dispatcher_test - state=%s err=%v, want Vetoed with CAPABILITY_DENIED", res.State, res.Err)
	}

	root := session.WithID(context.Background(), "root")
	_ = store.Authenticate(root, "root", "admin")
	if ok, err := d.Navigate("/admin").SubmitAndAwait(root); !ok || err != nil {
		t.Errorf("dispatcher:dispatcher_test - admin ok=%v err=%v, want launched", ok, err)
	}
	if n := len(backend.launched()); n != 1 {
		t.Errorf("dispatcher:dispatcher_test - launched %d times, want 1", n)
	}
}

func TestRegister_ReplacementDropsGuards(t *testing.T) {
	backend := &recordingBackend{outcome: launch.OutcomeLaunched}
	d, _ := newGuardedDispatcher(t, backend)
	_ = d.Register("/x", registry.Descriptor{HandlerID: "X1", RequiresAuth: true, RequiredCapabilities: []string{"c"}})
	if err := d.Register("/x", registry.Descriptor{HandlerID: "X2"}); err != nil {
		t.Fatal(err)
	}

	anon := session.WithID(context.Background(), "anon")
	if ok, err := d.Navigate("/x").SubmitAndAwait(anon); !ok || err != nil {
		t.Fatalf("dispatcher:dispatcher_test - replaced route ok=%v err=%v, want launched", ok, err)
	}
	if got := backend.launched(); got[0].HandlerID != "X2" {
		t.Errorf("dispatcher:dispatcher_test - launched %q, want X2", got[0].HandlerID)
	}
}

func TestRegister_GuardWithoutCheckIsRejected(t *testing.T) {
	d := newTestDispatcher(&recordingBackend{outcome: launch.OutcomeLaunched})
	err := d.Register("/secure", registry.Descriptor{HandlerID: "S1", RequiresAuth: true})
	if !naverr.HasCode(err, naverr.CodeInvalidState) {
		t.Errorf("dispatcher:dispatcher_test - err = %v, want INVALID_STATE", err)
	}
	if d.IsRegistered("/secure") {
		t.Error("dispatcher:dispatcher_test - unguarded route left registered")
	}
}

func TestDispatch_NotFoundReportsErrorOnce(t *testing.T) {
	d := newTestDispatcher(&recordingBackend{outcome: launch.OutcomeLaunched})
	cb := &recordingCallback{}
	req, _ := d.Navigate("/nowhere").WithCallback(cb).Build()

	res := d.Run(context.Background(), req)
	if res.State != StateNotFound {
		t.Fatalf("dispatcher:dispatcher_test - state = %s, want NotFound", res.State)
	}
	if !naverr.HasCode(res.Err, naverr.CodeHandlerNotFound) {
		t.Errorf("dispatcher:dispatcher_test - err = %v, want HANDLER_NOT_FOUND", res.Err)
	}
	if s, e, c := cb.counts(); s != 0 || e != 1 || c != 0 {
		t.Errorf("dispatcher:dispatcher_test - callbacks success=%d error=%d cancel=%d", s, e, c)
	}
}

func TestSubmit_InvalidPathFailsSynchronously(t *testing.T) {
	backend := &recordingBackend{outcome: launch.OutcomeLaunched}
	d := newTestDispatcher(backend)
	var chainRan atomic.Bool
	_ = d.Chain().AddGlobal(middleware.Descriptor{Name: "spy", Handler: func(context.Context, *request.Request) (bool, error) {
		chainRan.Store(true)
		return true, nil
	}})

	err := d.Navigate("").Submit(context.Background())
	if !naverr.HasCode(err, naverr.CodeInvalidPath) {
		t.Fatalf("dispatcher:dispatcher_test - err = %v, want INVALID_PATH", err)
	}
	d.Wait()
	if chainRan.Load() {
		t.Error("dispatcher:dispatcher_test - middleware ran for an invalid path")
	}
}

func TestRun_HandBuiltInvalidRequest(t *testing.T) {
	d := newTestDispatcher(&recordingBackend{outcome: launch.OutcomeLaunched})
	cb := &recordingCallback{}
	req := request.New("no-slash")
	req.Callback = cb
	res := d.Run(context.Background(), req)
	if res.State != StateNotFound || !naverr.HasCode(res.Err, naverr.CodeInvalidPath) {
		t.Errorf("dispatcher:dispatcher_test - state=%s err=%v", res.State, res.Err)
	}
	if _, e, _ := cb.counts(); e != 1 {
		t.Errorf("dispatcher:dispatcher_test - OnError calls = %d, want 1", e)
	}
}

func TestDispatch_LaunchFailureCancelsResult(t *testing.T) {
	backend := &recordingBackend{outcome: launch.OutcomeFailed, err: errors.New("no display")}
	d := newTestDispatcher(backend)
	_ = d.Register("/pick", registry.Descriptor{HandlerID: "P1"})

	results := make(chan int, 2)
	cb := &recordingCallback{}
	req, _ := d.Navigate("/pick").WithCallback(cb).ForResult(7, func(_ context.Context, _ int, code int, _ *params.Bag) {
		results <- code
	}).Build()

	res := d.Run(context.Background(), req)
	if res.State != StateLaunchFaulted || !naverr.HasCode(res.Err, naverr.CodeLaunchFaulted) {
		t.Fatalf("dispatcher:dispatcher_test - state=%s err=%v", res.State, res.Err)
	}
	if res.Token == nil || req.ResultToken == nil || *res.Token != *req.ResultToken {
		t.Fatalf("dispatcher:dispatcher_test - token not assigned: %v %v", res.Token, req.ResultToken)
	}
	select {
	case code := <-results:
		if code != correlator.ResultCanceled {
			t.Errorf("dispatcher:dispatcher_test - result code = %d, want canceled", code)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher:dispatcher_test - result callback not invoked")
	}
	if d.Correlator().Pending() != 0 {
		t.Errorf("dispatcher:dispatcher_test - pending = %d, want 0", d.Correlator().Pending())
	}
	if _, e, _ := cb.counts(); e != 1 {
		t.Errorf("dispatcher:dispatcher_test - OnError calls = %d, want 1", e)
	}
}

func TestDispatch_FailedOutcomeWithoutError(t *testing.T) {
	d := newTestDispatcher(&recordingBackend{outcome: launch.OutcomeFailed})
	_ = d.Register("/x", registry.Descriptor{HandlerID: "X"})
	req, _ := d.Navigate("/x").Build()
	if res := d.Run(context.Background(), req); res.State != StateLaunchFaulted {
		t.Errorf("dispatcher:dispatcher_test - state = %s, want LaunchFaulted", res.State)
	}
}

func TestDispatch_PendingResultIsDelivered(t *testing.T) {
	backend := &recordingBackend{outcome: launch.OutcomePending}
	d := newTestDispatcher(backend)
	_ = d.Register("/pick", registry.Descriptor{HandlerID: "P1"})

	results := make(chan int, 1)
	req, _ := d.Navigate("/pick").ForResult(3, func(_ context.Context, _ int, code int, payload *params.Bag) {
		if v, _ := payload.GetString("choice"); v != "blue" {
			t.Errorf("dispatcher:dispatcher_test - choice = %q", v)
		}
		results <- code
	}).Build()

	res := d.Run(context.Background(), req)
	if !res.Ok() || res.Outcome != launch.OutcomePending || res.Token == nil {
		t.Fatalf("dispatcher:dispatcher_test - result %+v", res)
	}
	if got := backend.launched()[0]; got.RequestCode != 3 || got.ResultToken == nil || *got.ResultToken != *res.Token {
		t.Errorf("dispatcher:dispatcher_test - target %+v", got)
	}

	ok := d.Correlator().Resolve(context.Background(), *res.Token, correlator.ResultOK, params.New().PutString("choice", "blue"))
	if !ok {
		t.Fatal("dispatcher:dispatcher_test - token not pending")
	}
	if code := <-results; code != correlator.ResultOK {
		t.Errorf("dispatcher:dispatcher_test - code = %d, want OK", code)
	}
}

func TestDispatch_ChainPanicFailsChain(t *testing.T) {
	d := New(Params{
		Backend: &recordingBackend{outcome: launch.OutcomeLaunched},
		Chain:   middleware.NewChain(panickingObserver{}),
	})
	_ = d.Register("/x", registry.Descriptor{HandlerID: "X"})
	_ = d.Chain().AddGlobal(middleware.Descriptor{Name: "veto", Handler: func(context.Context, *request.Request) (bool, error) {
		return false, nil
	}})

	cb := &recordingCallback{}
	req, _ := d.Navigate("/x").WithCallback(cb).Build()
	res := d.Run(context.Background(), req)
	if res.State != StateChainFailed || !naverr.HasCode(res.Err, naverr.CodeChainFailed) {
		t.Fatalf("dispatcher:dispatcher_test - state=%s err=%v", res.State, res.Err)
	}
	if _, e, _ := cb.counts(); e != 1 {
		t.Errorf("dispatcher:dispatcher_test - OnError calls = %d, want 1", e)
	}
}

type panickingObserver struct{}

func (panickingObserver) OnVeto(string, string)         { panic("observer") }
func (panickingObserver) OnFault(string, string, error) {}

func TestDispatch_CallbackPanicIsRecovered(t *testing.T) {
	d := newTestDispatcher(&recordingBackend{outcome: launch.OutcomeLaunched})
	_ = d.Register("/x", registry.Descriptor{HandlerID: "X"})
	req, _ := d.Navigate("/x").WithCallback(request.Funcs{Success: func(string) { panic("boom") }}).Build()
	if !d.Dispatch(context.Background(), req) {
		t.Error("dispatcher:dispatcher_test - callback panic changed the outcome")
	}
}

func TestDispatch_RunsLaunchOnExecutor(t *testing.T) {
	loop := launch.NewLoop(4)
	loop.Start()
	defer loop.Stop()

	d := New(Params{Backend: &recordingBackend{outcome: launch.OutcomeLaunched}, Executor: loop})
	_ = d.Register("/x", registry.Descriptor{HandlerID: "X"})
	req, _ := d.Navigate("/x").Build()
	if !d.Dispatch(context.Background(), req) {
		t.Error("dispatcher:dispatcher_test - launch through loop failed")
	}
}

func TestDispatch_EmitsOutcomeEvent(t *testing.T) {
	var mu sync.Mutex
	var outcomes []map[string]interface{}
	sink := events.NewCallbackSink(func(_ context.Context, e *events.Event) error {
		if e.Message == events.MessageNavigationOutcome {
			mu.Lock()
			outcomes = append(outcomes, e.Fields)
			mu.Unlock()
		}
		return nil
	})
	d := New(Params{Backend: &recordingBackend{outcome: launch.OutcomeLaunched}, Sink: sink})
	_ = d.Register("/x", registry.Descriptor{HandlerID: "X"})

	for _, p := range []string{"/x", "/y"} {
		req, _ := d.Navigate(p).Build()
		d.Run(context.Background(), req)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 2 {
		t.Fatalf("dispatcher:dispatcher_test - %d outcome events, want 2", len(outcomes))
	}
	if outcomes[0]["state"] != string(StateLaunched) || outcomes[0]["handlerId"] != "X" {
		t.Errorf("dispatcher:dispatcher_test - first outcome %v", outcomes[0])
	}
	if outcomes[1]["state"] != string(StateNotFound) || outcomes[1]["error"] != naverr.CodeHandlerNotFound {
		t.Errorf("dispatcher:dispatcher_test - second outcome %v", outcomes[1])
	}
}

func TestRegisterBatch_SkipsInvalid(t *testing.T) {
	d := newTestDispatcher(nil)
	n := d.RegisterBatch(map[string]registry.Descriptor{
		"/a":     {HandlerID: "A"},
		"/b/*":   {HandlerID: "B"},
		"bad":    {HandlerID: "C"},
		"/no-id": {},
	})
	if n != 2 {
		t.Errorf("dispatcher:dispatcher_test - registered %d, want 2", n)
	}
	if !d.IsRegistered("/a") || !d.IsRegistered("/b/c") || d.IsRegistered("/no-id") {
		t.Errorf("dispatcher:dispatcher_test - routes %v", d.AllRoutes())
	}

	_ = d.Chain().AddGlobal(middleware.Descriptor{Name: "m", Handler: func(context.Context, *request.Request) (bool, error) { return true, nil }})
	d.ClearAll()
	if len(d.AllRoutes()) != 0 || len(d.Chain().GlobalNames()) != 0 {
		t.Error("dispatcher:dispatcher_test - ClearAll left routes or middleware")
	}
}

func TestNew_NilBackendFaults(t *testing.T) {
	d := newTestDispatcher(nil)
	_ = d.Register("/x", registry.Descriptor{HandlerID: "X"})
	req, _ := d.Navigate("/x").Build()
	if res := d.Run(context.Background(), req); res.State != StateLaunchFaulted {
		t.Errorf("dispatcher:dispatcher_test - state = %s, want LaunchFaulted", res.State)
	}
}

func TestSubmit_WaitTracksBackgroundDispatch(t *testing.T) {
	release := make(chan struct{})
	var launched atomic.Int32
	d := newTestDispatcher(launch.FuncBackend(func(context.Context, launch.Target) (launch.Outcome, error) {
		<-release
		launched.Add(1)
		return launch.OutcomeLaunched, nil
	}))
	_ = d.Register("/x", registry.Descriptor{HandlerID: "X"})

	for i := 0; i < 3; i++ {
		if err := d.Navigate("/x").Submit(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	close(release)
	d.Wait()
	if launched.Load() != 3 {
		t.Errorf("dispatcher:dispatcher_test - launched %d, want 3", launched.Load())
	}
}
