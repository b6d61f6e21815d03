package middleware

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/morezero/nav-dispatch/pkg/events"
	"github.com/morezero/nav-dispatch/pkg/naverr"
	"github.com/morezero/nav-dispatch/pkg/request"
	"github.com/morezero/nav-dispatch/pkg/session"
)

type failingOracle struct{ session.Oracle }

func (failingOracle) IsAuthenticated(context.Context) (bool, error) {
	return false, errors.New("store down")
}

type failingCaps struct{}

func (failingCaps) HasCapability(context.Context, string) (bool, error) {
	return false, errors.New("store down")
}

func TestSessionCheck_VetoesAndPersistsTarget(t *testing.T) {
	store := session.NewMemoryStore()
	check, err := NewSessionCheck(store, "/login", "/secure", "/account/*")
	if err != nil {
		t.Fatal(err)
	}
	ctx := session.WithID(context.Background(), "s1")

	req := request.New("/secure")
	ok, err := check.Handle(ctx, req)
	if ok || err != nil {
		t.Fatalf("middleware:builtin_test - ok=%v err=%v, want veto", ok, err)
	}
	icpt := req.Interception()
	if !naverr.HasCode(icpt, naverr.CodeAuthRequired) {
		t.Fatalf("middleware:builtin_test - interception = %v", icpt)
	}
	var ne *naverr.Error
	if errors.As(icpt, &ne) {
		details := ne.Details.(map[string]string)
		if details["redirect"] != "/login" || details["target"] != "/secure" {
			t.Errorf("middleware:builtin_test - details = %v", details)
		}
	}
	if target, found, _ := store.ConsumeRedirectTarget(ctx); !found || target != "/secure" {
		t.Errorf("middleware:builtin_test - persisted target = %q %v", target, found)
	}

	if ok, _ := check.Handle(ctx, request.New("/account/orders")); ok {
		t.Error("middleware:builtin_test - wildcard rule not applied")
	}
	if ok, _ := check.Handle(ctx, request.New("/public")); !ok {
		t.Error("middleware:builtin_test - unguarded path vetoed")
	}

	_ = store.Authenticate(ctx, "s1")
	if ok, _ := check.Handle(ctx, request.New("/secure")); !ok {
		t.Error("middleware:builtin_test - authenticated caller vetoed")
	}
}

func TestSessionCheck_AuthPathNeverGuarded(t *testing.T) {
	check, _ := NewSessionCheck(session.NewMemoryStore(), "/login", "/*")
	if check.Requires("/login") {
		t.Error("middleware:builtin_test - auth path guarded")
	}
	if !check.Requires("/anything") {
		t.Error("middleware:builtin_test - /* did not match")
	}
}

func TestSessionCheck_OracleErrorIsFault(t *testing.T) {
	check, _ := NewSessionCheck(failingOracle{}, "/login", "/secure")
	ok, err := check.Handle(context.Background(), request.New("/secure"))
	if !ok || err == nil {
		t.Errorf("middleware:builtin_test - ok=%v err=%v, want fault without veto", ok, err)
	}
}

func TestNewSessionCheck_InvalidPattern(t *testing.T) {
	if _, err := NewSessionCheck(session.NewMemoryStore(), "/login", "secure"); !naverr.HasCode(err, naverr.CodeInvalidPath) {
		t.Errorf("middleware:builtin_test - err = %v", err)
	}
}

func TestCapabilityCheck(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := session.WithID(context.Background(), "s1")
	_ = store.Authenticate(ctx, "s1", "orders.read")

	check := NewCapabilityCheck(store)
	_ = check.Require("/admin/*", "admin")
	_ = check.Require("/admin/reports/*", "reports")
	_ = check.Require("/orders", "orders.read")
	_ = check.Require("/admin/open")

	if got := check.Required("/admin/reports/q1"); !reflect.DeepEqual(got, []string{"admin", "reports"}) {
		t.Errorf("middleware:builtin_test - wildcard union = %v", got)
	}
	if got := check.Required("/admin/open"); len(got) != 0 {
		t.Errorf("middleware:builtin_test - exact rule should win, got %v", got)
	}

	if ok, _ := check.Handle(ctx, request.New("/orders")); !ok {
		t.Error("middleware:builtin_test - held capability vetoed")
	}

	req := request.New("/admin/reports/q1")
	ok, err := check.Handle(ctx, req)
	if ok || err != nil {
		t.Fatalf("middleware:builtin_test - ok=%v err=%v, want veto", ok, err)
	}
	var ne *naverr.Error
	if !errors.As(req.Interception(), &ne) || ne.Code != naverr.CodeCapabilityDenied {
		t.Fatalf("middleware:builtin_test - interception = %v", req.Interception())
	}
	if missing := ne.Details.(map[string][]string)["missing"]; !reflect.DeepEqual(missing, []string{"admin", "reports"}) {
		t.Errorf("middleware:builtin_test - missing = %v", missing)
	}
}

func TestSessionCheck_Forget(t *testing.T) {
	check, _ := NewSessionCheck(session.NewMemoryStore(), "/login", "/a", "/b/*")
	if !check.Forget("/a") || !check.Forget("/b/*") {
		t.Fatal("middleware:builtin_test - Forget missed an existing rule")
	}
	if check.Forget("/a") {
		t.Error("middleware:builtin_test - Forget reported a removed rule")
	}
	if check.Requires("/a") || check.Requires("/b/c") {
		t.Error("middleware:builtin_test - forgotten rules still apply")
	}
}

func TestCapabilityCheck_SetReplaces(t *testing.T) {
	check := NewCapabilityCheck(session.NewMemoryStore())
	_ = check.Require("/x", "a", "b")
	if err := check.Set("/x", "c"); err != nil {
		t.Fatal(err)
	}
	if got := check.Required("/x"); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("middleware:builtin_test - Required = %v, want [c]", got)
	}
	_ = check.Set("/x")
	if got := check.Required("/x"); len(got) != 0 {
		t.Errorf("middleware:builtin_test - Required after clear = %v", got)
	}
	if err := check.Set("bad", "c"); !naverr.HasCode(err, naverr.CodeInvalidPath) {
		t.Errorf("middleware:builtin_test - err = %v, want INVALID_PATH", err)
	}
}

func TestCapabilityCheck_OracleErrorIsFault(t *testing.T) {
	check := NewCapabilityCheck(failingCaps{})
	_ = check.Require("/x", "c")
	ok, err := check.Handle(context.Background(), request.New("/x"))
	if !ok || err == nil {
		t.Errorf("middleware:builtin_test - ok=%v err=%v", ok, err)
	}
}

func TestLogging_RedactsSensitiveKeys(t *testing.T) {
	var mu sync.Mutex
	var got []*events.Event
	sink := events.NewCallbackSink(func(_ context.Context, e *events.Event) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		return nil
	})
	l := NewLogging(sink)

	req := request.New("/login")
	req.Params.PutString("user", "ann").PutString("Password", "hunter2").PutString("authToken", "abc")
	ok, err := l.Handle(context.Background(), req)
	if !ok || err != nil {
		t.Fatalf("middleware:builtin_test - ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[0].Message != events.MessageNavigationStart || got[1].Message != events.MessageNavigationParams {
		t.Fatalf("middleware:builtin_test - events = %v", got)
	}
	p := got[1].Fields["params"].(map[string]interface{})
	if p["user"] != "ann" || p["Password"] != "***" || p["authToken"] != "***" {
		t.Errorf("middleware:builtin_test - redacted params = %v", p)
	}
}

func TestLogging_SinkErrorNeverVetoes(t *testing.T) {
	l := NewLogging(events.NewCallbackSink(func(context.Context, *events.Event) error {
		return errors.New("sink down")
	}), "pin")
	if !l.IsSensitive("userPIN") || l.IsSensitive("password") {
		t.Error("middleware:builtin_test - custom sensitive keys not applied")
	}
	ok, err := l.Handle(context.Background(), request.New("/x"))
	if !ok || err == nil {
		t.Errorf("middleware:builtin_test - ok=%v err=%v", ok, err)
	}
}

func TestBuiltins_Priorities(t *testing.T) {
	store := session.NewMemoryStore()
	sc, _ := NewSessionCheck(store, "/login")
	c := NewChain(nil)
	_ = c.AddGlobal(NewLogging(&events.NoOpSink{}).Descriptor())
	_ = c.AddGlobal(NewCapabilityCheck(store).Descriptor())
	_ = c.AddGlobal(sc.Descriptor())

	want := []string{NameSession, NameCapability, NameLogging}
	if got := c.GlobalNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("middleware:builtin_test - order = %v, want %v", got, want)
	}
}

func TestAudit_EmitsAndPasses(t *testing.T) {
	var got []*events.Event
	d := NewAudit(events.NewCallbackSink(func(_ context.Context, e *events.Event) error {
		got = append(got, e)
		return nil
	}))
	if d.Name != NameAudit || d.Priority != PriorityAudit {
		t.Errorf("middleware:builtin_test - descriptor = %s/%d", d.Name, d.Priority)
	}
	ctx := session.WithID(context.Background(), "s9")
	ok, err := d.Handler(ctx, request.New("/admin/users"))
	if !ok || err != nil {
		t.Fatalf("middleware:builtin_test - ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0].Message != events.MessageNavigationAudit || got[0].Fields["sessionId"] != "s9" {
		t.Errorf("middleware:builtin_test - audit events = %+v", got)
	}
}
