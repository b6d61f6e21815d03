package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/morezero/nav-dispatch/pkg/events"
	"github.com/morezero/nav-dispatch/pkg/naverr"
)

func newTestRegistry() *Registry {
	return NewRegistry(NewRegistryParams{})
}

func TestNewRegistry_NilSinkDefaultsToNoOp(t *testing.T) {
	reg := NewRegistry(NewRegistryParams{Sink: nil})
	if _, ok := reg.sink.(*events.NoOpSink); !ok {
		t.Errorf("registry:registry_test - expected NoOpSink when Sink is nil, got %T", reg.sink)
	}
}

func TestRegister_Lookup(t *testing.T) {
	reg := newTestRegistry()
	d := Descriptor{HandlerID: "H1", RequiredCapabilities: []string{"b", "a", "a"}, MiddlewareIDs: []string{"z", "y"}}
	if err := reg.Register("/x", d); err != nil {
		t.Fatalf("registry:registry_test - unexpected error: %v", err)
	}

	got, ok := reg.Lookup("/x")
	if !ok {
		t.Fatal("registry:registry_test - expected /x to be registered")
	}
	if got.HandlerID != "H1" || got.Path != "/x" {
		t.Errorf("registry:registry_test - got %+v", got)
	}
	if len(got.RequiredCapabilities) != 2 || got.RequiredCapabilities[0] != "a" {
		t.Errorf("registry:registry_test - capabilities = %v, want [a b]", got.RequiredCapabilities)
	}
	if got.MiddlewareIDs[0] != "z" {
		t.Errorf("registry:registry_test - middleware order changed: %v", got.MiddlewareIDs)
	}
	if !got.HasCapability("b") || got.HasCapability("c") {
		t.Errorf("registry:registry_test - HasCapability mismatch for %v", got.RequiredCapabilities)
	}
}

func TestRegister_ReplaceNotMerge(t *testing.T) {
	reg := newTestRegistry()
	_ = reg.Register("/x", Descriptor{HandlerID: "H1", RequiresAuth: true, RequiredCapabilities: []string{"admin"}})
	_ = reg.Register("/x", Descriptor{HandlerID: "H2"})

	got, _ := reg.Lookup("/x")
	if got.HandlerID != "H2" {
		t.Errorf("registry:registry_test - HandlerID = %q, want H2", got.HandlerID)
	}
	if got.RequiresAuth || len(got.RequiredCapabilities) != 0 {
		t.Errorf("registry:registry_test - fields merged from previous descriptor: %+v", got)
	}
	if reg.Len() != 1 {
		t.Errorf("registry:registry_test - Len = %d, want 1", reg.Len())
	}
}

func TestRegister_InvalidPath(t *testing.T) {
	reg := newTestRegistry()
	for _, p := range []string{"", "a", "//a", "/a//b", "/a/"} {
		err := reg.Register(p, Descriptor{HandlerID: "H"})
		if !naverr.HasCode(err, naverr.CodeInvalidPath) {
			t.Errorf("registry:registry_test - Register(%q) err = %v, want INVALID_PATH", p, err)
		}
	}
	if reg.Len() != 0 {
		t.Errorf("registry:registry_test - invalid registrations were stored")
	}
}

func TestRegister_MissingHandler(t *testing.T) {
	reg := newTestRegistry()
	if err := reg.Register("/x", Descriptor{}); !naverr.HasCode(err, naverr.CodeInvalidState) {
		t.Errorf("registry:registry_test - err = %v, want INVALID_STATE", err)
	}
}

func TestRegister_StoresCopy(t *testing.T) {
	reg := newTestRegistry()
	caps := []string{"admin"}
	_ = reg.Register("/x", Descriptor{HandlerID: "H", RequiredCapabilities: caps})
	caps[0] = "mutated"

	got, _ := reg.Lookup("/x")
	if got.RequiredCapabilities[0] != "admin" {
		t.Errorf("registry:registry_test - stored descriptor aliased caller slice")
	}
	got.RequiredCapabilities[0] = "changed"
	again, _ := reg.Lookup("/x")
	if again.RequiredCapabilities[0] != "admin" {
		t.Errorf("registry:registry_test - lookup result aliased stored descriptor")
	}
}

func TestLookup_WildcardFallback(t *testing.T) {
	reg := newTestRegistry()
	_ = reg.Register("/user/*", Descriptor{HandlerID: "UserAny"})
	_ = reg.Register("/user/settings/*", Descriptor{HandlerID: "Settings"})
	_ = reg.Register("/user/profile", Descriptor{HandlerID: "Profile"})

	tests := []struct {
		path string
		want string
	}{
		{"/user/profile", "Profile"},
		{"/user/orders", "UserAny"},
		{"/user/settings/privacy", "Settings"},
		{"/user", "UserAny"},
	}
	for _, tt := range tests {
		got, ok := reg.Lookup(tt.path)
		if !ok || got.HandlerID != tt.want {
			t.Errorf("registry:registry_test - Lookup(%q) = %q (%v), want %q", tt.path, got.HandlerID, ok, tt.want)
		}
	}
	if reg.IsRegistered("/orders") {
		t.Error("registry:registry_test - /orders should not resolve")
	}

	if !reg.Unregister("/user/*") {
		t.Fatal("registry:registry_test - Unregister wildcard failed")
	}
	if reg.IsRegistered("/user/orders") {
		t.Error("registry:registry_test - wildcard still matched after Unregister")
	}
}

func TestSnapshot_Independent(t *testing.T) {
	reg := newTestRegistry()
	_ = reg.Register("/a", Descriptor{HandlerID: "A"})
	snap := reg.Snapshot()
	_ = reg.Register("/b", Descriptor{HandlerID: "B"})
	delete(snap, "/a")

	if _, ok := snap["/b"]; ok {
		t.Error("registry:registry_test - snapshot observed later registration")
	}
	if !reg.IsRegistered("/a") {
		t.Error("registry:registry_test - mutating the snapshot changed the registry")
	}
}

func TestUnregisterAll_EmitsEvent(t *testing.T) {
	var messages []string
	var mu sync.Mutex
	sink := events.NewCallbackSink(func(_ context.Context, e *events.Event) error {
		mu.Lock()
		messages = append(messages, e.Message)
		mu.Unlock()
		return nil
	})
	reg := NewRegistry(NewRegistryParams{Sink: sink})
	_ = reg.Register("/a", Descriptor{HandlerID: "A"})
	reg.UnregisterAll()

	if reg.Len() != 0 || reg.IsRegistered("/a") {
		t.Error("registry:registry_test - UnregisterAll left routes behind")
	}
	if len(messages) != 2 || messages[0] != events.MessageRouteRegistered || messages[1] != events.MessageRoutesCleared {
		t.Errorf("registry:registry_test - events = %v", messages)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p := fmt.Sprintf("/r%d", j%10)
				_ = reg.Register(p, Descriptor{HandlerID: fmt.Sprintf("H%d", i)})
				reg.Lookup(p)
				for range reg.Snapshot() {
				}
			}
		}(i)
	}
	wg.Wait()
	if reg.Len() != 10 {
		t.Errorf("registry:registry_test - Len = %d, want 10", reg.Len())
	}
}
