package registry

import "testing"

func TestDescriptorClone_CapabilitySet(t *testing.T) {
	d := Descriptor{HandlerID: "H", RequiredCapabilities: []string{"write", "", "read", "write"}}
	c := d.clone()

	want := []string{"read", "write"}
	if len(c.RequiredCapabilities) != len(want) {
		t.Fatalf("registry:types_test - got %v, want %v", c.RequiredCapabilities, want)
	}
	for i := range want {
		if c.RequiredCapabilities[i] != want[i] {
			t.Errorf("registry:types_test - [%d] = %q, want %q", i, c.RequiredCapabilities[i], want[i])
		}
	}
}

func TestDescriptorClone_NilSlices(t *testing.T) {
	c := Descriptor{HandlerID: "H"}.clone()
	if c.RequiredCapabilities != nil || c.MiddlewareIDs != nil {
		t.Errorf("registry:types_test - expected nil slices, got %+v", c)
	}
	if c.HasCapability("any") {
		t.Error("registry:types_test - empty descriptor reported a capability")
	}
}
