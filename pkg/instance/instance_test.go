package instance

import "testing"

func TestGetIDPrefersExplicitID(t *testing.T) {
	t.Setenv("TXNFLOW_INSTANCE_ID", "gw-3")
	t.Setenv("DYNO", "web.1")
	if got := GetID(); got != "gw-3" {
		t.Fatalf("expected gw-3, got %q", got)
	}
}

func TestGetIDFallsBack(t *testing.T) {
	t.Setenv("TXNFLOW_INSTANCE_ID", "")
	t.Setenv("DYNO", "web.1")
	if got := GetID(); got != "web.1" {
		t.Fatalf("expected web.1, got %q", got)
	}

	t.Setenv("DYNO", "")
	if got := GetID(); got == "" {
		t.Fatal("expected a hostname fallback")
	}
}
