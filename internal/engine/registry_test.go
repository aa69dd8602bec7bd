package engine

import (
	"context"
	"encoding/json"
	"testing"
)

func echoHandler(_ context.Context, body json.RawMessage) (any, error) {
	return string(body), nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", echoHandler)

	h, ok := reg.Lookup("echo")
	if !ok {
		t.Fatal("Lookup(echo) = false, want true")
	}
	result, err := h(context.Background(), json.RawMessage(`"hi"`))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result != `"hi"` {
		t.Fatalf("result = %v, want %q", result, `"hi"`)
	}

	if _, ok := reg.Lookup("missing"); ok {
		t.Fatal("Lookup(missing) = true, want false")
	}
}

func TestRegistry_DuplicateRegisterPanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", echoHandler)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate Register")
		}
	}()
	reg.Register("echo", echoHandler)
}

func TestRegistry_Kinds(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", echoHandler)
	reg.Register("b", echoHandler)

	kinds := reg.Kinds()
	if len(kinds) != 2 {
		t.Fatalf("Kinds() = %v, want 2 entries", kinds)
	}
}
