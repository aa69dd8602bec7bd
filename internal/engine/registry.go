package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler is a registered entrypoint: it decodes its own request body
// and returns a JSON-encodable value or an error. Handlers must be
// cooperative — they should check ctx.Done() during long-running work
// so that an abort's cooperative interrupt can unwind them.
type Handler func(ctx context.Context, body json.RawMessage) (any, error)

// Registry maps stable entrypoint kind strings to Handlers, replacing
// dynamic callable dispatch (unsafe to serialize and replay across
// process boundaries) with a table bound once at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds kind to h. Registering the same kind twice panics —
// this is a startup-time wiring error, not a runtime condition.
func (reg *Registry) Register(kind string, h Handler) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.handlers[kind]; exists {
		panic(fmt.Sprintf("engine: entrypoint kind %q already registered", kind))
	}
	reg.handlers[kind] = h
}

// Lookup returns the Handler bound to kind, or false if none is registered.
func (reg *Registry) Lookup(kind string) (Handler, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	h, ok := reg.handlers[kind]
	return h, ok
}

// Kinds returns the set of registered entrypoint kinds.
func (reg *Registry) Kinds() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.handlers))
	for k := range reg.handlers {
		out = append(out, k)
	}
	return out
}
