// Package dispatch routes an entity invocation to its registered handler,
// applying the access discipline the entity's kind requires: services run
// concurrently, virtual objects serialize writers behind a per-key lock,
// workflows run their `run` handler exactly once per key.
package dispatch

import (
	"fmt"
	"sync"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/execctx"
)

// HandlerFunc is one entity handler: given an invocation's Context and raw
// payload, it returns the raw response payload or an error. A handler may
// return an *execctx.Suspend to pause durably.
type HandlerFunc func(ec *execctx.Context, payload []byte) ([]byte, error)

// HandlerDecl pairs a handler implementation with the access mode it
// declares, matching the entity's registered Handlers map.
type HandlerDecl struct {
	Access domain.HandlerAccess
	Fn     HandlerFunc
}

// Registry is the static entity -> handler-name -> implementation map. It is
// populated at startup by each domain package's init/registration call and
// never mutated concurrently with dispatch once serving begins.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]map[string]HandlerDecl
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]map[string]HandlerDecl)}
}

// Register adds one handler under (entity, handlerName). Re-registering the
// same pair replaces the prior implementation — useful for tests.
func (r *Registry) Register(entity, handlerName string, access domain.HandlerAccess, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers[entity] == nil {
		r.handlers[entity] = make(map[string]HandlerDecl)
	}
	r.handlers[entity][handlerName] = HandlerDecl{Access: access, Fn: fn}
}

// Get looks up the handler for (entity, handlerName).
func (r *Registry) Get(entity, handlerName string) (HandlerDecl, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byHandler, ok := r.handlers[entity]
	if !ok {
		return HandlerDecl{}, false
	}
	decl, ok := byHandler[handlerName]
	return decl, ok
}

// HandlerAccessMap returns the access-mode declaration for every handler
// registered under entity, for use with store.RegisterEntity at startup.
func (r *Registry) HandlerAccessMap(entity string) map[string]domain.HandlerAccess {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byHandler := r.handlers[entity]
	out := make(map[string]domain.HandlerAccess, len(byHandler))
	for name, decl := range byHandler {
		out[name] = decl.Access
	}
	return out
}

// ErrNoHandler is returned by Registry-backed dispatch when no handler is
// registered for the requested (entity, handlerName) pair.
type ErrNoHandler struct {
	Entity, Handler string
}

func (e *ErrNoHandler) Error() string {
	return fmt.Sprintf("no handler registered for entity=%s handler=%s", e.Entity, e.Handler)
}
