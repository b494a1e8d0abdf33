package simwire

import (
	"sync"

	"github.com/google/uuid"

	"github.com/openmetaverse-go/simwire/circuit"
)

// HandlerFunc processes one decoded, in-order message. host identifies
// the sender's circuit, blocks holds one Instance slice per block name as
// produced by decodeBlocks, and userCtx is whatever was passed to
// RegisterHandler.
type HandlerFunc func(host circuit.Host, blocks map[string][]Instance, userCtx interface{}) error

type registeredHandler struct {
	id      uuid.UUID
	fn      HandlerFunc
	userCtx interface{}
}

// HandlerRegistry maps template names to an ordered list of handlers, per
// spec.md §4.7. Handlers for the same template run in registration order;
// a handler that returns an error or panics is logged and does not stop
// the rest of the list from running.
type HandlerRegistry struct {
	mu     sync.Mutex
	byName map[string][]registeredHandler
}

// NewHandlerRegistry creates an empty HandlerRegistry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{byName: make(map[string][]registeredHandler)}
}

// RegisterHandler appends fn to the list of handlers for the named
// template and returns an ID that can later be passed to
// UnregisterHandler.
func (r *HandlerRegistry) RegisterHandler(name string, fn HandlerFunc, userCtx interface{}) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New()
	r.byName[name] = append(r.byName[name], registeredHandler{id: id, fn: fn, userCtx: userCtx})
	return id
}

// UnregisterHandler removes the handler with id from the named template's
// list, if present.
func (r *HandlerRegistry) UnregisterHandler(name string, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byName[name]
	for i, h := range list {
		if h.id == id {
			r.byName[name] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// handlersFor returns a snapshot of the handler list for name, safe to
// iterate without holding the registry lock.
func (r *HandlerRegistry) handlersFor(name string) []registeredHandler {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byName[name]
	if len(list) == 0 {
		return nil
	}
	out := make([]registeredHandler, len(list))
	copy(out, list)
	return out
}
