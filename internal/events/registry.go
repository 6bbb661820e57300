package events

import (
	"context"
	"sync"

	"github.com/exzibtx/deployd/internal/domain"
)

// CustomEvent is one named event flowing through a handler chain. Handlers
// may mutate the payload in place, or call Respond to replace the echoed
// result with an unrelated value.
type CustomEvent struct {
	Name    string
	Payload map[string]any

	response  any
	responded bool
}

// Respond replaces the event's result. The last handler to respond wins.
func (e *CustomEvent) Respond(v any) {
	e.response = v
	e.responded = true
}

// Result is what the emitting caller receives: the explicit response when a
// handler produced one, otherwise the (possibly mutated) payload.
func (e *CustomEvent) Result() any {
	if e.responded {
		return e.response
	}
	return e.Payload
}

// Handler processes one custom event. Returning an error aborts the chain.
type Handler func(ctx context.Context, ev *CustomEvent) error

// UpdateEvent is handed to update hooks before an update is authorized.
// Record is the stored record (password digest excluded); Changes are the
// proposed field writes.
type UpdateEvent struct {
	Record  domain.Record
	Changes domain.Record

	trusted map[string]bool
}

// SetTrusted writes a field as a system-trusted mutation, exempting it from
// the owner-only credential gate. This is how registered internal events
// change usernames or passwords on behalf of unauthenticated flows.
func (e *UpdateEvent) SetTrusted(field string, value any) {
	e.Changes[field] = value
	if e.trusted == nil {
		e.trusted = make(map[string]bool)
	}
	e.trusted[field] = true
}

// UpdateHook observes and may transform a pending update.
type UpdateHook func(ctx context.Context, ev *UpdateEvent) error

// Registry holds the handlers registered on one collection. Safe for
// concurrent use; registration normally happens at startup.
type Registry struct {
	mu     sync.RWMutex
	custom map[string][]Handler
	update []UpdateHook
}

func NewRegistry() *Registry {
	return &Registry{custom: make(map[string][]Handler)}
}

// On appends a handler to the chain for a named custom event.
func (r *Registry) On(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[name] = append(r.custom[name], h)
}

// OnUpdate appends an update hook, run before every update's permission gate.
func (r *Registry) OnUpdate(h UpdateHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.update = append(r.update, h)
}

// Emit runs the handler chain for a named event and returns its result.
// With no handlers registered the payload is echoed back unchanged.
func (r *Registry) Emit(ctx context.Context, name string, payload map[string]any) (any, error) {
	r.mu.RLock()
	chain := r.custom[name]
	r.mu.RUnlock()

	if payload == nil {
		payload = map[string]any{}
	}
	ev := &CustomEvent{Name: name, Payload: payload}

	for _, h := range chain {
		if err := h(ctx, ev); err != nil {
			return nil, err
		}
	}
	return ev.Result(), nil
}

// RunUpdate feeds a pending update through the update hooks and reports
// which fields they granted as trusted.
func (r *Registry) RunUpdate(ctx context.Context, record, changes domain.Record) (map[string]bool, error) {
	r.mu.RLock()
	chain := r.update
	r.mu.RUnlock()

	ev := &UpdateEvent{Record: record, Changes: changes}
	for _, h := range chain {
		if err := h(ctx, ev); err != nil {
			return nil, err
		}
	}
	return ev.trusted, nil
}
