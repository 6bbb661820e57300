// Package permission decides, per request, whether the caller may perform an
// operation and which fields it may write. Defaults are deliberately loose
// (anyone can edit non-credential fields); registered hooks are the extension
// point for anything stricter or looser.
package permission

import (
	"context"
	"errors"
	"sync"

	"github.com/exzibtx/deployd/internal/domain"
)

// Action identifies the kind of operation being authorized.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ErrVetoed is returned when a registered hook rejects the operation outright.
var ErrVetoed = errors.New("permission: operation vetoed")

// Request describes one operation to be authorized. Hooks receive a pointer
// and may transform it, typically stripping a marker field they recognized
// out of Query so it does not leak into document matching.
type Request struct {
	Collection string
	Action     Action
	CallerID   string // "" when anonymous
	TargetID   string // "" for bulk (query-scoped) operations
	Query      map[string]any
	Changes    domain.Record
	Trusted    map[string]bool // fields granted by internal event hooks
}

// Verdict is a single hook's judgement.
type Verdict int

const (
	// Pass defers to the remaining hooks and the default policy.
	Pass Verdict = iota
	// Bypass grants elevated access: the operation runs across the full
	// matching set with no field restrictions.
	Bypass
	// Veto rejects the operation outright.
	Veto
)

// Hook is a pluggable predicate/transform consulted in registration order.
type Hook func(ctx context.Context, req *Request) Verdict

// Decision is the ephemeral, per-request outcome of evaluation.
type Decision struct {
	// Bypass is true when a hook granted elevated access.
	Bypass bool
	// RestrictToOwner marks bulk mutations that must only touch the
	// caller's own record among the matching set.
	RestrictToOwner bool
}

// Engine evaluates the default policy plus any hooks registered per
// collection. Safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	hooks map[string][]Hook
}

func NewEngine() *Engine {
	return &Engine{hooks: make(map[string][]Hook)}
}

// Register appends a hook to the chain for a collection. Hooks run in
// registration order on every operation against that collection.
func (e *Engine) Register(collection string, h Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks[collection] = append(e.hooks[collection], h)
}

// Evaluate runs the hook chain, then the default policy. A Veto from any
// hook aborts with ErrVetoed; a Bypass short-circuits the rest.
func (e *Engine) Evaluate(ctx context.Context, req *Request) (Decision, error) {
	e.mu.RLock()
	chain := e.hooks[req.Collection]
	e.mu.RUnlock()

	for _, h := range chain {
		switch h(ctx, req) {
		case Bypass:
			return Decision{Bypass: true}, nil
		case Veto:
			return Decision{}, ErrVetoed
		}
	}

	bulk := req.TargetID == ""
	mutating := req.Action == ActionUpdate || req.Action == ActionDelete

	return Decision{RestrictToOwner: bulk && mutating}, nil
}

// CheckFields applies the credential field gate for one target record:
// username and password may only be written by the authenticated owner,
// unless an internal event hook marked the write as trusted. Every offending
// field is collected; nil means the write is allowed.
func (e *Engine) CheckFields(callerID, targetID string, changes domain.Record, trusted map[string]bool) *domain.ValidationError {
	if callerID != "" && callerID == targetID {
		return nil
	}

	verr := domain.NewValidationError()
	for _, field := range []string{domain.FieldUsername, domain.FieldPassword} {
		if _, present := changes[field]; !present {
			continue
		}
		if trusted[field] {
			continue
		}
		verr.Add(field, "can only be changed by the account owner")
	}

	if verr.Any() {
		return verr
	}
	return nil
}
