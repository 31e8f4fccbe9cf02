// Package catalog is the single source of truth for the actions the
// assistant may take: their schemas, confirmation tiers, and executors.
// The registry is validated at startup so a drift between declared
// actions and wired executors fails the process instead of a request.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/concierge/internal/router"
	"github.com/haasonsaas/concierge/internal/security"
	"github.com/haasonsaas/concierge/internal/tools/toolerr"
	"github.com/haasonsaas/concierge/pkg/models"
)

// HandlerFunc executes one action for one user and returns the
// JSON-encoded result envelope.
type HandlerFunc func(ctx context.Context, userID string, args json.RawMessage) (string, error)

// Descriptor declares one action.
type Descriptor struct {
	// Name is the action id, e.g. "calendar.delete_event".
	Name        string
	Description string
	// Schema is the JSON Schema for the action's arguments.
	Schema json.RawMessage
	// Tier is the default confirmation tier.
	Tier models.Tier
	// Keyword and Emoji are the tier-3 confirmation pair, when one applies.
	Keyword string
	Emoji   string
	// Provider names the integration the action needs, empty for none.
	Provider string
}

type entry struct {
	desc     Descriptor
	compiled *jsonschema.Schema
	handler  HandlerFunc
}

// Registry holds the action catalog.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Add registers an action, compiling its schema. Blocked actions are
// declared without a handler; they exist so the policy engine can refuse
// them by name rather than treating them as unknown.
func (r *Registry) Add(desc Descriptor, handler HandlerFunc) error {
	if desc.Name == "" {
		return fmt.Errorf("catalog: action name is required")
	}
	if !desc.Tier.Valid() {
		return fmt.Errorf("catalog: action %s has invalid tier %d", desc.Name, desc.Tier)
	}
	if len(desc.Schema) == 0 {
		desc.Schema = json.RawMessage(`{"type":"object"}`)
	}

	compiler := jsonschema.NewCompiler()
	url := desc.Name + ".schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(desc.Schema)); err != nil {
		return fmt.Errorf("catalog: schema for %s: %w", desc.Name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("catalog: compile schema for %s: %w", desc.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("catalog: action %s registered twice", desc.Name)
	}
	r.entries[desc.Name] = &entry{desc: desc, compiled: compiled, handler: handler}
	return nil
}

// Validate checks the catalog's internal consistency: every executable
// action carries a handler, and no blocked action does. Called once at
// startup; a failure aborts the process.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, e := range r.entries {
		blocked := e.desc.Tier == models.TierBlocked
		if blocked && e.handler != nil {
			return fmt.Errorf("catalog: blocked action %s must not have an executor", name)
		}
		if !blocked && e.handler == nil {
			return fmt.Errorf("catalog: action %s has no executor", name)
		}
		if e.desc.Tier == models.TierDestructive && e.desc.Keyword == "" {
			return fmt.Errorf("catalog: destructive action %s has no confirmation keyword", name)
		}
	}
	return nil
}

// Get returns an action's descriptor.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// AsTools returns the executable actions as tool definitions for the
// model, sorted by name. Blocked actions are never offered.
func (r *Registry) AsTools() []router.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]router.ToolDef, 0, len(r.entries))
	for _, e := range r.entries {
		if e.desc.Tier == models.TierBlocked {
			continue
		}
		defs = append(defs, router.ToolDef{
			Name:        e.desc.Name,
			Description: e.desc.Description,
			Schema:      e.desc.Schema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Policies returns the per-action confirmation policies for the security
// engine.
func (r *Registry) Policies() map[string]security.ActionPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	policies := make(map[string]security.ActionPolicy, len(r.entries))
	for name, e := range r.entries {
		policies[name] = security.ActionPolicy{
			Tier:    e.desc.Tier,
			Keyword: e.desc.Keyword,
			Emoji:   e.desc.Emoji,
		}
	}
	return policies
}

// Execute validates args against the action's schema and runs its
// handler. All failures come back as the JSON error envelope with a nil
// Go error; the bool reports whether the result is an error envelope.
func (r *Registry) Execute(ctx context.Context, userID, name string, args json.RawMessage) (string, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return toolerr.ErrorJSON(toolerr.Newf(toolerr.CodeUnknownAction, "action %q does not exist", name)), true
	}
	if e.desc.Tier == models.TierBlocked {
		return toolerr.ErrorJSON(toolerr.New(toolerr.CodeSecurityDenied,
			"this action cannot be performed through the assistant")), true
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded interface{}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return toolerr.ErrorJSON(toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")), true
	}
	if err := e.compiled.Validate(decoded); err != nil {
		return toolerr.ErrorJSON(toolerr.Newf(toolerr.CodeValidation, "invalid arguments: %v", err)), true
	}

	result, err := e.handler(ctx, userID, args)
	if err != nil {
		return toolerr.ErrorJSON(err), true
	}
	return result, false
}
