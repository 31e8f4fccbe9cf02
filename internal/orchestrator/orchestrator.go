// Package orchestrator runs the bounded agent loop: model call, gated
// tool execution, fold results back into the conversation, repeat. Every
// tool call passes through the confirmation policy engine before it may
// execute.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/concierge/internal/catalog"
	"github.com/haasonsaas/concierge/internal/router"
	"github.com/haasonsaas/concierge/internal/security"
	"github.com/haasonsaas/concierge/internal/tools/toolerr"
	"github.com/haasonsaas/concierge/pkg/models"
)

// ToolBudget is the maximum number of tool calls honored per request.
// Denied calls count too, so a model stuck re-proposing a refused action
// cannot spin.
const ToolBudget = 5

// Request is one conversational turn from the gateway.
type Request struct {
	// UserID is empty for unauthenticated callers, who get pure chat with
	// no tools attached.
	UserID    string
	Turns     []models.Turn
	MaxTokens int
}

// Result is the loop's outcome.
type Result struct {
	Content      string
	Provider     string
	FallbackUsed bool
	// ToolCallsUsed counts proposed calls, executed or denied.
	ToolCallsUsed int
	// Turns is the full transcript including the tool rounds.
	Turns []models.Turn
}

// Orchestrator wires the router, catalog, and policy engine together.
type Orchestrator struct {
	router   *router.Router
	registry *catalog.Registry
	engine   *security.Engine
	prefs    security.PrefsStore
	pending  PendingStore
	logger   *slog.Logger
	now      func() time.Time
}

// Options configures an Orchestrator.
type Options struct {
	// Pending defaults to an in-process store.
	Pending PendingStore
	Logger  *slog.Logger
}

// New creates an Orchestrator.
func New(r *router.Router, reg *catalog.Registry, engine *security.Engine, prefs security.PrefsStore, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pending := opts.Pending
	if pending == nil {
		pending = NewMemoryPendingStore()
	}
	return &Orchestrator{
		router:   r,
		registry: reg,
		engine:   engine,
		prefs:    prefs,
		pending:  pending,
		logger:   logger,
		now:      time.Now,
	}
}

// Run drives the loop to completion for one request.
func (o *Orchestrator) Run(ctx context.Context, req *Request) (*Result, error) {
	authenticated := req.UserID != ""

	var tools []router.ToolDef
	if authenticated {
		tools = o.registry.AsTools()
	}

	turns := append([]models.Turn(nil), req.Turns...)
	lastReply := models.LastUserContent(turns)

	result := &Result{}
	for {
		modelReq := &router.Request{
			System:    o.systemPrompt(authenticated),
			Turns:     turns,
			Tools:     tools,
			MaxTokens: req.MaxTokens,
		}
		completion, err := o.router.Complete(ctx, modelReq)
		if err != nil {
			return nil, err
		}
		result.Provider = completion.Provider
		result.FallbackUsed = result.FallbackUsed || completion.FallbackUsed

		if len(completion.ToolCalls) == 0 {
			result.Content = completion.Content
			result.Turns = turns
			return result, nil
		}

		calls := completion.ToolCalls
		if remaining := ToolBudget - result.ToolCallsUsed; len(calls) > remaining {
			calls = calls[:remaining]
		}
		result.ToolCallsUsed += len(calls)

		turns = append(turns, models.Turn{
			Role:      models.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: calls,
		})
		results := o.executeRound(ctx, req.UserID, calls, lastReply)
		turns = append(turns, models.Turn{
			Role:        models.RoleTool,
			ToolResults: results,
		})

		if result.ToolCallsUsed >= ToolBudget {
			// Budget spent. One last call without tools produces the
			// closing message.
			final, err := o.router.Complete(ctx, &router.Request{
				System:    o.systemPrompt(authenticated),
				Turns:     turns,
				MaxTokens: req.MaxTokens,
			})
			if err != nil {
				return nil, err
			}
			result.Provider = final.Provider
			result.FallbackUsed = result.FallbackUsed || final.FallbackUsed
			result.Content = final.Content
			result.Turns = turns
			return result, nil
		}
	}
}

// Stream serves a pure-chat request incrementally. Tools are never
// attached; requests that need actions go through Run.
func (o *Orchestrator) Stream(ctx context.Context, req *Request) (<-chan router.Chunk, error) {
	return o.router.Stream(ctx, &router.Request{
		System:    o.systemPrompt(false),
		Turns:     req.Turns,
		MaxTokens: req.MaxTokens,
	})
}

// executeRound gates and runs one round of tool calls. Gating decisions
// are made sequentially; permitted executions run concurrently. Results
// come back in call order regardless of completion order.
func (o *Orchestrator) executeRound(ctx context.Context, userID string, calls []models.ToolCall, lastReply string) []models.ToolResult {
	prefs := o.loadPrefs(ctx, userID)

	results := make([]models.ToolResult, len(calls))
	run := make([]bool, len(calls))
	for i, call := range calls {
		content, denied := o.gate(ctx, userID, call, lastReply, prefs)
		if denied {
			results[i] = models.ToolResult{ToolCallID: call.ID, Content: content, IsError: true}
			continue
		}
		run[i] = true
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		if !run[i] {
			continue
		}
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			content, isErr := o.registry.Execute(ctx, userID, call.Name, call.Input)
			results[i] = models.ToolResult{ToolCallID: call.ID, Content: content, IsError: isErr}
		}(i, call)
	}
	wg.Wait()
	return results
}

// gate applies the confirmation policy to one proposed call. A denial
// returns the error envelope the model sees; it carries the reason so the
// model can relay what the user must say.
func (o *Orchestrator) gate(ctx context.Context, userID string, call models.ToolCall, lastReply string, prefs *models.SecurityPrefs) (string, bool) {
	tier := o.engine.EffectiveTier(call.Name, prefs)
	if _, known := o.registry.Get(call.Name); !known {
		// Let Execute produce the unknown-action envelope.
		return "", false
	}
	if tier == models.TierReadOnly {
		return "", false
	}

	decision := o.engine.Confirm(call.Name, lastReply, prefs)
	if decision.Confirmed {
		if err := o.pending.Delete(ctx, userID, call.Name); err != nil {
			o.logger.Warn("pending action cleanup failed", "action", call.Name, "error", err)
		}
		o.logger.Info("action confirmed",
			"user_id", userID, "action", call.Name, "tier", tier.String())
		return "", false
	}

	if tier != models.TierBlocked {
		record := NewPendingAction(userID, call.Name, call.Input, tier, o.now())
		if err := o.pending.Put(ctx, record); err != nil {
			o.logger.Warn("pending action not recorded", "action", call.Name, "error", err)
		}
	}
	o.logger.Info("action denied",
		"user_id", userID, "action", call.Name, "tier", tier.String(), "reason", decision.Reason)
	return toolerr.ErrorJSON(toolerr.New(toolerr.CodeSecurityDenied, decision.Reason)), true
}

func (o *Orchestrator) loadPrefs(ctx context.Context, userID string) *models.SecurityPrefs {
	prefs, err := o.prefs.Get(ctx, userID)
	if err == nil {
		return prefs
	}
	if !errors.Is(err, security.ErrNotFound) {
		o.logger.Warn("security preferences unavailable, using defaults", "user_id", userID, "error", err)
	}
	return &models.SecurityPrefs{UserID: userID}
}

// systemPrompt states the assistant's role and, for authenticated callers,
// the confirmation rules the model must follow before proposing actions.
func (o *Orchestrator) systemPrompt(authenticated bool) string {
	var b strings.Builder
	b.WriteString("You are a personal assistant that can manage the user's calendar, email, tasks, and contacts.\n")
	if !authenticated {
		b.WriteString("The caller is not signed in, so no actions are available; answer conversationally.\n")
		return b.String()
	}

	b.WriteString("Before invoking an action, follow its confirmation rule:\n")
	b.WriteString("- Routine actions (creating or editing items) need the user's affirmative reply.\n")
	b.WriteString("- Destructive actions need the user to reply with the action's confirmation keyword:\n")

	type kw struct{ action, keyword string }
	var keywords []kw
	for name, p := range o.registry.Policies() {
		if p.Tier == models.TierDestructive && p.Keyword != "" {
			keywords = append(keywords, kw{name, p.Keyword})
		}
	}
	sort.Slice(keywords, func(i, j int) bool { return keywords[i].action < keywords[j].action })
	for _, k := range keywords {
		fmt.Fprintf(&b, "  - %s: %q\n", k.action, k.keyword)
	}

	b.WriteString("- High-impact actions need the user's security phrase; never guess or ask the user to reveal it to you in advance.\n")
	b.WriteString("- Some account actions are never available here and must be done in settings.\n")
	b.WriteString("If an action is refused, relay the refusal reason to the user and wait for their reply.\n")
	return b.String()
}
