// Package router fans a completion request across an ordered list of LLM
// providers, falling back down the chain until one succeeds.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/haasonsaas/concierge/pkg/models"
)

// DefaultAttemptTimeout bounds each single provider attempt.
const DefaultAttemptTimeout = 60 * time.Second

// ToolDef describes one tool offered to the model.
type ToolDef struct {
	Name        string
	Description string
	// Schema is the JSON Schema for the tool's input.
	Schema json.RawMessage
}

// Request is a provider-agnostic completion request.
type Request struct {
	System    string
	Turns     []models.Turn
	Tools     []ToolDef
	MaxTokens int
}

// Completion is the collected, non-streaming result of one model turn.
type Completion struct {
	Content   string
	ToolCalls []models.ToolCall
	Model     string
	Provider  string
	// FallbackUsed is true when the completion did not come from the
	// first-choice provider.
	FallbackUsed bool
}

// Provider is one LLM backend. Complete blocks until the model turn is
// fully collected or ctx ends.
type Provider interface {
	Name() string
	SupportsTools() bool
	Complete(ctx context.Context, req *Request) (*Completion, error)
}

// Router tries providers in configured order.
type Router struct {
	providers []Provider
	timeout   time.Duration
	logger    *slog.Logger
}

// Options configures a Router.
type Options struct {
	// AttemptTimeout bounds each provider attempt; defaults to
	// DefaultAttemptTimeout.
	AttemptTimeout time.Duration

	Logger *slog.Logger
}

// New creates a Router over providers in priority order.
func New(providers []Provider, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return &Router{providers: providers, timeout: timeout, logger: logger}
}

// Complete runs the request against each provider in order until one
// returns a completion. Providers that cannot serve tool requests are
// skipped when the request carries tools. When every provider fails the
// returned error is an *ExhaustedError carrying the per-provider outcomes;
// the caller decides how to degrade.
func (r *Router) Complete(ctx context.Context, req *Request) (*Completion, error) {
	exhausted := &ExhaustedError{}
	fallback := false

	for _, p := range r.providers {
		if len(req.Tools) > 0 && !p.SupportsTools() {
			r.logger.Debug("skipping provider without tool support", "provider", p.Name())
			exhausted.Attempts = append(exhausted.Attempts, Attempt{
				Provider: p.Name(),
				Reason:   ReasonNoToolSupport,
			})
			fallback = true
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		completion, err := p.Complete(attemptCtx, req)
		cancel()

		if err == nil {
			completion.Provider = p.Name()
			completion.FallbackUsed = fallback
			if fallback {
				r.logger.Info("request served by fallback provider", "provider", p.Name())
			}
			return completion, nil
		}

		reason := Classify(err)
		r.logger.Warn("provider attempt failed",
			"provider", p.Name(),
			"reason", reason,
			"error", err,
		)
		exhausted.Attempts = append(exhausted.Attempts, Attempt{
			Provider: p.Name(),
			Reason:   reason,
			Err:      err,
		})
		fallback = true

		// The caller's context ending is terminal; provider timeouts are not.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, exhausted
}

// Chunk is one fragment of a streamed completion. A terminal failure
// arrives as a Chunk with Err set; the channel closes afterwards.
type Chunk struct {
	Text string
	Err  error
}

// Streamer is an optional Provider extension for incremental delivery.
type Streamer interface {
	Provider
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
}

// Stream serves a tool-less request incrementally. Providers that cannot
// stream are attempted with Complete and their result emitted as a single
// chunk. Failover only happens before the first byte; once a stream is
// handed out, its errors are delivered in-channel.
func (r *Router) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	exhausted := &ExhaustedError{}

	for _, p := range r.providers {
		if s, ok := p.(Streamer); ok {
			ch, err := s.Stream(ctx, req)
			if err == nil {
				return ch, nil
			}
			exhausted.Attempts = append(exhausted.Attempts, Attempt{
				Provider: p.Name(),
				Reason:   Classify(err),
				Err:      err,
			})
		} else {
			attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
			completion, err := p.Complete(attemptCtx, req)
			cancel()
			if err == nil {
				ch := make(chan Chunk, 1)
				ch <- Chunk{Text: completion.Content}
				close(ch)
				return ch, nil
			}
			exhausted.Attempts = append(exhausted.Attempts, Attempt{
				Provider: p.Name(),
				Reason:   Classify(err),
				Err:      err,
			})
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, exhausted
}

// Providers returns the configured provider names in priority order.
func (r *Router) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}
