package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/haasonsaas/concierge/internal/auth"
	"github.com/haasonsaas/concierge/internal/orchestrator"
	"github.com/haasonsaas/concierge/internal/ratelimit"
	"github.com/haasonsaas/concierge/internal/router"
	"github.com/haasonsaas/concierge/pkg/models"
)

// chatRequest is the body of POST /v1/chat.
type chatRequest struct {
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the non-streaming reply.
type chatResponse struct {
	Content       string `json:"content"`
	Provider      string `json:"provider,omitempty"`
	FallbackUsed  bool   `json:"fallback_used,omitempty"`
	ToolCallsUsed int    `json:"tool_calls_used,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}

	if !s.limiter.Allow(ratelimit.CompositeKey("chat", clientIP(r))) {
		s.metrics.RequestCounter.WithLabelValues("rate_limited").Inc()
		writeError(w, http.StatusTooManyRequests, "too many requests; slow down")
		return
	}

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.metrics.RequestCounter.WithLabelValues("denied_input").Inc()
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	turns, err := toTurns(body.Messages)
	if err != nil {
		s.metrics.RequestCounter.WithLabelValues("denied_input").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := &orchestrator.Request{
		Turns:     turns,
		MaxTokens: body.MaxTokens,
	}
	if user := auth.UserFromContext(r.Context()); user != nil {
		req.UserID = user.ID
	}

	if body.Stream {
		s.streamChat(w, r, req)
		return
	}

	result, err := s.orch.Run(r.Context(), req)
	if err != nil {
		s.writeCompletionError(w, err)
		return
	}

	s.metrics.RequestCounter.WithLabelValues("ok").Inc()
	s.metrics.ToolCallsUsed.Observe(float64(result.ToolCallsUsed))
	if result.FallbackUsed {
		s.metrics.FallbackCounter.WithLabelValues(result.Provider).Inc()
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Content:       result.Content,
		Provider:      result.Provider,
		FallbackUsed:  result.FallbackUsed,
		ToolCallsUsed: result.ToolCallsUsed,
	})
}

// streamChat serves a tool-less request as server-sent events: one "data:"
// line per chunk, then "data: [DONE]".
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req *orchestrator.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming is not supported on this connection")
		return
	}

	ch, err := s.orch.Stream(r.Context(), req)
	if err != nil {
		s.writeCompletionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	s.metrics.RequestCounter.WithLabelValues("ok").Inc()
	for chunk := range ch {
		if chunk.Err != nil {
			s.logger.Warn("stream aborted", "error", chunk.Err)
			fmt.Fprintf(w, "data: {\"error\":\"the response was interrupted\"}\n\n")
			flusher.Flush()
			return
		}
		payload, _ := json.Marshal(map[string]string{"content": chunk.Text})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// writeCompletionError maps loop failures onto HTTP statuses. Provider
// exhaustion degrades by its dominant cause; everything else is a 500
// with no internal detail.
func (s *Server) writeCompletionError(w http.ResponseWriter, err error) {
	var exhausted *router.ExhaustedError
	if errors.As(err, &exhausted) {
		s.metrics.RequestCounter.WithLabelValues("provider_exhausted").Inc()
		switch exhausted.DominantReason() {
		case router.ReasonRateLimit:
			writeError(w, http.StatusTooManyRequests, "all model providers are rate limiting; try again shortly")
		case router.ReasonBilling:
			writeError(w, http.StatusPaymentRequired, "model provider quota is exhausted")
		default:
			writeError(w, http.StatusInternalServerError, "no model provider is available right now")
		}
		return
	}

	s.metrics.RequestCounter.WithLabelValues("error").Inc()
	s.logger.Error("chat request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "the request could not be completed")
}

func toTurns(messages []chatMessage) ([]models.Turn, error) {
	if len(messages) == 0 {
		return nil, errors.New("messages must not be empty")
	}
	turns := make([]models.Turn, 0, len(messages))
	for i, m := range messages {
		switch models.Role(m.Role) {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		default:
			return nil, fmt.Errorf("messages[%d] has unsupported role %q", i, m.Role)
		}
		if m.Content == "" {
			return nil, fmt.Errorf("messages[%d] has empty content", i)
		}
		turns = append(turns, models.Turn{Role: models.Role(m.Role), Content: m.Content})
	}
	if turns[len(turns)-1].Role != models.RoleUser {
		return nil, errors.New("the last message must be from the user")
	}
	return turns, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
