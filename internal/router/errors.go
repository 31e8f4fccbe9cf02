package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Reason classifies why a provider attempt failed. It drives both failover
// decisions and the HTTP status the gateway maps an exhausted request to.
type Reason string

const (
	ReasonTimeout          Reason = "timeout"
	ReasonRateLimit        Reason = "rate_limit"
	ReasonAuth             Reason = "auth"
	ReasonBilling          Reason = "billing"
	ReasonModelUnavailable Reason = "model_unavailable"
	ReasonServerError      Reason = "server_error"
	ReasonInvalidRequest   Reason = "invalid_request"
	ReasonNoToolSupport    Reason = "no_tool_support"
	ReasonUnknown          Reason = "unknown"
)

// Classify maps a provider error onto a Reason by inspecting its text.
// Provider SDKs surface status codes inside error strings rather than as
// typed values we could switch on uniformly.
func Classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "context deadline"):
		return ReasonTimeout

	case strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "rate_limit"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "429"):
		return ReasonRateLimit

	case strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "invalid api key"),
		strings.Contains(errStr, "authentication"),
		strings.Contains(errStr, "401"),
		strings.Contains(errStr, "403"):
		return ReasonAuth

	case strings.Contains(errStr, "billing"),
		strings.Contains(errStr, "payment"),
		strings.Contains(errStr, "quota"),
		strings.Contains(errStr, "402"):
		return ReasonBilling

	case strings.Contains(errStr, "model not found"),
		strings.Contains(errStr, "does not exist"),
		strings.Contains(errStr, "unavailable"):
		return ReasonModelUnavailable

	case strings.Contains(errStr, "internal server"),
		strings.Contains(errStr, "server error"),
		strings.Contains(errStr, "500"),
		strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "504"):
		return ReasonServerError

	case strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "bad request"),
		strings.Contains(errStr, "400"):
		return ReasonInvalidRequest
	}

	return ReasonUnknown
}

// Attempt records one failed provider attempt.
type Attempt struct {
	Provider string
	Reason   Reason
	Err      error
}

// ExhaustedError is returned when every provider in the chain failed. It
// keeps the per-provider outcomes so callers can pick a dominant reason.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "router: no providers configured"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s (%s)", a.Provider, a.Reason)
	}
	return "router: all providers failed: " + strings.Join(parts, ", ")
}

// DominantReason picks the reason the caller should surface: rate limiting
// wins over billing, which wins over everything else, since those determine
// whether the client should retry later or fix its account.
func (e *ExhaustedError) DominantReason() Reason {
	dominant := ReasonUnknown
	rank := func(r Reason) int {
		switch r {
		case ReasonRateLimit:
			return 3
		case ReasonBilling:
			return 2
		case ReasonTimeout, ReasonServerError:
			return 1
		default:
			return 0
		}
	}
	for _, a := range e.Attempts {
		if rank(a.Reason) > rank(dominant) {
			dominant = a.Reason
		}
	}
	return dominant
}

// Unwrap exposes the last underlying error for errors.Is chains.
func (e *ExhaustedError) Unwrap() error {
	for i := len(e.Attempts) - 1; i >= 0; i-- {
		if e.Attempts[i].Err != nil {
			return e.Attempts[i].Err
		}
	}
	return nil
}
