// Package googleapi is a thin HTTP client for the Google Calendar, Gmail,
// and People APIs. It maps upstream failures onto the structured action
// error vocabulary so executors never leak raw responses to the model.
package googleapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haasonsaas/concierge/internal/tools/toolerr"
)

const (
	defaultCalendarBaseURL = "https://www.googleapis.com/calendar/v3"
	defaultGmailBaseURL    = "https://gmail.googleapis.com/gmail/v1"
	defaultPeopleBaseURL   = "https://people.googleapis.com/v1"
)

// Client calls Google REST APIs with a caller-supplied access token.
type Client struct {
	httpClient *http.Client

	calendarBaseURL string
	gmailBaseURL    string
	peopleBaseURL   string
}

// Options configures a Client. The base URL overrides exist for tests.
type Options struct {
	HTTPClient      *http.Client
	CalendarBaseURL string
	GmailBaseURL    string
	PeopleBaseURL   string
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{
		httpClient:      httpClient,
		calendarBaseURL: defaultCalendarBaseURL,
		gmailBaseURL:    defaultGmailBaseURL,
		peopleBaseURL:   defaultPeopleBaseURL,
	}
	if opts.CalendarBaseURL != "" {
		c.calendarBaseURL = opts.CalendarBaseURL
	}
	if opts.GmailBaseURL != "" {
		c.gmailBaseURL = opts.GmailBaseURL
	}
	if opts.PeopleBaseURL != "" {
		c.peopleBaseURL = opts.PeopleBaseURL
	}
	return c
}

// do performs one authenticated request and decodes the response into out
// when out is non-nil.
func (c *Client) do(ctx context.Context, token, method, url string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("googleapi: encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("googleapi: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return toolerr.Wrap(toolerr.CodeUpstream, "the service did not respond", err).WithProvider("google")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Drain a bounded amount so the connection can be reused; the body
		// itself is never surfaced.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return statusError(resp.StatusCode)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return toolerr.Wrap(toolerr.CodeUpstream, "the service returned an unreadable response", err).WithProvider("google")
	}
	return nil
}

func statusError(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return toolerr.Newf(toolerr.CodeTokenRejected,
			"the stored credential was rejected (HTTP %d); reconnecting the integration may help", status).WithProvider("google")
	case http.StatusNotFound:
		return toolerr.New(toolerr.CodeUpstream, "the requested item was not found").WithProvider("google")
	case http.StatusTooManyRequests:
		return toolerr.New(toolerr.CodeUpstream, "the service is rate limiting requests; try again shortly").WithProvider("google")
	default:
		return toolerr.Newf(toolerr.CodeUpstream, "the service returned HTTP %d", status).WithProvider("google")
	}
}
