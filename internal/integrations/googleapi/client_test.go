package googleapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/concierge/internal/tools/toolerr"
)

func TestDoSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
	}))
	defer srv.Close()

	c := NewClient(Options{CalendarBaseURL: srv.URL})
	if _, err := c.ListEvents(context.Background(), "tok-123", "primary", "", ""); err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		wantCode toolerr.Code
	}{
		{http.StatusUnauthorized, toolerr.CodeTokenRejected},
		{http.StatusForbidden, toolerr.CodeTokenRejected},
		{http.StatusNotFound, toolerr.CodeUpstream},
		{http.StatusTooManyRequests, toolerr.CodeUpstream},
		{http.StatusInternalServerError, toolerr.CodeUpstream},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"message":"secret upstream detail"}}`, tt.status)
		}))
		c := NewClient(Options{GmailBaseURL: srv.URL})

		_, err := c.GetMessage(context.Background(), "tok", "m1")
		srv.Close()

		te, ok := toolerr.As(err)
		if !ok {
			t.Fatalf("status %d: error %v is not a toolerr", tt.status, err)
		}
		if te.Code != tt.wantCode {
			t.Errorf("status %d: code = %q, want %q", tt.status, te.Code, tt.wantCode)
		}
		if te.Provider != "google" {
			t.Errorf("status %d: provider = %q", tt.status, te.Provider)
		}
	}
}

func TestListEventsPaginates(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items":         []map[string]string{{"id": "e1"}},
				"nextPageToken": "p2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]string{{"id": "e2"}},
		})
	}))
	defer srv.Close()

	c := NewClient(Options{CalendarBaseURL: srv.URL})
	events, err := c.ListEvents(context.Background(), "tok", "primary", "", "")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 || events[0].ID != "e1" || events[1].ID != "e2" {
		t.Errorf("events = %+v", events)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestSendMessageEncodesRFC822(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "m-sent"})
	}))
	defer srv.Close()

	c := NewClient(Options{GmailBaseURL: srv.URL})
	msg, err := c.SendMessage(context.Background(), "tok", "a@example.com", "Hi", "body text")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ID != "m-sent" {
		t.Errorf("ID = %q", msg.ID)
	}
	if payload["raw"] == "" {
		t.Error("raw payload missing")
	}
}

func TestMessageHeader(t *testing.T) {
	raw := `{"id":"m1","payload":{"headers":[{"name":"Subject","value":"Lunch"},{"name":"From","value":"b@example.com"}]}}`
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := msg.Header("subject"); got != "Lunch" {
		t.Errorf("Header(subject) = %q", got)
	}
	if got := msg.Header("Reply-To"); got != "" {
		t.Errorf("Header(missing) = %q", got)
	}
}
