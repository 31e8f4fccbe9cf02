package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/concierge/internal/catalog"
	"github.com/haasonsaas/concierge/internal/integrations/googleapi"
	"github.com/haasonsaas/concierge/internal/vault"
	"github.com/haasonsaas/concierge/pkg/models"
)

func newTestVault(t *testing.T, connected bool) *vault.Vault {
	t.Helper()
	cipher, err := vault.NewCipher(bytes.Repeat([]byte{0x42}, vault.KeySize))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	v := vault.New(vault.NewMemoryStore(), cipher, vault.Options{})
	if connected {
		err := v.StoreCredential(context.Background(), &models.Credential{
			UserID:      "u1",
			Provider:    "google",
			AccessToken: "tok",
			ExpiresAt:   time.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("StoreCredential: %v", err)
		}
	}
	return v
}

func newRegistry(t *testing.T, v *vault.Vault, baseURL string) *catalog.Registry {
	t.Helper()
	client := googleapi.NewClient(googleapi.Options{CalendarBaseURL: baseURL})
	reg := catalog.NewRegistry()
	if err := New(v, client, nil).Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func TestListEventsNotConnected(t *testing.T) {
	reg := newRegistry(t, newTestVault(t, false), "http://unused.invalid")

	out, isErr := reg.Execute(context.Background(), "u1", "calendar.list_events", json.RawMessage(`{}`))
	if !isErr {
		t.Fatal("expected an error envelope")
	}
	if !strings.Contains(out, "not_connected") {
		t.Errorf("out = %s", out)
	}
}

func TestCreateEventValidation(t *testing.T) {
	reg := newRegistry(t, newTestVault(t, true), "http://unused.invalid")

	tests := []struct {
		name string
		args string
		want string
	}{
		{"bad start", `{"summary":"x","start_time":"tomorrow","end_time":"2026-09-01T11:00:00Z"}`, "tomorrow"},
		{"end before start", `{"summary":"x","start_time":"2026-09-01T11:00:00Z","end_time":"2026-09-01T10:00:00Z"}`, "not after"},
		{"missing summary", `{"start_time":"2026-09-01T10:00:00Z","end_time":"2026-09-01T11:00:00Z"}`, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, isErr := reg.Execute(context.Background(), "u1", "calendar.create_event", json.RawMessage(tt.args))
			if !isErr {
				t.Fatalf("out = %s, expected error", out)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("out = %s, want substring %q", out, tt.want)
			}
		})
	}
}

func TestCreateEventSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event googleapi.Event
		_ = json.NewDecoder(r.Body).Decode(&event)
		event.ID = "evt_new"
		_ = json.NewEncoder(w).Encode(event)
	}))
	defer srv.Close()

	reg := newRegistry(t, newTestVault(t, true), srv.URL)
	args := `{"summary":"Standup","start_time":"2026-09-01T10:00:00Z","end_time":"2026-09-01T10:15:00Z","attendees":["a@example.com"]}`
	out, isErr := reg.Execute(context.Background(), "u1", "calendar.create_event", json.RawMessage(args))
	if isErr {
		t.Fatalf("error envelope: %s", out)
	}
	if !strings.Contains(out, "evt_new") || !strings.Contains(out, "Standup") {
		t.Errorf("out = %s", out)
	}
}

func TestClearDayDeletesEverything(t *testing.T) {
	var deleted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			parts := strings.Split(r.URL.Path, "/")
			deleted = append(deleted, parts[len(parts)-1])
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]string{{"id": "e1"}, {"id": "e2"}},
		})
	}))
	defer srv.Close()

	reg := newRegistry(t, newTestVault(t, true), srv.URL)
	out, isErr := reg.Execute(context.Background(), "u1", "calendar.clear_day", json.RawMessage(`{"date":"2026-09-01"}`))
	if isErr {
		t.Fatalf("error envelope: %s", out)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted = %v, want 2 events", deleted)
	}
	if !strings.Contains(out, `"deleted":2`) {
		t.Errorf("out = %s", out)
	}
}

func TestTokenRejectedSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "{}", http.StatusUnauthorized)
	}))
	defer srv.Close()

	reg := newRegistry(t, newTestVault(t, true), srv.URL)
	out, isErr := reg.Execute(context.Background(), "u1", "calendar.list_events", json.RawMessage(`{}`))
	if !isErr {
		t.Fatal("expected an error envelope")
	}
	if !strings.Contains(out, "token_rejected") {
		t.Errorf("out = %s", out)
	}
}
