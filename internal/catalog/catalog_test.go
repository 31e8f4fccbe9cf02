package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/concierge/pkg/models"
)

func okHandler(_ context.Context, _ string, _ json.RawMessage) (string, error) {
	return `{"success":true}`, nil
}

func eventSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"event_id": {"type": "string", "minLength": 1}
		},
		"required": ["event_id"],
		"additionalProperties": false
	}`)
}

func TestAddRejectsBadEntries(t *testing.T) {
	r := NewRegistry()

	if err := r.Add(Descriptor{Tier: models.TierReadOnly}, okHandler); err == nil {
		t.Error("empty name accepted")
	}
	if err := r.Add(Descriptor{Name: "x", Tier: models.Tier(0)}, okHandler); err == nil {
		t.Error("invalid tier accepted")
	}
	if err := r.Add(Descriptor{Name: "x", Tier: models.TierReadOnly, Schema: json.RawMessage(`{"type":`)}, okHandler); err == nil {
		t.Error("broken schema accepted")
	}
	if err := r.Add(Descriptor{Name: "dup", Tier: models.TierReadOnly}, okHandler); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(Descriptor{Name: "dup", Tier: models.TierReadOnly}, okHandler); err == nil {
		t.Error("duplicate name accepted")
	}
}

func TestValidateCatchesDrift(t *testing.T) {
	tests := []struct {
		name    string
		desc    Descriptor
		handler HandlerFunc
		wantErr bool
	}{
		{"executable with handler", Descriptor{Name: "a.get", Tier: models.TierReadOnly}, okHandler, false},
		{"executable without handler", Descriptor{Name: "a.get", Tier: models.TierReadOnly}, nil, true},
		{"blocked without handler", Descriptor{Name: "a.nuke", Tier: models.TierBlocked}, nil, false},
		{"blocked with handler", Descriptor{Name: "a.nuke", Tier: models.TierBlocked}, okHandler, true},
		{"destructive without keyword", Descriptor{Name: "a.del", Tier: models.TierDestructive}, okHandler, true},
		{"destructive with keyword", Descriptor{Name: "a.del", Tier: models.TierDestructive, Keyword: "delete"}, okHandler, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			if err := r.Add(tt.desc, tt.handler); err != nil {
				t.Fatalf("Add: %v", err)
			}
			err := r.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAsToolsExcludesBlocked(t *testing.T) {
	r := NewRegistry()
	mustAdd(t, r, Descriptor{Name: "calendar.list_events", Tier: models.TierReadOnly}, okHandler)
	mustAdd(t, r, Descriptor{Name: "account.delete_account", Tier: models.TierBlocked}, nil)

	tools := r.AsTools()
	if len(tools) != 1 {
		t.Fatalf("len(tools) = %d, want 1", len(tools))
	}
	if tools[0].Name != "calendar.list_events" {
		t.Errorf("tool = %q", tools[0].Name)
	}
}

func TestExecuteValidatesArguments(t *testing.T) {
	r := NewRegistry()
	mustAdd(t, r, Descriptor{
		Name:    "calendar.delete_event",
		Tier:    models.TierDestructive,
		Keyword: "delete",
		Schema:  eventSchema(),
	}, okHandler)

	tests := []struct {
		name     string
		args     string
		wantErr  bool
		wantCode string
	}{
		{"valid", `{"event_id":"evt_1"}`, false, ""},
		{"missing required", `{}`, true, "validation_error"},
		{"wrong type", `{"event_id":42}`, true, "validation_error"},
		{"extra field", `{"event_id":"evt_1","force":true}`, true, "validation_error"},
		{"broken json", `{`, true, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, isErr := r.Execute(context.Background(), "u1", "calendar.delete_event", json.RawMessage(tt.args))
			if isErr != tt.wantErr {
				t.Fatalf("isErr = %v, want %v (out: %s)", isErr, tt.wantErr, out)
			}
			if tt.wantCode != "" && !strings.Contains(out, tt.wantCode) {
				t.Errorf("out = %s, want code %s", out, tt.wantCode)
			}
		})
	}
}

func TestExecuteUnknownAction(t *testing.T) {
	r := NewRegistry()
	out, isErr := r.Execute(context.Background(), "u1", "weather.control", nil)
	if !isErr {
		t.Fatal("unknown action did not error")
	}
	if !strings.Contains(out, "unknown_action") {
		t.Errorf("out = %s", out)
	}
}

func TestExecuteBlockedActionAlwaysDenied(t *testing.T) {
	r := NewRegistry()
	mustAdd(t, r, Descriptor{Name: "account.delete_account", Tier: models.TierBlocked}, nil)

	out, isErr := r.Execute(context.Background(), "u1", "account.delete_account", json.RawMessage(`{}`))
	if !isErr {
		t.Fatal("blocked action executed")
	}
	if !strings.Contains(out, "security_denied") {
		t.Errorf("out = %s", out)
	}
}

func TestPolicies(t *testing.T) {
	r := NewRegistry()
	mustAdd(t, r, Descriptor{
		Name:    "calendar.delete_event",
		Tier:    models.TierDestructive,
		Keyword: "delete",
		Emoji:   "🗑️",
	}, okHandler)

	p, ok := r.Policies()["calendar.delete_event"]
	if !ok {
		t.Fatal("policy missing")
	}
	if p.Tier != models.TierDestructive || p.Keyword != "delete" || p.Emoji != "🗑️" {
		t.Errorf("policy = %+v", p)
	}
}

func mustAdd(t *testing.T, r *Registry, desc Descriptor, handler HandlerFunc) {
	t.Helper()
	if err := r.Add(desc, handler); err != nil {
		t.Fatalf("Add(%s): %v", desc.Name, err)
	}
}
