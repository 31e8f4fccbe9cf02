// Package calendar implements the calendar actions over the Google
// Calendar API.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/concierge/internal/catalog"
	"github.com/haasonsaas/concierge/internal/integrations/googleapi"
	"github.com/haasonsaas/concierge/internal/tools/toolerr"
	"github.com/haasonsaas/concierge/internal/vault"
	"github.com/haasonsaas/concierge/pkg/models"
)

const provider = "google"

// Tools bundles the calendar action handlers.
type Tools struct {
	vault  *vault.Vault
	client *googleapi.Client
	logger *slog.Logger
}

// New creates the calendar tool set.
func New(v *vault.Vault, client *googleapi.Client, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{vault: v, client: client, logger: logger}
}

// Register adds the calendar actions to the catalog.
func (t *Tools) Register(reg *catalog.Registry) error {
	entries := []struct {
		desc    catalog.Descriptor
		handler catalog.HandlerFunc
	}{
		{
			desc: catalog.Descriptor{
				Name:        "calendar.list_events",
				Description: "List calendar events in a time range.",
				Tier:        models.TierReadOnly,
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"time_min": {"type": "string", "description": "RFC 3339 range start"},
						"time_max": {"type": "string", "description": "RFC 3339 range end"}
					},
					"additionalProperties": false
				}`),
			},
			handler: t.listEvents,
		},
		{
			desc: catalog.Descriptor{
				Name:        "calendar.get_event",
				Description: "Fetch a single calendar event by id.",
				Tier:        models.TierReadOnly,
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"event_id": {"type": "string", "minLength": 1}
					},
					"required": ["event_id"],
					"additionalProperties": false
				}`),
			},
			handler: t.getEvent,
		},
		{
			desc: catalog.Descriptor{
				Name:        "calendar.create_event",
				Description: "Create a calendar event.",
				Tier:        models.TierModerate,
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"summary": {"type": "string", "minLength": 1},
						"start_time": {"type": "string"},
						"end_time": {"type": "string"},
						"description": {"type": "string"},
						"location": {"type": "string"},
						"attendees": {"type": "array", "items": {"type": "string"}}
					},
					"required": ["summary", "start_time", "end_time"],
					"additionalProperties": false
				}`),
			},
			handler: t.createEvent,
		},
		{
			desc: catalog.Descriptor{
				Name:        "calendar.update_event",
				Description: "Update fields on an existing calendar event.",
				Tier:        models.TierModerate,
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"event_id": {"type": "string", "minLength": 1},
						"summary": {"type": "string"},
						"start_time": {"type": "string"},
						"end_time": {"type": "string"},
						"description": {"type": "string"},
						"location": {"type": "string"}
					},
					"required": ["event_id"],
					"additionalProperties": false
				}`),
			},
			handler: t.updateEvent,
		},
		{
			desc: catalog.Descriptor{
				Name:        "calendar.delete_event",
				Description: "Delete a calendar event. Requires the user to confirm with the keyword.",
				Tier:        models.TierDestructive,
				Keyword:     "delete",
				Emoji:       "🗑️",
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"event_id": {"type": "string", "minLength": 1}
					},
					"required": ["event_id"],
					"additionalProperties": false
				}`),
			},
			handler: t.deleteEvent,
		},
		{
			desc: catalog.Descriptor{
				Name:        "calendar.clear_day",
				Description: "Delete every event on a given day. Requires the security phrase.",
				Tier:        models.TierHighImpact,
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"date": {"type": "string", "description": "Day to clear, YYYY-MM-DD"}
					},
					"required": ["date"],
					"additionalProperties": false
				}`),
			},
			handler: t.clearDay,
		},
	}
	for _, e := range entries {
		if err := reg.Add(e.desc, e.handler); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tools) token(ctx context.Context, userID string) (string, error) {
	token, err := t.vault.GetValidAccessToken(ctx, userID, provider)
	if errors.Is(err, vault.ErrNotConnected) {
		return "", toolerr.New(toolerr.CodeNotConnected,
			"the calendar is not connected; link the Google account first").WithProvider(provider)
	}
	if err != nil {
		return "", toolerr.Wrap(toolerr.CodeUpstream, "the calendar credential could not be loaded", err).WithProvider(provider)
	}
	return token, nil
}

// eventView is the normalized event shape returned to the model.
type eventView struct {
	ID        string   `json:"id"`
	Summary   string   `json:"summary"`
	Start     string   `json:"start,omitempty"`
	End       string   `json:"end,omitempty"`
	Location  string   `json:"location,omitempty"`
	Attendees []string `json:"attendees,omitempty"`
}

func toView(e googleapi.Event) eventView {
	view := eventView{ID: e.ID, Summary: e.Summary, Location: e.Location}
	if e.Start != nil {
		view.Start = firstNonEmpty(e.Start.DateTime, e.Start.Date)
	}
	if e.End != nil {
		view.End = firstNonEmpty(e.End.DateTime, e.End.Date)
	}
	for _, a := range e.Attendees {
		view.Attendees = append(view.Attendees, a.Email)
	}
	return view
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseRFC3339(field, value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, toolerr.Newf(toolerr.CodeValidation,
			"%s %q is not an RFC 3339 timestamp", field, value)
	}
	return ts, nil
}

func (t *Tools) listEvents(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		TimeMin string `json:"time_min"`
		TimeMax string `json:"time_max"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}
	if in.TimeMin != "" {
		if _, err := parseRFC3339("time_min", in.TimeMin); err != nil {
			return "", err
		}
	}
	if in.TimeMax != "" {
		if _, err := parseRFC3339("time_max", in.TimeMax); err != nil {
			return "", err
		}
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	events, err := t.client.ListEvents(ctx, token, "primary", in.TimeMin, in.TimeMax)
	if err != nil {
		return "", err
	}

	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, toView(e))
	}
	return toolerr.ResultJSON(map[string]any{"events": views, "count": len(views)})
}

func (t *Tools) getEvent(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	event, err := t.client.GetEvent(ctx, token, "primary", in.EventID)
	if err != nil {
		return "", err
	}
	return toolerr.ResultJSON(map[string]any{"event": toView(*event)})
}

func (t *Tools) createEvent(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		Summary     string   `json:"summary"`
		StartTime   string   `json:"start_time"`
		EndTime     string   `json:"end_time"`
		Description string   `json:"description"`
		Location    string   `json:"location"`
		Attendees   []string `json:"attendees"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}
	start, err := parseRFC3339("start_time", in.StartTime)
	if err != nil {
		return "", err
	}
	end, err := parseRFC3339("end_time", in.EndTime)
	if err != nil {
		return "", err
	}
	if !end.After(start) {
		return "", toolerr.Newf(toolerr.CodeValidation,
			"end_time %q is not after start_time %q", in.EndTime, in.StartTime)
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	event := &googleapi.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Location:    in.Location,
		Start:       &googleapi.EventTime{DateTime: in.StartTime},
		End:         &googleapi.EventTime{DateTime: in.EndTime},
	}
	for _, email := range in.Attendees {
		event.Attendees = append(event.Attendees, googleapi.Attendee{Email: email})
	}
	created, err := t.client.CreateEvent(ctx, token, "primary", event)
	if err != nil {
		return "", err
	}
	return toolerr.ResultJSON(map[string]any{"event": toView(*created)})
}

func (t *Tools) updateEvent(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		EventID     string `json:"event_id"`
		Summary     string `json:"summary"`
		StartTime   string `json:"start_time"`
		EndTime     string `json:"end_time"`
		Description string `json:"description"`
		Location    string `json:"location"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}

	patch := &googleapi.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Location:    in.Location,
	}
	if in.StartTime != "" {
		if _, err := parseRFC3339("start_time", in.StartTime); err != nil {
			return "", err
		}
		patch.Start = &googleapi.EventTime{DateTime: in.StartTime}
	}
	if in.EndTime != "" {
		if _, err := parseRFC3339("end_time", in.EndTime); err != nil {
			return "", err
		}
		patch.End = &googleapi.EventTime{DateTime: in.EndTime}
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	updated, err := t.client.UpdateEvent(ctx, token, "primary", in.EventID, patch)
	if err != nil {
		return "", err
	}
	return toolerr.ResultJSON(map[string]any{"event": toView(*updated)})
}

func (t *Tools) deleteEvent(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := t.client.DeleteEvent(ctx, token, "primary", in.EventID); err != nil {
		return "", err
	}
	t.logger.Info("calendar event deleted", "user_id", userID, "event_id", in.EventID)
	return toolerr.ResultJSON(map[string]any{"deleted": in.EventID})
}

func (t *Tools) clearDay(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		Date string `json:"date"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}
	day, err := time.Parse("2006-01-02", in.Date)
	if err != nil {
		return "", toolerr.Newf(toolerr.CodeValidation, "date %q is not a YYYY-MM-DD day", in.Date)
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	timeMin := day.Format(time.RFC3339)
	timeMax := day.AddDate(0, 0, 1).Format(time.RFC3339)
	events, err := t.client.ListEvents(ctx, token, "primary", timeMin, timeMax)
	if err != nil {
		return "", err
	}

	deleted := 0
	for _, e := range events {
		if err := t.client.DeleteEvent(ctx, token, "primary", e.ID); err != nil {
			return "", fmt.Errorf("clear day after %d deletions: %w", deleted, err)
		}
		deleted++
	}
	t.logger.Info("calendar day cleared", "user_id", userID, "date", in.Date, "deleted", deleted)
	return toolerr.ResultJSON(map[string]any{"date": in.Date, "deleted": deleted})
}
