package googleapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// EventTime is a Calendar event boundary: either a timed instant or an
// all-day date.
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// Attendee is one event participant.
type Attendee struct {
	Email          string `json:"email"`
	ResponseStatus string `json:"responseStatus,omitempty"`
}

// Event is a Calendar event.
type Event struct {
	ID          string     `json:"id,omitempty"`
	Status      string     `json:"status,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       *EventTime `json:"start,omitempty"`
	End         *EventTime `json:"end,omitempty"`
	Attendees   []Attendee `json:"attendees,omitempty"`
	HTMLLink    string     `json:"htmlLink,omitempty"`
}

type eventList struct {
	Items         []Event `json:"items"`
	NextPageToken string  `json:"nextPageToken"`
}

// ListEvents returns the events on calendarID between timeMin and timeMax
// (RFC 3339), expanded and ordered by start time.
func (c *Client) ListEvents(ctx context.Context, token, calendarID, timeMin, timeMax string) ([]Event, error) {
	var all []Event
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("singleEvents", "true")
		q.Set("orderBy", "startTime")
		if timeMin != "" {
			q.Set("timeMin", timeMin)
		}
		if timeMax != "" {
			q.Set("timeMax", timeMax)
		}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page eventList
		u := fmt.Sprintf("%s/calendars/%s/events?%s", c.calendarBaseURL, url.PathEscape(calendarID), q.Encode())
		if err := c.do(ctx, token, http.MethodGet, u, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.NextPageToken == "" {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

// GetEvent fetches one event.
func (c *Client) GetEvent(ctx context.Context, token, calendarID, eventID string) (*Event, error) {
	var event Event
	u := fmt.Sprintf("%s/calendars/%s/events/%s", c.calendarBaseURL, url.PathEscape(calendarID), url.PathEscape(eventID))
	if err := c.do(ctx, token, http.MethodGet, u, nil, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// CreateEvent inserts a new event and returns it with its assigned ID.
func (c *Client) CreateEvent(ctx context.Context, token, calendarID string, event *Event) (*Event, error) {
	var created Event
	u := fmt.Sprintf("%s/calendars/%s/events", c.calendarBaseURL, url.PathEscape(calendarID))
	if err := c.do(ctx, token, http.MethodPost, u, event, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateEvent patches an existing event.
func (c *Client) UpdateEvent(ctx context.Context, token, calendarID, eventID string, event *Event) (*Event, error) {
	var updated Event
	u := fmt.Sprintf("%s/calendars/%s/events/%s", c.calendarBaseURL, url.PathEscape(calendarID), url.PathEscape(eventID))
	if err := c.do(ctx, token, http.MethodPatch, u, event, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteEvent removes an event.
func (c *Client) DeleteEvent(ctx context.Context, token, calendarID, eventID string) error {
	u := fmt.Sprintf("%s/calendars/%s/events/%s", c.calendarBaseURL, url.PathEscape(calendarID), url.PathEscape(eventID))
	return c.do(ctx, token, http.MethodDelete, u, nil, nil)
}
