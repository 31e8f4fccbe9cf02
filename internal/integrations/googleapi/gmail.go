package googleapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Message is a Gmail message as the API returns it.
type Message struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId,omitempty"`
	LabelIDs []string `json:"labelIds,omitempty"`
	Snippet  string   `json:"snippet,omitempty"`
	Payload  *struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload,omitempty"`
}

// Header returns the named message header, case-insensitively.
func (m *Message) Header(name string) string {
	if m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

type messageList struct {
	Messages      []Message `json:"messages"`
	NextPageToken string    `json:"nextPageToken"`
}

// ListMessages returns message IDs matching the Gmail search query, up to
// maxResults.
func (c *Client) ListMessages(ctx context.Context, token, query string, maxResults int) ([]Message, error) {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	if maxResults > 0 {
		q.Set("maxResults", fmt.Sprint(maxResults))
	}
	var page messageList
	u := fmt.Sprintf("%s/users/me/messages?%s", c.gmailBaseURL, q.Encode())
	if err := c.do(ctx, token, http.MethodGet, u, nil, &page); err != nil {
		return nil, err
	}
	return page.Messages, nil
}

// GetMessage fetches one message with metadata headers.
func (c *Client) GetMessage(ctx context.Context, token, messageID string) (*Message, error) {
	var msg Message
	u := fmt.Sprintf("%s/users/me/messages/%s?format=metadata&metadataHeaders=From&metadataHeaders=To&metadataHeaders=Subject&metadataHeaders=Date",
		c.gmailBaseURL, url.PathEscape(messageID))
	if err := c.do(ctx, token, http.MethodGet, u, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendMessage sends an RFC 822 message and returns its ID.
func (c *Client) SendMessage(ctx context.Context, token, to, subject, body string) (*Message, error) {
	raw := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s", to, subject, body)
	payload := map[string]string{
		"raw": base64.URLEncoding.EncodeToString([]byte(raw)),
	}
	var sent Message
	u := c.gmailBaseURL + "/users/me/messages/send"
	if err := c.do(ctx, token, http.MethodPost, u, payload, &sent); err != nil {
		return nil, err
	}
	return &sent, nil
}

// CreateDraft stores an unsent draft and returns its ID.
func (c *Client) CreateDraft(ctx context.Context, token, to, subject, body string) (string, error) {
	raw := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s", to, subject, body)
	payload := map[string]any{
		"message": map[string]string{
			"raw": base64.URLEncoding.EncodeToString([]byte(raw)),
		},
	}
	var draft struct {
		ID string `json:"id"`
	}
	u := c.gmailBaseURL + "/users/me/drafts"
	if err := c.do(ctx, token, http.MethodPost, u, payload, &draft); err != nil {
		return "", err
	}
	return draft.ID, nil
}

// ArchiveMessage removes a message from the inbox without deleting it.
func (c *Client) ArchiveMessage(ctx context.Context, token, messageID string) error {
	payload := map[string][]string{"removeLabelIds": {"INBOX"}}
	u := fmt.Sprintf("%s/users/me/messages/%s/modify", c.gmailBaseURL, url.PathEscape(messageID))
	return c.do(ctx, token, http.MethodPost, u, payload, nil)
}

// DeleteMessage permanently deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, token, messageID string) error {
	u := fmt.Sprintf("%s/users/me/messages/%s", c.gmailBaseURL, url.PathEscape(messageID))
	return c.do(ctx, token, http.MethodDelete, u, nil, nil)
}
