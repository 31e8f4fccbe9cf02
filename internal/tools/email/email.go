// Package email implements the email actions over the Gmail API.
package email

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/mail"

	"github.com/haasonsaas/concierge/internal/catalog"
	"github.com/haasonsaas/concierge/internal/integrations/googleapi"
	"github.com/haasonsaas/concierge/internal/tools/toolerr"
	"github.com/haasonsaas/concierge/internal/vault"
	"github.com/haasonsaas/concierge/pkg/models"
)

const provider = "google"

// Tools bundles the email action handlers.
type Tools struct {
	vault  *vault.Vault
	client *googleapi.Client
	logger *slog.Logger
}

// New creates the email tool set.
func New(v *vault.Vault, client *googleapi.Client, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{vault: v, client: client, logger: logger}
}

// Register adds the email actions to the catalog.
func (t *Tools) Register(reg *catalog.Registry) error {
	entries := []struct {
		desc    catalog.Descriptor
		handler catalog.HandlerFunc
	}{
		{
			desc: catalog.Descriptor{
				Name:        "email.list_emails",
				Description: "List recent emails, optionally filtered by a search query.",
				Tier:        models.TierReadOnly,
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"query": {"type": "string"},
						"max_results": {"type": "integer", "minimum": 1, "maximum": 100}
					},
					"additionalProperties": false
				}`),
			},
			handler: t.listEmails,
		},
		{
			desc: catalog.Descriptor{
				Name:        "email.get_email",
				Description: "Fetch one email's headers and snippet by id.",
				Tier:        models.TierReadOnly,
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"message_id": {"type": "string", "minLength": 1}
					},
					"required": ["message_id"],
					"additionalProperties": false
				}`),
			},
			handler: t.getEmail,
		},
		{
			desc: catalog.Descriptor{
				Name:        "email.draft_email",
				Description: "Save a draft without sending it.",
				Tier:        models.TierModerate,
				Provider:    provider,
				Schema:      composeSchema(),
			},
			handler: t.draftEmail,
		},
		{
			desc: catalog.Descriptor{
				Name:        "email.send_email",
				Description: "Send an email. Requires the user to confirm with the keyword.",
				Tier:        models.TierDestructive,
				Keyword:     "send",
				Provider:    provider,
				Schema:      composeSchema(),
			},
			handler: t.sendEmail,
		},
		{
			desc: catalog.Descriptor{
				Name:        "email.archive_email",
				Description: "Archive an email out of the inbox. Requires the user to confirm with the keyword.",
				Tier:        models.TierDestructive,
				Keyword:     "archive",
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"message_id": {"type": "string", "minLength": 1}
					},
					"required": ["message_id"],
					"additionalProperties": false
				}`),
			},
			handler: t.archiveEmail,
		},
		{
			desc: catalog.Descriptor{
				Name:        "email.empty_trash",
				Description: "Permanently delete everything in the trash. Requires the security phrase.",
				Tier:        models.TierHighImpact,
				Provider:    provider,
				Schema:      json.RawMessage(`{"type": "object", "additionalProperties": false}`),
			},
			handler: t.emptyTrash,
		},
	}
	for _, e := range entries {
		if err := reg.Add(e.desc, e.handler); err != nil {
			return err
		}
	}
	return nil
}

func composeSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"to": {"type": "string", "minLength": 3},
			"subject": {"type": "string"},
			"body": {"type": "string", "minLength": 1}
		},
		"required": ["to", "body"],
		"additionalProperties": false
	}`)
}

func (t *Tools) token(ctx context.Context, userID string) (string, error) {
	token, err := t.vault.GetValidAccessToken(ctx, userID, provider)
	if errors.Is(err, vault.ErrNotConnected) {
		return "", toolerr.New(toolerr.CodeNotConnected,
			"email is not connected; link the Google account first").WithProvider(provider)
	}
	if err != nil {
		return "", toolerr.Wrap(toolerr.CodeUpstream, "the email credential could not be loaded", err).WithProvider(provider)
	}
	return token, nil
}

type composeArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func decodeCompose(args json.RawMessage) (*composeArgs, error) {
	var in composeArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}
	if _, err := mail.ParseAddress(in.To); err != nil {
		return nil, toolerr.Newf(toolerr.CodeValidation, "to %q is not a valid email address", in.To)
	}
	return &in, nil
}

type emailView struct {
	ID      string `json:"id"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Date    string `json:"date,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

func (t *Tools) listEmails(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}
	if in.MaxResults <= 0 {
		in.MaxResults = 20
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	messages, err := t.client.ListMessages(ctx, token, in.Query, in.MaxResults)
	if err != nil {
		return "", err
	}

	views := make([]emailView, 0, len(messages))
	for _, m := range messages {
		views = append(views, emailView{ID: m.ID, Snippet: m.Snippet})
	}
	return toolerr.ResultJSON(map[string]any{"emails": views, "count": len(views)})
}

func (t *Tools) getEmail(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	msg, err := t.client.GetMessage(ctx, token, in.MessageID)
	if err != nil {
		return "", err
	}
	return toolerr.ResultJSON(map[string]any{"email": emailView{
		ID:      msg.ID,
		From:    msg.Header("From"),
		To:      msg.Header("To"),
		Subject: msg.Header("Subject"),
		Date:    msg.Header("Date"),
		Snippet: msg.Snippet,
	}})
}

func (t *Tools) draftEmail(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	in, err := decodeCompose(args)
	if err != nil {
		return "", err
	}
	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	draftID, err := t.client.CreateDraft(ctx, token, in.To, in.Subject, in.Body)
	if err != nil {
		return "", err
	}
	return toolerr.ResultJSON(map[string]any{"draft_id": draftID, "to": in.To, "subject": in.Subject})
}

func (t *Tools) sendEmail(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	in, err := decodeCompose(args)
	if err != nil {
		return "", err
	}
	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	sent, err := t.client.SendMessage(ctx, token, in.To, in.Subject, in.Body)
	if err != nil {
		return "", err
	}
	t.logger.Info("email sent", "user_id", userID, "message_id", sent.ID)
	return toolerr.ResultJSON(map[string]any{"message_id": sent.ID, "to": in.To, "subject": in.Subject})
}

func (t *Tools) archiveEmail(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := t.client.ArchiveMessage(ctx, token, in.MessageID); err != nil {
		return "", err
	}
	return toolerr.ResultJSON(map[string]any{"archived": in.MessageID})
}

func (t *Tools) emptyTrash(ctx context.Context, userID string, _ json.RawMessage) (string, error) {
	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	messages, err := t.client.ListMessages(ctx, token, "in:trash", 100)
	if err != nil {
		return "", err
	}

	deleted := 0
	for _, m := range messages {
		if err := t.client.DeleteMessage(ctx, token, m.ID); err != nil {
			return "", err
		}
		deleted++
	}
	t.logger.Info("email trash emptied", "user_id", userID, "deleted", deleted)
	return toolerr.ResultJSON(map[string]any{"deleted": deleted})
}
