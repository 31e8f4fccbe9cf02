// Package contacts implements the contact actions over the Google People
// API.
package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/haasonsaas/concierge/internal/catalog"
	"github.com/haasonsaas/concierge/internal/integrations/googleapi"
	"github.com/haasonsaas/concierge/internal/tools/toolerr"
	"github.com/haasonsaas/concierge/internal/vault"
	"github.com/haasonsaas/concierge/pkg/models"
)

const provider = "google"

// Tools bundles the contact action handlers.
type Tools struct {
	vault  *vault.Vault
	client *googleapi.Client
	logger *slog.Logger
}

// New creates the contact tool set.
func New(v *vault.Vault, client *googleapi.Client, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{vault: v, client: client, logger: logger}
}

// Register adds the contact actions to the catalog.
func (t *Tools) Register(reg *catalog.Registry) error {
	entries := []struct {
		desc    catalog.Descriptor
		handler catalog.HandlerFunc
	}{
		{
			desc: catalog.Descriptor{
				Name:        "contacts.list_contacts",
				Description: "List the user's contacts.",
				Tier:        models.TierReadOnly,
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"page_size": {"type": "integer", "minimum": 1, "maximum": 200}
					},
					"additionalProperties": false
				}`),
			},
			handler: t.listContacts,
		},
		{
			desc: catalog.Descriptor{
				Name:        "contacts.get_contact",
				Description: "Fetch one contact by resource name.",
				Tier:        models.TierReadOnly,
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"contact_id": {"type": "string", "minLength": 1}
					},
					"required": ["contact_id"],
					"additionalProperties": false
				}`),
			},
			handler: t.getContact,
		},
		{
			desc: catalog.Descriptor{
				Name:        "contacts.create_contact",
				Description: "Create a contact.",
				Tier:        models.TierModerate,
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"given_name": {"type": "string", "minLength": 1},
						"family_name": {"type": "string"},
						"email": {"type": "string"},
						"phone": {"type": "string"}
					},
					"required": ["given_name"],
					"additionalProperties": false
				}`),
			},
			handler: t.createContact,
		},
		{
			desc: catalog.Descriptor{
				Name:        "contacts.merge_contacts",
				Description: "Merge a duplicate contact into a primary one and delete the duplicate. Requires the user to confirm with the keyword.",
				Tier:        models.TierDestructive,
				Keyword:     "merge",
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"primary_id": {"type": "string", "minLength": 1},
						"duplicate_id": {"type": "string", "minLength": 1}
					},
					"required": ["primary_id", "duplicate_id"],
					"additionalProperties": false
				}`),
			},
			handler: t.mergeContacts,
		},
		{
			desc: catalog.Descriptor{
				Name:        "contacts.export_contacts",
				Description: "Export the full contact list. Requires the security phrase.",
				Tier:        models.TierHighImpact,
				Provider:    provider,
				Schema:      json.RawMessage(`{"type": "object", "additionalProperties": false}`),
			},
			handler: t.exportContacts,
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
			"contacts are not connected; link the Google account first").WithProvider(provider)
	}
	if err != nil {
		return "", toolerr.Wrap(toolerr.CodeUpstream, "the contacts credential could not be loaded", err).WithProvider(provider)
	}
	return token, nil
}

type contactView struct {
	ID     string   `json:"id"`
	Name   string   `json:"name,omitempty"`
	Emails []string `json:"emails,omitempty"`
	Phones []string `json:"phones,omitempty"`
}

func toView(p googleapi.Person) contactView {
	view := contactView{ID: p.ResourceName, Name: p.DisplayName()}
	for _, e := range p.EmailAddresses {
		view.Emails = append(view.Emails, e.Value)
	}
	for _, ph := range p.PhoneNumbers {
		view.Phones = append(view.Phones, ph.Value)
	}
	return view
}

func (t *Tools) listContacts(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		PageSize int `json:"page_size"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	people, err := t.client.ListContacts(ctx, token, in.PageSize)
	if err != nil {
		return "", err
	}
	views := make([]contactView, 0, len(people))
	for _, p := range people {
		views = append(views, toView(p))
	}
	return toolerr.ResultJSON(map[string]any{"contacts": views, "count": len(views)})
}

func (t *Tools) getContact(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		ContactID string `json:"contact_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	person, err := t.client.GetContact(ctx, token, in.ContactID)
	if err != nil {
		return "", err
	}
	return toolerr.ResultJSON(map[string]any{"contact": toView(*person)})
}

func (t *Tools) createContact(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
		Email      string `json:"email"`
		Phone      string `json:"phone"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	person := &googleapi.Person{
		Names: []googleapi.Name{{GivenName: in.GivenName, FamilyName: in.FamilyName}},
	}
	if in.Email != "" {
		person.EmailAddresses = append(person.EmailAddresses, googleapi.TypedValue{Value: in.Email})
	}
	if in.Phone != "" {
		person.PhoneNumbers = append(person.PhoneNumbers, googleapi.TypedValue{Value: in.Phone})
	}

	created, err := t.client.CreateContact(ctx, token, person)
	if err != nil {
		return "", err
	}
	return toolerr.ResultJSON(map[string]any{"contact": toView(*created)})
}

// mergeContacts folds the duplicate's emails and phones into the primary
// contact, then deletes the duplicate.
func (t *Tools) mergeContacts(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		PrimaryID   string `json:"primary_id"`
		DuplicateID string `json:"duplicate_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}
	if in.PrimaryID == in.DuplicateID {
		return "", toolerr.New(toolerr.CodeValidation, "primary_id and duplicate_id must differ")
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	primary, err := t.client.GetContact(ctx, token, in.PrimaryID)
	if err != nil {
		return "", err
	}
	duplicate, err := t.client.GetContact(ctx, token, in.DuplicateID)
	if err != nil {
		return "", err
	}

	merged := *primary
	seenEmails := map[string]bool{}
	for _, e := range merged.EmailAddresses {
		seenEmails[e.Value] = true
	}
	for _, e := range duplicate.EmailAddresses {
		if !seenEmails[e.Value] {
			merged.EmailAddresses = append(merged.EmailAddresses, e)
		}
	}
	seenPhones := map[string]bool{}
	for _, p := range merged.PhoneNumbers {
		seenPhones[p.Value] = true
	}
	for _, p := range duplicate.PhoneNumbers {
		if !seenPhones[p.Value] {
			merged.PhoneNumbers = append(merged.PhoneNumbers, p)
		}
	}

	updated, err := t.client.UpdateContact(ctx, token, in.PrimaryID, &merged)
	if err != nil {
		return "", err
	}
	if err := t.client.DeleteContact(ctx, token, in.DuplicateID); err != nil {
		return "", err
	}
	t.logger.Info("contacts merged", "user_id", userID, "primary", in.PrimaryID, "duplicate", in.DuplicateID)
	return toolerr.ResultJSON(map[string]any{"contact": toView(*updated), "deleted": in.DuplicateID})
}

func (t *Tools) exportContacts(ctx context.Context, userID string, _ json.RawMessage) (string, error) {
	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	people, err := t.client.ListContacts(ctx, token, 200)
	if err != nil {
		return "", err
	}
	views := make([]contactView, 0, len(people))
	for _, p := range people {
		views = append(views, toView(p))
	}
	t.logger.Info("contacts exported", "user_id", userID, "count", len(views))
	return toolerr.ResultJSON(map[string]any{"contacts": views, "count": len(views)})
}
