// Package tools assembles the full action catalog from the per-domain
// tool sets and the always-blocked account actions.
package tools

import (
	"encoding/json"
	"log/slog"

	"github.com/haasonsaas/concierge/internal/catalog"
	"github.com/haasonsaas/concierge/internal/integrations/googleapi"
	"github.com/haasonsaas/concierge/internal/integrations/linear"
	"github.com/haasonsaas/concierge/internal/tools/calendar"
	"github.com/haasonsaas/concierge/internal/tools/contacts"
	"github.com/haasonsaas/concierge/internal/tools/email"
	"github.com/haasonsaas/concierge/internal/tools/tasks"
	"github.com/haasonsaas/concierge/internal/vault"
	"github.com/haasonsaas/concierge/pkg/models"
)

// Deps carries everything the tool sets need.
type Deps struct {
	Vault        *vault.Vault
	Google       *googleapi.Client
	Linear       *linear.Client
	LinearTeamID string
	Logger       *slog.Logger
}

// BuildRegistry registers every action and validates the catalog. A
// validation failure here means the build is inconsistent and the process
// must not start.
func BuildRegistry(deps Deps) (*catalog.Registry, error) {
	reg := catalog.NewRegistry()

	sets := []interface {
		Register(*catalog.Registry) error
	}{
		calendar.New(deps.Vault, deps.Google, deps.Logger),
		email.New(deps.Vault, deps.Google, deps.Logger),
		tasks.New(deps.Vault, deps.Linear, deps.LinearTeamID, deps.Logger),
		contacts.New(deps.Vault, deps.Google, deps.Logger),
	}
	for _, s := range sets {
		if err := s.Register(reg); err != nil {
			return nil, err
		}
	}

	// Blocked actions are declared so the policy engine refuses them by
	// name instead of treating them as unknown. They have no executors.
	blocked := []catalog.Descriptor{
		{
			Name:        "settings.update_security_phrase",
			Description: "Change the security phrase. Only available in security settings, never through the assistant.",
			Tier:        models.TierBlocked,
			Schema:      json.RawMessage(`{"type": "object"}`),
		},
		{
			Name:        "account.delete_account",
			Description: "Delete the account. Only available in account settings, never through the assistant.",
			Tier:        models.TierBlocked,
			Schema:      json.RawMessage(`{"type": "object"}`),
		},
	}
	for _, desc := range blocked {
		if err := reg.Add(desc, nil); err != nil {
			return nil, err
		}
	}

	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}
