// Package security implements the tiered confirmation policy engine: it
// classifies actions into confirmation tiers and decides whether a user
// reply satisfies the proof-of-intent requirement for that tier.
package security

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/haasonsaas/concierge/pkg/models"
)

// ActionPolicy is the per-action confirmation contract: the default tier
// plus the tier-3 keyword/glyph pair when one applies.
type ActionPolicy struct {
	Tier    models.Tier
	Keyword string
	Emoji   string
}

// Decision is the outcome of a confirmation check. Reason is set when the
// check fails and is suitable for the model to relay to the user.
type Decision struct {
	Confirmed bool
	Tier      models.Tier
	Reason    string
}

// affirmatives is the fixed set of replies accepted for tier-4 actions.
// Matching is case-insensitive, by exact equality or substring containment.
var affirmatives = []string{
	"yes", "yeah", "yep", "ok", "okay", "sure",
	"go ahead", "confirm", "confirmed", "do it", "sounds good",
	"👍", "✅",
}

// Engine is a pure decision function over per-action policies and per-user
// preferences. It holds no mutable state of its own.
type Engine struct {
	policies map[string]ActionPolicy
	now      func() time.Time
}

// NewEngine builds an engine over the catalog's action policies.
func NewEngine(policies map[string]ActionPolicy) *Engine {
	if policies == nil {
		policies = map[string]ActionPolicy{}
	}
	return &Engine{policies: policies, now: time.Now}
}

// EffectiveTier resolves the tier for an action: the per-user override if
// present, else the action's default, else tier 5.
func (e *Engine) EffectiveTier(actionID string, prefs *models.SecurityPrefs) models.Tier {
	if prefs != nil {
		if t, ok := prefs.ActionOverrides[actionID]; ok && t.Valid() {
			return t
		}
	}
	if p, ok := e.policies[actionID]; ok && p.Tier.Valid() {
		return p.Tier
	}
	return models.TierReadOnly
}

// Confirm decides whether reply satisfies the effective tier's
// proof-of-intent requirement for actionID. It does not track which pending
// action the reply belongs to; correlating reply and action is the
// orchestration loop's job.
func (e *Engine) Confirm(actionID, reply string, prefs *models.SecurityPrefs) Decision {
	tier := e.EffectiveTier(actionID, prefs)

	switch tier {
	case models.TierReadOnly:
		return Decision{Confirmed: true, Tier: tier}

	case models.TierModerate:
		if matchAffirmative(reply) {
			return Decision{Confirmed: true, Tier: tier}
		}
		return Decision{Tier: tier, Reason: "an affirmative reply is required before this action runs"}

	case models.TierDestructive:
		return e.confirmDestructive(actionID, reply, prefs, tier)

	case models.TierHighImpact:
		return e.confirmHighImpact(reply, prefs, tier)

	case models.TierBlocked:
		return Decision{Tier: tier, Reason: "this action cannot be performed through the assistant; use the security settings page"}
	}

	return Decision{Tier: tier, Reason: "unrecognized confirmation tier"}
}

func (e *Engine) confirmDestructive(actionID, reply string, prefs *models.SecurityPrefs, tier models.Tier) Decision {
	policy := e.policies[actionID]
	keyword := normalize(policy.Keyword)
	candidate := normalize(reply)

	if keyword != "" && candidate != "" {
		if candidate == keyword || strings.Contains(candidate, keyword) {
			return Decision{Confirmed: true, Tier: tier}
		}
	}
	if prefs != nil && prefs.EmojiConfirmations && policy.Emoji != "" {
		if strings.Contains(normalizeGlyph(reply), normalizeGlyph(policy.Emoji)) {
			return Decision{Confirmed: true, Tier: tier}
		}
	}
	reason := "reply with the confirmation keyword to proceed"
	if policy.Keyword != "" {
		reason = "reply with \"" + policy.Keyword + "\" to proceed"
	}
	return Decision{Tier: tier, Reason: reason}
}

// confirmHighImpact checks the two-part secret phrase. Matching rules, in
// priority order: exact text, exact glyph (when enabled), text+glyph in
// either order, then text as a substring of the reply.
func (e *Engine) confirmHighImpact(reply string, prefs *models.SecurityPrefs, tier models.Tier) Decision {
	if prefs == nil || !prefs.HasPhrase() {
		return Decision{Tier: tier, Reason: "no security phrase is set up; add one in security settings before using this action"}
	}
	if prefs.LockedOut(e.now()) {
		return Decision{Tier: tier, Reason: "security confirmations are locked out after repeated failures; try again after the lockout period"}
	}

	phrase := normalize(prefs.PhraseColor + " " + prefs.PhraseObject)
	glyph := normalizeGlyph(prefs.PhraseEmoji)
	candidate := normalize(reply)
	emojiEnabled := prefs.EmojiConfirmations && glyph != ""

	if candidate == phrase {
		return Decision{Confirmed: true, Tier: tier}
	}
	if emojiEnabled && normalizeGlyph(reply) == glyph {
		return Decision{Confirmed: true, Tier: tier}
	}
	if emojiEnabled {
		combined := []string{phrase + " " + glyph, glyph + " " + phrase}
		for _, c := range combined {
			if candidate == normalize(c) {
				return Decision{Confirmed: true, Tier: tier}
			}
		}
	}
	if strings.Contains(candidate, phrase) {
		return Decision{Confirmed: true, Tier: tier}
	}
	return Decision{Tier: tier, Reason: "the security phrase did not match"}
}

func matchAffirmative(reply string) bool {
	candidate := normalize(reply)
	if candidate == "" {
		return false
	}
	for _, a := range affirmatives {
		if candidate == a || strings.Contains(candidate, a) {
			return true
		}
	}
	return false
}

// normalize lowercases, trims, collapses inner whitespace, and applies NFC
// so multi-codepoint glyph sequences (ZWJ-joined emoji) compare correctly.
func normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

// normalizeGlyph applies NFC without lowercasing; emoji have no case but
// may carry variation selectors that NFC folds consistently.
func normalizeGlyph(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
