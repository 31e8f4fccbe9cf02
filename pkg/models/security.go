package models

import "time"

// Tier is a ranked confirmation-friction level attached to an action.
// Tier 1 is the highest risk (never auto-executable by the agent) and
// tier 5 carries no confirmation requirement at all.
type Tier int

const (
	// TierBlocked actions require a human-operated settings flow outside
	// the conversational loop and are refused regardless of confirmation.
	TierBlocked Tier = 1
	// TierHighImpact actions require the user's two-part secret phrase.
	TierHighImpact Tier = 2
	// TierDestructive actions require the action's confirmation keyword.
	TierDestructive Tier = 3
	// TierModerate actions require an affirmative reply.
	TierModerate Tier = 4
	// TierReadOnly actions execute immediately.
	TierReadOnly Tier = 5
)

// Valid reports whether t is one of the five defined tiers.
func (t Tier) Valid() bool {
	return t >= TierBlocked && t <= TierReadOnly
}

func (t Tier) String() string {
	switch t {
	case TierBlocked:
		return "blocked"
	case TierHighImpact:
		return "high_impact"
	case TierDestructive:
		return "destructive"
	case TierModerate:
		return "moderate"
	case TierReadOnly:
		return "read_only"
	default:
		return "unknown"
	}
}

// SecurityPrefs holds one user's confirmation settings and the mutable
// step-up authentication state (failure counter, lockout).
type SecurityPrefs struct {
	UserID string

	// EmojiConfirmations controls whether glyph replies count as proof
	// for tier 2 and tier 3 confirmations.
	EmojiConfirmations bool

	// PhraseColor and PhraseObject form the two-part secret phrase
	// ("color object"). PhraseEmoji is its optional paired glyph.
	PhraseColor  string
	PhraseObject string
	PhraseEmoji  string

	// ActionOverrides maps action ids to a per-user tier that replaces
	// the action's default.
	ActionOverrides map[string]Tier

	FailedAttempts int
	LockoutUntil   *time.Time
}

// HasPhrase reports whether a secret phrase has been configured.
func (p *SecurityPrefs) HasPhrase() bool {
	return p != nil && p.PhraseColor != "" && p.PhraseObject != ""
}

// LockedOut reports whether the lockout window is still in effect at now.
func (p *SecurityPrefs) LockedOut(now time.Time) bool {
	return p != nil && p.LockoutUntil != nil && now.Before(*p.LockoutUntil)
}
