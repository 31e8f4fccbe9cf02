package security

import (
	"testing"
	"time"

	"github.com/haasonsaas/concierge/pkg/models"
)

func testEngine() *Engine {
	return NewEngine(map[string]ActionPolicy{
		"calendar.list_events":            {Tier: models.TierReadOnly},
		"calendar.create_event":           {Tier: models.TierModerate},
		"calendar.delete_event":           {Tier: models.TierDestructive, Keyword: "delete", Emoji: "🗑️"},
		"email.send_email":                {Tier: models.TierDestructive, Keyword: "send"},
		"calendar.clear_day":              {Tier: models.TierHighImpact},
		"settings.update_security_phrase": {Tier: models.TierBlocked},
	})
}

func phrasePrefs(emojiEnabled bool) *models.SecurityPrefs {
	return &models.SecurityPrefs{
		UserID:             "u1",
		EmojiConfirmations: emojiEnabled,
		PhraseColor:        "crimson",
		PhraseObject:       "lantern",
		PhraseEmoji:        "🔒",
	}
}

func TestEffectiveTier(t *testing.T) {
	e := testEngine()

	tests := []struct {
		name   string
		action string
		prefs  *models.SecurityPrefs
		want   models.Tier
	}{
		{"default from policy", "calendar.delete_event", nil, models.TierDestructive},
		{"unknown action falls to read-only", "weather.forecast", nil, models.TierReadOnly},
		{
			"override tightens",
			"calendar.create_event",
			&models.SecurityPrefs{ActionOverrides: map[string]models.Tier{"calendar.create_event": models.TierDestructive}},
			models.TierDestructive,
		},
		{
			"override loosens",
			"calendar.delete_event",
			&models.SecurityPrefs{ActionOverrides: map[string]models.Tier{"calendar.delete_event": models.TierModerate}},
			models.TierModerate,
		},
		{
			"invalid override ignored",
			"calendar.delete_event",
			&models.SecurityPrefs{ActionOverrides: map[string]models.Tier{"calendar.delete_event": models.Tier(9)}},
			models.TierDestructive,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.EffectiveTier(tt.action, tt.prefs); got != tt.want {
				t.Errorf("EffectiveTier = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfirmReadOnlyAlwaysPasses(t *testing.T) {
	e := testEngine()
	d := e.Confirm("calendar.list_events", "", nil)
	if !d.Confirmed {
		t.Errorf("read-only action required confirmation: %+v", d)
	}
}

func TestConfirmModerate(t *testing.T) {
	e := testEngine()

	tests := []struct {
		reply string
		want  bool
	}{
		{"yes", true},
		{"Yes please", true},
		{"YES", true},
		{"sure, go ahead", true},
		{"👍", true},
		{"sounds good to me", true},
		{"nope", false},
		{"what does it say?", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			d := e.Confirm("calendar.create_event", tt.reply, nil)
			if d.Confirmed != tt.want {
				t.Errorf("Confirm(%q) = %v, want %v", tt.reply, d.Confirmed, tt.want)
			}
		})
	}
}

func TestConfirmDestructiveKeyword(t *testing.T) {
	e := testEngine()

	tests := []struct {
		name  string
		reply string
		prefs *models.SecurityPrefs
		want  bool
	}{
		{"exact keyword", "delete", nil, true},
		{"keyword in sentence", "ok, delete it", nil, true},
		{"case insensitive", "DELETE", nil, true},
		{"plain affirmative is not enough", "yes", nil, false},
		{"glyph with emoji enabled", "🗑️", phrasePrefs(true), true},
		{"glyph with emoji disabled", "🗑️", phrasePrefs(false), false},
		{"glyph disabled when prefs absent", "🗑️", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Confirm("calendar.delete_event", tt.reply, tt.prefs)
			if d.Confirmed != tt.want {
				t.Errorf("Confirm(%q) = %v, want %v", tt.reply, d.Confirmed, tt.want)
			}
			if !tt.want && d.Reason == "" {
				t.Error("denied decision carried no reason")
			}
		})
	}
}

func TestConfirmDestructivePerActionKeyword(t *testing.T) {
	e := testEngine()

	// "delete" confirms deletions but not sends.
	if d := e.Confirm("email.send_email", "delete", nil); d.Confirmed {
		t.Error("send_email confirmed by the wrong keyword")
	}
	if d := e.Confirm("email.send_email", "send it", nil); !d.Confirmed {
		t.Error("send_email not confirmed by its own keyword")
	}
}

func TestConfirmHighImpactPhrase(t *testing.T) {
	e := testEngine()

	tests := []struct {
		name  string
		reply string
		prefs *models.SecurityPrefs
		want  bool
	}{
		{"exact phrase", "crimson lantern", phrasePrefs(false), true},
		{"phrase case and spacing", "  Crimson   Lantern ", phrasePrefs(false), true},
		{"phrase inside sentence", "the phrase is crimson lantern, go", phrasePrefs(false), true},
		{"glyph alone when enabled", "🔒", phrasePrefs(true), true},
		{"glyph alone when disabled", "🔒", phrasePrefs(false), false},
		{"phrase plus glyph", "crimson lantern 🔒", phrasePrefs(true), true},
		{"glyph plus phrase", "🔒 crimson lantern", phrasePrefs(true), true},
		{"wrong phrase", "azure lantern", phrasePrefs(true), false},
		{"color only", "crimson", phrasePrefs(true), false},
		{"affirmative is not enough", "yes, do it", phrasePrefs(true), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Confirm("calendar.clear_day", tt.reply, tt.prefs)
			if d.Confirmed != tt.want {
				t.Errorf("Confirm(%q) = %v, want %v", tt.reply, d.Confirmed, tt.want)
			}
		})
	}
}

func TestConfirmHighImpactWithoutPhraseSetUp(t *testing.T) {
	e := testEngine()

	d := e.Confirm("calendar.clear_day", "yes", &models.SecurityPrefs{UserID: "u1"})
	if d.Confirmed {
		t.Fatal("high-impact action confirmed without a phrase configured")
	}
	if d.Reason == "" {
		t.Error("missing setup guidance in denial reason")
	}
}

func TestConfirmHighImpactDuringLockout(t *testing.T) {
	e := testEngine()

	prefs := phrasePrefs(true)
	until := time.Now().Add(10 * time.Minute)
	prefs.LockoutUntil = &until

	d := e.Confirm("calendar.clear_day", "crimson lantern", prefs)
	if d.Confirmed {
		t.Error("correct phrase accepted during lockout")
	}
}

func TestConfirmBlockedNeverPasses(t *testing.T) {
	e := testEngine()

	replies := []string{"yes", "delete", "crimson lantern", "crimson lantern 🔒"}
	for _, reply := range replies {
		if d := e.Confirm("settings.update_security_phrase", reply, phrasePrefs(true)); d.Confirmed {
			t.Errorf("blocked action confirmed by %q", reply)
		}
	}
}

func TestNormalizeZWJEmoji(t *testing.T) {
	// A ZWJ family sequence must compare equal to itself after NFC and
	// survive surrounding whitespace.
	family := "👨‍👩‍👧"
	prefs := &models.SecurityPrefs{
		UserID:             "u1",
		EmojiConfirmations: true,
		PhraseColor:        "teal",
		PhraseObject:       "anchor",
		PhraseEmoji:        family,
	}
	e := testEngine()

	if d := e.Confirm("calendar.clear_day", "  "+family+"  ", prefs); !d.Confirmed {
		t.Error("ZWJ emoji glyph did not match itself after normalization")
	}
	if normalizeGlyph(family) != normalizeGlyph(" "+family) {
		t.Error("glyph normalization not whitespace-stable")
	}
}
