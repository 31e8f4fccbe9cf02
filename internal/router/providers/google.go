package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/concierge/internal/router"
	"github.com/haasonsaas/concierge/pkg/models"
)

const defaultGoogleModel = "gemini-2.0-flash"

// Google serves completions from the Gemini API. It is wired as a
// text-only fallback: the router skips it for tool-carrying requests.
type Google struct {
	client *genai.Client
	model  string
}

// GoogleConfig configures the Google provider.
type GoogleConfig struct {
	APIKey string
	// Model defaults to defaultGoogleModel.
	Model string
}

// NewGoogle creates a Google provider.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGoogleModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &Google{client: client, model: cfg.Model}, nil
}

func (p *Google) Name() string        { return "google" }
func (p *Google) SupportsTools() bool { return false }

func (p *Google) Complete(ctx context.Context, req *router.Request) (*router.Completion, error) {
	var config *genai.GenerateContentConfig
	if req.System != "" || req.MaxTokens > 0 {
		config = &genai.GenerateContentConfig{}
		if req.System != "" {
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: req.System}},
			}
		}
		if req.MaxTokens > 0 {
			config.MaxOutputTokens = int32(req.MaxTokens)
		}
	}

	var text strings.Builder
	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, googleContents(req.Turns), config) {
		if err != nil {
			return nil, fmt.Errorf("google: %w", err)
		}
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					text.WriteString(part.Text)
				}
			}
		}
	}

	return &router.Completion{Content: text.String(), Model: p.model}, nil
}

// googleContents renders turns as plain text contents. Tool calls and
// results from earlier rounds are summarized inline since this provider
// only handles tool-less conversations.
func googleContents(turns []models.Turn) []*genai.Content {
	var result []*genai.Content
	for _, turn := range turns {
		if turn.Role == models.RoleSystem {
			continue
		}

		var text strings.Builder
		if turn.Content != "" {
			text.WriteString(turn.Content)
		}
		for _, tc := range turn.ToolCalls {
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			fmt.Fprintf(&text, "[requested action %s]", tc.Name)
		}
		for _, tr := range turn.ToolResults {
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			fmt.Fprintf(&text, "[action result] %s", tr.Content)
		}
		if text.Len() == 0 {
			continue
		}

		role := genai.RoleUser
		if turn.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		result = append(result, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: text.String()}},
		})
	}
	return result
}
