// Package providers implements the router.Provider backends for Anthropic,
// OpenAI, and Google models.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/concierge/internal/router"
	"github.com/haasonsaas/concierge/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// Anthropic serves completions from the Anthropic Messages API. Responses
// are streamed from the API and collected into a single completion.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	// Model defaults to defaultAnthropicModel.
	Model string
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{client: anthropic.NewClient(options...), model: cfg.Model}, nil
}

func (p *Anthropic) Name() string        { return "anthropic" }
func (p *Anthropic) SupportsTools() bool { return true }

// Complete runs one model turn and collects the streamed events into text
// and tool calls.
func (p *Anthropic) Complete(ctx context.Context, req *router.Request) (*router.Completion, error) {
	messages, err := anthropicMessages(req.Turns)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert turns: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	var text strings.Builder
	var toolCalls []models.ToolCall
	var currentTool *models.ToolCall
	var toolInput strings.Builder

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentTool = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				text.WriteString(delta.Text)
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentTool != nil {
				raw := toolInput.String()
				if raw == "" {
					raw = "{}"
				}
				currentTool.Input = json.RawMessage(raw)
				toolCalls = append(toolCalls, *currentTool)
				currentTool = nil
			}

		case "message_stop":
			// Fall out via stream.Next returning false.
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	return &router.Completion{
		Content:   text.String(),
		ToolCalls: toolCalls,
		Model:     p.model,
	}, nil
}

// Stream delivers text deltas as they arrive. The first event is pulled
// synchronously so immediate failures (auth, quota) surface as a return
// error the router can fail over on.
func (p *Anthropic) Stream(ctx context.Context, req *router.Request) (<-chan router.Chunk, error) {
	messages, err := anthropicMessages(req.Turns)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert turns: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	ch := make(chan router.Chunk)
	if !stream.Next() {
		if err := stream.Err(); err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		close(ch)
		return ch, nil
	}

	go func() {
		defer close(ch)
		for {
			event := stream.Current()
			if event.Type == "content_block_delta" {
				delta := event.AsContentBlockDelta().Delta
				if delta.Type == "text_delta" && delta.Text != "" {
					select {
					case ch <- router.Chunk{Text: delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
			if !stream.Next() {
				break
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case ch <- router.Chunk{Err: fmt.Errorf("anthropic: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

func anthropicMessages(turns []models.Turn) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, turn := range turns {
		if turn.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if turn.Content != "" {
			content = append(content, anthropic.NewTextBlock(turn.Content))
		}
		for _, toolResult := range turn.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				toolResult.ToolCallID,
				toolResult.Content,
				toolResult.IsError,
			))
		}
		for _, toolCall := range turn.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(toolCall.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", toolCall.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(toolCall.ID, input, toolCall.Name))
		}
		if len(content) == 0 {
			continue
		}

		if turn.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func anthropicTools(defs []router.ToolDef) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", def.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for %s: missing tool definition", def.Name)
		}
		toolParam.OfTool.Description = anthropic.String(def.Description)
		result = append(result, toolParam)
	}
	return result, nil
}
