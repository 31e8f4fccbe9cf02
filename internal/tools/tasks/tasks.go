// Package tasks implements the task-board actions over the Linear API.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/haasonsaas/concierge/internal/catalog"
	"github.com/haasonsaas/concierge/internal/integrations/linear"
	"github.com/haasonsaas/concierge/internal/tools/toolerr"
	"github.com/haasonsaas/concierge/internal/vault"
	"github.com/haasonsaas/concierge/pkg/models"
)

const provider = "linear"

// Tools bundles the task action handlers.
type Tools struct {
	vault  *vault.Vault
	client *linear.Client
	logger *slog.Logger
	// teamID is the default team new tasks land on.
	teamID string
}

// New creates the task tool set.
func New(v *vault.Vault, client *linear.Client, teamID string, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{vault: v, client: client, teamID: teamID, logger: logger}
}

// Register adds the task actions to the catalog.
func (t *Tools) Register(reg *catalog.Registry) error {
	entries := []struct {
		desc    catalog.Descriptor
		handler catalog.HandlerFunc
	}{
		{
			desc: catalog.Descriptor{
				Name:        "tasks.list_tasks",
				Description: "List the user's open tasks.",
				Tier:        models.TierReadOnly,
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"limit": {"type": "integer", "minimum": 1, "maximum": 100}
					},
					"additionalProperties": false
				}`),
			},
			handler: t.listTasks,
		},
		{
			desc: catalog.Descriptor{
				Name:        "tasks.create_task",
				Description: "Create a task on the board.",
				Tier:        models.TierModerate,
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"title": {"type": "string", "minLength": 1},
						"description": {"type": "string"}
					},
					"required": ["title"],
					"additionalProperties": false
				}`),
			},
			handler: t.createTask,
		},
		{
			desc: catalog.Descriptor{
				Name:        "tasks.update_task",
				Description: "Update a task's title or description.",
				Tier:        models.TierModerate,
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"task_id": {"type": "string", "minLength": 1},
						"title": {"type": "string"},
						"description": {"type": "string"}
					},
					"required": ["task_id"],
					"additionalProperties": false
				}`),
			},
			handler: t.updateTask,
		},
		{
			desc: catalog.Descriptor{
				Name:        "tasks.delete_task",
				Description: "Delete a task. Requires the user to confirm with the keyword.",
				Tier:        models.TierDestructive,
				Keyword:     "delete",
				Emoji:       "🗑️",
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"task_id": {"type": "string", "minLength": 1}
					},
					"required": ["task_id"],
					"additionalProperties": false
				}`),
			},
			handler: t.deleteTask,
		},
		{
			desc: catalog.Descriptor{
				Name:        "tasks.archive_project",
				Description: "Archive an entire project and its tasks. Requires the security phrase.",
				Tier:        models.TierHighImpact,
				Provider:    provider,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"project_id": {"type": "string", "minLength": 1}
					},
					"required": ["project_id"],
					"additionalProperties": false
				}`),
			},
			handler: t.archiveProject,
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
			"the task board is not connected; link the Linear account first").WithProvider(provider)
	}
	if err != nil {
		return "", toolerr.Wrap(toolerr.CodeUpstream, "the task board credential could not be loaded", err).WithProvider(provider)
	}
	return token, nil
}

type taskView struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier,omitempty"`
	Title      string `json:"title"`
	State      string `json:"state,omitempty"`
	URL        string `json:"url,omitempty"`
}

func toView(i linear.Issue) taskView {
	return taskView{ID: i.ID, Identifier: i.Identifier, Title: i.Title, State: i.State.Name, URL: i.URL}
}

func (t *Tools) listTasks(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	issues, err := t.client.ListIssues(ctx, token, in.Limit)
	if err != nil {
		return "", err
	}
	views := make([]taskView, 0, len(issues))
	for _, i := range issues {
		views = append(views, toView(i))
	}
	return toolerr.ResultJSON(map[string]any{"tasks": views, "count": len(views)})
}

func (t *Tools) createTask(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	issue, err := t.client.CreateIssue(ctx, token, t.teamID, in.Title, in.Description)
	if err != nil {
		return "", err
	}
	return toolerr.ResultJSON(map[string]any{"task": toView(*issue)})
}

func (t *Tools) updateTask(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		TaskID      string `json:"task_id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}
	input := map[string]any{}
	if in.Title != "" {
		input["title"] = in.Title
	}
	if in.Description != "" {
		input["description"] = in.Description
	}
	if len(input) == 0 {
		return "", toolerr.New(toolerr.CodeValidation, "at least one of title or description must be set")
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	issue, err := t.client.UpdateIssue(ctx, token, in.TaskID, input)
	if err != nil {
		return "", err
	}
	return toolerr.ResultJSON(map[string]any{"task": toView(*issue)})
}

func (t *Tools) deleteTask(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := t.client.DeleteIssue(ctx, token, in.TaskID); err != nil {
		return "", err
	}
	t.logger.Info("task deleted", "user_id", userID, "task_id", in.TaskID)
	return toolerr.ResultJSON(map[string]any{"deleted": in.TaskID})
}

func (t *Tools) archiveProject(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", toolerr.New(toolerr.CodeValidation, "arguments are not valid JSON")
	}

	token, err := t.token(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := t.client.ArchiveProject(ctx, token, in.ProjectID); err != nil {
		return "", err
	}
	t.logger.Info("project archived", "user_id", userID, "project_id", in.ProjectID)
	return toolerr.ResultJSON(map[string]any{"archived": in.ProjectID})
}
