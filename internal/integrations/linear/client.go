// Package linear is a minimal GraphQL client for the Linear issue
// tracker, covering the task-board operations the assistant exposes.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haasonsaas/concierge/internal/tools/toolerr"
)

const defaultEndpoint = "https://api.linear.app/graphql"

// Client posts GraphQL operations to Linear with a caller-supplied token.
type Client struct {
	httpClient *http.Client
	endpoint   string
}

// Options configures a Client. Endpoint is overridable for tests.
type Options struct {
	HTTPClient *http.Client
	Endpoint   string
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Client{httpClient: httpClient, endpoint: endpoint}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// query runs one GraphQL operation and decodes data into out.
func (c *Client) query(ctx context.Context, token, query string, variables map[string]any, out any) error {
	raw, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("linear: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("linear: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return toolerr.Wrap(toolerr.CodeUpstream, "the task board did not respond", err).WithProvider("linear")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return toolerr.Newf(toolerr.CodeTokenRejected,
			"the stored credential was rejected (HTTP %d); reconnecting the integration may help", resp.StatusCode).WithProvider("linear")
	case resp.StatusCode >= 400:
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return toolerr.Newf(toolerr.CodeUpstream, "the task board returned HTTP %d", resp.StatusCode).WithProvider("linear")
	}

	var envelope graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return toolerr.Wrap(toolerr.CodeUpstream, "the task board returned an unreadable response", err).WithProvider("linear")
	}
	if len(envelope.Errors) > 0 {
		return toolerr.Newf(toolerr.CodeUpstream, "the task board rejected the request: %s", envelope.Errors[0].Message).WithProvider("linear")
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return toolerr.Wrap(toolerr.CodeUpstream, "the task board returned an unexpected shape", err).WithProvider("linear")
		}
	}
	return nil
}

// Issue is one task.
type Issue struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	State      struct {
		Name string `json:"name"`
	} `json:"state"`
	Priority float64 `json:"priority"`
	URL      string  `json:"url"`
}

// ListIssues returns the user's assigned, unfinished issues.
func (c *Client) ListIssues(ctx context.Context, token string, limit int) ([]Issue, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `query($first: Int!) {
		viewer {
			assignedIssues(first: $first, filter: {state: {type: {nin: ["completed", "canceled"]}}}) {
				nodes { id identifier title state { name } priority url }
			}
		}
	}`
	var out struct {
		Viewer struct {
			AssignedIssues struct {
				Nodes []Issue `json:"nodes"`
			} `json:"assignedIssues"`
		} `json:"viewer"`
	}
	if err := c.query(ctx, token, q, map[string]any{"first": limit}, &out); err != nil {
		return nil, err
	}
	return out.Viewer.AssignedIssues.Nodes, nil
}

// CreateIssue creates a task on a team and returns it.
func (c *Client) CreateIssue(ctx context.Context, token, teamID, title, description string) (*Issue, error) {
	const q = `mutation($input: IssueCreateInput!) {
		issueCreate(input: $input) {
			success
			issue { id identifier title state { name } priority url }
		}
	}`
	input := map[string]any{"teamId": teamID, "title": title}
	if description != "" {
		input["description"] = description
	}
	var out struct {
		IssueCreate struct {
			Success bool   `json:"success"`
			Issue   *Issue `json:"issue"`
		} `json:"issueCreate"`
	}
	if err := c.query(ctx, token, q, map[string]any{"input": input}, &out); err != nil {
		return nil, err
	}
	if !out.IssueCreate.Success || out.IssueCreate.Issue == nil {
		return nil, toolerr.New(toolerr.CodeUpstream, "the task could not be created").WithProvider("linear")
	}
	return out.IssueCreate.Issue, nil
}

// UpdateIssue applies field updates to a task.
func (c *Client) UpdateIssue(ctx context.Context, token, issueID string, input map[string]any) (*Issue, error) {
	const q = `mutation($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) {
			success
			issue { id identifier title state { name } priority url }
		}
	}`
	var out struct {
		IssueUpdate struct {
			Success bool   `json:"success"`
			Issue   *Issue `json:"issue"`
		} `json:"issueUpdate"`
	}
	if err := c.query(ctx, token, q, map[string]any{"id": issueID, "input": input}, &out); err != nil {
		return nil, err
	}
	if !out.IssueUpdate.Success || out.IssueUpdate.Issue == nil {
		return nil, toolerr.New(toolerr.CodeUpstream, "the task could not be updated").WithProvider("linear")
	}
	return out.IssueUpdate.Issue, nil
}

// DeleteIssue moves a task to trash.
func (c *Client) DeleteIssue(ctx context.Context, token, issueID string) error {
	const q = `mutation($id: String!) {
		issueDelete(id: $id) { success }
	}`
	var out struct {
		IssueDelete struct {
			Success bool `json:"success"`
		} `json:"issueDelete"`
	}
	if err := c.query(ctx, token, q, map[string]any{"id": issueID}, &out); err != nil {
		return err
	}
	if !out.IssueDelete.Success {
		return toolerr.New(toolerr.CodeUpstream, "the task could not be deleted").WithProvider("linear")
	}
	return nil
}

// ArchiveProject archives an entire project and its issues.
func (c *Client) ArchiveProject(ctx context.Context, token, projectID string) error {
	const q = `mutation($id: String!) {
		projectArchive(id: $id) { success }
	}`
	var out struct {
		ProjectArchive struct {
			Success bool `json:"success"`
		} `json:"projectArchive"`
	}
	if err := c.query(ctx, token, q, map[string]any{"id": projectID}, &out); err != nil {
		return err
	}
	if !out.ProjectArchive.Success {
		return toolerr.New(toolerr.CodeUpstream, "the project could not be archived").WithProvider("linear")
	}
	return nil
}
