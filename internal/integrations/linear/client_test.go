package linear

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/concierge/internal/tools/toolerr"
)

func TestListIssues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer lin-tok" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"viewer": map[string]any{
					"assignedIssues": map[string]any{
						"nodes": []map[string]any{
							{"id": "i1", "identifier": "ENG-1", "title": "Fix login", "state": map[string]string{"name": "Todo"}},
						},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Options{Endpoint: srv.URL})
	issues, err := c.ListIssues(context.Background(), "lin-tok", 10)
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(issues) != 1 || issues[0].Identifier != "ENG-1" || issues[0].State.Name != "Todo" {
		t.Errorf("issues = %+v", issues)
	}
}

func TestGraphQLErrorsBecomeUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"message": "issue not found"}},
		})
	}))
	defer srv.Close()

	c := NewClient(Options{Endpoint: srv.URL})
	err := c.DeleteIssue(context.Background(), "tok", "missing")
	te, ok := toolerr.As(err)
	if !ok {
		t.Fatalf("error %v is not a toolerr", err)
	}
	if te.Code != toolerr.CodeUpstream || te.Provider != "linear" {
		t.Errorf("error = %+v", te)
	}
}

func TestUnauthorizedBecomesTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Options{Endpoint: srv.URL})
	_, err := c.ListIssues(context.Background(), "bad-tok", 10)
	te, ok := toolerr.As(err)
	if !ok {
		t.Fatalf("error %v is not a toolerr", err)
	}
	if te.Code != toolerr.CodeTokenRejected {
		t.Errorf("code = %q", te.Code)
	}
}

func TestCreateIssueFailureWithoutErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"issueCreate": map[string]any{"success": false}},
		})
	}))
	defer srv.Close()

	c := NewClient(Options{Endpoint: srv.URL})
	_, err := c.CreateIssue(context.Background(), "tok", "team1", "title", "")
	if _, ok := toolerr.As(err); !ok {
		t.Fatalf("error %v is not a toolerr", err)
	}
}
