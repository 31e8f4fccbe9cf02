package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/concierge/internal/auth"
	"github.com/haasonsaas/concierge/internal/router"
	"github.com/haasonsaas/concierge/internal/security"
	"github.com/haasonsaas/concierge/internal/stepup"
	"github.com/haasonsaas/concierge/pkg/models"
)

func postPath(t *testing.T, handler http.Handler, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:1234"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func stepupServer(t *testing.T) (*Server, string) {
	t.Helper()
	jwtSvc := auth.NewJWTService("test-secret", time.Hour)
	token, err := jwtSvc.Generate(&models.User{ID: "u1"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	verifier := stepup.NewVerifier(stepup.NewMemoryCodeStore(),
		security.NewMemoryPrefsStore(), stepup.Options{})

	p := &fakeProvider{complete: func(req *router.Request) (*router.Completion, error) {
		return &router.Completion{Content: "ok"}, nil
	}}
	srv := newTestServer(t, p, Options{JWT: jwtSvc, Verifier: verifier})
	return srv, token
}

func TestStepUpCodeLifecycle(t *testing.T) {
	srv, token := stepupServer(t)
	handler := srv.Handler()
	authHeader := map[string]string{"Authorization": "Bearer " + token}

	rec := postPath(t, handler, "/v1/security/code", `{"action":"email.empty_trash"}`, authHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body)
	}
	var created struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || len(created.Code) != 6 {
		t.Fatalf("code = %q, err = %v", created.Code, err)
	}

	body := fmt.Sprintf(`{"action":"email.empty_trash","code":"%s"}`, created.Code)
	rec = postPath(t, handler, "/v1/security/code/verify", body, authHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body = %s", rec.Code, rec.Body)
	}

	// Codes are single use.
	rec = postPath(t, handler, "/v1/security/code/verify", body, authHeader)
	if rec.Code != http.StatusForbidden {
		t.Errorf("reuse status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestStepUpWrongCode(t *testing.T) {
	srv, token := stepupServer(t)
	handler := srv.Handler()
	authHeader := map[string]string{"Authorization": "Bearer " + token}

	rec := postPath(t, handler, "/v1/security/code", `{"action":"email.empty_trash"}`, authHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec = postPath(t, handler, "/v1/security/code/verify",
		`{"action":"email.empty_trash","code":"000000"}`, authHeader)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestStepUpRequiresAuth(t *testing.T) {
	srv, _ := stepupServer(t)
	handler := srv.Handler()

	rec := postPath(t, handler, "/v1/security/code", `{"action":"email.empty_trash"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
	}
}
