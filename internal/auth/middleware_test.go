package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haasonsaas/concierge/pkg/models"
)

func TestMiddlewareAttachesUser(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)
	token, err := svc.Generate(&models.User{ID: "u1"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var got *models.User
	handler := Middleware(svc, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.ID != "u1" {
		t.Errorf("user = %+v", got)
	}
}

func TestMiddlewarePassesThroughAnonymous(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"garbage token", "Bearer not-a-jwt"},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			handler := Middleware(svc, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				if user := UserFromContext(r.Context()); user != nil {
					t.Errorf("unexpected user %+v", user)
				}
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if !called {
				t.Error("handler not reached")
			}
		})
	}
}
