package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// Middleware attaches the bearer token's user to the request context when
// the token validates. It never rejects: handlers downstream decide what
// an anonymous caller may do.
func Middleware(service *JWTService, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r.Header.Get("Authorization"))
			if token != "" && service != nil {
				user, err := service.Validate(token)
				if err != nil {
					logger.Warn("bearer token rejected, continuing unauthenticated", "error", err)
				} else {
					r = r.WithContext(WithUser(r.Context(), user))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearer(header string) string {
	if len(header) < len("bearer ") {
		return ""
	}
	if !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("bearer "):])
}
