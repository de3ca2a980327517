package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bazaarlive/storyrank/internal/middleware"
)

// Optional returns a middleware that resolves the caller's identity from a
// Bearer token when one is present. Requests without an Authorization header
// pass through anonymously; requests with a token that fails validation are
// rejected with 401. When svc is nil all requests pass through unchanged.
func Optional(svc *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if svc == nil {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeUnauthorized(w, "authorization header must use the Bearer scheme")
				return
			}

			claims, err := svc.ValidateToken(tokenString)
			if err != nil {
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := middleware.SetUserID(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeUnauthorized writes the standard error envelope. Duplicated from the
// api package to avoid an import cycle.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "unauthorized",
			"message": message,
		},
	})
}
