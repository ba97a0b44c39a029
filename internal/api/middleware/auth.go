package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// ContextKey is a type for context keys
type ContextKey string

// ContextKeyAPIKey is the context key for the API key
const ContextKeyAPIKey ContextKey = "api_key"

// APIKeyAuth validates the X-API-Key header (or a Bearer token, or the
// api_key query parameter for WebSocket clients) against apiKey. An empty
// apiKey disables authentication.
func APIKeyAuth(apiKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// CORS preflight
			if r.Method == http.MethodOptions || apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := extractAPIKey(r)
			if presented == "" {
				http.Error(w, `{"error":"missing API key"}`, http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyAPIKey, presented)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("api_key")
}

// GetAPIKey returns the API key from context
func GetAPIKey(ctx context.Context) string {
	if key, ok := ctx.Value(ContextKeyAPIKey).(string); ok {
		return key
	}
	return ""
}
