package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sakif/python-sandbox/internal/apperror"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. A package-private type means
// only THIS package can read or write the client name in the context.
type contextKey string

const clientKey contextKey = "client"

// RequireBearer is a middleware that enforces bearer-token authentication.
//
// It reads "Authorization: Bearer <jwt>", validates the token and stores the
// client name in the request context. A missing or invalid token gets
// 401 Unauthorized and stops the request chain.
//
// A nil tokens disables authentication: every request passes through. This
// is the default for local stdio-style deployments where JWT_SECRET is unset.
//
// MIDDLEWARE PATTERN IN GO:
//
//	func Middleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // ... do stuff before the handler ...
//	        next.ServeHTTP(w, r)
//	    })
//	}
func RequireBearer(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokens == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, err := extractClient(r, tokens)
			if err != nil {
				writeUnauthorized(w, apperror.Unauthorized("valid bearer token required"))
				return
			}

			ctx := context.WithValue(r.Context(), clientKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientFromContext returns the authenticated client name.
//
// Returns ("", false) when authentication is disabled.
func ClientFromContext(ctx context.Context) (string, bool) {
	client, ok := ctx.Value(clientKey).(string)
	return client, ok && client != ""
}

// WithClient returns ctx carrying client. Handler tests use it to fake an
// authenticated request.
func WithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, clientKey, client)
}

// writeUnauthorized sends the same error shape as the API handlers.
func writeUnauthorized(w http.ResponseWriter, appErr *apperror.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+Issuer+`"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": appErr.Message,
	})
}

// extractClient reads the bearer token and validates it.
func extractClient(r *http.Request, tokens *TokenService) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}
	return tokens.Validate(strings.TrimSpace(token))
}
