package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"creditledger/internal/auth"
)

type contextKey string

const operatorUUIDKey contextKey = "operator_uuid"

// OperatorUUIDFromContext returns the operator authenticated by Auth, if any.
func OperatorUUIDFromContext(ctx context.Context) (string, bool) {
	operatorUUID, ok := ctx.Value(operatorUUIDKey).(string)
	return operatorUUID, ok
}

// Auth verifies the bearer token and stores the operator UUID in the request
// context. Failures answer 401 with the same JSON envelope the handlers use.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing or malformed authorization header")
				return
			}
			claims, err := auth.ParseToken(secret, token)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), operatorUUIDKey, claims.OperatorUUID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
