package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type principalKey struct{}

// authMiddleware validates a Bearer JWT (HMAC-signed with secret) and
// stores its "sub" claim as the request's principal. An empty secret
// disables verification entirely and every request is treated as
// "anonymous" — the safe default for the demo binary when no signing key
// has been provisioned, rather than refusing to start.
func authMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), "anonymous")))
				return
			}

			principal, err := principalFromBearer(r.Header.Get("Authorization"), secret)
			if err != nil {
				http.Error(w, "invalid or missing bearer token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
		})
	}
}

func principalFromBearer(header, secret string) (string, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", jwt.ErrTokenMalformed
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return sub, nil
}

func withPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

func principalFrom(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	if p == "" {
		return "anonymous"
	}
	return p
}
