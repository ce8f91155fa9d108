package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware_NoSecretConfiguredTreatsEveryRequestAsAnonymous(t *testing.T) {
	var seen string
	h := authMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = principalFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "anonymous", seen)
}

func TestAuthMiddleware_ValidTokenExtractsSubjectAsPrincipal(t *testing.T) {
	secret := "top-secret"
	token := signToken(t, secret, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	var seen string
	h := authMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = principalFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alice", seen)
}

func TestAuthMiddleware_MissingBearerHeaderIsRejected(t *testing.T) {
	h := authMiddleware("top-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_TokenSignedWithWrongSecretIsRejected(t *testing.T) {
	token := signToken(t, "wrong-secret", jwt.MapClaims{"sub": "alice"})

	h := authMiddleware("top-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleToolInvoke_UnknownToolReturnsBadRequest(t *testing.T) {
	o := newTestOrchestrator(t)
	router := newRouter(o, "")

	req := httptest.NewRequest(http.MethodPost, "/tools/does-not-exist/invoke", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
