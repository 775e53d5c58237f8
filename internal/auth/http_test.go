// ABOUTME: Tests for the bearer token HTTP middleware.
// ABOUTME: Covers public paths, missing headers, bad tokens and caller propagation.

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireToken(t *testing.T) {
	verifier := newVerifier(t, "middleware-secret")
	good, err := verifier.Generate("alice", time.Hour)
	require.NoError(t, err)

	var seen *Caller
	handler := RequireToken(verifier, nil, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CallerFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"public path without token", "/health/ready", "", http.StatusOK},
		{"missing header", "/servers", "", http.StatusUnauthorized},
		{"wrong scheme", "/servers", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "/servers", "Bearer ", http.StatusUnauthorized},
		{"bad token", "/servers", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "/servers", "Bearer " + good, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	req.Header.Set("Authorization", "Bearer "+good)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	assert.Equal(t, "alice", seen.Subject)
}

func TestRequireToken_NilVerifierIsNoop(t *testing.T) {
	called := false
	handler := RequireToken(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/chat", nil))
	assert.True(t, called)
}
