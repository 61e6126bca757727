package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateValidToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	userID := uuid.New()

	token, err := m.IssueToken(userID, "user@example.com")
	require.NoError(t, err)

	var gotOwner uuid.UUID
	var gotEmail string
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner = GetOwnerIDFromContext(r.Context())
		gotEmail = GetEmailFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/v1/links", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID, gotOwner)
	assert.Equal(t, "user@example.com", gotEmail)
}

func TestAuthenticateRejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	other := NewAuthMiddleware("other-secret")
	foreignToken, err := other.IssueToken(uuid.New(), "user@example.com")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
		{"wrong secret", "Bearer " + foreignToken},
	}

	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not be reached")
	}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/links", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestGetOwnerIDFromContextMissing(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, uuid.Nil, GetOwnerIDFromContext(req.Context()))
}
