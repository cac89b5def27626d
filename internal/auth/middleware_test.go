package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// protected echoes the client name RequireBearer stored in the context.
func protected(tokens *TokenService) http.Handler {
	return RequireBearer(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, ok := ClientFromContext(r.Context())
		if !ok {
			client = "anonymous"
		}
		_, _ = w.Write([]byte(client))
	}))
}

func TestRequireBearer(t *testing.T) {
	ts := newTestTokenService(t)
	valid, err := ts.Generate("claude-desktop")
	require.NoError(t, err)
	expired, err := ts.GenerateWithDuration("claude-desktop", -time.Second)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, "claude-desktop"},
		{"scheme is case-insensitive", "bearer " + valid, http.StatusOK, "claude-desktop"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, ""},
		{"empty token", "Bearer ", http.StatusUnauthorized, ""},
		{"expired token", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			protected(ts).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantBody, rr.Body.String())
			} else {
				assert.Contains(t, rr.Body.String(), "unauthorized")
				assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestRequireBearer_Disabled(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rr := httptest.NewRecorder()

	protected(nil).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "anonymous", rr.Body.String())
}

func TestWithClient(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ClientFromContext(req.Context())
	assert.False(t, ok)

	client, ok := ClientFromContext(WithClient(req.Context(), "cli"))
	assert.True(t, ok)
	assert.Equal(t, "cli", client)
}
