package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeystoneFetcher_FetchParsesToken(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tokens", r.URL.Path)

		var body keystoneAuthRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "admin", body.Auth.PasswordCredentials.Username)
		assert.Equal(t, "s3cret", body.Auth.PasswordCredentials.Password)
		assert.Equal(t, "service", body.Auth.TenantName)

		var resp keystoneAuthResponse
		resp.Access.Token.ID = "tok-123"
		resp.Access.Token.Expires = expires
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	f := NewKeystoneFetcher(server.URL, "admin", "s3cret", "service")
	tok, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok.ID)
	assert.True(t, tok.ExpiresAt.Equal(expires))
}

func TestKeystoneFetcher_NonOKStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	f := NewKeystoneFetcher(server.URL, "admin", "wrong", "service")
	_, err := f.Fetch(context.Background())
	assert.Error(t, err)
}

func TestKeystoneFetcher_SourceIntegration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp keystoneAuthResponse
		resp.Access.Token.ID = "tok-456"
		resp.Access.Token.Expires = time.Now().Add(time.Hour)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	f := NewKeystoneFetcher(server.URL, "admin", "s3cret", "service")
	src := NewSource(f, time.Minute)

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-456", tok.ID)
}
