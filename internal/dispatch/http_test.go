package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagicBeansAI/magictunnel/internal/authprop"
	"github.com/MagicBeansAI/magictunnel/internal/routing"
	"github.com/MagicBeansAI/magictunnel/internal/substitution"
)

func TestHTTPAgent_AppliesBearerAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewHTTPAgent()
	desc := &routing.Descriptor{
		Kind: routing.KindHTTP,
		HTTP: &routing.HTTPConfig{
			Method: "GET",
			URL:    srv.URL,
			Auth:   &authprop.Config{Kind: authprop.KindBearer, Token: "{{token}}"},
		},
	}
	res, err := a.Execute(context.Background(), desc, substitution.Params{"token": "xyz"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Bearer xyz", gotAuth)
}

func TestHTTPAgent_AuthOverridesCollidingPlainHeader(t *testing.T) {
	var gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-API-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewHTTPAgent()
	desc := &routing.Descriptor{
		Kind: routing.KindHTTP,
		HTTP: &routing.HTTPConfig{
			Method:  "GET",
			URL:     srv.URL,
			Headers: map[string]string{"X-API-Key": "stale"},
			Auth:    &authprop.Config{Kind: authprop.KindAPIKey, Token: "fresh"},
		},
	}
	_, err := a.Execute(context.Background(), desc, substitution.Params{})
	require.NoError(t, err)
	assert.Equal(t, "fresh", gotAPIKey)
}
