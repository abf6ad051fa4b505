package authprop

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagicBeansAI/magictunnel/internal/substitution"
)

func newReq(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "https://example.test/v1/tool", nil)
	require.NoError(t, err)
	return req
}

func TestConfig_ApplyToRequest_Nil(t *testing.T) {
	var c *Config
	req := newReq(t)
	require.NoError(t, c.ApplyToRequest(req, nil))
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestConfig_ApplyToRequest_Bearer(t *testing.T) {
	c := &Config{Kind: KindBearer, Token: "{{token}}"}
	req := newReq(t)
	require.NoError(t, c.ApplyToRequest(req, substitution.Params{"token": "secret123"}))
	assert.Equal(t, "Bearer secret123", req.Header.Get("Authorization"))
}

func TestConfig_ApplyToRequest_APIKeyDefaultHeader(t *testing.T) {
	c := &Config{Kind: KindAPIKey, Token: "abc"}
	req := newReq(t)
	require.NoError(t, c.ApplyToRequest(req, nil))
	assert.Equal(t, "abc", req.Header.Get("X-API-Key"))
}

func TestConfig_ApplyToRequest_APIKeyCustomHeader(t *testing.T) {
	c := &Config{Kind: KindAPIKey, Token: "abc", HeaderName: "X-Custom-Key"}
	req := newReq(t)
	require.NoError(t, c.ApplyToRequest(req, nil))
	assert.Equal(t, "abc", req.Header.Get("X-Custom-Key"))
}

func TestConfig_ApplyToRequest_QueryParam(t *testing.T) {
	c := &Config{Kind: KindQueryParam, Token: "tok", QueryParam: "token"}
	req := newReq(t)
	require.NoError(t, c.ApplyToRequest(req, nil))
	assert.Equal(t, "tok", req.URL.Query().Get("token"))
}

func TestConfig_ApplyToRequest_QueryParamDefaultName(t *testing.T) {
	c := &Config{Kind: KindQueryParam, Token: "tok"}
	req := newReq(t)
	require.NoError(t, c.ApplyToRequest(req, nil))
	assert.Equal(t, "tok", req.URL.Query().Get("api_key"))
}

func TestConfig_ApplyToRequest_HeaderMap(t *testing.T) {
	c := &Config{Kind: KindHeader, Headers: map[string]string{"X-Org": "{{org}}", "X-Static": "v"}}
	req := newReq(t)
	require.NoError(t, c.ApplyToRequest(req, substitution.Params{"org": "acme"}))
	assert.Equal(t, "acme", req.Header.Get("X-Org"))
	assert.Equal(t, "v", req.Header.Get("X-Static"))
}

func TestConfig_ApplyToRequest_UnknownKindErrors(t *testing.T) {
	c := &Config{Kind: "bogus"}
	req := newReq(t)
	require.Error(t, c.ApplyToRequest(req, nil))
}

func TestConfig_ApplyToRequest_SubstitutionFailurePropagates(t *testing.T) {
	c := &Config{Kind: KindBearer, Token: "{{missing}}"}
	req := newReq(t)
	err := c.ApplyToRequest(req, substitution.Params{})
	require.Error(t, err)
}

func TestConfig_ApplyToEnv_Nil(t *testing.T) {
	var c *Config
	env, err := c.ApplyToEnv(map[string]string{"FOO": "bar"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"FOO": "bar"}, env)
}

func TestConfig_ApplyToEnv_BearerAllocatesMapWhenNil(t *testing.T) {
	c := &Config{Kind: KindBearer, Token: "tok"}
	env, err := c.ApplyToEnv(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", env["AUTHORIZATION"])
}

func TestConfig_ApplyToEnv_APIKeyCustomName(t *testing.T) {
	c := &Config{Kind: KindAPIKey, Token: "abc", HeaderName: "X-My-Key"}
	env, err := c.ApplyToEnv(map[string]string{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", env["X_MY_KEY"])
}

func TestConfig_ApplyToEnv_HeaderMapRendersEachEntry(t *testing.T) {
	c := &Config{Kind: KindHeader, Headers: map[string]string{"X-Org-Id": "{{org}}"}}
	env, err := c.ApplyToEnv(map[string]string{}, substitution.Params{"org": "acme"})
	require.NoError(t, err)
	assert.Equal(t, "acme", env["X_ORG_ID"])
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "X_API_KEY", envKey("X-Api-Key"))
	assert.Equal(t, "AUTHORIZATION", envKey("authorization"))
}
