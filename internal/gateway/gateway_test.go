package gateway

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagicBeansAI/magictunnel/internal/discovery"
	"github.com/MagicBeansAI/magictunnel/internal/dispatch"
	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
	"github.com/MagicBeansAI/magictunnel/internal/registry"
	"github.com/MagicBeansAI/magictunnel/internal/routing"
	"github.com/MagicBeansAI/magictunnel/internal/session"
	"github.com/MagicBeansAI/magictunnel/internal/substitution"
	"github.com/MagicBeansAI/magictunnel/internal/transport"
)

const fixtureCatalog = `
tools:
  - name: echo
    description: echoes its input
    inputSchema:
      type: object
    routing:
      type: subprocess
      subprocess:
        command: /bin/echo
`

type echoAgent struct{ calls int }

func (a *echoAgent) Execute(ctx context.Context, d *routing.Descriptor, params substitution.Params) (dispatch.Result, error) {
	a.calls++
	return dispatch.Result{Success: true, Output: map[string]interface{}{"echoed": map[string]interface{}(params)}}, nil
}

func newTestGateway(t *testing.T) (*Gateway, *session.Manager) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tools.yaml"), []byte(fixtureCatalog), 0o644))

	loader := registry.NewLoader([]string{filepath.Join(dir, "*.yaml")}, 2)
	catalog := registry.New(loader, registry.VisibilitySettings{}, 0)
	_, err := catalog.Reload(context.Background())
	require.NoError(t, err)

	disp := dispatch.New()
	disp.Register(routing.KindSubprocess, &echoAgent{})

	sessions := session.NewManager(session.Config{})

	gw := New(sessions, catalog, disp, nil, Config{})
	return gw, sessions
}

func rawID(n int) json.RawMessage { b, _ := json.Marshal(n); return b }

// fakeMapper implements discovery.ParameterMapper by returning a fixed
// argument map, so discovery tests don't need a real LLM.
type fakeMapper struct {
	args map[string]interface{}
	err  error
}

func (m *fakeMapper) MapParameters(ctx context.Context, naturalLanguageRequest string, tool discovery.ToolCandidate, schema json.RawMessage) (map[string]interface{}, error) {
	return m.args, m.err
}

func TestGateway_SmartToolDiscoveryMatchesAndExecutes(t *testing.T) {
	gw, sessions := newTestGateway(t)
	gw.WithDiscovery(discovery.NewEngine(nil, nil, discovery.Config{}), &fakeMapper{args: map[string]interface{}{}})
	sess, err := sessions.Open("stdio")
	require.NoError(t, err)
	require.NoError(t, sess.Initialize("2025-06-18", session.ClientInfo{}, map[string]bool{"tools": true}, map[string]bool{"tools": true}))

	callParams, _ := json.Marshal(map[string]interface{}{"name": discoveryToolName, "arguments": map[string]interface{}{"request_text": "echo"}})
	resp := gw.Handle(context.Background(), sess.ID, transport.Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/call", Params: callParams})
	require.Nil(t, resp.Error)

	var body struct {
		Content []struct {
			JSON struct {
				Match bool   `json:"match"`
				Tool  string `json:"tool"`
			} `json:"json"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &body))
	require.False(t, body.IsError)
	require.Len(t, body.Content, 1)
	assert.True(t, body.Content[0].JSON.Match)
	assert.Equal(t, "echo", body.Content[0].JSON.Tool)
}

func TestGateway_SmartToolDiscoveryNoMatchBelowThreshold(t *testing.T) {
	gw, sessions := newTestGateway(t)
	gw.WithDiscovery(discovery.NewEngine(nil, nil, discovery.Config{}), &fakeMapper{args: map[string]interface{}{}})
	sess, err := sessions.Open("stdio")
	require.NoError(t, err)
	require.NoError(t, sess.Initialize("2025-06-18", session.ClientInfo{}, map[string]bool{"tools": true}, map[string]bool{"tools": true}))

	callParams, _ := json.Marshal(map[string]interface{}{"name": discoveryToolName, "arguments": map[string]interface{}{"request_text": "completely unrelated gibberish query"}})
	resp := gw.Handle(context.Background(), sess.ID, transport.Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/call", Params: callParams})
	require.Nil(t, resp.Error)

	var body struct {
		Content []struct {
			JSON struct {
				Match bool `json:"match"`
			} `json:"json"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &body))
	assert.True(t, body.IsError)
	require.Len(t, body.Content, 1)
	assert.False(t, body.Content[0].JSON.Match)
}

func TestGateway_SmartToolDiscoveryRequiresRequestText(t *testing.T) {
	gw, sessions := newTestGateway(t)
	gw.WithDiscovery(discovery.NewEngine(nil, nil, discovery.Config{}), &fakeMapper{})
	sess, err := sessions.Open("stdio")
	require.NoError(t, err)
	require.NoError(t, sess.Initialize("2025-06-18", session.ClientInfo{}, map[string]bool{"tools": true}, map[string]bool{"tools": true}))

	callParams, _ := json.Marshal(map[string]interface{}{"name": discoveryToolName, "arguments": map[string]interface{}{}})
	resp := gw.Handle(context.Background(), sess.ID, transport.Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/call", Params: callParams})
	require.NotNil(t, resp.Error)
}

func TestGateway_SmartToolDiscoveryOnlyVisibleHidesOtherTools(t *testing.T) {
	gw, sessions := newTestGateway(t)
	gw.cfg.SmartDiscoveryOnlyVisible = true
	gw.WithDiscovery(discovery.NewEngine(nil, nil, discovery.Config{}), &fakeMapper{})
	sess, err := sessions.Open("stdio")
	require.NoError(t, err)
	require.NoError(t, sess.Initialize("2025-06-18", session.ClientInfo{}, map[string]bool{"tools": true}, map[string]bool{"tools": true}))

	listResp := gw.Handle(context.Background(), sess.ID, transport.Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/list"})
	require.Nil(t, listResp.Error)
	var listed struct {
		Tools []map[string]interface{} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(listResp.Result, &listed))
	require.Len(t, listed.Tools, 1)
	assert.Equal(t, discoveryToolName, listed.Tools[0]["name"])

	// The echo tool is still dispatchable even though it's unlisted.
	callParams, _ := json.Marshal(map[string]interface{}{"name": "echo", "arguments": map[string]interface{}{}})
	callResp := gw.Handle(context.Background(), sess.ID, transport.Request{JSONRPC: "2.0", ID: rawID(2), Method: "tools/call", Params: callParams})
	require.Nil(t, callResp.Error)
}

func TestGateway_InitializeComputesCapabilityIntersection(t *testing.T) {
	gw, sessions := newTestGateway(t)
	sess, err := sessions.Open("stdio")
	require.NoError(t, err)

	params, _ := json.Marshal(map[string]interface{}{
		"protocolVersion": "2025-06-18",
		"clientInfo":      map[string]string{"name": "test-client"},
		"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}, "sampling": map[string]interface{}{}},
	})
	resp := gw.Handle(context.Background(), sess.ID, transport.Request{JSONRPC: "2.0", ID: rawID(1), Method: "initialize", Params: params})
	require.Nil(t, resp.Error)
	assert.Equal(t, session.StateInitialized, sess.State())
	assert.True(t, sess.HasCapability("tools"))
	assert.False(t, sess.HasCapability("sampling"), "sampling isn't a gateway capability so it should drop out of the intersection")
}

func TestGateway_ToolsCallRejectedBeforeInitialize(t *testing.T) {
	gw, sessions := newTestGateway(t)
	sess, err := sessions.Open("stdio")
	require.NoError(t, err)

	params, _ := json.Marshal(map[string]interface{}{"name": "echo", "arguments": map[string]interface{}{}})
	resp := gw.Handle(context.Background(), sess.ID, transport.Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/call", Params: params})
	require.NotNil(t, resp.Error)
}

func TestGateway_ToolsListThenCallRoundTrip(t *testing.T) {
	gw, sessions := newTestGateway(t)
	sess, err := sessions.Open("stdio")
	require.NoError(t, err)
	require.NoError(t, sess.Initialize("2025-06-18", session.ClientInfo{}, map[string]bool{"tools": true}, map[string]bool{"tools": true}))

	listResp := gw.Handle(context.Background(), sess.ID, transport.Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/list"})
	require.Nil(t, listResp.Error)
	var listed struct {
		Tools []map[string]interface{} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(listResp.Result, &listed))
	require.Len(t, listed.Tools, 1)
	assert.Equal(t, "echo", listed.Tools[0]["name"])

	callParams, _ := json.Marshal(map[string]interface{}{"name": "echo", "arguments": map[string]interface{}{"x": "y"}})
	callResp := gw.Handle(context.Background(), sess.ID, transport.Request{JSONRPC: "2.0", ID: rawID(2), Method: "tools/call", Params: callParams})
	require.Nil(t, callResp.Error)
}

func TestGateway_ToolsCallRejectsDuplicateRequestID(t *testing.T) {
	gw, sessions := newTestGateway(t)
	sess, err := sessions.Open("stdio")
	require.NoError(t, err)
	require.NoError(t, sess.Initialize("2025-06-18", session.ClientInfo{}, map[string]bool{"tools": true}, map[string]bool{"tools": true}))

	callParams, _ := json.Marshal(map[string]interface{}{"name": "echo", "arguments": map[string]interface{}{}})
	req := transport.Request{JSONRPC: "2.0", ID: rawID(9), Method: "tools/call", Params: callParams}

	first := gw.Handle(context.Background(), sess.ID, req)
	require.Nil(t, first.Error)

	second := gw.Handle(context.Background(), sess.ID, req)
	require.NotNil(t, second.Error)
	assert.Equal(t, mcperr.Code(mcperr.KindConflict), second.Error.Code)
}

func TestGateway_UnknownToolReturnsNotFound(t *testing.T) {
	gw, sessions := newTestGateway(t)
	sess, err := sessions.Open("stdio")
	require.NoError(t, err)
	require.NoError(t, sess.Initialize("2025-06-18", session.ClientInfo{}, map[string]bool{"tools": true}, map[string]bool{"tools": true}))

	callParams, _ := json.Marshal(map[string]interface{}{"name": "does-not-exist", "arguments": map[string]interface{}{}})
	resp := gw.Handle(context.Background(), sess.ID, transport.Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/call", Params: callParams})
	require.NotNil(t, resp.Error)
}

func TestGateway_ShutdownDrainsAndRejectsNewCalls(t *testing.T) {
	gw, sessions := newTestGateway(t)
	sess, err := sessions.Open("stdio")
	require.NoError(t, err)
	require.NoError(t, sess.Initialize("2025-06-18", session.ClientInfo{}, map[string]bool{"tools": true}, map[string]bool{"tools": true}))

	require.NoError(t, gw.Shutdown(context.Background()))
	assert.True(t, gw.Draining())

	callParams, _ := json.Marshal(map[string]interface{}{"name": "echo", "arguments": map[string]interface{}{}})
	resp := gw.Handle(context.Background(), sess.ID, transport.Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/call", Params: callParams})
	require.NotNil(t, resp.Error)
}
