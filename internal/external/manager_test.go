package external

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureServer is a minimal fake external MCP server: it answers exactly
// three requests (initialize, tools/list, tools/call) with canned
// responses keyed to the request ids the Manager is known to send (1, 2,
// 3), then idles so the child stays alive until the test kills it.
const fixtureServer = `
read -r l1
printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{}}'
read -r l2
printf '%s\n' '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"echo","description":"d","inputSchema":{}}]}}'
read -r l3
printf '%s\n' '{"jsonrpc":"2.0","id":3,"result":{"content":[{"type":"text","text":"hi"}]}}'
sleep 5
`

func TestManager_ConnectMergeAndCallTool(t *testing.T) {
	m := NewManager(func() map[string]bool { return nil })
	cfg := ServerConfig{ID: "srv1", Command: "/bin/sh", Args: []string{"-c", fixtureServer}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, []ServerConfig{cfg})
	defer m.Stop()

	require.Eventually(t, func() bool {
		return len(m.ExposedTools()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	tools := m.ExposedTools()
	assert.Equal(t, "srv1", tools["echo"])

	out, err := m.CallTool(context.Background(), "srv1", "echo", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.NotNil(t, out["content"])
}

func TestManager_CallToolUnknownServer(t *testing.T) {
	m := NewManager(func() map[string]bool { return nil })
	_, err := m.CallTool(context.Background(), "nope", "echo", nil)
	require.Error(t, err)
}

func TestManager_MergeToolsDropsLocalCollision(t *testing.T) {
	m := NewManager(func() map[string]bool { return map[string]bool{"echo": true} })
	c := &connection{cfg: ServerConfig{ID: "srv1"}, state: StateReady, exposedNames: map[string]string{}}
	m.conns["srv1"] = c

	m.mergeTools(c, []ToolInfo{{Name: "echo"}, {Name: "unique"}})

	exposed := m.ExposedTools()
	_, hasEcho := exposed["echo"]
	assert.False(t, hasEcho)
	assert.Equal(t, "srv1", exposed["unique"])

	catalog := m.Catalog()
	require.Len(t, catalog, 1)
	assert.Equal(t, "unique", catalog[0].ExposedName)
	assert.Equal(t, "srv1", catalog[0].ServerID)
}
