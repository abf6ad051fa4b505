package external

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagicBeansAI/magictunnel/internal/authprop"
)

// printEnvServer echoes back the value of AUTHORIZATION from its own
// environment as the JSON-RPC result to the first request it reads, so the
// test can assert the auth credential actually reached the child process.
const printEnvServer = `
read -r l1
printf '{"jsonrpc":"2.0","id":1,"result":{"env":"%s"}}\n' "$AUTHORIZATION"
sleep 5
`

func TestStartStdioClient_PropagatesAuthToChildEnv(t *testing.T) {
	cfg := ServerConfig{
		Command: "/bin/sh",
		Args:    []string{"-c", printEnvServer},
		Auth:    &authprop.Config{Kind: authprop.KindBearer, Token: "supersecret"},
	}
	cli, err := startStdioClient(cfg)
	require.NoError(t, err)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := cli.Call(ctx, "ping", nil)
	require.NoError(t, err)
	assert.Contains(t, string(result), "Bearer supersecret")
}
