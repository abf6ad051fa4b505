package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fixtureServer is a minimal http_sse remote: it accepts POSTed JSON-RPC
// requests and pushes a correlated response over its single SSE connection.
func newBridgeFixture(handle func(method string) json.RawMessage) *httptest.Server {
	flush := make(chan []byte, 16)
	mux := http.NewServeMux()
	mux.HandleFunc("/post", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     interface{} `json:"id"`
			Method string      `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		go func() {
			time.Sleep(5 * time.Millisecond)
			resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": handle(req.Method)}
			b, _ := json.Marshal(resp)
			flush <- b
		}()
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case b := <-flush:
				fmt.Fprintf(w, "data: %s\n\n", b)
				flusher.Flush()
			}
		}
	})
	return httptest.NewServer(mux)
}

func TestDialClient_HTTPSSETransportRoundTrips(t *testing.T) {
	srv := newBridgeFixture(func(method string) json.RawMessage {
		switch method {
		case "initialize":
			return json.RawMessage(`{"ok":true}`)
		case "tools/list":
			return json.RawMessage(`{"tools":[{"name":"remote_tool","description":"d"}]}`)
		default:
			return json.RawMessage(`{}`)
		}
	})
	defer srv.Close()

	cfg := ServerConfig{
		ID:        "bridged",
		Transport: TransportHTTPSSE,
		PostURL:   srv.URL + "/post",
		SSEURL:    srv.URL + "/sse",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cli, err := dialClient(ctx, cfg)
	require.NoError(t, err)
	defer cli.Close()

	_, ok := cli.(*bridgeClient)
	require.True(t, ok, "http_sse transport should dial a *bridgeClient")

	time.Sleep(50 * time.Millisecond) // let the SSE connection establish

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	raw, err := cli.Call(callCtx, "initialize", map[string]interface{}{})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestDialClient_StdioTransportIsDefault(t *testing.T) {
	cfg := ServerConfig{ID: "local", Command: "/bin/sh", Args: []string{"-c", "sleep 5"}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cli, err := dialClient(ctx, cfg)
	require.NoError(t, err)
	defer cli.Close()

	_, ok := cli.(*stdioClient)
	require.True(t, ok, "default transport should dial a *stdioClient")
}
