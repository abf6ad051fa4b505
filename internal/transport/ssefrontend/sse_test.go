package ssefrontend

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagicBeansAI/magictunnel/internal/session"
	"github.com/MagicBeansAI/magictunnel/internal/transport"
)

func echoHandler() transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, sessionID string, req transport.Request) transport.Response {
		result, _ := json.Marshal(map[string]string{"sawMethod": req.Method})
		return transport.Response{JSONRPC: "2.0", ID: req.ID, Result: result}
	})
}

func TestFrontend_MessagesPublishToSSEStream(t *testing.T) {
	mgr := session.NewManager(session.Config{})
	f := New(echoHandler(), mgr)

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/sse", f.HandleSSE)
	mux.HandleFunc("/mcp/sse/messages", f.HandleMessages)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/mcp/sse", nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "true", resp.Header.Get(headerDeprecated))
	assert.Equal(t, "sse", resp.Header.Get(headerTransport))

	reader := bufio.NewReader(resp.Body)
	var sessionID string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: /mcp/sse/messages?session_id=") {
			sessionID = strings.TrimSpace(strings.TrimPrefix(line, "data: /mcp/sse/messages?session_id="))
			break
		}
	}
	require.NotEmpty(t, sessionID)

	postResp, err := http.Post(
		srv.URL+"/mcp/sse/messages?"+sessionQueryParam+"="+sessionID,
		"application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`),
	)
	require.NoError(t, err)
	defer postResp.Body.Close()
	assert.Equal(t, http.StatusAccepted, postResp.StatusCode)

	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			var resp transport.Response
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &resp))
			assert.JSONEq(t, `{"sawMethod":"ping"}`, string(resp.Result))
			return
		}
	}
}

func TestFrontend_MessagesRejectsUnknownSession(t *testing.T) {
	mgr := session.NewManager(session.Config{})
	f := New(echoHandler(), mgr)

	srv := httptest.NewServer(http.HandlerFunc(f.HandleMessages))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"?"+sessionQueryParam+"=does-not-exist", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
