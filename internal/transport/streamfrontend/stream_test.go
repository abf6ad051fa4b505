package streamfrontend

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

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

func TestFrontend_PostSingleJSON(t *testing.T) {
	mgr := session.NewManager(session.Config{})
	f := New(echoHandler(), mgr)
	srv := httptest.NewServer(f)
	defer srv.Close()

	resp, err := http.Post(srv.URL, contentTypeJSON, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "streamable-http", resp.Header.Get(headerTransport))

	var out transport.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.JSONEq(t, `{"sawMethod":"ping"}`, string(out.Result))
}

func TestFrontend_PostNDJSONMultipleLines(t *testing.T) {
	mgr := session.NewManager(session.Config{})
	f := New(echoHandler(), mgr)
	srv := httptest.NewServer(f)
	defer srv.Close()

	body := `{"jsonrpc":"2.0","id":1,"method":"a"}` + "\n" + `{"jsonrpc":"2.0","id":2,"method":"b"}` + "\n"
	resp, err := http.Post(srv.URL, contentTypeNDJSON, strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	count := 0
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		var out transport.Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &out))
		assert.Nil(t, out.Error)
		count++
	}
	assert.Equal(t, 2, count)
}

func TestFrontend_GetOpensAndClosesSession(t *testing.T) {
	mgr := session.NewManager(session.Config{})
	f := New(echoHandler(), mgr)
	srv := httptest.NewServer(f)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, mgr.Count())
}
