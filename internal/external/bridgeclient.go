package external

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/MagicBeansAI/magictunnel/internal/bridge"
	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
)

// bridgeClient adapts an internal/bridge.Bridge to rpcClient so the Manager
// can supervise an http_sse external server the same way it supervises a
// stdio child (spec §4.B serving as one of §4.X's external transports).
type bridgeClient struct {
	b      *bridge.Bridge
	nextID int64
	done   chan struct{}
}

func startBridgeClient(ctx context.Context, cfg ServerConfig) (*bridgeClient, error) {
	if cfg.PostURL == "" || cfg.SSEURL == "" {
		return nil, mcperr.New(mcperr.KindConfig, "http_sse transport requires postUrl and sseUrl")
	}
	b := bridge.New(bridge.Config{PostURL: cfg.PostURL, SSEURL: cfg.SSEURL}, nil)
	c := &bridgeClient{b: b, done: make(chan struct{})}
	go func() {
		b.Run(ctx)
		close(c.done)
	}()
	return c, nil
}

func (c *bridgeClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	id := atomic.AddInt64(&c.nextID, 1)
	resp, err := c.b.Call(ctx, bridge.Message{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
	if err != nil {
		return nil, err
	}
	if len(resp.Error) > 0 {
		var rpcErr rpcError
		if jerr := json.Unmarshal(resp.Error, &rpcErr); jerr == nil {
			return nil, mcperr.New(mcperr.KindBackend, fmt.Sprintf("external mcp error %d: %s", rpcErr.Code, rpcErr.Message))
		}
		return nil, mcperr.New(mcperr.KindBackend, string(resp.Error))
	}
	return resp.Result, nil
}

func (c *bridgeClient) Close() error {
	c.b.Stop()
	return nil
}

func (c *bridgeClient) Dead() <-chan struct{} { return c.done }
