package external

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/MagicBeansAI/magictunnel/internal/log"
	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
)

// rpcRequest and rpcResponse model the JSON-RPC 2.0 envelope exchanged with
// an external MCP server over stdio, one object per line (spec §4.X).
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// rpcClient is the narrow interface the Manager drives a connection
// through, satisfied by both the stdio child process transport and the
// http_sse bridge transport.
type rpcClient interface {
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	Close() error
	Dead() <-chan struct{}
}

// dialClient picks the transport named by cfg and starts it. ctx is the
// connection's supervise-lifetime context: for the http_sse transport it
// bounds the underlying Bridge's own reconnect loop, so a bridge endpoint
// self-heals without going through the Manager's restart/backoff path.
func dialClient(ctx context.Context, cfg ServerConfig) (rpcClient, error) {
	switch cfg.effectiveTransport() {
	case TransportHTTPSSE:
		return startBridgeClient(ctx, cfg)
	default:
		return startStdioClient(cfg)
	}
}

// stdioClient owns one external MCP server child process and speaks
// newline-delimited JSON-RPC over its stdin/stdout. One request is in
// flight per connection at a time is not assumed: Call is safe for
// concurrent use and multiplexes by request id.
type stdioClient struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	nextID  int64
	mu      sync.Mutex
	pending map[int64]chan rpcResponse

	closeOnce sync.Once
	closed    chan struct{}
}

func startStdioClient(cfg ServerConfig) (*stdioClient, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	env, err := cfg.Auth.ApplyToEnv(cfg.Env, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &stdioClient{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  bufio.NewReader(stdout),
		pending: map[int64]chan rpcResponse{},
		closed:  make(chan struct{}),
	}
	go c.drainStderr(stderr, cfg.ID)
	go c.readLoop(cfg.ID)
	return c, nil
}

func (c *stdioClient) drainStderr(r io.Reader, serverID string) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		log.Emit(log.Warn, "external", "server stderr", map[string]interface{}{"server": serverID, "line": sc.Text()})
	}
}

func (c *stdioClient) readLoop(serverID string) {
	defer close(c.closed)
	for {
		line, err := c.stdout.ReadBytes('\n')
		if len(line) > 0 {
			var resp rpcResponse
			if jerr := json.Unmarshal(line, &resp); jerr == nil {
				c.mu.Lock()
				ch, ok := c.pending[resp.ID]
				if ok {
					delete(c.pending, resp.ID)
				}
				c.mu.Unlock()
				if ok {
					ch <- resp
				}
			} else {
				log.Emit(log.Warn, "external", "malformed response line", map[string]interface{}{"server": serverID, "error": jerr.Error()})
			}
		}
		if err != nil {
			c.failAllPending(err)
			return
		}
	}
}

func (c *stdioClient) failAllPending(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcResponse{ID: id, Error: &rpcError{Code: -32000, Message: cause.Error()}}
		delete(c.pending, id)
	}
}

// Call sends method/params and blocks for the matching response, honoring
// ctx cancellation and process exit.
func (c *stdioClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	payload = append(payload, '\n')

	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if _, err := c.stdin.Write(payload); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, mcperr.Wrap(mcperr.KindTransport, "write to external mcp server failed", err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, mcperr.Wrap(mcperr.KindTimeout, "external mcp call timed out", ctx.Err())
	case <-c.closed:
		return nil, mcperr.New(mcperr.KindTransport, "external mcp server connection closed")
	case resp := <-ch:
		if resp.Error != nil {
			return nil, mcperr.New(mcperr.KindBackend, fmt.Sprintf("external mcp error %d: %s", resp.Error.Code, resp.Error.Message))
		}
		return resp.Result, nil
	}
}

func (c *stdioClient) Close() error {
	c.closeOnce.Do(func() {
		_ = c.stdin.Close()
		_ = c.cmd.Process.Kill()
	})
	return nil
}

func (c *stdioClient) Dead() <-chan struct{} { return c.closed }
