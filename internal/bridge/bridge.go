// Package bridge implements the HTTP<->SSE Bridge (spec §4.B): it adapts a
// remote MCP endpoint that speaks the deprecated two-channel transport
// (POST for requests, a separate SSE stream for responses/server-initiated
// requests) into a single synchronous call surface. Modeled on the
// teacher's client/sdk SSE reader (client/sdk/client.go's readSSE +
// StreamEvents reconnect-on-error shape), generalized from a read-only
// event stream into a bidirectional request/response correlation bridge.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MagicBeansAI/magictunnel/internal/log"
	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
)

// Message is a JSON-RPC 2.0 envelope as exchanged with the remote endpoint.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

func (m Message) idKey() string {
	if m.ID == nil {
		return ""
	}
	b, _ := json.Marshal(m.ID)
	return string(b)
}

// Config describes one remote endpoint's deprecated HTTP+SSE pair.
type Config struct {
	PostURL  string
	SSEURL   string
	Client   *http.Client
	QueueCap int // bounded FIFO depth for outgoing POSTs; default 64

	// HeartbeatTimeout is the max silence on the SSE stream before it is
	// considered dead and reconnected; default 60s.
	HeartbeatTimeout time.Duration
	// ReconnectBackoffBase seeds exponential backoff between reconnects.
	ReconnectBackoffBase time.Duration
	MaxReconnectBackoff  time.Duration
}

func (c Config) queueCap() int {
	if c.QueueCap <= 0 {
		return 64
	}
	return c.QueueCap
}

func (c Config) heartbeatTimeout() time.Duration {
	if c.HeartbeatTimeout <= 0 {
		return 60 * time.Second
	}
	return c.HeartbeatTimeout
}

func (c Config) reconnectBackoffBase() time.Duration {
	if c.ReconnectBackoffBase <= 0 {
		return 500 * time.Millisecond
	}
	return c.ReconnectBackoffBase
}

func (c Config) maxReconnectBackoff() time.Duration {
	if c.MaxReconnectBackoff <= 0 {
		return 30 * time.Second
	}
	return c.MaxReconnectBackoff
}

type queuedRequest struct {
	payload []byte
	done    chan error
}

// ReverseHandler processes a server-initiated request arriving over the SSE
// channel (e.g. elicitation/create) and returns the response to post back.
type ReverseHandler func(ctx context.Context, req Message) (Message, error)

// Bridge owns one remote endpoint's queue, correlation table, and SSE
// reader goroutine.
type Bridge struct {
	cfg     Config
	reverse ReverseHandler

	queue chan queuedRequest

	mu      sync.Mutex
	pending map[string]chan Message

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Bridge. Call Run to start its worker goroutines.
func New(cfg Config, reverse ReverseHandler) *Bridge {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &Bridge{
		cfg:     cfg,
		reverse: reverse,
		queue:   make(chan queuedRequest, cfg.queueCap()),
		pending: map[string]chan Message{},
		done:    make(chan struct{}),
	}
}

// Run starts the POST-draining worker and the SSE read loop; it blocks
// until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	defer close(b.done)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); b.drainQueue(ctx) }()
	go func() { defer wg.Done(); b.readLoopWithReconnect(ctx) }()
	wg.Wait()
}

// Stop cancels Run's context and waits for its goroutines to exit.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	<-b.done
}

// Call sends a request and blocks until its correlated response arrives on
// the SSE stream or ctx is cancelled. When the queue is full it fails at
// once with a transport-kind error.
func (b *Bridge) Call(ctx context.Context, req Message) (Message, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Message{}, err
	}
	key := req.idKey()
	if key == "" {
		return Message{}, mcperr.New(mcperr.KindProtocol, "bridge request missing id")
	}

	respCh := make(chan Message, 1)
	b.mu.Lock()
	b.pending[key] = respCh
	b.mu.Unlock()

	qr := queuedRequest{payload: payload, done: make(chan error, 1)}
	select {
	case b.queue <- qr:
	default:
		b.mu.Lock()
		delete(b.pending, key)
		b.mu.Unlock()
		return Message{}, mcperr.New(mcperr.KindTransport, "bridge queue full")
	}

	select {
	case err := <-qr.done:
		if err != nil {
			b.mu.Lock()
			delete(b.pending, key)
			b.mu.Unlock()
			return Message{}, err
		}
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, key)
		b.mu.Unlock()
		return Message{}, mcperr.Wrap(mcperr.KindTimeout, "bridge post cancelled", ctx.Err())
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, key)
		b.mu.Unlock()
		return Message{}, mcperr.Wrap(mcperr.KindTimeout, "bridge response timed out", ctx.Err())
	}
}

func (b *Bridge) drainQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case qr := <-b.queue:
			err := b.post(ctx, qr.payload)
			qr.done <- err
		}
	}
}

func (b *Bridge) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.PostURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.cfg.Client.Do(req)
	if err != nil {
		return mcperr.Wrap(mcperr.KindTransport, "bridge post failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return mcperr.New(mcperr.KindBackend, fmt.Sprintf("bridge post status %d: %s", resp.StatusCode, string(body)))
	}
	return nil
}

func (b *Bridge) readLoopWithReconnect(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := b.readOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		attempt++
		log.Emit(log.Warn, "bridge", "sse stream ended, reconnecting", map[string]interface{}{
			"url": b.cfg.SSEURL, "attempt": attempt, "error": errString(err),
		})
		backoff := backoffFor(b.cfg.reconnectBackoffBase(), b.cfg.maxReconnectBackoff(), attempt)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func backoffFor(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (b *Bridge) readOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.SSEURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := b.cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sse connect status %d", resp.StatusCode)
	}

	linesCh := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 4096), 1<<20)
		for sc.Scan() {
			linesCh <- sc.Text()
		}
		readErr <- sc.Err()
		close(linesCh)
	}()

	timeout := b.cfg.heartbeatTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var curData bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return mcperr.New(mcperr.KindTransport, "sse heartbeat timeout")
		case line, ok := <-linesCh:
			if !ok {
				return <-readErr
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)

			switch {
			case line == "":
				if curData.Len() > 0 {
					if err := b.handleEventData(ctx, curData.Bytes()); err != nil {
						return err
					}
					curData.Reset()
				}
			case bytes.HasPrefix([]byte(line), []byte("data:")):
				curData.WriteString(line[len("data:"):])
			default:
				// ignore event:/id:/comment lines; this bridge correlates by
				// JSON-RPC id inside the payload, not SSE event names.
			}
		}
	}
}

func (b *Bridge) handleEventData(ctx context.Context, data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Emit(log.Warn, "bridge", "malformed sse payload", map[string]interface{}{"error": err.Error()})
		return nil
	}

	if msg.Method != "" && b.reverse != nil {
		go b.handleReverseRequest(ctx, msg)
		return nil
	}

	key := msg.idKey()
	if key == "" {
		return nil
	}
	b.mu.Lock()
	ch, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	b.mu.Unlock()
	if !ok {
		log.Emit(log.Warn, "bridge", "response for unknown or duplicate id, resetting stream", map[string]interface{}{"id": key})
		return mcperr.New(mcperr.KindProtocol, "sse response for unknown or duplicate id "+key)
	}
	ch <- msg
	return nil
}

func (b *Bridge) handleReverseRequest(ctx context.Context, req Message) {
	resp, err := b.reverse(ctx, req)
	if err != nil {
		log.Emit(log.Error, "bridge", "reverse request handler failed", map[string]interface{}{"error": err.Error()})
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := b.post(ctx, payload); err != nil {
		log.Emit(log.Error, "bridge", "failed to post reverse response", map[string]interface{}{"error": err.Error()})
	}
}
