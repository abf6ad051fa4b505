// Package ssefrontend implements the deprecated-but-supported HTTP+SSE
// transport frontend (spec §4.T): GET /mcp/sse opens the event stream,
// POST /mcp/sse/messages accepts requests, correlated to the stream by
// session id. Response headers mark the transport deprecated and
// advertise the newer streamable-http transport (spec §6).
package ssefrontend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/MagicBeansAI/magictunnel/internal/session"
	"github.com/MagicBeansAI/magictunnel/internal/transport"
)

const (
	headerTransport  = "X-MCP-Transport"
	headerVersion    = "X-MCP-Version"
	headerDeprecated = "X-MCP-Deprecated"
	headerUpgradeTo  = "X-MCP-Upgrade-To"

	sessionQueryParam = "session_id"
)

func setDeprecationHeaders(h http.Header) {
	h.Set(headerTransport, "sse")
	h.Set(headerVersion, "2024-11-05")
	h.Set(headerDeprecated, "true")
	h.Set(headerUpgradeTo, "streamable-http")
}

type stream struct {
	mu     sync.Mutex
	events chan []byte
	done   chan struct{}
}

// Frontend implements the two SSE endpoints over a shared stream table
// keyed by session id, mirroring the correlation-table pattern of
// internal/bridge but in the inverse role (this gateway is the server).
type Frontend struct {
	handler  transport.Handler
	sessions *session.Manager

	mu      sync.Mutex
	streams map[string]*stream
}

func New(handler transport.Handler, sessions *session.Manager) *Frontend {
	return &Frontend{handler: handler, sessions: sessions, streams: map[string]*stream{}}
}

// HandleSSE serves GET /mcp/sse: opens a session and streams its queued
// responses as SSE `data:` events until the client disconnects.
func (f *Frontend) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess, err := f.sessions.Open("sse")
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer f.sessions.Close(sess.ID)

	st := &stream{events: make(chan []byte, 64), done: make(chan struct{})}
	f.mu.Lock()
	f.streams[sess.ID] = st
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.streams, sess.ID)
		f.mu.Unlock()
		close(st.done)
	}()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	setDeprecationHeaders(h)
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: endpoint\ndata: /mcp/sse/messages?%s=%s\n\n", sessionQueryParam, sess.ID)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-st.events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		}
	}
}

// HandleMessages serves POST /mcp/sse/messages: accepts one JSON-RPC
// request, dispatches it, and publishes the response on the matching
// session's SSE stream rather than in the POST response body.
func (f *Frontend) HandleMessages(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	setDeprecationHeaders(h)

	sessionID := r.URL.Query().Get(sessionQueryParam)
	f.mu.Lock()
	st := f.streams[sessionID]
	f.mu.Unlock()
	if st == nil {
		http.Error(w, "unknown or closed session", http.StatusNotFound)
		return
	}

	var req transport.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		publish(st, transport.ParseError())
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		publish(st, transport.InvalidRequest(req.ID))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	go f.dispatch(context.WithoutCancel(r.Context()), sessionID, st, req)
	w.WriteHeader(http.StatusAccepted)
}

func (f *Frontend) dispatch(ctx context.Context, sessionID string, st *stream, req transport.Request) {
	if sess := f.sessions.Get(sessionID); sess != nil {
		sess.Touch()
	}
	resp := f.handler.Handle(ctx, sessionID, req)
	if req.IsNotification() {
		return
	}
	publish(st, resp)
}

func publish(st *stream, resp transport.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	select {
	case st.events <- data:
	case <-st.done:
	}
}
