// Package streamfrontend implements the streamable HTTP transport
// frontend (spec §4.T): POST /mcp/streamable and GET /mcp/streamable,
// NDJSON (each line one JSON-RPC message) or a single JSON object,
// responses streamed back on the same HTTP response body.
package streamfrontend

import (
	"bufio"
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"sync"

	"github.com/MagicBeansAI/magictunnel/internal/session"
	"github.com/MagicBeansAI/magictunnel/internal/transport"
)

const (
	headerTransport = "X-MCP-Transport"
	headerVersion   = "X-MCP-Version"

	contentTypeNDJSON = "application/x-ndjson"
	contentTypeJSON   = "application/json"
)

func setHeaders(h http.Header) {
	h.Set(headerTransport, "streamable-http")
	h.Set(headerVersion, "2025-06-18")
}

// Frontend serves both verbs of the streamable-http transport over one
// session per request (GET opens a long-lived session stream with no
// body; POST carries one or more JSON-RPC requests and streams their
// responses back before closing).
type Frontend struct {
	handler  transport.Handler
	sessions *session.Manager
}

func New(handler transport.Handler, sessions *session.Manager) *Frontend {
	return &Frontend{handler: handler, sessions: sessions}
}

// ServeHTTP dispatches to the NDJSON/POST path or the GET keepalive path
// based on method.
func (f *Frontend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setHeaders(w.Header())
	switch r.Method {
	case http.MethodPost:
		f.handlePost(w, r)
	case http.MethodGet:
		f.handleGet(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (f *Frontend) handlePost(w http.ResponseWriter, r *http.Request) {
	sess, err := f.sessions.Open("streamable-http")
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer f.sessions.Close(sess.ID)

	ctx := r.Context()
	flusher, _ := w.(http.Flusher)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var writeMu sync.Mutex
	write := func(resp transport.Response) {
		data, err := json.Marshal(resp)
		if err != nil {
			return
		}
		data = append(data, '\n')
		writeMu.Lock()
		defer writeMu.Unlock()
		_, _ = w.Write(data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	w.WriteHeader(http.StatusOK)

	if mediaType == contentTypeJSON {
		var req transport.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			write(transport.ParseError())
			return
		}
		f.dispatchOne(ctx, sess, req, write)
		return
	}

	// Default to NDJSON framing for anything else, including the
	// explicit application/x-ndjson content type.
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var wg sync.WaitGroup
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req transport.Request
		if err := json.Unmarshal(line, &req); err != nil {
			write(transport.ParseError())
			continue
		}
		if req.JSONRPC != "2.0" || req.Method == "" {
			write(transport.InvalidRequest(req.ID))
			continue
		}
		sess.Touch()
		wg.Add(1)
		go func(req transport.Request) {
			defer wg.Done()
			f.dispatchOne(ctx, sess, req, write)
		}(req)
	}
	wg.Wait()
}

func (f *Frontend) dispatchOne(ctx context.Context, sess *session.Session, req transport.Request, write func(transport.Response)) {
	resp := f.handler.Handle(ctx, sess.ID, req)
	if req.IsNotification() {
		return
	}
	write(resp)
}

// handleGet opens a session with no associated body traffic; streamable
// HTTP's GET verb exists for clients that want a keepalive/capabilities
// probe without submitting a request (kept intentionally minimal: the
// spec assigns request traffic to POST only).
func (f *Frontend) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := f.sessions.Open("streamable-http")
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	f.sessions.Close(sess.ID)
	w.WriteHeader(http.StatusOK)
}
