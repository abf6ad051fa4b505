// Package stdiofrontend implements the stdio transport frontend (spec
// §4.T): newline-delimited JSON-RPC on os.Stdin/os.Stdout, a single
// implicit session for the process lifetime.
package stdiofrontend

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/MagicBeansAI/magictunnel/internal/session"
	"github.com/MagicBeansAI/magictunnel/internal/transport"
)

// Frontend reads newline-delimited JSON-RPC requests from r and writes
// responses to w, one goroutine per request so a slow call doesn't block
// reading the next line (ordering of responses is not guaranteed, callers
// correlate by id per spec §5 "Per-session" ordering guarantee).
type Frontend struct {
	handler transport.Handler
	sess    *session.Session

	writeMu sync.Mutex
}

// New constructs a stdio frontend bound to a single session for the
// lifetime of the process.
func New(handler transport.Handler, sess *session.Session) *Frontend {
	return &Frontend{handler: handler, sess: sess}
}

// Run reads from r until EOF or ctx is cancelled, dispatching each line as
// one JSON-RPC request and writing its response (if any) to w.
func (f *Frontend) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var wg sync.WaitGroup
	defer wg.Wait()

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		payload := append([]byte(nil), line...)

		wg.Add(1)
		go func() {
			defer wg.Done()
			f.handleLine(ctx, w, payload)
		}()
	}
	return scanner.Err()
}

func (f *Frontend) handleLine(ctx context.Context, w io.Writer, line []byte) {
	var req transport.Request
	if err := json.Unmarshal(line, &req); err != nil {
		f.write(w, transport.ParseError())
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		f.write(w, transport.InvalidRequest(req.ID))
		return
	}

	resp := f.handler.Handle(ctx, f.sess.ID, req)
	if req.IsNotification() {
		return
	}
	f.write(w, resp)
}

func (f *Frontend) write(w io.Writer, resp transport.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_, _ = w.Write(data)
}
