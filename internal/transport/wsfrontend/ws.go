// Package wsfrontend implements the WebSocket transport frontend (spec
// §4.T): one session per connection, JSON-RPC frames in text messages,
// keepalive via protocol pings. Grounded on the teacher's client-side
// gorilla/websocket usage in internal/dispatch/websocket.go, mirrored
// here from the server side.
package wsfrontend

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MagicBeansAI/magictunnel/internal/session"
	"github.com/MagicBeansAI/magictunnel/internal/transport"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Frontend upgrades inbound HTTP requests to WebSocket connections, each
// backed by its own internal/session.Session, and dispatches one JSON-RPC
// message per text frame.
type Frontend struct {
	handler  transport.Handler
	sessions *session.Manager
	upgrader websocket.Upgrader

	// MaxConcurrency bounds in-flight calls per connection (spec §4.T(b)).
	MaxConcurrency int
}

func New(handler transport.Handler, sessions *session.Manager) *Frontend {
	return &Frontend{
		handler:        handler,
		sessions:       sessions,
		upgrader:       websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		MaxConcurrency: 16,
	}
}

// ServeHTTP upgrades the connection and serves it until the client
// disconnects or the server shuts down.
func (f *Frontend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess, err := f.sessions.Open("websocket")
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		return
	}
	defer f.sessions.Close(sess.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var writeMu sync.Mutex
	write := func(v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	go f.pingLoop(ctx, conn, &writeMu)

	sem := make(chan struct{}, f.maxConcurrency())
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			cancel()
			return
		}

		var req transport.Request
		if err := json.Unmarshal(msg, &req); err != nil {
			_ = write(transport.ParseError())
			continue
		}
		if req.JSONRPC != "2.0" || req.Method == "" {
			_ = write(transport.InvalidRequest(req.ID))
			continue
		}

		sess.Touch()
		sem <- struct{}{}
		wg.Add(1)
		go func(req transport.Request) {
			defer wg.Done()
			defer func() { <-sem }()
			resp := f.handler.Handle(ctx, sess.ID, req)
			if req.IsNotification() {
				return
			}
			_ = write(resp)
		}(req)
	}
}

func (f *Frontend) maxConcurrency() int {
	if f.MaxConcurrency <= 0 {
		return 16
	}
	return f.MaxConcurrency
}

func (f *Frontend) pingLoop(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
