package dispatch

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
	"github.com/MagicBeansAI/magictunnel/internal/routing"
	"github.com/MagicBeansAI/magictunnel/internal/substitution"
)

// WebsocketAgent connects, sends one rendered frame, and waits for one or
// more replies up to the call deadline (spec §4.A Websocket), using
// gorilla/websocket exactly as the teacher's agently/ws.go client does.
type WebsocketAgent struct {
	dialer *websocket.Dialer
}

func NewWebsocketAgent() *WebsocketAgent {
	return &WebsocketAgent{dialer: websocket.DefaultDialer}
}

func (a *WebsocketAgent) Execute(ctx context.Context, d *routing.Descriptor, params substitution.Params) (Result, error) {
	cfg := d.Websocket
	if cfg == nil {
		return Result{}, mcperr.New(mcperr.KindConfig, "websocket routing missing websocket config")
	}

	endpoint, err := substitution.Render(cfg.URL, params)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering ws url", err)
	}
	frame, err := substitution.Render(cfg.Frame, params)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering ws frame", err)
	}

	header := http.Header{}
	for k, raw := range cfg.Headers {
		v, err := substitution.Render(raw, params)
		if err != nil {
			return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering header "+k, err)
		}
		header.Set(k, v)
	}

	conn, resp, err := a.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return Result{}, mcperr.Wrap(mcperr.KindBackend, "websocket dial failed", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindTransport, "websocket write failed", err)
	}

	replyCount := cfg.ReplyCount
	if replyCount <= 0 {
		replyCount = 1
	}

	done := make(chan struct{})
	type readResult struct {
		msg []byte
		err error
	}
	results := make(chan readResult, replyCount)
	go func() {
		defer close(done)
		for i := 0; i < replyCount; i++ {
			_, msg, err := conn.ReadMessage()
			results <- readResult{msg: msg, err: err}
			if err != nil {
				return
			}
		}
	}()

	var replies []interface{}
	for i := 0; i < replyCount; i++ {
		select {
		case <-ctx.Done():
			return Result{}, mcperr.Wrap(mcperr.KindTimeout, "websocket call timed out", ctx.Err())
		case r := <-results:
			if r.err != nil {
				return Result{}, mcperr.Wrap(mcperr.KindTransport, "websocket read failed", r.err)
			}
			replies = append(replies, string(r.msg))
		}
	}

	return Result{Success: true, Output: map[string]interface{}{"replies": replies}}, nil
}
