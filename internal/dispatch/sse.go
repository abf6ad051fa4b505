package dispatch

import (
	"bufio"
	"context"
	"net/http"
	"strings"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
	"github.com/MagicBeansAI/magictunnel/internal/routing"
	"github.com/MagicBeansAI/magictunnel/internal/substitution"
)

// SSEAgent opens a one-shot SSE subscription and collects events until an
// end-token, a max-event count, or the call deadline (spec §4.A Sse).
type SSEAgent struct {
	client *http.Client
}

func NewSSEAgent() *SSEAgent { return &SSEAgent{client: &http.Client{}} }

func (a *SSEAgent) Execute(ctx context.Context, d *routing.Descriptor, params substitution.Params) (Result, error) {
	cfg := d.SSE
	if cfg == nil {
		return Result{}, mcperr.New(mcperr.KindConfig, "sse routing missing sse config")
	}

	endpoint, err := substitution.Render(cfg.URL, params)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering sse url", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindConfig, "building sse request", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, raw := range cfg.Headers {
		v, err := substitution.Render(raw, params)
		if err != nil {
			return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering header "+k, err)
		}
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, mcperr.Wrap(mcperr.KindTimeout, "sse call timed out", ctx.Err())
		}
		return Result{}, mcperr.Wrap(mcperr.KindBackend, "sse request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Result{}, mcperr.New(mcperr.KindBackend, "sse endpoint returned error status").
			WithData(map[string]interface{}{"status": resp.StatusCode})
	}

	var events []string
	var curEvent, curData string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 1000
	}

	flush := func() bool {
		if curData == "" {
			return false
		}
		if cfg.EventName == "" || curEvent == cfg.EventName {
			events = append(events, curData)
		}
		done := cfg.EndToken != "" && strings.Contains(curData, cfg.EndToken)
		curEvent, curData = "", ""
		return done || len(events) >= maxEvents
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return Result{}, mcperr.Wrap(mcperr.KindTimeout, "sse call timed out", ctx.Err())
		}
		line := scanner.Text()
		switch {
		case line == "":
			if flush() {
				goto done
			}
		case strings.HasPrefix(line, "event:"):
			curEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if curData != "" {
				curData += "\n"
			}
			curData += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	flush()
done:
	if err := scanner.Err(); err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindTransport, "sse stream error", err)
	}

	out := make([]interface{}, len(events))
	for i, e := range events {
		out[i] = e
	}
	return Result{Success: true, Output: map[string]interface{}{"events": out}}, nil
}
