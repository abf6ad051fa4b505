package dispatch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
	"github.com/MagicBeansAI/magictunnel/internal/routing"
	"github.com/MagicBeansAI/magictunnel/internal/substitution"
)

// HTTPAgent issues a rendered HTTP request per call (spec §4.A Http). It
// keeps one *http.Client per destination host so keep-alive connections
// are pooled rather than rebuilt on every call. Auth, when configured, is
// applied via internal/authprop (spec §D) after every templated header is
// set, so an auth block always wins over a colliding plain header.
type HTTPAgent struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewHTTPAgent() *HTTPAgent {
	return &HTTPAgent{clients: map[string]*http.Client{}}
}

func (a *HTTPAgent) clientFor(host string, followRedirects bool) *http.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[host]; ok {
		return c
	}
	c := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	if !followRedirects {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	a.clients[host] = c
	return c
}

func (a *HTTPAgent) Execute(ctx context.Context, d *routing.Descriptor, params substitution.Params) (Result, error) {
	cfg := d.HTTP
	if cfg == nil {
		return Result{}, mcperr.New(mcperr.KindConfig, "http routing missing http config")
	}

	method, err := substitution.Render(orDefault(cfg.Method, "GET"), params)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering method", err)
	}
	rawURL, err := substitution.Render(cfg.URL, params)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering url", err)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindConfig, "parsing rendered url", err)
	}

	var body string
	if cfg.Body != "" {
		body, err = substitution.Render(cfg.Body, params)
		if err != nil {
			return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering body", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewBufferString(body))
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindConfig, "building request", err)
	}
	for k, raw := range cfg.Headers {
		v, err := substitution.Render(raw, params)
		if err != nil {
			return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering header "+k, err)
		}
		req.Header.Set(k, v)
	}
	if err := cfg.Auth.ApplyToRequest(req, params); err != nil {
		return Result{}, err
	}

	client := a.clientFor(parsed.Host, cfg.FollowRedirects)
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, mcperr.Wrap(mcperr.KindTimeout, "http call timed out", ctx.Err())
		}
		return Result{}, mcperr.Wrap(mcperr.KindBackend, "http request failed", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindBackend, "reading response body", err)
	}

	if isRetryableStatus(resp.StatusCode, d.Retry.Effective().RetryableStatus) {
		e := mcperr.New(mcperr.KindBackend, "retryable http status "+strconv.Itoa(resp.StatusCode))
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			e.WithData(map[string]interface{}{"retryAfter": ra})
		}
		return Result{}, e
	}
	if resp.StatusCode >= 400 {
		return Result{}, mcperr.New(mcperr.KindBackend, "http status "+strconv.Itoa(resp.StatusCode)).
			WithData(map[string]interface{}{"status": resp.StatusCode, "body": string(respBody)})
	}

	return Result{
		Success: true,
		Output: map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(respBody),
		},
	}, nil
}

func isRetryableStatus(status int, retryable []int) bool {
	for _, s := range retryable {
		if s == status {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
