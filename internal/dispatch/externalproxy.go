package dispatch

import (
	"context"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
	"github.com/MagicBeansAI/magictunnel/internal/routing"
	"github.com/MagicBeansAI/magictunnel/internal/substitution"
)

// Forwarder is the narrow view of internal/external.Manager the dispatcher
// needs; kept as a local interface (rather than importing the concrete
// type) so internal/dispatch has no compile-time dependency on
// internal/external's internals.
type Forwarder interface {
	CallTool(ctx context.Context, serverID, toolName string, args map[string]interface{}) (map[string]interface{}, error)
}

// ExternalMCPProxyAgent forwards a call to the External-MCP Manager with a
// translated tool name (spec §4.A ExternalMcpProxy).
type ExternalMCPProxyAgent struct {
	forwarder Forwarder
}

func NewExternalMCPProxyAgent(f Forwarder) *ExternalMCPProxyAgent {
	return &ExternalMCPProxyAgent{forwarder: f}
}

func (a *ExternalMCPProxyAgent) Execute(ctx context.Context, d *routing.Descriptor, params substitution.Params) (Result, error) {
	cfg := d.ExternalMCP
	if cfg == nil {
		return Result{}, mcperr.New(mcperr.KindConfig, "external_mcp_proxy routing missing config")
	}
	if a.forwarder == nil {
		return Result{}, mcperr.New(mcperr.KindConfig, "no external MCP forwarder configured")
	}

	rawArgs := map[string]interface{}(params)
	out, err := a.forwarder.CallTool(ctx, cfg.ServerID, cfg.ToolName, rawArgs)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, mcperr.Wrap(mcperr.KindTimeout, "external mcp call timed out", ctx.Err())
		}
		return Result{}, mcperr.Wrap(mcperr.KindBackend, "external mcp call failed", err).
			WithData(map[string]interface{}{"proxied_from": cfg.ServerID})
	}

	return Result{Success: true, Output: out}, nil
}
