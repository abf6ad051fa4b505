// Package gateway wires the Session Manager, transport frontends, the
// Catalog, the Agent Dispatcher, and the External-MCP Manager into one
// MCP server (spec §4.G): it is thin by design, translating JSON-RPC
// methods onto the other subsystems' calls and mapping their errors onto
// MCP error objects (spec §7). No business logic lives here.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MagicBeansAI/magictunnel/internal/dispatch"
	"github.com/MagicBeansAI/magictunnel/internal/discovery"
	"github.com/MagicBeansAI/magictunnel/internal/external"
	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
	"github.com/MagicBeansAI/magictunnel/internal/registry"
	"github.com/MagicBeansAI/magictunnel/internal/session"
	"github.com/MagicBeansAI/magictunnel/internal/substitution"
	"github.com/MagicBeansAI/magictunnel/internal/transport"
)

// discoveryToolName is the synthetic tool name smart discovery is
// published under (spec §4.D).
const discoveryToolName = "smart_tool_discovery"

// Capabilities the gateway itself implements; intersected against each
// client's declared capabilities at initialize (spec §4.M).
var defaultGatewayCapabilities = map[string]bool{
	"tools":     true,
	"resources": true,
	"logging":   true,
}

// Config tunes Gateway-level defaults not owned by another subsystem.
type Config struct {
	ProtocolVersion  string
	ListPageSize     int
	ShutdownGrace    time.Duration
	GatewayCapabilities map[string]bool

	// DiscoveryThreshold is the minimum combined hybrid score (spec §4.D)
	// a ranked candidate must clear to be selected rather than NoMatch.
	DiscoveryThreshold float64
	// SmartDiscoveryOnlyVisible, when true, makes smart_tool_discovery the
	// only tool advertised in tools/list (spec §4.R Visibility rules);
	// every other tool stays dispatchable, just unlisted.
	SmartDiscoveryOnlyVisible bool
}

func (c Config) protocolVersion() string {
	if c.ProtocolVersion == "" {
		return "2025-06-18"
	}
	return c.ProtocolVersion
}

func (c Config) listPageSize() int {
	if c.ListPageSize <= 0 {
		return 50
	}
	return c.ListPageSize
}

func (c Config) shutdownGrace() time.Duration {
	if c.ShutdownGrace <= 0 {
		return 10 * time.Second
	}
	return c.ShutdownGrace
}

func (c Config) gatewayCapabilities() map[string]bool {
	if c.GatewayCapabilities != nil {
		return c.GatewayCapabilities
	}
	return defaultGatewayCapabilities
}

func (c Config) discoveryThreshold() float64 {
	if c.DiscoveryThreshold <= 0 {
		return 0.7
	}
	return c.DiscoveryThreshold
}

// Gateway implements transport.Handler, wiring M -> R -> D -> A/X (spec
// §4.G). Unlike internal/dispatch.Forwarder (a narrow structural
// interface over primitive types), the External-MCP Manager's richer
// *external.Manager is imported directly here: internal/gateway is the
// top-level wiring layer with no risk of an import cycle back from
// internal/external, so there is nothing to gain from an indirection.
type Gateway struct {
	cfg        Config
	sessions   *session.Manager
	catalog    *registry.Catalog
	dispatcher *dispatch.Dispatcher
	external   *external.Manager
	discovery  *discovery.Engine
	mapper     discovery.ParameterMapper

	draining atomic.Bool
	inFlight sync.WaitGroup
}

func New(sessions *session.Manager, catalog *registry.Catalog, dispatcher *dispatch.Dispatcher, ext *external.Manager, cfg Config) *Gateway {
	return &Gateway{cfg: cfg, sessions: sessions, catalog: catalog, dispatcher: dispatcher, external: ext}
}

// WithDiscovery attaches the Smart Discovery engine (spec §4.D), enabling
// the synthetic smart_tool_discovery tool. A Gateway built via New alone
// serves the plain catalog with no discovery tool at all.
func (g *Gateway) WithDiscovery(engine *discovery.Engine, mapper discovery.ParameterMapper) *Gateway {
	g.discovery = engine
	g.mapper = mapper
	return g
}

var _ transport.Handler = (*Gateway)(nil)

// Handle dispatches one JSON-RPC method. It never panics on malformed
// params: a decode failure of initialize or tools/call params becomes a
// KindParse error response, and malformed tools/list params are ignored.
func (g *Gateway) Handle(ctx context.Context, sessionID string, req transport.Request) transport.Response {
	if g.draining.Load() {
		return errorResponse(req.ID, mcperr.New(mcperr.KindConflict, "gateway is shutting down, not accepting new calls"))
	}

	g.inFlight.Add(1)
	defer g.inFlight.Done()

	switch req.Method {
	case "initialize":
		return g.handleInitialize(sessionID, req)
	case "notifications/initialized":
		return transport.Response{}
	case "ping":
		return okResponse(req.ID, map[string]interface{}{})
	case "tools/list":
		return g.handleToolsList(req)
	case "tools/call":
		return g.handleToolsCall(ctx, sessionID, req)
	default:
		return errorResponse(req.ID, mcperr.New(mcperr.KindProtocol, fmt.Sprintf("unknown method %q", req.Method)))
	}
}

type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
	Capabilities map[string]json.RawMessage `json:"capabilities"`
}

func (g *Gateway) handleInitialize(sessionID string, req transport.Request) transport.Response {
	sess := g.sessions.Get(sessionID)
	if sess == nil {
		return errorResponse(req.ID, mcperr.New(mcperr.KindNotFound, "unknown session"))
	}

	var p initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errorResponse(req.ID, mcperr.Wrap(mcperr.KindParse, "invalid initialize params", err))
		}
	}

	clientCaps := make(map[string]bool, len(p.Capabilities))
	for k := range p.Capabilities {
		clientCaps[k] = true
	}

	if err := sess.Initialize(g.cfg.protocolVersion(), session.ClientInfo{Name: p.ClientInfo.Name, Version: p.ClientInfo.Version}, g.cfg.gatewayCapabilities(), clientCaps); err != nil {
		return errorResponse(req.ID, err)
	}

	result, _ := json.Marshal(map[string]interface{}{
		"protocolVersion": g.cfg.protocolVersion(),
		"capabilities":    sess.Capabilities(),
		"serverInfo":      map[string]string{"name": "magictunnel", "version": g.cfg.protocolVersion()},
	})
	return transport.Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

type toolsListParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type toolSummary struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

func (g *Gateway) handleToolsList(req transport.Request) transport.Response {
	var p toolsListParams
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &p)
	}

	snap := g.catalog.Get()
	var names []string
	if g.discovery != nil && g.cfg.SmartDiscoveryOnlyVisible {
		names = []string{discoveryToolName}
	} else {
		names = snap.VisibleNames()
		if g.discovery != nil {
			names = append(append([]string{}, names...), discoveryToolName)
		}
	}

	offset := 0
	if p.Cursor != "" {
		if v, err := strconv.Atoi(p.Cursor); err == nil && v > 0 {
			offset = v
		}
	}
	if offset > len(names) {
		offset = len(names)
	}

	pageSize := g.cfg.listPageSize()
	end := offset + pageSize
	if end > len(names) {
		end = len(names)
	}
	page := names[offset:end]

	tools := make([]toolSummary, 0, len(page))
	for _, name := range page {
		if name == discoveryToolName {
			tools = append(tools, toolSummary{Name: discoveryToolName, Description: discoveryToolDescription, InputSchema: discoveryInputSchema})
			continue
		}
		def, ok := snap.Lookup(name)
		if !ok {
			continue
		}
		tools = append(tools, toolSummary{Name: def.Name, Description: def.Description, InputSchema: def.InputSchema})
	}

	out := map[string]interface{}{"tools": tools}
	if end < len(names) {
		out["nextCursor"] = strconv.Itoa(end)
	}

	result, _ := json.Marshal(out)
	return transport.Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

type toolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (g *Gateway) handleToolsCall(ctx context.Context, sessionID string, req transport.Request) transport.Response {
	sess := g.sessions.Get(sessionID)
	if sess == nil {
		return errorResponse(req.ID, mcperr.New(mcperr.KindNotFound, "unknown session"))
	}

	var p toolsCallParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, mcperr.Wrap(mcperr.KindParse, "invalid tools/call params", err))
	}

	requestID := string(req.ID)
	if err := sess.BeginCall(requestID); err != nil {
		return errorResponse(req.ID, err)
	}

	if p.Name == discoveryToolName {
		out, err := g.handleSmartDiscovery(ctx, p.Arguments)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return transport.Response{JSONRPC: "2.0", ID: req.ID, Result: out}
	}

	snap := g.catalog.Get()
	def, ok := snap.Lookup(p.Name)
	if !ok {
		return errorResponse(req.ID, mcperr.New(mcperr.KindNotFound, fmt.Sprintf("unknown tool %q", p.Name)))
	}

	desc := def.Routing
	result, err := g.dispatcher.Dispatch(ctx, p.Name, &desc, substitution.Params(p.Arguments))
	if err != nil {
		return errorResponse(req.ID, err)
	}

	out, _ := json.Marshal(map[string]interface{}{
		"content": []map[string]interface{}{{"type": "json", "json": result.Output}},
		"isError": !result.Success,
	})
	return transport.Response{JSONRPC: "2.0", ID: req.ID, Result: out}
}

const discoveryToolDescription = "Given a natural-language request, selects the best-matching backend tool and, unless dry_run is set, executes it with LLM-mapped arguments."

var discoveryInputSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"request_text":   map[string]interface{}{"type": "string"},
		"context":        map[string]interface{}{"type": "object"},
		"threshold":      map[string]interface{}{"type": "number"},
		"max_candidates": map[string]interface{}{"type": "integer"},
		"dry_run":        map[string]interface{}{"type": "boolean"},
	},
	"required": []interface{}{"request_text"},
}

type discoveryCallParams struct {
	RequestText   string                 `json:"request_text"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Threshold     float64                `json:"threshold,omitempty"`
	MaxCandidates int                    `json:"max_candidates,omitempty"`
	DryRun        bool                   `json:"dry_run,omitempty"`
}

// handleSmartDiscovery implements the smart_tool_discovery synthetic tool
// (spec §4.D): rank every visible-through-discovery tool, and unless
// dry_run is set, dispatch the winning candidate with LLM-mapped,
// schema-validated arguments.
func (g *Gateway) handleSmartDiscovery(ctx context.Context, rawArgs map[string]interface{}) (json.RawMessage, error) {
	if g.discovery == nil {
		return nil, mcperr.New(mcperr.KindConfig, "smart discovery is not configured")
	}

	argBytes, _ := json.Marshal(rawArgs)
	var p discoveryCallParams
	if len(argBytes) > 0 {
		if err := json.Unmarshal(argBytes, &p); err != nil {
			return nil, mcperr.Wrap(mcperr.KindParse, "invalid smart_tool_discovery arguments", err)
		}
	}
	if p.RequestText == "" {
		return nil, mcperr.New(mcperr.KindConfig, "smart_tool_discovery requires request_text")
	}
	threshold := g.cfg.discoveryThreshold()
	if p.Threshold > 0 {
		threshold = p.Threshold
	}

	snap := g.catalog.Get()
	names := snap.VisibleNames()
	candidates := make([]discovery.ToolCandidate, 0, len(names))
	defsByName := make(map[string]registry.ToolDef, len(names))
	for _, name := range names {
		def, ok := snap.Lookup(name)
		if !ok {
			continue
		}
		defsByName[name] = def
		candidates = append(candidates, discovery.ToolCandidate{Name: def.Name, Description: def.Description})
	}

	ranking, err := g.discovery.Discover(ctx, p.RequestText, candidates)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindBackend, "smart discovery ranking failed", err)
	}

	maxCandidates := p.MaxCandidates
	if maxCandidates <= 0 || maxCandidates > len(ranking.Results) {
		maxCandidates = len(ranking.Results)
	}

	if len(ranking.Results) == 0 || ranking.Results[0].Score < threshold {
		alternatives := make([]map[string]interface{}, 0, maxCandidates)
		for _, r := range ranking.Results[:maxCandidates] {
			alternatives = append(alternatives, map[string]interface{}{"name": r.Name, "score": r.Score})
		}
		return discoveryContent(map[string]interface{}{
			"match":        false,
			"reason":       "no candidate cleared the discovery threshold",
			"threshold":    threshold,
			"alternatives": alternatives,
		}), nil
	}

	winner := ranking.Results[0]
	def := defsByName[winner.Name]

	result := map[string]interface{}{
		"match":     true,
		"tool":      winner.Name,
		"score":     winner.Score,
		"threshold": threshold,
	}

	if g.mapper != nil {
		schemaBytes, _ := json.Marshal(def.InputSchema)
		args, err := discovery.MapAndValidate(ctx, g.mapper, p.RequestText, discovery.ToolCandidate{Name: def.Name, Description: def.Description}, schemaBytes)
		if err != nil {
			result["match"] = false
			result["reason"] = "parameter mapping failed: " + err.Error()
			return discoveryContent(result), nil
		}
		result["arguments"] = args

		if !p.DryRun {
			desc := def.Routing
			execResult, err := g.dispatcher.Dispatch(ctx, def.Name, &desc, substitution.Params(args))
			if err != nil {
				return nil, err
			}
			result["execution_result"] = map[string]interface{}{"success": execResult.Success, "output": execResult.Output}
		}
	}

	return discoveryContent(result), nil
}

// discoveryContent wraps a smart_tool_discovery result in the same
// content/isError envelope every other tools/call response uses, so
// clients don't need a special case for the synthetic tool.
func discoveryContent(v map[string]interface{}) json.RawMessage {
	isError, _ := v["match"].(bool)
	out, _ := json.Marshal(map[string]interface{}{
		"content": []map[string]interface{}{{"type": "json", "json": v}},
		"isError": !isError,
	})
	return out
}

// ExternalTools converts the External-MCP Manager's merged catalog into
// registry.ExternalTool for the Catalog Builder (spec §4.R external-merge
// path). Lives here rather than inside internal/registry so that package
// stays free of a compile-time dependency on internal/external.
func (g *Gateway) ExternalTools() []registry.ExternalTool {
	if g.external == nil {
		return nil
	}
	entries := g.external.Catalog()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ExposedName < entries[j].ExposedName })

	out := make([]registry.ExternalTool, 0, len(entries))
	for _, e := range entries {
		var schema map[string]interface{}
		_ = json.Unmarshal(e.InputSchema, &schema)
		out = append(out, registry.ExternalTool{
			ServerID: e.ServerID,
			Tool: registry.ToolDef{
				Name:        e.ExposedName,
				Description: e.Description,
				InputSchema: schema,
				Origin:      registry.Origin{ExternalID: e.ServerID},
			},
		})
	}
	return out
}

// Shutdown enters draining: no new calls are accepted, and Shutdown waits
// for in-flight calls to finish up to the configured grace period before
// returning (spec §5 Cancellation: shutdown).
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.draining.Store(true)

	done := make(chan struct{})
	go func() {
		g.inFlight.Wait()
		close(done)
	}()

	grace := g.cfg.shutdownGrace()
	select {
	case <-done:
		return nil
	case <-time.After(grace):
		return mcperr.New(mcperr.KindTimeout, "shutdown grace period exceeded with calls still in flight")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Draining reports whether Shutdown has been called.
func (g *Gateway) Draining() bool { return g.draining.Load() }

func okResponse(id json.RawMessage, v interface{}) transport.Response {
	data, _ := json.Marshal(v)
	return transport.Response{JSONRPC: "2.0", ID: id, Result: data}
}

// errorResponse maps any error onto an MCP/JSON-RPC error object via
// internal/mcperr's stable Kind->code table (spec §7).
func errorResponse(id json.RawMessage, err error) transport.Response {
	kind := mcperr.KindOf(err)
	return transport.Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &transport.ErrorObject{
			Code:    mcperr.Code(kind),
			Message: err.Error(),
		},
	}
}
