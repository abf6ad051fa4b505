// Package external implements the External-MCP Manager (spec §4.X): it
// supervises external MCP servers over either a stdio child process or an
// http_sse bridge (internal/bridge, spec §4.B), merges their tool catalogs
// into the gateway's namespace under a conflict policy, and forwards
// ExternalMcpProxy calls to the right connection. Modeled on the teacher's
// internal/mcp/manager.Manager (pooled clients keyed by identity, idle
// reaping, reconnect-on-demand) generalized from per-conversation pooling
// to per-server supervision with an explicit state machine.
package external

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/MagicBeansAI/magictunnel/internal/log"
	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
)

// ToolInfo is the minimal shape the Manager needs from a remote tool's
// MCP discovery response to merge it into the catalog (spec §4.X/§4.R).
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type listToolsResult struct {
	Tools      []ToolInfo `json:"tools"`
	NextCursor *string    `json:"nextCursor,omitempty"`
}

type callToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

// connection tracks one external server's lifecycle.
type connection struct {
	cfg   ServerConfig
	mu    sync.Mutex
	state State
	cli   rpcClient

	restartAttempt int
	exposedNames   map[string]string  // exposed name -> remote name
	toolDetails    map[string]ToolInfo // exposed name -> remote tool's info
}

// Manager supervises a fixed set of external MCP servers for the lifetime
// of the gateway process.
type Manager struct {
	mu          sync.RWMutex
	conns       map[string]*connection
	exposed     map[string]string // exposed tool name -> serverID
	localLookup func() map[string]bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager constructs a Manager. localLookup returns the set of tool
// names currently claimed by local catalog files, consulted at merge time
// so local_first/prefix conflict resolution sees a live view (spec I4).
func NewManager(localLookup func() map[string]bool) *Manager {
	if localLookup == nil {
		localLookup = func() map[string]bool { return nil }
	}
	return &Manager{
		conns:       map[string]*connection{},
		exposed:     map[string]string{},
		localLookup: localLookup,
		stop:        make(chan struct{}),
	}
}

// Start launches and supervises every configured server. It returns once
// each server has been asked to connect; readiness happens asynchronously.
func (m *Manager) Start(ctx context.Context, servers []ServerConfig) {
	for _, cfg := range servers {
		c := &connection{cfg: cfg, state: StateDisconnected, exposedNames: map[string]string{}}
		m.mu.Lock()
		m.conns[cfg.ID] = c
		m.mu.Unlock()

		m.wg.Add(1)
		go m.supervise(ctx, c)
	}
}

// Stop drains all connections: each moves Ready->Draining->Disconnected and
// its child process is terminated.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Manager) supervise(ctx context.Context, c *connection) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			m.transition(c, StateDraining)
			m.disconnect(c)
			m.transition(c, StateDisconnected)
			return
		case <-ctx.Done():
			m.disconnect(c)
			return
		default:
		}

		if err := m.connect(ctx, c); err != nil {
			log.Emit(log.Error, "external", "connect failed", map[string]interface{}{"server": c.cfg.ID, "error": err.Error()})
			if !m.waitBackoff(c) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.restartAttempt = 0
		cli := c.cli
		c.mu.Unlock()

		select {
		case <-cli.Dead():
			log.Emit(log.Warn, "external", "connection lost, restarting", map[string]interface{}{"server": c.cfg.ID})
			m.transition(c, StateDisconnected)
		case <-m.stop:
			m.transition(c, StateDraining)
			m.disconnect(c)
			m.transition(c, StateDisconnected)
			return
		case <-ctx.Done():
			m.disconnect(c)
			return
		}
	}
}

func (m *Manager) waitBackoff(c *connection) bool {
	c.mu.Lock()
	c.restartAttempt++
	attempt := c.restartAttempt
	c.mu.Unlock()

	base := c.cfg.effectiveRestartBackoffBase()
	max := c.cfg.effectiveMaxRestartBackoff()
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > max {
			d = max
			break
		}
	}
	jittered := time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
	select {
	case <-time.After(jittered):
		return true
	case <-m.stop:
		return false
	}
}

func (m *Manager) transition(c *connection, to State) {
	c.mu.Lock()
	from := c.state
	if CanTransition(from, to) {
		c.state = to
	}
	c.mu.Unlock()
	if from != to {
		log.Emit(log.Info, "external", "state transition", map[string]interface{}{"server": c.cfg.ID, "from": string(from), "to": string(to)})
	}
}

func (m *Manager) connect(ctx context.Context, c *connection) error {
	m.transition(c, StateConnecting)
	cli, err := dialClient(ctx, c.cfg)
	if err != nil {
		m.transition(c, StateDisconnected)
		return err
	}

	m.transition(c, StateInitializing)
	if _, err := cli.Call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": "2025-06-18",
		"clientInfo":      map[string]string{"name": "magictunnel", "version": "0"},
	}); err != nil {
		cli.Close()
		m.transition(c, StateDisconnected)
		return err
	}

	tools, err := m.listTools(ctx, cli)
	if err != nil {
		cli.Close()
		m.transition(c, StateDisconnected)
		return err
	}

	c.mu.Lock()
	c.cli = cli
	c.mu.Unlock()
	m.mergeTools(c, tools)
	m.transition(c, StateReady)

	if c.cfg.effectiveHealthCheckInterval() > 0 {
		go m.healthCheck(ctx, c, cli)
	}
	return nil
}

func (m *Manager) healthCheck(ctx context.Context, c *connection, cli rpcClient) {
	t := time.NewTicker(c.cfg.effectiveHealthCheckInterval())
	defer t.Stop()
	for {
		select {
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := cli.Call(pingCtx, "ping", nil)
			cancel()
			if err != nil {
				log.Emit(log.Warn, "external", "health check failed", map[string]interface{}{"server": c.cfg.ID, "error": err.Error()})
				cli.Close()
				return
			}
		case <-cli.Dead():
			return
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) listTools(ctx context.Context, cli rpcClient) ([]ToolInfo, error) {
	var all []ToolInfo
	var cursor *string
	for {
		params := map[string]interface{}{}
		if cursor != nil {
			params["cursor"] = *cursor
		}
		raw, err := cli.Call(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}
		var res listToolsResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, mcperr.Wrap(mcperr.KindParse, "malformed tools/list response", err)
		}
		all = append(all, res.Tools...)
		if res.NextCursor == nil || *res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	return all, nil
}

func (m *Manager) mergeTools(c *connection, tools []ToolInfo) {
	local := m.localLookup()

	m.mu.Lock()
	defer m.mu.Unlock()

	claimedExternal := map[string]bool{}
	for name := range m.exposed {
		claimedExternal[name] = true
	}

	newExposed := map[string]string{}
	newDetails := map[string]ToolInfo{}
	for _, tool := range tools {
		exposedName, taken := ResolveName(c.cfg.effectiveConflict(), c.cfg.ID, tool.Name, local, claimedExternal)
		if !taken {
			log.Emit(log.Warn, "external", "tool name conflict, dropping remote tool", map[string]interface{}{
				"server": c.cfg.ID, "tool": tool.Name,
			})
			continue
		}
		m.exposed[exposedName] = c.cfg.ID
		newExposed[exposedName] = tool.Name
		newDetails[exposedName] = tool
		claimedExternal[exposedName] = true
	}

	c.mu.Lock()
	c.exposedNames = newExposed
	c.toolDetails = newDetails
	c.mu.Unlock()
}

func (m *Manager) disconnect(c *connection) {
	c.mu.Lock()
	cli := c.cli
	c.cli = nil
	exposedNames := c.exposedNames
	c.exposedNames = map[string]string{}
	c.mu.Unlock()

	if cli != nil {
		cli.Close()
	}

	m.mu.Lock()
	for name := range exposedNames {
		delete(m.exposed, name)
	}
	m.mu.Unlock()
}

// ExposedTools returns the currently merged tool catalog as (exposedName ->
// serverID), for the Catalog Builder to consult when assembling a Snapshot.
func (m *Manager) ExposedTools() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.exposed))
	for k, v := range m.exposed {
		out[k] = v
	}
	return out
}

// CatalogEntry is one externally-contributed tool, already conflict-
// resolved to its exposed name, ready to fold into internal/registry's
// Snapshot via registry.ExternalTool.
type CatalogEntry struct {
	ExposedName string
	ServerID    string
	Description string
	InputSchema json.RawMessage
}

// Catalog returns every currently merged external tool with its
// description/schema, for the Catalog Builder to consult when assembling
// a Snapshot (spec §4.R external-merge path).
func (m *Manager) Catalog() []CatalogEntry {
	m.mu.RLock()
	serverIDs := make(map[string]string, len(m.exposed))
	for name, serverID := range m.exposed {
		serverIDs[name] = serverID
	}
	conns := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	out := make([]CatalogEntry, 0, len(serverIDs))
	for _, c := range conns {
		c.mu.Lock()
		details := c.toolDetails
		c.mu.Unlock()
		for exposedName, info := range details {
			out = append(out, CatalogEntry{
				ExposedName: exposedName,
				ServerID:    serverIDs[exposedName],
				Description: info.Description,
				InputSchema: info.InputSchema,
			})
		}
	}
	return out
}

// CallTool implements dispatch.Forwarder: it resolves the exposed tool name
// back to the owning connection's remote tool name and invokes it.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, args map[string]interface{}) (map[string]interface{}, error) {
	m.mu.RLock()
	c := m.conns[serverID]
	m.mu.RUnlock()
	if c == nil {
		return nil, mcperr.New(mcperr.KindNotFound, fmt.Sprintf("unknown external mcp server %q", serverID))
	}

	c.mu.Lock()
	state := c.state
	cli := c.cli
	remoteName, ok := c.exposedNames[toolName]
	c.mu.Unlock()
	if !ok {
		remoteName = toolName
	}
	if state != StateReady || cli == nil {
		return nil, mcperr.New(mcperr.KindBackend, fmt.Sprintf("external mcp server %q not ready", serverID))
	}

	raw, err := cli.Call(ctx, "tools/call", callToolParams{Name: remoteName, Arguments: args})
	if err != nil {
		return nil, err
	}
	var res callToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, mcperr.Wrap(mcperr.KindParse, "malformed tools/call response", err)
	}
	if res.IsError {
		text := ""
		if len(res.Content) > 0 {
			text = res.Content[0].Text
		}
		return nil, mcperr.New(mcperr.KindBackend, text)
	}

	out := map[string]interface{}{"content": res.Content}
	return out, nil
}
