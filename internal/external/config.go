package external

import (
	"time"

	"github.com/MagicBeansAI/magictunnel/internal/authprop"
)

// Transport selects how the Manager dials an external MCP server.
type Transport string

const (
	// TransportStdio spawns a child process and speaks newline-delimited
	// JSON-RPC 2.0 over its stdin/stdout, the conventional MCP packaging.
	TransportStdio Transport = "stdio"
	// TransportHTTPSSE dials a remote server over the deprecated two-channel
	// HTTP POST + SSE transport via internal/bridge (spec §4.B), for servers
	// that predate the single-stream transports.
	TransportHTTPSSE Transport = "http_sse"
)

// ServerConfig describes one external MCP server to launch and supervise
// (spec §4.X). Transport selects stdio (default, a child process) or
// http_sse (a remote endpoint bridged via internal/bridge).
type ServerConfig struct {
	ID        string            `yaml:"id" json:"id"`
	Transport Transport         `yaml:"transport,omitempty" json:"transport,omitempty"`
	Command   string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Conflict  ConflictStrategy  `yaml:"conflict,omitempty" json:"conflict,omitempty"`

	// PostURL/SSEURL configure the http_sse transport: requests are POSTed
	// to PostURL, responses and server-initiated requests arrive over the
	// SSE stream at SSEURL.
	PostURL string `yaml:"postUrl,omitempty" json:"postUrl,omitempty"`
	SSEURL  string `yaml:"sseUrl,omitempty" json:"sseUrl,omitempty"`

	// Auth propagates a credential into the spawned child's environment
	// (spec §D): a stdio connection has no HTTP request to attach a header
	// to, so authprop.Config.ApplyToEnv folds the rendered credential into
	// Env instead.
	Auth *authprop.Config `yaml:"auth,omitempty" json:"auth,omitempty"`

	// HealthCheckInterval controls how often a Ready connection's liveness
	// is probed via a "ping" request; zero selects the 30s default.
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval,omitempty" json:"healthCheckInterval,omitempty"`
	// RestartBackoffBase seeds the exponential backoff applied between
	// restart attempts after a connection drops unexpectedly.
	RestartBackoffBase time.Duration `yaml:"restartBackoffBase,omitempty" json:"restartBackoffBase,omitempty"`
	MaxRestartBackoff  time.Duration `yaml:"maxRestartBackoff,omitempty" json:"maxRestartBackoff,omitempty"`
}

func (c ServerConfig) effectiveTransport() Transport {
	if c.Transport == "" {
		return TransportStdio
	}
	return c.Transport
}

func (c ServerConfig) effectiveConflict() ConflictStrategy {
	if c.Conflict == "" {
		return StrategyLocalFirst
	}
	return c.Conflict
}

func (c ServerConfig) effectiveHealthCheckInterval() time.Duration {
	if c.HealthCheckInterval <= 0 {
		return 30 * time.Second
	}
	return c.HealthCheckInterval
}

func (c ServerConfig) effectiveRestartBackoffBase() time.Duration {
	if c.RestartBackoffBase <= 0 {
		return 500 * time.Millisecond
	}
	return c.RestartBackoffBase
}

func (c ServerConfig) effectiveMaxRestartBackoff() time.Duration {
	if c.MaxRestartBackoff <= 0 {
		return time.Minute
	}
	return c.MaxRestartBackoff
}
