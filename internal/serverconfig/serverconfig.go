// Package serverconfig loads the YAML/JSON document that drives
// cmd/magictunneld: transport listen addresses, catalog roots, session
// limits, Smart Discovery tuning, LLM provider credentials, and the
// External-MCP servers to supervise. Shaped after the teacher's single
// flat executor config (genai/executor/config.go), generalized from one
// executor's settings to the gateway's own subsystem list.
package serverconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MagicBeansAI/magictunnel/internal/external"
)

// TransportConfig tunes the four client-facing frontends (spec §4.C).
type TransportConfig struct {
	Stdio  bool   `yaml:"stdio" json:"stdio"`
	WSAddr string `yaml:"wsAddr,omitempty" json:"wsAddr,omitempty"`
	SSEAddr string `yaml:"sseAddr,omitempty" json:"sseAddr,omitempty"`
	StreamAddr string `yaml:"streamAddr,omitempty" json:"streamAddr,omitempty"`
}

// RegistryConfig locates catalog files and tunes reload behavior (spec §4.R).
type RegistryConfig struct {
	Roots                  []string `yaml:"roots" json:"roots"`
	Workers                int      `yaml:"workers,omitempty" json:"workers,omitempty"`
	Watch                  bool     `yaml:"watch,omitempty" json:"watch,omitempty"`
	ErrorBufferSize        int      `yaml:"errorBufferSize,omitempty" json:"errorBufferSize,omitempty"`
	DefaultHidden          bool     `yaml:"defaultHidden,omitempty" json:"defaultHidden,omitempty"`
	SmartDiscoveryOnly     bool     `yaml:"smartDiscoveryOnly,omitempty" json:"smartDiscoveryOnly,omitempty"`
	SmartDiscoveryToolName string   `yaml:"smartDiscoveryToolName,omitempty" json:"smartDiscoveryToolName,omitempty"`
}

// SessionConfig tunes the Session Manager (spec §4.M Limits).
type SessionConfig struct {
	MaxSessions          int           `yaml:"maxSessions,omitempty" json:"maxSessions,omitempty"`
	InactivityTimeoutSec int           `yaml:"inactivityTimeoutSeconds,omitempty" json:"inactivityTimeoutSeconds,omitempty"`
	MaxRequestIDs        int           `yaml:"maxRequestIds,omitempty" json:"maxRequestIds,omitempty"`
}

// DiscoveryConfig tunes Smart Discovery (spec §4.D).
type DiscoveryConfig struct {
	Enabled       bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Threshold     float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	OnlyVisible   bool    `yaml:"onlyVisible,omitempty" json:"onlyVisible,omitempty"`
	TopK          int     `yaml:"topK,omitempty" json:"topK,omitempty"`
	CacheSize     int     `yaml:"cacheSize,omitempty" json:"cacheSize,omitempty"`
	CacheTTLSec   int     `yaml:"cacheTtlSeconds,omitempty" json:"cacheTtlSeconds,omitempty"`
	EmbeddingDir  string  `yaml:"embeddingDir,omitempty" json:"embeddingDir,omitempty"`
	LLMProvider   string  `yaml:"llmProvider,omitempty" json:"llmProvider,omitempty"`
	LLMModel      string  `yaml:"llmModel,omitempty" json:"llmModel,omitempty"`
	EmbeddingModel string `yaml:"embeddingModel,omitempty" json:"embeddingModel,omitempty"`
}

// LLMProviderConfig credentials one chat backend the Llm agent kind and
// Smart Discovery's parameter mapper can both be bound to by name (spec
// §4.A Llm / §4.D).
type LLMProviderConfig struct {
	Name    string `yaml:"name" json:"name"`
	Kind    string `yaml:"kind" json:"kind"` // openai|anthropic|ollama|bedrock
	APIKey  string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	BaseURL string `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty"`
	Region  string `yaml:"region,omitempty" json:"region,omitempty"`
}

// DiagnosticsConfig wires github.com/google/gops for runtime introspection
// (pprof-over-RPC, process listing) without requiring a debug build.
type DiagnosticsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty" json:"addr,omitempty"`
}

// Config is the top-level magictunneld document.
type Config struct {
	Transport    TransportConfig          `yaml:"transport" json:"transport"`
	Registry     RegistryConfig           `yaml:"registry" json:"registry"`
	Session      SessionConfig            `yaml:"session,omitempty" json:"session,omitempty"`
	Discovery    DiscoveryConfig          `yaml:"discovery,omitempty" json:"discovery,omitempty"`
	LLMProviders []LLMProviderConfig      `yaml:"llmProviders,omitempty" json:"llmProviders,omitempty"`
	External     []external.ServerConfig  `yaml:"externalServers,omitempty" json:"externalServers,omitempty"`
	Diagnostics  DiagnosticsConfig        `yaml:"diagnostics,omitempty" json:"diagnostics,omitempty"`
	ShutdownGraceSec int                  `yaml:"shutdownGraceSeconds,omitempty" json:"shutdownGraceSeconds,omitempty"`
}

// Load reads and parses a YAML (or JSON, which is valid YAML) config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func (s SessionConfig) InactivityTimeout() time.Duration {
	if s.InactivityTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(s.InactivityTimeoutSec) * time.Second
}

func (c Config) ShutdownGrace() time.Duration {
	if c.ShutdownGraceSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ShutdownGraceSec) * time.Second
}
