// Package routing defines the RoutingDescriptor tagged-variant type from
// spec §3 and the per-call retry/timeout policy shared by every agent kind.
package routing

import (
	"time"

	"github.com/MagicBeansAI/magictunnel/internal/authprop"
)

// Kind identifies one of the nine agent kinds a RoutingDescriptor may bind
// to. Exactly one of Descriptor's embedded configs is populated for a given
// Kind.
type Kind string

const (
	KindSubprocess      Kind = "subprocess"
	KindHTTP            Kind = "http"
	KindGRPC            Kind = "grpc"
	KindSSE             Kind = "sse"
	KindGraphQL         Kind = "graphql"
	KindLLM             Kind = "llm"
	KindWebsocket       Kind = "websocket"
	KindDatabase        Kind = "database"
	KindExternalMCPProxy Kind = "external_mcp_proxy"
)

// RetryPolicy governs whether/how a dispatcher retries a failed call.
// Default is zero retries (spec §4.A Common policy).
type RetryPolicy struct {
	MaxAttempts     int           `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	BackoffBase     time.Duration `yaml:"backoffBase,omitempty" json:"backoffBase,omitempty"`
	RetryableStatus []int         `yaml:"retryableStatus,omitempty" json:"retryableStatus,omitempty"`
}

// Effective returns a RetryPolicy with documented defaults applied.
func (r RetryPolicy) Effective() RetryPolicy {
	out := r
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 1 // no retries: the single initial attempt
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = 100 * time.Millisecond
	}
	if len(out.RetryableStatus) == 0 {
		out.RetryableStatus = []int{408, 429, 500, 502, 503, 504}
	}
	return out
}

// Descriptor is the per-tool routing record (spec §3 RoutingDescriptor).
// Every string field inside the variant-specific configs is a template
// rendered by internal/substitution at call time, never at load time (I3).
type Descriptor struct {
	Kind    Kind          `yaml:"type" json:"type"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retry   RetryPolicy   `yaml:"retry,omitempty" json:"retry,omitempty"`

	Subprocess *SubprocessConfig `yaml:"subprocess,omitempty" json:"subprocess,omitempty"`
	HTTP       *HTTPConfig       `yaml:"http,omitempty" json:"http,omitempty"`
	GRPC       *GRPCConfig       `yaml:"grpc,omitempty" json:"grpc,omitempty"`
	SSE        *SSEConfig        `yaml:"sse,omitempty" json:"sse,omitempty"`
	GraphQL    *GraphQLConfig    `yaml:"graphql,omitempty" json:"graphql,omitempty"`
	LLM        *LLMConfig        `yaml:"llm,omitempty" json:"llm,omitempty"`
	Websocket  *WebsocketConfig  `yaml:"websocket,omitempty" json:"websocket,omitempty"`
	Database   *DatabaseConfig   `yaml:"database,omitempty" json:"database,omitempty"`
	ExternalMCP *ExternalMCPConfig `yaml:"externalMcpProxy,omitempty" json:"externalMcpProxy,omitempty"`
}

// EffectiveTimeout returns the configured timeout or a conservative default.
func (d *Descriptor) EffectiveTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return 30 * time.Second
}

type SubprocessConfig struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Stdin   string            `yaml:"stdin,omitempty" json:"stdin,omitempty"`
	Dir     string            `yaml:"dir,omitempty" json:"dir,omitempty"`
}

type HTTPConfig struct {
	Method          string            `yaml:"method" json:"method"`
	URL             string            `yaml:"url" json:"url"`
	Headers         map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body            string            `yaml:"body,omitempty" json:"body,omitempty"`
	FollowRedirects bool              `yaml:"followRedirects,omitempty" json:"followRedirects,omitempty"`
	Auth            *authprop.Config  `yaml:"auth,omitempty" json:"auth,omitempty"`
}

type GRPCConfig struct {
	Target          string `yaml:"target" json:"target"`
	Service         string `yaml:"service" json:"service"`
	Method          string `yaml:"method" json:"method"`
	DescriptorSetRef string `yaml:"descriptorSetRef,omitempty" json:"descriptorSetRef,omitempty"`
	Body            string `yaml:"body,omitempty" json:"body,omitempty"`
	Insecure        bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
}

type SSEConfig struct {
	URL        string            `yaml:"url" json:"url"`
	Headers    map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	EventName  string            `yaml:"eventName,omitempty" json:"eventName,omitempty"`
	EndToken   string            `yaml:"endToken,omitempty" json:"endToken,omitempty"`
	MaxEvents  int               `yaml:"maxEvents,omitempty" json:"maxEvents,omitempty"`
}

type GraphQLConfig struct {
	URL       string             `yaml:"url" json:"url"`
	Query     string             `yaml:"query" json:"query"`
	Variables map[string]string  `yaml:"variables,omitempty" json:"variables,omitempty"`
	Headers   map[string]string  `yaml:"headers,omitempty" json:"headers,omitempty"`
	Auth      *authprop.Config   `yaml:"auth,omitempty" json:"auth,omitempty"`
}

type LLMConfig struct {
	Provider     string  `yaml:"provider" json:"provider"` // openai | anthropic | ollama | bedrock
	Model        string  `yaml:"model" json:"model"`
	SystemPrompt string  `yaml:"systemPrompt,omitempty" json:"systemPrompt,omitempty"`
	UserPrompt   string  `yaml:"userPrompt" json:"userPrompt"`
	MaxTokens    int     `yaml:"maxTokens,omitempty" json:"maxTokens,omitempty"`
	Temperature  float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
}

type WebsocketConfig struct {
	URL        string            `yaml:"url" json:"url"`
	Headers    map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Frame      string            `yaml:"frame" json:"frame"`
	ReplyCount int               `yaml:"replyCount,omitempty" json:"replyCount,omitempty"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver" json:"driver"` // postgres | sqlite
	DSN        string `yaml:"dsn" json:"dsn"`
	Statement  string `yaml:"statement" json:"statement"`
}

type ExternalMCPConfig struct {
	ServerID string `yaml:"serverId" json:"serverId"`
	ToolName string `yaml:"toolName" json:"toolName"`
}
