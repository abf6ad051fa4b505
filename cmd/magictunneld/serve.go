package magictunneld

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"

	"github.com/MagicBeansAI/magictunnel/internal/discovery"
	"github.com/MagicBeansAI/magictunnel/internal/dispatch"
	"github.com/MagicBeansAI/magictunnel/internal/embedding"
	"github.com/MagicBeansAI/magictunnel/internal/external"
	"github.com/MagicBeansAI/magictunnel/internal/gateway"
	"github.com/MagicBeansAI/magictunnel/internal/registry"
	"github.com/MagicBeansAI/magictunnel/internal/routing"
	"github.com/MagicBeansAI/magictunnel/internal/serverconfig"
	"github.com/MagicBeansAI/magictunnel/internal/session"
	"github.com/MagicBeansAI/magictunnel/internal/transport/ssefrontend"
	"github.com/MagicBeansAI/magictunnel/internal/transport/stdiofrontend"
	"github.com/MagicBeansAI/magictunnel/internal/transport/streamfrontend"
	"github.com/MagicBeansAI/magictunnel/internal/transport/wsfrontend"
)

// ServeCmd starts the gateway: it loads the catalog, wires the Agent
// Dispatcher's nine kinds, optionally the External-MCP Manager and Smart
// Discovery, and serves whichever transport frontends the config enables.
type ServeCmd struct {
	Config string `short:"f" long:"config" description:"gateway config YAML/JSON path"`
}

func (s *ServeCmd) Execute(_ []string) error {
	if s.Config == "" {
		return errors.New("serve: -f/--config is required")
	}
	cfg, err := serverconfig.Load(s.Config)
	if err != nil {
		return err
	}

	if cfg.Diagnostics.Enabled {
		if err := agent.Listen(agent.Options{Addr: cfg.Diagnostics.Addr}); err != nil {
			log.Printf("gops diagnostics agent failed to start: %v", err)
		} else {
			defer agent.Close()
		}
	}

	extMgr, err := buildExternal(cfg)
	if err != nil {
		return err
	}

	catalog, watcher, err := buildCatalog(cfg, extMgr)
	if err != nil {
		return err
	}

	providers := buildLLMProviders(cfg)
	disp := buildDispatcher(cfg, extMgr, providers)
	sessions := session.NewManager(session.Config{
		MaxSessions:       cfg.Session.MaxSessions,
		InactivityTimeout: cfg.Session.InactivityTimeout(),
		MaxRequestIDs:     cfg.Session.MaxRequestIDs,
	})

	gw := gateway.New(sessions, catalog, disp, extMgr, gateway.Config{
		ShutdownGrace:             cfg.ShutdownGrace(),
		DiscoveryThreshold:        cfg.Discovery.Threshold,
		SmartDiscoveryOnlyVisible: cfg.Discovery.OnlyVisible,
	})

	if cfg.Discovery.Enabled {
		engine, mapper, err := buildDiscovery(cfg, providers)
		if err != nil {
			return err
		}
		gw.WithDiscovery(engine, mapper)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if watcher != nil {
		go watcher.Run(ctx)
	}
	if extMgr != nil {
		extMgr.Start(ctx, cfg.External)
		defer extMgr.Stop()
	}

	servers := startFrontends(ctx, cfg, gw, sessions)
	log.Printf("magictunneld listening (stdio=%v ws=%q sse=%q stream=%q)", cfg.Transport.Stdio, cfg.Transport.WSAddr, cfg.Transport.SSEAddr, cfg.Transport.StreamAddr)

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer shutdownCancel()
	_ = gw.Shutdown(shutdownCtx)
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

func buildExternal(cfg *serverconfig.Config) (*external.Manager, error) {
	if len(cfg.External) == 0 {
		return nil, nil
	}
	return external.NewManager(nil), nil
}

func buildCatalog(cfg *serverconfig.Config, extMgr *external.Manager) (*registry.Catalog, *registry.Watcher, error) {
	loader := registry.NewLoader(cfg.Registry.Roots, workersOrDefault(cfg.Registry.Workers))
	vis := registry.VisibilitySettings{
		DefaultHidden:          cfg.Registry.DefaultHidden,
		SmartDiscoveryOnly:     cfg.Registry.SmartDiscoveryOnly,
		SmartDiscoveryToolName: cfg.Registry.SmartDiscoveryToolName,
	}

	var opts []registry.Option
	if extMgr != nil {
		opts = append(opts, registry.WithExternalSource(func() []registry.ExternalTool {
			return externalToolsFrom(extMgr)
		}))
	}

	catalog := registry.New(loader, vis, errBufOrDefault(cfg.Registry.ErrorBufferSize), opts...)
	if _, err := catalog.Reload(context.Background()); err != nil {
		return nil, nil, err
	}

	var watcher *registry.Watcher
	if cfg.Registry.Watch {
		w, err := registry.NewWatcher(catalog, cfg.Registry.Roots)
		if err != nil {
			return nil, nil, err
		}
		watcher = w
	}
	return catalog, watcher, nil
}

// externalToolsFrom converts the External-MCP Manager's merged catalog
// into registry.ExternalTool, the same conversion gateway.Gateway's own
// ExternalTools method performs; duplicated here (rather than reusing the
// Gateway method) because the Catalog this feeds must exist before the
// Gateway that wraps it does.
func externalToolsFrom(extMgr *external.Manager) []registry.ExternalTool {
	entries := extMgr.Catalog()
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

func workersOrDefault(n int) int {
	if n <= 0 {
		return 4
	}
	return n
}

func errBufOrDefault(n int) int {
	if n <= 0 {
		return 16
	}
	return n
}

// buildLLMProviders constructs one dispatch.ChatProvider per configured
// backend, keyed by the name routing.LLMConfig.Provider and Smart
// Discovery reference (spec §4.A Llm / §4.D).
func buildLLMProviders(cfg *serverconfig.Config) map[string]dispatch.ChatProvider {
	out := map[string]dispatch.ChatProvider{}
	for _, p := range cfg.LLMProviders {
		switch p.Kind {
		case "openai":
			out[p.Name] = dispatch.NewOpenAIChatProvider(p.APIKey, p.BaseURL)
		case "anthropic":
			out[p.Name] = dispatch.NewAnthropicChatProvider(p.APIKey)
		case "ollama":
			// Ollama's client resolves its endpoint from OLLAMA_HOST at
			// construction time; BaseURL, when set, overrides it.
			if p.BaseURL != "" {
				_ = os.Setenv("OLLAMA_HOST", p.BaseURL)
			}
			client, err := api.ClientFromEnvironment()
			if err != nil {
				log.Printf("llm provider %q (ollama) unavailable: %v", p.Name, err)
				continue
			}
			out[p.Name] = dispatch.NewOllamaChatProvider(client)
		case "bedrock":
			bp, err := dispatch.NewBedrockChatProvider(context.Background(), p.Region)
			if err != nil {
				log.Printf("llm provider %q (bedrock) unavailable: %v", p.Name, err)
				continue
			}
			out[p.Name] = bp
		default:
			log.Printf("llm provider %q: unknown kind %q, skipping", p.Name, p.Kind)
		}
	}
	return out
}

// buildDispatcher registers every routing.Kind the gateway supports (spec
// §4.A). The LLM and ExternalMcpProxy agents are the only kinds whose
// behavior depends on what's configured; the rest are always available
// since their destinations are named per-tool in the catalog, not here.
func buildDispatcher(cfg *serverconfig.Config, extMgr *external.Manager, providers map[string]dispatch.ChatProvider) *dispatch.Dispatcher {
	disp := dispatch.New()
	disp.Register(routing.KindSubprocess, dispatch.NewSubprocessAgent())
	disp.Register(routing.KindHTTP, dispatch.NewHTTPAgent())
	disp.Register(routing.KindGRPC, dispatch.NewGRPCAgent())
	disp.Register(routing.KindSSE, dispatch.NewSSEAgent())
	disp.Register(routing.KindGraphQL, dispatch.NewGraphQLAgent())
	disp.Register(routing.KindWebsocket, dispatch.NewWebsocketAgent())
	disp.Register(routing.KindDatabase, dispatch.NewDatabaseAgent())

	llmAgent := dispatch.NewLLMAgent()
	for name, provider := range providers {
		llmAgent.RegisterProvider(name, provider)
	}
	disp.Register(routing.KindLLM, llmAgent)

	if extMgr != nil {
		disp.Register(routing.KindExternalMCPProxy, dispatch.NewExternalMCPProxyAgent(extMgr))
	}
	return disp
}

// buildDiscovery wires the Smart Discovery engine (spec §4.D): an LLM
// scorer/mapper backed by the named provider, and a semantic scorer backed
// by an on-disk embedding store, when configured.
func buildDiscovery(cfg *serverconfig.Config, providers map[string]dispatch.ChatProvider) (*discovery.Engine, discovery.ParameterMapper, error) {
	var llmScorer discovery.LLMScorer
	var mapper discovery.ParameterMapper
	if chat, ok := providers[cfg.Discovery.LLMProvider]; ok {
		llmScorer = discovery.NewChatLLMScorer(chat, cfg.Discovery.LLMModel)
		mapper = discovery.NewChatParameterMapper(chat, cfg.Discovery.LLMModel)
	}

	var semScorer discovery.SemanticScorer
	if cfg.Discovery.EmbeddingDir != "" {
		embProvider, err := buildEmbeddingProvider(cfg, providers)
		if err != nil {
			return nil, nil, err
		}
		store, err := embedding.NewStore(cfg.Discovery.EmbeddingDir, embProvider, 16)
		if err != nil {
			return nil, nil, err
		}
		semScorer = discovery.NewEmbeddingSemanticScorer(store, embProvider)
	}

	engine := discovery.NewEngine(llmScorer, semScorer, discovery.Config{
		TopK:            cfg.Discovery.TopK,
		CacheSize:       cfg.Discovery.CacheSize,
		CacheTTLSeconds: cfg.Discovery.CacheTTLSec,
	})
	return engine, mapper, nil
}

func buildEmbeddingProvider(cfg *serverconfig.Config, providers map[string]dispatch.ChatProvider) (embedding.Provider, error) {
	for _, p := range cfg.LLMProviders {
		if p.Name != cfg.Discovery.LLMProvider || p.Kind != "openai" {
			continue
		}
		return embedding.NewOpenAIProvider(p.APIKey, p.BaseURL, openai.EmbeddingModel(cfg.Discovery.EmbeddingModel)), nil
	}
	return nil, errors.New("discovery: embeddingDir is set but no openai llmProvider matches discovery.llmProvider")
}

// startFrontends launches every enabled transport and returns the
// *http.Server instances that need an explicit Shutdown.
func startFrontends(ctx context.Context, cfg *serverconfig.Config, gw *gateway.Gateway, sessions *session.Manager) []*http.Server {
	var servers []*http.Server

	if cfg.Transport.Stdio {
		sess, err := sessions.Open("stdio")
		if err != nil {
			log.Printf("stdio frontend: %v", err)
		} else {
			fe := stdiofrontend.New(gw, sess)
			go func() {
				if err := fe.Run(ctx, os.Stdin, os.Stdout); err != nil {
					log.Printf("stdio frontend stopped: %v", err)
				}
			}()
		}
	}

	if addr := cfg.Transport.WSAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: wsfrontend.New(gw, sessions), ReadHeaderTimeout: 5 * time.Second}
		servers = append(servers, srv)
		go runServer(srv, "websocket")
	}

	if addr := cfg.Transport.SSEAddr; addr != "" {
		fe := ssefrontend.New(gw, sessions)
		mux := http.NewServeMux()
		mux.HandleFunc("/mcp/sse", fe.HandleSSE)
		mux.HandleFunc("/mcp/sse/messages", fe.HandleMessages)
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		servers = append(servers, srv)
		go runServer(srv, "sse")
	}

	if addr := cfg.Transport.StreamAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: streamfrontend.New(gw, sessions), ReadHeaderTimeout: 5 * time.Second}
		servers = append(servers, srv)
		go runServer(srv, "streamable-http")
	}

	return servers
}

func runServer(srv *http.Server, name string) {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("%s frontend failed: %v", name, err)
	}
}
