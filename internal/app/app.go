// Package app wires all colloquy subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown drains
// live streams and tears everything down in order.
//
// For testing, inject doubles via functional options (WithMessageStore,
// WithMCPHost, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/colloquy/internal/api"
	"github.com/MrWong99/colloquy/internal/config"
	"github.com/MrWong99/colloquy/internal/conversation"
	"github.com/MrWong99/colloquy/internal/entity"
	"github.com/MrWong99/colloquy/internal/event"
	"github.com/MrWong99/colloquy/internal/functions"
	"github.com/MrWong99/colloquy/internal/health"
	"github.com/MrWong99/colloquy/internal/mcp"
	"github.com/MrWong99/colloquy/internal/mcp/mcphost"
	"github.com/MrWong99/colloquy/internal/observe"
	"github.com/MrWong99/colloquy/internal/resilience"
	"github.com/MrWong99/colloquy/pkg/memory"
	"github.com/MrWong99/colloquy/pkg/memory/postgres"
	"github.com/MrWong99/colloquy/pkg/provider/llm"
)

// Version is reported by the published MCP server.
const Version = "0.1.0"

// hubBuffer is the event buffer of each live session channel.
const hubBuffer = 32

// ErrAllProvidersDown is reported by the readiness check when every model
// backend has an open circuit breaker.
var ErrAllProvidersDown = errors.New("app: every model provider is unavailable")

// Fallback is a named secondary model backend.
type Fallback struct {
	Name string
	LLM  llm.Provider
}

// Providers holds the model backends. Populated by main.go via the config
// registry. LLM may be nil only in sandbox mode.
type Providers struct {
	LLM      llm.Provider
	Fallback []Fallback
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	store    memory.MessageStore
	pg       *postgres.Store
	entities entity.Store
	registry *functions.Registry
	mcpHost  mcp.Host
	chain    *resilience.LLMChain
	backend  conversation.ToolBackend
	orch     *conversation.Orchestrator
	hub      *event.Hub
	streams  *conversation.StreamController
	turns    *conversation.TurnService
	health   *health.Handler
	handler  http.Handler
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMessageStore injects a message store instead of creating one from config.
func WithMessageStore(s memory.MessageStore) Option {
	return func(a *App) { a.store = s }
}

// WithEntityStore injects an entity store instead of creating a MemStore.
func WithEntityStore(s entity.Store) Option {
	return func(a *App) { a.entities = s }
}

// WithMCPHost injects an MCP host instead of creating one from config. An
// injected host does not get the local functions mounted as builtins.
func WithMCPHost(h mcp.Host) Option {
	return func(a *App) { a.mcpHost = h }
}

// WithMetrics replaces the global metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: entity seeding, message
// store connection, MCP server registration, conversation pipeline assembly
// and HTTP routing.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Entity store + business functions ─────────────────────────────
	if err := a.initEntities(ctx); err != nil {
		return nil, a.abort(fmt.Errorf("app: init entities: %w", err))
	}

	// ── 2. Message store ─────────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, a.abort(fmt.Errorf("app: init memory: %w", err))
	}

	// ── 3. Tool backend ──────────────────────────────────────────────────
	if err := a.initTools(ctx); err != nil {
		return nil, a.abort(fmt.Errorf("app: init tools: %w", err))
	}

	// ── 4. Conversation pipeline ─────────────────────────────────────────
	if err := a.initConversation(); err != nil {
		return nil, a.abort(fmt.Errorf("app: init conversation: %w", err))
	}

	// ── 5. HTTP ──────────────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// abort releases whatever New acquired before err.
func (a *App) abort(err error) error {
	for _, closer := range a.closers {
		if cerr := closer(); cerr != nil {
			slog.Warn("closer error during aborted startup", "err", cerr)
		}
	}
	return err
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initEntities sets up the entity store, imports the seed file and builds
// the business-function registry over it.
func (a *App) initEntities(ctx context.Context) error {
	if a.entities == nil {
		a.entities = entity.NewMemStore()
	}

	if path := a.cfg.Entities.SeedFile; path != "" {
		sf, err := entity.LoadSeedFile(path)
		if err != nil {
			return fmt.Errorf("load seed file %q: %w", path, err)
		}
		n, err := entity.Seed(ctx, a.entities, sf)
		if err != nil {
			return fmt.Errorf("seed %q: %w", path, err)
		}
		slog.Info("imported entities", "path", path, "count", n)
	}

	a.registry = functions.NewRegistry()
	return functions.RegisterEntityFunctions(a.registry, a.entities)
}

// initMemory connects the PostgreSQL store when a DSN is configured and falls
// back to the in-memory store otherwise.
func (a *App) initMemory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		slog.Warn("memory.postgres_dsn not set, conversation history is kept in memory only")
		a.store = memory.NewMemStore()
		return nil
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.pg = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initTools creates the MCP host when it is needed, registers the configured
// servers and selects the tool backend.
func (a *App) initTools(ctx context.Context) error {
	useMCP := a.cfg.Tools.UseMCP
	if a.mcpHost == nil && (useMCP || len(a.cfg.MCP.Servers) > 0) {
		host := mcphost.New()
		if err := functions.RegisterBuiltins(host, a.registry); err != nil {
			return err
		}
		a.mcpHost = host
		a.closers = append(a.closers, host.Close)
	}

	for _, srv := range a.cfg.MCP.Servers {
		if err := a.mcpHost.RegisterServer(ctx, srv.ServerConfig()); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name, "transport", srv.Transport)
	}

	backend, err := conversation.SelectBackend(useMCP, a.mcpHost, a.registry)
	if err != nil {
		return err
	}
	a.backend = backend
	slog.Info("tool backend selected", "source", backend.Source(), "enabled", a.cfg.Tools.Enabled)
	return nil
}

// initConversation assembles requester, catalog, dispatcher, coordinator,
// orchestrator and the two turn front ends.
func (a *App) initConversation() error {
	conv := a.cfg.Conversation

	var requester conversation.Requester
	if conv.Sandbox {
		slog.Warn("sandbox mode: replies are canned, no model is contacted")
		requester = conversation.SandboxRequester{Reply: conv.SandboxReply}
	} else {
		if a.providers.LLM == nil {
			return fmt.Errorf("llm provider %q is not available", a.cfg.Providers.LLM.Name)
		}
		a.chain = resilience.NewLLMChain(a.cfg.Providers.LLM.Name, a.providers.LLM, resilience.ChainConfig{
			Breaker: resilience.BreakerConfig{
				MaxFailures:   a.cfg.Providers.Breaker.MaxFailures,
				Cooldown:      a.cfg.Providers.Breaker.Cooldown,
				OnStateChange: logBreakerChange,
			},
		})
		for _, fb := range a.providers.Fallback {
			a.chain.Add(fb.Name, fb.LLM)
		}
		requester = conversation.NewRequester(a.chain, conversation.RequesterConfig{
			ProviderName: a.cfg.Providers.LLM.Name,
			SystemPrompt: conv.SystemPrompt,
			Temperature:  conv.Temperature,
			MaxTokens:    conv.MaxTokens,
			FallbackText: conv.FallbackText,
		}, a.metrics)
	}

	catalog := conversation.NewCatalog(a.backend, conversation.CatalogConfig{Enabled: a.cfg.Tools.Enabled})
	dispatcher := conversation.NewDispatcher(a.backend, conversation.DispatcherConfig{
		ToolTimeout: a.cfg.Tools.Timeout,
	}, a.metrics)
	coordinator := conversation.NewCoordinator(dispatcher, conversation.CoordinatorConfig{
		Parallel:       a.cfg.Tools.Parallel,
		MaxConcurrency: a.cfg.Tools.MaxConcurrency,
	})
	a.orch = conversation.NewOrchestrator(catalog, requester, coordinator, conversation.OrchestratorConfig{
		TurnTimeout: conv.TurnTimeout,
		FailureText: conv.FailureText,
		TimeoutText: conv.TimeoutText,
	}, conversation.WithMetrics(a.metrics))

	a.hub = event.NewHub(hubBuffer)
	a.streams = conversation.NewStreamController(a.orch, a.store, a.hub, streamConfig(a.cfg), a.metrics)
	a.turns = conversation.NewTurnService(a.orch, a.store, a.cfg.Stream.HistoryLimit)
	return nil
}

// initHTTP builds the health handler and the router.
func (a *App) initHTTP() {
	var checkers []health.Checker
	if a.chain != nil {
		checkers = append(checkers, health.Checker{Name: "llm", Check: a.checkProviders})
	}
	if a.pg != nil {
		checkers = append(checkers, health.Checker{Name: "memory", Check: a.pg.Ping})
	}
	a.health = health.New(checkers)

	published := a.registry.MCPServer(&mcpsdk.Implementation{Name: "colloquy", Version: Version})
	mcpHandler := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return published }, nil)

	mux := http.NewServeMux()
	api.New(a.turns, a.streams, a.backend, api.WithMCPHandler(mcpHandler)).Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.handler = api.RequestID(observe.Middleware(a.metrics)(mux))
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// checkProviders fails when no model backend would currently be tried.
func (a *App) checkProviders(context.Context) error {
	for _, st := range a.chain.States() {
		if st != resilience.StateOpen {
			return nil
		}
	}
	return ErrAllProvidersDown
}

func logBreakerChange(name string, from, to resilience.State) {
	if to == resilience.StateOpen {
		slog.Warn("provider circuit opened", "provider", name, "from", from.String())
		return
	}
	slog.Info("provider circuit state changed", "provider", name, "from", from.String(), "to", to.String())
}

// streamConfig maps the configuration onto the stream controller settings.
func streamConfig(cfg *config.Config) conversation.StreamConfig {
	return conversation.StreamConfig{
		ThinkingDelay:   cfg.Stream.ThinkingDelay,
		TypingDelay:     cfg.Stream.TypingDelay,
		ShowThinking:    cfg.Stream.ShowThinking,
		ShowCompleted:   cfg.Stream.ShowCompleted,
		HistoryLimit:    cfg.Stream.HistoryLimit,
		FallbackText:    cfg.Conversation.FallbackText,
		UnavailableText: cfg.Stream.UnavailableText,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler with all middleware applied.
func (a *App) Handler() http.Handler { return a.handler }

// ApplyStream replaces the stream pacing. It is called on config hot reload;
// turns already running keep their settings.
func (a *App) ApplyStream(sc config.StreamConfig) {
	a.streams.UpdatePacing(sc.ThinkingDelay, sc.TypingDelay, sc.ShowThinking, sc.ShowCompleted)
	slog.Info("stream pacing updated",
		"thinking_delay", sc.ThinkingDelay,
		"typing_delay", sc.TypingDelay,
		"show_thinking", sc.ShowThinking,
		"show_completed", sc.ShowCompleted,
	)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the listener fails.
// When ctx is done, Run returns context.Canceled (or the underlying cause);
// the caller then calls [App.Shutdown].
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.server.ListenAndServe()
	}()

	slog.Info("http server listening", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting work and tears everything down:
//
//  1. /readyz reports draining.
//  2. Every live session channel is closed, ending streamed turns.
//  3. Running turns are awaited.
//  4. The HTTP server drains in-flight requests.
//  5. Closers run in order.
//
// It is safe to call Shutdown more than once; only the first call has effect.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "live_streams", a.hub.Active(), "closers", len(a.closers))
		a.health.SetDraining(true)
		a.hub.CloseAll()

		done := make(chan struct{})
		go func() {
			a.streams.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while waiting for streamed turns")
		}

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
