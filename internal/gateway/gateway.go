package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/stellarlinkco/pacebot/internal/bus"
	"github.com/stellarlinkco/pacebot/internal/channel"
	"github.com/stellarlinkco/pacebot/internal/config"
	"github.com/stellarlinkco/pacebot/internal/cron"
	"github.com/stellarlinkco/pacebot/internal/decision"
	"github.com/stellarlinkco/pacebot/internal/pacing"
	"github.com/stellarlinkco/pacebot/internal/persona"
	"github.com/stellarlinkco/pacebot/internal/social"
	"github.com/stellarlinkco/pacebot/internal/store"
)

const drainTimeout = 10 * time.Second

// Runtime interface for agent runtime (allows mocking in tests)
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

// runtimeAdapter wraps api.Runtime to implement Runtime interface
type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// RuntimeFactory creates a Runtime speaking with sysPrompt. The gateway keeps
// one per persona.
type RuntimeFactory func(cfg *config.Config, sysPrompt string) (Runtime, error)

// Options for creating a Gateway
type Options struct {
	RuntimeFactory RuntimeFactory
	SignalChan     chan os.Signal // for testing signal handling
	// HTTPAddr overrides the gateway host:port for /metrics and /healthz.
	HTTPAddr string
	// Channels are added alongside the configured transports.
	Channels        []channel.Channel
	DecisionOptions []decision.Option
	PacingOptions   []pacing.Option
	Clock           func() time.Time
}

// DefaultRuntimeFactory creates the default agentsdk-go runtime
func DefaultRuntimeFactory(cfg *config.Config, sysPrompt string) (Runtime, error) {
	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   cfg.Agent.Workspace,
		ModelFactory:  provider,
		SystemPrompt:  sysPrompt,
		MaxIterations: cfg.Agent.MaxIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

type Gateway struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	store    *store.Store
	users    *social.Registry
	assessor *social.TrustAssessor
	engine   *decision.Engine
	pacer    *pacing.Simulator
	personas *persona.Registry
	channels *channel.ChannelManager
	cron     *cron.Service
	now      func() time.Time

	runtimeFactory RuntimeFactory
	runtimeMu      sync.Mutex
	runtimes       map[string]Runtime

	httpAddr string
	http     *http.Server
	httpLn   net.Listener

	inflight   sync.WaitGroup
	signalChan chan os.Signal // for testing
	closeOnce  sync.Once
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:            cfg,
		bus:            bus.NewMessageBus(config.DefaultBufSize),
		assessor:       social.NewTrustAssessor(cfg.TrustAdjustment),
		runtimeFactory: opts.RuntimeFactory,
		runtimes:       make(map[string]Runtime),
		signalChan:     opts.SignalChan,
		now:            opts.Clock,
		httpAddr:       opts.HTTPAddr,
	}
	if g.runtimeFactory == nil {
		g.runtimeFactory = DefaultRuntimeFactory
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.httpAddr == "" {
		g.httpAddr = net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	}

	pacingOpts := append([]pacing.Option(nil), opts.PacingOptions...)
	g.pacer = pacing.NewSimulator(cfg.Pacing, pacingOpts...)

	decisionOpts := []decision.Option{decision.WithDelayEstimator(g.pacer), decision.WithClock(g.now)}
	decisionOpts = append(decisionOpts, opts.DecisionOptions...)
	engine, err := decision.NewEngine(cfg.Decision, decisionOpts...)
	if err != nil {
		return nil, fmt.Errorf("create decision engine: %w", err)
	}
	g.engine = engine

	personas, err := persona.LoadRegistry(cfg.PersonaDir())
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}
	g.personas = personas
	if !personas.Has(cfg.Decision.DefaultPersona) {
		log.Printf("[gateway] warning: default persona %q not found, using %q", cfg.Decision.DefaultPersona, persona.Default)
	}

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.store = st
	g.users = social.NewRegistry(st)

	g.cron = cron.NewService(MaintenanceStatePath(cfg))
	retention := time.Duration(cfg.Store.HistoryRetentionDays) * 24 * time.Hour
	if err := g.cron.AddJob(cron.PruneHistoryJob(st, retention, cfg.Store.PruneSchedule, g.now)); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("register prune job: %w", err)
	}

	chMgr, err := channel.NewChannelManager(cfg.Channels, cfg.Gateway.Host, g.bus)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	for _, ch := range opts.Channels {
		chMgr.Add(ch)
	}
	g.channels = chMgr

	return g, nil
}

// MaintenanceStatePath is where scheduled job state is kept, next to the database.
func MaintenanceStatePath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.DBPath()), "maintenance.json")
}

// Bus exposes the message bus so transports and tests can publish into it.
func (g *Gateway) Bus() *bus.MessageBus {
	return g.bus
}

// runtimeFor returns the runtime for p, creating it on first use.
func (g *Gateway) runtimeFor(p persona.Persona) (Runtime, error) {
	g.runtimeMu.Lock()
	defer g.runtimeMu.Unlock()
	if rt, ok := g.runtimes[p.Name]; ok {
		return rt, nil
	}
	rt, err := g.runtimeFactory(g.cfg, p.Prompt)
	if err != nil {
		return nil, fmt.Errorf("create runtime for persona %s: %w", p.Name, err)
	}
	g.runtimes[p.Name] = rt
	return rt, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.startHTTP(); err != nil {
		return err
	}

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s as @%s", g.HTTPAddr(), g.botUsername())

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	cancel()
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.inflight.Add(1)
			go func() {
				defer g.inflight.Done()
				g.handle(ctx, msg)
			}()
		case <-ctx.Done():
			return
		}
	}
}

// botUsername prefers the name the transport authenticated as.
func (g *Gateway) botUsername() string {
	return g.channels.BotUsername(g.cfg.Agent.BotUsername)
}

// Shutdown waits for in-flight messages (whose pacing aborts once the run
// context is cancelled) and releases every component. Safe to call twice.
func (g *Gateway) Shutdown() error {
	g.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			g.inflight.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(drainTimeout):
			log.Printf("[gateway] timed out waiting for in-flight messages")
		}

		g.cron.Stop()
		_ = g.channels.StopAll()
		g.stopHTTP()

		g.runtimeMu.Lock()
		for name, rt := range g.runtimes {
			rt.Close()
			delete(g.runtimes, name)
		}
		g.runtimeMu.Unlock()

		if err := g.store.Close(); err != nil {
			log.Printf("[gateway] close store warning: %v", err)
		}
		log.Printf("[gateway] shutdown complete")
	})
	return nil
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
