// Package runtime runs the fleet: one agent loop per configured character
// that exists on the account, isolated from each other and reloaded in
// place when the settings change.
package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/mmopilot/pkg/agent"
	"github.com/jllopis/mmopilot/pkg/artifacts"
	"github.com/jllopis/mmopilot/pkg/config"
	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/errors"
	"github.com/jllopis/mmopilot/pkg/planner"
	"github.com/jllopis/mmopilot/pkg/resilience"
	"github.com/jllopis/mmopilot/pkg/telemetry"
)

// Fleet owns the agents of one account.
type Fleet struct {
	mu       sync.Mutex
	cfg      *config.Config
	clients  map[string]core.ActionClient
	agents   map[string]*agent.Agent
	failures map[string]error

	health    *core.HealthRegistry
	audit     planner.AuditStore
	metrics   *telemetry.AgentMetrics
	emitter   core.EventEmitter
	logger    *slog.Logger
	tracer    trace.Tracer
	agentOpts []agent.Option
	breakers  map[string]*resilience.CircuitBreaker

	running bool
	runCtx  context.Context
	active  int
	done    chan struct{}
	closed  bool
	wg      sync.WaitGroup

	auditPruners      []AuditPruner
	auditRetention    time.Duration
	auditSweepEvery   time.Duration
	auditSweepTimeout time.Duration
	auditSweepCancel  context.CancelFunc
	auditSweepDone    chan struct{}
}

// Option configures a Fleet.
type Option func(*Fleet)

// WithLogger sets the fleet logger; agents derive theirs from it.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fleet) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithAuditStore records every action outcome in store.
func WithAuditStore(store planner.AuditStore) Option {
	return func(f *Fleet) { f.audit = store }
}

// WithMetrics records agent metrics.
func WithMetrics(m *telemetry.AgentMetrics) Option {
	return func(f *Fleet) { f.metrics = m }
}

// WithEventEmitter receives the semantic events of every agent.
func WithEventEmitter(emitter core.EventEmitter) Option {
	return func(f *Fleet) {
		if emitter != nil {
			f.emitter = emitter
		}
	}
}

// WithHealthRegistry registers agent health checks in registry instead of
// a private one.
func WithHealthRegistry(registry *core.HealthRegistry) Option {
	return func(f *Fleet) {
		if registry != nil {
			f.health = registry
		}
	}
}

// WithBreakerHealth reports the state of the client circuit breaker as a
// health component.
func WithBreakerHealth(name string, cb *resilience.CircuitBreaker) Option {
	return func(f *Fleet) {
		if cb != nil {
			f.breakers[name] = cb
		}
	}
}

func breakerHealth(name string, cb *resilience.CircuitBreaker) core.HealthFunc {
	return func(context.Context) core.HealthResult {
		state := cb.State()
		result := core.HealthResult{Component: name, Status: core.HealthHealthy, Message: string(state)}
		switch state {
		case resilience.StateOpen:
			result.Status = core.HealthUnhealthy
		case resilience.StateHalfOpen:
			result.Status = core.HealthDegraded
		}
		return result
	}
}

// WithAgentOptions appends options to every agent the fleet creates.
func WithAgentOptions(opts ...agent.Option) Option {
	return func(f *Fleet) { f.agentOpts = append(f.agentOpts, opts...) }
}

// New builds one agent per configured character found among clients.
// Configured characters missing from the account are skipped with a
// warning; at least one must remain.
func New(cfg *config.Config, clients []core.ActionClient, opts ...Option) (*Fleet, error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeInvalidInput, "settings are required", nil)
	}
	f := &Fleet{
		cfg:      cfg,
		clients:  make(map[string]core.ActionClient, len(clients)),
		agents:   make(map[string]*agent.Agent),
		failures: make(map[string]error),
		health:   core.NewHealthRegistry(),
		emitter:  core.NoopEventEmitter{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("mmopilot/runtime"),
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	for name, cb := range f.breakers {
		f.health.Register(name, breakerHealth(name, cb))
	}
	for _, client := range clients {
		f.clients[client.Name()] = client
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range cfg.Characters {
		if _, err := f.addLocked(ch); err != nil {
			return nil, err
		}
	}
	if len(f.agents) == 0 {
		return nil, errors.New(errors.CodeNotFound, "none of the configured characters exist on the account", nil)
	}

	if cfg.Audit.RetentionHours > 0 {
		if pruner, ok := f.audit.(AuditPruner); ok {
			f.AddAuditPruner(pruner)
			f.SetAuditRetention(time.Duration(cfg.Audit.RetentionHours) * time.Hour)
		}
	}
	return f, nil
}

// addLocked creates the agent of ch, or reloads it when it already exists.
// The agent is nil when the character is not on the account.
func (f *Fleet) addLocked(ch config.CharacterConfig) (*agent.Agent, error) {
	if existing, ok := f.agents[ch.Name]; ok {
		if err := existing.Reload(ch.RuleSet()); err != nil {
			return nil, err
		}
		f.relaunchLocked(existing)
		return existing, nil
	}
	client, ok := f.clients[ch.Name]
	if !ok {
		f.logger.Warn("runtime.character.missing",
			slog.String("character", ch.Name),
			slog.String("reason", "not found on the account, skipping"),
		)
		return nil, nil
	}
	opts := []agent.Option{
		agent.WithLogger(f.logger),
		agent.WithAuditStore(f.audit),
		agent.WithMetrics(f.metrics),
		agent.WithEventEmitter(f.emitter),
		agent.WithMaxWhilePasses(f.cfg.Planner.MaxWhilePasses),
	}
	a, err := agent.New(client, ch.RuleSet(), append(opts, f.agentOpts...)...)
	if err != nil {
		return nil, err
	}
	f.agents[ch.Name] = a
	f.health.Register("agent:"+ch.Name, agent.NewHealthChecker(a))
	if f.running && !f.closed {
		f.launchLocked(a)
	}
	return a, nil
}

// Run starts every agent and blocks until ctx is done or every loop has
// ended on a fatal fault. Fatal faults stop only the agent that raised
// them; they are reported together when Run returns.
func (f *Fleet) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("fleet is already running")
	}
	f.running = true
	f.closed = false
	f.runCtx = ctx
	f.done = make(chan struct{})
	for _, name := range f.namesLocked() {
		f.launchLocked(f.agents[name])
	}
	if f.active == 0 {
		f.closed = true
		close(f.done)
	}
	count := len(f.agents)
	done := f.done
	f.mu.Unlock()

	log := f.logger
	spanCtx, span := f.tracer.Start(ctx, "Runtime.Run", trace.WithAttributes(
		attribute.Int("agents", count),
	))
	traceID, spanID := traceIDs(span)
	log.InfoContext(spanCtx, "runtime.run.start",
		slog.Int("agents", count),
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
	)
	span.End()

	f.startAuditSweeper()
	defer f.stopAuditSweeper()

	select {
	case <-ctx.Done():
	case <-done:
	}
	f.wg.Wait()

	f.mu.Lock()
	f.running = false
	f.runCtx = nil
	f.mu.Unlock()

	err := f.Err()
	if err != nil {
		log.Error("runtime.run.error",
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()),
		)
		return err
	}
	log.Info("runtime.run.complete", slog.String("trace_id", traceID))
	return nil
}

func (f *Fleet) launchLocked(a *agent.Agent) {
	ctx := f.runCtx
	f.active++
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		err := a.Run(ctx)
		f.exited(a.Name(), err)
	}()
}

// relaunchLocked restarts an agent whose loop ended on a fatal fault.
func (f *Fleet) relaunchLocked(a *agent.Agent) {
	if _, failed := f.failures[a.Name()]; !failed {
		return
	}
	if !f.running || f.closed {
		return
	}
	delete(f.failures, a.Name())
	f.launchLocked(a)
}

func (f *Fleet) exited(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active--
	if err != nil {
		f.failures[name] = err
		_, span := f.tracer.Start(context.Background(), "Runtime.AgentFault", trace.WithAttributes(
			attribute.String("agent.name", name),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		traceID, spanID := traceIDs(span)
		span.End()
		f.logger.Error("runtime.agent.fatal",
			slog.String("agent", name),
			slog.String("code", string(errors.AsPilotError(err).Code)),
			slog.String("trace_id", traceID),
			slog.String("span_id", spanID),
			slog.String("error", err.Error()),
		)
	}
	if f.active == 0 && !f.closed {
		f.closed = true
		close(f.done)
	}
}

// Apply reconciles the fleet with next: changed characters are reloaded,
// added ones are started and removed ones are stopped. Invalid rules for
// one character leave that character on its previous rules.
func (f *Fleet) Apply(next *config.Config) config.Changes {
	f.mu.Lock()
	defer f.mu.Unlock()

	changes := config.Diff(f.cfg, next)
	for _, name := range changes.Changed {
		ch, _ := next.Character(name)
		a, ok := f.agents[name]
		if !ok {
			if _, err := f.addLocked(ch); err != nil {
				f.reloadFailed(name, err)
			}
			continue
		}
		if err := a.Reload(ch.RuleSet()); err != nil {
			f.reloadFailed(name, err)
			continue
		}
		f.relaunchLocked(a)
		f.logger.Info("runtime.character.reloaded", slog.String("character", name))
	}
	for _, name := range changes.Added {
		ch, _ := next.Character(name)
		a, err := f.addLocked(ch)
		if err != nil {
			f.reloadFailed(name, err)
			continue
		}
		if a != nil {
			f.logger.Info("runtime.character.added", slog.String("character", name))
		}
	}
	for _, name := range changes.Removed {
		if a, ok := f.agents[name]; ok {
			a.Stop()
			f.logger.Info("runtime.character.removed", slog.String("character", name))
		}
	}
	f.cfg = next
	return changes
}

func (f *Fleet) reloadFailed(name string, err error) {
	f.logger.Error("runtime.character.reload.error",
		slog.String("character", name),
		slog.String("error", err.Error()),
	)
}

// Watch applies every reload of w until the watcher stops.
func (f *Fleet) Watch(w *config.Watcher) {
	w.OnChange(func(cfg *config.Config) {
		changes := f.Apply(cfg)
		if changes.Empty() {
			f.logger.Debug("runtime.reload.noop")
		}
	})
}

// Agent returns the agent of name.
func (f *Fleet) Agent(name string) (*agent.Agent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[name]
	return a, ok
}

// Agents returns every agent sorted by name.
func (f *Fleet) Agents() []*agent.Agent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*agent.Agent, 0, len(f.agents))
	for _, name := range f.namesLocked() {
		out = append(out, f.agents[name])
	}
	return out
}

// Health returns the registry holding the agent checks.
func (f *Fleet) Health() *core.HealthRegistry { return f.health }

// Config returns the settings currently applied.
func (f *Fleet) Config() *config.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

// Err joins the fatal faults of the agents whose loops ended.
func (f *Fleet) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.failures))
	for name := range f.failures {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, f.failures[name]))
	}
	return stderrors.Join(errs...)
}

func (f *Fleet) namesLocked() []string {
	names := make([]string, 0, len(f.agents))
	for name := range f.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connect logs in to the game API and returns a client for every character
// of the account.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...artifacts.ClientOption) (*artifacts.Client, []core.ActionClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := artifacts.NewClient(artifacts.Config{
		BaseURL:   cfg.API.URL,
		Token:     cfg.API.Token,
		Timeout:   time.Duration(cfg.API.TimeoutSeconds) * time.Second,
		RateLimit: cfg.API.RateLimit,
		Burst:     cfg.API.Burst,
	}, append([]artifacts.ClientOption{artifacts.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	data, err := client.GetCharacters(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list characters: %w", err)
	}
	out := make([]core.ActionClient, 0, len(data))
	for _, d := range data {
		out = append(out, artifacts.NewCharacter(client, d, logger))
	}
	return client, out, nil
}

// OpenAuditStore opens the audit store selected by cfg. The returned close
// function is never nil.
func OpenAuditStore(cfg config.AuditConfig) (planner.AuditStore, func() error, error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := planner.OpenSQLiteAuditStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit store: %w", err)
		}
		return store, store.Close, nil
	case "", "memory":
		return planner.NewBoundedAuditStore(cfg.MaxEvents), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
}

func traceIDs(span trace.Span) (string, string) {
	sc := span.SpanContext()
	return sc.TraceID().String(), sc.SpanID().String()
}
