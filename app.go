package nexus

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-lynx/nexus/config"
	"github.com/go-lynx/nexus/discovery"
	"github.com/go-lynx/nexus/events"
	"github.com/go-lynx/nexus/faults"
	"github.com/go-lynx/nexus/log"
	"github.com/go-lynx/nexus/modules"
)

// Configuration keys read by the orchestrator.
const (
	KeyHistorySize           = "nexus.recovery.history_size"
	KeyIsolateModuleFailures = "nexus.recovery.isolate_module_failures"
	KeyStrictRegistration    = "nexus.modules.strict_registration"
)

const instrumentationName = "github.com/go-lynx/nexus"

// entry is one registered module.
type entry struct {
	key    modules.Key
	name   string
	module modules.Module
	// seq is the registration sequence number.
	seq uint64
}

// Orchestrator owns the module registry, the event bus and the recovery
// manager. Create exactly one per process with New and drive it from a
// single goroutine: Initialize, then ProcessPending once per host tick,
// then Shutdown.
type Orchestrator struct {
	cfg      config.Store
	catalog  *discovery.Catalog
	recovery *ErrorRecoveryManager
	tracer   trace.Tracer
	strict   *bool
	bus      *events.Bus

	entries map[modules.Key]*entry
	byName  map[string]*entry
	// sorted is the working initialization order; nil when stale.
	sorted []*entry
	// started lists modules in the order they reached Started.
	started []*entry
	seq     uint64

	stage events.Stage
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the configuration store.
func WithConfig(store config.Store) Option {
	return func(o *Orchestrator) { o.cfg = store }
}

// WithCatalog sets the catalog whose modules are registered by Initialize.
func WithCatalog(c *discovery.Catalog) Option {
	return func(o *Orchestrator) { o.catalog = c }
}

// WithRecovery replaces the default recovery manager.
func WithRecovery(m *ErrorRecoveryManager) Option {
	return func(o *Orchestrator) { o.recovery = m }
}

// WithTracerProvider sets the provider of lifecycle spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithStrictRegistration makes a duplicate single registration an error
// instead of a logged no-op. It overrides the configuration key.
func WithStrictRegistration(strict bool) Option {
	return func(o *Orchestrator) { o.strict = &strict }
}

// New creates an orchestrator. The bus exists from the start so observers
// can subscribe before Initialize.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		entries: make(map[modules.Key]*entry),
		byName:  make(map[string]*entry),
		stage:   events.StageStopped,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg == nil {
		o.cfg = config.NewMemoryStore(nil)
	}
	if o.tracer == nil {
		o.tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}
	if o.strict == nil {
		strict := config.Get(o.cfg, KeyStrictRegistration, false)
		o.strict = &strict
	}
	if o.recovery == nil {
		o.recovery = NewErrorRecoveryManager(WithHistorySize(config.Get(o.cfg, KeyHistorySize, DefaultHistorySize)))
		if !config.Get(o.cfg, KeyIsolateModuleFailures, true) {
			o.recovery.RegisterStrategy(faults.CategoryModuleInit, FailStrategy{})
			o.recovery.RegisterStrategy(faults.CategoryModuleStart, FailStrategy{})
		}
	}
	o.bus = events.New(events.OptionsFromConfig(o.cfg))
	o.recovery.Attach(o.bus)
	o.bus.SetFaultHandler(func(err error) {
		o.recovery.HandleFault(context.Background(), err, RecoveryContext{})
	})
	return o
}

// Bus returns the event bus.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// Config returns the configuration store.
func (o *Orchestrator) Config() config.Store { return o.cfg }

// Recovery returns the error recovery manager.
func (o *Orchestrator) Recovery() *ErrorRecoveryManager { return o.recovery }

// Running reports whether Initialize completed and Shutdown has not begun.
func (o *Orchestrator) Running() bool { return o.stage == events.StageRunning }

// Stage returns the current orchestrator stage.
func (o *Orchestrator) Stage() events.Stage { return o.stage }

// ProcessPending drains deferred bus deliveries; call it once per host tick.
func (o *Orchestrator) ProcessPending() int { return o.bus.ProcessPending() }

func (o *Orchestrator) setStage(s events.Stage) {
	o.stage = s
	events.Publish(o.bus, events.OrchestratorStateChanged{Stage: s, At: time.Now()})
}

// Initialize registers discovered modules, resolves the dependency order,
// initializes every module and then starts every module. An unrecovered
// init or start fault aborts and is returned; call Shutdown afterwards to
// release the modules that did come up.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	switch o.stage {
	case events.StageRunning:
		log.Warnf("orchestrator already running")
		return nil
	case events.StageInitializing, events.StageShuttingDown:
		return fmt.Errorf("%w: orchestrator is %s", faults.ErrInvalidState, o.stage)
	}

	ctx, span := o.tracer.Start(ctx, "nexus.initialize")
	defer span.End()

	o.setStage(events.StageInitializing)
	o.discover(ctx)

	order, err := o.resolve()
	if err != nil {
		o.recovery.HandleFault(ctx, err, RecoveryContext{})
		o.stage = events.StageStopped
		recordSpanError(span, err)
		return err
	}
	log.Infof("initializing %d modules", len(order))

	if err := o.bringUp(ctx, order); err != nil {
		o.stage = events.StageStopped
		recordSpanError(span, err)
		return err
	}
	o.setStage(events.StageRunning)
	return nil
}

// Shutdown shuts modules down in the reverse of their startup order, then
// those that initialized but never started, persists the configuration and
// clears the bus. Module failures are logged and never stop the sequence;
// the returned error only reports a failed configuration persist. Calling
// it again once stopped with no active modules is a no-op.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if o.stage == events.StageStopped && len(o.shutdownOrder()) == 0 {
		log.Debugf("orchestrator already stopped")
		return nil
	}

	ctx, span := o.tracer.Start(ctx, "nexus.shutdown")
	defer span.End()

	o.setStage(events.StageShuttingDown)
	for _, e := range o.shutdownOrder() {
		o.shutdownEntry(ctx, e)
	}
	o.started = nil

	err := o.cfg.Persist()
	if err != nil {
		log.Errorw("msg", "persist configuration failed", "error", err)
		recordSpanError(span, err)
	}

	o.setStage(events.StageStopped)
	o.bus.Clear()
	return err
}

// Module returns the module registered under key, or whose concrete type is key.
func (o *Orchestrator) Module(key modules.Key) (modules.Module, bool) {
	e, ok := o.lookup(key)
	if !ok {
		return nil, false
	}
	return e.module, true
}

// ModuleByName implements modules.Runtime.
func (o *Orchestrator) ModuleByName(name string) (modules.Module, bool) {
	e, ok := o.byName[name]
	if !ok {
		return nil, false
	}
	return e.module, true
}

// GetModuleByName returns the module registered with name.
func (o *Orchestrator) GetModuleByName(name string) (modules.Module, bool) {
	return o.ModuleByName(name)
}

func (o *Orchestrator) lookup(key modules.Key) (*entry, bool) {
	if e, ok := o.entries[key]; ok {
		return e, true
	}
	for _, e := range o.registrationOrder() {
		if modules.KeyFor(e.module) == key {
			return e, true
		}
	}
	return nil, false
}

// GetModule returns the module registered under T, or whose concrete type is T.
func GetModule[T any](o *Orchestrator) (T, bool) {
	var zero T
	m, ok := o.Module(modules.KeyOf[T]())
	if !ok {
		return zero, false
	}
	t, ok := m.(T)
	return t, ok
}

// HasModule reports whether a module is registered under T.
func HasModule[T any](o *Orchestrator) bool {
	_, ok := o.Module(modules.KeyOf[T]())
	return ok
}

// Modules returns the registered modules in resolved order, or in
// registration order when the dependency graph cannot be resolved.
func (o *Orchestrator) Modules() []modules.Module {
	order, err := o.resolve()
	if err != nil {
		order = o.registrationOrder()
	}
	out := make([]modules.Module, len(order))
	for i, e := range order {
		out[i] = e.module
	}
	return out
}

// Order returns the resolved initialization order by module name.
func (o *Orchestrator) Order() ([]string, error) {
	order, err := o.resolve()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(order))
	for i, e := range order {
		names[i] = e.name
	}
	return names, nil
}
