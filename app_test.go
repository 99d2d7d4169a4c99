package nexus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/go-lynx/nexus/config"
	"github.com/go-lynx/nexus/discovery"
	"github.com/go-lynx/nexus/events"
	"github.com/go-lynx/nexus/faults"
	"github.com/go-lynx/nexus/modules"
)

type counted struct{}

// TestOrchestrator_StartupAndShutdownOrder tests B before A on the way up
// and A before B on the way down.
func TestOrchestrator_StartupAndShutdownOrder(t *testing.T) {
	rec := &recorder{}
	o := New()
	a, b := newA(rec, deps(keyB)), newB(rec)
	require.NoError(t, o.RegisterModule(a))
	require.NoError(t, o.RegisterModule(b))

	ctx := context.Background()
	require.NoError(t, o.Initialize(ctx))
	assert.True(t, o.Running())
	assert.Equal(t, []string{"B", "A"}, rec.only("init:"))
	assert.Equal(t, []string{"B", "A"}, rec.only("start:"))
	assert.Equal(t, modules.Started, a.State())

	require.NoError(t, o.Shutdown(ctx))
	assert.Equal(t, []string{"A", "B"}, rec.only("shutdown:"))
	assert.Equal(t, modules.Shutdown, b.State())
	assert.False(t, o.Running())
}

func fatalStartup() Option {
	return WithConfig(config.NewMemoryStore(map[string]any{KeyIsolateModuleFailures: false}))
}

func TestOrchestrator_InitFailureIsFatalWhenIsolationDisabled(t *testing.T) {
	rec := &recorder{}
	o := New(fatalStartup())
	a := newA(rec)
	a.initErr = errors.New("no disk")
	require.NoError(t, o.RegisterModule(a))

	err := o.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, a.initErr)
	var f *faults.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, faults.PhaseInit, f.Phase)
	assert.Equal(t, "A", f.Module)
	assert.Contains(t, err.Error(), "INIT_FAILED")
	assert.False(t, o.Running())

	h := o.Recovery().History()
	require.Len(t, h, 1)
	assert.Equal(t, faults.PhaseInit, h[0].Phase)
	assert.Equal(t, "fail", h[0].Strategy)
}

func TestOrchestrator_InitPanicBecomesFault(t *testing.T) {
	rec := &recorder{}
	o := New(fatalStartup())
	a := newA(rec)
	a.panicOn = "init"
	require.NoError(t, o.RegisterModule(a))

	var err error
	assert.NotPanics(t, func() { err = o.Initialize(context.Background()) })
	var pe *faults.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "init exploded", pe.Value)
}

// TestOrchestrator_FailingModuleDoesNotStopOthers tests that with the
// default recovery table a failing module is isolated: an independent
// module still reaches Started and a dependent one is skipped.
func TestOrchestrator_FailingModuleDoesNotStopOthers(t *testing.T) {
	rec := &recorder{}
	o := New()
	a, b, c := newA(rec), newB(rec), newC(rec, deps(keyA))
	a.initErr = errors.New("broken")
	require.NoError(t, o.RegisterModules(a, b, c))

	require.NoError(t, o.Initialize(context.Background()))
	assert.True(t, o.Running())
	assert.Equal(t, modules.Uninitialized, a.State())
	assert.Equal(t, modules.Started, b.State())
	assert.Equal(t, modules.Uninitialized, c.State())
	assert.NotContains(t, rec.only("init:"), "C")

	h := o.Recovery().History()
	require.Len(t, h, 1)
	assert.Equal(t, "isolate", h[0].Strategy)
	assert.True(t, h[0].Recovered)

	require.NoError(t, o.Shutdown(context.Background()))
	assert.Equal(t, []string{"B"}, rec.only("shutdown:"))
}

func TestOrchestrator_StartFailureIsIsolated(t *testing.T) {
	rec := &recorder{}
	o := New()
	a, b := newA(rec), newB(rec, deps(keyA))
	a.startErr = errors.New("port busy")
	a.startFailures = -1
	require.NoError(t, o.RegisterModules(a, b))

	require.NoError(t, o.Initialize(context.Background()))
	assert.Equal(t, modules.Initialized, a.State())
	assert.Equal(t, modules.Initialized, b.State())
	assert.Equal(t, []string{"A"}, rec.only("start:"))

	require.NoError(t, o.Shutdown(context.Background()))
	assert.Equal(t, []string{"B", "A"}, rec.only("shutdown:"))
}

// TestOrchestrator_SecondInitializeStartsLeftoverModules tests that modules
// initialized by a failed Initialize are started by the next one.
func TestOrchestrator_SecondInitializeStartsLeftoverModules(t *testing.T) {
	rec := &recorder{}
	o := New(fatalStartup())
	a, b := newA(rec, modules.WithPriority(1)), newB(rec, modules.WithPriority(2))
	b.initErr = errors.New("not yet")
	require.NoError(t, o.RegisterModules(a, b))

	require.Error(t, o.Initialize(context.Background()))
	assert.Equal(t, modules.Initialized, a.State())
	assert.Equal(t, modules.Uninitialized, b.State())

	b.initErr = nil
	require.NoError(t, o.Initialize(context.Background()))
	assert.True(t, o.Running())
	assert.Equal(t, modules.Started, a.State())
	assert.Equal(t, modules.Started, b.State())
	assert.Equal(t, []string{"A", "B"}, rec.only("start:"))

	require.NoError(t, o.Shutdown(context.Background()))
	assert.Equal(t, []string{"B", "A"}, rec.only("shutdown:"))
}

func TestOrchestrator_RetryStrategyRecoversStart(t *testing.T) {
	rec := &recorder{}
	o := New()
	o.Recovery().RegisterStrategy(faults.CategoryModuleStart, RetryStrategy{Attempts: 2})
	a := newA(rec)
	a.startErr = errors.New("port busy")
	a.startFailures = 1
	require.NoError(t, o.RegisterModule(a))

	require.NoError(t, o.Initialize(context.Background()))
	assert.Equal(t, modules.Started, a.State())
	assert.Equal(t, []string{"A", "A"}, rec.only("start:"))
	assert.True(t, o.Recovery().History()[0].Recovered)
}

func TestOrchestrator_ShutdownContinuesPastFailures(t *testing.T) {
	rec := &recorder{}
	o := New()
	a, b, c := newA(rec), newB(rec), newC(rec)
	a.shutdownErr = errors.New("flush failed")
	b.panicOn = "shutdown"
	require.NoError(t, o.RegisterModules(a, b, c))
	require.NoError(t, o.Initialize(context.Background()))

	assert.NoError(t, o.Shutdown(context.Background()))
	assert.Equal(t, []string{"C", "B", "A"}, rec.only("shutdown:"))
	for _, m := range []modules.Module{a, b, c} {
		assert.Equal(t, modules.Shutdown, m.State())
	}
	var phases []faults.Phase
	for _, r := range o.Recovery().History() {
		phases = append(phases, r.Phase)
		assert.True(t, r.Recovered)
	}
	assert.Equal(t, []faults.Phase{faults.PhaseShutdown, faults.PhaseShutdown}, phases)
}

func TestOrchestrator_ShutdownPersistsConfigAndClearsBusLast(t *testing.T) {
	store := config.NewMemoryStore(nil)
	o := New(WithConfig(store))
	require.NoError(t, o.RegisterModule(newA(&recorder{})))
	require.NoError(t, o.Initialize(context.Background()))
	require.NoError(t, store.Set("app.last_run", "ok", true))

	var stages []events.Stage
	events.Subscribe(o.Bus(), func(e events.OrchestratorStateChanged) { stages = append(stages, e.Stage) })

	require.NoError(t, o.Shutdown(context.Background()))
	assert.Equal(t, []events.Stage{events.StageShuttingDown, events.StageStopped}, stages)
	assert.Equal(t, "ok", store.Persisted()["app.last_run"])
	assert.Zero(t, o.Bus().Stats().Subscriptions)
}

func TestOrchestrator_ShutdownTwiceIsNoOp(t *testing.T) {
	store := config.NewMemoryStore(nil)
	rec := &recorder{}
	o := New(WithConfig(store))
	require.NoError(t, o.RegisterModule(newA(rec)))
	require.NoError(t, o.Initialize(context.Background()))
	require.NoError(t, o.Shutdown(context.Background()))

	require.NoError(t, store.Set("app.after_stop", "x", true))
	var stages []events.Stage
	events.Subscribe(o.Bus(), func(e events.OrchestratorStateChanged) { stages = append(stages, e.Stage) })

	require.NoError(t, o.Shutdown(context.Background()))
	assert.Empty(t, stages)
	assert.NotContains(t, store.Persisted(), "app.after_stop")
	assert.Equal(t, 1, o.Bus().Stats().Subscriptions)
	assert.Equal(t, []string{"A"}, rec.only("shutdown:"))
	assert.Equal(t, events.StageStopped, o.Stage())
}

func TestOrchestrator_ShutdownWithoutInitializeIsNoOp(t *testing.T) {
	o := New()
	require.NoError(t, o.RegisterModule(newA(&recorder{})))
	var stages []events.Stage
	events.Subscribe(o.Bus(), func(e events.OrchestratorStateChanged) { stages = append(stages, e.Stage) })
	require.NoError(t, o.Shutdown(context.Background()))
	assert.Empty(t, stages)
}

func TestOrchestrator_LateRegistration(t *testing.T) {
	rec := &recorder{}
	o := New()
	require.NoError(t, o.RegisterModule(newA(rec)))
	require.NoError(t, o.Initialize(context.Background()))

	b := newB(rec)
	require.NoError(t, o.RegisterModule(b))
	assert.Equal(t, modules.Started, b.State())

	// duplicates are skipped unless registration is strict
	require.NoError(t, o.RegisterModule(newB(rec)))
	assert.Same(t, b, mustGet[*modB](t, o))

	strict := New(WithStrictRegistration(true))
	require.NoError(t, strict.RegisterModule(newA(rec)))
	assert.ErrorIs(t, strict.RegisterModule(newA(rec)), faults.ErrDuplicateModule)

	require.NoError(t, o.Shutdown(context.Background()))
	assert.Equal(t, []string{"B", "A"}, rec.only("shutdown:"))
}

func TestOrchestrator_StrictRegistrationFromConfig(t *testing.T) {
	o := New(WithConfig(config.NewMemoryStore(map[string]any{KeyStrictRegistration: true})))
	require.NoError(t, o.RegisterModule(newA(&recorder{})))
	assert.ErrorIs(t, o.RegisterModule(newA(&recorder{})), faults.ErrDuplicateModule)
}

func TestOrchestrator_RegisterModulesRejectsDuplicates(t *testing.T) {
	rec := &recorder{}
	o := New()

	err := o.RegisterModules(newA(rec), newB(rec), newA(rec))
	assert.ErrorIs(t, err, faults.ErrDuplicateModule)
	assert.Empty(t, o.Modules())

	require.NoError(t, o.RegisterModules(newA(rec)))
	err = o.RegisterModules(newB(rec), newA(rec))
	assert.ErrorIs(t, err, faults.ErrDuplicateModule)
	assert.False(t, HasModule[*modB](o))
	assert.True(t, HasModule[*modA](o))
}

func TestOrchestrator_RegisterModulesWhileRunning(t *testing.T) {
	rec := &recorder{}
	o := New()
	require.NoError(t, o.RegisterModule(newA(rec)))
	require.NoError(t, o.Initialize(context.Background()))

	c, d := newC(rec, deps(keyD)), newD(rec)
	require.NoError(t, o.RegisterModules(c, d))
	assert.Equal(t, []string{"A", "D", "C"}, rec.only("init:"))
	assert.Equal(t, modules.Started, c.State())

	// a batch closing a cycle is rejected before anything is registered
	e := newE(rec, deps(keyB))
	b := newB(rec, deps(modules.KeyOf[*modE]()))
	err := o.RegisterModules(e, b)
	assert.ErrorIs(t, err, faults.ErrCyclicDependency)
	assert.False(t, HasModule[*modE](o))
}

func TestOrchestrator_UnregisterStopsDelivery(t *testing.T) {
	rec := &recorder{}
	o := New()
	a := newA(rec)
	hits := 0
	events.On(a.Handlers(), func(counted) { hits++ })
	require.NoError(t, o.RegisterModule(a))
	require.NoError(t, o.Initialize(context.Background()))

	events.Publish(o.Bus(), counted{})
	assert.True(t, UnregisterModule[*modA](o))
	events.Publish(o.Bus(), counted{})

	assert.Equal(t, 1, hits)
	assert.Equal(t, modules.Shutdown, a.State())
	assert.False(t, HasModule[*modA](o))
	assert.False(t, UnregisterModule[*modA](o))
	assert.False(t, o.UnregisterModuleByName("A"))
}

func TestOrchestrator_HundredEventsNoneDropped(t *testing.T) {
	o := New()
	a := newA(&recorder{})
	hits := 0
	events.On(a.Handlers(), func(counted) { hits++ })
	require.NoError(t, o.RegisterModule(a))
	require.NoError(t, o.Initialize(context.Background()))

	for i := 0; i < 100; i++ {
		events.Publish(o.Bus(), counted{})
	}
	assert.Equal(t, 100, hits)
}

type greeter interface {
	modules.Module
	Greet() string
}

type english struct{ modules.Base }

func (*english) Greet() string { return "hello" }

type french struct{ modules.Base }

func (*french) Greet() string { return "bonjour" }

func TestOrchestrator_RegisterAsInterfaceAndReplace(t *testing.T) {
	o := New()
	en := &english{Base: modules.NewBase("greeter")}
	require.NoError(t, RegisterModuleAs[greeter](o, en))
	assert.ErrorIs(t, RegisterModuleAs[greeter](New(), newA(&recorder{})), faults.ErrInvalidArgument)
	require.NoError(t, o.Initialize(context.Background()))

	g := mustGet[greeter](t, o)
	assert.Equal(t, "hello", g.Greet())
	en2, ok := GetModule[*english](o)
	require.True(t, ok)
	assert.Same(t, en, en2)

	fr := &french{}
	require.NoError(t, ReplaceModule[greeter](o, fr))
	assert.Equal(t, "bonjour", mustGet[greeter](t, o).Greet())
	assert.Equal(t, modules.Shutdown, en.State())
	assert.Equal(t, modules.Started, fr.State())
	assert.Equal(t, "greeter", fr.Name())

	order, err := o.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"greeter"}, order)
}

func TestOrchestrator_DependsOnInterfaceKey(t *testing.T) {
	rec := &recorder{}
	o := New()
	a := newA(rec, deps(modules.KeyOf[greeter]()))
	require.NoError(t, o.RegisterModule(a))
	require.NoError(t, RegisterModuleAs[greeter](o, &english{Base: modules.NewBase("greeter")}))

	order, err := o.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"greeter", "A"}, order)
}

func TestOrchestrator_Discovery(t *testing.T) {
	rec := &recorder{}
	cat := discovery.NewCatalog()
	require.NoError(t, discovery.RegisterType(cat, "beta", 2, func() *modB { return &modB{testModule{rec: rec}} }))
	require.NoError(t, discovery.RegisterType(cat, "alpha", 1, func() *modA { return &modA{testModule{rec: rec}} }))
	require.NoError(t, cat.Register("broken", 0, modules.Key{}, func() (modules.Module, error) {
		return nil, errors.New("ctor failed")
	}))

	o := New(WithCatalog(cat))
	require.NoError(t, o.Initialize(context.Background()))

	assert.Equal(t, []string{"alpha", "beta"}, rec.only("start:"))
	m, ok := o.GetModuleByName("beta")
	require.True(t, ok)
	assert.Equal(t, 2, m.Priority())

	var diagnostics int
	for _, r := range o.Recovery().History() {
		if r.Category == faults.CategoryDiagnostic {
			diagnostics++
		}
	}
	assert.Equal(t, 1, diagnostics)
}

func TestOrchestrator_BusPanicsReachRecovery(t *testing.T) {
	o := New()
	events.Subscribe(o.Bus(), func(counted) { panic("handler bug") })
	events.Publish(o.Bus(), counted{})

	h := o.Recovery().History()
	require.Len(t, h, 1)
	assert.Equal(t, faults.CategoryBusDispatch, h[0].Category)
}

func TestOrchestrator_ModuleEventsObservable(t *testing.T) {
	o := New()
	var seen []string
	events.Subscribe(o.Bus(), func(e events.ModuleEvent) { seen = append(seen, e.ModuleName()) })

	require.NoError(t, o.RegisterModule(newA(&recorder{})))
	require.NoError(t, o.Initialize(context.Background()))
	require.NoError(t, o.Shutdown(context.Background()))

	// registered, initialized, started, shut down
	assert.Equal(t, []string{"A", "A", "A", "A"}, seen)
}

func TestOrchestrator_LifecycleSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	rec := &recorder{}
	o := New(WithTracerProvider(tp), fatalStartup())
	b := newB(rec)
	b.startErr = errors.New("boom")
	b.startFailures = -1
	require.NoError(t, o.RegisterModules(newA(rec), b))

	require.Error(t, o.Initialize(context.Background()))

	byName := map[string][]sdktrace.ReadOnlySpan{}
	for _, s := range sr.Ended() {
		byName[s.Name()] = append(byName[s.Name()], s)
	}
	assert.Len(t, byName["nexus.module.init"], 2)
	require.Len(t, byName["nexus.module.start"], 2)
	assert.Equal(t, codes.Unset, byName["nexus.module.start"][0].Status().Code)
	assert.Equal(t, codes.Error, byName["nexus.module.start"][1].Status().Code)
	require.Len(t, byName["nexus.initialize"], 1)
	assert.Equal(t, codes.Error, byName["nexus.initialize"][0].Status().Code)
}

func TestOrchestrator_InitializeTwiceIsNoOp(t *testing.T) {
	rec := &recorder{}
	o := New()
	require.NoError(t, o.RegisterModule(newA(rec)))
	require.NoError(t, o.Initialize(context.Background()))
	require.NoError(t, o.Initialize(context.Background()))
	assert.Equal(t, []string{"A"}, rec.only("init:"))
}

func mustGet[T any](t *testing.T, o *Orchestrator) T {
	t.Helper()
	v, ok := GetModule[T](o)
	require.True(t, ok)
	return v
}
