// Package modules defines the contract every feature unit implements and
// the lifecycle state machine that drives it.
package modules

import (
	"context"
	"slices"

	"github.com/go-lynx/nexus/config"
	"github.com/go-lynx/nexus/events"
)

// Module is a feature unit managed by the orchestrator.
//
// Implementations embed Base, which supplies identity, state and no-op
// hooks, and override the hooks they need:
//
//	type Cache struct {
//		modules.Base
//	}
//
//	func NewCache() *Cache {
//		return &Cache{Base: modules.NewBase("cache", modules.WithPriority(10))}
//	}
//
//	func (c *Cache) OnInit(ctx context.Context, rt modules.Runtime) error { ... }
type Module interface {
	Name() string
	// Priority orders modules that have no dependency relation; lower first.
	Priority() int
	Dependencies() []Key
	State() State

	OnInit(ctx context.Context, rt Runtime) error
	OnStart(ctx context.Context, rt Runtime) error
	OnShutdown(ctx context.Context, rt Runtime) error

	base() *Base
}

// HandlerProvider is implemented by modules that own bus handlers. The set
// is bound right before OnInit and unbound when the module shuts down. It
// must return the same set on every call.
type HandlerProvider interface {
	Handlers() *events.HandlerSet
}

// Runtime is the view of the orchestrator handed to module hooks.
type Runtime interface {
	Bus() *events.Bus
	Config() config.Store
	Module(key Key) (Module, bool)
	ModuleByName(name string) (Module, bool)
}

// Lookup returns the module registered under T.
func Lookup[T any](rt Runtime) (T, bool) {
	var zero T
	if rt == nil {
		return zero, false
	}
	m, ok := rt.Module(KeyOf[T]())
	if !ok {
		return zero, false
	}
	t, ok := m.(T)
	return t, ok
}

// Base carries the state shared by all modules. Embed it by value or pointer.
type Base struct {
	name     string
	priority int
	deps     []Key
	state    State
	// bound is the handler set bound at init, unbound at shutdown.
	bound *events.HandlerSet
}

// BaseOption configures a Base.
type BaseOption func(*Base)

// WithPriority sets the ordering priority.
func WithPriority(p int) BaseOption {
	return func(b *Base) { b.priority = p }
}

// WithDependencies declares the modules that must initialize first.
func WithDependencies(keys ...Key) BaseOption {
	return func(b *Base) { b.DependsOn(keys...) }
}

// NewBase returns a Base named name.
func NewBase(name string, opts ...BaseOption) Base {
	b := Base{name: name}
	for _, o := range opts {
		o(&b)
	}
	return b
}

func (b *Base) Name() string  { return b.name }
func (b *Base) Priority() int { return b.priority }
func (b *Base) State() State  { return b.state }

// SetName renames the module. It only has an effect before registration.
func (b *Base) SetName(name string) { b.name = name }

// SetPriority changes the ordering priority.
func (b *Base) SetPriority(p int) { b.priority = p }

// DependsOn appends dependencies, skipping zero keys and duplicates.
func (b *Base) DependsOn(keys ...Key) {
	for _, k := range keys {
		if k.IsZero() || slices.Contains(b.deps, k) {
			continue
		}
		b.deps = append(b.deps, k)
	}
}

// Dependencies returns a copy of the declared dependencies.
func (b *Base) Dependencies() []Key { return slices.Clone(b.deps) }

func (b *Base) OnInit(context.Context, Runtime) error     { return nil }
func (b *Base) OnStart(context.Context, Runtime) error    { return nil }
func (b *Base) OnShutdown(context.Context, Runtime) error { return nil }

func (b *Base) base() *Base { return b }

// EnsureName gives an unnamed module the fallback name and returns the
// effective name.
func EnsureName(m Module, fallback string) string {
	b := m.base()
	if b.name == "" {
		b.name = fallback
	}
	return b.name
}

// EnsurePriority gives a module without an explicit priority the declared
// catalog priority.
func EnsurePriority(m Module, p int) {
	if b := m.base(); b.priority == 0 {
		b.priority = p
	}
}
