package nexus

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/go-lynx/nexus/events"
	"github.com/go-lynx/nexus/faults"
	"github.com/go-lynx/nexus/log"
	"github.com/go-lynx/nexus/modules"
)

func effectiveName(m modules.Module, key modules.Key) string {
	if n := m.Name(); n != "" {
		return n
	}
	return key.ShortName()
}

func (o *Orchestrator) checkNew(key modules.Key, m modules.Module) (string, error) {
	if err := modules.Validate(m); err != nil {
		return "", err
	}
	if key.IsZero() {
		return "", fmt.Errorf("%w: zero registration key", faults.ErrInvalidArgument)
	}
	if !modules.KeyFor(m).Implements(key) {
		return "", fmt.Errorf("%w: %T cannot be registered as %s", faults.ErrInvalidArgument, m, key)
	}
	name := effectiveName(m, key)
	if _, exists := o.entries[key]; exists {
		return name, fmt.Errorf("%w: %s is already registered", faults.ErrDuplicateModule, key)
	}
	if _, exists := o.byName[name]; exists {
		return name, fmt.Errorf("%w: a module named %s is already registered", faults.ErrDuplicateModule, name)
	}
	return name, nil
}

func (o *Orchestrator) add(key modules.Key, name string, m modules.Module) *entry {
	o.seq++
	modules.EnsureName(m, name)
	e := &entry{key: key, name: name, module: m, seq: o.seq}
	o.entries[key] = e
	o.byName[name] = e
	events.Publish(o.bus, events.ModuleRegistered{Module: name, Key: key.String()})
	return e
}

// RegisterModule registers m under its dynamic type. A duplicate key or
// name is logged and skipped, or rejected with faults.ErrDuplicateModule
// under strict registration. While running the module is initialized and
// started right away, appended to the working order without re-resolving.
func (o *Orchestrator) RegisterModule(m modules.Module) error {
	return o.register(context.Background(), modules.KeyFor(m), m)
}

// RegisterModuleAs registers m under the key of T, typically an interface
// other modules depend on.
func RegisterModuleAs[T any](o *Orchestrator, m modules.Module) error {
	return o.register(context.Background(), modules.KeyOf[T](), m)
}

func (o *Orchestrator) register(ctx context.Context, key modules.Key, m modules.Module) error {
	name, err := o.checkNew(key, m)
	if err != nil {
		if errors.Is(err, faults.ErrDuplicateModule) && !*o.strict {
			log.Warnw("msg", "duplicate module registration skipped", "module", name, "key", key.String())
			return nil
		}
		return err
	}
	e := o.add(key, name, m)
	if !o.Running() {
		o.sorted = nil
		return nil
	}
	if o.sorted != nil {
		o.sorted = append(o.sorted, e)
	}
	return o.bringUp(ctx, []*entry{e})
}

// RegisterModules registers a batch. Every duplicate, within the batch or
// against the registry, is reported together and nothing is registered.
// While running the dependency order is re-resolved first, so a batch
// that closes a cycle is rejected as well, and the new modules are then
// brought up in that order.
func (o *Orchestrator) RegisterModules(ms ...modules.Module) error {
	type pending struct {
		key  modules.Key
		name string
		m    modules.Module
	}
	var (
		errs  error
		batch = make([]pending, 0, len(ms))
		keys  = make(map[modules.Key]bool, len(ms))
		names = make(map[string]bool, len(ms))
	)
	for _, m := range ms {
		key := modules.KeyFor(m)
		name, err := o.checkNew(key, m)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if keys[key] || names[name] {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s appears twice in the batch", faults.ErrDuplicateModule, name))
			continue
		}
		keys[key], names[name] = true, true
		batch = append(batch, pending{key: key, name: name, m: m})
	}
	if errs != nil {
		return errs
	}

	if o.Running() {
		candidates := o.registrationOrder()
		tentative := make(map[modules.Key]*entry, len(batch))
		for i, p := range batch {
			e := &entry{key: p.key, name: p.name, module: p.m, seq: o.seq + uint64(i) + 1}
			tentative[p.key] = e
			candidates = append(candidates, e)
		}
		lookup := func(k modules.Key) (*entry, bool) {
			if e, ok := tentative[k]; ok {
				return e, true
			}
			for _, e := range tentative {
				if modules.KeyFor(e.module) == k {
					return e, true
				}
			}
			return o.lookup(k)
		}
		if _, err := resolveOrder(candidates, lookup); err != nil {
			return err
		}
	}

	for _, p := range batch {
		o.add(p.key, p.name, p.m)
	}
	o.sorted = nil
	if !o.Running() {
		return nil
	}
	order, err := o.resolve()
	if err != nil {
		return err
	}
	return o.bringUp(context.Background(), order)
}

// UnregisterModule shuts down the module registered under T and removes
// it. It reports false when no such module exists.
func UnregisterModule[T any](o *Orchestrator) bool {
	e, ok := o.lookup(modules.KeyOf[T]())
	if !ok {
		return false
	}
	o.remove(context.Background(), e)
	return true
}

// UnregisterModuleByName is UnregisterModule by registered name.
func (o *Orchestrator) UnregisterModuleByName(name string) bool {
	e, ok := o.byName[name]
	if !ok {
		return false
	}
	o.remove(context.Background(), e)
	return true
}

func (o *Orchestrator) remove(ctx context.Context, e *entry) {
	o.shutdownEntry(ctx, e)
	delete(o.entries, e.key)
	delete(o.byName, e.name)
	o.sorted = nil
	events.Publish(o.bus, events.ModuleUnregistered{Module: e.name, Key: e.key.String()})
}

// ReplaceModule swaps the module registered under T for m, keeping its
// position in the working order; the old module is shut down first. When
// nothing is registered under T, m is added and the order re-resolved.
// While running the replacement is brought up immediately.
func ReplaceModule[T any](o *Orchestrator, m modules.Module) error {
	key := modules.KeyOf[T]()
	if err := modules.Validate(m); err != nil {
		return err
	}
	if !modules.KeyFor(m).Implements(key) {
		return fmt.Errorf("%w: %T cannot replace %s", faults.ErrInvalidArgument, m, key)
	}
	e, ok := o.entries[key]
	if !ok {
		name := effectiveName(m, key)
		if _, taken := o.byName[name]; taken {
			return fmt.Errorf("%w: a module named %s is already registered", faults.ErrDuplicateModule, name)
		}
		o.add(key, name, m)
		o.sorted = nil
		if !o.Running() {
			return nil
		}
		order, err := o.resolve()
		if err != nil {
			return err
		}
		return o.bringUp(context.Background(), order)
	}

	name := effectiveName(m, key)
	if other, taken := o.byName[name]; taken && other != e {
		return fmt.Errorf("%w: a module named %s is already registered", faults.ErrDuplicateModule, name)
	}
	ctx := context.Background()
	if e.module.State().Active() {
		o.shutdownEntry(ctx, e)
	}
	delete(o.byName, e.name)
	modules.EnsureName(m, name)
	e.name, e.module = name, m
	o.byName[name] = e
	log.Infow("msg", "module replaced", "module", name, "key", key.String())
	if !o.Running() {
		return nil
	}
	return o.bringUp(ctx, []*entry{e})
}
