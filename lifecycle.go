package nexus

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-lynx/nexus/faults"
	"github.com/go-lynx/nexus/log"
	"github.com/go-lynx/nexus/modules"
)

var phaseSpans = map[faults.Phase]string{
	faults.PhaseInit:     "nexus.module.init",
	faults.PhaseStart:    "nexus.module.start",
	faults.PhaseShutdown: "nexus.module.shutdown",
}

// protect runs fn and converts a panic into a *faults.PanicError.
func protect(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = faults.Recovered(r)
		}
	}()
	return fn(ctx)
}

// safeExec runs one lifecycle call of e. A failure becomes a module fault
// tagged with the phase and goes through the recovery manager. Unrecovered
// init and start faults are returned; shutdown faults never are.
func (o *Orchestrator) safeExec(ctx context.Context, e *entry, phase faults.Phase, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, phaseSpans[phase], trace.WithAttributes(
		attribute.String("nexus.module", e.name),
		attribute.String("nexus.module.key", e.key.String()),
	))
	defer span.End()

	err := protect(ctx, fn)
	if err == nil {
		return nil
	}
	var pe *faults.PanicError
	if errors.As(err, &pe) {
		log.Errorw("msg", "module panicked", "module", e.name, "phase", string(phase), "panic", pe.Error(), "stack", pe.Stack)
	}

	fault := faults.ModuleFault(e.name, phase, err)
	recordSpanError(span, fault)

	res := o.recovery.HandleFault(ctx, fault, RecoveryContext{
		Module: e.name,
		Phase:  phase,
		Retry:  func(ctx context.Context) error { return protect(ctx, fn) },
	})
	span.SetAttributes(
		attribute.Bool("nexus.recovered", res.Recovered),
		attribute.String("nexus.recovery.strategy", res.Strategy),
	)
	if res.Recovered {
		return nil
	}
	if phase == faults.PhaseShutdown {
		log.Warnw("msg", "module shutdown failed, continuing", "module", e.name, "error", fault.Error())
		return nil
	}
	return fault
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (o *Orchestrator) initEntry(ctx context.Context, e *entry) error {
	return o.safeExec(ctx, e, faults.PhaseInit, func(ctx context.Context) error {
		return modules.Init(ctx, e.module, o)
	})
}

func (o *Orchestrator) startEntry(ctx context.Context, e *entry) error {
	err := o.safeExec(ctx, e, faults.PhaseStart, func(ctx context.Context) error {
		return modules.Start(ctx, e.module, o)
	})
	if err == nil && e.module.State() == modules.Started && !slices.Contains(o.started, e) {
		o.started = append(o.started, e)
	}
	return err
}

func (o *Orchestrator) shutdownEntry(ctx context.Context, e *entry) {
	_ = o.safeExec(ctx, e, faults.PhaseShutdown, func(ctx context.Context) error {
		return modules.Stop(ctx, e.module, o)
	})
	if i := slices.Index(o.started, e); i >= 0 {
		o.started = slices.Delete(o.started, i, i+1)
	}
}

// bringUp initializes the uninitialized modules of order, then starts every
// module of order left Initialized, including those initialized by an
// earlier call. A module whose registered dependency did not come up is
// skipped and stays where it is.
func (o *Orchestrator) bringUp(ctx context.Context, order []*entry) error {
	for _, e := range order {
		if e.module.State() != modules.Uninitialized {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if dep, blocked := o.blockedBy(e, modules.State.Active); blocked {
			log.Warnw("msg", "module not initialized, dependency unavailable", "module", e.name, "dependency", dep)
			continue
		}
		if err := o.initEntry(ctx, e); err != nil {
			return err
		}
	}
	for _, e := range order {
		if e.module.State() != modules.Initialized {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if dep, blocked := o.blockedBy(e, func(s modules.State) bool { return s == modules.Started }); blocked {
			log.Warnw("msg", "module not started, dependency unavailable", "module", e.name, "dependency", dep)
			continue
		}
		if err := o.startEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// blockedBy returns the first registered dependency of e whose state does
// not satisfy ready. Unregistered dependencies never block.
func (o *Orchestrator) blockedBy(e *entry, ready func(modules.State) bool) (string, bool) {
	for _, key := range e.module.Dependencies() {
		dep, ok := o.lookup(key)
		if !ok || dep == e {
			continue
		}
		if !ready(dep.module.State()) {
			return dep.name, true
		}
	}
	return "", false
}

// shutdownOrder is the reverse of the startup order followed by the
// modules that initialized but never started, latest first.
func (o *Orchestrator) shutdownOrder() []*entry {
	out := make([]*entry, 0, len(o.entries))
	for i := len(o.started) - 1; i >= 0; i-- {
		out = append(out, o.started[i])
	}
	rest := o.sorted
	if rest == nil {
		rest = o.registrationOrder()
	}
	for i := len(rest) - 1; i >= 0; i-- {
		e := rest[i]
		if e.module.State().Active() && !slices.Contains(out, e) {
			out = append(out, e)
		}
	}
	return out
}

// resolve returns the cached working order, recomputing it when stale.
func (o *Orchestrator) resolve() ([]*entry, error) {
	if o.sorted != nil {
		return o.sorted, nil
	}
	order, err := resolveOrder(o.registrationOrder(), o.lookup)
	if err != nil {
		return nil, err
	}
	o.sorted = order
	return order, nil
}

func (o *Orchestrator) registrationOrder() []*entry {
	out := make([]*entry, 0, len(o.entries))
	for _, e := range o.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *entry) int { return cmp.Compare(a.seq, b.seq) })
	return out
}
