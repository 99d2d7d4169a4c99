// Package demo holds the sample modules wired by the nexus command.
package demo

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-lynx/nexus/config"
	"github.com/go-lynx/nexus/discovery"
	"github.com/go-lynx/nexus/events"
	"github.com/go-lynx/nexus/log"
	"github.com/go-lynx/nexus/modules"
	"github.com/go-lynx/nexus/observability/metrics"
)

// Tick is published by the host loop once per iteration.
type Tick struct {
	N  int
	At time.Time
}

// CountQuery asks the counter for the number of ticks it has seen.
type CountQuery struct{}

// ResetCounter zeroes the counter.
type ResetCounter struct{}

// Counter counts ticks on an async subscription.
type Counter struct {
	modules.Base
	handlers *events.HandlerSet
	count    int
}

// NewCounter returns a Counter module.
func NewCounter() *Counter {
	c := &Counter{Base: modules.NewBase("counter", modules.WithPriority(10))}
	c.handlers = events.NewHandlerSet()
	events.On(c.handlers, func(Tick) { c.count++ }, events.Async())
	events.OnCommand(c.handlers, func(ResetCounter) { c.count = 0 })
	events.OnQuery(c.handlers, func(CountQuery) (int, error) { return c.count, nil })
	return c
}

func (c *Counter) Handlers() *events.HandlerSet { return c.handlers }

// Count returns the ticks seen so far.
func (c *Counter) Count() int { return c.count }

// Reporter logs the counter every N ticks and resets it.
type Reporter struct {
	modules.Base
	handlers *events.HandlerSet
	bus      *events.Bus
	every    int
	reports  int
}

// NewReporter returns a Reporter module depending on the Counter.
func NewReporter() *Reporter {
	r := &Reporter{
		Base:  modules.NewBase("reporter", modules.WithPriority(20), modules.WithDependencies(modules.KeyOf[*Counter]())),
		every: 10,
	}
	r.handlers = events.NewHandlerSet()
	events.On(r.handlers, r.onTick)
	return r
}

func (r *Reporter) Handlers() *events.HandlerSet { return r.handlers }

// Reports returns how many reports were logged.
func (r *Reporter) Reports() int { return r.reports }

func (r *Reporter) OnInit(_ context.Context, rt modules.Runtime) error {
	r.every = config.Get(rt.Config(), "demo.reporter.every", r.every)
	if r.every <= 0 {
		return fmt.Errorf("demo.reporter.every must be positive, got %d", r.every)
	}
	r.bus = rt.Bus()
	return nil
}

func (r *Reporter) OnStart(_ context.Context, rt modules.Runtime) error {
	if _, ok := modules.Lookup[*Counter](rt); !ok {
		return fmt.Errorf("counter module is not registered")
	}
	log.Infow("msg", "reporter started", "every", r.every)
	return nil
}

func (r *Reporter) onTick(t Tick) {
	if t.N%r.every != 0 || r.bus == nil {
		return
	}
	n, err := events.Request[CountQuery, int](r.bus, CountQuery{})
	if err != nil {
		log.Warnw("msg", "count query failed", "error", err)
		return
	}
	r.reports++
	log.Infow("msg", "tick report", "tick", t.N, "counted", n)
	events.Send(r.bus, ResetCounter{})
}

// Catalog lists the demo modules. The metrics collector registers into reg
// and is gated by "metrics.enabled".
func Catalog(reg prometheus.Registerer) *discovery.Catalog {
	c := discovery.NewCatalog()
	_ = discovery.RegisterType(c, "counter", 10, NewCounter, discovery.WithConfPrefix("demo.counter"))
	_ = discovery.RegisterType(c, "reporter", 20, NewReporter, discovery.WithConfPrefix("demo.reporter"))
	_ = discovery.RegisterType(c, metrics.Name, 0, func() *metrics.Collector {
		return metrics.NewCollector(reg)
	}, discovery.WithConfPrefix("metrics"))
	return c
}
