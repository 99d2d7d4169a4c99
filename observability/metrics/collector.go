// Package metrics exposes orchestrator activity as Prometheus metrics.
//
// Collector is itself a module: it listens on the bus for lifecycle and
// fault events and never touches the orchestrator directly.
package metrics

import (
	"context"
	"math"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-lynx/nexus/events"
	"github.com/go-lynx/nexus/modules"
)

const namespace = "nexus"

// Name is the module name of the collector.
const Name = "metrics"

// Collector counts module transitions, faults and recovery outcomes.
type Collector struct {
	modules.Base

	reg      prometheus.Registerer
	handlers *events.HandlerSet
	bus      *events.Bus

	transitions *prometheus.CounterVec
	faults      *prometheus.CounterVec
	recoveries  *prometheus.CounterVec
	active      prometheus.Gauge
	busPending  prometheus.Gauge
	busEvents   prometheus.Counter
}

// NewCollector builds a collector registering into reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		// Initialized first and shut down last so no transition is missed.
		Base: modules.NewBase(Name, modules.WithPriority(math.MinInt32)),
		reg:  reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_transitions_total",
			Help:      "Module lifecycle transitions by target state",
		}, []string{"module", "state"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Faults handled by the recovery manager",
		}, []string{"category", "severity"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Recovery attempts by strategy and outcome",
		}, []string{"strategy", "recovered"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modules_active",
			Help:      "Modules initialized and not yet shut down",
		}),
		busPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "pending",
			Help:      "Deferred deliveries waiting for the next drain",
		}),
		busEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "module_events_total",
			Help:      "Module related events observed on the bus",
		}),
	}
	c.handlers = events.NewHandlerSet()
	last := events.WithPriority(math.MaxInt32)
	events.On(c.handlers, c.onState, last)
	events.On(c.handlers, c.onFault, last)
	events.On(c.handlers, c.onRecovery, last)
	events.On(c.handlers, c.onModuleEvent, last)
	return c
}

// Handlers implements modules.HandlerProvider.
func (c *Collector) Handlers() *events.HandlerSet { return c.handlers }

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{c.transitions, c.faults, c.recoveries, c.active, c.busPending, c.busEvents}
}

// OnInit registers the metrics. Collectors already registered by a previous
// instance are reused.
func (c *Collector) OnInit(_ context.Context, rt modules.Runtime) error {
	c.bus = rt.Bus()
	for _, col := range c.collectors() {
		if err := c.reg.Register(col); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return err
			}
			c.adopt(are.ExistingCollector)
		}
	}
	return nil
}

// adopt swaps a local collector for the one already registered under the
// same descriptor.
func (c *Collector) adopt(existing prometheus.Collector) {
	switch v := existing.(type) {
	case *prometheus.CounterVec:
		for _, p := range []**prometheus.CounterVec{&c.transitions, &c.faults, &c.recoveries} {
			if sameDesc(*p, v) {
				*p = v
			}
		}
	case prometheus.Gauge:
		for _, p := range []*prometheus.Gauge{&c.active, &c.busPending} {
			if sameDesc(*p, v) {
				*p = v
			}
		}
	case prometheus.Counter:
		if sameDesc(c.busEvents, v) {
			c.busEvents = v
		}
	}
}

func sameDesc(a, b prometheus.Collector) bool {
	da, db := make(chan *prometheus.Desc, 1), make(chan *prometheus.Desc, 1)
	a.Describe(da)
	b.Describe(db)
	return (<-da).String() == (<-db).String()
}

// OnShutdown unregisters the metrics.
func (c *Collector) OnShutdown(context.Context, modules.Runtime) error {
	for _, col := range c.collectors() {
		c.reg.Unregister(col)
	}
	c.bus = nil
	return nil
}

func (c *Collector) onState(e events.ModuleStateChanged) {
	c.transitions.WithLabelValues(e.Module, e.To).Inc()
	switch {
	case e.To == modules.Initialized.String():
		c.active.Inc()
	case e.To == modules.Shutdown.String() && e.From != modules.Uninitialized.String():
		c.active.Dec()
	}
}

func (c *Collector) onFault(e events.FaultRaised) {
	c.faults.WithLabelValues(e.Category.Name(), e.Severity.String()).Inc()
}

func (c *Collector) onRecovery(e events.RecoveryAttempted) {
	c.recoveries.WithLabelValues(e.Strategy, strconv.FormatBool(e.Recovered)).Inc()
}

func (c *Collector) onModuleEvent(events.ModuleEvent) {
	c.busEvents.Inc()
	if c.bus != nil {
		c.busPending.Set(float64(c.bus.Pending()))
	}
}
