// Package events implements the in-process event bus: typed broadcast
// subscriptions with priorities, deferred (async) delivery drained by the
// host loop, single-handler commands and request/response queries.
//
// A Bus is not safe for concurrent use. Every call, ProcessPending included,
// is expected to come from the host's single logic goroutine; handlers that
// publish from other goroutines must hand the work back to that goroutine.
package events

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/go-lynx/nexus/faults"
	"github.com/go-lynx/nexus/internal/ring"
	"github.com/go-lynx/nexus/log"
)

// Bus routes events, commands and queries between modules.
type Bus struct {
	opts Options

	subs     map[reflect.Type][]*subscription
	commands map[reflect.Type]*commandBinding
	queries  map[queryKey]*queryBinding

	// pending holds deferred deliveries; entries before head are consumed.
	pending []delivery
	head    int
	// drain counts ProcessPending calls; a delivery queued during drain n
	// carries n and waits for the next call.
	drain uint64

	history *ring.Buffer[Record]

	// routes caches the delivery keys of each concrete published type.
	routes map[reflect.Type][]route
	// ifaces lists interface types that have had at least one subscriber.
	ifaces map[reflect.Type]struct{}

	nextID   uint64
	onFault  func(error)
	faulting bool
	stats    Stats
}

// Stats are cumulative bus counters plus the current queue and subscription sizes.
type Stats struct {
	Published     uint64
	Delivered     uint64
	Deferred      uint64
	Panics        uint64
	Subscriptions int
	Pending       int
}

// New creates a bus.
func New(opts Options) *Bus {
	opts = opts.normalize()
	b := &Bus{opts: opts}
	b.reset()
	return b
}

func (b *Bus) reset() {
	b.subs = make(map[reflect.Type][]*subscription)
	b.commands = make(map[reflect.Type]*commandBinding)
	b.queries = make(map[queryKey]*queryBinding)
	b.pending = nil
	b.head = 0
	b.routes = make(map[reflect.Type][]route)
	b.ifaces = make(map[reflect.Type]struct{})
	if b.opts.MaxCachedEvents > 0 {
		if b.history == nil {
			b.history = ring.New[Record](b.opts.MaxCachedEvents)
		} else {
			b.history.Reset(b.opts.MaxCachedEvents)
		}
	}
}

// Options returns the options the bus was built with.
func (b *Bus) Options() Options { return b.opts }

// SetFaultHandler installs the sink receiving recovered handler panics.
// Without one they are logged.
func (b *Bus) SetFaultHandler(fn func(error)) { b.onFault = fn }

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	s := b.stats
	s.Pending = b.Pending()
	for _, list := range b.subs {
		s.Subscriptions += len(list)
	}
	return s
}

// Clear drops every subscription, command and query handler, the pending
// queue, the history and the inheritance cache. Outstanding Subscription
// handles become no-ops.
func (b *Bus) Clear() {
	for _, list := range b.subs {
		for _, s := range list {
			s.active = false
		}
	}
	for _, c := range b.commands {
		c.active = false
	}
	for _, q := range b.queries {
		q.active = false
	}
	b.reset()
}

func (b *Bus) id() uint64 {
	b.nextID++
	return b.nextID
}

// PublishAny broadcasts ev to every subscriber of its dynamic type and, with
// inheritance dispatch, to subscribers of the interfaces it implements and
// the structs it embeds. Synchronous subscribers run before PublishAny
// returns, in ascending priority order; async ones are queued.
func (b *Bus) PublishAny(ev any) {
	if ev == nil {
		log.Debugf("event bus: ignoring nil event")
		return
	}
	t := reflect.TypeOf(ev)
	b.stats.Published++
	b.record(t, ev)

	for _, d := range b.collect(ev, b.routesFor(t)) {
		if !d.sub.active {
			continue
		}
		if d.sub.async {
			d.drain = b.drain
			b.pending = append(b.pending, d)
			b.stats.Deferred++
			continue
		}
		b.invoke(d.sub, d.value)
	}
}

// Publish broadcasts ev. See PublishAny.
func Publish[T any](b *Bus, ev T) {
	b.PublishAny(ev)
}

type delivery struct {
	sub   *subscription
	value any
	drain uint64
}

func (b *Bus) collect(ev any, routes []route) []delivery {
	var (
		out     []delivery
		sources int
		rv      reflect.Value
	)
	for _, r := range routes {
		list := b.subs[r.key]
		if len(list) == 0 {
			continue
		}
		value := ev
		if r.index != nil {
			if !rv.IsValid() {
				rv = reflect.ValueOf(ev)
			}
			var ok bool
			if value, ok = r.extract(rv); !ok {
				continue
			}
		}
		sources++
		for _, s := range list {
			out = append(out, delivery{sub: s, value: value})
		}
	}
	if sources > 1 {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].sub.before(out[j].sub)
		})
	}
	return out
}

func (b *Bus) invoke(s *subscription, v any) {
	defer func() {
		if r := recover(); r != nil {
			b.stats.Panics++
			b.fault(faults.BusFault(faults.CategoryBusDispatch,
				fmt.Sprintf("subscriber %d of %s panicked", s.id, s.key), faults.Recovered(r)))
		}
	}()
	b.stats.Delivered++
	s.call(v)
}

// fault forwards err to the fault sink. A fault raised while the sink is
// already running is only logged, so a sink that publishes cannot recurse.
func (b *Bus) fault(err error) {
	if b.onFault == nil || b.faulting {
		log.Errorw("msg", "event bus handler failed", "error", err)
		return
	}
	b.faulting = true
	defer func() { b.faulting = false }()
	b.onFault(err)
}

// ProcessPending runs queued async deliveries, at most
// Options.MaxAsyncPerDrain of them, and returns how many ran. Deliveries
// queued by handlers during the drain wait for the next call.
func (b *Bus) ProcessPending() int {
	current := b.drain
	b.drain++
	ran := 0
	for ran < b.opts.MaxAsyncPerDrain && b.head < len(b.pending) {
		d := b.pending[b.head]
		if d.drain > current {
			break
		}
		b.pending[b.head] = delivery{}
		b.head++
		if !d.sub.active {
			continue
		}
		b.invoke(d.sub, d.value)
		ran++
	}
	b.compact()
	return ran
}

// Pending reports how many async deliveries wait for ProcessPending.
func (b *Bus) Pending() int { return len(b.pending) - b.head }

func (b *Bus) compact() {
	switch {
	case b.head == len(b.pending):
		b.pending = b.pending[:0]
		b.head = 0
	case b.head > 64 && b.head*2 > len(b.pending):
		n := copy(b.pending, b.pending[b.head:])
		clear(b.pending[n:])
		b.pending = b.pending[:n]
		b.head = 0
	}
}

func (b *Bus) dropPending(s *subscription) {
	kept := b.pending[:b.head]
	for _, d := range b.pending[b.head:] {
		if d.sub != s {
			kept = append(kept, d)
		}
	}
	clear(b.pending[len(kept):])
	b.pending = kept
	b.compact()
}
