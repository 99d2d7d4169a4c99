package events

import (
	"reflect"

	"github.com/go-lynx/nexus/log"
)

type subscription struct {
	id       uint64
	key      reflect.Type
	priority int
	async    bool
	active   bool
	call     func(any)
}

// before orders subscriptions by priority, then registration order.
func (s *subscription) before(o *subscription) bool {
	if s.priority != o.priority {
		return s.priority < o.priority
	}
	return s.id < o.id
}

// Subscription identifies one broadcast subscription. The zero value is not
// subscribed to anything.
type Subscription struct {
	id  uint64
	key reflect.Type
	bus *Bus
}

// ID returns the bus-unique subscription id, zero for an invalid handle.
func (s Subscription) ID() uint64 { return s.id }

// EventType returns the type the subscription listens to.
func (s Subscription) EventType() reflect.Type { return s.key }

// Valid reports whether the handle refers to a subscription that was created.
func (s Subscription) Valid() bool { return s.bus != nil && s.id != 0 }

// Cancel removes the subscription. It reports false when it was already gone.
func (s Subscription) Cancel() bool {
	if !s.Valid() {
		return false
	}
	return s.bus.Unsubscribe(s)
}

type subscribeConfig struct {
	priority int
	async    bool
}

// SubscribeOption customizes a subscription.
type SubscribeOption func(*subscribeConfig)

// WithPriority sets the delivery priority; lower values are delivered first.
func WithPriority(p int) SubscribeOption {
	return func(c *subscribeConfig) { c.priority = p }
}

// Async defers delivery to the next ProcessPending call.
func Async() SubscribeOption {
	return func(c *subscribeConfig) { c.async = true }
}

// Subscribe registers fn for events of type T. When T is an interface every
// published value implementing it is delivered (with inheritance dispatch
// enabled); subscribing to any receives everything.
func Subscribe[T any](b *Bus, fn func(T), opts ...SubscribeOption) Subscription {
	if fn == nil {
		log.Warnf("event bus: nil handler for %s ignored", reflect.TypeFor[T]())
		return Subscription{}
	}
	return b.subscribe(reflect.TypeFor[T](), func(v any) { fn(v.(T)) }, opts)
}

// SubscribeFiltered is Subscribe with a predicate evaluated before fn.
func SubscribeFiltered[T any](b *Bus, filter func(T) bool, fn func(T), opts ...SubscribeOption) Subscription {
	if filter == nil {
		return Subscribe(b, fn, opts...)
	}
	if fn == nil {
		return Subscribe[T](b, nil, opts...)
	}
	return Subscribe(b, func(ev T) {
		if filter(ev) {
			fn(ev)
		}
	}, opts...)
}

func (b *Bus) subscribe(key reflect.Type, call func(any), opts []SubscribeOption) Subscription {
	var cfg subscribeConfig
	for _, o := range opts {
		o(&cfg)
	}
	s := &subscription{
		id:       b.id(),
		key:      key,
		priority: cfg.priority,
		async:    cfg.async,
		active:   true,
		call:     call,
	}

	// Lists are replaced, never mutated, so a dispatch in progress keeps
	// iterating its own snapshot.
	old := b.subs[key]
	list := make([]*subscription, 0, len(old)+1)
	inserted := false
	for _, cur := range old {
		if !inserted && s.before(cur) {
			list = append(list, s)
			inserted = true
		}
		list = append(list, cur)
	}
	if !inserted {
		list = append(list, s)
	}
	b.subs[key] = list

	if key.Kind() == reflect.Interface {
		if _, known := b.ifaces[key]; !known {
			b.ifaces[key] = struct{}{}
			clear(b.routes)
		}
	}
	return Subscription{id: s.id, key: key, bus: b}
}

// Unsubscribe removes a subscription, including its queued async
// deliveries. It is idempotent and reports whether anything was removed.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	if sub.bus != b || sub.id == 0 {
		return false
	}
	old := b.subs[sub.key]
	for i, s := range old {
		if s.id != sub.id {
			continue
		}
		s.active = false
		if len(old) == 1 {
			delete(b.subs, sub.key)
		} else {
			list := make([]*subscription, 0, len(old)-1)
			list = append(list, old[:i]...)
			b.subs[sub.key] = append(list, old[i+1:]...)
		}
		if s.async {
			b.dropPending(s)
		}
		return true
	}
	return false
}

// HasSubscribers reports whether events of exactly type T have a subscriber.
func HasSubscribers[T any](b *Bus) bool {
	return len(b.subs[reflect.TypeFor[T]()]) > 0
}
