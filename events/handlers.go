package events

import (
	"fmt"
	"reflect"

	"github.com/go-lynx/nexus/faults"
)

// binding undoes one bound handler. unbind is the regular removal; rollback
// additionally reinstalls whatever the handler displaced and is used when
// Bind fails part way.
type binding struct {
	unbind   func()
	rollback func()
}

type binder func(b *Bus) (binding, error)

// HandlerSet is a module's table of bus handlers, bound and unbound as a
// unit. Build it with On, OnCommand and OnQuery.
type HandlerSet struct {
	binders  []binder
	bus      *Bus
	unbinder []func()
}

// NewHandlerSet returns an empty set.
func NewHandlerSet() *HandlerSet { return &HandlerSet{} }

// On adds a broadcast subscription for T.
func On[T any](s *HandlerSet, fn func(T), opts ...SubscribeOption) *HandlerSet {
	s.binders = append(s.binders, func(b *Bus) (binding, error) {
		if fn == nil {
			return binding{}, fmt.Errorf("%w: nil handler for %s", faults.ErrInvalidArgument, reflect.TypeFor[T]())
		}
		sub := Subscribe(b, fn, opts...)
		undo := func() { b.Unsubscribe(sub) }
		return binding{unbind: undo, rollback: undo}, nil
	})
	return s
}

// OnCommand adds the handler of commands of type C.
func OnCommand[C any](s *HandlerSet, fn func(C), opts ...HandlerOption) *HandlerSet {
	s.binders = append(s.binders, func(b *Bus) (binding, error) {
		key := reflect.TypeFor[C]()
		if fn == nil {
			return binding{}, fmt.Errorf("%w: nil command handler for %s", faults.ErrInvalidArgument, key)
		}
		id, prev, err := b.setCommand(key, func(v any) { fn(v.(C)) }, handlerOptions(opts))
		if err != nil {
			return binding{}, err
		}
		return binding{
			unbind:   func() { b.removeCommand(key, id) },
			rollback: func() { b.restoreCommand(key, id, prev) },
		}, nil
	})
	return s
}

// OnQuery adds the handler answering Q with R.
func OnQuery[Q, R any](s *HandlerSet, fn func(Q) (R, error), opts ...HandlerOption) *HandlerSet {
	s.binders = append(s.binders, func(b *Bus) (binding, error) {
		key := queryKeyOf[Q, R]()
		if fn == nil {
			return binding{}, fmt.Errorf("%w: nil query handler for %s", faults.ErrInvalidArgument, key)
		}
		id, prev, err := b.setQuery(key, wrapQuery(fn), handlerOptions(opts))
		if err != nil {
			return binding{}, err
		}
		return binding{
			unbind:   func() { b.removeQuery(key, id) },
			rollback: func() { b.restoreQuery(key, id, prev) },
		}, nil
	})
	return s
}

// Len returns the number of handlers in the set.
func (s *HandlerSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.binders)
}

// Bound reports whether the set is currently bound to a bus.
func (s *HandlerSet) Bound() bool { return s != nil && s.bus != nil }

// Bind registers every handler on b. If one fails, the ones already
// registered are removed, any command or query handler they replaced is
// reinstalled, and the error is returned. Binding an already
// bound set to the same bus is a no-op.
func (s *HandlerSet) Bind(b *Bus) error {
	if s == nil || len(s.binders) == 0 {
		return nil
	}
	if s.bus == b {
		return nil
	}
	if s.bus != nil {
		return fmt.Errorf("%w: handler set already bound to another bus", faults.ErrInvalidState)
	}
	done := make([]binding, 0, len(s.binders))
	for _, bind := range s.binders {
		bd, err := bind(b)
		if err != nil {
			for i := len(done) - 1; i >= 0; i-- {
				done[i].rollback()
			}
			return err
		}
		done = append(done, bd)
	}
	unbind := make([]func(), len(done))
	for i, bd := range done {
		unbind[i] = bd.unbind
	}
	s.bus = b
	s.unbinder = unbind
	return nil
}

// Unbind removes every handler registered by Bind. It is idempotent.
func (s *HandlerSet) Unbind() {
	if s == nil || s.bus == nil {
		return
	}
	for i := len(s.unbinder) - 1; i >= 0; i-- {
		s.unbinder[i]()
	}
	s.unbinder = nil
	s.bus = nil
}
