package events

import (
	"fmt"
	"reflect"

	"github.com/go-lynx/nexus/faults"
	"github.com/go-lynx/nexus/log"
)

type queryKey struct {
	req  reflect.Type
	resp reflect.Type
}

func (k queryKey) String() string { return fmt.Sprintf("%s -> %s", k.req, k.resp) }

func queryKeyOf[Q, R any]() queryKey {
	return queryKey{req: reflect.TypeFor[Q](), resp: reflect.TypeFor[R]()}
}

type queryBinding struct {
	id     uint64
	active bool
	call   func(any) (any, error)
}

// HandleQuery installs fn as the handler answering Q with R. A later
// registration replaces the earlier one unless NoReplace is given.
func HandleQuery[Q, R any](b *Bus, fn func(Q) (R, error), opts ...HandlerOption) error {
	key := queryKeyOf[Q, R]()
	if fn == nil {
		return fmt.Errorf("%w: nil query handler for %s", faults.ErrInvalidArgument, key)
	}
	_, _, err := b.setQuery(key, wrapQuery(fn), handlerOptions(opts))
	return err
}

func wrapQuery[Q, R any](fn func(Q) (R, error)) func(any) (any, error) {
	return func(v any) (any, error) { return fn(v.(Q)) }
}

func (b *Bus) setQuery(key queryKey, call func(any) (any, error), cfg handlerConfig) (uint64, *queryBinding, error) {
	cur, ok := b.queries[key]
	if ok {
		if cfg.noReplace {
			return 0, nil, faults.BusFault(faults.CategoryBus,
				fmt.Sprintf("query %s already has a handler", key), faults.ErrHandlerExists)
		}
		cur.active = false
		log.Debugf("event bus: replacing query handler for %s", key)
	}
	q := &queryBinding{id: b.id(), active: true, call: call}
	b.queries[key] = q
	return q.id, cur, nil
}

func (b *Bus) restoreQuery(key queryKey, id uint64, prev *queryBinding) {
	if cur, ok := b.queries[key]; !ok || cur.id != id {
		return
	}
	if prev == nil {
		b.removeQuery(key, id)
		return
	}
	b.queries[key].active = false
	prev.active = true
	b.queries[key] = prev
}

func (b *Bus) removeQuery(key queryKey, id uint64) bool {
	cur, ok := b.queries[key]
	if !ok || (id != 0 && cur.id != id) {
		return false
	}
	cur.active = false
	delete(b.queries, key)
	return true
}

// RemoveQuery drops the handler answering Q with R.
func RemoveQuery[Q, R any](b *Bus) bool {
	return b.removeQuery(queryKeyOf[Q, R](), 0)
}

// HasQueryHandler reports whether Q -> R has a handler.
func HasQueryHandler[Q, R any](b *Bus) bool {
	_, ok := b.queries[queryKeyOf[Q, R]()]
	return ok
}

// Request asks the handler of Q for an R. Without a handler it returns a
// bus fault wrapping faults.ErrNoHandler. Handler errors are returned as is
// and a handler panic is returned as a dispatch fault; neither is routed to
// the fault sink.
func Request[Q, R any](b *Bus, q Q) (resp R, err error) {
	key := queryKeyOf[Q, R]()
	h, ok := b.queries[key]
	if !ok {
		return resp, faults.BusFault(faults.CategoryBusNoHandler,
			fmt.Sprintf("no handler for query %s", key), faults.ErrNoHandler)
	}
	defer func() {
		if r := recover(); r != nil {
			b.stats.Panics++
			err = faults.BusFault(faults.CategoryBusDispatch,
				fmt.Sprintf("query handler for %s panicked", key), faults.Recovered(r))
			log.Warnw("msg", "query handler panicked", "query", key.String(), "error", err)
		}
	}()
	b.stats.Delivered++
	out, err := h.call(q)
	if err != nil {
		return resp, err
	}
	if out != nil {
		resp = out.(R)
	}
	return resp, nil
}
