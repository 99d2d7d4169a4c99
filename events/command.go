package events

import (
	"fmt"
	"reflect"

	"github.com/go-lynx/nexus/faults"
	"github.com/go-lynx/nexus/log"
)

type commandBinding struct {
	id     uint64
	active bool
	call   func(any)
}

type handlerConfig struct {
	noReplace bool
}

// HandlerOption customizes a command or query handler registration.
type HandlerOption func(*handlerConfig)

// NoReplace makes the registration fail with faults.ErrHandlerExists when a
// handler is already present instead of replacing it.
func NoReplace() HandlerOption {
	return func(c *handlerConfig) { c.noReplace = true }
}

func handlerOptions(opts []HandlerOption) handlerConfig {
	var cfg handlerConfig
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// HandleCommand installs fn as the single handler of commands of type C.
// A later registration replaces the earlier one unless NoReplace is given.
func HandleCommand[C any](b *Bus, fn func(C), opts ...HandlerOption) error {
	if fn == nil {
		return fmt.Errorf("%w: nil command handler for %s", faults.ErrInvalidArgument, reflect.TypeFor[C]())
	}
	_, _, err := b.setCommand(reflect.TypeFor[C](), func(v any) { fn(v.(C)) }, handlerOptions(opts))
	return err
}

// setCommand installs call and returns its id along with the binding it
// displaced, if any.
func (b *Bus) setCommand(key reflect.Type, call func(any), cfg handlerConfig) (uint64, *commandBinding, error) {
	cur, ok := b.commands[key]
	if ok {
		if cfg.noReplace {
			return 0, nil, faults.BusFault(faults.CategoryBus,
				fmt.Sprintf("command %s already has a handler", key), faults.ErrHandlerExists)
		}
		cur.active = false
		log.Debugf("event bus: replacing command handler for %s", key)
	}
	c := &commandBinding{id: b.id(), active: true, call: call}
	b.commands[key] = c
	return c.id, cur, nil
}

// restoreCommand puts prev back in place of the binding id.
func (b *Bus) restoreCommand(key reflect.Type, id uint64, prev *commandBinding) {
	if cur, ok := b.commands[key]; !ok || cur.id != id {
		return
	}
	if prev == nil {
		b.removeCommand(key, id)
		return
	}
	b.commands[key].active = false
	prev.active = true
	b.commands[key] = prev
}

func (b *Bus) removeCommand(key reflect.Type, id uint64) bool {
	cur, ok := b.commands[key]
	if !ok || (id != 0 && cur.id != id) {
		return false
	}
	cur.active = false
	delete(b.commands, key)
	return true
}

// RemoveCommand drops the handler of commands of type C.
func RemoveCommand[C any](b *Bus) bool {
	return b.removeCommand(reflect.TypeFor[C](), 0)
}

// Send delivers cmd to its handler synchronously. Without a handler the
// command is dropped and Send reports false. A panicking handler is
// reported to the fault sink.
func Send[C any](b *Bus, cmd C) bool {
	return b.send(reflect.TypeFor[C](), cmd)
}

// SendAny is Send keyed by the dynamic type of cmd.
func (b *Bus) SendAny(cmd any) bool {
	if cmd == nil {
		return false
	}
	return b.send(reflect.TypeOf(cmd), cmd)
}

func (b *Bus) send(key reflect.Type, cmd any) (delivered bool) {
	c, ok := b.commands[key]
	if !ok {
		log.Debugf("event bus: no handler for command %s", key)
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			b.stats.Panics++
			b.fault(faults.BusFault(faults.CategoryBusDispatch,
				fmt.Sprintf("command handler for %s panicked", key), faults.Recovered(r)))
		}
	}()
	b.stats.Delivered++
	c.call(cmd)
	return true
}

// HasCommandHandler reports whether commands of type C have a handler.
func HasCommandHandler[C any](b *Bus) bool {
	_, ok := b.commands[reflect.TypeFor[C]()]
	return ok
}
