package modules

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/go-lynx/nexus/events"
	"github.com/go-lynx/nexus/faults"
	"github.com/go-lynx/nexus/log"
)

// Validate rejects nil modules and modules embedding a nil *Base.
func Validate(m Module) error {
	if m == nil {
		return fmt.Errorf("%w: nil module", faults.ErrInvalidArgument)
	}
	if v := reflect.ValueOf(m); v.Kind() == reflect.Pointer && v.IsNil() {
		return fmt.Errorf("%w: nil %T module", faults.ErrInvalidArgument, m)
	}
	if m.base() == nil {
		return fmt.Errorf("%w: module %T embeds a nil *modules.Base", faults.ErrInvalidArgument, m)
	}
	return nil
}

// Init binds the module's handlers and runs OnInit. Called in any state
// other than Uninitialized it logs a warning and does nothing. When OnInit
// fails the handlers are unbound again and the state is unchanged.
func Init(ctx context.Context, m Module, rt Runtime) error {
	b := m.base()
	if b.state != Uninitialized {
		log.Warnf("module %s: init skipped in state %s", b.name, b.state)
		return nil
	}
	if err := bindHandlers(m, rt); err != nil {
		return err
	}
	if err := m.OnInit(ctx, rt); err != nil {
		unbindHandlers(b)
		return err
	}
	transition(m, rt, Initialized)
	return nil
}

// Start runs OnStart. It is a no-op unless the module is Initialized; on
// failure the module stays Initialized.
func Start(ctx context.Context, m Module, rt Runtime) error {
	b := m.base()
	if b.state != Initialized {
		log.Warnf("module %s: start skipped in state %s", b.name, b.state)
		return nil
	}
	if err := m.OnStart(ctx, rt); err != nil {
		return err
	}
	transition(m, rt, Started)
	return nil
}

// Stop runs OnShutdown for an Initialized or Started module. Handlers
// are unbound and the state becomes Shutdown whatever the hook does, a
// panic included; the hook's error is returned.
func Stop(ctx context.Context, m Module, rt Runtime) error {
	b := m.base()
	if !b.state.Active() {
		log.Debugf("module %s: shutdown skipped in state %s", b.name, b.state)
		return nil
	}
	defer func() {
		unbindHandlers(b)
		transition(m, rt, Shutdown)
	}()
	return m.OnShutdown(ctx, rt)
}

func bindHandlers(m Module, rt Runtime) error {
	hp, ok := m.(HandlerProvider)
	if !ok {
		return nil
	}
	set := hp.Handlers()
	if set.Len() == 0 {
		return nil
	}
	bus := runtimeBus(rt)
	if bus == nil {
		return fmt.Errorf("%w: module %s declares handlers but no bus is available", faults.ErrInvalidState, m.Name())
	}
	if err := set.Bind(bus); err != nil {
		return err
	}
	m.base().bound = set
	return nil
}

func unbindHandlers(b *Base) {
	if b.bound == nil {
		return
	}
	b.bound.Unbind()
	b.bound = nil
}

func transition(m Module, rt Runtime, to State) {
	b := m.base()
	from := b.state
	b.state = to
	if bus := runtimeBus(rt); bus != nil {
		events.Publish(bus, events.ModuleStateChanged{
			Module: b.name,
			Key:    KeyFor(m).String(),
			From:   from.String(),
			To:     to.String(),
			At:     time.Now(),
		})
	}
}

func runtimeBus(rt Runtime) *events.Bus {
	if rt == nil {
		return nil
	}
	return rt.Bus()
}
