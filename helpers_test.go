package nexus

import (
	"context"
	"fmt"

	"github.com/go-lynx/nexus/events"
	"github.com/go-lynx/nexus/modules"
)

// recorder collects lifecycle calls across modules in call order.
type recorder struct {
	calls []string
}

func (r *recorder) add(format string, a ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, a...))
}

func (r *recorder) only(prefix string) []string {
	var out []string
	for _, c := range r.calls {
		if len(c) > len(prefix) && c[:len(prefix)] == prefix {
			out = append(out, c[len(prefix):])
		}
	}
	return out
}

type testModule struct {
	modules.Base
	rec *recorder

	initErr, startErr, shutdownErr error
	// startFailures is how many starts fail with startErr; negative fails forever.
	startFailures int
	panicOn       string
	handlers      *events.HandlerSet
}

func (m *testModule) OnInit(context.Context, modules.Runtime) error {
	m.rec.add("init:%s", m.Name())
	if m.panicOn == "init" {
		panic("init exploded")
	}
	return m.initErr
}

func (m *testModule) OnStart(context.Context, modules.Runtime) error {
	m.rec.add("start:%s", m.Name())
	if m.startErr != nil && m.startFailures != 0 {
		if m.startFailures > 0 {
			m.startFailures--
		}
		return m.startErr
	}
	return nil
}

func (m *testModule) OnShutdown(context.Context, modules.Runtime) error {
	m.rec.add("shutdown:%s", m.Name())
	if m.panicOn == "shutdown" {
		panic("shutdown exploded")
	}
	return m.shutdownErr
}

func (m *testModule) Handlers() *events.HandlerSet {
	if m.handlers == nil {
		m.handlers = events.NewHandlerSet()
	}
	return m.handlers
}

type modA struct{ testModule }
type modB struct{ testModule }
type modC struct{ testModule }
type modD struct{ testModule }
type modE struct{ testModule }

func base(rec *recorder, name string, opts ...modules.BaseOption) testModule {
	return testModule{Base: modules.NewBase(name, opts...), rec: rec}
}

func newA(rec *recorder, opts ...modules.BaseOption) *modA { return &modA{base(rec, "A", opts...)} }
func newB(rec *recorder, opts ...modules.BaseOption) *modB { return &modB{base(rec, "B", opts...)} }
func newC(rec *recorder, opts ...modules.BaseOption) *modC { return &modC{base(rec, "C", opts...)} }
func newD(rec *recorder, opts ...modules.BaseOption) *modD { return &modD{base(rec, "D", opts...)} }
func newE(rec *recorder, opts ...modules.BaseOption) *modE { return &modE{base(rec, "E", opts...)} }

func deps(keys ...modules.Key) modules.BaseOption { return modules.WithDependencies(keys...) }

var (
	keyA = modules.KeyOf[*modA]()
	keyB = modules.KeyOf[*modB]()
	keyC = modules.KeyOf[*modC]()
	keyD = modules.KeyOf[*modD]()
)
