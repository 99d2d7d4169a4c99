package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-lynx/nexus"
	"github.com/go-lynx/nexus/modules"
)

type worker struct {
	modules.Base
	startErr error
}

func (w *worker) OnStart(context.Context, modules.Runtime) error { return w.startErr }

type flaky struct{ worker }

func TestCollector_CountsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	o := nexus.New()
	require.NoError(t, o.RegisterModule(c))
	require.NoError(t, o.RegisterModule(&worker{Base: modules.NewBase("worker")}))
	require.NoError(t, o.Initialize(context.Background()))

	order, err := o.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{Name, "worker"}, order)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("worker", "Initialized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("worker", "Started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues(Name, "Started")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.active))
	assert.Positive(t, testutil.ToFloat64(c.busEvents))

	n, err := testutil.GatherAndCount(reg, "nexus_module_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, o.Shutdown(context.Background()))
	n, err = testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCollector_CountsFaultsAndRecoveries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	o := nexus.New()
	require.NoError(t, o.RegisterModule(c))
	require.NoError(t, o.RegisterModule(&flaky{worker{Base: modules.NewBase("flaky"), startErr: errors.New("no port")}}))
	require.NoError(t, o.Initialize(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.faults.WithLabelValues("module.start", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recoveries.WithLabelValues("isolate", "true")))
	assert.Zero(t, testutil.ToFloat64(c.transitions.WithLabelValues("flaky", "Started")))

	require.NoError(t, o.Shutdown(context.Background()))
}

func TestCollector_ReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewCollector(reg)
	second := NewCollector(reg)

	o := nexus.New()
	require.NoError(t, first.OnInit(context.Background(), runtimeOf(o)))
	require.NoError(t, second.OnInit(context.Background(), runtimeOf(o)))
	assert.Same(t, first.transitions, second.transitions)
	assert.Same(t, first.busPending, second.busPending)
}

// runtimeOf exposes the orchestrator through the hook runtime interface.
func runtimeOf(o *nexus.Orchestrator) modules.Runtime { return o }
