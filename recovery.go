package nexus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-lynx/nexus/events"
	"github.com/go-lynx/nexus/faults"
	"github.com/go-lynx/nexus/internal/ring"
	"github.com/go-lynx/nexus/log"
)

// DefaultHistorySize is the error history capacity used without configuration.
const DefaultHistorySize = 100

// RecoveryContext describes where a fault happened.
type RecoveryContext struct {
	Module string
	Phase  faults.Phase
	// Retry repeats the failed operation. It is nil when the operation
	// cannot be repeated.
	Retry func(ctx context.Context) error
}

// RecoveryResult is what the caller of HandleFault acts on.
type RecoveryResult struct {
	RecordID  uuid.UUID
	Recovered bool
	Strategy  string
	Message   string
	Category  *faults.Category
	Severity  faults.Severity
}

// RecoveryStrategy attempts to neutralize a fault. TryRecover reports
// success and a human readable message.
type RecoveryStrategy interface {
	Name() string
	TryRecover(ctx context.Context, err error, fctx RecoveryContext) (bool, string)
}

type funcStrategy struct {
	name string
	fn   func(ctx context.Context, err error, fctx RecoveryContext) (bool, string)
}

func (s funcStrategy) Name() string { return s.name }

func (s funcStrategy) TryRecover(ctx context.Context, err error, fctx RecoveryContext) (bool, string) {
	return s.fn(ctx, err, fctx)
}

// StrategyFunc adapts fn to a RecoveryStrategy named name.
func StrategyFunc(name string, fn func(ctx context.Context, err error, fctx RecoveryContext) (bool, string)) RecoveryStrategy {
	return funcStrategy{name: name, fn: fn}
}

// IgnoreStrategy accepts the fault as harmless.
type IgnoreStrategy struct{}

func (IgnoreStrategy) Name() string { return "ignore" }

func (IgnoreStrategy) TryRecover(_ context.Context, err error, fctx RecoveryContext) (bool, string) {
	if fctx.Module != "" {
		return true, fmt.Sprintf("ignored fault of module %s", fctx.Module)
	}
	return true, "ignored"
}

// IsolateStrategy contains a failed module: the fault is recovered, the
// module keeps the state it had and the rest of the application carries
// on. Modules depending on it are skipped. It is the default for init and
// start faults.
type IsolateStrategy struct{}

func (IsolateStrategy) Name() string { return "isolate" }

func (IsolateStrategy) TryRecover(_ context.Context, _ error, fctx RecoveryContext) (bool, string) {
	if fctx.Module == "" {
		return false, "no module to isolate"
	}
	return true, fmt.Sprintf("module %s isolated after %s", fctx.Module, fctx.Phase)
}

// RetryStrategy repeats the failed operation up to Attempts times.
type RetryStrategy struct {
	Attempts int
	// Backoff is slept between attempts; zero retries immediately.
	Backoff time.Duration
}

func (RetryStrategy) Name() string { return "retry" }

func (s RetryStrategy) TryRecover(ctx context.Context, _ error, fctx RecoveryContext) (bool, string) {
	if fctx.Retry == nil {
		return false, "operation cannot be retried"
	}
	attempts := max(s.Attempts, 1)
	var last error
	for i := 1; i <= attempts; i++ {
		if i > 1 && s.Backoff > 0 {
			select {
			case <-ctx.Done():
				return false, fmt.Sprintf("retry cancelled: %v", ctx.Err())
			case <-time.After(s.Backoff):
			}
		}
		if last = fctx.Retry(ctx); last == nil {
			return true, fmt.Sprintf("succeeded on attempt %d", i)
		}
	}
	return false, fmt.Sprintf("gave up after %d attempts: %v", attempts, last)
}

// FailStrategy never recovers; registering it pins a category as fatal.
type FailStrategy struct{}

func (FailStrategy) Name() string { return "fail" }

func (FailStrategy) TryRecover(context.Context, error, RecoveryContext) (bool, string) {
	return false, "fault is fatal"
}

// ErrorRecord is one entry of the recovery manager's diagnostic history.
type ErrorRecord struct {
	ID              uuid.UUID
	Time            time.Time
	Category        *faults.Category
	Severity        faults.Severity
	Module          string
	Phase           faults.Phase
	Message         string
	Strategy        string
	Recovered       bool
	RecoveryMessage string
}

// RecoveryStats counts handled faults.
type RecoveryStats struct {
	Total      uint64
	Recovered  uint64
	Failed     uint64
	ByCategory map[string]uint64
}

// ErrorRecoveryManager maps fault categories to recovery strategies and
// keeps a bounded history of what it handled. The history is diagnostic
// only; nothing reads it to make decisions.
type ErrorRecoveryManager struct {
	mu         sync.RWMutex
	strategies map[*faults.Category]RecoveryStrategy
	fallback   RecoveryStrategy
	history    *ring.Buffer[ErrorRecord]
	stats      RecoveryStats
	bus        *events.Bus
}

// RecoveryOption configures an ErrorRecoveryManager.
type RecoveryOption func(*ErrorRecoveryManager)

// WithHistorySize bounds the error history.
func WithHistorySize(n int) RecoveryOption {
	return func(m *ErrorRecoveryManager) {
		if n > 0 {
			m.history = ring.New[ErrorRecord](n)
		}
	}
}

// WithStrategy registers s for cat.
func WithStrategy(cat *faults.Category, s RecoveryStrategy) RecoveryOption {
	return func(m *ErrorRecoveryManager) { m.strategies[cat] = s }
}

// NewErrorRecoveryManager creates a manager. Init and start faults isolate
// the failing module, shutdown faults and diagnostics are ignored; every
// other category has no strategy until one is registered.
func NewErrorRecoveryManager(opts ...RecoveryOption) *ErrorRecoveryManager {
	m := &ErrorRecoveryManager{
		strategies: map[*faults.Category]RecoveryStrategy{
			faults.CategoryModuleInit:     IsolateStrategy{},
			faults.CategoryModuleStart:    IsolateStrategy{},
			faults.CategoryModuleShutdown: IgnoreStrategy{},
			faults.CategoryDiagnostic:     IgnoreStrategy{},
		},
		history: ring.New[ErrorRecord](DefaultHistorySize),
		stats:   RecoveryStats{ByCategory: make(map[string]uint64)},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RegisterStrategy installs s for cat and its sub-categories without a
// closer match. Registering on faults.CategoryAny sets the catch-all.
func (m *ErrorRecoveryManager) RegisterStrategy(cat *faults.Category, s RecoveryStrategy) {
	if cat == nil || s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[cat] = s
}

// UnregisterStrategy removes the strategy registered exactly for cat.
func (m *ErrorRecoveryManager) UnregisterStrategy(cat *faults.Category) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.strategies[cat]
	delete(m.strategies, cat)
	return ok
}

// SetFallback installs the strategy used when the category walk finds
// nothing. Nil removes it.
func (m *ErrorRecoveryManager) SetFallback(s RecoveryStrategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = s
}

// Attach makes the manager publish FaultRaised and RecoveryAttempted on bus.
// A nil bus detaches it.
func (m *ErrorRecoveryManager) Attach(bus *events.Bus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bus = bus
}

// StrategyFor returns the strategy used for cat: the exact match, else the
// closest ancestor's, else the fallback.
func (m *ErrorRecoveryManager) StrategyFor(cat *faults.Category) (RecoveryStrategy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(cat)
}

func (m *ErrorRecoveryManager) lookup(cat *faults.Category) (RecoveryStrategy, bool) {
	for _, c := range cat.Chain() {
		if s, ok := m.strategies[c]; ok {
			return s, true
		}
	}
	if m.fallback != nil {
		return m.fallback, true
	}
	return nil, false
}

// HandleFault classifies err, records it, logs it and runs the matching
// strategy. A strategy that panics counts as a failed recovery.
func (m *ErrorRecoveryManager) HandleFault(ctx context.Context, err error, fctx RecoveryContext) RecoveryResult {
	cat, sev := faults.Classify(err)
	rec := ErrorRecord{
		ID:       uuid.New(),
		Time:     time.Now(),
		Category: cat,
		Severity: sev,
		Module:   fctx.Module,
		Phase:    fctx.Phase,
	}
	if err != nil {
		rec.Message = err.Error()
	}
	if rec.Module == "" || rec.Phase == faults.PhaseNone {
		var f *faults.Fault
		if errors.As(err, &f) {
			if rec.Module == "" {
				rec.Module = f.Module
			}
			if rec.Phase == faults.PhaseNone {
				rec.Phase = f.Phase
			}
		}
	}
	fctx.Module, fctx.Phase = rec.Module, rec.Phase

	m.mu.Lock()
	m.history.Push(rec)
	m.stats.Total++
	m.stats.ByCategory[cat.Name()]++
	strategy, found := m.lookup(cat)
	bus := m.bus
	m.mu.Unlock()

	logFault(sev, "fault raised", "id", rec.ID.String(), "category", cat.Name(),
		"severity", sev.String(), "module", rec.Module, "phase", string(rec.Phase), "error", rec.Message)
	if bus != nil {
		events.Publish(bus, events.FaultRaised{
			ID:       rec.ID,
			Category: cat,
			Severity: sev,
			Module:   rec.Module,
			Phase:    rec.Phase,
			Err:      err,
		})
	}

	res := RecoveryResult{RecordID: rec.ID, Category: cat, Severity: sev}
	if !found {
		res.Message = "no recovery strategy for " + cat.Name()
	} else {
		res.Strategy = strategy.Name()
		res.Recovered, res.Message = runStrategy(ctx, strategy, err, fctx)
	}

	m.mu.Lock()
	m.history.Update(func(r *ErrorRecord) bool {
		if r.ID != rec.ID {
			return true
		}
		r.Strategy = res.Strategy
		r.Recovered = res.Recovered
		r.RecoveryMessage = res.Message
		return false
	})
	if res.Recovered {
		m.stats.Recovered++
	} else {
		m.stats.Failed++
	}
	m.mu.Unlock()

	if res.Recovered {
		log.Infow("msg", "fault recovered", "id", rec.ID.String(), "strategy", res.Strategy, "result", res.Message)
	} else {
		logFault(sev, "fault not recovered", "id", rec.ID.String(), "strategy", res.Strategy, "result", res.Message)
	}
	if bus != nil && found {
		events.Publish(bus, events.RecoveryAttempted{
			ID:        rec.ID,
			Strategy:  res.Strategy,
			Category:  cat,
			Module:    rec.Module,
			Recovered: res.Recovered,
			Message:   res.Message,
		})
	}
	return res
}

func runStrategy(ctx context.Context, s RecoveryStrategy, err error, fctx RecoveryContext) (ok bool, msg string) {
	defer func() {
		if r := recover(); r != nil {
			pe := faults.Recovered(r)
			log.Errorw("msg", "recovery strategy panicked", "strategy", s.Name(), "panic", fmt.Sprint(r), "stack", pe.Stack)
			ok, msg = false, fmt.Sprintf("strategy %s panicked: %v", s.Name(), r)
		}
	}()
	return s.TryRecover(ctx, err, fctx)
}

func logFault(sev faults.Severity, msg string, keyvals ...any) {
	kv := append([]any{"msg", msg}, keyvals...)
	switch sev {
	case faults.SeverityLow:
		log.Logw(log.InfoLevel, kv...)
	case faults.SeverityMedium:
		log.Logw(log.WarnLevel, kv...)
	default:
		log.Logw(log.ErrorLevel, kv...)
	}
}

// History returns the recorded faults, oldest first.
func (m *ErrorRecoveryManager) History() []ErrorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Snapshot()
}

// HistoryCapacity returns the maximum number of records kept.
func (m *ErrorRecoveryManager) HistoryCapacity() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Cap()
}

// ClearHistory drops the recorded faults; counters are kept.
func (m *ErrorRecoveryManager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history.Reset(0)
}

// Stats returns a copy of the counters.
func (m *ErrorRecoveryManager) Stats() RecoveryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.stats
	out.ByCategory = make(map[string]uint64, len(m.stats.ByCategory))
	for k, v := range m.stats.ByCategory {
		out.ByCategory[k] = v
	}
	return out
}
