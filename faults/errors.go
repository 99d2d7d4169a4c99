// Package faults defines the fault taxonomy shared by the event bus, the
// error recovery manager and the orchestrator.
package faults

import (
	"errors"
	"fmt"
	"runtime"
)

var (
	// ErrNoHandler is returned by a query dispatched to a type nobody answers.
	ErrNoHandler = errors.New("no handler registered")
	// ErrHandlerExists is returned when a non-replacing registration finds an existing handler.
	ErrHandlerExists = errors.New("handler already registered")
	// ErrDuplicateModule is returned when a registration key or name is taken.
	ErrDuplicateModule = errors.New("module already registered")
	// ErrModuleNotFound is returned for lookups on unregistered modules.
	ErrModuleNotFound = errors.New("module not found")
	// ErrCyclicDependency is returned when dependency resolution meets a cycle.
	ErrCyclicDependency = errors.New("cyclic dependency")
	// ErrResourceExhausted marks out-of-memory class failures.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrInvalidArgument marks caller argument violations.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState marks state invariant violations.
	ErrInvalidState = errors.New("invalid state")
)

// Phase tags a module fault with the lifecycle step that failed.
type Phase string

const (
	PhaseNone     Phase = ""
	PhaseInit     Phase = "INIT_FAILED"
	PhaseStart    Phase = "START_FAILED"
	PhaseShutdown Phase = "SHUTDOWN_FAILED"
)

// Fault is the framework error type. It always carries a category and may
// carry an explicit severity, the module it concerns and the failed phase.
type Fault struct {
	Category *Category
	Severity Severity
	Module   string
	Phase    Phase
	Message  string
	Err      error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	msg := f.Message
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	} else if f.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, f.Err)
	}
	switch {
	case f.Module != "" && f.Phase != PhaseNone:
		return fmt.Sprintf("module %s: %s: %s", f.Module, f.Phase, msg)
	case f.Module != "":
		return fmt.Sprintf("module %s: %s", f.Module, msg)
	default:
		return fmt.Sprintf("%s: %s", f.Category.Name(), msg)
	}
}

// Unwrap returns the underlying cause.
func (f *Fault) Unwrap() error { return f.Err }

// EffectiveSeverity resolves SeverityUnspecified to the category default.
func (f *Fault) EffectiveSeverity() Severity {
	if f.Severity != SeverityUnspecified {
		return f.Severity
	}
	return f.Category.DefaultSeverity()
}

// ModuleFault wraps err as a lifecycle failure of module in phase.
func ModuleFault(module string, phase Phase, err error) *Fault {
	cat := CategoryModule
	switch phase {
	case PhaseInit:
		cat = CategoryModuleInit
	case PhaseStart:
		cat = CategoryModuleStart
	case PhaseShutdown:
		cat = CategoryModuleShutdown
	}
	return &Fault{Category: cat, Module: module, Phase: phase, Err: err}
}

// BusFault reports a dispatch problem on the event bus.
func BusFault(cat *Category, message string, err error) *Fault {
	if cat == nil || !cat.IsA(CategoryBus) {
		cat = CategoryBus
	}
	return &Fault{Category: cat, Message: message, Err: err}
}

// DependencyFault reports an unresolved or cyclic dependency.
func DependencyFault(cat *Category, module, message string, err error) *Fault {
	if cat == nil || !cat.IsA(CategoryDependency) {
		cat = CategoryDependency
	}
	return &Fault{Category: cat, Module: module, Message: message, Err: err}
}

// ResourceExhaustionFault reports a critical resource failure.
func ResourceExhaustionFault(message string, err error) *Fault {
	if err == nil {
		err = ErrResourceExhausted
	}
	return &Fault{Category: CategoryResourceExhausted, Severity: SeverityCritical, Message: message, Err: err}
}

// Diagnostic is a low severity, explicitly non-fatal fault.
func Diagnostic(message string) *Fault {
	return &Fault{Category: CategoryDiagnostic, Severity: SeverityLow, Message: message}
}

// PanicError carries a recovered panic value and the goroutine stack.
type PanicError struct {
	Value any
	Stack string
}

// Recovered converts a value returned by recover() into a PanicError.
func Recovered(r any) *PanicError {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return &PanicError{Value: r, Stack: string(buf[:n])}
}

func (p *PanicError) Error() string { return fmt.Sprintf("panic: %v", p.Value) }

// Unwrap exposes a panic value that is itself an error.
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// Classify maps any error onto a category and a severity.
func Classify(err error) (*Category, Severity) {
	if err == nil {
		return CategoryGeneric, SeverityLow
	}
	var f *Fault
	if errors.As(err, &f) && f.Category != nil {
		return f.Category, f.EffectiveSeverity()
	}
	if errors.Is(err, ErrResourceExhausted) {
		return CategoryResourceExhausted, SeverityCritical
	}
	if errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrInvalidState) {
		return CategoryInvalid, SeverityHigh
	}
	var p *PanicError
	if errors.As(err, &p) {
		if _, ok := p.Value.(runtime.Error); ok {
			return CategoryRuntime, SeverityHigh
		}
		return CategoryRuntime, CategoryRuntime.DefaultSeverity()
	}
	return CategoryGeneric, SeverityMedium
}

// CategoryOf is Classify without the severity.
func CategoryOf(err error) *Category {
	c, _ := Classify(err)
	return c
}
