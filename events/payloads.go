package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/go-lynx/nexus/faults"
)

// ModuleEvent is implemented by every payload concerning a single module.
// Subscribing to it receives all of them.
type ModuleEvent interface {
	ModuleName() string
}

// ModuleStateChanged is published after a module moves between lifecycle states.
type ModuleStateChanged struct {
	Module string
	Key    string
	From   string
	To     string
	At     time.Time
}

func (e ModuleStateChanged) ModuleName() string { return e.Module }

// ModuleRegistered is published when a module joins the orchestrator.
type ModuleRegistered struct {
	Module string
	Key    string
}

func (e ModuleRegistered) ModuleName() string { return e.Module }

// ModuleUnregistered is published after a module was shut down and removed.
type ModuleUnregistered struct {
	Module string
	Key    string
}

func (e ModuleUnregistered) ModuleName() string { return e.Module }

// FaultRaised is published by the recovery manager for every handled fault.
type FaultRaised struct {
	ID       uuid.UUID
	Category *faults.Category
	Severity faults.Severity
	Module   string
	Phase    faults.Phase
	Err      error
}

func (e FaultRaised) ModuleName() string { return e.Module }

// RecoveryAttempted reports the outcome of a recovery strategy.
type RecoveryAttempted struct {
	ID        uuid.UUID
	Strategy  string
	Category  *faults.Category
	Module    string
	Recovered bool
	Message   string
}

func (e RecoveryAttempted) ModuleName() string { return e.Module }

// Stage is a coarse orchestrator state.
type Stage string

const (
	StageInitializing Stage = "initializing"
	StageRunning      Stage = "running"
	StageShuttingDown Stage = "shutting_down"
	StageStopped      Stage = "stopped"
)

// OrchestratorStateChanged is published at orchestrator stage boundaries.
type OrchestratorStateChanged struct {
	Stage Stage
	At    time.Time
}
