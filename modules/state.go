package modules

// State is the lifecycle state of a module.
type State int

const (
	// Uninitialized is the state of a freshly constructed module.
	Uninitialized State = iota
	// Initialized follows a successful OnInit.
	Initialized
	// Started follows a successful OnStart.
	Started
	// Shutdown is terminal and is entered even when OnShutdown fails.
	Shutdown
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initialized:
		return "Initialized"
	case Started:
		return "Started"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Active reports whether the module has been initialized and not shut down.
func (s State) Active() bool { return s == Initialized || s == Started }
