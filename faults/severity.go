package faults

// Severity grades a fault.
type Severity int

const (
	// SeverityUnspecified defers to the category default.
	SeverityUnspecified Severity = iota
	// SeverityLow marks non-fatal diagnostics.
	SeverityLow
	SeverityMedium
	SeverityHigh
	// SeverityCritical marks resource exhaustion class faults.
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unspecified"
	}
}
