package orchestrator

// SessionPhase is the tag of the SessionState union.
type SessionPhase int

const (
	PhaseIdle SessionPhase = iota
	PhaseConnecting
	PhaseCalibrating
	PhaseStreaming
	PhaseError
	PhaseStopped
)

func (p SessionPhase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseConnecting:
		return "Connecting"
	case PhaseCalibrating:
		return "Calibrating"
	case PhaseStreaming:
		return "Streaming"
	case PhaseError:
		return "Error"
	case PhaseStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// SessionState is the tagged union spec §3 names; fields outside the
// current Phase are zero-valued rather than meaningful.
type SessionState struct {
	Phase SessionPhase

	// Calibrating
	CalibrationProgress int
	CalibrationTarget   int

	// Error
	ErrorCode        string
	ErrorMsg         string
	ErrorRecoverable bool
}

// BiasPhase is the tag of the BiasState union.
type BiasPhase int

const (
	BiasInactive BiasPhase = iota
	BiasLoadingConfig
	BiasActive
	BiasError
)

func (p BiasPhase) String() string {
	switch p {
	case BiasInactive:
		return "Inactive"
	case BiasLoadingConfig:
		return "LoadingConfig"
	case BiasActive:
		return "Active"
	case BiasError:
		return "Error"
	default:
		return "Unknown"
	}
}

// BiasState is the tagged union spec §3 names.
type BiasState struct {
	Phase BiasPhase

	// Active
	FSN     string
	Version int

	// Error
	ErrorCode string
	ErrorMsg  string
}
