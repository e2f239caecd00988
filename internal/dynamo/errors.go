package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for simulation operations.
var (
	// ErrInvalidInput indicates an unreadable or malformed initial state.
	ErrInvalidInput = errors.New("dynamo: invalid initial state")

	// ErrInvalidState indicates engine state that breaks an invariant, such
	// as a non-finite particle or time moving backwards.
	ErrInvalidState = errors.New("dynamo: invalid simulation state")

	// ErrParameterBounds indicates a configuration value outside its range.
	ErrParameterBounds = errors.New("dynamo: parameter out of valid bounds")

	// ErrContextCanceled indicates the run was interrupted.
	ErrContextCanceled = errors.New("dynamo: simulation canceled by context")

	// ErrExchangeExhausted indicates particle migration could not complete
	// within the retry budget.
	ErrExchangeExhausted = errors.New("dynamo: particle exchange exhausted retries")

	// ErrConservation indicates a particle count or mass mismatch across ranks.
	ErrConservation = errors.New("dynamo: conservation violated")

	// ErrDeviceMemory indicates a device allocation above the configured limit.
	ErrDeviceMemory = errors.New("dynamo: device memory exhausted")

	// ErrPhase indicates an integration step applied to particles in the
	// wrong predictor/corrector phase.
	ErrPhase = errors.New("dynamo: illegal integration phase transition")
)

// SimulationError wraps an error with simulation context.
type SimulationError struct {
	Rank    int
	Step    int
	Time    float64
	Phase   string
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("rank %d step %d (t=%.4f) %s: %v", e.Rank, e.Step, e.Time, e.Phase, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
