// Package dynamo provides the core value types shared by every stage of the
// tree-code engine.
//
// The package defines:
//
//   - [Body]: an ingested particle record (id, mass, position, velocity,
//     softening, population class)
//   - [Clock]: the global simulation clock (step, time, step size)
//   - [SimulationError]: fatal error wrapper carrying rank/step context
//
// # Errors
//
// Fatal conditions are reported with the sentinel errors in this package so
// callers can classify them with errors.Is:
//
//	if errors.Is(err, dynamo.ErrExchangeExhausted) {
//	    // particles could not be placed; the run must stop
//	}
package dynamo
