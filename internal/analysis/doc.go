// Package analysis post-processes completed runs.
//
// It works on the diagnostics series and snapshots written by a run:
//
//   - [Spectrum]: windowed power spectrum of a diagnostic series
//   - [DominantPeriod]: strongest oscillation period, e.g. of the virial ratio
//   - [LagrangianRadii]: radii enclosing given mass fractions of a snapshot
//   - [Project]: 2D projection of a snapshot rendered as ASCII
//
// # Oscillation Detection
//
// A relaxed system shows no dominant period in its virial ratio; a
// collapsing one rings at roughly the crossing time:
//
//	period, power := analysis.DominantPeriod(virial, dt)
package analysis
