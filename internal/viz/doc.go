// Package viz renders runs in the terminal.
//
//   - [Progress]: Bubble Tea model fed with per-step diagnostics and
//     particle positions while a run is in flight
//   - [Canvas]: Braille-based pixel canvas, four by two dots per cell
//   - [Camera]: orthographic rotating projection of particle positions
//
// # Key Bindings
//
//	Q      - Stop the run and quit
//	X/Y/Z  - Rotate the view (shift reverses)
//	+/-    - Zoom
//	?      - Show help overlay
package viz
