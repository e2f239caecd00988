// Package exchange migrates particles to the rank whose region contains
// them.
//
// A pass is flow-controlled: senders offer counts, receivers grant what
// their receive buffer can hold, and only granted records move. Nothing is
// ever dropped; particles that could not move stay with their sender until
// a later pass.
package exchange
