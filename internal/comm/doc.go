// Package comm provides the collective operations ranks use to cooperate.
//
// A World runs one goroutine per rank. Ranks never share particle state;
// everything crosses rank boundaries through a Communicator. Collectives
// must be entered by every rank in the same order.
package comm
