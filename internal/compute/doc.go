// Package compute provides the device abstraction the engine offloads its
// tree build, property and force kernels to.
//
// A [Backend] launches a kernel over n work items and blocks until every
// item completed:
//
//	backend, _ := compute.Select("cpu", 0)
//	backend.Launch(n, func(i, worker int) {
//	    acc[i] = walk(i)
//	})
//
// Device-resident data is held in [Mirror] buffers that are staged
// explicitly with H2D and D2H. Every allocation is registered with an
// [Accountant], which tracks current and peak usage against a limit and
// fails allocations that would exceed it.
package compute
