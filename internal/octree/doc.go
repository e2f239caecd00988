// Package octree builds a Morton-ordered octree over one rank's particles
// and computes per-node multipole properties.
//
// Nodes live in a breadth-first arena: the children of a node are
// contiguous, every level occupies one index range, and all references are
// integer indices. The arena is reused across rebuilds.
package octree
