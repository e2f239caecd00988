// Package gravity evaluates softened Newtonian accelerations (G = 1) with a
// Barnes-Hut walk over the local octree plus the sources imported from
// other ranks' local essential trees.
package gravity
