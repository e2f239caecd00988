package gravity

import "gonum.org/v1/gonum/spatial/r3"

// Direct is the O(N^2) all-pairs reference.
func Direct(pos []r3.Vec, mass, eps2 []float64) ([]r3.Vec, []float64) {
	acc := make([]r3.Vec, len(pos))
	pot := make([]float64, len(pos))
	for i := range pos {
		for j := range pos {
			if i == j {
				continue
			}
			da, dp := pair(pos[i], eps2[i], pos[j], mass[j], eps2[j])
			acc[i] = r3.Add(acc[i], da)
			pot[i] += dp
		}
	}
	return acc, pot
}
