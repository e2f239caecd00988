package initcond

import (
	"context"
	"fmt"

	"github.com/san-kum/octgrav/internal/comm"
	"github.com/san-kum/octgrav/internal/dynamo"
)

// Split cuts bodies into n contiguous chunks of len/n; the last chunk takes
// the remainder.
func Split(bodies []dynamo.Body, n int) [][]dynamo.Body {
	per := len(bodies) / n
	out := make([][]dynamo.Body, n)
	for r := 0; r < n; r++ {
		lo, hi := r*per, (r+1)*per
		if r == n-1 {
			hi = len(bodies)
		}
		out[r] = bodies[lo:hi]
	}
	return out
}

// Scatter hands each rank its share of rank 0's dataset. Only rank 0 needs
// to pass a populated dataset; every rank gets the header.
func Scatter(ctx context.Context, c comm.Communicator, ds Dataset) ([]dynamo.Body, Dataset, error) {
	if c.Size() == 1 {
		return ds.Bodies, ds.Header(), nil
	}
	var parts [][]dynamo.Body
	if c.Rank() == 0 {
		if ds.Total != len(ds.Bodies) {
			return nil, Dataset{}, fmt.Errorf("%w: header says %d bodies, have %d", dynamo.ErrInvalidInput, ds.Total, len(ds.Bodies))
		}
		parts = Split(ds.Bodies, c.Size())
	}
	local, err := comm.Scatter(ctx, c, 0, parts)
	if err != nil {
		return nil, Dataset{}, fmt.Errorf("scatter bodies: %w", err)
	}
	header, err := comm.Bcast(ctx, c, 0, ds.Header())
	if err != nil {
		return nil, Dataset{}, fmt.Errorf("broadcast header: %w", err)
	}
	return local, header, nil
}
