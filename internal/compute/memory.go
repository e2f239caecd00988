package compute

import (
	"fmt"
	"sync"

	"github.com/san-kum/octgrav/internal/dynamo"
)

// Accountant tracks device memory held by named allocations for one rank.
// A limit <= 0 disables the bound.
type Accountant struct {
	mu      sync.Mutex
	limit   int64
	current int64
	peak    int64
	allocs  map[string]int64
}

func NewAccountant(limit int64) *Accountant {
	return &Accountant{limit: limit, allocs: make(map[string]int64)}
}

// Alloc sets the size of the allocation called name to bytes, replacing any
// previous size. It fails with ErrDeviceMemory if the new total would
// exceed the limit; the previous size is kept in that case.
func (a *Accountant) Alloc(name string, bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("alloc %s: negative size %d", name, bytes)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.current - a.allocs[name] + bytes
	if a.limit > 0 && next > a.limit {
		return fmt.Errorf("%w: %s needs %d bytes, %d of %d in use",
			dynamo.ErrDeviceMemory, name, bytes, a.current, a.limit)
	}
	a.allocs[name] = bytes
	a.current = next
	if a.current > a.peak {
		a.peak = a.current
	}
	return nil
}

// Fits reports whether resizing name to bytes would stay within the limit.
func (a *Accountant) Fits(name string, bytes int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limit <= 0 || a.current-a.allocs[name]+bytes <= a.limit
}

func (a *Accountant) Free(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current -= a.allocs[name]
	delete(a.allocs, name)
}

func (a *Accountant) Current() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Accountant) Peak() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peak
}

func (a *Accountant) Limit() int64 { return a.limit }
