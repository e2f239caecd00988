package compute

import (
	"fmt"

	"github.com/dgravesa/go-parallel/parallel"
)

// minParallel is the launch size below which the goroutine fan-out costs
// more than it saves.
const minParallel = 64

type CPUBackend struct {
	workers int
}

func NewCPUBackend(workers int) *CPUBackend {
	if workers < 1 {
		workers = 1
	}
	return &CPUBackend{workers: workers}
}

func (c *CPUBackend) Name() string { return fmt.Sprintf("cpu(%d)", c.workers) }
func (c *CPUBackend) Workers() int { return c.workers }
func (c *CPUBackend) Cleanup()     {}

func (c *CPUBackend) Launch(n int, kernel Kernel) {
	if n <= 0 {
		return
	}
	if n < minParallel || c.workers == 1 {
		for i := 0; i < n; i++ {
			kernel(i, 0)
		}
		return
	}
	parallel.WithNumGoroutines(c.workers).For(n, func(i, grID int) {
		kernel(i, grID)
	})
}

// SerialBackend runs every item in order on the calling goroutine. Results
// are bit-for-bit reproducible, which the tests rely on.
type SerialBackend struct{}

func NewSerialBackend() *SerialBackend { return &SerialBackend{} }

func (s *SerialBackend) Name() string { return "serial" }
func (s *SerialBackend) Workers() int { return 1 }
func (s *SerialBackend) Cleanup()     {}

func (s *SerialBackend) Launch(n int, kernel Kernel) {
	for i := 0; i < n; i++ {
		kernel(i, 0)
	}
}
