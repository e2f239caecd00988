package compute

import (
	"fmt"
	"runtime"
	"strings"
)

// Kernel is one work item of a launch. worker identifies the executing
// lane; it is informational only.
type Kernel func(i, worker int)

type Backend interface {
	Name() string
	Workers() int
	Launch(n int, kernel Kernel)
	Cleanup()
}

// Select returns the backend registered under name. workers <= 0 means one
// lane per CPU.
func Select(name string, workers int) (Backend, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cpu":
		return NewCPUBackend(workers), nil
	case "serial":
		return NewSerialBackend(), nil
	default:
		return nil, fmt.Errorf("unknown compute device %q (available: cpu, serial)", name)
	}
}
