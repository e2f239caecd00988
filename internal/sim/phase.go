package sim

import "fmt"

// Phase is the controller state a rank is in.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseDecompose
	PhaseExchange
	PhaseBuild
	PhasePropagate
	PhaseForce
	PhaseIntegrate
	PhaseSnapshot
	PhaseTerminate
)

var phaseNames = [...]string{
	PhaseInit:      "init",
	PhaseDecompose: "decompose",
	PhaseExchange:  "exchange",
	PhaseBuild:     "build",
	PhasePropagate: "propagate",
	PhaseForce:     "force",
	PhaseIntegrate: "integrate",
	PhaseSnapshot:  "snapshot",
	PhaseTerminate: "terminate",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}
