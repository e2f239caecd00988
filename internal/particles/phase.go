package particles

import (
	"fmt"

	"github.com/san-kum/octgrav/internal/dynamo"
)

// Phase says which of a particle's state buffers are valid.
//
//	Raw        Pos/Vel/Acc0 valid; PPos/PVel mirror Pos/Vel
//	Predicted  PPos/PVel extrapolated to the next force time; Acc1 pending
//	Corrected  Pos/Vel/Acc0 updated from Acc1; ready for the next prediction
type Phase uint8

const (
	Raw Phase = iota
	Predicted
	Corrected
)

func (p Phase) String() string {
	switch p {
	case Raw:
		return "raw"
	case Predicted:
		return "predicted"
	case Corrected:
		return "corrected"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// CanPredict is always true: prediction reads only the base state, so an
// inactive particle is re-predicted on every sub-step.
func (p Phase) CanPredict() bool { return p <= Corrected }

// CanCorrect reports whether a corrector may run.
func (p Phase) CanCorrect() bool { return p == Predicted }

func (s *Store) MarkPredicted(i int) error {
	if !s.Phase[i].CanPredict() {
		return fmt.Errorf("%w: predict particle %d in phase %s", dynamo.ErrPhase, s.ID[i], s.Phase[i])
	}
	s.Phase[i] = Predicted
	return nil
}

func (s *Store) MarkCorrected(i int) error {
	if !s.Phase[i].CanCorrect() {
		return fmt.Errorf("%w: correct particle %d in phase %s", dynamo.ErrPhase, s.ID[i], s.Phase[i])
	}
	s.Phase[i] = Corrected
	return nil
}

// CountPhase returns how many particles are in phase p.
func (s *Store) CountPhase(p Phase) int {
	n := 0
	for _, ph := range s.Phase[:s.n] {
		if ph == p {
			n++
		}
	}
	return n
}
