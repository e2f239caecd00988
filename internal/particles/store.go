package particles

import (
	"fmt"
	"math"
	"sort"
	"unsafe"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/compute"
	"github.com/san-kum/octgrav/internal/dynamo"
)

// Record is the full migratable state of one particle.
type Record struct {
	ID    int64
	Class dynamo.Class
	Flags dynamo.Flag
	Phase Phase

	Mass float64
	Eps2 float64
	Pot  float64
	Time float64
	Dt   float64
	Work float64

	Pos  r3.Vec
	Vel  r3.Vec
	Acc0 r3.Vec
	Acc1 r3.Vec
	PPos r3.Vec
	PVel r3.Vec
}

// RecordBytes is the device footprint of one particle.
const RecordBytes = int64(unsafe.Sizeof(Record{}))

const allocName = "particles"

// Store owns the per-particle arrays of one rank in structure-of-arrays
// layout. Only the rank's control goroutine touches it.
type Store struct {
	acct *compute.Accountant
	n    int

	ID    []int64
	Class []dynamo.Class
	Flags []dynamo.Flag
	Phase []Phase

	Mass []float64
	Eps2 []float64
	Pot  []float64
	Time []float64
	Dt   []float64
	Work []float64

	Pos  []r3.Vec
	Vel  []r3.Vec
	Acc0 []r3.Vec
	Acc1 []r3.Vec
	PPos []r3.Vec
	PVel []r3.Vec
}

func NewStore(acct *compute.Accountant, capacity int) (*Store, error) {
	s := &Store{acct: acct}
	if err := s.Reserve(capacity); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Len() int { return s.n }
func (s *Store) Cap() int { return cap(s.ID) }

// Free is the number of records the store can absorb without reallocating.
func (s *Store) Free() int { return s.Cap() - s.n }

// Reserve grows capacity to at least c. Growth is charged to the accountant
// before any array is reallocated, so a failed reserve leaves the store intact.
func (s *Store) Reserve(c int) error {
	if c <= s.Cap() {
		return nil
	}
	if s.acct != nil {
		if err := s.acct.Alloc(allocName, int64(c)*RecordBytes); err != nil {
			return err
		}
	}
	s.ID = grow(s.ID, c)
	s.Class = grow(s.Class, c)
	s.Flags = grow(s.Flags, c)
	s.Phase = grow(s.Phase, c)
	s.Mass = grow(s.Mass, c)
	s.Eps2 = grow(s.Eps2, c)
	s.Pot = grow(s.Pot, c)
	s.Time = grow(s.Time, c)
	s.Dt = grow(s.Dt, c)
	s.Work = grow(s.Work, c)
	s.Pos = grow(s.Pos, c)
	s.Vel = grow(s.Vel, c)
	s.Acc0 = grow(s.Acc0, c)
	s.Acc1 = grow(s.Acc1, c)
	s.PPos = grow(s.PPos, c)
	s.PVel = grow(s.PVel, c)
	return nil
}

func grow[T any](a []T, c int) []T {
	b := make([]T, len(a), c)
	copy(b, a)
	return b
}

func (s *Store) setLen(n int) {
	s.ID = s.ID[:n]
	s.Class = s.Class[:n]
	s.Flags = s.Flags[:n]
	s.Phase = s.Phase[:n]
	s.Mass = s.Mass[:n]
	s.Eps2 = s.Eps2[:n]
	s.Pot = s.Pot[:n]
	s.Time = s.Time[:n]
	s.Dt = s.Dt[:n]
	s.Work = s.Work[:n]
	s.Pos = s.Pos[:n]
	s.Vel = s.Vel[:n]
	s.Acc0 = s.Acc0[:n]
	s.Acc1 = s.Acc1[:n]
	s.PPos = s.PPos[:n]
	s.PVel = s.PVel[:n]
	s.n = n
}

// Load appends ingested bodies. Softening comes from the body when
// individual is set, otherwise from the global eps. Predicted buffers start
// equal to the base state so a tree can be built before the first predict.
func (s *Store) Load(bodies []dynamo.Body, eps float64, individual bool) error {
	recs := make([]Record, len(bodies))
	for i, b := range bodies {
		if !b.IsValid() {
			return fmt.Errorf("%w: body %d has non-finite or negative fields", dynamo.ErrInvalidInput, b.ID)
		}
		e := eps
		if individual {
			e = b.Eps
		}
		recs[i] = Record{
			ID:    b.ID,
			Class: b.Class,
			Mass:  b.Mass,
			Eps2:  e * e,
			Pos:   b.Pos,
			Vel:   b.Vel,
			PPos:  b.Pos,
			PVel:  b.Vel,
			Phase: Raw,
		}
	}
	return s.Append(recs...)
}

func (s *Store) Record(i int) Record {
	return Record{
		ID: s.ID[i], Class: s.Class[i], Flags: s.Flags[i], Phase: s.Phase[i],
		Mass: s.Mass[i], Eps2: s.Eps2[i], Pot: s.Pot[i], Time: s.Time[i], Dt: s.Dt[i], Work: s.Work[i],
		Pos: s.Pos[i], Vel: s.Vel[i], Acc0: s.Acc0[i], Acc1: s.Acc1[i], PPos: s.PPos[i], PVel: s.PVel[i],
	}
}

func (s *Store) set(i int, r Record) {
	s.ID[i], s.Class[i], s.Flags[i], s.Phase[i] = r.ID, r.Class, r.Flags, r.Phase
	s.Mass[i], s.Eps2[i], s.Pot[i], s.Time[i], s.Dt[i], s.Work[i] = r.Mass, r.Eps2, r.Pot, r.Time, r.Dt, r.Work
	s.Pos[i], s.Vel[i], s.Acc0[i], s.Acc1[i], s.PPos[i], s.PVel[i] = r.Pos, r.Vel, r.Acc0, r.Acc1, r.PPos, r.PVel
}

// Append adds records, growing the store if needed.
func (s *Store) Append(recs ...Record) error {
	need := s.n + len(recs)
	if need > s.Cap() {
		c := 2 * s.Cap()
		if c < need {
			c = need
		}
		if err := s.Reserve(c); err != nil {
			return err
		}
	}
	base := s.n
	s.setLen(need)
	for k, r := range recs {
		s.set(base+k, r)
	}
	return nil
}

// Extract returns the records at idx and removes them from the store. The
// relative order of the remaining particles is preserved.
func (s *Store) Extract(idx []int) []Record {
	if len(idx) == 0 {
		return nil
	}
	sorted := append([]int(nil), idx...)
	sort.Ints(sorted)
	out := make([]Record, 0, len(sorted))
	for _, i := range sorted {
		out = append(out, s.Record(i))
	}
	s.Remove(sorted)
	return out
}

// Remove deletes the particles at the ascending indices idx.
func (s *Store) Remove(idx []int) {
	if len(idx) == 0 {
		return
	}
	w, k := 0, 0
	for r := 0; r < s.n; r++ {
		if k < len(idx) && idx[k] == r {
			k++
			continue
		}
		if w != r {
			s.set(w, s.Record(r))
		}
		w++
	}
	s.setLen(w)
}

// Permute reorders the store so that new position i holds old particle
// order[i].
func (s *Store) Permute(order []int) {
	if len(order) != s.n {
		panic(fmt.Sprintf("permute: order has %d entries for %d particles", len(order), s.n))
	}
	permute(s.ID, order)
	permute(s.Class, order)
	permute(s.Flags, order)
	permute(s.Phase, order)
	permute(s.Mass, order)
	permute(s.Eps2, order)
	permute(s.Pot, order)
	permute(s.Time, order)
	permute(s.Dt, order)
	permute(s.Work, order)
	permute(s.Pos, order)
	permute(s.Vel, order)
	permute(s.Acc0, order)
	permute(s.Acc1, order)
	permute(s.PPos, order)
	permute(s.PVel, order)
}

func permute[T any](a []T, order []int) {
	tmp := make([]T, len(order))
	for i, j := range order {
		tmp[i] = a[j]
	}
	copy(a, tmp)
}

// TotalMass is the compensated sum of local masses.
func (s *Store) TotalMass() float64 {
	return floats.SumCompensated(s.Mass[:s.n])
}

// Momentum is the local linear momentum at the last force time.
func (s *Store) Momentum() r3.Vec {
	var p r3.Vec
	for i := 0; i < s.n; i++ {
		p = r3.Add(p, r3.Scale(s.Mass[i], s.PVel[i]))
	}
	return p
}

// Lagging counts the particles whose last correction is earlier than t.
// Their Pot dates from that correction.
func (s *Store) Lagging(t float64) int {
	tol := 1e-12 * math.Max(1, math.Abs(t))
	n := 0
	for i := 0; i < s.n; i++ {
		if s.Time[i] < t-tol {
			n++
		}
	}
	return n
}

// Bodies exports every particle at the last force time. Corrected particles
// have PPos == Pos; the rest are extrapolated by the last prediction.
func (s *Store) Bodies() []dynamo.Body {
	out := make([]dynamo.Body, s.n)
	for i := range out {
		out[i] = s.Body(i)
	}
	return out
}

func (s *Store) Body(i int) dynamo.Body {
	return dynamo.Body{
		ID:    s.ID[i],
		Mass:  s.Mass[i],
		Pos:   s.PPos[i],
		Vel:   s.PVel[i],
		Class: s.Class[i],
	}
}

// Validate reports the first particle with a non-finite position, velocity
// or acceleration.
func (s *Store) Validate() error {
	for i := 0; i < s.n; i++ {
		if !dynamo.FiniteVec(s.PPos[i]) || !dynamo.FiniteVec(s.PVel[i]) || !dynamo.FiniteVec(s.Acc0[i]) {
			return fmt.Errorf("%w: particle %d is not finite", dynamo.ErrInvalidState, s.ID[i])
		}
	}
	return nil
}

// Release returns the store's memory to the accountant.
func (s *Store) Release() {
	s.setLen(0)
	if s.acct != nil {
		s.acct.Free(allocName)
	}
}
