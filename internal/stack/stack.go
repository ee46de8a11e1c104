// Package stack implements the live-point stack: a fixed-capacity array
// holding live points plus in-flight "gestating" and empty "blank" slots.
package stack

import (
	"math"
	"math/rand"

	"github.com/nestedsampling/polychord-go/internal/model"
	"github.com/nestedsampling/polychord-go/internal/nserrors"
	"github.com/nestedsampling/polychord-go/internal/point"
)

// Stack holds the backing array of points. The caller (the scheduler) is
// the sole writer; Stack itself performs no locking.
type Stack struct {
	slots []*point.Point
	nDims int
}

// New allocates a Stack with the given capacity, nDims, and nDerived. Every
// slot starts Blank.
func New(capacity, nDims, nDerived int) *Stack {
	s := &Stack{
		slots: make([]*point.Point, capacity),
		nDims: nDims,
	}
	for i := range s.slots {
		s.slots[i] = point.New(nDims, nDerived)
	}
	return s
}

// FromPoints rebuilds a Stack from checkpointed points. The slice is
// adopted directly; the caller must not retain it.
func FromPoints(points []*point.Point, nDims int) *Stack {
	return &Stack{slots: points, nDims: nDims}
}

// Capacity returns S, the backing array size.
func (s *Stack) Capacity() int { return len(s.slots) }

// Read returns the slot at index (no copy; callers must not retain it past
// the next Write to the same index).
func (s *Stack) Read(index int) *point.Point { return s.slots[index] }

// Write overwrites the slot at index with p's fields.
func (s *Stack) Write(index int, p *point.Point) {
	point.CopyInto(s.slots[index], p)
}

// GenerateInitial populates nlive slots by uniform draws from the
// hypercube through the evaluator. All other slots are left Blank.
// Returns an error only if nlive exceeds the stack's capacity.
func (s *Stack) GenerateInitial(nlive int, e *model.Evaluator, rng *rand.Rand) error {
	if nlive > len(s.slots) {
		return nserrors.Config("nlive (%d) exceeds stack capacity (%d)", nlive, len(s.slots))
	}
	sqrtD := math.Sqrt(float64(s.nDims))
	for i := 0; i < nlive; i++ {
		p := s.slots[i]
		for d := range p.Hypercube {
			p.Hypercube[d] = rng.Float64()
		}
		// A failed callback leaves L0 = -Inf; the point stays in the live
		// set at the lowest possible likelihood and dies first, so it
		// never displaces a real sample.
		_ = e.CalculatePoint(p)
		p.L1 = math.Inf(-1)
		p.LastChord = sqrtD
		p.Status = point.Waiting
		p.DaughterIndex = 0
	}
	for i := nlive; i < len(s.slots); i++ {
		s.slots[i].Reset()
	}
	return nil
}

// LowestWaiting returns the index of the slot with minimum L0 among slots
// with Status >= Waiting (i.e. Waiting or HasDaughter), and ok=false if no
// such slot exists.
func (s *Stack) LowestWaiting() (index int, ok bool) {
	best := math.Inf(1)
	found := false
	for i, p := range s.slots {
		if p.Status != point.Waiting && p.Status != point.HasDaughter {
			continue
		}
		if !found || p.L0 < best {
			best = p.L0
			index = i
			found = true
		}
	}
	return index, found
}

// LowestUnlaunched returns the index of the slot with minimum L0 among
// slots with Status == Waiting strictly (no daughter launched yet).
// Unlike LowestWaiting, a live point that has already launched a daughter
// is not a candidate: it cannot launch a second one concurrently.
func (s *Stack) LowestUnlaunched() (index int, ok bool) {
	best := math.Inf(1)
	found := false
	for i, p := range s.slots {
		if p.Status != point.Waiting {
			continue
		}
		if !found || p.L0 < best {
			best = p.L0
			index = i
			found = true
		}
	}
	return index, found
}

// ClaimBlank returns the index of any Blank slot, and ok=false if the
// stack is full.
func (s *Stack) ClaimBlank() (index int, ok bool) {
	for i, p := range s.slots {
		if p.Status == point.Blank {
			return i, true
		}
	}
	return 0, false
}

// CountByStatus returns the number of slots currently in each state, used
// by tests asserting population invariants.
func (s *Stack) CountByStatus() (live, gestating, blank int) {
	for _, p := range s.slots {
		switch p.Status {
		case point.Waiting, point.HasDaughter:
			live++
		case point.Gestating:
			gestating++
		case point.Blank:
			blank++
		}
	}
	return live, gestating, blank
}

// RandomSeedCandidate draws a uniformly random slot index for seed-body
// selection. The caller filters the result.
func (s *Stack) RandomSeedCandidate(rng *rand.Rand) int {
	return rng.Intn(len(s.slots))
}

// NDims returns the hypercube dimensionality of every slot.
func (s *Stack) NDims() int { return s.nDims }
