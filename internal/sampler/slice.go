package sampler

import (
	"context"
	"math"
	"math/rand"

	"github.com/nestedsampling/polychord-go/internal/model"
	"github.com/nestedsampling/polychord-go/internal/point"
)

// SliceSampler draws the new point by repeated one-dimensional slice
// sampling along random directions, stepping out from the seed and
// shrinking the bracket on rejection. The chord length found by each
// one-dimensional slice feeds an exponential moving average carried between
// generations through Point.LastChord, so the step size tracks the
// shrinking contour without any global tuning.
type SliceSampler struct {
	Evaluator  *model.Evaluator
	Rng        *rand.Rand
	NumRepeats int // slice passes per call; <= 0 means 2*D
}

// NewSliceSampler builds a SliceSampler.
func NewSliceSampler(e *model.Evaluator, rng *rand.Rand, numRepeats int) *SliceSampler {
	return &SliceSampler{Evaluator: e, Rng: rng, NumRepeats: numRepeats}
}

// maxStepOut bounds the step-out loop at this many chord widths per side so
// a pathological contour cannot loop forever; a bracket that is still inside
// the contour after that many steps is used as it is.
const maxStepOut = 16

// Sample implements Sampler. The returned point satisfies L0 > seed.L1 and
// carries the seed's contour bound, daughter index, and the updated chord.
func (s *SliceSampler) Sample(ctx context.Context, seed *point.Point) (*point.Point, error) {
	d := len(seed.Hypercube)
	nrep := s.NumRepeats
	if nrep <= 0 {
		nrep = 2 * d
	}
	chord := seed.LastChord
	if chord <= 0 {
		chord = math.Sqrt(float64(d))
	}

	cur := seed.Clone()
	cur.NLike = 0
	trial := point.New(d, len(seed.Derived))
	dir := make([]float64, d)

	for rep := 0; rep < nrep; rep++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		s.randomDirection(dir)

		// Step out: place a bracket of width chord uniformly around the
		// current point, then move each end outward one chord width at a
		// time until it leaves the contour.
		left := -chord * s.Rng.Float64()
		right := left + chord
		for i := 0; i < maxStepOut && s.inContour(cur, trial, dir, left, seed.L1); i++ {
			left -= chord
		}
		for i := 0; i < maxStepOut && s.inContour(cur, trial, dir, right, seed.L1); i++ {
			right += chord
		}

		// Shrink: sample within the bracket, collapsing the rejected side,
		// until a point inside the contour is found. The bracket shrinks
		// geometrically so this terminates; the current point (x = 0) is
		// always an interior point of the slice.
		for {
			x := left + s.Rng.Float64()*(right-left)
			if s.inContour(cur, trial, dir, x, seed.L1) {
				point.CopyInto(cur, trial)
				chord = 0.9*chord + 0.1*(right-left)
				break
			}
			if x < 0 {
				left = x
			} else {
				right = x
			}
			if right-left < 1e-12 {
				// Bracket collapsed onto the seed; keep the current point
				// and move on to the next direction.
				break
			}
		}
	}

	cur.L1 = seed.L1
	cur.NLike = trial.NLike
	cur.LastChord = chord
	cur.Status = seed.Status
	cur.DaughterIndex = seed.DaughterIndex
	return cur, nil
}

// inContour evaluates origin + x*dir into trial and reports whether it lies
// inside the unit hypercube with L0 above bound. Points outside the
// hypercube are outside the contour. trial accumulates the likelihood-call
// count across the whole Sample call.
func (s *SliceSampler) inContour(origin, trial *point.Point, dir []float64, x float64, bound float64) bool {
	nlike := trial.NLike
	point.CopyInto(trial, origin)
	trial.NLike = nlike
	for i := range trial.Hypercube {
		trial.Hypercube[i] = origin.Hypercube[i] + x*dir[i]
		if trial.Hypercube[i] < 0 || trial.Hypercube[i] > 1 {
			return false
		}
	}
	if err := s.Evaluator.CalculatePoint(trial); err != nil {
		return false
	}
	return trial.L0 > bound
}

// randomDirection fills dir with a uniformly random unit vector.
func (s *SliceSampler) randomDirection(dir []float64) {
	norm := 0.0
	for i := range dir {
		dir[i] = s.Rng.NormFloat64()
		norm += dir[i] * dir[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		dir[0] = 1
		return
	}
	for i := range dir {
		dir[i] /= norm
	}
}
