// Package sampler defines the within-contour sampler contract (C4): given a
// seed point whose likelihood already exceeds the contour bound, produce a
// new point independently drawn (to the sampler's approximation) from the
// prior restricted to that contour. Besides the contract, this package holds
// two implementations: SliceSampler (slice sampling with chord adaptation),
// used by the binaries and the scheduler tests, and RejectionSampler, a
// brute-force reference. Spherical-center sampling is not implemented.
package sampler

import (
	"context"
	"math"
	"math/rand"

	"github.com/nestedsampling/polychord-go/internal/model"
	"github.com/nestedsampling/polychord-go/internal/point"
)

// Sampler draws a new live point from the prior restricted to
// {theta : L(theta) > L_bound}, given a seed satisfying seed.L0 > seed.L1
// and seed.L1 == L_bound. Implementations carry seed.LastChord forward as
// an adaptive step-size hint and must preserve seed.DaughterIndex and
// seed.Status on the returned point so the scheduler can route the reply
// back to the slot that was reserved for it.
type Sampler interface {
	Sample(ctx context.Context, seed *point.Point) (*point.Point, error)
}

// RejectionSampler is a brute-force reference implementation: it redraws
// fresh hypercube points uniformly until one clears the contour. It is
// correct but has no adaptive step size, so it is only suitable for low
// dimensions and tests — production runs use SliceSampler.
type RejectionSampler struct {
	Evaluator   *model.Evaluator
	Rng         *rand.Rand
	MaxAttempts int
}

// NewRejectionSampler builds a RejectionSampler. If maxAttempts is <= 0 it
// defaults to 100000.
func NewRejectionSampler(e *model.Evaluator, rng *rand.Rand, maxAttempts int) *RejectionSampler {
	if maxAttempts <= 0 {
		maxAttempts = 100000
	}
	return &RejectionSampler{Evaluator: e, Rng: rng, MaxAttempts: maxAttempts}
}

// Sample implements Sampler by rejection sampling against seed.L1.
func (s *RejectionSampler) Sample(ctx context.Context, seed *point.Point) (*point.Point, error) {
	baby := point.New(len(seed.Hypercube), len(seed.Derived))
	baby.LastChord = seed.LastChord
	baby.Status = seed.Status
	baby.DaughterIndex = seed.DaughterIndex
	baby.L1 = seed.L1

	for attempt := 0; attempt < s.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		for i := range baby.Hypercube {
			baby.Hypercube[i] = s.Rng.Float64()
		}
		if err := s.Evaluator.CalculatePoint(baby); err != nil {
			continue
		}
		if baby.L0 > seed.L1 {
			return baby, nil
		}
	}
	baby.L0 = math.Inf(-1)
	return baby, nil
}
