// Package model implements the evaluator (C3): given a hypercube point, it
// computes physical coordinates via the prior transform, invokes the user
// log-likelihood, and records the likelihood-call bookkeeping on the point.
package model

import (
	"math"

	"github.com/nestedsampling/polychord-go/internal/nserrors"
	"github.com/nestedsampling/polychord-go/internal/point"
	"github.com/nestedsampling/polychord-go/internal/prior"
)

// Likelihood is the user log-likelihood callback. It reads physical, writes
// derived, and returns logL. ctx is an opaque value forwarded unmodified,
// threaded through explicitly rather than captured in a package-level
// variable, so separate Evaluators can
// serve multiple concurrent runs without cross-talk. A returned error is a
// CallbackFailure: the caller treats logL as -Inf and discards the point
// from promotion without retrying.
type Likelihood func(ctx any, physical []float64, derived []float64) (float64, error)

// Evaluator ties a Prior transform to a user Likelihood.
type Evaluator struct {
	Prior      prior.Transform
	Likelihood Likelihood
	Context    any
}

// New builds an Evaluator.
func New(p prior.Transform, l Likelihood, ctx any) *Evaluator {
	return &Evaluator{Prior: p, Likelihood: l, Context: ctx}
}

// CalculatePoint implements C3's calculate_point operation: maps p's
// hypercube coordinates through the prior, invokes the likelihood, and
// updates p.Physical, p.Derived, p.L0, and p.NLike in place.
//
// On CallbackFailure (prior domain error or a likelihood error), L0 is set
// to -Inf and the error is returned so the caller can log it; the point
// itself is left valid, it just carries the lowest possible likelihood.
func (e *Evaluator) CalculatePoint(p *point.Point) error {
	if err := e.Prior.Apply(p.Hypercube, p.Physical); err != nil {
		p.L0 = math.Inf(-1)
		p.NLike++
		return nserrors.CallbackFailure("prior transform: %v", err)
	}

	logL, err := e.Likelihood(e.Context, p.Physical, p.Derived)
	p.NLike++
	if err != nil {
		p.L0 = math.Inf(-1)
		return nserrors.CallbackFailure("likelihood: %v", err)
	}
	p.L0 = logL
	return nil
}
