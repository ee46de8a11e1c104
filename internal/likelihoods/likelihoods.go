// Package likelihoods provides the built-in test problems used by the
// demo binaries and the engine's own end-to-end tests: a uniform box
// prior, a standard Gaussian, a Gaussian shell, and the Rosenbrock
// function. Real applications supply their own likelihood and prior
// callbacks through the model package instead.
package likelihoods

import (
	"fmt"
	"math"

	"github.com/nestedsampling/polychord-go/internal/model"
	"github.com/nestedsampling/polychord-go/internal/prior"
)

// UniformBox maps the unit hypercube onto the box [Min, Max]^D.
type UniformBox struct {
	D        int
	Min, Max float64
}

// Dim implements prior.Transform.
func (u UniformBox) Dim() int { return u.D }

// Apply implements prior.Transform.
func (u UniformBox) Apply(hypercube []float64, out []float64) error {
	for i, h := range hypercube {
		out[i] = u.Min + h*(u.Max-u.Min)
	}
	return nil
}

var _ prior.Transform = UniformBox{}

// Gaussian returns logL = -0.5 * sum(x_i^2) - (D/2) log(2 pi), a standard
// normal density. With a UniformBox prior on [-w/2, w/2]^D the analytic
// evidence is D*log(1/w) up to the box truncation.
func Gaussian() model.Likelihood {
	return func(ctx any, physical, derived []float64) (float64, error) {
		r2 := 0.0
		for _, x := range physical {
			r2 += x * x
		}
		if len(derived) > 0 {
			derived[0] = math.Sqrt(r2)
		}
		return -0.5*r2 - 0.5*float64(len(physical))*math.Log(2*math.Pi), nil
	}
}

// GaussianShell returns a shell likelihood of the given radius and width
// centered at the origin, the classic multimodal-adjacent nested sampling
// benchmark.
func GaussianShell(radius, width float64) model.Likelihood {
	norm := -math.Log(width * math.Sqrt(2*math.Pi))
	return func(ctx any, physical, derived []float64) (float64, error) {
		r2 := 0.0
		for _, x := range physical {
			r2 += x * x
		}
		r := math.Sqrt(r2)
		if len(derived) > 0 {
			derived[0] = r
		}
		d := r - radius
		return norm - 0.5*d*d/(width*width), nil
	}
}

// Rosenbrock returns logL = -f(x), the negated Rosenbrock function in D
// dimensions, a narrow curved degeneracy used to stress the within-contour
// sampler.
func Rosenbrock() model.Likelihood {
	return func(ctx any, physical, derived []float64) (float64, error) {
		sum := 0.0
		for i := 0; i+1 < len(physical); i++ {
			a := physical[i+1] - physical[i]*physical[i]
			b := 1 - physical[i]
			sum += 100*a*a + b*b
		}
		return -sum, nil
	}
}

// Problem wires a named built-in problem into an evaluator over a uniform
// box prior. Recognized names are "gaussian", "shell", and "rosenbrock".
func Problem(name string, nDims int) (*model.Evaluator, error) {
	var (
		like model.Likelihood
		box  UniformBox
	)
	switch name {
	case "gaussian":
		like = Gaussian()
		box = UniformBox{D: nDims, Min: -10, Max: 10}
	case "shell":
		like = GaussianShell(2.0, 0.1)
		box = UniformBox{D: nDims, Min: -6, Max: 6}
	case "rosenbrock":
		like = Rosenbrock()
		box = UniformBox{D: nDims, Min: -5, Max: 5}
	default:
		return nil, fmt.Errorf("unknown problem %q", name)
	}
	pri, err := prior.NewComposite(nDims, []prior.Block{{Transform: box, Offset: 0}})
	if err != nil {
		return nil, err
	}
	return model.New(pri, like, nil), nil
}

// NearlyConstant returns logL = eps * x_1, an almost-flat likelihood whose
// log-evidence over a unit-volume prior is eps/2 + O(eps^2). Used to exercise
// the engine where the analytic answer is logZ ~ 0 while keeping every
// likelihood value distinct so contour ordering stays well defined.
func NearlyConstant(eps float64) model.Likelihood {
	return func(ctx any, physical, derived []float64) (float64, error) {
		return eps * physical[0], nil
	}
}
