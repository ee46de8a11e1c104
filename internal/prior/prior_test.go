package prior

import (
	"errors"
	"math"
	"testing"

	"github.com/nestedsampling/polychord-go/internal/nserrors"
)

// affine maps [0,1]^D onto [min,max]^D, the simplest nontrivial block.
type affine struct {
	d        int
	min, max float64
}

func (a affine) Dim() int { return a.d }

func (a affine) Apply(hypercube, out []float64) error {
	for i, h := range hypercube {
		out[i] = a.min + h*(a.max-a.min)
	}
	return nil
}

func TestCompositeDispatchesBlocks(t *testing.T) {
	c, err := NewComposite(4, []Block{
		{Transform: affine{d: 2, min: -1, max: 1}, Offset: 0},
		{Transform: affine{d: 2, min: 0, max: 10}, Offset: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	out := make([]float64, 4)
	if err := c.Apply([]float64{0, 1, 0.5, 0.1}, out); err != nil {
		t.Fatal(err)
	}
	want := []float64{-1, 1, 5, 1}
	for i := range want {
		if math.Abs(out[i]-want[i]) > 1e-12 {
			t.Errorf("out[%d] = %g, want %g", i, out[i], want[i])
		}
	}
}

func TestCompositeRejectsOverlap(t *testing.T) {
	_, err := NewComposite(3, []Block{
		{Transform: affine{d: 2}, Offset: 0},
		{Transform: affine{d: 2}, Offset: 1},
	})
	if !errors.Is(err, nserrors.ErrConfig) {
		t.Errorf("overlapping blocks: err = %v, want ErrConfig", err)
	}
}

func TestCompositeRejectsOutOfRange(t *testing.T) {
	_, err := NewComposite(2, []Block{
		{Transform: affine{d: 2}, Offset: 1},
	})
	if !errors.Is(err, nserrors.ErrConfig) {
		t.Errorf("out-of-range block: err = %v, want ErrConfig", err)
	}
}

func TestCompositeDomainError(t *testing.T) {
	c, err := NewComposite(2, []Block{{Transform: affine{d: 2}, Offset: 0}})
	if err != nil {
		t.Fatal(err)
	}
	out := make([]float64, 2)
	err = c.Apply([]float64{0.5, 1.5}, out)
	if !errors.Is(err, nserrors.ErrPriorDomain) {
		t.Errorf("out-of-domain input: err = %v, want ErrPriorDomain", err)
	}
}

func TestCompositeDimensionMismatch(t *testing.T) {
	c, err := NewComposite(2, []Block{{Transform: affine{d: 2}, Offset: 0}})
	if err != nil {
		t.Fatal(err)
	}
	err = c.Apply([]float64{0.5}, make([]float64, 2))
	if !errors.Is(err, nserrors.ErrConfig) {
		t.Errorf("dimension mismatch: err = %v, want ErrConfig", err)
	}
}

func TestIdentity(t *testing.T) {
	id := Identity{D: 3}
	out := make([]float64, 3)
	in := []float64{0.1, 0.5, 0.9}
	if err := id.Apply(in, out); err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %g, want %g", i, out[i], in[i])
		}
	}
}
