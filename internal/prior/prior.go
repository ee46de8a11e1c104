// Package prior defines the unit-hypercube-to-physical-space mapping
// contract (C2) and a composite builder for priors assembled from
// independent blocks over disjoint coordinate ranges. Concrete prior
// families (uniform, Gaussian, log-uniform) are external collaborators and
// are not implemented here; this package provides only the interface and
// the generic composition machinery.
package prior

import "github.com/nestedsampling/polychord-go/internal/nserrors"

// Transform maps a point in the unit hypercube [0,1]^D to physical
// coordinates. Implementations must be bijective on their support and must
// be safe to call concurrently from multiple workers, since the workers of a
// run share one Transform instance.
type Transform interface {
	// Dim returns the hypercube dimensionality this Transform consumes.
	Dim() int
	// Apply writes into out the physical coordinates for hypercube. len(out)
	// must equal Dim(). Returns nserrors.ErrPriorDomain if hypercube
	// contains a value outside [0,1].
	Apply(hypercube []float64, out []float64) error
}

// Block pairs a Transform with the hypercube index range it consumes.
// Ranges across a Composite's blocks must be disjoint and contiguous is not
// required, so priors can be reordered without reshuffling the point
// record.
type Block struct {
	Transform Transform
	Offset    int // index into the full hypercube vector where this block begins
}

// Composite assembles independent prior blocks, each mapped to a disjoint
// hypercube index range, into a single Transform over the full
// dimensionality.
type Composite struct {
	blocks []Block
	dim    int
}

// NewComposite validates that blocks cover disjoint, in-range index sets
// and returns a Composite spanning dim hypercube dimensions.
func NewComposite(dim int, blocks []Block) (*Composite, error) {
	covered := make([]bool, dim)
	for _, b := range blocks {
		d := b.Transform.Dim()
		if b.Offset < 0 || b.Offset+d > dim {
			return nil, nserrors.Config("prior block at offset %d width %d exceeds dimension %d", b.Offset, d, dim)
		}
		for i := b.Offset; i < b.Offset+d; i++ {
			if covered[i] {
				return nil, nserrors.Config("prior block at offset %d overlaps an earlier block at index %d", b.Offset, i)
			}
			covered[i] = true
		}
	}
	return &Composite{blocks: blocks, dim: dim}, nil
}

// Dim implements Transform.
func (c *Composite) Dim() int { return c.dim }

// Apply implements Transform by dispatching each index range to its block.
func (c *Composite) Apply(hypercube []float64, out []float64) error {
	if len(hypercube) != c.dim || len(out) != c.dim {
		return nserrors.Config("composite prior expects dimension %d, got hypercube=%d out=%d", c.dim, len(hypercube), len(out))
	}
	for _, b := range c.blocks {
		d := b.Transform.Dim()
		sub := hypercube[b.Offset : b.Offset+d]
		for _, u := range sub {
			if u < 0 || u > 1 {
				return nserrors.PriorDomain("hypercube coordinate %g at offset %d is outside [0,1]", u, b.Offset)
			}
		}
		if err := b.Transform.Apply(sub, out[b.Offset:b.Offset+d]); err != nil {
			return err
		}
	}
	return nil
}

// Identity is a Transform that passes the hypercube through unchanged; it
// is useful in tests and as a placeholder for dimensions with no prior
// structure beyond the unit cube itself.
type Identity struct {
	D int
}

func (id Identity) Dim() int { return id.D }

func (id Identity) Apply(hypercube []float64, out []float64) error {
	copy(out, hypercube)
	return nil
}
