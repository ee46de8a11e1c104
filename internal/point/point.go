// Package point defines the fixed-layout numeric record exchanged between
// the master and its workers: hypercube and physical coordinates, derived
// parameters, likelihood bookkeeping, and slot status.
package point

import "math"

// Status tags a stack slot's lifecycle state. Classic implementations of
// this algorithm mix sentinel values (-2, -1, 0) and 1-based slot indices
// into a single integer field; status and daughter index are kept as
// separate fields here.
type Status int

const (
	// Blank marks an empty slot.
	Blank Status = iota
	// Gestating marks a slot reserved for a worker-in-progress sample.
	Gestating
	// Waiting marks a live point with no daughter launched yet.
	Waiting
	// HasDaughter marks a live point that has launched a daughter; the
	// daughter's slot index is held in Point.DaughterIndex.
	HasDaughter
)

func (s Status) String() string {
	switch s {
	case Blank:
		return "blank"
	case Gestating:
		return "gestating"
	case Waiting:
		return "waiting"
	case HasDaughter:
		return "has_daughter"
	default:
		return "unknown"
	}
}

// Point is one sample: a hypercube location, its physical and derived
// coordinates, likelihood bookkeeping, and the stack slot's lifecycle tag.
type Point struct {
	Hypercube []float64
	Physical  []float64
	Derived   []float64

	L0 float64 // log-likelihood at this point
	L1 float64 // the contour bound log L_bound under which this point was generated

	NLike         int64 // likelihood evaluations consumed producing this point
	LastChord     float64
	Status        Status
	DaughterIndex int // valid only when Status == HasDaughter
}

// New allocates a zero-valued Point with the given dimensionality and
// derived-parameter count.
func New(nDims, nDerived int) *Point {
	return &Point{
		Hypercube: make([]float64, nDims),
		Physical:  make([]float64, nDims),
		Derived:   make([]float64, nDerived),
		L0:        math.Inf(-1),
		L1:        math.Inf(-1),
		Status:    Blank,
	}
}

// Clone returns a deep copy of p so callers can mutate it without aliasing
// the stack's backing slice.
func (p *Point) Clone() *Point {
	q := &Point{
		Hypercube:     append([]float64(nil), p.Hypercube...),
		Physical:      append([]float64(nil), p.Physical...),
		Derived:       append([]float64(nil), p.Derived...),
		L0:            p.L0,
		L1:            p.L1,
		NLike:         p.NLike,
		LastChord:     p.LastChord,
		Status:        p.Status,
		DaughterIndex: p.DaughterIndex,
	}
	return q
}

// CopyInto overwrites dst's fields with src's, reusing dst's backing slices
// when they are already the right length (the pattern the scheduler uses
// when writing a worker's reply back into its reserved stack slot).
func CopyInto(dst, src *Point) {
	dst.Hypercube = append(dst.Hypercube[:0], src.Hypercube...)
	dst.Physical = append(dst.Physical[:0], src.Physical...)
	dst.Derived = append(dst.Derived[:0], src.Derived...)
	dst.L0 = src.L0
	dst.L1 = src.L1
	dst.NLike = src.NLike
	dst.LastChord = src.LastChord
	dst.Status = src.Status
	dst.DaughterIndex = src.DaughterIndex
}

// Reset returns p to the Blank state, clearing bookkeeping but keeping the
// backing slices allocated for reuse.
func (p *Point) Reset() {
	p.L0 = math.Inf(-1)
	p.L1 = math.Inf(-1)
	p.NLike = 0
	p.LastChord = 0
	p.Status = Blank
	p.DaughterIndex = 0
}
