// Package posterior implements the bounded weighted-sample reservoir:
// capacity nmax_posterior, minimum-weight eviction, and an overwrite-first
// growth policy that keeps the store concentrated near high-weight samples.
package posterior

import "math"

// Row is one posterior sample: its raw log-weight (logL + logw, not yet
// normalized by the final logZ), its log-likelihood, and its physical and
// derived coordinates.
type Row struct {
	LogWeight float64
	LogL      float64
	Physical  []float64
	Derived   []float64
}

// Reservoir is a bounded array of Rows with minimum-weight eviction.
type Reservoir struct {
	rows     []Row
	capacity int
}

// New returns an empty Reservoir with the given capacity.
func New(capacity int) *Reservoir {
	return &Reservoir{capacity: capacity}
}

// Restore rebuilds a Reservoir from checkpointed rows. Rows beyond capacity
// are dropped from the tail; a well-formed checkpoint never has any.
func Restore(capacity int, rows []Row) *Reservoir {
	if len(rows) > capacity {
		rows = rows[:capacity]
	}
	return &Reservoir{capacity: capacity, rows: rows}
}

// Len returns the current number of stored rows.
func (r *Reservoir) Len() int { return len(r.rows) }

// Rows returns the stored rows. Callers must not mutate the returned
// slice's elements' backing arrays.
func (r *Reservoir) Rows() []Row { return r.rows }

// Offer inserts a dead point whose raw weight exceeds log(minimumWeight)
// relative to the running logZ: appending while there is room, preferring
// to overwrite an existing low-weight row before growing, and otherwise
// evicting the current minimum-weight row.
func (r *Reservoir) Offer(logWeight, logL float64, physical, derived []float64, runningLogZ, minimumWeight float64) {
	threshold := runningLogZ + math.Log(minimumWeight)
	if logWeight <= threshold {
		return
	}

	row := Row{
		LogWeight: logWeight,
		LogL:      logL,
		Physical:  append([]float64(nil), physical...),
		Derived:   append([]float64(nil), derived...),
	}

	if len(r.rows) < r.capacity {
		if idx, ok := r.weakestBelow(threshold); ok {
			r.rows[idx] = row
			return
		}
		r.rows = append(r.rows, row)
		return
	}

	idx := r.minIndex()
	if r.rows[idx].LogWeight < row.LogWeight {
		r.rows[idx] = row
	}
}

// weakestBelow returns the index of the lowest-weight row whose weight is
// below threshold, if any such row exists. Used to prefer overwriting a
// stale low-weight row over growing the reservoir.
func (r *Reservoir) weakestBelow(threshold float64) (int, bool) {
	best := -1
	bestWeight := math.Inf(1)
	for i, row := range r.rows {
		if row.LogWeight < threshold && row.LogWeight < bestWeight {
			best = i
			bestWeight = row.LogWeight
		}
	}
	return best, best >= 0
}

// minIndex returns the index of the row with the smallest LogWeight.
func (r *Reservoir) minIndex() int {
	best := 0
	bestWeight := math.Inf(1)
	for i, row := range r.rows {
		if row.LogWeight < bestWeight {
			best = i
			bestWeight = row.LogWeight
		}
	}
	return best
}

// NormalizedWeights returns exp(logWeight - finalLogZ) for every row,
// which sums toward 1 as capacity grows and the precision criterion
// tightens.
func (r *Reservoir) NormalizedWeights(finalLogZ float64) []float64 {
	out := make([]float64, len(r.rows))
	for i, row := range r.rows {
		out[i] = math.Exp(row.LogWeight - finalLogZ)
	}
	return out
}
