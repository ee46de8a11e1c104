// Package evidence implements the evidence accumulator: a running,
// log-space update of log Z, its variance, and the prior-volume shrinkage,
// following Keeton-style two-term quadrature.
package evidence

import "math"

// Accumulator holds the evidence state: logZ, logZ^2, logZ*logX, logX,
// logX^2, and the running mean log-likelihood over the live set. logZ2/logZX/logX2 are derived from Skilling's
// information statistic H rather than stored as independent running sums,
// since H gives the standard sqrt(H/nlive) error bar directly and is the
// two-term recursion this package implements: each update mixes the new
// point's weighted contribution with the previous estimate's own
// uncertainty.
type Accumulator struct {
	LogZ  float64
	LogX  float64
	H     float64 // Skilling's information statistic
	NDead int

	lastNLive    int
	sumLogLLive  float64
	nLiveSampled int
	lastLogW     float64
}

// New returns an Accumulator initialized to Z=0 (logZ=-Inf), X=1 (logX=0).
func New() *Accumulator {
	return &Accumulator{
		LogZ: math.Inf(-1),
		LogX: 0,
	}
}

// Restore rebuilds an Accumulator from checkpointed state: the running logZ
// and logX, Skilling's H, the number of deaths so far, and the live
// population size in effect when the checkpoint was taken.
func Restore(logZ, logX, h float64, ndead, nlive int) *Accumulator {
	return &Accumulator{
		LogZ:      logZ,
		LogX:      logX,
		H:         h,
		NDead:     ndead,
		lastNLive: nlive,
		lastLogW:  logw(ndead, nlive),
	}
}

// logw computes the weight of the i-th death (1-based) with n live points:
// log(X_{i-1} - X_i) under the deterministic shrinkage X_i = (n/(n+1))^i,
// which expands to (i-1)*log(n) - i*log(n+1).
func logw(i, n int) float64 {
	fi, fn := float64(i), float64(n)
	return (fi-1)*math.Log(fn) - fi*math.Log(fn+1)
}

// Update folds one dead point into the running evidence estimate. logLDead
// is the promoted point's L0; nlive is the live population size at the
// moment of death.
func (a *Accumulator) Update(logLDead float64, nlive int) {
	w := logw(a.NDead+1, nlive)
	term := logLDead + w
	newLogZ := logSumExp(a.LogZ, term)

	// Skilling's running-information update: blends the new weighted
	// sample against the accumulated estimate so far, weighted by their
	// relative contribution to the new total.
	if !math.IsInf(a.LogZ, -1) {
		pOld := math.Exp(a.LogZ - newLogZ)
		pNew := math.Exp(term - newLogZ)
		a.H = pNew*(logLDead-newLogZ) + pOld*(a.H+a.LogZ-newLogZ)
		if a.H < 0 {
			a.H = 0
		}
	}

	a.LogZ = newLogZ
	a.LogX += math.Log(float64(nlive)) - math.Log(float64(nlive)+1)
	a.NDead++
	a.lastNLive = nlive
	a.lastLogW = w
}

// LastLogWeight returns the dead-point weight logw used by the most recent
// Update call, so callers (the posterior reservoir) can reconstruct the
// raw logL+logw weight without recomputing it.
func (a *Accumulator) LastLogWeight() float64 { return a.lastLogW }

// LogZ2 returns log(E[Z^2]), derived from H under the small-variance
// log-normal approximation Var(logZ) ~= H/nlive.
func (a *Accumulator) LogZ2() float64 {
	n := a.lastNLive
	if n == 0 {
		return math.Inf(-1)
	}
	return 2*a.LogZ + math.Log1p(a.H/float64(n))
}

// LogZX returns log(E[Z*X]); treated as independent in this approximation.
func (a *Accumulator) LogZX() float64 { return a.LogZ + a.LogX }

// LogX2 returns log(E[X^2]).
func (a *Accumulator) LogX2() float64 { return 2 * a.LogX }

// Sigma returns the error bar on log Z: sqrt(LogZ2() - 2*LogZ), which is
// sqrt(log(1 + H/nlive)).
func (a *Accumulator) Sigma() float64 {
	if a.lastNLive == 0 {
		return math.Inf(1)
	}
	return math.Sqrt(math.Log1p(a.H / float64(a.lastNLive)))
}

// RefreshLiveMean recomputes the running mean log-likelihood over the
// current live set. Called at every promotion rather than only at
// initialization so the termination criterion stays tight.
func (a *Accumulator) RefreshLiveMean(liveLogL []float64) {
	if len(liveLogL) == 0 {
		a.sumLogLLive = 0
		a.nLiveSampled = 0
		return
	}
	sum := 0.0
	for _, l := range liveLogL {
		sum += l
	}
	a.sumLogLLive = sum
	a.nLiveSampled = len(liveLogL)
}

// MeanLogLLive returns the current live set's mean log-likelihood.
func (a *Accumulator) MeanLogLLive() float64 {
	if a.nLiveSampled == 0 {
		return math.Inf(-1)
	}
	return a.sumLogLLive / float64(a.nLiveSampled)
}

// LogZLive returns the upper-bound contribution the remaining live set
// could still add to the evidence: <logL>_live + logX.
func (a *Accumulator) LogZLive() float64 {
	return a.MeanLogLLive() + a.LogX
}

// Done reports whether the run can stop: the live set's remaining
// potential contribution has shrunk to a small fraction of the evidence
// accumulated so far, or ndead has reached maxNDead (0 meaning unbounded).
func (a *Accumulator) Done(precisionCriterion float64, maxNDead int) bool {
	if maxNDead > 0 && a.NDead >= maxNDead {
		return true
	}
	if math.IsInf(a.LogZ, -1) {
		return false
	}
	total := logSumExp(a.LogZ, a.LogZLive())
	return total-a.LogZ < math.Log1p(precisionCriterion)
}

func logSumExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}
