package feedback

import (
	"context"
	"fmt"
	"log/slog"
)

// Reporter is the progress-reporting half of feedback (termination itself
// is decided by internal/evidence.Accumulator.Done). Every nlive
// promotions the scheduler calls Tick, which logs the progress line,
// updates the Prometheus gauges, and publishes a ProgressFrame to Redis
// if broadcasting is enabled.
type Reporter struct {
	level       int
	fileRoot    string
	metrics     *Metrics
	broadcaster *Broadcaster
	logger      *slog.Logger

	lastStallNDead int
	stallReported  bool
}

// NewReporter builds a Reporter. metrics and broadcaster may be nil if
// Prometheus/Redis are disabled in configuration.
func NewReporter(level int, fileRoot string, metrics *Metrics, broadcaster *Broadcaster) *Reporter {
	return &Reporter{
		level:          level,
		fileRoot:       fileRoot,
		metrics:        metrics,
		broadcaster:    broadcaster,
		logger:         slog.Default().With("component", "feedback"),
		lastStallNDead: -1,
	}
}

// Tick reports one feedback cadence point: ndead promotions have occurred,
// nlive and activeWorkers describe the current population, and
// meanLikelihoodCalls/logZ/sigma are the evidence accumulator's current
// estimate.
func (r *Reporter) Tick(ctx context.Context, ndead, nlive, activeWorkers int, meanLikelihoodCalls, logZ, sigma float64) {
	if r.level >= 1 {
		r.logger.Info("progress",
			"ndead", ndead,
			"mean_likelihood_calls", meanLikelihoodCalls,
			"log_z", logZ,
			"sigma", sigma,
		)
	}
	if r.metrics != nil {
		r.metrics.NDead.Set(float64(ndead))
		r.metrics.NLive.Set(float64(nlive))
		r.metrics.ActiveWorkers.Set(float64(activeWorkers))
		r.metrics.LogZ.Set(logZ)
		r.metrics.LogZSigma.Set(sigma)
		r.metrics.MeanLikelihoodCalls.Set(meanLikelihoodCalls)
	}
	r.broadcaster.Publish(ctx, ProgressFrame{
		NDead:               ndead,
		LogZ:                logZ,
		Sigma:               sigma,
		MeanLikelihoodCalls: meanLikelihoodCalls,
	})
}

// RecordPromotion increments the promotions and likelihood-call counters;
// called on every promotion, independent of the feedback cadence.
func (r *Reporter) RecordPromotion(likelihoodCalls int64) {
	if r.metrics == nil {
		return
	}
	r.metrics.PromotionsTotal.Inc()
	r.metrics.LikelihoodCallsTotal.Add(float64(likelihoodCalls))
}

// StallWarning reports that no valid seed could be generated this
// iteration. Rate-limited to once per distinct ndead value; a persistent
// stall means nprocs is too large for nlive.
func (r *Reporter) StallWarning(ndead int) {
	if ndead == r.lastStallNDead && r.stallReported {
		return
	}
	r.lastStallNDead = ndead
	r.stallReported = true
	r.logger.Warn("stall: no valid seed could be generated this iteration", "ndead", ndead)
	if r.metrics != nil {
		r.metrics.StallWarningsTotal.Inc()
	}
}

// ClearStall resets the stall rate-limit once a dispatch succeeds again.
func (r *Reporter) ClearStall() {
	r.stallReported = false
}

// Summary formats the final stdout summary printed at process exit.
func Summary(ndead int, logZ, sigma float64, totalLikelihoodCalls int64) string {
	return fmt.Sprintf(
		"ndead=%d logZ=%.6f +/- %.6f total_likelihood_calls=%d",
		ndead, logZ, sigma, totalLikelihoodCalls,
	)
}
