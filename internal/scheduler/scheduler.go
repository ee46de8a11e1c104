// Package scheduler implements the master side of the parallel nested
// sampler (C8): it owns the live-point stack, the evidence accumulator, and
// the posterior reservoir, farms constrained-prior sampling out to workers
// over a transport, reinserts completed babies in an order consistent with
// the sequential semantics, and drives checkpointing, feedback, and
// termination.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/nestedsampling/polychord-go/internal/checkpoint"
	"github.com/nestedsampling/polychord-go/internal/config"
	"github.com/nestedsampling/polychord-go/internal/deadstream"
	"github.com/nestedsampling/polychord-go/internal/evidence"
	"github.com/nestedsampling/polychord-go/internal/feedback"
	"github.com/nestedsampling/polychord-go/internal/model"
	"github.com/nestedsampling/polychord-go/internal/nserrors"
	"github.com/nestedsampling/polychord-go/internal/output"
	"github.com/nestedsampling/polychord-go/internal/point"
	"github.com/nestedsampling/polychord-go/internal/posterior"
	"github.com/nestedsampling/polychord-go/internal/sampler"
	"github.com/nestedsampling/polychord-go/internal/stack"
	"github.com/nestedsampling/polychord-go/internal/store"
	"github.com/nestedsampling/polychord-go/internal/transport"
)

// maxSeedRejections is the per-call rejection budget for seed-body
// selection, as a multiple of the stack capacity.
const maxSeedRejections = 10

// Sinks bundles the optional external sinks. Any field may be nil.
type Sinks struct {
	Dead   *deadstream.Producer
	Mirror *store.Store
}

// Scheduler is the master state machine. All fields are master-local and
// mutated only from Run's goroutine; the transport is the only boundary
// other goroutines touch.
type Scheduler struct {
	cfg       *config.RunConfig
	stack     *stack.Stack
	acc       *evidence.Accumulator
	reservoir *posterior.Reservoir
	eval      *model.Evaluator
	samp      sampler.Sampler
	master    transport.Master
	ckpt      *checkpoint.Store
	out       *output.Writer
	reporter  *feedback.Reporter
	sinks     Sinks
	rng       *rand.Rand
	logger    *slog.Logger

	ndead                int
	meanLikelihoodCalls  float64
	totalLikelihoodCalls int64
	moreSamplesNeeded    bool
	idle                 []bool
}

// New assembles a Scheduler. master may be nil, in which case the scheduler
// runs samp inline on the master's own goroutine (the W = 0 configuration).
// ckpt, out, and reporter are required; sinks fields are optional.
func New(
	cfg *config.RunConfig,
	eval *model.Evaluator,
	samp sampler.Sampler,
	master transport.Master,
	ckpt *checkpoint.Store,
	out *output.Writer,
	reporter *feedback.Reporter,
	sinks Sinks,
	rng *rand.Rand,
) *Scheduler {
	s := &Scheduler{
		cfg:               cfg,
		stack:             stack.New(cfg.StackCapacity(), cfg.NDims, cfg.NDerived),
		acc:               evidence.New(),
		reservoir:         posterior.New(cfg.NMaxPosterior),
		eval:              eval,
		samp:              samp,
		master:            master,
		ckpt:              ckpt,
		out:               out,
		reporter:          reporter,
		sinks:             sinks,
		rng:               rng,
		logger:            slog.Default().With("component", "scheduler"),
		moreSamplesNeeded: true,
	}
	if master != nil {
		s.idle = make([]bool, master.NumWorkers())
	}
	return s
}

// NDead returns the number of promotions performed so far.
func (s *Scheduler) NDead() int { return s.ndead }

// LogZ returns the running log-evidence estimate and its error bar.
func (s *Scheduler) LogZ() (logZ, sigma float64) { return s.acc.LogZ, s.acc.Sigma() }

// TotalLikelihoodCalls returns the run's cumulative likelihood-call count.
func (s *Scheduler) TotalLikelihoodCalls() int64 { return s.totalLikelihoodCalls }

// Posterior returns the reservoir's current rows.
func (s *Scheduler) Posterior() []posterior.Row { return s.reservoir.Rows() }

// Run executes the sampler to termination: initialize or resume, dispatch,
// then iterate collect / promote / dispatch until the evidence accumulator
// signals done or ndead reaches its cap, and finally drain and shut the
// workers down. It returns the first fatal error encountered.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.initialize(ctx); err != nil {
		return err
	}

	nworkers := 0
	if s.master != nil {
		nworkers = s.master.NumWorkers()
	}

	if nworkers == 0 {
		s.runSerial(ctx)
	} else {
		if err := s.initialDispatch(); err != nil {
			return err
		}
		s.runParallel(ctx)
		s.shutdown()
	}

	return s.finish(ctx)
}

// initialize populates the stack, either fresh from the prior or from a
// resume checkpoint, and primes the evidence accumulator's live mean.
func (s *Scheduler) initialize(ctx context.Context) error {
	if s.cfg.ReadResume && s.ckpt.Exists() {
		if err := s.resume(); err != nil {
			return err
		}
		s.logger.Info("resumed from checkpoint",
			"ndead", s.ndead,
			"log_z", s.acc.LogZ,
			"nposterior", s.reservoir.Len(),
		)
	} else {
		if err := s.stack.GenerateInitial(s.cfg.NLive, s.eval, s.rng); err != nil {
			return err
		}
		s.totalLikelihoodCalls = int64(s.cfg.NLive)
		s.logger.Info("live points initialized", "nlive", s.cfg.NLive, "stack_capacity", s.stack.Capacity())
	}
	s.acc.RefreshLiveMean(s.liveLogLs())

	if s.cfg.WriteParamNames {
		if err := s.out.WriteParamNames(paramNames("p", s.cfg.NDims), paramNames("d", s.cfg.NDerived)); err != nil {
			s.logger.Warn("writing paramnames failed", "error", err)
		}
	}
	return nil
}

// generateSeed implements the seed-selection procedure: pick the lowest
// unlaunched live point as mother, reserve a blank slot for its daughter,
// and draw a seed body uniformly over the stack, rejecting candidates whose
// likelihood does not clear the mother's contour or whose own birth contour
// was tighter than it. Returns ok=false when no mother, no blank slot, or
// no acceptable body exists this iteration; in that case no state has been
// mutated and the caller retries next iteration.
func (s *Scheduler) generateSeed() (*point.Point, bool) {
	m, ok := s.stack.LowestUnlaunched()
	if !ok {
		return nil, false
	}
	d, ok := s.stack.ClaimBlank()
	if !ok {
		return nil, false
	}
	mother := s.stack.Read(m)
	lbound := mother.L0

	var body *point.Point
	budget := maxSeedRejections * s.stack.Capacity()
	for i := 0; i < budget; i++ {
		c := s.stack.Read(s.stack.RandomSeedCandidate(s.rng))
		if c.Status != point.Waiting && c.Status != point.HasDaughter {
			continue
		}
		// The body must clear the contour, and must itself have been born
		// under a contour no tighter than this one, or out-of-order worker
		// completions would break the nested-sampling invariant.
		if c.L0 > lbound && c.L1 <= lbound {
			body = c
			break
		}
	}
	if body == nil {
		return nil, false
	}

	mother.Status = point.HasDaughter
	mother.DaughterIndex = d
	slot := s.stack.Read(d)
	slot.Reset()
	slot.Status = point.Gestating

	seed := body.Clone()
	seed.L1 = lbound
	seed.Status = point.Gestating
	seed.DaughterIndex = d
	return seed, true
}

// initialDispatch hands out exactly one seed per worker. Failure to produce
// a seed here means the worker count is too large for the live population,
// which is a fatal configuration error.
func (s *Scheduler) initialDispatch() error {
	for w := 0; w < s.master.NumWorkers(); w++ {
		seed, ok := s.generateSeed()
		if !ok {
			return nserrors.Config("could not seed worker %d: nprocs-1 (%d) is too large for nlive (%d)",
				w, s.master.NumWorkers(), s.cfg.NLive)
		}
		if err := s.master.Send(transport.WorkerID(w), seed); err != nil {
			return nserrors.Config("dispatching initial seed to worker %d: %v", w, err)
		}
		s.idle[w] = false
	}
	return nil
}

// runParallel is the master loop: one logical critical section per
// iteration covering collect, promote, dispatch.
func (s *Scheduler) runParallel(ctx context.Context) {
	for s.moreSamplesNeeded && ctx.Err() == nil {
		collected := s.collect()
		s.promote(ctx)
		if s.moreSamplesNeeded {
			s.dispatch()
		}
		if !collected {
			// Nothing arrived this pass; yield briefly rather than spin at
			// full speed against an empty reply queue.
			time.Sleep(50 * time.Microsecond)
		}
	}
}

// runSerial is the W = 0 configuration: the master generates each baby
// itself, so every promotion follows immediately after its seed completes.
func (s *Scheduler) runSerial(ctx context.Context) {
	for s.moreSamplesNeeded && ctx.Err() == nil {
		seed, ok := s.generateSeed()
		if !ok {
			s.reporter.StallWarning(s.ndead)
			return
		}
		s.reporter.ClearStall()
		baby, err := s.samp.Sample(ctx, seed)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("sampler failed; discarding seed", "error", err)
			s.reblank(seed.DaughterIndex)
			continue
		}
		s.insertBaby(baby)
		s.promote(ctx)
	}
}

// collect performs the non-blocking probe loop: every pending baby is
// written into its pre-reserved slot and its worker marked idle. Reports
// whether anything arrived.
func (s *Scheduler) collect() bool {
	collected := false
	for {
		w, baby, ok := s.master.TryRecv()
		if !ok {
			return collected
		}
		s.insertBaby(baby)
		s.idle[w] = true
		collected = true
	}
}

// insertBaby writes a completed baby into the gestating slot reserved for
// it, making it a live point.
func (s *Scheduler) insertBaby(baby *point.Point) {
	d := baby.DaughterIndex
	b := baby.Clone()
	b.Status = point.Waiting
	b.DaughterIndex = 0
	s.stack.Write(d, b)
	s.totalLikelihoodCalls += baby.NLike
}

// reblank cancels a reserved daughter slot and resets its mother to
// Waiting, used when a seed's sample was abandoned.
func (s *Scheduler) reblank(daughter int) {
	s.stack.Read(daughter).Reset()
	for i := 0; i < s.stack.Capacity(); i++ {
		p := s.stack.Read(i)
		if p.Status == point.HasDaughter && p.DaughterIndex == daughter {
			p.Status = point.Waiting
			p.DaughterIndex = 0
		}
	}
}

// promote advances the death sequence: while the lowest-likelihood live
// point has a daughter that has arrived, kill it, feed the death to the
// evidence accumulator, offer it to the posterior reservoir, and run the
// feedback and checkpoint cadences. Promotion stops the moment the lowest
// live point's daughter is still gestating, which is what makes the dead
// sequence identical to the single-threaded one regardless of worker
// completion order.
func (s *Scheduler) promote(ctx context.Context) {
	for s.moreSamplesNeeded {
		m, ok := s.stack.LowestWaiting()
		if !ok {
			return
		}
		mother := s.stack.Read(m)
		if mother.Status != point.HasDaughter {
			return
		}
		daughter := s.stack.Read(mother.DaughterIndex)
		if daughter.Status != point.Waiting && daughter.Status != point.HasDaughter {
			return
		}

		late := mother.Clone()
		babyNLike := daughter.NLike
		mother.Reset()
		s.ndead++

		s.acc.Update(late.L0, s.cfg.NLive)
		s.acc.RefreshLiveMean(s.liveLogLs())

		logWeight := late.L0 + s.acc.LastLogWeight()
		s.reservoir.Offer(logWeight, late.L0, late.Physical, late.Derived, s.acc.LogZ, s.cfg.MinimumWeight)

		// EWMA over the likelihood calls each replacement consumed, with a
		// 1/nlive memory so it tracks roughly one contour generation.
		alpha := 1.0 / float64(s.cfg.NLive)
		s.meanLikelihoodCalls = (1-alpha)*s.meanLikelihoodCalls + alpha*float64(babyNLike)

		s.reporter.RecordPromotion(babyNLike)
		s.recordDead(ctx, late, logWeight)

		if s.ndead%s.cfg.NLive == 0 {
			s.reporter.Tick(ctx, s.ndead, s.cfg.NLive, s.activeWorkers(), s.meanLikelihoodCalls, s.acc.LogZ, s.acc.Sigma())
		}
		if s.ndead%s.cfg.UpdateInterval() == 0 {
			s.updateFiles(ctx)
		}

		if s.acc.Done(s.cfg.PrecisionCriterion, s.cfg.MaxNDead) {
			s.moreSamplesNeeded = false
		}
	}
}

// recordDead streams one death to the flat file and the Kafka sink, both
// optional and both non-fatal on failure.
func (s *Scheduler) recordDead(ctx context.Context, late *point.Point, logWeight float64) {
	if !s.cfg.WriteDead {
		return
	}
	if err := s.out.AppendDead(late); err != nil {
		s.logger.Warn("appending dead point failed", "error", err)
	}
	if s.sinks.Dead != nil {
		s.sinks.Dead.Publish(ctx, s.cfg.FileRoot, deadstream.DeadPointEvent{
			NDead:     s.ndead,
			LogL:      late.L0,
			LogWeight: logWeight,
			Physical:  append([]float64(nil), late.Physical...),
			Derived:   append([]float64(nil), late.Derived...),
		})
	}
}

// dispatch hands a fresh seed to every idle worker. A failed seed
// generation is a stall, warned once per ndead value; dispatching resumes
// next iteration once a promotion frees a slot or widens the contour.
func (s *Scheduler) dispatch() {
	for w := range s.idle {
		if !s.idle[w] {
			continue
		}
		seed, ok := s.generateSeed()
		if !ok {
			s.reporter.StallWarning(s.ndead)
			return
		}
		s.reporter.ClearStall()
		if err := s.master.Send(transport.WorkerID(w), seed); err != nil {
			s.logger.Warn("seed dispatch failed", "worker", w, "error", err)
			s.reblank(seed.DaughterIndex)
			return
		}
		s.idle[w] = false
	}
}

// shutdown drains one pending reply per non-idle worker, then signals
// end-of-run to every worker. The drain is bounded so a wedged worker cannot
// hold the master's exit.
func (s *Scheduler) shutdown() {
	deadline := time.Now().Add(10 * time.Second)
	for s.busyWorkers() > 0 && time.Now().Before(deadline) {
		if !s.collect() {
			time.Sleep(time.Millisecond)
		}
	}
	if n := s.busyWorkers(); n > 0 {
		s.logger.Warn("shutting down with workers still busy", "busy", n)
	}
	for w := 0; w < s.master.NumWorkers(); w++ {
		if err := s.master.End(transport.WorkerID(w)); err != nil {
			s.logger.Warn("sending end tag failed", "worker", w, "error", err)
		}
	}
}

// finish writes the final checkpoint, output files, and stats summary.
func (s *Scheduler) finish(ctx context.Context) error {
	s.updateFiles(ctx)
	if s.cfg.WriteStats {
		if err := s.out.WriteStats(s.ndead, s.acc.LogZ, s.acc.Sigma(), s.totalLikelihoodCalls, s.reservoir.Len()); err != nil {
			s.logger.Warn("writing stats failed", "error", err)
		}
	}
	if err := s.out.Close(); err != nil {
		s.logger.Warn("closing output files failed", "error", err)
	}
	s.logger.Info("run complete",
		"ndead", s.ndead,
		"log_z", s.acc.LogZ,
		"sigma", s.acc.Sigma(),
		"total_likelihood_calls", s.totalLikelihoodCalls,
		"nposterior", s.reservoir.Len(),
	)
	return nil
}

// updateFiles runs one output cadence: resume checkpoint, posterior file,
// live-point file, and the optional Postgres mirror. Failures are logged
// and superseded by the next successful write.
func (s *Scheduler) updateFiles(ctx context.Context) {
	if s.cfg.WriteResume {
		if err := s.ckpt.Write(s.snapshot()); err != nil {
			s.logger.Warn("checkpoint write failed", "error", err)
		}
	}
	if s.cfg.Posteriors {
		if err := s.out.WritePosterior(s.reservoir.Rows(), s.acc.LogZ); err != nil {
			s.logger.Warn("posterior write failed", "error", err)
		}
	}
	if s.cfg.WriteLive {
		if err := s.out.WritePhysLive(s.livePoints()); err != nil {
			s.logger.Warn("live-point write failed", "error", err)
		}
	}
	if s.sinks.Mirror != nil {
		if err := s.sinks.Mirror.MirrorRun(ctx, s.cfg.FileRoot, s.ndead, s.acc.LogZ, s.acc.Sigma(), s.totalLikelihoodCalls); err != nil {
			s.logger.Warn("postgres run mirror failed", "error", err)
		} else if err := s.sinks.Mirror.MirrorPosterior(ctx, s.cfg.FileRoot, s.reservoir.Rows()); err != nil {
			s.logger.Warn("postgres posterior mirror failed", "error", err)
		}
	}
}

// busyWorkers counts workers with a seed in flight.
func (s *Scheduler) busyWorkers() int {
	n := 0
	for _, id := range s.idle {
		if !id {
			n++
		}
	}
	return n
}

// activeWorkers is busyWorkers, or 1 in the serial configuration so the
// feedback line never reports a dead pipeline.
func (s *Scheduler) activeWorkers() int {
	if s.master == nil {
		return 1
	}
	return s.busyWorkers()
}

// liveLogLs collects the L0 of every live slot.
func (s *Scheduler) liveLogLs() []float64 {
	out := make([]float64, 0, s.cfg.NLive)
	for i := 0; i < s.stack.Capacity(); i++ {
		p := s.stack.Read(i)
		if p.Status == point.Waiting || p.Status == point.HasDaughter {
			out = append(out, p.L0)
		}
	}
	return out
}

// livePoints collects every live slot, cloned.
func (s *Scheduler) livePoints() []*point.Point {
	out := make([]*point.Point, 0, s.cfg.NLive)
	for i := 0; i < s.stack.Capacity(); i++ {
		p := s.stack.Read(i)
		if p.Status == point.Waiting || p.Status == point.HasDaughter {
			out = append(out, p.Clone())
		}
	}
	return out
}

// paramNames generates default names prefix1..prefixN.
func paramNames(prefix string, n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = prefix + strconv.Itoa(i+1)
	}
	return names
}
