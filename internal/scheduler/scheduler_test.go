package scheduler

import (
	"bufio"
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/nestedsampling/polychord-go/internal/checkpoint"
	"github.com/nestedsampling/polychord-go/internal/config"
	"github.com/nestedsampling/polychord-go/internal/feedback"
	"github.com/nestedsampling/polychord-go/internal/likelihoods"
	"github.com/nestedsampling/polychord-go/internal/model"
	"github.com/nestedsampling/polychord-go/internal/nserrors"
	"github.com/nestedsampling/polychord-go/internal/output"
	"github.com/nestedsampling/polychord-go/internal/point"
	"github.com/nestedsampling/polychord-go/internal/prior"
	"github.com/nestedsampling/polychord-go/internal/sampler"
	"github.com/nestedsampling/polychord-go/internal/transport"
	"github.com/nestedsampling/polychord-go/internal/transport/local"
)

func testConfig(t *testing.T, nDims, nlive int) *config.RunConfig {
	t.Helper()
	cfg := config.Default()
	cfg.NDims = nDims
	cfg.NDerived = 0
	cfg.NLive = nlive
	cfg.Feedback = 0
	cfg.PrecisionCriterion = 1e-2
	cfg.BaseDir = t.TempDir()
	cfg.FileRoot = "test"
	cfg.WriteResume = false
	cfg.WriteStats = false
	cfg.Posteriors = false
	cfg.NMaxPosterior = 5000
	cfg.MinimumWeight = 1e-6
	if err := config.Validate(cfg); err != nil {
		t.Fatal(err)
	}
	return cfg
}

// unitBoxEvaluator evaluates like on the unit hypercube directly.
func unitBoxEvaluator(t *testing.T, nDims int, like model.Likelihood) *model.Evaluator {
	t.Helper()
	pri, err := prior.NewComposite(nDims, []prior.Block{{Transform: prior.Identity{D: nDims}, Offset: 0}})
	if err != nil {
		t.Fatal(err)
	}
	return model.New(pri, like, nil)
}

func newReporter() *feedback.Reporter {
	return feedback.NewReporter(0, "test", nil, nil)
}

// runSerialTest builds and runs a W = 0 scheduler.
func runSerialTest(t *testing.T, cfg *config.RunConfig, eval *model.Evaluator, masterSeed, samplerSeed int64) *Scheduler {
	t.Helper()
	samp := sampler.NewSliceSampler(eval, rand.New(rand.NewSource(samplerSeed)), 0)
	s := New(cfg, eval, samp, nil,
		checkpoint.New(cfg.BaseDir, cfg.FileRoot),
		output.New(cfg.BaseDir, cfg.FileRoot),
		newReporter(), Sinks{},
		rand.New(rand.NewSource(masterSeed)),
	)
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

// runParallelTest builds and runs a scheduler over the local transport with
// nworkers in-process workers, each owning its own slice sampler.
func runParallelTest(t *testing.T, cfg *config.RunConfig, eval *model.Evaluator, masterSeed, samplerSeed int64, nworkers int) *Scheduler {
	t.Helper()
	tr := local.New(nworkers)
	done := make(chan error, 1)
	go func() {
		done <- local.RunWorkers(context.Background(), tr, func(w int) sampler.Sampler {
			return sampler.NewSliceSampler(eval, rand.New(rand.NewSource(samplerSeed+int64(w))), 0)
		})
	}()

	s := New(cfg, eval, nil, tr,
		checkpoint.New(cfg.BaseDir, cfg.FileRoot),
		output.New(cfg.BaseDir, cfg.FileRoot),
		newReporter(), Sinks{},
		rand.New(rand.NewSource(masterSeed)),
	)
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("workers failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSerialNearlyConstantEvidence(t *testing.T) {
	cfg := testConfig(t, 2, 50)
	cfg.PrecisionCriterion = 1e-3
	cfg.MaxNDead = 20000
	eval := unitBoxEvaluator(t, 2, likelihoods.NearlyConstant(1e-8))

	s := runSerialTest(t, cfg, eval, 1, 2)

	logZ, _ := s.LogZ()
	if math.Abs(logZ) > 0.1 {
		t.Errorf("flat evidence: logZ = %g, want 0 +/- 0.1", logZ)
	}
	if s.NDead() == 0 || s.NDead() >= cfg.MaxNDead {
		t.Errorf("expected termination on precision, ndead = %d", s.NDead())
	}
}

func TestSerialGaussianEvidence(t *testing.T) {
	const analytic = -5.991464547 // log(1/400) for a unit Gaussian in a [-10,10]^2 box
	cfg := testConfig(t, 2, 100)
	cfg.MaxNDead = 50000
	eval, err := likelihoods.Problem("gaussian", 2)
	if err != nil {
		t.Fatal(err)
	}

	s := runSerialTest(t, cfg, eval, 3, 4)

	logZ, sigma := s.LogZ()
	if math.Abs(logZ-analytic) > 1.0 {
		t.Errorf("gaussian evidence: logZ = %g +/- %g, want %g +/- 1.0", logZ, sigma, analytic)
	}
	if sigma <= 0 || math.IsInf(sigma, 0) {
		t.Errorf("sigma = %g, want finite positive", sigma)
	}
	if s.TotalLikelihoodCalls() <= int64(cfg.NLive) {
		t.Errorf("total likelihood calls = %d, must exceed the initial population", s.TotalLikelihoodCalls())
	}
	if len(s.Posterior()) == 0 {
		t.Error("no posterior samples collected")
	}
}

func TestSerialDeterminism(t *testing.T) {
	run := func() (float64, int) {
		cfg := testConfig(t, 2, 50)
		cfg.MaxNDead = 20000
		eval, err := likelihoods.Problem("gaussian", 2)
		if err != nil {
			t.Fatal(err)
		}
		s := runSerialTest(t, cfg, eval, 11, 12)
		logZ, _ := s.LogZ()
		return logZ, s.NDead()
	}
	z1, n1 := run()
	z2, n2 := run()
	if z1 != z2 || n1 != n2 {
		t.Errorf("fixed-seed serial runs diverged: (%v, %d) vs (%v, %d)", z1, n1, z2, n2)
	}
}

func TestParallelDeterminismSingleWorker(t *testing.T) {
	run := func() (float64, int) {
		cfg := testConfig(t, 2, 50)
		cfg.PrecisionCriterion = 1e-10
		cfg.MaxNDead = 300
		eval, err := likelihoods.Problem("gaussian", 2)
		if err != nil {
			t.Fatal(err)
		}
		s := runParallelTest(t, cfg, eval, 21, 22, 1)
		logZ, _ := s.LogZ()
		return logZ, s.NDead()
	}
	z1, n1 := run()
	z2, n2 := run()
	if z1 != z2 || n1 != n2 {
		t.Errorf("fixed-seed single-worker runs diverged: (%v, %d) vs (%v, %d)", z1, n1, z2, n2)
	}
}

func TestWorkerCountInvariance(t *testing.T) {
	run := func(nworkers int) (float64, int) {
		cfg := testConfig(t, 2, 50)
		cfg.PrecisionCriterion = 1e-10 // terminate on max ndead only
		cfg.MaxNDead = 500
		eval := unitBoxEvaluator(t, 2, likelihoods.NearlyConstant(1e-8))
		s := runParallelTest(t, cfg, eval, 31, 32, nworkers)
		logZ, _ := s.LogZ()
		return logZ, s.NDead()
	}
	z1, n1 := run(1)
	z4, n4 := run(4)
	if n1 != n4 {
		t.Fatalf("dead counts differ: %d vs %d", n1, n4)
	}
	if math.Abs(z1-z4) > 1e-6 {
		t.Errorf("logZ differs across worker counts: %.12f vs %.12f", z1, z4)
	}
}

func TestParallelGaussianWithDeadStream(t *testing.T) {
	const analytic = -5.991464547
	cfg := testConfig(t, 2, 100)
	cfg.MaxNDead = 50000
	cfg.WriteDead = true
	eval, err := likelihoods.Problem("gaussian", 2)
	if err != nil {
		t.Fatal(err)
	}

	s := runParallelTest(t, cfg, eval, 41, 42, 4)

	logZ, _ := s.LogZ()
	if math.Abs(logZ-analytic) > 1.0 {
		t.Errorf("parallel gaussian evidence: logZ = %g, want %g +/- 1.0", logZ, analytic)
	}

	// Contour monotonicity: the recorded death stream's logL column never
	// decreases, independent of worker completion order.
	f, err := os.Open(filepath.Join(cfg.BaseDir, "test_dead.txt"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	prev := math.Inf(-1)
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		first := strings.Fields(sc.Text())[0]
		logL, err := strconv.ParseFloat(first, 64)
		if err != nil {
			t.Fatal(err)
		}
		if logL < prev {
			t.Fatalf("dead point %d: logL %g below its predecessor %g", n, logL, prev)
		}
		prev = logL
		n++
	}
	if n != s.NDead() {
		t.Errorf("dead file has %d rows, scheduler reports %d deaths", n, s.NDead())
	}

	// Population invariant: after shutdown the live set is at most
	// nlive plus the babies collected during the drain.
	live, gestating, _ := s.stack.CountByStatus()
	if live > cfg.NLive+4 {
		t.Errorf("live population %d exceeds nlive + W = %d", live, cfg.NLive+4)
	}
	if gestating != 0 {
		t.Errorf("%d slots still gestating after shutdown", gestating)
	}
}

func TestPosteriorWeightsApproachUnity(t *testing.T) {
	cfg := testConfig(t, 2, 100)
	cfg.MaxNDead = 50000
	cfg.PrecisionCriterion = 1e-3
	cfg.MinimumWeight = 1e-12
	cfg.NMaxPosterior = 100000
	eval, err := likelihoods.Problem("gaussian", 2)
	if err != nil {
		t.Fatal(err)
	}

	s := runSerialTest(t, cfg, eval, 51, 52)

	logZ, _ := s.LogZ()
	sum := 0.0
	for _, row := range s.Posterior() {
		sum += math.Exp(row.LogWeight - logZ)
	}
	if sum < 0.8 || sum > 1.2 {
		t.Errorf("normalized posterior weights sum to %g, want ~1", sum)
	}
}

func TestResume(t *testing.T) {
	eval, err := likelihoods.Problem("gaussian", 2)
	if err != nil {
		t.Fatal(err)
	}
	const analytic = -5.991464547

	// Uninterrupted reference run.
	full := testConfig(t, 2, 100)
	full.MaxNDead = 50000
	ref := runSerialTest(t, full, eval, 61, 62)
	refLogZ, _ := ref.LogZ()

	// First leg: stop early with a checkpoint on disk.
	cfg := testConfig(t, 2, 100)
	cfg.WriteResume = true
	cfg.UpdateFiles = 50
	cfg.MaxNDead = 400
	first := runSerialTest(t, cfg, eval, 61, 62)
	if first.NDead() != 400 {
		t.Fatalf("first leg ndead = %d, want 400", first.NDead())
	}

	// Second leg: resume and run to the precision criterion.
	cfg.ReadResume = true
	cfg.MaxNDead = 50000
	second := runSerialTest(t, cfg, eval, 63, 64)
	if second.NDead() <= 400 {
		t.Fatalf("resumed run did not continue: ndead = %d", second.NDead())
	}
	logZ, _ := second.LogZ()
	if math.Abs(logZ-analytic) > 1.0 {
		t.Errorf("resumed logZ = %g, want %g +/- 1.0", logZ, analytic)
	}
	if math.Abs(logZ-refLogZ) > 1.0 {
		t.Errorf("resumed logZ = %g differs from uninterrupted %g by more than the statistical scatter", logZ, refLogZ)
	}
}

func TestResumeRejectsDimensionMismatch(t *testing.T) {
	eval, err := likelihoods.Problem("gaussian", 2)
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t, 2, 50)
	cfg.WriteResume = true
	cfg.MaxNDead = 100
	runSerialTest(t, cfg, eval, 71, 72)

	cfg.ReadResume = true
	cfg.NDims = 3
	eval3, err := likelihoods.Problem("gaussian", 3)
	if err != nil {
		t.Fatal(err)
	}
	samp := sampler.NewSliceSampler(eval3, rand.New(rand.NewSource(73)), 0)
	s := New(cfg, eval3, samp, nil,
		checkpoint.New(cfg.BaseDir, cfg.FileRoot),
		output.New(cfg.BaseDir, cfg.FileRoot),
		newReporter(), Sinks{},
		rand.New(rand.NewSource(74)),
	)
	if err := s.Run(context.Background()); !errors.Is(err, nserrors.ErrResumeCorruption) {
		t.Errorf("err = %v, want ErrResumeCorruption", err)
	}
}

func TestInitialDispatchTooManyWorkers(t *testing.T) {
	// Bypass config.Validate to hit the scheduler's own fatal path: more
	// workers than live points can never all be seeded.
	cfg := testConfig(t, 2, 50)
	cfg.NLive = 2
	cfg.MaxNDead = 10
	eval, err := likelihoods.Problem("gaussian", 2)
	if err != nil {
		t.Fatal(err)
	}

	const nworkers = 5
	tr := local.New(nworkers)
	done := make(chan error, 1)
	go func() {
		done <- local.RunWorkers(context.Background(), tr, func(w int) sampler.Sampler {
			return sampler.NewSliceSampler(eval, rand.New(rand.NewSource(int64(80+w))), 0)
		})
	}()

	s := New(cfg, eval, nil, tr,
		checkpoint.New(cfg.BaseDir, cfg.FileRoot),
		output.New(cfg.BaseDir, cfg.FileRoot),
		newReporter(), Sinks{},
		rand.New(rand.NewSource(85)),
	)
	if err := s.Run(context.Background()); !errors.Is(err, nserrors.ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}

	for w := 0; w < nworkers; w++ {
		if err := tr.End(transport.WorkerID(w)); err != nil {
			t.Fatal(err)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("workers failed: %v", err)
	}
}

func TestOwnershipInvariantMidRun(t *testing.T) {
	// Drive the serial loop by hand and check the mother/daughter
	// back-references after every seed generation.
	cfg := testConfig(t, 2, 20)
	eval := unitBoxEvaluator(t, 2, likelihoods.NearlyConstant(1e-8))
	samp := sampler.NewSliceSampler(eval, rand.New(rand.NewSource(91)), 0)
	s := New(cfg, eval, samp, nil,
		checkpoint.New(cfg.BaseDir, cfg.FileRoot),
		output.New(cfg.BaseDir, cfg.FileRoot),
		newReporter(), Sinks{},
		rand.New(rand.NewSource(92)),
	)
	if err := s.initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	for iter := 0; iter < 50; iter++ {
		seed, ok := s.generateSeed()
		if !ok {
			t.Fatalf("iteration %d: no seed available", iter)
		}
		checkOwnership(t, s)
		baby, err := samp.Sample(context.Background(), seed)
		if err != nil {
			t.Fatal(err)
		}
		s.insertBaby(baby)
		s.promote(context.Background())
		checkOwnership(t, s)
	}
}

// checkOwnership asserts the mother/daughter invariants: every gestating
// slot has exactly one mother pointing at it, and every mother's daughter
// slot is gestating or already live with l1 equal to the mother's l0.
func checkOwnership(t *testing.T, s *Scheduler) {
	t.Helper()
	mothersOf := make(map[int][]int)
	for i := 0; i < s.stack.Capacity(); i++ {
		p := s.stack.Read(i)
		if p.Status != point.HasDaughter {
			continue
		}
		d := s.stack.Read(p.DaughterIndex)
		if d.Status == point.Blank {
			t.Fatalf("slot %d points at blank daughter %d", i, p.DaughterIndex)
		}
		if d.Status != point.Gestating && d.L1 != p.L0 {
			t.Fatalf("daughter %d born under contour %g, mother %d has l0 %g", p.DaughterIndex, d.L1, i, p.L0)
		}
		mothersOf[p.DaughterIndex] = append(mothersOf[p.DaughterIndex], i)
	}
	for i := 0; i < s.stack.Capacity(); i++ {
		if s.stack.Read(i).Status != point.Gestating {
			continue
		}
		if len(mothersOf[i]) != 1 {
			t.Fatalf("gestating slot %d has %d mothers, want exactly 1", i, len(mothersOf[i]))
		}
	}
}

func BenchmarkGenerateSeed(b *testing.B) {
	cfg := config.Default()
	cfg.NDims = 4
	cfg.NLive = 500
	cfg.BaseDir = b.TempDir()
	cfg.Feedback = 0
	pri, err := prior.NewComposite(4, []prior.Block{{Transform: prior.Identity{D: 4}, Offset: 0}})
	if err != nil {
		b.Fatal(err)
	}
	eval := model.New(pri, func(ctx any, physical, derived []float64) (float64, error) {
		return physical[0], nil
	}, nil)
	s := New(cfg, eval, nil, nil,
		checkpoint.New(cfg.BaseDir, cfg.FileRoot),
		output.New(cfg.BaseDir, cfg.FileRoot),
		newReporter(), Sinks{},
		rand.New(rand.NewSource(99)),
	)
	if err := s.initialize(context.Background()); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		seed, ok := s.generateSeed()
		if !ok {
			b.Fatal("no seed")
		}
		s.reblank(seed.DaughterIndex)
	}
}
