package local

import (
	"context"
	"testing"
	"time"

	"github.com/nestedsampling/polychord-go/internal/point"
	"github.com/nestedsampling/polychord-go/internal/sampler"
	"github.com/nestedsampling/polychord-go/internal/transport"
)

// echoSampler returns the seed with its likelihood bumped above the bound,
// tagged with the worker that produced it via Derived[0].
type echoSampler struct {
	worker int
}

func (s *echoSampler) Sample(ctx context.Context, seed *point.Point) (*point.Point, error) {
	baby := seed.Clone()
	baby.L0 = seed.L1 + 1
	if len(baby.Derived) > 0 {
		baby.Derived[0] = float64(s.worker)
	}
	return baby, nil
}

func newSeed(l1 float64, daughter int) *point.Point {
	p := point.New(1, 1)
	p.L1 = l1
	p.Status = point.Gestating
	p.DaughterIndex = daughter
	return p
}

func TestRoundTrip(t *testing.T) {
	const nworkers = 3
	tr := New(nworkers)

	done := make(chan error, 1)
	go func() {
		done <- RunWorkers(context.Background(), tr, func(w int) sampler.Sampler {
			return &echoSampler{worker: w}
		})
	}()

	for w := 0; w < nworkers; w++ {
		if err := tr.Send(transport.WorkerID(w), newSeed(float64(w), w+1)); err != nil {
			t.Fatal(err)
		}
	}

	got := make(map[int]*point.Point)
	deadline := time.After(5 * time.Second)
	for len(got) < nworkers {
		w, baby, ok := tr.TryRecv()
		if !ok {
			select {
			case <-deadline:
				t.Fatalf("timed out with %d/%d replies", len(got), nworkers)
			default:
				time.Sleep(time.Millisecond)
			}
			continue
		}
		got[int(w)] = baby
	}

	for w, baby := range got {
		if baby.DaughterIndex != w+1 {
			t.Errorf("worker %d: daughter index %d, want %d", w, baby.DaughterIndex, w+1)
		}
		if baby.L0 != float64(w)+1 {
			t.Errorf("worker %d: L0 = %g, want %g", w, baby.L0, float64(w)+1)
		}
		if int(baby.Derived[0]) != w {
			t.Errorf("reply attributed to worker %d but produced by %d", w, int(baby.Derived[0]))
		}
	}

	for w := 0; w < nworkers; w++ {
		if err := tr.End(transport.WorkerID(w)); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("workers exited with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not exit after End")
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestTryRecvNeverBlocks(t *testing.T) {
	tr := New(1)
	start := time.Now()
	if _, _, ok := tr.TryRecv(); ok {
		t.Error("TryRecv reported a reply on an idle transport")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("TryRecv blocked")
	}
}

func TestEndUnblocksIdleWorker(t *testing.T) {
	tr := New(1)
	done := make(chan error, 1)
	go func() {
		done <- RunWorkers(context.Background(), tr, func(int) sampler.Sampler {
			return &echoSampler{}
		})
	}()

	if err := tr.End(0); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker exited with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("idle worker did not exit on End")
	}
}
