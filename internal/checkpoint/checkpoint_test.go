package checkpoint

import (
	"errors"
	"math"
	"os"
	"testing"

	"github.com/nestedsampling/polychord-go/internal/nserrors"
	"github.com/nestedsampling/polychord-go/internal/point"
)

func sampleSnapshot() *Snapshot {
	mk := func(l0 float64, st point.Status, daughter int) PointRecord {
		return PointRecord{
			Hypercube:     []float64{0.1, 0.2},
			Physical:      []float64{1, 2},
			Derived:       []float64{},
			L0:            point.JSONFloat(l0),
			L1:            point.JSONFloat(math.Inf(-1)),
			NLike:         3,
			LastChord:     1.4,
			Status:        st,
			DaughterIndex: daughter,
		}
	}
	return &Snapshot{
		NDims:    2,
		NDerived: 0,
		Stack: []PointRecord{
			mk(0.5, point.Waiting, 0),
			mk(0.3, point.HasDaughter, 2),
			mk(math.Inf(-1), point.Gestating, 0),
			{Status: point.Blank},
		},
		LogZ:                 -2.5,
		LogX:                 -0.8,
		H:                    1.3,
		NDead:                40,
		MeanLikelihoodCalls:  12.5,
		TotalLikelihoodCalls: 500,
		NPosterior:           1,
		Posterior: []PosteriorRecord{
			{LogWeight: -1.5, LogL: 0.2, Physical: []float64{1, 2}, Derived: []float64{}},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := New(t.TempDir(), "run")
	snap := sampleSnapshot()
	// Round-trip without in-flight work: promote the gestating pair to a
	// settled state so cancellation doesn't rewrite it.
	snap.Stack[1].Status = point.Waiting
	snap.Stack[1].DaughterIndex = 0
	snap.Stack[2] = PointRecord{Status: point.Blank}

	if err := s.Write(snap); err != nil {
		t.Fatal(err)
	}
	if !s.Exists() {
		t.Fatal("Exists reports false after a successful write")
	}

	got, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if got.NDead != snap.NDead || got.LogZ != snap.LogZ || got.H != snap.H {
		t.Errorf("scalar state lost: got ndead=%d logZ=%g H=%g", got.NDead, got.LogZ, got.H)
	}
	if len(got.Stack) != len(snap.Stack) || got.Stack[0].L0 != 0.5 {
		t.Errorf("stack not restored: %+v", got.Stack)
	}
	if !math.IsInf(float64(got.Stack[0].L1), -1) {
		t.Errorf("initial -Inf contour bound did not survive the round trip: %v", got.Stack[0].L1)
	}
	if len(got.Posterior) != 1 || got.Posterior[0].LogWeight != -1.5 {
		t.Errorf("posterior not restored: %+v", got.Posterior)
	}
}

func TestReadCancelsGestatingSlots(t *testing.T) {
	s := New(t.TempDir(), "run")
	if err := s.Write(sampleSnapshot()); err != nil {
		t.Fatal(err)
	}

	got, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if got.Stack[2].Status != point.Blank {
		t.Errorf("gestating slot not reblanked: %v", got.Stack[2].Status)
	}
	if got.Stack[1].Status != point.Waiting || got.Stack[1].DaughterIndex != 0 {
		t.Errorf("mother not reset to waiting: status=%v daughter=%d",
			got.Stack[1].Status, got.Stack[1].DaughterIndex)
	}
}

func TestReadDetectsCorruption(t *testing.T) {
	s := New(t.TempDir(), "run")
	if err := s.Write(sampleSnapshot()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	// Flip one payload byte past the header.
	data[20] ^= 0xff
	if err := os.WriteFile(s.Path(), data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Read(); !errors.Is(err, nserrors.ErrResumeCorruption) {
		t.Errorf("corrupted payload: err = %v, want ErrResumeCorruption", err)
	}
}

func TestReadDetectsBadMagic(t *testing.T) {
	s := New(t.TempDir(), "run")
	if err := os.WriteFile(s.Path(), []byte("not a checkpoint at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read(); !errors.Is(err, nserrors.ErrResumeCorruption) {
		t.Errorf("bad magic: err = %v, want ErrResumeCorruption", err)
	}
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "run")
	if err := s.Write(sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "run.resume" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("unexpected directory contents after write: %v", names)
	}
}

func TestPointRecordRoundTrip(t *testing.T) {
	p := point.New(2, 1)
	p.Hypercube[0] = 0.7
	p.L0 = 1.5
	p.Status = point.HasDaughter
	p.DaughterIndex = 9

	q := FromRecord(ToRecord(p))
	if q.L0 != p.L0 || q.Status != p.Status || q.DaughterIndex != p.DaughterIndex || q.Hypercube[0] != 0.7 {
		t.Errorf("record round trip lost fields: %+v", q)
	}
}
