package point

import (
	"math"
	"testing"
)

func TestNewIsBlank(t *testing.T) {
	p := New(3, 2)
	if len(p.Hypercube) != 3 || len(p.Physical) != 3 || len(p.Derived) != 2 {
		t.Fatalf("bad slice lengths: %d %d %d", len(p.Hypercube), len(p.Physical), len(p.Derived))
	}
	if p.Status != Blank || !math.IsInf(p.L0, -1) || !math.IsInf(p.L1, -1) {
		t.Errorf("new point not blank: status=%v l0=%g l1=%g", p.Status, p.L0, p.L1)
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := New(2, 1)
	p.Hypercube[0] = 0.5
	p.L0 = 1.0
	p.Status = Waiting

	q := p.Clone()
	q.Hypercube[0] = 0.9
	q.L0 = 2.0

	if p.Hypercube[0] != 0.5 || p.L0 != 1.0 {
		t.Error("Clone aliases the original's storage")
	}
}

func TestCopyIntoReusesBacking(t *testing.T) {
	src := New(2, 0)
	src.Hypercube[0] = 0.3
	src.L0 = 5
	src.Status = Gestating
	src.DaughterIndex = 7

	dst := New(2, 0)
	backing := dst.Hypercube
	CopyInto(dst, src)

	if &backing[0] != &dst.Hypercube[0] {
		t.Error("CopyInto reallocated a same-length backing slice")
	}
	if dst.L0 != 5 || dst.Status != Gestating || dst.DaughterIndex != 7 {
		t.Error("CopyInto dropped fields")
	}
}

func TestReset(t *testing.T) {
	p := New(2, 0)
	p.L0 = 3
	p.NLike = 10
	p.Status = HasDaughter
	p.DaughterIndex = 4

	p.Reset()
	if p.Status != Blank || p.DaughterIndex != 0 || p.NLike != 0 || !math.IsInf(p.L0, -1) {
		t.Errorf("Reset left state behind: %+v", p)
	}
	if len(p.Hypercube) != 2 {
		t.Error("Reset must keep backing slices allocated")
	}
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		Blank:       "blank",
		Gestating:   "gestating",
		Waiting:     "waiting",
		HasDaughter: "has_daughter",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
