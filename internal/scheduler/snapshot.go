package scheduler

import (
	"github.com/nestedsampling/polychord-go/internal/checkpoint"
	"github.com/nestedsampling/polychord-go/internal/evidence"
	"github.com/nestedsampling/polychord-go/internal/nserrors"
	"github.com/nestedsampling/polychord-go/internal/point"
	"github.com/nestedsampling/polychord-go/internal/posterior"
	"github.com/nestedsampling/polychord-go/internal/stack"
)

// snapshot captures the scheduler's full state for the checkpoint store.
func (s *Scheduler) snapshot() *checkpoint.Snapshot {
	snap := &checkpoint.Snapshot{
		NDims:                s.cfg.NDims,
		NDerived:             s.cfg.NDerived,
		Stack:                make([]checkpoint.PointRecord, s.stack.Capacity()),
		LogZ:                 point.JSONFloat(s.acc.LogZ),
		LogX:                 s.acc.LogX,
		H:                    s.acc.H,
		NDead:                s.ndead,
		MeanLikelihoodCalls:  s.meanLikelihoodCalls,
		TotalLikelihoodCalls: s.totalLikelihoodCalls,
		NPosterior:           s.reservoir.Len(),
		Posterior:            make([]checkpoint.PosteriorRecord, 0, s.reservoir.Len()),
	}
	for i := 0; i < s.stack.Capacity(); i++ {
		snap.Stack[i] = checkpoint.ToRecord(s.stack.Read(i).Clone())
	}
	for _, row := range s.reservoir.Rows() {
		snap.Posterior = append(snap.Posterior, checkpoint.ToPosteriorRecord(row))
	}
	return snap
}

// resume restores scheduler state from the checkpoint store. Gestating
// slots were already canceled by the store's Read, so every restored slot
// is blank, waiting, or a mother with a live daughter.
func (s *Scheduler) resume() error {
	snap, err := s.ckpt.Read()
	if err != nil {
		return err
	}
	if snap.NDims != s.cfg.NDims || snap.NDerived != s.cfg.NDerived {
		return nserrors.ResumeCorruption(
			"checkpoint dimensions (%d, %d) do not match configuration (%d, %d)",
			snap.NDims, snap.NDerived, s.cfg.NDims, s.cfg.NDerived,
		)
	}
	if len(snap.Stack) != s.cfg.StackCapacity() {
		return nserrors.ResumeCorruption(
			"checkpoint stack size %d does not match configured capacity %d",
			len(snap.Stack), s.cfg.StackCapacity(),
		)
	}

	slots := make([]*point.Point, len(snap.Stack))
	for i, rec := range snap.Stack {
		slots[i] = checkpoint.FromRecord(rec)
	}
	s.stack = stack.FromPoints(slots, s.cfg.NDims)

	s.acc = evidence.Restore(float64(snap.LogZ), snap.LogX, snap.H, snap.NDead, s.cfg.NLive)
	s.ndead = snap.NDead
	s.meanLikelihoodCalls = snap.MeanLikelihoodCalls
	s.totalLikelihoodCalls = snap.TotalLikelihoodCalls

	rows := make([]posterior.Row, 0, len(snap.Posterior))
	for _, rec := range snap.Posterior {
		rows = append(rows, checkpoint.FromPosteriorRecord(rec))
	}
	s.reservoir = posterior.Restore(s.cfg.NMaxPosterior, rows)
	return nil
}
