// Package local implements the transport.Master/transport.Worker contract
// with in-process goroutines and buffered channels, the Go analogue of
// MPI ranks running on one machine. transport/rpc provides an
// out-of-process alternative behind the same interface.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nestedsampling/polychord-go/internal/point"
	"github.com/nestedsampling/polychord-go/internal/sampler"
	"github.com/nestedsampling/polychord-go/internal/transport"
)

// reply pairs a worker's baby with the worker that produced it, so the
// master's shared channel can multiplex replies from every worker.
type reply struct {
	worker transport.WorkerID
	baby   *point.Point
}

// Transport is an in-process transport.Master backed by per-worker seed
// channels and one shared reply channel.
type Transport struct {
	seedCh  []chan *point.Point
	replyCh chan reply
	logger  *slog.Logger
}

// New builds a Transport for nworkers workers. Each worker's seed channel
// is buffered depth 1, one seed in flight per worker.
func New(nworkers int) *Transport {
	t := &Transport{
		seedCh:  make([]chan *point.Point, nworkers),
		replyCh: make(chan reply, nworkers),
		logger:  slog.Default().With("component", "transport-local"),
	}
	for i := range t.seedCh {
		t.seedCh[i] = make(chan *point.Point, 1)
	}
	return t
}

// NumWorkers implements transport.Master.
func (t *Transport) NumWorkers() int { return len(t.seedCh) }

// Send implements transport.Master.
func (t *Transport) Send(worker transport.WorkerID, seed *point.Point) error {
	t.seedCh[worker] <- seed
	return nil
}

// TryRecv implements transport.Master: a non-blocking select over the
// shared reply channel. The master never blocks here.
func (t *Transport) TryRecv() (transport.WorkerID, *point.Point, bool) {
	select {
	case r := <-t.replyCh:
		return r.worker, r.baby, true
	default:
		return 0, nil, false
	}
}

// End implements transport.Master by closing the worker's seed channel;
// the worker's blocking Recv unblocks with ok=false.
func (t *Transport) End(worker transport.WorkerID) error {
	close(t.seedCh[worker])
	return nil
}

// Close implements transport.Master. Workers must already have been sent
// End before calling Close.
func (t *Transport) Close() error {
	close(t.replyCh)
	return nil
}

// workerHandle is a worker's private view: its own seed channel and the
// master's shared reply channel, tagged with this worker's ID.
type workerHandle struct {
	id      transport.WorkerID
	seedCh  <-chan *point.Point
	replyCh chan<- reply
}

// Recv implements transport.Worker.
func (w *workerHandle) Recv() (*point.Point, bool) {
	seed, ok := <-w.seedCh
	return seed, ok
}

// Reply implements transport.Worker.
func (w *workerHandle) Reply(baby *point.Point) error {
	w.replyCh <- reply{worker: w.id, baby: baby}
	return nil
}

// RunWorkers spawns nworkers goroutines, each running its own sampler
// instance in a loop against its own transport.Worker handle, until ctx is
// cancelled or the master calls End on it. newSampler is called once per
// worker so no RNG or sampler state is ever shared between workers.
// Concurrency is capped at GOMAXPROCS via a weighted semaphore, since
// in-process worker goroutines otherwise have no natural bound the way
// OS-process MPI ranks would. The returned error is the first
// non-context-cancellation error any worker's sampler returned.
func RunWorkers(ctx context.Context, t *Transport, newSampler func(worker int) sampler.Sampler) error {
	g, ctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0)))

	for i := 0; i < t.NumWorkers(); i++ {
		w := &workerHandle{id: transport.WorkerID(i), seedCh: t.seedCh[i], replyCh: t.replyCh}
		samp := newSampler(i)
		g.Go(func() error {
			for {
				seed, ok := w.Recv()
				if !ok {
					return nil
				}
				if err := sem.Acquire(ctx, 1); err != nil {
					return nil
				}
				baby, err := samp.Sample(ctx, seed)
				sem.Release(1)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("worker %d: sample: %w", w.id, err)
				}
				if err := w.Reply(baby); err != nil {
					return fmt.Errorf("worker %d: reply: %w", w.id, err)
				}
			}
		})
	}
	return g.Wait()
}
