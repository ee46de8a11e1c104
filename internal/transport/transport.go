// Package transport defines the master/worker message-passing contract:
// a non-blocking probe on the master side, a blocking receive on the
// worker side, and exactly two message kinds (a seed dispatch and an end
// signal). Two implementations live in subpackages: transport/local
// (in-process goroutines, the default) and transport/rpc (JSON over TCP,
// for out-of-process workers).
package transport

import "github.com/nestedsampling/polychord-go/internal/point"

// WorkerID identifies one worker's channel/connection to the master.
type WorkerID int

// Master is the scheduler's view of the transport: non-blocking
// collection of replies, and dispatch of seeds or shutdown signals to
// specific workers. No method blocks the caller waiting on a specific
// worker; the master only ever polls.
type Master interface {
	// TryRecv returns the next pending baby from any worker without
	// blocking. ok is false if no worker has replied yet.
	TryRecv() (worker WorkerID, baby *point.Point, ok bool)
	// Send dispatches a seed to the given worker.
	Send(worker WorkerID, seed *point.Point) error
	// End signals end-of-run to the given worker and releases its resources.
	End(worker WorkerID) error
	// NumWorkers returns the number of workers this transport manages.
	NumWorkers() int
	// Close shuts down the transport after all workers have been sent End.
	Close() error
}

// Worker is a worker process/goroutine's view of the transport.
type Worker interface {
	// Recv blocks until a seed is dispatched or the master signals
	// shutdown (ok == false on end-of-run).
	Recv() (seed *point.Point, ok bool)
	// Reply sends a completed baby back to the master.
	Reply(baby *point.Point) error
}
