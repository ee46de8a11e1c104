// Command polychord-worker runs one out-of-process sampling worker: it
// dials the master's rpc transport, long-polls for seeds, runs the slice
// sampler on each one, and posts the babies back, exiting when the master
// signals end of run. The model flags must match the master's.
package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/nestedsampling/polychord-go/internal/likelihoods"
	"github.com/nestedsampling/polychord-go/internal/logging"
	"github.com/nestedsampling/polychord-go/internal/sampler"
	"github.com/nestedsampling/polychord-go/internal/transport/rpc"
)

func main() {
	masterAddr := flag.String("master", "localhost:7777", "master rpc address")
	workerID := flag.Int("worker-id", 0, "this worker's id, 0..nprocs-2")
	nDims := flag.Int("ndims", 2, "model dimensionality, must match the master")
	numRepeats := flag.Int("num-repeats", 0, "slice passes per sample, 0 means 2*ndims")
	problem := flag.String("problem", "gaussian", "built-in problem: gaussian, shell, rosenbrock")
	seed := flag.Int64("seed", 1, "worker RNG seed")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logging.Setup(*logLevel, "text")
	slog.Info("starting sampling worker", "master", *masterAddr, "worker_id", *workerID, "problem", *problem)

	eval, err := likelihoods.Problem(*problem, *nDims)
	if err != nil {
		slog.Error("failed to build model", "error", err)
		os.Exit(1)
	}
	samp := sampler.NewSliceSampler(eval, rand.New(rand.NewSource(*seed)), *numRepeats)

	client, err := rpc.Dial(*masterAddr, *workerID)
	if err != nil {
		slog.Error("failed to dial master", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rpc.Run(ctx, client, samp); err != nil && ctx.Err() == nil {
		slog.Error("worker loop failed", "error", err)
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
