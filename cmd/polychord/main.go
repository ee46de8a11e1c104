package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nestedsampling/polychord-go/internal/checkpoint"
	"github.com/nestedsampling/polychord-go/internal/config"
	"github.com/nestedsampling/polychord-go/internal/deadstream"
	"github.com/nestedsampling/polychord-go/internal/feedback"
	"github.com/nestedsampling/polychord-go/internal/likelihoods"
	"github.com/nestedsampling/polychord-go/internal/logging"
	"github.com/nestedsampling/polychord-go/internal/output"
	"github.com/nestedsampling/polychord-go/internal/sampler"
	"github.com/nestedsampling/polychord-go/internal/scheduler"
	"github.com/nestedsampling/polychord-go/internal/store"
	"github.com/nestedsampling/polychord-go/internal/transport"
	"github.com/nestedsampling/polychord-go/internal/transport/local"
	"github.com/nestedsampling/polychord-go/internal/transport/rpc"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	problem := flag.String("problem", "gaussian", "built-in problem: gaussian, shell, rosenbrock")
	seed := flag.Int64("seed", 1, "master RNG seed")
	rpcListen := flag.String("rpc-listen", "", "serve out-of-process workers on this address instead of in-process goroutines")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting nested sampling run",
		"problem", *problem,
		"ndims", cfg.NDims,
		"nlive", cfg.NLive,
		"nprocs", cfg.NProcs,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eval, err := likelihoods.Problem(*problem, cfg.NDims)
	if err != nil {
		slog.Error("failed to build model", "error", err)
		os.Exit(1)
	}

	masterRng := rand.New(rand.NewSource(*seed))
	samp := sampler.NewSliceSampler(eval, rand.New(rand.NewSource(*seed+1)), cfg.NumRepeats)
	newSampler := func(worker int) sampler.Sampler {
		return sampler.NewSliceSampler(eval, rand.New(rand.NewSource(*seed+2+int64(worker))), cfg.NumRepeats)
	}

	var metrics *feedback.Metrics
	if cfg.Metrics.Enabled {
		metrics = feedback.NewMetrics()
		health := feedback.NewHealthChecker()
		shutdown := feedback.StartServer(cfg.Metrics.Port, metrics, health)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("feedback server shutdown failed", "error", err)
			}
		}()
	}

	var broadcaster *feedback.Broadcaster
	if cfg.Redis.Enabled {
		broadcaster, err = feedback.NewBroadcaster(ctx, cfg.Redis, cfg.FileRoot)
		if err != nil {
			slog.Warn("redis unavailable, progress broadcast disabled", "error", err)
			broadcaster = nil
		} else {
			defer broadcaster.Close()
			if metrics != nil {
				metrics.ObserveBreaker(broadcaster.Breaker())
			}
		}
	}

	var sinks scheduler.Sinks
	if cfg.Kafka.Enabled && cfg.WriteDead {
		producer := deadstream.NewProducer(cfg.Kafka)
		defer producer.Close()
		sinks.Dead = producer
		if metrics != nil {
			metrics.ObserveBreaker(producer.Breaker())
		}
	}
	if cfg.Postgres.Enabled {
		mirror, err := store.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, run mirror disabled", "error", err)
		} else {
			defer mirror.Close()
			sinks.Mirror = mirror
		}
	}

	master, workersDone := startWorkers(ctx, cfg, newSampler, *rpcListen)

	reporter := feedback.NewReporter(cfg.Feedback, cfg.FileRoot, metrics, broadcaster)
	ckpt := checkpoint.New(cfg.BaseDir, cfg.FileRoot)
	out := output.New(cfg.BaseDir, cfg.FileRoot)

	sched := scheduler.New(cfg, eval, samp, master, ckpt, out, reporter, sinks, masterRng)
	if err := sched.Run(ctx); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}

	if workersDone != nil {
		if err := <-workersDone; err != nil {
			slog.Error("worker error", "error", err)
			os.Exit(1)
		}
	}
	if master != nil {
		if err := master.Close(); err != nil {
			slog.Warn("closing transport failed", "error", err)
		}
	}

	logZ, sigma := sched.LogZ()
	fmt.Println(feedback.Summary(sched.NDead(), logZ, sigma, sched.TotalLikelihoodCalls()))
}

// startWorkers launches the worker side of the run. With nprocs == 1 the
// master samples inline and no transport exists. With an rpc listen
// address, workers are separate polychord-worker processes that dial in;
// otherwise they are in-process goroutines over the local transport.
func startWorkers(ctx context.Context, cfg *config.RunConfig, newSampler func(worker int) sampler.Sampler, rpcListen string) (transport.Master, <-chan error) {
	nworkers := cfg.NProcs - 1
	if nworkers == 0 {
		return nil, nil
	}

	if rpcListen != "" {
		server := rpc.NewServer(nworkers)
		if err := server.Listen(rpcListen); err != nil {
			slog.Error("rpc transport failed to listen", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := server.Serve(); err != nil {
				slog.Error("rpc transport failed", "error", err)
			}
		}()
		slog.Info("waiting for out-of-process workers", "addr", server.Addr(), "nworkers", nworkers)
		return server, nil
	}

	t := local.New(nworkers)
	done := make(chan error, 1)
	go func() {
		done <- local.RunWorkers(ctx, t, newSampler)
	}()
	return t, done
}
