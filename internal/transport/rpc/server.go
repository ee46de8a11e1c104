package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nestedsampling/polychord-go/internal/point"
	"github.com/nestedsampling/polychord-go/internal/transport"
)

// reply pairs a worker ID with the baby it sent back.
type reply struct {
	worker transport.WorkerID
	baby   *point.Point
}

// Server is the master side of the out-of-process transport: it exposes
// "Sampler.NextSeed" (long-polled by each worker) and "Sampler.Reply" over
// the framing listener, and satisfies transport.Master.
type Server struct {
	listener *listener
	seedCh   []chan *point.Point
	replyCh  chan reply
	logger   *slog.Logger
}

// NewServer builds a Server for nworkers out-of-process workers.
func NewServer(nworkers int) *Server {
	s := &Server{
		listener: newListener(),
		seedCh:   make([]chan *point.Point, nworkers),
		replyCh:  make(chan reply, nworkers),
		logger:   slog.Default().With("component", "transport-rpc-server"),
	}
	for i := range s.seedCh {
		s.seedCh[i] = make(chan *point.Point, 1)
	}
	s.listener.register("Sampler.NextSeed", s.handleNextSeed)
	s.listener.register("Sampler.Reply", s.handleReply)
	return s
}

// Listen binds the server's TCP listener. Call before Serve so Addr is
// valid and workers can dial immediately.
func (s *Server) Listen(addr string) error {
	return s.listener.listen(addr)
}

// Addr returns the bound listen address. Valid only after Listen.
func (s *Server) Addr() string {
	return s.listener.ln.Addr().String()
}

// Serve blocks accepting worker connections until Close.
func (s *Server) Serve() error {
	return s.listener.acceptLoop()
}

func (s *Server) handleNextSeed(ctx context.Context, raw json.RawMessage) (any, error) {
	var req NextSeedRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decoding NextSeedRequest: %w", err)
	}
	if req.WorkerID < 0 || req.WorkerID >= len(s.seedCh) {
		return nil, fmt.Errorf("unknown worker id %d", req.WorkerID)
	}
	seed, ok := <-s.seedCh[req.WorkerID]
	if !ok {
		return NextSeedResponse{End: true}, nil
	}
	return NextSeedResponse{Seed: toSeedMessage(seed)}, nil
}

func (s *Server) handleReply(ctx context.Context, raw json.RawMessage) (any, error) {
	var req ReplyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decoding ReplyRequest: %w", err)
	}
	s.replyCh <- reply{worker: transport.WorkerID(req.WorkerID), baby: fromBabyMessage(&req.Baby)}
	return ReplyResponse{}, nil
}

// NumWorkers implements transport.Master.
func (s *Server) NumWorkers() int { return len(s.seedCh) }

// Send implements transport.Master.
func (s *Server) Send(worker transport.WorkerID, seed *point.Point) error {
	s.seedCh[worker] <- seed
	return nil
}

// TryRecv implements transport.Master.
func (s *Server) TryRecv() (transport.WorkerID, *point.Point, bool) {
	select {
	case r := <-s.replyCh:
		return r.worker, r.baby, true
	default:
		return 0, nil, false
	}
}

// End implements transport.Master.
func (s *Server) End(worker transport.WorkerID) error {
	close(s.seedCh[worker])
	return nil
}

// Close implements transport.Master.
func (s *Server) Close() error {
	s.listener.stop()
	close(s.replyCh)
	return nil
}

func toSeedMessage(p *point.Point) *SeedMessage {
	return &SeedMessage{
		Hypercube:     p.Hypercube,
		Physical:      p.Physical,
		Derived:       p.Derived,
		L0:            point.JSONFloat(p.L0),
		L1:            point.JSONFloat(p.L1),
		NLike:         p.NLike,
		LastChord:     p.LastChord,
		DaughterIndex: p.DaughterIndex,
	}
}

func fromBabyMessage(m *BabyMessage) *point.Point {
	return &point.Point{
		Hypercube:     m.Hypercube,
		Physical:      m.Physical,
		Derived:       m.Derived,
		L0:            float64(m.L0),
		L1:            float64(m.L1),
		NLike:         m.NLike,
		LastChord:     m.LastChord,
		DaughterIndex: m.DaughterIndex,
		Status:        point.Waiting,
	}
}
