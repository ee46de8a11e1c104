// Package rpc carries seed and baby point records between a master
// process and out-of-process workers over a newline-delimited JSON-over-
// TCP framing, for deployments that run workers as separate OS processes
// instead of goroutines (transport/local). The framing is deliberately
// hand-rolled: a fixed two-message protocol does not justify a real
// google.golang.org/grpc dependency.
package rpc

import "github.com/nestedsampling/polychord-go/internal/point"

// SeedMessage is the wire form of a dispatched seed. Likelihood
// fields use point.JSONFloat so a -Inf bound or a failed point survives
// the JSON framing.
type SeedMessage struct {
	Hypercube     []float64       `json:"hypercube"`
	Physical      []float64       `json:"physical"`
	Derived       []float64       `json:"derived"`
	L0            point.JSONFloat `json:"l0"`
	L1            point.JSONFloat `json:"l1"`
	NLike         int64           `json:"nlike"`
	LastChord     float64         `json:"last_chord"`
	DaughterIndex int             `json:"daughter_index"`
}

// BabyMessage is the wire form of a worker's completed sample.
type BabyMessage struct {
	Hypercube     []float64       `json:"hypercube"`
	Physical      []float64       `json:"physical"`
	Derived       []float64       `json:"derived"`
	L0            point.JSONFloat `json:"l0"`
	L1            point.JSONFloat `json:"l1"`
	NLike         int64           `json:"nlike"`
	LastChord     float64         `json:"last_chord"`
	DaughterIndex int             `json:"daughter_index"`
}

// NextSeedRequest carries the requesting worker's ID so the master can
// route to that worker's pending-seed channel.
type NextSeedRequest struct {
	WorkerID int `json:"worker_id"`
}

// NextSeedResponse carries either a seed or End=true (end of run).
type NextSeedResponse struct {
	Seed *SeedMessage `json:"seed,omitempty"`
	End  bool         `json:"end"`
}

// ReplyRequest carries a worker's completed baby back to the master.
type ReplyRequest struct {
	WorkerID int         `json:"worker_id"`
	Baby     BabyMessage `json:"baby"`
}

// ReplyResponse acknowledges a ReplyRequest; it carries no data.
type ReplyResponse struct{}
