package rpc

import (
	"context"

	"github.com/nestedsampling/polychord-go/internal/point"
	"github.com/nestedsampling/polychord-go/internal/sampler"
)

// Client is the worker side of the out-of-process transport: it satisfies
// transport.Worker by long-polling "Sampler.NextSeed" and posting
// "Sampler.Reply" over one persistent TCP connection to the master.
type Client struct {
	id int
	d  *dialer
}

// Dial connects to a Server at addr, identifying itself with workerID.
func Dial(addr string, workerID int) (*Client, error) {
	d, err := dial(addr)
	if err != nil {
		return nil, err
	}
	return &Client{id: workerID, d: d}, nil
}

// Recv implements transport.Worker.
func (c *Client) Recv() (*point.Point, bool) {
	var resp NextSeedResponse
	if err := c.d.call("Sampler.NextSeed", NextSeedRequest{WorkerID: c.id}, &resp); err != nil {
		return nil, false
	}
	if resp.End || resp.Seed == nil {
		return nil, false
	}
	return &point.Point{
		Hypercube:     resp.Seed.Hypercube,
		Physical:      resp.Seed.Physical,
		Derived:       resp.Seed.Derived,
		L0:            float64(resp.Seed.L0),
		L1:            float64(resp.Seed.L1),
		NLike:         resp.Seed.NLike,
		LastChord:     resp.Seed.LastChord,
		DaughterIndex: resp.Seed.DaughterIndex,
		Status:        point.Gestating,
	}, true
}

// Reply implements transport.Worker.
func (c *Client) Reply(baby *point.Point) error {
	msg := BabyMessage{
		Hypercube:     baby.Hypercube,
		Physical:      baby.Physical,
		Derived:       baby.Derived,
		L0:            point.JSONFloat(baby.L0),
		L1:            point.JSONFloat(baby.L1),
		NLike:         baby.NLike,
		LastChord:     baby.LastChord,
		DaughterIndex: baby.DaughterIndex,
	}
	var resp ReplyResponse
	return c.d.call("Sampler.Reply", ReplyRequest{WorkerID: c.id, Baby: msg}, &resp)
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.d.close() }

// Run drives this Client's worker loop: blocking Recv, run samp.Sample,
// Reply, until the master signals end-of-run or ctx is cancelled.
func Run(ctx context.Context, c *Client, samp sampler.Sampler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		seed, ok := c.Recv()
		if !ok {
			return nil
		}
		baby, err := samp.Sample(ctx, seed)
		if err != nil {
			return err
		}
		if err := c.Reply(baby); err != nil {
			return err
		}
	}
}
