package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// frameHandler processes one decoded request and returns a response or an
// error.
type frameHandler func(ctx context.Context, req json.RawMessage) (any, error)

// frameRequest is the wire envelope for one call.
type frameRequest struct {
	Method string          `json:"method"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// frameResponse is the wire envelope for one reply.
type frameResponse struct {
	ID    string `json:"id"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// listener is a newline-delimited-JSON-over-TCP server: it accepts
// connections and dispatches decoded frames to registered handlers by
// method name.
type listener struct {
	handlers map[string]frameHandler
	ln       net.Listener
	logger   *slog.Logger
	mu       sync.RWMutex
	wg       sync.WaitGroup
	done     chan struct{}
}

func newListener() *listener {
	return &listener{
		handlers: make(map[string]frameHandler),
		logger:   slog.Default().With("component", "transport-rpc"),
		done:     make(chan struct{}),
	}
}

func (l *listener) register(method string, h frameHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[method] = h
}

func (l *listener) listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	l.ln = ln
	l.logger.Info("rpc transport listening", "addr", ln.Addr())
	return nil
}

func (l *listener) acceptLoop() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.done:
				return nil
			default:
				l.logger.Error("accept error", "error", err)
				continue
			}
		}
		l.wg.Add(1)
		go l.handleConn(conn)
	}
}

func (l *listener) handleConn(conn net.Conn) {
	defer l.wg.Done()
	defer conn.Close()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req frameRequest
		if err := dec.Decode(&req); err != nil {
			return
		}

		l.mu.RLock()
		h, ok := l.handlers[req.Method]
		l.mu.RUnlock()

		resp := frameResponse{ID: req.ID}
		if !ok {
			resp.Error = fmt.Sprintf("unknown method: %s", req.Method)
		} else if data, err := h(context.Background(), req.Params); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Data = data
		}

		if err := enc.Encode(resp); err != nil {
			l.logger.Error("write error", "method", req.Method, "error", err)
			return
		}
	}
}

func (l *listener) stop() {
	close(l.done)
	if l.ln != nil {
		l.ln.Close()
	}
	l.wg.Wait()
}

// dialer is the client side of the same framing, one persistent connection
// per worker.
type dialer struct {
	conn   net.Conn
	enc    *json.Encoder
	dec    *json.Decoder
	mu     sync.Mutex
	nextID atomic.Int64
}

func dial(addr string) (*dialer, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &dialer{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}, nil
}

func (d *dialer) call(method string, params, result any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID.Add(1)
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}
	if err := d.enc.Encode(frameRequest{Method: method, ID: fmt.Sprintf("%d", id), Params: raw}); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	var resp frameResponse
	if err := d.dec.Decode(&resp); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("rpc error: %s", resp.Error)
	}
	if result == nil {
		return nil
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("marshaling response data: %w", err)
	}
	return json.Unmarshal(data, result)
}

func (d *dialer) close() error {
	return d.conn.Close()
}
