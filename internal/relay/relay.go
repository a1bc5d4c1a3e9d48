// Package relay implements the request/response channel between peers and
// the single elected executor.
package relay

import (
	"context"
	"sync/atomic"

	"github.com/veldrane/eidolon/internal/apperr"
)

// Privileged operation names carried on the wire.
const (
	OpEnsureContainer = "ensure-container"
	OpCreateRecord    = "create-record"
	OpFabricate       = "fabricate"
	OpRecall          = "recall"
	OpSetFlag         = "set-flag"
	OpAssignCategory  = "assign-category"
	OpMirror          = "mirror"
	OpNotify          = "notify"
)

// Request is one relayed call: an operation name plus its ordered arguments.
// Arguments that crossed an HTTP transport arrive JSON-decoded (strings,
// float64 numbers, maps); the executor's argument helpers accept both forms.
type Request struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

// Executor is the single process authorized to mutate the record store. The
// hub only ever calls through this interface; how an executor gets elected
// is the transport's concern, not the core's.
type Executor interface {
	// ID identifies the executor process for self-delegation checks.
	ID() string
	// Dispatch runs one privileged operation to completion.
	Dispatch(ctx context.Context, req Request) (any, error)
}

type response struct {
	result any
	err    error
}

type request struct {
	ctx   context.Context
	req   Request
	reply chan response
}

// Hub relays requests from peers to the currently elected executor.
//
// Concurrency model: a single internal loop (goroutine) owns the mutable
// state (the current executor). Public methods communicate with this loop
// through channels, so no mutexes are required. Requests are dispatched one
// at a time inside the loop, which is what makes each handler atomic with
// respect to the record store: the single-writer property, not any locking
// discipline inside the executor.
//
// There is no queueing or backpressure. When no executor is elected a
// request fails immediately with apperr.ErrNoExecutor, and once a request
// reaches the executor it runs to completion; cancellation applies only
// before dispatch.
type Hub struct {
	electCh   chan Executor
	resignCh  chan string
	requestCh chan request
	currentCh chan chan string

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewHub creates a hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		electCh:   make(chan Executor),
		resignCh:  make(chan string),
		requestCh: make(chan request),
		currentCh: make(chan chan string),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)

	var current Executor

	for {
		select {
		case <-h.stopCh:
			return

		case e := <-h.electCh:
			current = e

		case id := <-h.resignCh:
			if current != nil && current.ID() == id {
				current = nil
			}

		case req := <-h.requestCh:
			if current == nil {
				req.reply <- response{err: apperr.ErrNoExecutor}
				continue
			}
			result, err := current.Dispatch(req.ctx, req.req)
			req.reply <- response{result: result, err: err}

		case resp := <-h.currentCh:
			if current == nil {
				resp <- ""
			} else {
				resp <- current.ID()
			}
		}
	}
}

// Elect installs e as the current executor, replacing any previous one.
// At most one executor is active at a time.
func (h *Hub) Elect(e Executor) {
	if h.closed.Load() {
		return
	}
	select {
	case h.electCh <- e:
	case <-h.stopped:
	}
}

// Resign clears the current executor if it matches id.
func (h *Hub) Resign(id string) {
	if h.closed.Load() {
		return
	}
	select {
	case h.resignCh <- id:
	case <-h.stopped:
	}
}

// Current returns the elected executor's ID, or empty when none is elected.
func (h *Hub) Current() string {
	if h.closed.Load() {
		return ""
	}
	resp := make(chan string, 1)
	select {
	case h.currentCh <- resp:
	case <-h.stopped:
		return ""
	}
	select {
	case id := <-resp:
		return id
	case <-h.stopped:
		return ""
	}
}

// Do relays one request and returns its single response. It fails with
// apperr.ErrNoExecutor when no executor is elected, and with ctx.Err() when
// the context ends before the request is accepted. After acceptance the call
// blocks until the executor finishes; transport-level timeouts are the
// caller's concern.
//
// The hub loop serializes dispatch, so an executor handler must never call
// Do on its own hub; executor-local callers go through the operation
// client's self-delegation short-circuit instead.
func (h *Hub) Do(ctx context.Context, req Request) (any, error) {
	if h.closed.Load() {
		return nil, apperr.ErrNoExecutor
	}
	r := request{ctx: ctx, req: req, reply: make(chan response, 1)}
	select {
	case h.requestCh <- r:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.stopped:
		return nil, apperr.ErrNoExecutor
	}
	resp := <-r.reply
	return resp.result, resp.err
}

// Close stops the dispatch loop. Requests accepted before Close complete;
// later calls fail with apperr.ErrNoExecutor.
func (h *Hub) Close() {
	if h.closed.CompareAndSwap(false, true) {
		close(h.stopCh)
	}
	<-h.stopped
}
