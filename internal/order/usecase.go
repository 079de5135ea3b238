package order

import (
	"context"
	"sync"
	"sync/atomic"

	"execcore/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

var (
	ErrQueueFull        = errors.New("order: queue full")
	ErrUnsupportedVenue = errors.New("order: unsupported venue")
	ErrRouterNotRunning = errors.New("order: router not running")
)

// Delegator transmits a request to a venue beyond the session layer.
type Delegator interface {
	Send(ctx context.Context, req Request) error
}

// DelegatorFunc adapts a function to Delegator.
type DelegatorFunc func(ctx context.Context, req Request) error

func (f DelegatorFunc) Send(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// Result reports the hand-off outcome of a single request.
type Result struct {
	Request Request
	Err     error
}

// Router queues requests and hands them to the delegator registered for their venue.
type Router struct {
	delegators map[string]Delegator
	onResult   func(Result)

	running atomic.Bool
	worker  int
	queue   chan Request
	wg      sync.WaitGroup
}

// NewRouter creates a router with workerCount workers and a queue of workerCap requests.
func NewRouter(workerCount, workerCap int, delegators map[string]Delegator, onResult func(Result)) *Router {
	if workerCount <= 0 {
		workerCount = 1
	}
	if workerCap <= 0 {
		workerCap = 1
	}
	return &Router{
		delegators: delegators,
		onResult:   onResult,
		worker:     workerCount,
		queue:      make(chan Request, workerCap),
	}
}

// Handle enqueues req without blocking.
func (r *Router) Handle(req Request) error {
	if !r.running.Load() {
		return ErrRouterNotRunning
	}
	if _, ok := r.delegators[req.Venue]; !ok {
		return errors.Wrap(ErrUnsupportedVenue, "handle").With("venue", req.Venue)
	}
	select {
	case r.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run starts the workers. They stop when ctx is done; Wait blocks until they have.
func (r *Router) Run(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	for range r.worker {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.work(ctx)
		}()
	}
}

// Wait blocks until all workers returned.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) work(ctx context.Context) {
	for {
		select {
		case req := <-r.queue:
			delegator := r.delegators[req.Venue]
			var err error
			if delegator == nil {
				err = errors.Wrap(exception.ErrNilInstance, "delegator").With("venue", req.Venue)
			} else {
				err = delegator.Send(ctx, req)
			}
			if err != nil {
				logs.Errorf("venue hand-off failed, client order id: %s, venue: %s, err: %+v", req.ClientOrderID, req.Venue, err)
			}
			if r.onResult != nil {
				r.onResult(Result{Request: req, Err: err})
			}
		case <-ctx.Done():
			return
		}
	}
}
