package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrWorkerStopped is returned for work submitted to a stopped worker.
var ErrWorkerStopped = errors.New("worker stopped")

// workRequest is a unit of work to be executed on the worker goroutine.
type workRequest struct {
	fn   func() error
	done chan error
}

// Worker serializes access to one session's debugger through a single
// goroutine. Debuggers are not safe for concurrent use; every RPC handler
// must go through the session's worker.
type Worker struct {
	requests chan workRequest
	quit     chan struct{}
	stop     sync.Once
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker() *Worker {
	w := &Worker{
		requests: make(chan workRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, turning a panic into an error.
func (w *Worker) execute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("worker: panic: %v", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Do runs fn on the worker goroutine and blocks until it completes.
func (w *Worker) Do(fn func() error) error {
	return w.DoContext(context.Background(), fn)
}

// DoContext is Do that gives up waiting for the worker when ctx is done.
// Once fn has started it runs to completion; long-running work should
// watch ctx itself.
func (w *Worker) DoContext(ctx context.Context, fn func() error) error {
	req := workRequest{
		fn:   fn,
		done: make(chan error, 1),
	}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return ErrWorkerStopped
	}

	select {
	case err := <-req.done:
		return err
	case <-w.quit:
		return ErrWorkerStopped
	}
}

// Stop shuts down the worker goroutine. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stop.Do(func() { close(w.quit) })
}
