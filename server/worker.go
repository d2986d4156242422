package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/milan/vm"
)

// ErrWorkerStopped is returned by Do once Stop has been called.
var ErrWorkerStopped = errors.New("server: worker stopped")

// runRequest represents a unit of work to be executed on the worker goroutine.
type runRequest struct {
	fn   func(*vm.Interpreter) interface{}
	done chan runResult
}

// runResult holds the return value from a worker operation.
type runResult struct {
	value interface{}
	err   error
}

// Worker serializes program runs through a single goroutine that owns
// one interpreter. LSP handlers may be called concurrently; all runs
// must go through the worker.
type Worker struct {
	interp   *vm.Interpreter
	requests chan runRequest
	quit     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a Worker around interp and starts the processing
// goroutine.
func NewWorker(interp *vm.Interpreter) *Worker {
	w := &Worker{
		interp:   interp,
		requests: make(chan runRequest, 16),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
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

// execute runs fn against the interpreter, recovering from panics.
func (w *Worker) execute(fn func(*vm.Interpreter) interface{}) runResult {
	var result runResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.interp)
	}()
	return result
}

// Do submits fn for execution on the worker goroutine and blocks until it
// completes. Returns the result and any error (including panics).
func (w *Worker) Do(fn func(*vm.Interpreter) interface{}) (interface{}, error) {
	req := runRequest{
		fn:   fn,
		done: make(chan runResult, 1),
	}
	select {
	case <-w.quit:
		return nil, ErrWorkerStopped
	default:
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		select {
		case result := <-req.done:
			return result.value, result.err
		default:
			return nil, ErrWorkerStopped
		}
	}
}

// Stop shuts down the worker goroutine. Pending and later calls to Do
// return ErrWorkerStopped.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}
