// Package executor serializes work onto one goroutine.
//
// An engine.Engine must only be called from one goroutine at a time. A
// transport reader, the application and timers all want to call it, so
// each of them submits a Task and the single Run loop executes them in
// order:
//
//	x := executor.New()
//	go x.Run(ctx)
//	x.Submit(func() error { return eng.Ingest(buf) })
//	x.After(r.DrainTimeout(), func() error { r.ExpireDrain(); return nil })
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("executor: closed")

// Task is one unit of work. A returned error is reported to the error
// handler and the loop continues with the next task.
type Task func() error

// Executor runs tasks one at a time on the goroutine that calls Run.
//
// Thread-safety model:
//   - Submit, After and Close are safe from any goroutine
//   - tasks never run concurrently with each other
//   - tasks run in submission order; a timer's task is ordered by when the
//     timer fires, not by when After was called
type Executor struct {
	queue   *taskQueue
	log     *slog.Logger
	onError func(error)
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) { x.log = l }
}

// WithErrorHandler sets the callback for task errors and panics. It runs
// on the Run goroutine. Without one, errors are logged.
func WithErrorHandler(fn func(error)) Option {
	return func(x *Executor) { x.onError = fn }
}

// New creates an Executor. Nothing runs until Run is called.
func New(opts ...Option) *Executor {
	x := &Executor{queue: newTaskQueue(), log: slog.Default()}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Submit queues t. It returns ErrClosed after Close.
func (x *Executor) Submit(t Task) error {
	if !x.queue.push(t) {
		return ErrClosed
	}
	return nil
}

// Call runs t on the executor and waits for its result, or for ctx.
func (x *Executor) Call(ctx context.Context, t Task) error {
	done := make(chan error, 1)
	if err := x.Submit(func() error {
		err := t()
		done <- err
		return err
	}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// After submits t once d has elapsed. The returned stop function cancels
// the timer and reports whether it did so before t was submitted.
func (x *Executor) After(d time.Duration, t Task) (stop func() bool) {
	timer := time.AfterFunc(d, func() {
		if err := x.Submit(t); err != nil {
			x.log.Debug("timer fired after close", "delay", d)
		}
	})
	return timer.Stop
}

// Len returns the number of queued tasks.
func (x *Executor) Len() int { return x.queue.len() }

// Close stops accepting tasks. Run finishes the tasks already queued and
// returns nil.
func (x *Executor) Close() { x.queue.close() }

// Run executes tasks until the context is cancelled or the executor is
// closed and drained. It must be called by exactly one goroutine.
func (x *Executor) Run(ctx context.Context) error {
	x.log.Debug("executor starting")
	for {
		if t, ok := x.queue.pop(); ok {
			x.run(t)
			continue
		}
		select {
		case <-ctx.Done():
			x.log.Debug("executor stopping: context cancelled")
			x.queue.close()
			return ctx.Err()
		case <-x.queue.wait():
			if x.queue.isClosed() && x.queue.len() == 0 {
				x.log.Debug("executor stopping: closed")
				return nil
			}
		}
	}
}

func (x *Executor) run(t Task) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("executor: task panicked: %v", r)
			}
		}()
		return t()
	}()
	if err == nil {
		return
	}
	if x.onError != nil {
		x.onError(err)
		return
	}
	x.log.Error("task failed", "error", err)
}
