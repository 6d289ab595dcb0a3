package attempt

import (
    "context"
    "errors"
    "runtime/debug"
    "sync"

    "quicbridge/pkg/executor"
)

type handle[T any] struct {
    done chan struct{}
    out  Outcome[T]

    mu    sync.Mutex
    ended bool
    after func(Outcome[T])
}

func (h *handle[T]) Done() <-chan struct{} { return h.done }

func (h *handle[T]) Join() Outcome[T] {
    <-h.done
    return h.out
}

// finish publishes out and runs a callback registered by whenDone on the
// calling goroutine.
func (h *handle[T]) finish(out Outcome[T]) {
    h.mu.Lock()
    h.out = out
    h.ended = true
    after := h.after
    h.mu.Unlock()
    close(h.done)
    if after != nil {
        after(out)
    }
}

// whenDone arranges for fn to run with the outcome on the task's goroutine,
// or immediately when the task already finished.
func (h *handle[T]) whenDone(fn func(Outcome[T])) {
    h.mu.Lock()
    if !h.ended {
        h.after = fn
        h.mu.Unlock()
        return
    }
    h.mu.Unlock()
    fn(h.out)
}

// Spawn starts fn on ex and returns an Attempt observing it. A panic in fn, or
// fn returning because the executor was cancelled, yields a *CrashedError.
func Spawn[T any](ex *executor.Executor, name string, fn func(ctx context.Context) (T, error)) *Attempt[T] {
    h := &handle[T]{done: make(chan struct{})}
    started := ex.Go(name, func(ctx context.Context) {
        var out Outcome[T]
        defer func() {
            if r := recover(); r != nil {
                out = Outcome[T]{Crash: &Crash{Task: name, Panic: r, Stack: debug.Stack()}}
            }
            h.finish(out)
        }()
        v, err := fn(ctx)
        if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
            out = Outcome[T]{Crash: &Crash{Task: name, Cancelled: true, Cause: context.Cause(ctx)}}
            return
        }
        out = Outcome[T]{Value: v, Err: err}
    })
    if !started {
        h.finish(Outcome[T]{Crash: &Crash{Task: name, Cancelled: true, Cause: executor.ErrClosed}})
    }
    return New[T](h)
}

// Ready returns an Attempt that is already resolved with v or err.
func Ready[T any](v T, err error) *Attempt[T] {
    h := &handle[T]{done: make(chan struct{})}
    h.finish(Outcome[T]{Value: v, Err: err})
    return New[T](h)
}
