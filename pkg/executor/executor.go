// Package executor owns the goroutines that run protocol I/O on behalf of a
// ticking caller. Every background operation in quicbridge is started through
// an Executor so shutdown can cancel and wait for all of them.
package executor

import (
    "context"
    "errors"
    "fmt"
    "runtime/debug"
    "sync"
    "time"

    "go.uber.org/zap"
)

// ErrClosed is the cancellation cause observed by tasks after Close.
var ErrClosed = errors.New("executor: closed")

// Executor is a cancellable group of background goroutines.
type Executor struct {
    ctx    context.Context
    cancel context.CancelCauseFunc
    wg     sync.WaitGroup

    mu     sync.Mutex
    closed bool
    panics uint64
}

// New returns an Executor whose tasks observe parent's cancellation.
func New(parent context.Context) *Executor {
    if parent == nil {
        parent = context.Background()
    }
    ctx, cancel := context.WithCancelCause(parent)
    return &Executor{ctx: ctx, cancel: cancel}
}

// Context is cancelled when the executor closes.
func (e *Executor) Context() context.Context { return e.ctx }

// Go runs fn on a new goroutine. A panic inside fn is recovered and logged;
// callers that must observe panics recover on their own first.
// Go returns false if the executor is already closed and fn was not started.
func (e *Executor) Go(name string, fn func(ctx context.Context)) bool {
    e.mu.Lock()
    if e.closed {
        e.mu.Unlock()
        return false
    }
    e.wg.Add(1)
    e.mu.Unlock()

    go func() {
        defer e.wg.Done()
        defer func() {
            if r := recover(); r != nil {
                e.mu.Lock()
                e.panics++
                e.mu.Unlock()
                zap.L().Error("background task panicked",
                    zap.String("task", name),
                    zap.Any("panic", r),
                    zap.ByteString("stack", debug.Stack()))
            }
        }()
        fn(e.ctx)
    }()
    return true
}

// Panics returns how many tasks crashed without recovering themselves.
func (e *Executor) Panics() uint64 {
    e.mu.Lock()
    defer e.mu.Unlock()
    return e.panics
}

// Close cancels every task and waits up to timeout for them to return.
// A zero timeout waits indefinitely.
func (e *Executor) Close(timeout time.Duration) error {
    e.mu.Lock()
    e.closed = true
    e.mu.Unlock()
    e.cancel(ErrClosed)

    done := make(chan struct{})
    go func() { e.wg.Wait(); close(done) }()
    if timeout <= 0 {
        <-done
        return nil
    }
    select {
    case <-done:
        return nil
    case <-time.After(timeout):
        return fmt.Errorf("executor: tasks still running after %s", timeout)
    }
}
