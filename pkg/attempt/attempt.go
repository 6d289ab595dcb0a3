// Package attempt exposes an already-started background operation to a
// synchronous caller as a value it can poll once per tick without blocking.
//
// An Attempt is terminal exactly once: a successful poll hands the value out
// and every later poll reports ErrConsumed; a failure or crash is cached and
// the same error value is returned on every later poll. The underlying task is
// joined at most once.
package attempt

import (
    "errors"
    "fmt"

    "code.hybscloud.com/iox"
)

var (
    // ErrInProgress is returned while the background operation is still running.
    // It wraps iox.ErrWouldBlock.
    ErrInProgress = fmt.Errorf("attempt: in progress: %w", iox.ErrWouldBlock)
    // ErrConsumed is returned after the successful result was already handed out.
    ErrConsumed = errors.New("attempt: result already consumed")
)

// Crash describes a background task that did not return normally: it either
// panicked or was cancelled by its executor.
type Crash struct {
    Task      string
    Panic     any
    Stack     []byte
    Cancelled bool
    Cause     error
}

func (c *Crash) Error() string {
    if c.Cancelled {
        return fmt.Sprintf("task %q cancelled: %v", c.Task, c.Cause)
    }
    return fmt.Sprintf("task %q panicked: %v", c.Task, c.Panic)
}

func (c *Crash) Unwrap() error { return c.Cause }

// FailedError carries the error returned by the background operation.
type FailedError struct{ Err error }

func (e *FailedError) Error() string { return "attempt failed: " + e.Err.Error() }
func (e *FailedError) Unwrap() error { return e.Err }

// CrashedError carries a Crash of the background task.
type CrashedError struct{ Crash *Crash }

func (e *CrashedError) Error() string { return "attempt crashed: " + e.Crash.Error() }
func (e *CrashedError) Unwrap() error { return e.Crash }

// Outcome is what a finished Task yields when joined.
type Outcome[T any] struct {
    Value T
    Err   error
    Crash *Crash
}

// Task is a handle to background work. Done must not block; Join is called at
// most once and only after Done is closed.
type Task[T any] interface {
    Done() <-chan struct{}
    Join() Outcome[T]
}

// Attempt is owned by a single caller goroutine and is not safe for concurrent polls.
type Attempt[T any] struct {
    task Task[T]
    last error
}

// New wraps an already-started task.
func New[T any](task Task[T]) *Attempt[T] { return &Attempt[T]{task: task} }

// Poll returns the value once the task finished successfully. Otherwise it
// returns ErrInProgress, ErrConsumed, a *FailedError or a *CrashedError.
// Poll never blocks.
func (a *Attempt[T]) Poll() (T, error) {
    var zero T
    if a.last != nil {
        return zero, a.last
    }
    if a.task == nil {
        return zero, ErrConsumed
    }
    select {
    case <-a.task.Done():
    default:
        return zero, ErrInProgress
    }

    task := a.task
    a.task = nil
    out := task.Join()
    switch {
    case out.Crash != nil:
        a.last = &CrashedError{Crash: out.Crash}
        return zero, a.last
    case out.Err != nil:
        a.last = &FailedError{Err: out.Err}
        return zero, a.last
    }
    return out.Value, nil
}

// Pending reports whether the task has not been joined yet.
func (a *Attempt[T]) Pending() bool { return a.task != nil && a.last == nil }

// Abandon gives up on the attempt. If the task is still running, release is
// invoked with its value once it succeeds so resources it produced are not
// leaked. release may be nil. For tasks started by Spawn, release runs on the
// task's executor goroutine; other tasks get a goroutine of their own.
func (a *Attempt[T]) Abandon(release func(T)) {
    task := a.task
    a.task = nil
    if a.last == nil {
        a.last = ErrConsumed
    }
    if task == nil || release == nil {
        return
    }
    settle := func(out Outcome[T]) {
        if out.Crash == nil && out.Err == nil {
            release(out.Value)
        }
    }
    if h, ok := task.(*handle[T]); ok {
        h.whenDone(settle)
        return
    }
    go func() {
        <-task.Done()
        settle(task.Join())
    }()
}

// IsInProgress reports whether err means "not finished yet".
func IsInProgress(err error) bool { return errors.Is(err, iox.ErrWouldBlock) }
