package mem

import (
    "io"
    "sync"

    quicgo "github.com/quic-go/quic-go"

    "quicbridge/pkg/disconnect"
)

// pipe is one direction of a stream. Writes are message-preserving: a Read
// never returns bytes of two different writes.
type pipe struct {
    mu     sync.Mutex
    notify chan struct{}
    buf    [][]byte

    fin      bool  // writer finished
    readErr  error // terminal error seen by the reader after buffered data
    writeErr error // terminal error seen by the writer

    injectRead  []error
    injectWrite []error
    injectFlush []error
    injectStop  []error

    written int
    read    int
}

func newPipe() *pipe { return &pipe{notify: make(chan struct{})} }

// wake must be called with mu held.
func (p *pipe) wake() {
    close(p.notify)
    p.notify = make(chan struct{})
}

func pop(q *[]error) error {
    if len(*q) == 0 { return nil }
    err := (*q)[0]
    *q = (*q)[1:]
    return err
}

func (p *pipe) Read(b []byte) (int, error) {
    for {
        p.mu.Lock()
        if err := pop(&p.injectRead); err != nil {
            p.mu.Unlock()
            return 0, err
        }
        if p.readErr != nil {
            err := p.readErr
            p.mu.Unlock()
            return 0, err
        }
        if len(p.buf) > 0 {
            head := p.buf[0]
            n := copy(b, head)
            if n < len(head) {
                p.buf[0] = head[n:]
            } else {
                p.buf = p.buf[1:]
            }
            p.read += n
            p.mu.Unlock()
            return n, nil
        }
        if p.fin {
            p.mu.Unlock()
            return 0, io.EOF
        }
        ch := p.notify
        p.mu.Unlock()
        <-ch
    }
}

func (p *pipe) Write(b []byte) (int, error) {
    p.mu.Lock()
    defer p.mu.Unlock()
    if err := pop(&p.injectWrite); err != nil { return 0, err }
    if p.fin { return 0, disconnect.ErrSendAfterFinish }
    if p.writeErr != nil { return 0, p.writeErr }
    p.buf = append(p.buf, append([]byte(nil), b...))
    p.written += len(b)
    p.wake()
    return len(b), nil
}

func (p *pipe) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.writeErr != nil { return p.writeErr }
    p.fin = true
    p.wake()
    return nil
}

func (p *pipe) Flush() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    return pop(&p.injectFlush)
}

// Reset is the writer abandoning the stream.
func (p *pipe) Reset(code uint64) {
    p.mu.Lock()
    defer p.mu.Unlock()
    c := quicgo.StreamErrorCode(code)
    if p.writeErr == nil { p.writeErr = &quicgo.StreamError{ErrorCode: c} }
    if p.readErr == nil && !p.drainedFin() {
        p.buf = nil
        p.readErr = &quicgo.StreamError{ErrorCode: c, Remote: true}
    }
    p.wake()
}

// StopSending is the reader refusing further data.
func (p *pipe) StopSending(code uint64) error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if err := pop(&p.injectStop); err != nil { return err }
    c := quicgo.StreamErrorCode(code)
    if p.readErr == nil { p.readErr = &quicgo.StreamError{ErrorCode: c} }
    if p.writeErr == nil && !p.fin { p.writeErr = &quicgo.StreamError{ErrorCode: c, Remote: true} }
    p.buf = nil
    p.wake()
    return nil
}

// fail tears the pipe down with connection-level errors.
func (p *pipe) fail(readErr, writeErr error) {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.readErr == nil { p.readErr = readErr }
    if p.writeErr == nil { p.writeErr = writeErr }
    p.wake()
}

func (p *pipe) drainedFin() bool { return p.fin && len(p.buf) == 0 }
