package stream

import (
    "context"
    "fmt"
    "net"
    "sync/atomic"

    "go.uber.org/zap"

    "quicbridge/pkg/disconnect"
    "quicbridge/pkg/engine"
    "quicbridge/pkg/executor"
    "quicbridge/pkg/observability"
)

type sendCommand int

const (
    cmdCloseAndQuit sendCommand = iota + 1
    cmdFlush
)

type sendTask struct {
    meta Meta
    opts Options
    w    engine.SendStream

    data chan []byte
    ctrl chan sendCommand
    st   taskState

    released atomic.Bool
    sent     atomic.Uint64
    lost     atomic.Uint64
}

// SendHandle is the caller-side view of a send task. It is owned by one
// goroutine; none of its methods block.
type SendHandle struct{ t *sendTask }

// StartSend spawns the send task for w on ex.
func StartSend(ex *executor.Executor, w engine.SendStream, meta Meta, opts Options) *SendHandle {
    t := newSendTask(w, meta, opts)
    t.start(ex)
    return &SendHandle{t: t}
}

func newSendTask(w engine.SendStream, meta Meta, opts Options) *sendTask {
    opts = opts.withDefaults()
    t := &sendTask{
        meta: meta,
        opts: opts,
        w:    w,
        data: make(chan []byte, opts.OutboundCapacity),
        ctrl: make(chan sendCommand, opts.ControlCapacity),
    }
    t.st.init(opts.ErrorCapacity)
    return t
}

func (t *sendTask) start(ex *executor.Executor) {
    if !ex.Go("stream-send", t.run) {
        t.st.finish(disconnect.InternalError(executor.ErrClosed))
    }
}

func (t *sendTask) run(ctx context.Context) {
    r := t.loop(ctx)
    t.st.finish(r)

    fields := t.meta.fields("send")
    if lost := t.drainLost(); lost > 0 {
        observability.RecordStreamDropped(t.meta.Role.String(), "send", lost)
        zap.L().Warn("send task exited with queued data", append(fields, zap.Int("chunks", lost), zap.Stringer("reason", r))...)
    }
    observability.RecordStreamClosed(t.meta.Role.String(), "send", r.Kind.String())
    zap.L().Debug("send task exited", append(fields, zap.Stringer("reason", r), zap.Uint64("chunks_sent", t.sent.Load()))...)
}

func (t *sendTask) loop(ctx context.Context) disconnect.Reason {
    batch := make([][]byte, 0, t.opts.MaxBatch+1)
    var open bool
    for {
        select {
        case <-ctx.Done():
            t.w.Reset(t.opts.ShutdownCode)
            return disconnect.InternalError(context.Cause(ctx))

        case cmd := <-t.ctrl:
            switch cmd {
            case cmdCloseAndQuit:
                open = true
                for open {
                    batch, open = t.collect(batch[:0])
                    if len(batch) == 0 { break }
                    if r, stop := t.write(batch); stop { return r }
                }
                if err := t.w.Close(); err != nil {
                    if r, fatal := disconnect.Classify(err); fatal { return r }
                    t.st.pushErr(fmt.Errorf("close: %w", err))
                }
                if !open { return disconnect.ChannelClosed("outbound") }
                return disconnect.UserClosed()
            case cmdFlush:
                if err := t.w.Flush(); err != nil {
                    if r, fatal := disconnect.Classify(err); fatal { return r }
                    t.st.pushErr(fmt.Errorf("flush: %w", err))
                }
            }

        case chunk, ok := <-t.data:
            if !ok {
                _ = t.w.Close()
                return disconnect.ChannelClosed("outbound")
            }
            batch, open = t.collect(append(batch[:0], chunk))
            if r, stop := t.write(batch); stop { return r }
            if !open {
                _ = t.w.Close()
                return disconnect.ChannelClosed("outbound")
            }
        }
    }
}

// collect drains up to MaxBatch queued chunks without blocking. open is false
// once the data channel was closed by Release.
func (t *sendTask) collect(batch [][]byte) (_ [][]byte, open bool) {
    for i := 0; i < t.opts.MaxBatch; i++ {
        select {
        case chunk, ok := <-t.data:
            if !ok { return batch, false }
            batch = append(batch, chunk)
        default:
            return batch, true
        }
    }
    return batch, true
}

// write issues one vectored write for batch. stop reports a fatal error.
func (t *sendTask) write(batch [][]byte) (disconnect.Reason, bool) {
    bufs := make(net.Buffers, 0, 2*len(batch))
    for _, chunk := range batch {
        bufs = appendFrame(bufs, t.opts.Framing, chunk)
    }
    n, err := bufs.WriteTo(t.w)
    if n > 0 { observability.RecordStreamBytes(t.meta.Role.String(), "send", int(n)) }
    if err == nil {
        t.sent.Add(uint64(len(batch)))
        return disconnect.Reason{}, false
    }
    t.lost.Add(uint64(len(batch)))
    if r, fatal := disconnect.Classify(err); fatal {
        return r, true
    }
    t.st.pushErr(fmt.Errorf("write of %d chunks: %w", len(batch), err))
    return disconnect.Reason{}, false
}

func (t *sendTask) drainLost() int {
    n := 0
    for {
        select {
        case _, ok := <-t.data:
            if !ok { return n }
            n++
        default:
            return n
        }
    }
}

// Meta identifies the stream.
func (h *SendHandle) Meta() Meta { return h.t.meta }

// Send queues one chunk. It returns ErrFull when the outbound queue is
// saturated and ErrClosed once the task exited or the handle was released.
// The caller must not modify p after a successful Send.
func (h *SendHandle) Send(p []byte) error {
    if h.t.released.Load() || h.t.st.finished() { return ErrClosed }
    select {
    case h.t.data <- p:
        return nil
    default:
        return ErrFull
    }
}

// SendManyDrain queues as many chunks as capacity allows, front first, and
// leaves the rest in *chunks. Only ErrClosed is reported.
func (h *SendHandle) SendManyDrain(chunks *[][]byte) error {
    q := *chunks
    i := 0
    var err error
    for ; i < len(q); i++ {
        if err = h.Send(q[i]); err != nil { break }
    }
    n := copy(q, q[i:])
    clear(q[n:])
    *chunks = q[:n]
    if err == ErrClosed { return ErrClosed }
    return nil
}

// IsOpen reports whether the task is still running and the handle not released.
func (h *SendHandle) IsOpen() bool { return !h.t.released.Load() && !h.t.st.finished() }

// Close asks the task to write what is queued, finish the stream and exit
// with UserClosed.
func (h *SendHandle) Close() error { return h.command(cmdCloseAndQuit) }

// Flush asks the task to flush without finishing the stream.
func (h *SendHandle) Flush() error { return h.command(cmdFlush) }

func (h *SendHandle) command(c sendCommand) error {
    if h.t.released.Load() || h.t.st.finished() { return ErrClosed }
    select {
    case h.t.ctrl <- c:
        return nil
    default:
        return ErrFull
    }
}

// LogOutstandingErrors logs and clears the non-fatal errors recorded so far.
func (h *SendHandle) LogOutstandingErrors() int { return h.t.st.logOutstanding(h.t.meta.fields("send")) }

// DisconnectReason returns the terminal reason once the task exited.
func (h *SendHandle) DisconnectReason() (disconnect.Reason, bool) { return h.t.st.disconnectReason() }

// Done is closed when the task exits.
func (h *SendHandle) Done() <-chan struct{} { return h.t.st.done }

// Lost returns how many chunks failed writes discarded.
func (h *SendHandle) Lost() uint64 { return h.t.lost.Load() }

// Release requests shutdown. The task exits with ChannelClosed("outbound")
// after writing what was already queued.
func (h *SendHandle) Release() {
    if h.t.released.CompareAndSwap(false, true) {
        close(h.t.data)
    }
}
