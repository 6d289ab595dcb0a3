package stream

import (
    "context"
    "fmt"
    "sync/atomic"
    "time"

    "code.hybscloud.com/atomix"
    "code.hybscloud.com/iox"
    "code.hybscloud.com/lfq"
    "go.uber.org/zap"

    "quicbridge/pkg/disconnect"
    "quicbridge/pkg/engine"
    "quicbridge/pkg/executor"
    "quicbridge/pkg/observability"
)

type recvTask struct {
    meta Meta
    opts Options
    r    engine.ReceiveStream

    in   lfq.SPSC[Packet]
    ctrl chan uint64
    st   taskState

    // queued counts packets in `in`. The reader adds before an enqueue and
    // PollRecv subtracts after a dequeue, so it never undercounts and the
    // queue never holds more than InboundCapacity.
    queued atomic.Int64

    // stopping is set by the watcher before it interrupts the read; the
    // reader then takes the watcher's reason from stopResult.
    stopping   atomic.Bool
    stopResult chan disconnect.Reason
    readerDone chan struct{}

    released atomic.Bool
    received atomix.Uint64
    dropped  atomix.Uint64
}

// ReceiveHandle is the caller-side view of a receive task. It is owned by one
// goroutine; none of its methods block.
type ReceiveHandle struct{ t *recvTask }

// StartReceive spawns the receive task for r on ex.
func StartReceive(ex *executor.Executor, r engine.ReceiveStream, meta Meta, opts Options) *ReceiveHandle {
    opts = opts.withDefaults()
    t := &recvTask{
        meta:       meta,
        opts:       opts,
        r:          r,
        ctrl:       make(chan uint64, opts.ControlCapacity),
        stopResult: make(chan disconnect.Reason, 1),
        readerDone: make(chan struct{}),
    }
    t.in.Init(ringSize(opts.InboundCapacity))
    t.st.init(opts.ErrorCapacity)

    // The watcher starts first so a running reader always has one.
    if !ex.Go("stream-recv-watch", t.watch) || !ex.Go("stream-recv", t.run) {
        close(t.readerDone)
        t.st.finish(disconnect.InternalError(executor.ErrClosed))
    }
    return &ReceiveHandle{t: t}
}

func (t *recvTask) run(ctx context.Context) {
    defer close(t.readerDone)
    r := t.loop()
    t.st.finish(r)
    r, _ = t.st.disconnectReason()
    if d := t.dropped.Load(); d > 0 {
        zap.L().Warn("inbound chunks dropped, queue was full", append(t.meta.fields("recv"), zap.Uint64("count", d))...)
    }
    observability.RecordStreamClosed(t.meta.Role.String(), "recv", r.Kind.String())
    zap.L().Debug("receive task exited", append(t.meta.fields("recv"), zap.Stringer("reason", r), zap.Uint64("chunks", t.received.Load()))...)
}

func (t *recvTask) loop() disconnect.Reason {
    buf := make([]byte, t.opts.ReadBufferSize)
    var (
        bo  iox.Backoff
        dec *frameDecoder
    )
    if t.opts.Framing == FramingLengthPrefixed {
        dec = &frameDecoder{}
    }
    for {
        n, err := t.r.Read(buf)
        if n > 0 && !t.stopping.Load() {
            observability.RecordStreamBytes(t.meta.Role.String(), "recv", n)
            if dec == nil {
                t.deliver(append([]byte(nil), buf[:n]...))
            } else if ferr := dec.feed(buf[:n], t.deliver); ferr != nil {
                _ = t.r.StopSending(t.opts.ShutdownCode)
                return disconnect.Reason{Kind: disconnect.KindInvalidStream, Err: ferr}
            }
        }
        if err == nil {
            bo = iox.Backoff{}
            continue
        }
        if t.stopping.Load() {
            return <-t.stopResult
        }
        r, fatal := disconnect.Classify(err)
        if fatal {
            if r.Kind == disconnect.KindPeerClosed && dec != nil && dec.partial() {
                zap.L().Warn("stream finished inside a frame", t.meta.fields("recv")...)
            }
            return r
        }
        t.st.pushErr(fmt.Errorf("read: %w", err))
        bo.Wait()
    }
}

// deliver publishes one chunk without blocking; a full queue drops it.
func (t *recvTask) deliver(p []byte) {
    pkt := Packet{Payload: p, RecvAt: time.Now()}
    if t.queued.Load() >= int64(t.opts.InboundCapacity) {
        t.drop()
        return
    }
    t.queued.Add(1)
    if err := t.in.Enqueue(&pkt); err != nil {
        t.queued.Add(-1)
        t.drop()
        return
    }
    t.received.Add(1)
}

func (t *recvTask) drop() {
    t.dropped.Add(1)
    observability.RecordStreamDropped(t.meta.Role.String(), "recv", 1)
    t.st.pushErr(ErrInboundFull)
}

// watch turns control requests and executor shutdown into StopSending, which
// unblocks a pending Read.
func (t *recvTask) watch(ctx context.Context) {
    select {
    case <-t.readerDone:
    case code, ok := <-t.ctrl:
        if !ok {
            t.stop(t.opts.ShutdownCode, disconnect.ChannelClosed("inbound"))
            return
        }
        t.stop(code, disconnect.UserClosed())
    case <-ctx.Done():
        t.stop(t.opts.ShutdownCode, disconnect.InternalError(context.Cause(ctx)))
    }
}

// stop asks the transport to stop accepting peer data. The task exits with
// onSuccess when that works, otherwise with the classified failure.
func (t *recvTask) stop(code uint64, onSuccess disconnect.Reason) {
    t.stopping.Store(true)
    r := onSuccess
    if err := t.r.StopSending(code); err != nil {
        if cr, fatal := disconnect.Classify(err); fatal {
            r = cr
        } else {
            r = disconnect.InternalError(fmt.Errorf("stop sending: %w", err))
        }
    }
    t.stopResult <- r
    t.st.finish(r)
}

// Meta identifies the stream.
func (h *ReceiveHandle) Meta() Meta { return h.t.meta }

// PollRecv takes the next received packet, if any. Packets read before the
// task exited stay available after it did.
func (h *ReceiveHandle) PollRecv() (Packet, bool) {
    p, err := h.t.in.Dequeue()
    if err != nil { return Packet{}, false }
    h.t.queued.Add(-1)
    return p, true
}

// RecvMany fills dst with queued packets and returns how many it wrote.
func (h *ReceiveHandle) RecvMany(dst []Packet) int {
    n := 0
    for n < len(dst) {
        p, ok := h.PollRecv()
        if !ok { break }
        dst[n] = p
        n++
    }
    return n
}

// IsOpen reports whether the task is still reading.
func (h *ReceiveHandle) IsOpen() bool { return !h.t.released.Load() && !h.t.st.finished() }

// StopSend asks the task to stop the peer's sending with code and exit.
func (h *ReceiveHandle) StopSend(code uint64) error {
    if h.t.released.Load() || h.t.st.finished() { return ErrClosed }
    select {
    case h.t.ctrl <- code:
        return nil
    default:
        return ErrFull
    }
}

// LogOutstandingErrors logs and clears the non-fatal errors recorded so far.
func (h *ReceiveHandle) LogOutstandingErrors() int { return h.t.st.logOutstanding(h.t.meta.fields("recv")) }

// DisconnectReason returns the terminal reason once the task exited.
func (h *ReceiveHandle) DisconnectReason() (disconnect.Reason, bool) { return h.t.st.disconnectReason() }

// Done is closed when the task exits.
func (h *ReceiveHandle) Done() <-chan struct{} { return h.t.st.done }

// Dropped returns how many chunks were discarded because the inbound queue was full.
func (h *ReceiveHandle) Dropped() uint64 { return h.t.dropped.Load() }

// Received returns how many chunks were queued for the caller.
func (h *ReceiveHandle) Received() uint64 { return h.t.received.Load() }

// Release requests shutdown. The task stops the peer's sending and exits with
// ChannelClosed("inbound").
func (h *ReceiveHandle) Release() {
    if h.t.released.CompareAndSwap(false, true) {
        close(h.t.ctrl)
    }
}
