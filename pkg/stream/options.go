// Package stream runs the per-direction I/O tasks of a protocol stream and
// hands the ticking caller non-blocking handles to them.
//
// A send task drains a bounded outbound channel into the stream; a receive
// task reads the stream into a bounded lock-free queue. Each task records
// exactly one disconnect.Reason when it exits and reports faults that did
// not stop it on a separate error queue.
package stream

import (
    "errors"
    "fmt"

    "code.hybscloud.com/iox"
    "go.uber.org/zap"

    "quicbridge/pkg/ids"
)

var (
    // ErrFull reports a saturated bounded queue. It wraps iox.ErrWouldBlock.
    ErrFull = fmt.Errorf("stream: queue full: %w", iox.ErrWouldBlock)
    // ErrClosed reports a handle whose task exited or that was released.
    ErrClosed = errors.New("stream: closed")
    // ErrInboundFull is recorded on the error queue for each dropped inbound chunk.
    ErrInboundFull = errors.New("stream: inbound queue full, chunk dropped")
)

// minQueue is the smallest ring the lock-free queues accept.
const minQueue = 2

// Options size the queues of one stream. Zero fields take defaults.
type Options struct {
    OutboundCapacity int
    InboundCapacity  int
    ControlCapacity  int
    ErrorCapacity    int
    MaxBatch         int
    ReadBufferSize   int
    Framing          Framing
    // ShutdownCode is sent to the peer when the executor stops a task.
    ShutdownCode uint64
}

func DefaultOptions() Options {
    return Options{
        OutboundCapacity: 128,
        InboundCapacity:  256,
        ControlCapacity:  32,
        ErrorCapacity:    32,
        MaxBatch:         128,
        ReadBufferSize:   64 * 1024,
        Framing:          FramingRaw,
        ShutdownCode:     503,
    }
}

func (o Options) withDefaults() Options {
    d := DefaultOptions()
    if o.OutboundCapacity <= 0 { o.OutboundCapacity = d.OutboundCapacity }
    if o.InboundCapacity <= 0 { o.InboundCapacity = d.InboundCapacity }
    if o.ControlCapacity <= 0 { o.ControlCapacity = d.ControlCapacity }
    if o.ErrorCapacity <= 0 { o.ErrorCapacity = d.ErrorCapacity }
    if o.MaxBatch <= 0 { o.MaxBatch = d.MaxBatch }
    if o.ReadBufferSize <= 0 { o.ReadBufferSize = d.ReadBufferSize }
    if o.ShutdownCode == 0 { o.ShutdownCode = d.ShutdownCode }
    o.ErrorCapacity = max(o.ErrorCapacity, minQueue)
    return o
}

// ringSize is the lfq ring backing a queue that must hold at most limit items.
// lfq rounds capacities up to a power of two, so the limit is enforced apart
// from the ring.
func ringSize(limit int) int { return max(limit, minQueue) }

// Meta identifies the stream a task serves.
type Meta struct {
    Conn   ids.ConnectionID
    Stream ids.StreamID
    Role   ids.Role
}

func (m Meta) fields(direction string) []zap.Field {
    return []zap.Field{
        zap.Stringer("conn", m.Conn),
        zap.Stringer("stream", m.Stream),
        zap.Stringer("role", m.Role),
        zap.String("direction", direction),
    }
}
