// Package session holds the tick-side FIFOs of a stream: packets pulled from
// the receive task wait here for the application, and payloads the
// application queued wait here until the send task has room.
package session

import (
    "errors"

    "github.com/eapache/queue"
    "go.uber.org/zap"

    "quicbridge/pkg/stream"
)

// Limits bound one drain pass.
type Limits struct {
    MaxPacketTransfer   int
    PacketWarnThreshold int
}

func DefaultLimits() Limits { return Limits{MaxPacketTransfer: 512, PacketWarnThreshold: 400} }

// Receiver is the part of a receive handle a drain needs.
type Receiver interface {
    PollRecv() (stream.Packet, bool)
}

// Sender is the part of a send handle a drain needs.
type Sender interface {
    Send(p []byte) error
}

// Buffers is owned by the ticking goroutine.
type Buffers struct {
    limits Limits
    recv   *queue.Queue
    send   *queue.Queue
}

func New(l Limits) *Buffers {
    d := DefaultLimits()
    if l.MaxPacketTransfer <= 0 {
        l.MaxPacketTransfer = d.MaxPacketTransfer
    }
    if l.PacketWarnThreshold <= 0 || l.PacketWarnThreshold > l.MaxPacketTransfer {
        l.PacketWarnThreshold = l.MaxPacketTransfer
    }
    return &Buffers{limits: l, recv: queue.New(), send: queue.New()}
}

// QueueSend appends a payload for the next DrainSend.
func (b *Buffers) QueueSend(p []byte) { b.send.Add(p) }

// PopRecv takes the oldest received packet.
func (b *Buffers) PopRecv() (stream.Packet, bool) {
    if b.recv.Length() == 0 {
        return stream.Packet{}, false
    }
    return b.recv.Remove().(stream.Packet), true
}

func (b *Buffers) RecvLen() int { return b.recv.Length() }
func (b *Buffers) SendLen() int { return b.send.Length() }

// DrainRecv moves at most MaxPacketTransfer packets from r into the buffer.
func (b *Buffers) DrainRecv(r Receiver, fields ...zap.Field) int {
    n := 0
    for n < b.limits.MaxPacketTransfer {
        p, ok := r.PollRecv()
        if !ok {
            break
        }
        b.recv.Add(p)
        n++
    }
    if n >= b.limits.PacketWarnThreshold {
        zap.L().Warn("receive drain near per-tick limit",
            append(fields, zap.Int("packets", n), zap.Int("limit", b.limits.MaxPacketTransfer))...)
    }
    return n
}

// DrainSend hands queued payloads to s, oldest first, until s is full, at
// most MaxPacketTransfer per call. Payloads s did not take stay queued. The
// only error returned is stream.ErrClosed.
func (b *Buffers) DrainSend(s Sender, fields ...zap.Field) (int, error) {
    n := 0
    for n < b.limits.MaxPacketTransfer && b.send.Length() > 0 {
        err := s.Send(b.send.Peek().([]byte))
        if errors.Is(err, stream.ErrFull) {
            break
        }
        if err != nil {
            return n, stream.ErrClosed
        }
        b.send.Remove()
        n++
    }
    if n >= b.limits.PacketWarnThreshold {
        zap.L().Warn("send drain near per-tick limit",
            append(fields, zap.Int("packets", n), zap.Int("limit", b.limits.MaxPacketTransfer))...)
    }
    return n, nil
}

// DiscardSend drops queued outbound payloads and returns how many there were.
func (b *Buffers) DiscardSend() int {
    n := b.send.Length()
    b.send = queue.New()
    return n
}

// Clear drops everything buffered and returns how many entries were discarded.
func (b *Buffers) Clear() (recv, send int) {
    recv, send = b.recv.Length(), b.send.Length()
    b.recv = queue.New()
    b.send = queue.New()
    return recv, send
}
