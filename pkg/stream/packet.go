package stream

import "time"

// Packet is one chunk read from a stream. With length-prefixed framing it is
// one whole message.
type Packet struct {
    Payload []byte
    RecvAt  time.Time
}

// Len returns the payload size.
func (p Packet) Len() int { return len(p.Payload) }
