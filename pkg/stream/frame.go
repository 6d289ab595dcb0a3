package stream

import (
    "encoding/binary"
    "errors"
    "fmt"
    "net"
    "strings"
)

// Framing selects how chunks map onto the byte stream.
type Framing int

const (
    // FramingRaw passes bytes through; packets follow read boundaries.
    FramingRaw Framing = iota
    // FramingLengthPrefixed prefixes each chunk with its u32 little-endian length.
    FramingLengthPrefixed
)

// MaxFrameSize bounds a single length-prefixed message.
const MaxFrameSize = 1 << 24

const frameHeaderLen = 4

// ErrFrameTooLarge is reported when a peer announces a frame above MaxFrameSize.
var ErrFrameTooLarge = errors.New("stream: frame too large")

func (f Framing) String() string {
    switch f {
    case FramingLengthPrefixed:
        return "length_prefixed"
    default:
        return "raw"
    }
}

// ParseFraming accepts "raw", "length_prefixed" and the empty string.
func ParseFraming(s string) (Framing, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "", "raw":
        return FramingRaw, nil
    case "length_prefixed", "length-prefixed":
        return FramingLengthPrefixed, nil
    default:
        return FramingRaw, fmt.Errorf("unknown framing %q", s)
    }
}

// appendFrame appends p to bufs, preceded by a header when framing asks for one.
func appendFrame(bufs net.Buffers, f Framing, p []byte) net.Buffers {
    if f == FramingLengthPrefixed {
        var hdr [frameHeaderLen]byte
        binary.LittleEndian.PutUint32(hdr[:], uint32(len(p)))
        bufs = append(bufs, hdr[:])
    }
    return append(bufs, p)
}

type decodeState int

const (
    readLen decodeState = iota
    readBody
)

// frameDecoder reassembles length-prefixed frames across arbitrary read
// boundaries.
type frameDecoder struct {
    state decodeState
    hdr   [frameHeaderLen]byte
    hdrN  int
    body  []byte
    bodyN int
}

// feed consumes p and calls emit once per completed frame. The emitted slice
// is owned by the callee.
func (d *frameDecoder) feed(p []byte, emit func([]byte)) error {
    for len(p) > 0 {
        switch d.state {
        case readLen:
            n := copy(d.hdr[d.hdrN:], p)
            d.hdrN += n
            p = p[n:]
            if d.hdrN < frameHeaderLen {
                return nil
            }
            size := binary.LittleEndian.Uint32(d.hdr[:])
            if size > MaxFrameSize {
                return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
            }
            d.hdrN = 0
            d.body = make([]byte, size)
            d.bodyN = 0
            d.state = readBody
            if size == 0 {
                d.complete(emit)
            }
        case readBody:
            n := copy(d.body[d.bodyN:], p)
            d.bodyN += n
            p = p[n:]
            if d.bodyN == len(d.body) {
                d.complete(emit)
            }
        }
    }
    return nil
}

func (d *frameDecoder) complete(emit func([]byte)) {
    body := d.body
    d.body = nil
    d.bodyN = 0
    d.state = readLen
    emit(body)
}

// partial reports whether a frame was started but not finished.
func (d *frameDecoder) partial() bool {
    return d.hdrN > 0 || d.state == readBody
}
