package codec

import (
    "errors"
    "fmt"
    "time"

    "google.golang.org/protobuf/types/known/structpb"
)

// Ping is the message the command-line client sends and the server echoes.
type Ping struct {
    Seq    uint64 `cbor:"1,keyasint" json:"seq"`
    SentAt int64  `cbor:"2,keyasint" json:"sent_at"`
    Body   string `cbor:"3,keyasint,omitempty" json:"body,omitempty"`
}

// NewPing stamps a ping with the current time.
func NewPing(seq uint64, body string) Ping {
    return Ping{Seq: seq, SentAt: time.Now().UnixNano(), Body: body}
}

// RTT is the time elapsed since the ping was stamped.
func (p Ping) RTT(now time.Time) time.Duration { return now.Sub(time.Unix(0, p.SentAt)) }

var errBadPing = errors.New("codec: malformed ping")

// EncodePing marshals p with c. Protobuf has no generated type for Ping, so it
// travels as a google.protobuf.Struct.
func EncodePing(c Codec, p Ping) ([]byte, error) {
    if c.ContentType() != ContentProto {
        return c.Marshal(p)
    }
    s, err := structpb.NewStruct(map[string]any{
        "seq":     float64(p.Seq),
        "sent_at": fmt.Sprint(p.SentAt),
        "body":    p.Body,
    })
    if err != nil {
        return nil, err
    }
    return c.Marshal(s)
}

// DecodePing reverses EncodePing.
func DecodePing(c Codec, data []byte) (Ping, error) {
    var p Ping
    if c.ContentType() != ContentProto {
        err := c.Unmarshal(data, &p)
        return p, err
    }
    var s structpb.Struct
    if err := c.Unmarshal(data, &s); err != nil {
        return p, err
    }
    seq, ok := s.Fields["seq"]
    if !ok {
        return p, errBadPing
    }
    p.Seq = uint64(seq.GetNumberValue())
    if _, err := fmt.Sscan(s.Fields["sent_at"].GetStringValue(), &p.SentAt); err != nil {
        return p, fmt.Errorf("%w: sent_at: %v", errBadPing, err)
    }
    p.Body = s.Fields["body"].GetStringValue()
    return p, nil
}
