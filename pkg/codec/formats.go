package codec

import (
    "bytes"
    "encoding/json"
    "errors"
    "fmt"

    cbor "github.com/fxamacker/cbor/v2"
    "google.golang.org/protobuf/proto"
)

// ErrNotMessage is returned by the Protobuf codec for values that are not a
// proto.Message.
var ErrNotMessage = errors.New("codec: not a proto.Message")

// format is a Codec assembled from a content type and an encoder pair.
type format struct {
    contentType string
    marshal     func(v any) ([]byte, error)
    unmarshal   func(data []byte, v any) error
}

func (f format) ContentType() string                { return f.contentType }
func (f format) Marshal(v any) ([]byte, error)       { return f.marshal(v) }
func (f format) Unmarshal(data []byte, v any) error { return f.unmarshal(data, v) }

// CBOR encodes with the RFC 8949 core deterministic profile and rejects
// unknown fields on decode.
func CBOR() (Codec, error) {
    em, err := cbor.CanonicalEncOptions().EncMode()
    if err != nil {
        return nil, err
    }
    dm, err := cbor.DecOptions{ExtraReturnErrors: cbor.ExtraDecErrorUnknownField}.DecMode()
    if err != nil {
        return nil, err
    }
    return format{contentType: ContentCBOR, marshal: em.Marshal, unmarshal: dm.Unmarshal}, nil
}

// JSON rejects unknown fields on decode.
func JSON() Codec {
    return format{
        contentType: ContentJSON,
        marshal:     json.Marshal,
        unmarshal: func(data []byte, v any) error {
            dec := json.NewDecoder(bytes.NewReader(data))
            dec.DisallowUnknownFields()
            return dec.Decode(v)
        },
    }
}

// Proto marshals deterministically and skips unknown fields on decode.
func Proto() Codec {
    mo := proto.MarshalOptions{Deterministic: true}
    uo := proto.UnmarshalOptions{DiscardUnknown: true}
    return format{
        contentType: ContentProto,
        marshal: func(v any) ([]byte, error) {
            m, err := asMessage(v)
            if err != nil {
                return nil, err
            }
            return mo.Marshal(m)
        },
        unmarshal: func(data []byte, v any) error {
            m, err := asMessage(v)
            if err != nil {
                return err
            }
            return uo.Unmarshal(data, m)
        },
    }
}

func asMessage(v any) (proto.Message, error) {
    if m, ok := v.(proto.Message); ok {
        return m, nil
    }
    return nil, fmt.Errorf("%w: %T", ErrNotMessage, v)
}
