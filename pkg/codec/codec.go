// Package codec encodes application payloads carried on bridge streams.
package codec

import (
    "errors"
    "fmt"
    "sort"
    "strings"
)

const (
    ContentCBOR  = "application/cbor"
    ContentJSON  = "application/json"
    ContentProto = "application/x-protobuf"
)

var ErrUnknownCodec = errors.New("codec: unknown codec")

// Codec marshals typed messages. Implementations are deterministic so the
// same value always yields the same bytes.
type Codec interface {
    ContentType() string
    Marshal(v any) ([]byte, error)
    Unmarshal(data []byte, v any) error
}

// Registry resolves codecs by content type or short name.
type Registry struct {
    byType  map[string]Codec
    aliases map[string]string
}

// NewRegistry returns a registry holding the CBOR, JSON and Protobuf codecs
// under the names cbor, json and proto.
func NewRegistry() (*Registry, error) {
    r := &Registry{byType: make(map[string]Codec), aliases: make(map[string]string)}
    c, err := CBOR()
    if err != nil {
        return nil, fmt.Errorf("cbor codec: %w", err)
    }
    r.Register("cbor", c)
    r.Register("json", JSON())
    r.Register("proto", Proto())
    return r, nil
}

// Register adds c under its content type and the given alias.
func (r *Registry) Register(alias string, c Codec) {
    r.byType[c.ContentType()] = c
    if alias != "" {
        r.aliases[strings.ToLower(alias)] = c.ContentType()
    }
}

// Get accepts either a content type or an alias, case-insensitively.
func (r *Registry) Get(name string) (Codec, error) {
    key := strings.ToLower(strings.TrimSpace(name))
    if ct, ok := r.aliases[key]; ok {
        key = ct
    }
    if c, ok := r.byType[key]; ok {
        return c, nil
    }
    return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// Names lists the registered aliases.
func (r *Registry) Names() []string {
    out := make([]string, 0, len(r.aliases))
    for a := range r.aliases {
        out = append(out, a)
    }
    sort.Strings(out)
    return out
}
