// Package arena owns connections and their streams by id. A stream refers to
// its connection only through its Key, never by pointer, so removing a
// connection is a single lookup that also yields every stream it owned.
package arena

import (
    "errors"
    "sort"
    "sync"

    "quicbridge/pkg/ids"
)

var (
    ErrExists       = errors.New("arena: entry already exists")
    ErrNoConnection = errors.New("arena: unknown connection")
)

// Key addresses one stream of one connection.
type Key struct {
    Conn   ids.ConnectionID
    Stream ids.StreamID
}

func (k Key) String() string { return k.Conn.String() + "/" + k.Stream.String() }

func (k Key) less(o Key) bool {
    if k.Conn != o.Conn {
        return k.Conn < o.Conn
    }
    return k.Stream < o.Stream
}

// Arena stores connection values C and stream values S.
type Arena[C, S any] struct {
    mu    sync.RWMutex
    conns map[ids.ConnectionID]*connEntry[C]
    strms map[Key]S
}

type connEntry[C any] struct {
    value   C
    streams map[ids.StreamID]struct{}
}

func New[C, S any]() *Arena[C, S] {
    return &Arena[C, S]{
        conns: make(map[ids.ConnectionID]*connEntry[C]),
        strms: make(map[Key]S),
    }
}

// AddConnection registers c under id.
func (a *Arena[C, S]) AddConnection(id ids.ConnectionID, c C) error {
    a.mu.Lock()
    defer a.mu.Unlock()
    if _, ok := a.conns[id]; ok {
        return ErrExists
    }
    a.conns[id] = &connEntry[C]{value: c, streams: make(map[ids.StreamID]struct{})}
    return nil
}

// Connection returns the value registered under id.
func (a *Arena[C, S]) Connection(id ids.ConnectionID) (C, bool) {
    a.mu.RLock()
    defer a.mu.RUnlock()
    if ce := a.conns[id]; ce != nil {
        return ce.value, true
    }
    var zero C
    return zero, false
}

// AddStream registers s under k. The connection must already be present.
func (a *Arena[C, S]) AddStream(k Key, s S) error {
    a.mu.Lock()
    defer a.mu.Unlock()
    ce := a.conns[k.Conn]
    if ce == nil {
        return ErrNoConnection
    }
    if _, ok := a.strms[k]; ok {
        return ErrExists
    }
    a.strms[k] = s
    ce.streams[k.Stream] = struct{}{}
    return nil
}

// Stream returns the value registered under k.
func (a *Arena[C, S]) Stream(k Key) (S, bool) {
    a.mu.RLock()
    defer a.mu.RUnlock()
    s, ok := a.strms[k]
    return s, ok
}

// RemoveStream drops the stream registered under k and returns it.
func (a *Arena[C, S]) RemoveStream(k Key) (S, bool) {
    a.mu.Lock()
    defer a.mu.Unlock()
    s, ok := a.strms[k]
    if !ok {
        return s, false
    }
    delete(a.strms, k)
    if ce := a.conns[k.Conn]; ce != nil {
        delete(ce.streams, k.Stream)
    }
    return s, true
}

// RemoveConnection drops the connection and all of its streams, returning
// them ordered by stream id.
func (a *Arena[C, S]) RemoveConnection(id ids.ConnectionID) (C, []S, bool) {
    a.mu.Lock()
    defer a.mu.Unlock()
    ce := a.conns[id]
    if ce == nil {
        var zero C
        return zero, nil, false
    }
    delete(a.conns, id)
    sids := make([]ids.StreamID, 0, len(ce.streams))
    for sid := range ce.streams {
        sids = append(sids, sid)
    }
    sort.Slice(sids, func(i, j int) bool { return sids[i] < sids[j] })
    out := make([]S, 0, len(sids))
    for _, sid := range sids {
        k := Key{Conn: id, Stream: sid}
        out = append(out, a.strms[k])
        delete(a.strms, k)
    }
    return ce.value, out, true
}

// Connections lists registered connection ids in ascending order.
func (a *Arena[C, S]) Connections() []ids.ConnectionID {
    a.mu.RLock()
    defer a.mu.RUnlock()
    out := make([]ids.ConnectionID, 0, len(a.conns))
    for id := range a.conns {
        out = append(out, id)
    }
    sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
    return out
}

// Streams lists stream keys in ascending order, restricted to the given
// connections when any are passed.
func (a *Arena[C, S]) Streams(conns ...ids.ConnectionID) []Key {
    a.mu.RLock()
    defer a.mu.RUnlock()
    var out []Key
    if len(conns) == 0 {
        out = make([]Key, 0, len(a.strms))
        for k := range a.strms {
            out = append(out, k)
        }
    } else {
        for _, id := range conns {
            if ce := a.conns[id]; ce != nil {
                for sid := range ce.streams {
                    out = append(out, Key{Conn: id, Stream: sid})
                }
            }
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
    return out
}

// Len returns the number of connections and streams.
func (a *Arena[C, S]) Len() (conns, streams int) {
    a.mu.RLock()
    defer a.mu.RUnlock()
    return len(a.conns), len(a.strms)
}
