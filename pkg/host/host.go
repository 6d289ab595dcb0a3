// Package host drives connections from a single goroutine. Each Tick polls
// servers and pending attempts, accepts peer streams, moves data between
// stream handles and session buffers, and reaps what has closed, reporting
// all of it as Events. Nothing in a tick blocks.
package host

import (
    "context"
    "errors"
    "fmt"
    "time"

    "go.uber.org/zap"

    "quicbridge/pkg/arena"
    "quicbridge/pkg/attempt"
    "quicbridge/pkg/connection"
    "quicbridge/pkg/disconnect"
    "quicbridge/pkg/endpoint"
    "quicbridge/pkg/executor"
    "quicbridge/pkg/ids"
    "quicbridge/pkg/observability"
    "quicbridge/pkg/session"
    "quicbridge/pkg/stream"
)

var (
    ErrUnknownConnection = errors.New("host: unknown connection")
    ErrUnknownStream     = errors.New("host: unknown stream")
    ErrNotSendable       = errors.New("host: stream has no send side")
)

// maxAcceptsPerTick bounds how many peer streams one connection may hand
// over in a single tick.
const maxAcceptsPerTick = 64

// Stream is a live stream as the host tracks it.
type Stream struct {
    Key     arena.Key
    Role    ids.Role
    Receive *stream.ReceiveHandle
    Send    *stream.SendHandle
    Buffers *session.Buffers

    closing        bool
    closeSent      bool
    closedReported bool
}

func (s *Stream) done() bool {
    recvDone := s.Receive == nil || !s.Receive.IsOpen()
    sendDone := s.Send == nil || !s.Send.IsOpen()
    return recvDone && sendDone
}

func (s *Stream) reason() disconnect.Reason {
    if s.Receive != nil {
        if r, ok := s.Receive.DisconnectReason(); ok {
            return r
        }
    }
    if s.Send != nil {
        if r, ok := s.Send.DisconnectReason(); ok {
            return r
        }
    }
    return disconnect.NoReason()
}

func (s *Stream) release() {
    if s.Receive != nil {
        s.Receive.Release()
    }
    if s.Send != nil {
        s.Send.Release()
    }
}

type pendingOpen struct {
    bidi *attempt.Attempt[connection.StreamPair]
    uni  *attempt.Attempt[*stream.SendHandle]
}

// Host is owned by one goroutine.
type Host struct {
    ex     *executor.Executor
    limits session.Limits

    arena    *arena.Arena[*connection.Connection, *Stream]
    servers  []*endpoint.Server
    connects map[ids.ConnectionID]*attempt.Attempt[*connection.Connection]
    opens    map[arena.Key]pendingOpen

    events []Event
}

func New(ex *executor.Executor, limits session.Limits) *Host {
    return &Host{
        ex:       ex,
        limits:   limits,
        arena:    arena.New[*connection.Connection, *Stream](),
        connects: make(map[ids.ConnectionID]*attempt.Attempt[*connection.Connection]),
        opens:    make(map[arena.Key]pendingOpen),
    }
}

// AddServer makes the host poll s for connections.
func (h *Host) AddServer(s *endpoint.Server) { h.servers = append(h.servers, s) }

// Connect starts dialling addr through c.
func (h *Host) Connect(c *endpoint.Client, addr string) ids.ConnectionID {
    a, id := c.Connect(addr)
    h.connects[id] = a
    return id
}

// OpenStream starts opening a bidirectional stream on conn.
func (h *Host) OpenStream(conn ids.ConnectionID) (arena.Key, error) {
    c, ok := h.arena.Connection(conn)
    if !ok {
        return arena.Key{}, ErrUnknownConnection
    }
    a, sid := c.OpenBidirectionalStream()
    k := arena.Key{Conn: conn, Stream: sid}
    h.opens[k] = pendingOpen{bidi: a}
    return k, nil
}

// OpenSendStream starts opening a unidirectional stream on conn.
func (h *Host) OpenSendStream(conn ids.ConnectionID) (arena.Key, error) {
    c, ok := h.arena.Connection(conn)
    if !ok {
        return arena.Key{}, ErrUnknownConnection
    }
    a, sid := c.OpenSendStream()
    k := arena.Key{Conn: conn, Stream: sid}
    h.opens[k] = pendingOpen{uni: a}
    return k, nil
}

// Send queues p on the stream's session buffer; it is handed to the send
// task during the next ticks.
func (h *Host) Send(k arena.Key, p []byte) error {
    s, ok := h.arena.Stream(k)
    if !ok {
        return ErrUnknownStream
    }
    if s.Send == nil {
        return ErrNotSendable
    }
    s.Buffers.QueueSend(p)
    return nil
}

// Recv takes the oldest packet buffered for the stream.
func (h *Host) Recv(k arena.Key) (stream.Packet, bool) {
    s, ok := h.arena.Stream(k)
    if !ok {
        return stream.Packet{}, false
    }
    return s.Buffers.PopRecv()
}

// Stream returns the tracked stream under k.
func (h *Host) Stream(k arena.Key) (*Stream, bool) { return h.arena.Stream(k) }

// Connection returns the tracked connection under id.
func (h *Host) Connection(id ids.ConnectionID) (*connection.Connection, bool) {
    return h.arena.Connection(id)
}

// Streams lists live stream keys, optionally restricted to connections.
func (h *Host) Streams(conns ...ids.ConnectionID) []arena.Key { return h.arena.Streams(conns...) }

// Connections lists live connection ids.
func (h *Host) Connections() []ids.ConnectionID { return h.arena.Connections() }

// CloseStream stops the receive side now and finishes the send side once
// everything queued through Send has been handed to the send task.
func (h *Host) CloseStream(k arena.Key) error {
    s, ok := h.arena.Stream(k)
    if !ok {
        return ErrUnknownStream
    }
    s.closing = true
    if s.Receive != nil {
        _ = s.Receive.StopSend(disconnect.StatusOK.Code())
    }
    h.finishSend(s)
    return nil
}

func (h *Host) finishSend(s *Stream) {
    if !s.closing || s.closeSent || s.Send == nil || s.Buffers.SendLen() > 0 {
        return
    }
    if err := s.Send.Close(); errors.Is(err, stream.ErrFull) {
        return
    }
    s.closeSent = true
}

// CloseConnection closes the connection; its streams are reaped on a later tick.
func (h *Host) CloseConnection(id ids.ConnectionID, code disconnect.StatusCode, msg string) error {
    c, ok := h.arena.Connection(id)
    if !ok {
        return ErrUnknownConnection
    }
    return c.Close(code, msg)
}

// Tick runs one non-blocking pass and returns the events it produced. The
// slice is reused by the next Tick.
func (h *Host) Tick() []Event {
    start := time.Now()
    h.events = h.events[:0]

    h.pollServers()
    h.resolveConnects()
    h.resolveOpens()
    h.acceptStreams()
    h.drainStreams()
    h.reap()

    observability.RecordTick(time.Since(start))
    return h.events
}

func (h *Host) emit(e Event) { h.events = append(h.events, e) }

func (h *Host) pollServers() {
    kept := h.servers[:0]
    for _, s := range h.servers {
        p, err := s.PollConnection()
        switch p.Kind {
        case endpoint.PollNewConnection:
            h.addConnection(p.Conn)
        case endpoint.PollServerClosed:
            h.emit(Event{Kind: EventServerClosed, Role: ids.RoleServer, Err: err})
            continue
        }
        kept = append(kept, s)
    }
    h.servers = kept
}

func (h *Host) addConnection(c *connection.Connection) {
    if err := h.arena.AddConnection(c.ID(), c); err != nil {
        zap.L().Error("connection id collision", zap.Stringer("conn", c.ID()), zap.Error(err))
        _ = c.Close(disconnect.StatusInternalServerError, "duplicate id")
        return
    }
    zap.L().Info("connection opened", zap.Stringer("conn", c.ID()), zap.Stringer("role", c.Role()), zap.Stringer("remote", c.RemoteAddr()))
    h.emit(Event{Kind: EventConnectionOpened, Conn: c.ID(), Role: c.Role()})
}

func (h *Host) resolveConnects() {
    for id, a := range h.connects {
        c, err := a.Poll()
        if attempt.IsInProgress(err) {
            continue
        }
        delete(h.connects, id)
        if err != nil {
            zap.L().Warn("connect failed", zap.Stringer("conn", id), zap.Error(err))
            observability.RecordConnectionEvent(ids.RoleClient.String(), "connect_failed")
            h.emit(Event{Kind: EventConnectionFailed, Conn: id, Role: ids.RoleClient, Err: err})
            continue
        }
        h.addConnection(c)
    }
}

func (h *Host) resolveOpens() {
    for k, p := range h.opens {
        var (
            s   *Stream
            err error
        )
        if p.bidi != nil {
            var pair connection.StreamPair
            if pair, err = p.bidi.Poll(); err == nil {
                s = &Stream{Key: k, Receive: pair.Receive, Send: pair.Send}
            }
        } else {
            var send *stream.SendHandle
            if send, err = p.uni.Poll(); err == nil {
                s = &Stream{Key: k, Send: send}
            }
        }
        if attempt.IsInProgress(err) {
            continue
        }
        delete(h.opens, k)
        if err != nil {
            zap.L().Warn("open stream failed", zap.Stringer("stream", k), zap.Error(err))
            h.emit(Event{Kind: EventStreamFailed, Conn: k.Conn, Stream: k.Stream, Err: err})
            continue
        }
        if h.addStream(s) {
            h.emit(Event{Kind: EventStreamOpened, Conn: k.Conn, Stream: k.Stream, Role: s.Role})
        }
    }
}

func (h *Host) addStream(s *Stream) bool {
    c, ok := h.arena.Connection(s.Key.Conn)
    if !ok {
        s.release()
        return false
    }
    s.Role = c.Role()
    s.Buffers = session.New(h.limits)
    if err := h.arena.AddStream(s.Key, s); err != nil {
        zap.L().Error("stream id collision", zap.Stringer("stream", s.Key), zap.Error(err))
        s.release()
        return false
    }
    return true
}

func (h *Host) acceptStreams() {
    for _, id := range h.arena.Connections() {
        c, _ := h.arena.Connection(id)
        for i := 0; i < maxAcceptsPerTick; i++ {
            acc, err := c.AcceptStreams()
            if err != nil {
                // ErrPollNone, or a dead connection that reap handles
                break
            }
            s := &Stream{Key: arena.Key{Conn: id, Stream: acc.ID}, Receive: acc.Receive, Send: acc.Send}
            if h.addStream(s) {
                h.emit(Event{Kind: EventStreamAccepted, Conn: id, Stream: acc.ID, Role: s.Role})
            }
        }
    }
}

func (h *Host) drainStreams() {
    for _, k := range h.arena.Streams() {
        s, _ := h.arena.Stream(k)
        fields := []zap.Field{zap.Stringer("stream", k)}
        if s.Receive != nil {
            s.Buffers.DrainRecv(s.Receive, fields...)
            s.Receive.LogOutstandingErrors()
        }
        if s.Send != nil {
            if _, err := s.Buffers.DrainSend(s.Send, fields...); err != nil && s.Buffers.SendLen() > 0 {
                lost := s.Buffers.DiscardSend()
                zap.L().Warn("send side closed with buffered data", append(fields, zap.Int("payloads", lost))...)
            }
            h.finishSend(s)
            s.Send.LogOutstandingErrors()
        }
    }
}

func (h *Host) reap() {
    for _, id := range h.arena.Connections() {
        c, _ := h.arena.Connection(id)
        r, closed := c.DisconnectReason()
        if !closed {
            continue
        }
        _, streams, _ := h.arena.RemoveConnection(id)
        for _, s := range streams {
            s.release()
            if !s.closedReported {
                h.emit(Event{Kind: EventStreamClosed, Conn: id, Stream: s.Key.Stream, Role: s.Role, Reason: r})
            }
        }
        h.emit(Event{Kind: EventConnectionClosed, Conn: id, Role: c.Role(), Reason: r})
    }

    for _, k := range h.arena.Streams() {
        s, _ := h.arena.Stream(k)
        if !s.done() {
            continue
        }
        if !s.closedReported {
            s.closedReported = true
            h.emit(Event{Kind: EventStreamClosed, Conn: k.Conn, Stream: k.Stream, Role: s.Role, Reason: s.reason()})
        }
        if s.Receive != nil {
            s.Buffers.DrainRecv(s.Receive)
        }
        if s.Buffers.RecvLen() == 0 {
            h.arena.RemoveStream(k)
            s.release()
        }
    }
}

// Shutdown closes every connection and server, abandons pending attempts and
// stops the executor.
func (h *Host) Shutdown(timeout time.Duration) error {
    for _, s := range h.servers {
        _ = s.Close()
    }
    h.servers = nil
    for id, a := range h.connects {
        endpoint.Abandon(a)
        delete(h.connects, id)
    }
    for k, p := range h.opens {
        if p.bidi != nil {
            p.bidi.Abandon(func(sp connection.StreamPair) {
                sp.Receive.Release()
                sp.Send.Release()
            })
        } else {
            p.uni.Abandon(func(s *stream.SendHandle) { s.Release() })
        }
        delete(h.opens, k)
    }
    for _, id := range h.arena.Connections() {
        c, streams, _ := h.arena.RemoveConnection(id)
        for _, s := range streams {
            if s.Send != nil {
                _, _ = s.Buffers.DrainSend(s.Send)
                _ = s.Send.Close()
            }
        }
        _ = c.Close(disconnect.StatusOK, "shutdown")
    }
    if err := h.ex.Close(timeout); err != nil {
        return fmt.Errorf("host shutdown: %w", err)
    }
    return nil
}

// Run ticks every interval until ctx is done. onTick, when set, runs after
// each tick on the ticking goroutine and may use the host freely.
func (h *Host) Run(ctx context.Context, interval time.Duration, onTick func(*Host, []Event)) error {
    t := time.NewTicker(interval)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-t.C:
            events := h.Tick()
            if onTick != nil {
                onTick(h, events)
            }
        }
    }
}
