// Package connection owns one protocol connection on behalf of the ticking
// caller. The engine handle sits behind a weight-1 semaphore: background
// tasks Acquire it with their context, the caller only ever TryAcquires, so
// no caller-side method blocks.
package connection

import (
    "context"
    "errors"
    "fmt"
    "net"

    "code.hybscloud.com/iox"
    "go.uber.org/zap"
    "golang.org/x/sync/semaphore"

    "quicbridge/pkg/attempt"
    "quicbridge/pkg/disconnect"
    "quicbridge/pkg/engine"
    "quicbridge/pkg/executor"
    "quicbridge/pkg/ids"
    "quicbridge/pkg/observability"
    "quicbridge/pkg/stream"
)

var (
    // ErrPollNone means nothing is available yet, including when another
    // operation holds the connection. It wraps iox.ErrWouldBlock.
    ErrPollNone = fmt.Errorf("connection: nothing to accept: %w", iox.ErrWouldBlock)
    // ErrClosed is returned by operations on a connection that was closed locally.
    ErrClosed = errors.New("connection: closed")
)

// State is the connection lifecycle. There is no transition back to Open.
type State int

const (
    StateOpen State = iota
    StateClosed
    StateErrored
)

func (s State) String() string {
    switch s {
    case StateOpen:
        return "open"
    case StateClosed:
        return "closed"
    default:
        return "errored"
    }
}

// StreamPair is the value of a resolved bidirectional open.
type StreamPair struct {
    ID      ids.StreamID
    Receive *stream.ReceiveHandle
    Send    *stream.SendHandle
}

// Accepted is a stream opened by the peer. Send is nil for unidirectional streams.
type Accepted struct {
    ID      ids.StreamID
    Receive *stream.ReceiveHandle
    Send    *stream.SendHandle
}

// Connection is owned by one caller goroutine.
type Connection struct {
    id   ids.ConnectionID
    role ids.Role
    ex   *executor.Executor
    opts stream.Options

    lock *semaphore.Weighted
    conn engine.Conn

    streams ids.StreamIDs
    reason  disconnect.Reason
}

// New takes ownership of c.
func New(ex *executor.Executor, c engine.Conn, id ids.ConnectionID, role ids.Role, opts stream.Options) *Connection {
    observability.RecordConnectionEvent(role.String(), "opened")
    return &Connection{
        id:   id,
        role: role,
        ex:   ex,
        opts: opts,
        lock: semaphore.NewWeighted(1),
        conn: c,
    }
}

func (c *Connection) ID() ids.ConnectionID  { return c.id }
func (c *Connection) Role() ids.Role        { return c.role }
func (c *Connection) LocalAddr() net.Addr   { return c.conn.LocalAddr() }
func (c *Connection) RemoteAddr() net.Addr  { return c.conn.RemoteAddr() }

func (c *Connection) meta(id ids.StreamID) stream.Meta {
    return stream.Meta{Conn: c.id, Stream: id, Role: c.role}
}

// OpenBidirectionalStream starts opening a stream and returns the attempt
// together with the id the stream will carry.
func (c *Connection) OpenBidirectionalStream() (*attempt.Attempt[StreamPair], ids.StreamID) {
    id := c.streams.Next()
    if !c.reason.IsZero() {
        return attempt.Ready(StreamPair{}, fmt.Errorf("%w: %v", ErrClosed, c.reason)), id
    }
    a := attempt.Spawn(c.ex, "open-stream", func(ctx context.Context) (StreamPair, error) {
        if err := c.lock.Acquire(ctx, 1); err != nil {
            return StreamPair{}, err
        }
        defer c.lock.Release(1)
        s, err := c.conn.OpenStream(ctx)
        if err != nil {
            return StreamPair{}, err
        }
        m := c.meta(id)
        return StreamPair{
            ID:      id,
            Receive: stream.StartReceive(c.ex, s, m, c.opts),
            Send:    stream.StartSend(c.ex, s, m, c.opts),
        }, nil
    })
    return a, id
}

// OpenSendStream starts opening a unidirectional stream towards the peer.
func (c *Connection) OpenSendStream() (*attempt.Attempt[*stream.SendHandle], ids.StreamID) {
    id := c.streams.Next()
    if !c.reason.IsZero() {
        return attempt.Ready[*stream.SendHandle](nil, fmt.Errorf("%w: %v", ErrClosed, c.reason)), id
    }
    a := attempt.Spawn(c.ex, "open-send-stream", func(ctx context.Context) (*stream.SendHandle, error) {
        if err := c.lock.Acquire(ctx, 1); err != nil {
            return nil, err
        }
        defer c.lock.Release(1)
        s, err := c.conn.OpenSendStream(ctx)
        if err != nil {
            return nil, err
        }
        return stream.StartSend(c.ex, s, c.meta(id), c.opts), nil
    })
    return a, id
}

// AcceptStreams takes at most one pending peer stream. ErrPollNone means
// try again next tick; any other error means the connection is gone.
func (c *Connection) AcceptStreams() (Accepted, error) {
    if !c.reason.IsZero() {
        return Accepted{}, c.reason
    }
    if !c.lock.TryAcquire(1) {
        return Accepted{}, ErrPollNone
    }
    ps, err := c.conn.TryAcceptStream()
    c.lock.Release(1)
    if err != nil {
        if errors.Is(err, engine.ErrNoStream) {
            return Accepted{}, ErrPollNone
        }
        c.record(disconnect.ClassifyConnection(err))
        return Accepted{}, c.reason
    }

    id := c.streams.Next()
    m := c.meta(id)
    acc := Accepted{ID: id, Receive: stream.StartReceive(c.ex, ps.Receive, m, c.opts)}
    if ps.Send != nil {
        acc.Send = stream.StartSend(c.ex, ps.Send, m, c.opts)
    }
    return acc, nil
}

// IsOpen probes the connection without blocking.
func (c *Connection) IsOpen() bool {
    _, closed := c.DisconnectReason()
    return !closed
}

// DisconnectReason reports why the connection ended. A busy handle counts as
// alive for this tick.
func (c *Connection) DisconnectReason() (disconnect.Reason, bool) {
    if !c.reason.IsZero() {
        return c.reason, true
    }
    if !c.lock.TryAcquire(1) {
        return disconnect.Reason{}, false
    }
    err := c.conn.Ping()
    c.lock.Release(1)
    if err == nil {
        return disconnect.Reason{}, false
    }
    c.record(disconnect.ClassifyConnection(err))
    return c.reason, true
}

// State derives the lifecycle state from the recorded reason.
func (c *Connection) State() State {
    r, closed := c.DisconnectReason()
    switch {
    case !closed:
        return StateOpen
    case r.Kind == disconnect.KindUserClosed || r.Kind == disconnect.KindPeerClosed:
        return StateClosed
    default:
        return StateErrored
    }
}

// Close closes the connection with an application status. Closing does not
// wait for the handle lock so it can unblock pending opens.
func (c *Connection) Close(code disconnect.StatusCode, msg string) error {
    if !c.reason.IsZero() {
        return ErrClosed
    }
    c.record(disconnect.UserClosed())
    conn := c.conn
    started := c.ex.Go("close-connection", func(context.Context) {
        if err := conn.CloseWithError(code.Code(), msg); err != nil {
            zap.L().Debug("close connection", zap.Stringer("conn", c.id), zap.Error(err))
        }
    })
    if !started {
        return conn.CloseWithError(code.Code(), msg)
    }
    return nil
}

func (c *Connection) record(r disconnect.Reason) {
    if !c.reason.IsZero() {
        return
    }
    c.reason = r
    observability.RecordConnectionEvent(c.role.String(), r.Kind.String())
    zap.L().Info("connection ended",
        zap.Stringer("conn", c.id),
        zap.Stringer("role", c.role),
        zap.Stringer("reason", r),
        zap.Stringer("category", r.Category()))
}
