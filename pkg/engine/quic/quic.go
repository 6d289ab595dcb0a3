// Package quic adapts quic-go to the engine seam.
package quic

import (
    "context"
    "crypto/tls"
    "errors"
    "io"
    "net"
    "sync"
    "sync/atomic"
    "time"

    quicgo "github.com/quic-go/quic-go"

    "quicbridge/pkg/disconnect"
    "quicbridge/pkg/engine"
)

// Options tune the quic-go configuration shared by listeners and dialers.
type Options struct {
    KeepAlive          time.Duration
    MaxIdleTimeout     time.Duration
    HandshakeTimeout   time.Duration
    MaxIncomingStreams int64
    // AcceptBacklog bounds peer streams accepted by quic-go but not yet
    // taken by TryAcceptStream.
    AcceptBacklog int
}

// Engine dials and listens with quic-go.
type Engine struct {
    serverTLS *tls.Config
    clientTLS *tls.Config
    conf      *quicgo.Config
    backlog   int
}

// New builds an engine. serverTLS may be nil for dial-only use and clientTLS
// may be nil for listen-only use. Both must carry the ALPN in NextProtos.
func New(serverTLS, clientTLS *tls.Config, opts Options) *Engine {
    conf := &quicgo.Config{
        KeepAlivePeriod:      opts.KeepAlive,
        MaxIdleTimeout:       opts.MaxIdleTimeout,
        HandshakeIdleTimeout: opts.HandshakeTimeout,
    }
    if opts.MaxIncomingStreams > 0 {
        conf.MaxIncomingStreams = opts.MaxIncomingStreams
        conf.MaxIncomingUniStreams = opts.MaxIncomingStreams
    }
    backlog := opts.AcceptBacklog
    if backlog <= 0 { backlog = 64 }
    return &Engine{serverTLS: serverTLS, clientTLS: clientTLS, conf: conf, backlog: backlog}
}

func (e *Engine) Kind() engine.Kind { return engine.KindQUIC }

func (e *Engine) Listen(address string) (engine.Listener, error) {
    if e.serverTLS == nil { return nil, errors.New("quic: no server TLS config") }
    l, err := quicgo.ListenAddr(address, e.serverTLS, e.conf)
    if err != nil { return nil, err }
    return &listener{l: l, backlog: e.backlog}, nil
}

func (e *Engine) Dial(ctx context.Context, address string) (engine.Conn, error) {
    if e.clientTLS == nil { return nil, errors.New("quic: no client TLS config") }
    c, err := quicgo.DialAddr(ctx, address, e.clientTLS, e.conf)
    if err != nil { return nil, err }
    return wrapConn(c, e.backlog), nil
}

// ---- Listener ----

type listener struct {
    l       *quicgo.Listener
    backlog int
    closed  atomic.Bool
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (engine.Conn, error) {
    c, err := l.l.Accept(ctx)
    if err != nil {
        if l.closed.Load() { return nil, engine.ErrListenerClosed }
        return nil, err
    }
    return wrapConn(c, l.backlog), nil
}

func (l *listener) Close() error {
    l.closed.Store(true)
    return l.l.Close()
}

// ---- Conn ----

type conn struct {
    c        *quicgo.Conn
    incoming chan engine.PeerStream
}

func wrapConn(c *quicgo.Conn, backlog int) *conn {
    qc := &conn{c: c, incoming: make(chan engine.PeerStream, backlog)}
    go qc.acceptBidi()
    go qc.acceptUni()
    return qc
}

func (c *conn) acceptBidi() {
    ctx := c.c.Context()
    for {
        s, err := c.c.AcceptStream(ctx)
        if err != nil { return }
        st := newStream(s)
        if !c.push(engine.PeerStream{Send: st, Receive: st}) { return }
    }
}

func (c *conn) acceptUni() {
    ctx := c.c.Context()
    for {
        s, err := c.c.AcceptUniStream(ctx)
        if err != nil { return }
        if !c.push(engine.PeerStream{Receive: &recvStream{r: s}}) { return }
    }
}

func (c *conn) push(ps engine.PeerStream) bool {
    select {
    case c.incoming <- ps:
        return true
    case <-c.c.Context().Done():
        return false
    }
}

func (c *conn) OpenStream(ctx context.Context) (engine.Stream, error) {
    s, err := c.c.OpenStreamSync(ctx)
    if err != nil { return nil, err }
    return newStream(s), nil
}

func (c *conn) OpenSendStream(ctx context.Context) (engine.SendStream, error) {
    s, err := c.c.OpenUniStreamSync(ctx)
    if err != nil { return nil, err }
    return &sendStream{w: s}, nil
}

func (c *conn) TryAcceptStream() (engine.PeerStream, error) {
    select {
    case ps := <-c.incoming:
        return ps, nil
    default:
    }
    if err := c.Ping(); err != nil { return engine.PeerStream{}, err }
    return engine.PeerStream{}, engine.ErrNoStream
}

func (c *conn) Ping() error {
    ctx := c.c.Context()
    if ctx.Err() == nil { return nil }
    if cause := context.Cause(ctx); cause != nil { return cause }
    return ctx.Err()
}

func (c *conn) CloseWithError(code uint64, msg string) error {
    return c.c.CloseWithError(quicgo.ApplicationErrorCode(code), msg)
}

func (c *conn) LocalAddr() net.Addr  { return c.c.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr { return c.c.RemoteAddr() }

// ---- Streams ----

type quicSend interface {
    io.Writer
    Close() error
    CancelWrite(quicgo.StreamErrorCode)
}

type quicRecv interface {
    io.Reader
    CancelRead(quicgo.StreamErrorCode)
}

// sendStream reports writes after Close as disconnect.ErrSendAfterFinish;
// quic-go only returns an untyped error there.
type sendStream struct {
    mu       sync.Mutex
    w        quicSend
    finished bool
}

func (s *sendStream) Write(p []byte) (int, error) {
    s.mu.Lock()
    finished := s.finished
    s.mu.Unlock()
    if finished { return 0, disconnect.ErrSendAfterFinish }
    return s.w.Write(p)
}

func (s *sendStream) Close() error {
    s.mu.Lock()
    s.finished = true
    s.mu.Unlock()
    return s.w.Close()
}

// Flush is a no-op: quic-go hands written data to its send queue immediately.
func (s *sendStream) Flush() error { return nil }

func (s *sendStream) Reset(code uint64) { s.w.CancelWrite(quicgo.StreamErrorCode(code)) }

type recvStream struct{ r quicRecv }

func (s *recvStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *recvStream) StopSending(code uint64) error {
    s.r.CancelRead(quicgo.StreamErrorCode(code))
    return nil
}

type stream struct {
    *sendStream
    *recvStream
}

func newStream(s *quicgo.Stream) *stream {
    return &stream{sendStream: &sendStream{w: s}, recvStream: &recvStream{r: s}}
}
