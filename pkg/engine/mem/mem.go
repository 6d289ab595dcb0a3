// Package mem is an in-process engine. Streams are message-preserving pipes
// and every failure surfaces as the quic-go error type the real engine would
// produce, so tests can inject faults and observe the same classification.
package mem

import (
    "context"
    "errors"
    "fmt"
    "net"
    "sync"

    quicgo "github.com/quic-go/quic-go"

    "quicbridge/pkg/engine"
)

// ErrNoListener is returned by Dial for an unknown listener name.
var ErrNoListener = errors.New("mem: no such listener")

// Engine keeps a registry of named in-process listeners.
type Engine struct {
    mu        sync.Mutex
    listeners map[string]*Listener
}

func New() *Engine { return &Engine{listeners: make(map[string]*Listener)} }

func (e *Engine) Kind() engine.Kind { return engine.KindMem }

func (e *Engine) Listen(name string) (engine.Listener, error) {
    e.mu.Lock()
    defer e.mu.Unlock()
    if _, ok := e.listeners[name]; ok { return nil, fmt.Errorf("mem: listener %q already exists", name) }
    l := &Listener{name: name, newCh: make(chan *Conn, 16), closeCh: make(chan struct{}), owner: e}
    e.listeners[name] = l
    return l, nil
}

func (e *Engine) Dial(ctx context.Context, name string) (engine.Conn, error) {
    e.mu.Lock()
    l := e.listeners[name]
    e.mu.Unlock()
    if l == nil { return nil, fmt.Errorf("%w: %s", ErrNoListener, name) }
    cli, srv := Pair(memAddr("dial:"+name), memAddr(name))
    select {
    case l.newCh <- srv:
        return cli, nil
    case <-l.closeCh:
        return nil, engine.ErrListenerClosed
    case <-ctx.Done():
        return nil, ctx.Err()
    }
}

// Listener accepts connections dialled by name.
type Listener struct {
    name    string
    newCh   chan *Conn
    closeCh chan struct{}
    once    sync.Once
    owner   *Engine
}

func (l *Listener) Addr() net.Addr { return memAddr(l.name) }

func (l *Listener) Accept(ctx context.Context) (engine.Conn, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, engine.ErrListenerClosed
    case c := <-l.newCh:
        return c, nil
    }
}

func (l *Listener) Close() error {
    l.once.Do(func() {
        close(l.closeCh)
        l.owner.mu.Lock()
        delete(l.owner.listeners, l.name)
        l.owner.mu.Unlock()
    })
    return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

// link is the state shared by both ends of a connection.
type link struct {
    mu     sync.Mutex
    pipes  []*pipe
    closed bool
}

// Conn is one end of an in-process connection.
type Conn struct {
    link  *link
    peer  *Conn
    local net.Addr
    remote net.Addr

    incoming chan engine.PeerStream

    mu        sync.Mutex
    cause     error
    openErr   []error
    openGate  <-chan struct{}
}

// Pair returns two connected ends.
func Pair(a, b net.Addr) (*Conn, *Conn) {
    ln := &link{}
    ca := &Conn{link: ln, local: a, remote: b, incoming: make(chan engine.PeerStream, 64)}
    cb := &Conn{link: ln, local: b, remote: a, incoming: make(chan engine.PeerStream, 64)}
    ca.peer, cb.peer = cb, ca
    return ca, cb
}

func (c *Conn) LocalAddr() net.Addr  { return c.local }
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

// InjectOpenError makes the next OpenStream/OpenSendStream fail with err.
func (c *Conn) InjectOpenError(err error) {
    c.mu.Lock()
    c.openErr = append(c.openErr, err)
    c.mu.Unlock()
}

// HoldOpens blocks stream opening until gate is closed or the open's context ends.
func (c *Conn) HoldOpens(gate <-chan struct{}) {
    c.mu.Lock()
    c.openGate = gate
    c.mu.Unlock()
}

func (c *Conn) beforeOpen(ctx context.Context) error {
    c.mu.Lock()
    gate := c.openGate
    err := pop(&c.openErr)
    c.mu.Unlock()
    if gate != nil {
        select {
        case <-gate:
        case <-ctx.Done():
            return ctx.Err()
        }
    }
    if err != nil { return err }
    return c.Ping()
}

func (c *Conn) OpenStream(ctx context.Context) (engine.Stream, error) {
    if err := c.beforeOpen(ctx); err != nil { return nil, err }
    out, in := newPipe(), newPipe()
    if err := c.track(out, in); err != nil { return nil, err }
    local := &Stream{send: out, recv: in}
    remote := &Stream{send: in, recv: out}
    if err := c.peer.deliver(engine.PeerStream{Send: remote, Receive: remote}); err != nil { return nil, err }
    return local, nil
}

func (c *Conn) OpenSendStream(ctx context.Context) (engine.SendStream, error) {
    if err := c.beforeOpen(ctx); err != nil { return nil, err }
    out := newPipe()
    if err := c.track(out); err != nil { return nil, err }
    if err := c.peer.deliver(engine.PeerStream{Receive: &Stream{recv: out}}); err != nil { return nil, err }
    return &Stream{send: out}, nil
}

func (c *Conn) track(ps ...*pipe) error {
    c.link.mu.Lock()
    defer c.link.mu.Unlock()
    if c.link.closed { return c.Ping() }
    c.link.pipes = append(c.link.pipes, ps...)
    return nil
}

func (c *Conn) deliver(ps engine.PeerStream) error {
    select {
    case c.incoming <- ps:
        return nil
    default:
        return &quicgo.TransportError{ErrorCode: quicgo.StreamLimitError, ErrorMessage: "mem: accept backlog full"}
    }
}

func (c *Conn) TryAcceptStream() (engine.PeerStream, error) {
    select {
    case ps := <-c.incoming:
        return ps, nil
    default:
    }
    if err := c.Ping(); err != nil { return engine.PeerStream{}, err }
    return engine.PeerStream{}, engine.ErrNoStream
}

func (c *Conn) Ping() error {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.cause
}

// CloseWithError closes both ends. The local end observes a local
// ApplicationError, the peer a remote one.
func (c *Conn) CloseWithError(code uint64, msg string) error {
    local := &quicgo.ApplicationError{ErrorCode: quicgo.ApplicationErrorCode(code), ErrorMessage: msg}
    remote := &quicgo.ApplicationError{Remote: true, ErrorCode: quicgo.ApplicationErrorCode(code), ErrorMessage: msg}
    c.fail(local, remote)
    return nil
}

// Fail simulates a connection-level fault such as an idle timeout, seen by both ends.
func (c *Conn) Fail(err error) { c.fail(err, err) }

func (c *Conn) fail(local, remote error) {
    c.link.mu.Lock()
    if c.link.closed {
        c.link.mu.Unlock()
        return
    }
    c.link.closed = true
    pipes := c.link.pipes
    c.link.pipes = nil
    c.link.mu.Unlock()

    c.setCause(local)
    c.peer.setCause(remote)
    // Pipe ownership is not tracked per end; both directions see the local cause.
    for _, p := range pipes {
        p.fail(local, local)
    }
}

func (c *Conn) setCause(err error) {
    c.mu.Lock()
    if c.cause == nil { c.cause = err }
    c.mu.Unlock()
}
