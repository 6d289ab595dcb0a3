// Package engine is the seam between quicbridge and the protocol library that
// actually moves bytes. The quic subpackage adapts quic-go; the mem subpackage
// is an in-process engine with fault injection used by tests.
//
// Every method may block; callers run them on executor goroutines, never on the
// ticking goroutine. Errors surface as quic-go error types so a single
// classifier serves both engines.
package engine

import (
    "context"
    "errors"
    "fmt"
    "net"

    "code.hybscloud.com/iox"
)

// Kind identifies an engine implementation.
type Kind int

const (
    KindUnknown Kind = iota
    KindQUIC
    KindMem
)

func (k Kind) String() string {
    switch k {
    case KindQUIC:
        return "quic"
    case KindMem:
        return "mem"
    default:
        return "unknown"
    }
}

// ErrNoStream is returned by TryAcceptStream when no peer stream is pending.
var ErrNoStream = fmt.Errorf("engine: no pending stream: %w", iox.ErrWouldBlock)

// ErrListenerClosed is returned by Accept after the listener was closed.
var ErrListenerClosed = errors.New("engine: listener closed")

// SendStream is the sending half of a protocol stream.
type SendStream interface {
    Write(p []byte) (int, error)
    // Close finishes the send side gracefully.
    Close() error
    // Flush pushes buffered data towards the peer without finishing.
    Flush() error
    // Reset abandons the send side with an application error code.
    Reset(code uint64)
}

// ReceiveStream is the receiving half of a protocol stream.
type ReceiveStream interface {
    Read(p []byte) (int, error)
    // StopSending asks the peer to stop sending and unblocks a pending Read.
    StopSending(code uint64) error
}

// Stream is a bidirectional protocol stream.
type Stream interface {
    SendStream
    ReceiveStream
}

// PeerStream is a stream opened by the remote side. Send is nil for
// unidirectional streams.
type PeerStream struct {
    Send    SendStream
    Receive ReceiveStream
}

// Bidirectional reports whether the peer stream has a send half.
func (p PeerStream) Bidirectional() bool { return p.Send != nil }

// Conn is one established protocol connection.
type Conn interface {
    OpenStream(ctx context.Context) (Stream, error)
    OpenSendStream(ctx context.Context) (SendStream, error)
    // TryAcceptStream returns the next peer-initiated stream or an error
    // wrapping ErrNoStream. A closed connection reports its close cause.
    TryAcceptStream() (PeerStream, error)
    // Ping returns the close cause once the connection is gone, nil while alive.
    Ping() error
    CloseWithError(code uint64, msg string) error
    LocalAddr() net.Addr
    RemoteAddr() net.Addr
}

// Listener accepts inbound connections.
type Listener interface {
    Accept(ctx context.Context) (Conn, error)
    Addr() net.Addr
    Close() error
}

// Engine dials and listens.
type Engine interface {
    Kind() Kind
    Listen(address string) (Listener, error)
    Dial(ctx context.Context, address string) (Conn, error)
}
