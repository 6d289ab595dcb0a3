// Package disconnect is the shared vocabulary for why a stream task or a
// connection stopped. Every stream task ends with exactly one Reason; the
// connection probe reports one once the handle is gone.
package disconnect

import (
    "errors"
    "fmt"
    "strconv"
)

// Kind tags a Reason.
type Kind uint8

const (
    KindNone Kind = iota
    KindUserClosed
    KindPeerClosed
    KindReset
    KindInvalidStream
    KindConnectionError
    KindResourceError
    KindChannelClosed
    KindInternalError
    // KindNoReason is reported when a task exited without recording a cause.
    // It indicates a bug in the task loop.
    KindNoReason
)

func (k Kind) String() string {
    switch k {
    case KindUserClosed:
        return "user_closed"
    case KindPeerClosed:
        return "peer_closed"
    case KindReset:
        return "reset"
    case KindInvalidStream:
        return "invalid_stream"
    case KindConnectionError:
        return "connection_error"
    case KindResourceError:
        return "resource_error"
    case KindChannelClosed:
        return "channel_closed"
    case KindInternalError:
        return "internal_error"
    case KindNoReason:
        return "no_reason"
    default:
        return "none"
    }
}

// Reason is the terminal cause of a stream task or connection.
// Code is set for KindReset, Channel for KindChannelClosed and Err for the
// error-carrying kinds.
type Reason struct {
    Kind    Kind
    Code    uint64
    Channel string
    Err     error
}

func UserClosed() Reason    { return Reason{Kind: KindUserClosed} }
func PeerClosed() Reason    { return Reason{Kind: KindPeerClosed} }
func InvalidStream() Reason { return Reason{Kind: KindInvalidStream} }
func NoReason() Reason      { return Reason{Kind: KindNoReason} }

func Reset(code uint64) Reason         { return Reason{Kind: KindReset, Code: code} }
func ConnectionError(err error) Reason { return Reason{Kind: KindConnectionError, Err: err} }
func ResourceError(err error) Reason   { return Reason{Kind: KindResourceError, Err: err} }
func ChannelClosed(name string) Reason { return Reason{Kind: KindChannelClosed, Channel: name} }
func InternalError(err error) Reason   { return Reason{Kind: KindInternalError, Err: err} }

// IsZero reports whether no reason has been recorded.
func (r Reason) IsZero() bool { return r.Kind == KindNone }

// Error implements error so a Reason can travel through error returns.
func (r Reason) Error() string {
    switch r.Kind {
    case KindUserClosed:
        return "closed by local user"
    case KindPeerClosed:
        return "closed by peer"
    case KindReset:
        return "stream reset with code " + strconv.FormatUint(r.Code, 10)
    case KindInvalidStream:
        return "stream is in an invalid state"
    case KindConnectionError:
        return fmt.Sprintf("connection error: %v", r.Err)
    case KindResourceError:
        if r.Err != nil {
            return fmt.Sprintf("resource exhausted: %v", r.Err)
        }
        return "resource exhausted"
    case KindChannelClosed:
        return fmt.Sprintf("channel %q closed", r.Channel)
    case KindInternalError:
        return fmt.Sprintf("internal error: %v", r.Err)
    case KindNoReason:
        return "closed without a recorded reason"
    default:
        return "open"
    }
}

func (r Reason) String() string { return r.Error() }

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (r Reason) Unwrap() error { return r.Err }

// Category groups reasons the way a session layer reports them to users.
type Category uint8

const (
    ByUser Category = iota + 1
    ByPeer
    ByError
)

func (c Category) String() string {
    switch c {
    case ByUser:
        return "by_user"
    case ByPeer:
        return "by_peer"
    default:
        return "by_error"
    }
}

// Category maps the reason onto ByUser, ByPeer or ByError.
func (r Reason) Category() Category {
    switch r.Kind {
    case KindUserClosed:
        return ByUser
    case KindPeerClosed, KindReset:
        return ByPeer
    default:
        return ByError
    }
}

// Is lets errors.Is match a Reason by kind, e.g. errors.Is(err, disconnect.PeerClosed()).
func (r Reason) Is(target error) bool {
    var t Reason
    if !errors.As(target, &t) {
        return false
    }
    if t.Kind != r.Kind {
        return false
    }
    if t.Kind == KindReset {
        return t.Code == r.Code
    }
    return true
}
