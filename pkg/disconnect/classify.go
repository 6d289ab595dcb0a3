package disconnect

import (
    "context"
    "errors"
    "io"

    quicgo "github.com/quic-go/quic-go"
)

var (
    // ErrInvalidStream reports an operation on a stream the transport no longer knows.
    ErrInvalidStream = errors.New("disconnect: invalid stream")
    // ErrSendAfterFinish reports a write after the send side was finished.
    ErrSendAfterFinish = errors.New("disconnect: send after finish")
)

// Classify decides whether a stream I/O error ends the task. When fatal is
// true the returned Reason is the task's terminal cause; otherwise the error
// is transient and belongs on the task's error channel. Capacity errors such as
// ENOBUFS are transient: the task keeps running and retries.
func Classify(err error) (r Reason, fatal bool) {
    if err == nil {
        return Reason{}, false
    }
    if errors.Is(err, io.EOF) {
        return PeerClosed(), true
    }
    if errors.Is(err, ErrInvalidStream) || errors.Is(err, ErrSendAfterFinish) {
        return InvalidStream(), true
    }
    var se *quicgo.StreamError
    if errors.As(err, &se) {
        return Reset(uint64(se.ErrorCode)), true
    }
    if isConnectionError(err) {
        return ConnectionError(err), true
    }
    return Reason{}, false
}

// ClassifyConnection maps the cause reported by a closed connection onto a Reason.
// A nil cause yields the zero Reason.
func ClassifyConnection(err error) Reason {
    if err == nil {
        return Reason{}
    }
    var ae *quicgo.ApplicationError
    if errors.As(err, &ae) {
        if ae.Remote {
            return PeerClosed()
        }
        return UserClosed()
    }
    if errors.Is(err, context.Canceled) {
        return UserClosed()
    }
    return ConnectionError(err)
}

func isConnectionError(err error) bool {
    var (
        ae  *quicgo.ApplicationError
        te  *quicgo.TransportError
        ie  *quicgo.IdleTimeoutError
        he  *quicgo.HandshakeTimeoutError
        sr  *quicgo.StatelessResetError
        vne *quicgo.VersionNegotiationError
    )
    return errors.As(err, &ae) || errors.As(err, &te) || errors.As(err, &ie) ||
        errors.As(err, &he) || errors.As(err, &sr) || errors.As(err, &vne)
}
