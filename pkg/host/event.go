package host

import (
    "quicbridge/pkg/disconnect"
    "quicbridge/pkg/ids"
)

// EventKind tags an Event.
type EventKind int

const (
    EventConnectionOpened EventKind = iota + 1
    EventConnectionFailed
    EventConnectionClosed
    EventStreamOpened
    EventStreamFailed
    EventStreamAccepted
    EventStreamClosed
    EventServerClosed
)

func (k EventKind) String() string {
    switch k {
    case EventConnectionOpened:
        return "connection_opened"
    case EventConnectionFailed:
        return "connection_failed"
    case EventConnectionClosed:
        return "connection_closed"
    case EventStreamOpened:
        return "stream_opened"
    case EventStreamFailed:
        return "stream_failed"
    case EventStreamAccepted:
        return "stream_accepted"
    case EventStreamClosed:
        return "stream_closed"
    case EventServerClosed:
        return "server_closed"
    default:
        return "unknown"
    }
}

// Event reports one lifecycle change observed during a tick.
type Event struct {
    Kind   EventKind
    Conn   ids.ConnectionID
    Stream ids.StreamID
    Role   ids.Role
    // Reason is set for the closed kinds.
    Reason disconnect.Reason
    // Err is set for the failed kinds and EventServerClosed.
    Err error
}
