package endpoint

import (
    "context"
    "errors"
    "net"

    "go.uber.org/zap"

    "quicbridge/pkg/attempt"
    "quicbridge/pkg/connection"
    "quicbridge/pkg/engine"
    "quicbridge/pkg/executor"
    "quicbridge/pkg/ids"
    "quicbridge/pkg/stream"
)

// PollKind is the outcome of one PollConnection call.
type PollKind int

const (
    PollNone PollKind = iota
    PollServerClosed
    PollNewConnection
)

func (k PollKind) String() string {
    switch k {
    case PollServerClosed:
        return "server_closed"
    case PollNewConnection:
        return "new_connection"
    default:
        return "none"
    }
}

// ConnectionPoll carries a new connection when Kind is PollNewConnection.
type ConnectionPoll struct {
    Kind PollKind
    ID   ids.ConnectionID
    Conn *connection.Connection
}

// Server accepts connections on one listener. It keeps at most one accept
// attempt in flight.
type Server struct {
    ex   *executor.Executor
    l    engine.Listener
    opts stream.Options

    pending   *attempt.Attempt[*connection.Connection]
    pendingID ids.ConnectionID
    closed    bool
}

// Listen binds addr on eng.
func Listen(ex *executor.Executor, eng engine.Engine, addr string, opts stream.Options) (*Server, error) {
    l, err := eng.Listen(addr)
    if err != nil {
        return nil, err
    }
    zap.L().Info("listening", zap.Stringer("addr", l.Addr()), zap.Stringer("engine", eng.Kind()))
    return &Server{ex: ex, l: l, opts: opts}, nil
}

func (s *Server) Addr() net.Addr { return s.l.Addr() }

// PollConnection never blocks. The error is set only with PollServerClosed
// when the listener failed rather than being closed through Close.
func (s *Server) PollConnection() (ConnectionPoll, error) {
    if s.closed {
        return ConnectionPoll{Kind: PollServerClosed}, nil
    }
    if s.pending == nil {
        s.pendingID = ids.NextConnectionID()
        id := s.pendingID
        s.pending = attempt.Spawn(s.ex, "accept", func(ctx context.Context) (*connection.Connection, error) {
            c, err := s.l.Accept(ctx)
            if err != nil {
                return nil, err
            }
            return connection.New(s.ex, c, id, ids.RoleServer, s.opts), nil
        })
    }

    conn, err := s.pending.Poll()
    if attempt.IsInProgress(err) {
        return ConnectionPoll{Kind: PollNone}, nil
    }
    id := s.pendingID
    s.pending = nil
    if err != nil {
        s.closed = true
        _ = s.l.Close()
        if errors.Is(err, engine.ErrListenerClosed) {
            return ConnectionPoll{Kind: PollServerClosed}, nil
        }
        zap.L().Warn("accept failed, server closed", zap.Stringer("addr", s.l.Addr()), zap.Error(err))
        return ConnectionPoll{Kind: PollServerClosed}, err
    }
    return ConnectionPoll{Kind: PollNewConnection, ID: id, Conn: conn}, nil
}

// Close stops accepting. A connection accepted concurrently is closed.
func (s *Server) Close() error {
    if s.closed {
        return nil
    }
    s.closed = true
    err := s.l.Close()
    if s.pending != nil {
        Abandon(s.pending)
        s.pending = nil
    }
    return err
}
