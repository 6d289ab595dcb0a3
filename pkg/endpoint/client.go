// Package endpoint turns an engine into client and server endpoints the
// ticking caller can drive: connecting and accepting are Attempts, polled
// once per tick.
package endpoint

import (
    "context"

    "go.uber.org/zap"

    "quicbridge/pkg/attempt"
    "quicbridge/pkg/connection"
    "quicbridge/pkg/disconnect"
    "quicbridge/pkg/engine"
    "quicbridge/pkg/executor"
    "quicbridge/pkg/ids"
    "quicbridge/pkg/stream"
)

// Client dials connections.
type Client struct {
    ex   *executor.Executor
    eng  engine.Engine
    opts stream.Options
}

func NewClient(ex *executor.Executor, eng engine.Engine, opts stream.Options) *Client {
    return &Client{ex: ex, eng: eng, opts: opts}
}

// Connect starts dialling addr. The returned id is the one the connection
// will carry once the attempt resolves.
func (c *Client) Connect(addr string) (*attempt.Attempt[*connection.Connection], ids.ConnectionID) {
    id := ids.NextConnectionID()
    a := attempt.Spawn(c.ex, "connect", func(ctx context.Context) (*connection.Connection, error) {
        conn, err := c.eng.Dial(ctx, addr)
        if err != nil {
            return nil, err
        }
        zap.L().Debug("dialled", zap.Stringer("conn", id), zap.String("addr", addr), zap.Stringer("engine", c.eng.Kind()))
        return connection.New(c.ex, conn, id, ids.RoleClient, c.opts), nil
    })
    return a, id
}

// Abandon gives up on a pending connect or accept attempt; a connection
// that still comes up is closed.
func Abandon(a *attempt.Attempt[*connection.Connection]) {
    a.Abandon(func(c *connection.Connection) {
        _ = c.Close(disconnect.StatusServiceUnavailable, "abandoned")
    })
}
