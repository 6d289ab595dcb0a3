package main

import (
    "time"

    "go.uber.org/zap"

    "quicbridge/pkg/arena"
    "quicbridge/pkg/codec"
    "quicbridge/pkg/config"
    "quicbridge/pkg/disconnect"
    "quicbridge/pkg/endpoint"
    "quicbridge/pkg/host"
    "quicbridge/pkg/ids"
)

// role is the application behaviour run after every tick. OnTick reports
// true once the process should stop; ExitCode is read afterwards.
type role interface {
    Start(h *host.Host)
    OnTick(h *host.Host, events []host.Event) bool
    ExitCode() int
}

func logEvents(events []host.Event) {
    for _, e := range events {
        fields := []zap.Field{zap.Stringer("event", e.Kind), zap.Stringer("conn", e.Conn), zap.Stringer("role", e.Role)}
        if e.Stream != 0 {
            fields = append(fields, zap.Stringer("stream", e.Stream))
        }
        switch e.Kind {
        case host.EventConnectionFailed, host.EventStreamFailed, host.EventServerClosed:
            zap.L().Warn("bridge event", append(fields, zap.Error(e.Err))...)
        case host.EventConnectionClosed, host.EventStreamClosed:
            zap.L().Info("bridge event", append(fields, zap.Stringer("reason", e.Reason), zap.Stringer("category", e.Reason.Category()))...)
        default:
            zap.L().Debug("bridge event", fields...)
        }
    }
}

// echoServer writes every message received on a server-side stream back on
// the same stream. Receive-only streams are drained and dropped.
type echoServer struct {
    echoed  uint64
    dropped uint64
}

func (s *echoServer) Start(*host.Host) {}

func (s *echoServer) OnTick(h *host.Host, events []host.Event) bool {
    logEvents(events)
    for _, k := range h.Streams() {
        st, ok := h.Stream(k)
        if !ok || st.Role != ids.RoleServer {
            continue
        }
        for p, ok := h.Recv(k); ok; p, ok = h.Recv(k) {
            if st.Send == nil {
                s.dropped++
                continue
            }
            if err := h.Send(k, p.Payload); err != nil {
                zap.L().Warn("echo failed", zap.Stringer("stream", k), zap.Error(err))
                break
            }
            s.echoed++
        }
    }
    return false
}

func (s *echoServer) ExitCode() int { return 0 }

// pingClient dials one server, opens one stream and sends pings at a fixed
// interval, logging each pong with its round-trip time.
type pingClient struct {
    cfg    config.ClientConfig
    codec  codec.Codec
    client *endpoint.Client

    conn     ids.ConnectionID
    key      arena.Key
    ready    bool
    sent     uint64
    pongs    int
    lastSent time.Time
    finished bool
    code     int
}

func newPingClient(cfg config.ClientConfig, c codec.Codec, client *endpoint.Client) *pingClient {
    return &pingClient{cfg: cfg, codec: c, client: client}
}

func (c *pingClient) Start(h *host.Host) {
    c.conn = h.Connect(c.client, c.cfg.Connect)
    zap.L().Info("connecting", zap.String("addr", c.cfg.Connect), zap.Stringer("conn", c.conn), zap.String("codec", c.codec.ContentType()))
}

func (c *pingClient) fail(msg string, fields ...zap.Field) {
    zap.L().Error(msg, fields...)
    c.finished = true
    c.code = 1
}

func (c *pingClient) OnTick(h *host.Host, events []host.Event) bool {
    logEvents(events)
    for _, e := range events {
        if e.Conn != c.conn {
            continue
        }
        switch e.Kind {
        case host.EventConnectionOpened:
            k, err := h.OpenStream(c.conn)
            if err != nil {
                c.fail("open stream", zap.Error(err))
                continue
            }
            c.key = k
        case host.EventStreamOpened:
            c.ready = e.Stream == c.key.Stream
        case host.EventConnectionFailed, host.EventStreamFailed:
            c.fail("ping client failed", zap.Stringer("event", e.Kind), zap.Error(e.Err))
        case host.EventConnectionClosed:
            if !c.finished {
                c.fail("connection closed", zap.Stringer("reason", e.Reason))
            }
        case host.EventStreamClosed:
            if e.Stream == c.key.Stream && !c.finished {
                c.fail("stream closed", zap.Stringer("reason", e.Reason))
            }
        }
    }
    if c.finished || !c.ready {
        return c.finished
    }

    for p, ok := h.Recv(c.key); ok; p, ok = h.Recv(c.key) {
        pong, err := codec.DecodePing(c.codec, p.Payload)
        if err != nil {
            zap.L().Warn("undecodable pong", zap.Int("bytes", p.Len()), zap.Error(err))
            continue
        }
        c.pongs++
        zap.L().Info("pong", zap.Uint64("seq", pong.Seq), zap.Duration("rtt", pong.RTT(p.RecvAt)))
    }
    if c.cfg.Messages > 0 && c.pongs >= c.cfg.Messages {
        c.finished = true
        _ = h.CloseConnection(c.conn, disconnect.StatusOK, "done")
        return true
    }

    now := time.Now()
    if c.cfg.Messages > 0 && c.sent >= uint64(c.cfg.Messages) {
        return false
    }
    if !c.lastSent.IsZero() && now.Sub(c.lastSent) < c.cfg.Interval() {
        return false
    }
    data, err := codec.EncodePing(c.codec, codec.NewPing(c.sent+1, "ping"))
    if err != nil {
        c.fail("encode ping", zap.Error(err))
        return true
    }
    if err := h.Send(c.key, data); err != nil {
        c.fail("send ping", zap.Error(err))
        return true
    }
    c.sent++
    c.lastSent = now
    return false
}

func (c *pingClient) ExitCode() int { return c.code }
