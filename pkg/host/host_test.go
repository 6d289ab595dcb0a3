package host

import (
    "context"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "quicbridge/pkg/arena"
    "quicbridge/pkg/disconnect"
    "quicbridge/pkg/endpoint"
    "quicbridge/pkg/engine"
    "quicbridge/pkg/engine/mem"
    "quicbridge/pkg/engine/quic"
    "quicbridge/pkg/executor"
    "quicbridge/pkg/ids"
    "quicbridge/pkg/session"
    "quicbridge/pkg/stream"
)

// maxTicks bounds every wait in these tests.
const maxTicks = 2000

type harness struct {
    t      *testing.T
    h      *Host
    client *endpoint.Client
    server *endpoint.Server
    seen   []Event
}

func newHarness(t *testing.T, eng engine.Engine, addr string) *harness {
    t.Helper()
    ex := executor.New(context.Background())
    h := New(ex, session.DefaultLimits())
    t.Cleanup(func() { _ = h.Shutdown(2 * time.Second) })

    srv, err := endpoint.Listen(ex, eng, addr, stream.Options{})
    require.NoError(t, err)
    h.AddServer(srv)
    return &harness{t: t, h: h, client: endpoint.NewClient(ex, eng, stream.Options{}), server: srv}
}

// tickUntil ticks until an event matching match is produced and returns it.
func (x *harness) tickUntil(match func(Event) bool) Event {
    x.t.Helper()
    for i := 0; i < maxTicks; i++ {
        for _, e := range x.h.Tick() {
            x.seen = append(x.seen, e)
            if match(e) {
                return e
            }
        }
        time.Sleep(time.Millisecond)
    }
    x.t.Fatalf("no matching event after %d ticks; saw %v", maxTicks, x.seen)
    return Event{}
}

// eventually is tickUntil that also accepts an event already seen.
func (x *harness) eventually(match func(Event) bool) Event {
    x.t.Helper()
    for _, e := range x.seen {
        if match(e) {
            return e
        }
    }
    return x.tickUntil(match)
}

func (x *harness) recvWithin(k arena.Key) string {
    x.t.Helper()
    for i := 0; i < maxTicks; i++ {
        if p, ok := x.h.Recv(k); ok {
            return string(p.Payload)
        }
        x.seen = append(x.seen, x.h.Tick()...)
        time.Sleep(time.Millisecond)
    }
    x.t.Fatalf("nothing received on %s", k)
    return ""
}

func kind(k EventKind, role ids.Role) func(Event) bool {
    return func(e Event) bool { return e.Kind == k && (role == 0 || e.Role == role) }
}

// connectPair dials the harness server and waits for both ends.
func (x *harness) connectPair(addr string) (cli, srv ids.ConnectionID) {
    x.t.Helper()
    cli = x.h.Connect(x.client, addr)
    opened := x.tickUntil(kind(EventConnectionOpened, ids.RoleClient))
    require.Equal(x.t, cli, opened.Conn)
    return cli, x.eventually(kind(EventConnectionOpened, ids.RoleServer)).Conn
}

func pingPong(t *testing.T, x *harness, addr string) {
    cli, srv := x.connectPair(addr)

    k, err := x.h.OpenStream(cli)
    require.NoError(t, err)
    x.tickUntil(kind(EventStreamOpened, ids.RoleClient))
    require.NoError(t, x.h.Send(k, []byte("ping")))

    acc := x.eventually(kind(EventStreamAccepted, ids.RoleServer))
    assert.Equal(t, srv, acc.Conn)
    sk := arena.Key{Conn: acc.Conn, Stream: acc.Stream}
    assert.Equal(t, "ping", x.recvWithin(sk))

    require.NoError(t, x.h.Send(sk, []byte("pong")))
    assert.Equal(t, "pong", x.recvWithin(k))
}

func TestTickPingPongInMemory(t *testing.T) {
    x := newHarness(t, mem.New(), "srv")
    pingPong(t, x, "srv")
}

func TestTickPingPongOverQUIC(t *testing.T) {
    const alpn = "quicbridge-test"
    serverTLS, err := quic.ServerTLS(quic.TLSFiles{}, alpn)
    require.NoError(t, err)
    clientTLS, err := quic.ClientTLS(quic.TLSFiles{InsecureSkipVerify: true}, alpn)
    require.NoError(t, err)
    eng := quic.New(serverTLS, clientTLS, quic.Options{MaxIdleTimeout: 5 * time.Second})

    x := newHarness(t, eng, "127.0.0.1:0")
    pingPong(t, x, x.server.Addr().String())
}

func TestConnectFailureIsReportedOnce(t *testing.T) {
    x := newHarness(t, mem.New(), "srv")
    id := x.h.Connect(x.client, "nowhere")

    e := x.tickUntil(kind(EventConnectionFailed, 0))
    assert.Equal(t, id, e.Conn)
    assert.ErrorIs(t, e.Err, mem.ErrNoListener)
    assert.Empty(t, x.h.connects)
    assert.Empty(t, x.h.Connections())
}

func TestUnknownHandles(t *testing.T) {
    x := newHarness(t, mem.New(), "srv")

    _, err := x.h.OpenStream(ids.ConnectionID(999))
    assert.ErrorIs(t, err, ErrUnknownConnection)
    _, err = x.h.OpenSendStream(ids.ConnectionID(999))
    assert.ErrorIs(t, err, ErrUnknownConnection)
    assert.ErrorIs(t, x.h.Send(arena.Key{Conn: 1, Stream: 1}, nil), ErrUnknownStream)
    assert.ErrorIs(t, x.h.CloseStream(arena.Key{Conn: 1, Stream: 1}), ErrUnknownStream)
    _, ok := x.h.Recv(arena.Key{Conn: 1, Stream: 1})
    assert.False(t, ok)
}

func TestAcceptedUniStreamIsReceiveOnly(t *testing.T) {
    x := newHarness(t, mem.New(), "srv")
    cli, _ := x.connectPair("srv")

    k, err := x.h.OpenSendStream(cli)
    require.NoError(t, err)
    x.tickUntil(kind(EventStreamOpened, ids.RoleClient))
    require.NoError(t, x.h.Send(k, []byte("one-way")))

    acc := x.eventually(kind(EventStreamAccepted, ids.RoleServer))
    sk := arena.Key{Conn: acc.Conn, Stream: acc.Stream}
    assert.Equal(t, "one-way", x.recvWithin(sk))
    assert.ErrorIs(t, x.h.Send(sk, []byte("back")), ErrNotSendable)
}

func TestCloseStreamSendsQueuedDataFirst(t *testing.T) {
    x := newHarness(t, mem.New(), "srv")
    cli, _ := x.connectPair("srv")

    k, err := x.h.OpenSendStream(cli)
    require.NoError(t, err)
    x.tickUntil(kind(EventStreamOpened, ids.RoleClient))
    for _, m := range []string{"a", "b", "c"} {
        require.NoError(t, x.h.Send(k, []byte(m)))
    }
    require.NoError(t, x.h.CloseStream(k))

    closed := x.tickUntil(func(e Event) bool { return e.Kind == EventStreamClosed && e.Conn == k.Conn && e.Stream == k.Stream })
    assert.Equal(t, disconnect.KindUserClosed, closed.Reason.Kind)

    acc := x.eventually(kind(EventStreamAccepted, ids.RoleServer))
    sk := arena.Key{Conn: acc.Conn, Stream: acc.Stream}
    for _, want := range []string{"a", "b", "c"} {
        assert.Equal(t, want, x.recvWithin(sk))
    }
    peer := x.eventually(func(e Event) bool { return e.Kind == EventStreamClosed && e.Role == ids.RoleServer })
    assert.Equal(t, disconnect.KindPeerClosed, peer.Reason.Kind)
    x.h.Tick()
    _, ok := x.h.Stream(sk)
    assert.False(t, ok, "drained closed stream is reaped")
}

func TestCloseConnectionReapsStreams(t *testing.T) {
    x := newHarness(t, mem.New(), "srv")
    cli, srv := x.connectPair("srv")

    k, err := x.h.OpenStream(cli)
    require.NoError(t, err)
    x.tickUntil(kind(EventStreamOpened, ids.RoleClient))

    require.NoError(t, x.h.CloseConnection(cli, disconnect.StatusOK, "bye"))
    closed := x.tickUntil(func(e Event) bool { return e.Kind == EventConnectionClosed && e.Conn == cli })
    assert.Equal(t, disconnect.KindUserClosed, closed.Reason.Kind)

    var streamClosed bool
    for _, e := range x.seen {
        if e.Kind == EventStreamClosed && e.Conn == k.Conn && e.Stream == k.Stream {
            streamClosed = true
        }
    }
    assert.True(t, streamClosed)
    _, ok := x.h.Stream(k)
    assert.False(t, ok)

    peer := x.eventually(func(e Event) bool { return e.Kind == EventConnectionClosed && e.Conn == srv })
    assert.Equal(t, disconnect.KindPeerClosed, peer.Reason.Kind)
    assert.Empty(t, x.h.Connections())
    assert.ErrorIs(t, x.h.CloseConnection(cli, disconnect.StatusOK, ""), ErrUnknownConnection)
}

func TestServerCloseIsReported(t *testing.T) {
    x := newHarness(t, mem.New(), "srv")
    x.h.Tick()
    require.NoError(t, x.server.Close())

    e := x.tickUntil(kind(EventServerClosed, 0))
    assert.NoError(t, e.Err)
    assert.Empty(t, x.h.servers)
}

func TestRunStopsWithContext(t *testing.T) {
    x := newHarness(t, mem.New(), "srv")
    ctx, cancel := context.WithCancel(context.Background())
    ticks := 0
    done := make(chan error, 1)
    go func() {
        done <- x.h.Run(ctx, time.Millisecond, func(*Host, []Event) {
            ticks++
            if ticks == 3 {
                cancel()
            }
        })
    }()
    select {
    case err := <-done:
        assert.ErrorIs(t, err, context.Canceled)
    case <-time.After(2 * time.Second):
        t.Fatal("Run did not return")
    }
    assert.GreaterOrEqual(t, ticks, 3)
}

func TestEventKindString(t *testing.T) {
    assert.Equal(t, "stream_accepted", EventStreamAccepted.String())
    assert.Equal(t, "unknown", EventKind(0).String())
}
