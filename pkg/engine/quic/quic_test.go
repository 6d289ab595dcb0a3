package quic

import (
    "context"
    "errors"
    "io"
    "testing"
    "time"

    quicgo "github.com/quic-go/quic-go"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "quicbridge/pkg/disconnect"
    "quicbridge/pkg/engine"
)

const testALPN = "quicbridge-test"

func newPair(t *testing.T) (engine.Conn, engine.Conn) {
    t.Helper()
    srvTLS, err := ServerTLS(TLSFiles{}, testALPN)
    require.NoError(t, err)
    cliTLS, err := ClientTLS(TLSFiles{InsecureSkipVerify: true}, testALPN)
    require.NoError(t, err)

    e := New(srvTLS, cliTLS, Options{MaxIdleTimeout: 5 * time.Second})
    assert.Equal(t, engine.KindQUIC, e.Kind())
    l, err := e.Listen("127.0.0.1:0")
    require.NoError(t, err)
    t.Cleanup(func() { _ = l.Close() })

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    accepted := make(chan engine.Conn, 1)
    go func() {
        c, err := l.Accept(ctx)
        if err == nil { accepted <- c }
        close(accepted)
    }()
    cli, err := e.Dial(ctx, l.Addr().String())
    require.NoError(t, err)
    srv, ok := <-accepted
    require.True(t, ok, "server did not accept")
    t.Cleanup(func() {
        _ = cli.CloseWithError(0, "")
        _ = srv.CloseWithError(0, "")
    })
    return cli, srv
}

func acceptWithin(t *testing.T, c engine.Conn) engine.PeerStream {
    t.Helper()
    deadline := time.Now().Add(5 * time.Second)
    for {
        ps, err := c.TryAcceptStream()
        if err == nil { return ps }
        require.ErrorIs(t, err, engine.ErrNoStream)
        if time.Now().After(deadline) { t.Fatal("no stream accepted") }
        time.Sleep(5 * time.Millisecond)
    }
}

func TestQUICBidirectionalRoundTrip(t *testing.T) {
    cli, srv := newPair(t)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    _, err := srv.TryAcceptStream()
    require.ErrorIs(t, err, engine.ErrNoStream)

    st, err := cli.OpenStream(ctx)
    require.NoError(t, err)
    _, err = st.Write([]byte("ping"))
    require.NoError(t, err)

    ps := acceptWithin(t, srv)
    require.True(t, ps.Bidirectional())
    buf := make([]byte, 16)
    n, err := ps.Receive.Read(buf)
    require.NoError(t, err)
    assert.Equal(t, "ping", string(buf[:n]))

    _, err = ps.Send.Write([]byte("pong"))
    require.NoError(t, err)
    require.NoError(t, ps.Send.Close())
    got, err := io.ReadAll(st)
    require.NoError(t, err)
    assert.Equal(t, "pong", string(got))
}

func TestQUICUniStreamAndSendAfterFinish(t *testing.T) {
    cli, srv := newPair(t)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    s, err := cli.OpenSendStream(ctx)
    require.NoError(t, err)
    _, err = s.Write([]byte("one-way"))
    require.NoError(t, err)
    require.NoError(t, s.Close())
    _, err = s.Write([]byte("late"))
    require.ErrorIs(t, err, disconnect.ErrSendAfterFinish)

    ps := acceptWithin(t, srv)
    assert.False(t, ps.Bidirectional())
    got, err := io.ReadAll(ps.Receive)
    require.NoError(t, err)
    assert.Equal(t, "one-way", string(got))
}

func TestQUICResetSurfacesStreamError(t *testing.T) {
    cli, srv := newPair(t)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    st, err := cli.OpenStream(ctx)
    require.NoError(t, err)
    _, err = st.Write([]byte("x"))
    require.NoError(t, err)
    ps := acceptWithin(t, srv)

    st.Reset(7)
    buf := make([]byte, 8)
    for err == nil {
        _, err = ps.Receive.Read(buf)
    }
    var se *quicgo.StreamError
    require.True(t, errors.As(err, &se))
    assert.EqualValues(t, 7, se.ErrorCode)
    r, fatal := disconnect.Classify(err)
    assert.True(t, fatal)
    assert.Equal(t, disconnect.Reset(7), r)
}

func TestQUICPingReportsClose(t *testing.T) {
    cli, srv := newPair(t)
    require.NoError(t, cli.Ping())
    require.NoError(t, srv.CloseWithError(uint64(disconnect.StatusServiceUnavailable), "bye"))

    deadline := time.Now().Add(5 * time.Second)
    var err error
    for err == nil && time.Now().Before(deadline) {
        err = cli.Ping()
        time.Sleep(5 * time.Millisecond)
    }
    require.Error(t, err)
    assert.Equal(t, disconnect.KindPeerClosed, disconnect.ClassifyConnection(err).Kind)
}
