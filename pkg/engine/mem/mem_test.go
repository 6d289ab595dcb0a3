package mem

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

func dialPair(t *testing.T) (engine.Conn, engine.Conn) {
    t.Helper()
    e := New()
    l, err := e.Listen("node")
    require.NoError(t, err)
    t.Cleanup(func() { _ = l.Close() })

    ctx, cancel := context.WithTimeout(context.Background(), time.Second)
    defer cancel()
    cli, err := e.Dial(ctx, "node")
    require.NoError(t, err)
    srv, err := l.Accept(ctx)
    require.NoError(t, err)
    return cli, srv
}

func TestDialUnknownListener(t *testing.T) {
    _, err := New().Dial(context.Background(), "nowhere")
    require.ErrorIs(t, err, ErrNoListener)
}

func TestListenTwiceFails(t *testing.T) {
    e := New()
    _, err := e.Listen("a")
    require.NoError(t, err)
    _, err = e.Listen("a")
    require.Error(t, err)
}

func TestListenerClose(t *testing.T) {
    e := New()
    l, err := e.Listen("a")
    require.NoError(t, err)
    require.NoError(t, l.Close())
    _, err = l.Accept(context.Background())
    require.ErrorIs(t, err, engine.ErrListenerClosed)
    _, err = e.Dial(context.Background(), "a")
    require.ErrorIs(t, err, ErrNoListener)
}

func TestMessagesArePreserved(t *testing.T) {
    a, b := NewStreamPair()
    _, err := a.Write([]byte("hello"))
    require.NoError(t, err)
    _, err = a.Write([]byte("world"))
    require.NoError(t, err)

    buf := make([]byte, 64)
    n, err := b.Read(buf)
    require.NoError(t, err)
    assert.Equal(t, "hello", string(buf[:n]))
    n, err = b.Read(buf)
    require.NoError(t, err)
    assert.Equal(t, "world", string(buf[:n]))

    require.NoError(t, a.Close())
    _, err = b.Read(buf)
    assert.ErrorIs(t, err, io.EOF)
    _, err = a.Write([]byte("late"))
    assert.ErrorIs(t, err, disconnect.ErrSendAfterFinish)
}

func TestResetAndStopSending(t *testing.T) {
    a, b := NewStreamPair()
    a.Reset(9)
    _, err := b.Read(make([]byte, 4))
    var se *quicgo.StreamError
    require.True(t, errors.As(err, &se))
    assert.True(t, se.Remote)
    assert.EqualValues(t, 9, se.ErrorCode)

    c, d := NewStreamPair()
    require.NoError(t, d.StopSending(3))
    _, err = c.Write([]byte("x"))
    require.True(t, errors.As(err, &se))
    assert.EqualValues(t, 3, se.ErrorCode)
}

func TestInjectedReadWakesBlockedReader(t *testing.T) {
    _, b := NewStreamPair()
    boom := errors.New("boom")
    got := make(chan error, 1)
    go func() {
        _, err := b.Read(make([]byte, 4))
        got <- err
    }()
    time.Sleep(10 * time.Millisecond)
    b.InjectReadError(boom)
    select {
    case err := <-got:
        assert.ErrorIs(t, err, boom)
    case <-time.After(time.Second):
        t.Fatal("reader not woken")
    }
}

func TestConnStreamsAndClose(t *testing.T) {
    cli, srv := dialPair(t)
    _, err := srv.TryAcceptStream()
    require.ErrorIs(t, err, engine.ErrNoStream)

    st, err := cli.OpenStream(context.Background())
    require.NoError(t, err)
    ps, err := srv.TryAcceptStream()
    require.NoError(t, err)
    require.True(t, ps.Bidirectional())

    us, err := cli.OpenSendStream(context.Background())
    require.NoError(t, err)
    ups, err := srv.TryAcceptStream()
    require.NoError(t, err)
    assert.False(t, ups.Bidirectional())
    _, err = us.Write([]byte("uni"))
    require.NoError(t, err)

    require.NoError(t, cli.CloseWithError(200, "done"))
    assert.Equal(t, disconnect.UserClosed(), disconnect.ClassifyConnection(cli.Ping()))
    assert.Equal(t, disconnect.PeerClosed(), disconnect.ClassifyConnection(srv.Ping()))

    _, err = ps.Receive.Read(make([]byte, 4))
    r, fatal := disconnect.Classify(err)
    assert.True(t, fatal)
    assert.Equal(t, disconnect.KindConnectionError, r.Kind)
    _, err = st.Write([]byte("x"))
    require.Error(t, err)
    _, err = cli.OpenStream(context.Background())
    require.Error(t, err)
}

func TestHoldOpens(t *testing.T) {
    e := New()
    _, err := e.Listen("n")
    require.NoError(t, err)
    c, err := e.Dial(context.Background(), "n")
    require.NoError(t, err)
    mc := c.(*Conn)

    gate := make(chan struct{})
    mc.HoldOpens(gate)
    ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
    defer cancel()
    _, err = mc.OpenStream(ctx)
    require.ErrorIs(t, err, context.DeadlineExceeded)

    close(gate)
    mc.InjectOpenError(errors.New("refused"))
    _, err = mc.OpenStream(context.Background())
    require.EqualError(t, err, "refused")
    _, err = mc.OpenStream(context.Background())
    require.NoError(t, err)
}
