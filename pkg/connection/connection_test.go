package connection

import (
    "context"
    "errors"
    "testing"
    "time"

    "code.hybscloud.com/iox"
    quicgo "github.com/quic-go/quic-go"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "quicbridge/pkg/attempt"
    "quicbridge/pkg/disconnect"
    "quicbridge/pkg/engine/mem"
    "quicbridge/pkg/executor"
    "quicbridge/pkg/ids"
    "quicbridge/pkg/stream"
)

type fixture struct {
    ex       *executor.Executor
    cli, srv *Connection
    rawCli   *mem.Conn
    rawSrv   *mem.Conn
}

func newFixture(t *testing.T) *fixture {
    t.Helper()
    ex := executor.New(context.Background())
    t.Cleanup(func() { _ = ex.Close(2 * time.Second) })
    a, b := mem.Pair(nil, nil)
    return &fixture{
        ex:     ex,
        cli:    New(ex, a, ids.NextConnectionID(), ids.RoleClient, stream.Options{}),
        srv:    New(ex, b, ids.NextConnectionID(), ids.RoleServer, stream.Options{}),
        rawCli: a,
        rawSrv: b,
    }
}

func resolve[T any](t *testing.T, a *attempt.Attempt[T]) (T, error) {
    t.Helper()
    deadline := time.Now().Add(2 * time.Second)
    for {
        v, err := a.Poll()
        if !attempt.IsInProgress(err) {
            return v, err
        }
        if time.Now().After(deadline) {
            t.Fatal("attempt still in progress")
        }
        time.Sleep(time.Millisecond)
    }
}

func accept(t *testing.T, c *Connection) Accepted {
    t.Helper()
    deadline := time.Now().Add(2 * time.Second)
    for {
        acc, err := c.AcceptStreams()
        if err == nil {
            return acc
        }
        require.ErrorIs(t, err, ErrPollNone)
        if time.Now().After(deadline) {
            t.Fatal("nothing accepted")
        }
        time.Sleep(time.Millisecond)
    }
}

func recvOne(t *testing.T, h *stream.ReceiveHandle) string {
    t.Helper()
    var p stream.Packet
    require.Eventually(t, func() bool {
        var ok bool
        p, ok = h.PollRecv()
        return ok
    }, 2*time.Second, time.Millisecond)
    return string(p.Payload)
}

func TestAcceptNothingPending(t *testing.T) {
    f := newFixture(t)
    _, err := f.srv.AcceptStreams()
    require.ErrorIs(t, err, ErrPollNone)
    assert.True(t, errors.Is(err, iox.ErrWouldBlock))
    assert.True(t, f.srv.IsOpen())
    assert.Equal(t, StateOpen, f.srv.State())
}

func TestOpenAcceptPingPong(t *testing.T) {
    f := newFixture(t)
    a, id := f.cli.OpenBidirectionalStream()
    pair, err := resolve(t, a)
    require.NoError(t, err)
    assert.Equal(t, id, pair.ID)
    assert.Equal(t, ids.RoleClient, pair.Send.Meta().Role)

    _, err = a.Poll()
    require.ErrorIs(t, err, attempt.ErrConsumed)

    acc := accept(t, f.srv)
    require.NotNil(t, acc.Send)
    assert.Equal(t, ids.RoleServer, acc.Receive.Meta().Role)

    require.NoError(t, pair.Send.Send([]byte("ping")))
    assert.Equal(t, "ping", recvOne(t, acc.Receive))
    require.NoError(t, acc.Send.Send([]byte("pong")))
    assert.Equal(t, "pong", recvOne(t, pair.Receive))
}

func TestStreamIDsAreMonotonicPerConnection(t *testing.T) {
    f := newFixture(t)
    var last ids.StreamID
    for i := 0; i < 3; i++ {
        a, id := f.cli.OpenBidirectionalStream()
        assert.Greater(t, id, last)
        last = id
        _, err := resolve(t, a)
        require.NoError(t, err)
    }
    first := accept(t, f.srv)
    assert.Equal(t, ids.StreamID(1), first.ID)
}

func TestSendOnlyStream(t *testing.T) {
    f := newFixture(t)
    a, _ := f.cli.OpenSendStream()
    send, err := resolve(t, a)
    require.NoError(t, err)

    acc := accept(t, f.srv)
    assert.Nil(t, acc.Send)
    require.NoError(t, send.Send([]byte("one-way")))
    assert.Equal(t, "one-way", recvOne(t, acc.Receive))
}

func TestAcceptReportsBusyWhileOpenHoldsLock(t *testing.T) {
    f := newFixture(t)
    gate := make(chan struct{})
    f.rawSrv.HoldOpens(gate)

    // a peer stream is pending on the server side
    opened, _ := f.cli.OpenBidirectionalStream()
    _, err := resolve(t, opened)
    require.NoError(t, err)

    blocked, _ := f.srv.OpenBidirectionalStream()
    require.Eventually(t, func() bool {
        if f.srv.lock.TryAcquire(1) {
            f.srv.lock.Release(1)
            return false
        }
        return true
    }, 2*time.Second, time.Millisecond)
    _, err = f.srv.AcceptStreams()
    require.ErrorIs(t, err, ErrPollNone)
    _, err = blocked.Poll()
    require.ErrorIs(t, err, attempt.ErrInProgress)

    close(gate)
    _, err = resolve(t, blocked)
    require.NoError(t, err)
    accept(t, f.srv)
}

func TestOpenFailureIsCached(t *testing.T) {
    f := newFixture(t)
    boom := errors.New("refused")
    f.rawCli.InjectOpenError(boom)
    a, _ := f.cli.OpenBidirectionalStream()
    _, err := resolve(t, a)
    var failed *attempt.FailedError
    require.ErrorAs(t, err, &failed)
    assert.ErrorIs(t, err, boom)
    _, again := a.Poll()
    assert.Same(t, failed, again)
}

func TestCloseIsSeenByBothSides(t *testing.T) {
    f := newFixture(t)
    require.NoError(t, f.cli.Close(disconnect.StatusOK, "bye"))
    require.ErrorIs(t, f.cli.Close(disconnect.StatusOK, "again"), ErrClosed)

    r, closed := f.cli.DisconnectReason()
    require.True(t, closed)
    assert.Equal(t, disconnect.UserClosed(), r)
    assert.Equal(t, StateClosed, f.cli.State())

    require.Eventually(t, func() bool { return !f.srv.IsOpen() }, 2*time.Second, time.Millisecond)
    r, _ = f.srv.DisconnectReason()
    assert.Equal(t, disconnect.PeerClosed(), r)
    assert.Equal(t, disconnect.ByPeer, r.Category())

    _, err := f.srv.AcceptStreams()
    require.Error(t, err)
    assert.False(t, errors.Is(err, ErrPollNone))

    a, _ := f.cli.OpenBidirectionalStream()
    _, err = a.Poll()
    require.ErrorIs(t, err, ErrClosed)
}

func TestConnectionFaultIsErrored(t *testing.T) {
    f := newFixture(t)
    a, _ := f.cli.OpenBidirectionalStream()
    pair, err := resolve(t, a)
    require.NoError(t, err)

    f.rawCli.Fail(&quicgo.IdleTimeoutError{})
    assert.Equal(t, StateErrored, f.cli.State())
    r, _ := f.cli.DisconnectReason()
    assert.Equal(t, disconnect.KindConnectionError, r.Kind)

    select {
    case <-pair.Receive.Done():
    case <-time.After(2 * time.Second):
        t.Fatal("receive task survived the connection")
    }
    rr, _ := pair.Receive.DisconnectReason()
    assert.Equal(t, disconnect.KindConnectionError, rr.Kind)
}
