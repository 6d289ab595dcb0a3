package session

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "quicbridge/pkg/stream"
)

type fakeReceiver struct{ pending []stream.Packet }

func (f *fakeReceiver) PollRecv() (stream.Packet, bool) {
    if len(f.pending) == 0 {
        return stream.Packet{}, false
    }
    p := f.pending[0]
    f.pending = f.pending[1:]
    return p, true
}

type fakeSender struct {
    room   int
    closed bool
    got    []string
}

func (f *fakeSender) Send(p []byte) error {
    if f.closed {
        return stream.ErrClosed
    }
    if f.room == 0 {
        return stream.ErrFull
    }
    f.room--
    f.got = append(f.got, string(p))
    return nil
}

func packets(n int) []stream.Packet {
    out := make([]stream.Packet, n)
    for i := range out {
        out[i] = stream.Packet{Payload: []byte{byte(i)}}
    }
    return out
}

func TestDrainRecvRespectsLimit(t *testing.T) {
    b := New(Limits{MaxPacketTransfer: 4, PacketWarnThreshold: 3})
    r := &fakeReceiver{pending: packets(10)}

    assert.Equal(t, 4, b.DrainRecv(r))
    assert.Equal(t, 4, b.RecvLen())
    assert.Len(t, r.pending, 6)

    p, ok := b.PopRecv()
    require.True(t, ok)
    assert.Equal(t, []byte{0}, p.Payload)

    assert.Equal(t, 4, b.DrainRecv(r))
    assert.Equal(t, 2, b.DrainRecv(r))
    assert.Equal(t, 0, b.DrainRecv(r))
    assert.Equal(t, 9, b.RecvLen())
}

func TestDrainSendStopsWhenFull(t *testing.T) {
    b := New(Limits{})
    for _, m := range []string{"a", "b", "c", "d"} {
        b.QueueSend([]byte(m))
    }
    s := &fakeSender{room: 2}
    n, err := b.DrainSend(s)
    require.NoError(t, err)
    assert.Equal(t, 2, n)
    assert.Equal(t, []string{"a", "b"}, s.got)
    assert.Equal(t, 2, b.SendLen())

    s.room = 10
    n, err = b.DrainSend(s)
    require.NoError(t, err)
    assert.Equal(t, 2, n)
    assert.Equal(t, []string{"a", "b", "c", "d"}, s.got)
}

func TestDrainSendClosed(t *testing.T) {
    b := New(Limits{})
    b.QueueSend([]byte("x"))
    _, err := b.DrainSend(&fakeSender{closed: true})
    require.ErrorIs(t, err, stream.ErrClosed)
    assert.Equal(t, 1, b.SendLen())

    recv, send := b.Clear()
    assert.Equal(t, 0, recv)
    assert.Equal(t, 1, send)
    assert.Equal(t, 0, b.SendLen())
}

func TestDrainSendLimit(t *testing.T) {
    b := New(Limits{MaxPacketTransfer: 2})
    for i := 0; i < 5; i++ {
        b.QueueSend([]byte{byte(i)})
    }
    n, err := b.DrainSend(&fakeSender{room: 100})
    require.NoError(t, err)
    assert.Equal(t, 2, n)
    assert.Equal(t, 3, b.SendLen())
}

func TestPopRecvEmpty(t *testing.T) {
    _, ok := New(DefaultLimits()).PopRecv()
    assert.False(t, ok)
}
