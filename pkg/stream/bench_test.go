package stream

import (
    "testing"

    "quicbridge/pkg/engine/mem"
)

func BenchmarkSendReceive(b *testing.B) {
    a, peer := mem.NewStreamPair()
    ex := newExecutor(b)
    send := StartSend(ex, a, testMeta, Options{OutboundCapacity: 1024})
    recv := StartReceive(ex, peer, testMeta, Options{InboundCapacity: 1024})
    payload := make([]byte, 256)

    b.ReportAllocs()
    b.SetBytes(int64(len(payload)))
    b.ResetTimer()
    got := 0
    for i := 0; i < b.N; i++ {
        for send.Send(payload) != nil {
            if _, ok := recv.PollRecv(); ok { got++ }
        }
        if _, ok := recv.PollRecv(); ok { got++ }
    }
    b.ReportMetric(float64(got)/float64(b.N), "delivered/op")
}

func BenchmarkDecoder(b *testing.B) {
    wire := encode("abcdefghijklmnopqrstuvwxyz", "0123456789")
    var d frameDecoder
    emit := func([]byte) {}
    b.SetBytes(int64(len(wire)))
    b.ReportAllocs()
    for i := 0; i < b.N; i++ {
        _ = d.feed(wire, emit)
    }
}
