package mem

import "sync/atomic"

// Stream is an in-process stream end. A receive-only stream has no send
// pipe and a send-only stream has no receive pipe.
type Stream struct {
    send *pipe
    recv *pipe

    writes atomic.Int64
}

// NewStreamPair returns two bidirectional ends of a stream that belongs to no
// connection.
func NewStreamPair() (*Stream, *Stream) {
    ab, ba := newPipe(), newPipe()
    return &Stream{send: ab, recv: ba}, &Stream{send: ba, recv: ab}
}

func (s *Stream) Write(p []byte) (int, error) {
    s.writes.Add(1)
    return s.send.Write(p)
}

func (s *Stream) Close() error               { return s.send.Close() }
func (s *Stream) Flush() error               { return s.send.Flush() }
func (s *Stream) Reset(code uint64)          { s.send.Reset(code) }
func (s *Stream) Read(p []byte) (int, error) { return s.recv.Read(p) }
func (s *Stream) StopSending(code uint64) error {
    return s.recv.StopSending(code)
}

// Writes counts Write calls, including failed ones.
func (s *Stream) Writes() int64 { return s.writes.Load() }

// Written returns how many bytes were accepted on the send side.
func (s *Stream) Written() int {
    s.send.mu.Lock()
    defer s.send.mu.Unlock()
    return s.send.written
}

// InjectWriteError makes the next Write fail with err.
func (s *Stream) InjectWriteError(err error) { s.inject(s.send, &s.send.injectWrite, err) }

// InjectFlushError makes the next Flush fail with err.
func (s *Stream) InjectFlushError(err error) { s.inject(s.send, &s.send.injectFlush, err) }

// InjectReadError makes the next Read fail with err, waking a blocked reader.
func (s *Stream) InjectReadError(err error) { s.inject(s.recv, &s.recv.injectRead, err) }

// InjectStopError makes the next StopSending fail with err.
func (s *Stream) InjectStopError(err error) { s.inject(s.recv, &s.recv.injectStop, err) }

func (s *Stream) inject(p *pipe, q *[]error, err error) {
    p.mu.Lock()
    *q = append(*q, err)
    p.wake()
    p.mu.Unlock()
}
