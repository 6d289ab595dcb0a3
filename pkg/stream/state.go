package stream

import (
    "sync"

    "code.hybscloud.com/atomix"
    "code.hybscloud.com/lfq"
    "go.uber.org/zap"

    "quicbridge/pkg/disconnect"
)

// taskState is the part of a stream task both domains look at. The reason is
// written once by the task; the error queue has one producer (the task) and
// one consumer (the handle owner).
type taskState struct {
    once   sync.Once
    done   chan struct{}
    reason disconnect.Reason

    errs       lfq.SPSC[error]
    errDropped atomix.Uint64
}

func (s *taskState) init(errCap int) {
    s.done = make(chan struct{})
    s.errs.Init(ringSize(errCap))
}

// finish records r unless a reason was already recorded. It reports whether
// r was the one kept.
func (s *taskState) finish(r disconnect.Reason) bool {
    if r.IsZero() {
        r = disconnect.NoReason()
    }
    kept := false
    s.once.Do(func() {
        s.reason = r
        close(s.done)
        kept = true
    })
    return kept
}

func (s *taskState) finished() bool {
    select {
    case <-s.done:
        return true
    default:
        return false
    }
}

func (s *taskState) disconnectReason() (disconnect.Reason, bool) {
    if !s.finished() {
        return disconnect.Reason{}, false
    }
    return s.reason, true
}

func (s *taskState) pushErr(err error) {
    if s.errs.Enqueue(&err) != nil {
        s.errDropped.Add(1)
    }
}

func (s *taskState) logOutstanding(fields []zap.Field) int {
    n := 0
    for {
        err, e := s.errs.Dequeue()
        if e != nil {
            break
        }
        n++
        zap.L().Warn("stream error", append(fields, zap.Error(err))...)
    }
    if lost := s.errDropped.Load(); lost > 0 && n > 0 {
        zap.L().Warn("stream errors not recorded, error queue was full", append(fields, zap.Uint64("count", lost))...)
    }
    return n
}
