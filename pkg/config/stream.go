package config

import (
    "fmt"
    "strings"
)

// StreamConfig sizes the queues shared between stream tasks and the tick.
// Example YAML:
// stream:
//   outbound_capacity: 128
//   inbound_capacity: 256
//   framing: length_prefixed
type StreamConfig struct {
    OutboundCapacity int    `mapstructure:"outbound_capacity"`
    InboundCapacity  int    `mapstructure:"inbound_capacity"`
    ControlCapacity  int    `mapstructure:"control_capacity"`
    ErrorCapacity    int    `mapstructure:"error_capacity"`
    MaxBatch         int    `mapstructure:"max_batch"`
    ReadBufferSize   int    `mapstructure:"read_buffer_size"`
    Framing          string `mapstructure:"framing"` // raw | length_prefixed
}

func (s *StreamConfig) validate() error {
    for name, v := range map[string]int{
        "outbound_capacity": s.OutboundCapacity,
        "inbound_capacity":  s.InboundCapacity,
        "control_capacity":  s.ControlCapacity,
        "error_capacity":    s.ErrorCapacity,
        "max_batch":         s.MaxBatch,
        "read_buffer_size":  s.ReadBufferSize,
    } {
        if v <= 0 {
            return fmt.Errorf("%s must be positive, got %d", name, v)
        }
    }
    // The error queue is a lock-free ring and needs two slots.
    if s.ErrorCapacity < 2 {
        return fmt.Errorf("error_capacity must be at least 2, got %d", s.ErrorCapacity)
    }
    s.Framing = strings.ToLower(strings.TrimSpace(s.Framing))
    switch s.Framing {
    case "", "raw", "length_prefixed":
    default:
        return fmt.Errorf("unknown framing %q", s.Framing)
    }
    return nil
}

// SessionConfig bounds per-tick transfer between stream handles and session buffers.
type SessionConfig struct {
    MaxPacketTransfer   int `mapstructure:"max_packet_transfer"`
    PacketWarnThreshold int `mapstructure:"packet_warn_threshold"`
}

func (s *SessionConfig) validate() error {
    if s.MaxPacketTransfer <= 0 {
        return fmt.Errorf("max_packet_transfer must be positive, got %d", s.MaxPacketTransfer)
    }
    if s.PacketWarnThreshold <= 0 || s.PacketWarnThreshold > s.MaxPacketTransfer {
        s.PacketWarnThreshold = s.MaxPacketTransfer
    }
    return nil
}
