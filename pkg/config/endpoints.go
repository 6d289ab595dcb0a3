package config

import "time"

// ServerConfig lists the addresses to accept connections on.
type ServerConfig struct {
    Listen []string `mapstructure:"listen"`
}

// ClientConfig describes the peer the client dials on startup.
type ClientConfig struct {
    Connect string `mapstructure:"connect"`
    // Messages is how many pings the client sends; 0 keeps sending until stopped
    Messages int `mapstructure:"messages"`
    // IntervalMS spaces consecutive pings
    IntervalMS int `mapstructure:"interval_ms"`
    // Codec names the payload encoding: cbor, json or proto
    Codec string `mapstructure:"codec"`
}

// Interval converts IntervalMS.
func (c ClientConfig) Interval() time.Duration { return time.Duration(c.IntervalMS) * time.Millisecond }

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
    Enable bool   `mapstructure:"enable"`
    Listen string `mapstructure:"listen"`
}
