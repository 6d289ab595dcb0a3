package config

import "time"

// QUICConfig tunes the protocol engine.
type QUICConfig struct {
    ALPN               string `mapstructure:"alpn"`
    KeepAliveMS        int    `mapstructure:"keep_alive_ms"`
    MaxIdleTimeoutMS   int    `mapstructure:"max_idle_timeout_ms"`
    HandshakeTimeoutMS int    `mapstructure:"handshake_timeout_ms"`
    MaxIncomingStreams int64  `mapstructure:"max_incoming_streams"`
}

func (q QUICConfig) KeepAlive() time.Duration { return ms(q.KeepAliveMS) }
func (q QUICConfig) MaxIdleTimeout() time.Duration { return ms(q.MaxIdleTimeoutMS) }
func (q QUICConfig) HandshakeTimeout() time.Duration { return ms(q.HandshakeTimeoutMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// TLSConfig names PEM files. Without cert_file/key_file a server generates an
// ephemeral self-signed certificate.
type TLSConfig struct {
    CertFile           string `mapstructure:"cert_file"`
    KeyFile            string `mapstructure:"key_file"`
    CAFile             string `mapstructure:"ca_file"`
    ServerName         string `mapstructure:"server_name"`
    InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}
