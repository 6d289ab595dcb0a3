// Package config provides YAML-based configuration loading for quicbridge.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/spf13/viper"
)

// Config is everything the quicbridge command reads at startup.
type Config struct {
    // AppName optional logical name of the process, used in logs
    AppName string `mapstructure:"app_name"`

    // Log holds logging configuration
    Log LogConfig `mapstructure:"log"`

    // Runtime controls the tick loop and Go scheduler
    Runtime RuntimeConfig `mapstructure:"runtime"`

    // Stream sizes the bounded queues of every stream task
    Stream StreamConfig `mapstructure:"stream"`

    // Session bounds per-tick buffer draining
    Session SessionConfig `mapstructure:"session"`

    QUIC QUICConfig `mapstructure:"quic"`
    TLS  TLSConfig  `mapstructure:"tls"`

    Server  ServerConfig  `mapstructure:"server"`
    Client  ClientConfig  `mapstructure:"client"`
    Metrics MetricsConfig `mapstructure:"metrics"`
}

// RuntimeConfig controls the host tick loop.
type RuntimeConfig struct {
    // TickRate in Hz
    TickRate int `mapstructure:"tick_rate"`
    // MaxProcs sets GOMAXPROCS when > 0
    MaxProcs int `mapstructure:"max_procs"`
    // ShutdownTimeoutMS bounds how long background tasks get to exit
    ShutdownTimeoutMS int `mapstructure:"shutdown_timeout_ms"`
}

// TickInterval converts TickRate to a period.
func (r RuntimeConfig) TickInterval() time.Duration {
    if r.TickRate <= 0 {
        return time.Second / 32
    }
    return time.Second / time.Duration(r.TickRate)
}

// ShutdownTimeout converts ShutdownTimeoutMS.
func (r RuntimeConfig) ShutdownTimeout() time.Duration {
    return time.Duration(r.ShutdownTimeoutMS) * time.Millisecond
}

// Default is the configuration used for keys absent from file and environment.
func Default() *Config {
    return &Config{
        AppName: "quicbridge",
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/quicbridge.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Runtime: RuntimeConfig{TickRate: 32, ShutdownTimeoutMS: 5000},
        Stream: StreamConfig{
            OutboundCapacity: 128,
            InboundCapacity:  256,
            ControlCapacity:  32,
            ErrorCapacity:    32,
            MaxBatch:         128,
            ReadBufferSize:   64 * 1024,
            Framing:          "raw",
        },
        Session: SessionConfig{MaxPacketTransfer: 512, PacketWarnThreshold: 400},
        QUIC: QUICConfig{
            ALPN:               "quicbridge",
            KeepAliveMS:        5000,
            MaxIdleTimeoutMS:   30000,
            HandshakeTimeoutMS: 10000,
            MaxIncomingStreams: 100,
        },
        TLS:     TLSConfig{ServerName: "localhost"},
        Server:  ServerConfig{Listen: []string{"127.0.0.1:4433"}},
        Client:  ClientConfig{Connect: "127.0.0.1:4433", IntervalMS: 1000, Codec: "cbor"},
        Metrics: MetricsConfig{Enable: false, Listen: "127.0.0.1:9464"},
    }
}

// Load reads path, or QUICBRIDGE_CONFIG, or quicbridge.yaml from the current
// directory, ./configs or ~/.quicbridge, then applies environment overrides.
// Environment variables use the prefix QUICBRIDGE and `.`/`-` are replaced with `_`.
// Example: QUICBRIDGE_STREAM_INBOUND_CAPACITY=1024
func Load(path string) (*Config, error) {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("QUICBRIDGE")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    for key, val := range defaults(cfg) {
        v.SetDefault(key, val)
    }

    if path == "" {
        path = os.Getenv("QUICBRIDGE_CONFIG")
    }

    if path != "" {
        v.SetConfigFile(path)
    } else {
        v.SetConfigName("quicbridge")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".quicbridge"))
        }
    }

    // a missing file in the search paths is fine; a named file must exist
    if err := v.ReadInConfig(); err != nil {
        var viperConfigFileNotFound viper.ConfigFileNotFoundError
        if !errors.As(err, &viperConfigFileNotFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    if err := v.Unmarshal(cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }

    if err := cfg.validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

// defaults mirrors Default as viper keys so env-only configuration works
// without a file.
func defaults(cfg *Config) map[string]any {
    return map[string]any{
        "app_name":                      cfg.AppName,
        "log.level":                     cfg.Log.Level,
        "log.format":                    cfg.Log.Format,
        "log.outputs":                   cfg.Log.Outputs,
        "log.development":               cfg.Log.Development,
        "log.rotation.enable":           cfg.Log.Rotation.Enable,
        "log.rotation.filename":         cfg.Log.Rotation.Filename,
        "log.rotation.max_size_mb":      cfg.Log.Rotation.MaxSizeMB,
        "log.rotation.max_backups":      cfg.Log.Rotation.MaxBackups,
        "log.rotation.max_age_days":     cfg.Log.Rotation.MaxAgeDays,
        "log.rotation.compress":         cfg.Log.Rotation.Compress,
        "runtime.tick_rate":             cfg.Runtime.TickRate,
        "runtime.max_procs":             cfg.Runtime.MaxProcs,
        "runtime.shutdown_timeout_ms":   cfg.Runtime.ShutdownTimeoutMS,
        "stream.outbound_capacity":      cfg.Stream.OutboundCapacity,
        "stream.inbound_capacity":       cfg.Stream.InboundCapacity,
        "stream.control_capacity":       cfg.Stream.ControlCapacity,
        "stream.error_capacity":         cfg.Stream.ErrorCapacity,
        "stream.max_batch":              cfg.Stream.MaxBatch,
        "stream.read_buffer_size":       cfg.Stream.ReadBufferSize,
        "stream.framing":                cfg.Stream.Framing,
        "session.max_packet_transfer":   cfg.Session.MaxPacketTransfer,
        "session.packet_warn_threshold": cfg.Session.PacketWarnThreshold,
        "quic.alpn":                     cfg.QUIC.ALPN,
        "quic.keep_alive_ms":            cfg.QUIC.KeepAliveMS,
        "quic.max_idle_timeout_ms":      cfg.QUIC.MaxIdleTimeoutMS,
        "quic.handshake_timeout_ms":     cfg.QUIC.HandshakeTimeoutMS,
        "quic.max_incoming_streams":     cfg.QUIC.MaxIncomingStreams,
        "tls.cert_file":                 cfg.TLS.CertFile,
        "tls.key_file":                  cfg.TLS.KeyFile,
        "tls.ca_file":                   cfg.TLS.CAFile,
        "tls.server_name":               cfg.TLS.ServerName,
        "tls.insecure_skip_verify":      cfg.TLS.InsecureSkipVerify,
        "server.listen":                 cfg.Server.Listen,
        "client.connect":                cfg.Client.Connect,
        "client.messages":               cfg.Client.Messages,
        "client.interval_ms":            cfg.Client.IntervalMS,
        "client.codec":                  cfg.Client.Codec,
        "metrics.enable":                cfg.Metrics.Enable,
        "metrics.listen":                cfg.Metrics.Listen,
    }
}

func (c *Config) validate() error {
    lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
    if _, ok := logLevels[lvl]; !ok {
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }

    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }
    if c.Runtime.TickRate <= 0 || c.Runtime.TickRate > 10000 {
        return fmt.Errorf("invalid runtime.tick_rate: %d", c.Runtime.TickRate)
    }
    if err := c.Stream.validate(); err != nil {
        return fmt.Errorf("stream: %w", err)
    }
    if err := c.Session.validate(); err != nil {
        return fmt.Errorf("session: %w", err)
    }
    if strings.TrimSpace(c.QUIC.ALPN) == "" {
        return errors.New("quic.alpn must not be empty")
    }
    if c.Client.IntervalMS <= 0 {
        return fmt.Errorf("invalid client.interval_ms: %d", c.Client.IntervalMS)
    }
    if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
        return errors.New("tls.cert_file and tls.key_file must be set together")
    }
    return nil
}

// MustLoad panics when Load fails.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}
