package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
    t.Helper()
    p := filepath.Join(t.TempDir(), "quicbridge.yaml")
    require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
    return p
}

func TestLoadDefaults(t *testing.T) {
    cfg, err := Load(writeConfig(t, "app_name: test\n"))
    require.NoError(t, err)
    assert.Equal(t, "test", cfg.AppName)
    assert.Equal(t, 32, cfg.Runtime.TickRate)
    assert.Equal(t, time.Second/32, cfg.Runtime.TickInterval())
    assert.Equal(t, 128, cfg.Stream.OutboundCapacity)
    assert.Equal(t, 256, cfg.Stream.InboundCapacity)
    assert.Equal(t, 512, cfg.Session.MaxPacketTransfer)
    assert.Equal(t, "quicbridge", cfg.QUIC.ALPN)
    assert.Equal(t, 30*time.Second, cfg.QUIC.MaxIdleTimeout())
    assert.Equal(t, "cbor", cfg.Client.Codec)
    assert.Equal(t, time.Second, cfg.Client.Interval())
}

func TestLoadFileAndEnv(t *testing.T) {
    p := writeConfig(t, `
log:
  level: debug
stream:
  inbound_capacity: 1024
  framing: Length_Prefixed
server:
  listen: ["0.0.0.0:5000"]
`)
    t.Setenv("QUICBRIDGE_RUNTIME_TICK_RATE", "60")
    cfg, err := Load(p)
    require.NoError(t, err)
    assert.Equal(t, "debug", cfg.Log.Level)
    assert.Equal(t, 1024, cfg.Stream.InboundCapacity)
    assert.Equal(t, "length_prefixed", cfg.Stream.Framing)
    assert.Equal(t, []string{"0.0.0.0:5000"}, cfg.Server.Listen)
    assert.Equal(t, 60, cfg.Runtime.TickRate)
}

func TestLoadConfigEnvPath(t *testing.T) {
    p := writeConfig(t, "client:\n  connect: 10.0.0.1:4433\n")
    t.Setenv("QUICBRIDGE_CONFIG", p)
    cfg, err := Load("")
    require.NoError(t, err)
    assert.Equal(t, "10.0.0.1:4433", cfg.Client.Connect)
}

func TestValidation(t *testing.T) {
    cases := map[string]string{
        "log level":   "log:\n  level: loud\n",
        "tick rate":   "runtime:\n  tick_rate: 0\n",
        "capacity":    "stream:\n  outbound_capacity: -1\n",
        "framing":     "stream:\n  framing: zstd\n",
        "tls pair":    "tls:\n  cert_file: a.pem\n",
        "empty alpn":  "quic:\n  alpn: \"\"\n",
        "max packets": "session:\n  max_packet_transfer: 0\n",
        "interval":    "client:\n  interval_ms: 0\n",
        "error ring":  "stream:\n  error_capacity: 1\n",
    }
    for name, body := range cases {
        t.Run(name, func(t *testing.T) {
            _, err := Load(writeConfig(t, body))
            assert.Error(t, err)
        })
    }
}

func TestSingleSlotInboundQueueIsValid(t *testing.T) {
    cfg, err := Load(writeConfig(t, "stream:\n  inbound_capacity: 1\n  error_capacity: 2\n"))
    require.NoError(t, err)
    assert.Equal(t, 1, cfg.Stream.InboundCapacity)
    assert.Equal(t, 2, cfg.Stream.ErrorCapacity)
}

func TestWarnThresholdIsClamped(t *testing.T) {
    cfg, err := Load(writeConfig(t, "session:\n  max_packet_transfer: 10\n  packet_warn_threshold: 50\n"))
    require.NoError(t, err)
    assert.Equal(t, 10, cfg.Session.PacketWarnThreshold)
}

func TestMustLoadPanics(t *testing.T) {
    assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "missing.yaml")) })
}
