package endpoint

import (
    "crypto/tls"
    "fmt"

    "quicbridge/pkg/config"
    "quicbridge/pkg/engine/quic"
    "quicbridge/pkg/stream"
)

// NewQUICEngine builds a quic-go engine from configuration. server selects
// whether listener TLS material is prepared.
func NewQUICEngine(cfg *config.Config, server bool) (*quic.Engine, error) {
    files := quic.TLSFiles{
        CertFile:           cfg.TLS.CertFile,
        KeyFile:            cfg.TLS.KeyFile,
        CAFile:             cfg.TLS.CAFile,
        ServerName:         cfg.TLS.ServerName,
        InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
    }
    clientTLS, err := quic.ClientTLS(files, cfg.QUIC.ALPN)
    if err != nil {
        return nil, fmt.Errorf("client tls: %w", err)
    }
    var serverTLS *tls.Config
    if server {
        if serverTLS, err = quic.ServerTLS(files, cfg.QUIC.ALPN); err != nil {
            return nil, fmt.Errorf("server tls: %w", err)
        }
    }
    return quic.New(serverTLS, clientTLS, quic.Options{
        KeepAlive:          cfg.QUIC.KeepAlive(),
        MaxIdleTimeout:     cfg.QUIC.MaxIdleTimeout(),
        HandshakeTimeout:   cfg.QUIC.HandshakeTimeout(),
        MaxIncomingStreams: cfg.QUIC.MaxIncomingStreams,
    }), nil
}

// StreamOptions converts the stream section of the configuration.
func StreamOptions(cfg config.StreamConfig) (stream.Options, error) {
    framing, err := stream.ParseFraming(cfg.Framing)
    if err != nil {
        return stream.Options{}, err
    }
    return stream.Options{
        OutboundCapacity: cfg.OutboundCapacity,
        InboundCapacity:  cfg.InboundCapacity,
        ControlCapacity:  cfg.ControlCapacity,
        ErrorCapacity:    cfg.ErrorCapacity,
        MaxBatch:         cfg.MaxBatch,
        ReadBufferSize:   cfg.ReadBufferSize,
        Framing:          framing,
    }, nil
}
