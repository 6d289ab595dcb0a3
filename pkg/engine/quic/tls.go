package quic

import (
    "crypto/rand"
    "crypto/rsa"
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "math/big"
    "net"
    "os"
    "time"
)

// TLSFiles names PEM material on disk. Empty CertFile/KeyFile make the server
// side fall back to an ephemeral self-signed certificate.
type TLSFiles struct {
    CertFile           string
    KeyFile            string
    CAFile             string
    ServerName         string
    InsecureSkipVerify bool
}

// ServerTLS builds the listener TLS config for alpn.
func ServerTLS(f TLSFiles, alpn string) (*tls.Config, error) {
    var (
        cert tls.Certificate
        err  error
    )
    switch {
    case f.CertFile != "" && f.KeyFile != "":
        cert, err = tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
        if err != nil { return nil, fmt.Errorf("load key pair: %w", err) }
    case f.CertFile != "" || f.KeyFile != "":
        return nil, errors.New("tls: cert_file and key_file must be set together")
    default:
        cert, err = SelfSignedCert(24 * time.Hour)
        if err != nil { return nil, fmt.Errorf("self-signed cert: %w", err) }
    }
    return &tls.Config{
        Certificates: []tls.Certificate{cert},
        NextProtos:   []string{alpn},
        MinVersion:   tls.VersionTLS13,
    }, nil
}

// ClientTLS builds the dialer TLS config for alpn.
func ClientTLS(f TLSFiles, alpn string) (*tls.Config, error) {
    conf := &tls.Config{
        ServerName:         f.ServerName,
        InsecureSkipVerify: f.InsecureSkipVerify,
        NextProtos:         []string{alpn},
        MinVersion:         tls.VersionTLS13,
    }
    if f.CAFile != "" {
        pem, err := os.ReadFile(f.CAFile)
        if err != nil { return nil, fmt.Errorf("read ca file: %w", err) }
        pool := x509.NewCertPool()
        if !pool.AppendCertsFromPEM(pem) { return nil, fmt.Errorf("ca file %s: no certificates", f.CAFile) }
        conf.RootCAs = pool
    }
    return conf, nil
}

// SelfSignedCert generates a throwaway certificate valid for localhost and
// the loopback addresses.
func SelfSignedCert(validFor time.Duration) (tls.Certificate, error) {
    priv, err := rsa.GenerateKey(rand.Reader, 2048)
    if err != nil { return tls.Certificate{}, err }
    serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
    if err != nil { return tls.Certificate{}, err }
    now := time.Now()
    tmpl := x509.Certificate{
        SerialNumber:          serial,
        NotBefore:             now.Add(-time.Minute),
        NotAfter:              now.Add(validFor),
        KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
        BasicConstraintsValid: true,
        DNSNames:              []string{"localhost"},
        IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
    }
    der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
    if err != nil { return tls.Certificate{}, err }
    return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
