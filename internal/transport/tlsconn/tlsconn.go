// Package tlsconn wraps the standard library's crypto/tls for the
// server's listening side, where there is no third-party replacement: the
// server must terminate real TLS with a certificate it controls, which is
// exactly what crypto/tls.Listen already does well. (This is the one
// transport leg where the teacher and the rest of the example pack offer
// nothing beyond the standard library — see the design notes for the
// corresponding justification.)
package tlsconn

import (
	"crypto/tls"
	"fmt"
	"net"
)

// ListenConfig describes how to configure the server's TLS listener.
type ListenConfig struct {
	CertFile string
	KeyFile  string
}

// Listen starts a TLS listener on addr using the given certificate.
func Listen(addr string, cfg ListenConfig) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsconn: loading certificate: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"http/1.1"}, // looks like an ordinary HTTPS site to a probe
	}
	ln, err := tls.Listen("tcp", addr, tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("tlsconn: listening on %s: %w", addr, err)
	}
	return ln, nil
}
