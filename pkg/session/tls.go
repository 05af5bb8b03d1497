package session

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
)

// ResolvePath anchors a relative path at baseDir.
func ResolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}

// BuildTLSConfig loads the CA, client certificate and key of server and
// returns a client config that presents the certificate and verifies the
// peer against the configured server name, or the host when none is set.
// Every file must exist and parse; otherwise a *protocol.TLSConfigError is
// returned and no connection should be attempted.
func BuildTLSConfig(server protocol.ServerInfo, baseDir string) (*tls.Config, error) {
	caPath := ResolvePath(baseDir, server.TLS.CAFile)
	certPath := ResolvePath(baseDir, server.TLS.CertFile)
	keyPath := ResolvePath(baseDir, server.TLS.KeyFile)

	if caPath == "" || certPath == "" || keyPath == "" {
		return nil, &protocol.TLSConfigError{ServerID: server.ID, Reason: "ca, client cert and client key files are all required"}
	}
	for _, p := range []string{caPath, certPath, keyPath} {
		if _, err := os.Stat(p); err != nil {
			reason := err.Error()
			if errors.Is(err, os.ErrNotExist) {
				reason = "file not found"
			}
			return nil, &protocol.TLSConfigError{ServerID: server.ID, Path: p, Reason: reason}
		}
	}

	caPEM, err := os.ReadFile(caPath) //nolint:gosec // path comes from the operator's roster
	if err != nil {
		return nil, &protocol.TLSConfigError{ServerID: server.ID, Path: caPath, Reason: err.Error()}
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, &protocol.TLSConfigError{ServerID: server.ID, Path: caPath, Reason: "no CA certificates found"}
	}

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, &protocol.TLSConfigError{ServerID: server.ID, Path: certPath, Reason: err.Error()}
	}

	serverName := server.TLS.ServerName
	if serverName == "" {
		serverName = server.Host
	}
	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{pair},
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
