package session //nolint:testpackage // white-box tests share helpers with the package

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
)

const eventTimeout = 5 * time.Second

// recHandler records session events on buffered channels.
type recHandler struct {
	ready  chan string
	msgs   chan protocol.Message
	closed chan error
}

func newRecHandler() *recHandler {
	return &recHandler{
		ready:  make(chan string, 16),
		msgs:   make(chan protocol.Message, 64),
		closed: make(chan error, 16),
	}
}

func (h *recHandler) SessionReady(id string)                       { h.ready <- id }
func (h *recHandler) SessionMessage(_ string, m protocol.Message) { h.msgs <- m }
func (h *recHandler) SessionClosed(_ string, err error)           { h.closed <- err }

func (h *recHandler) waitReady(t *testing.T) {
	t.Helper()
	select {
	case <-h.ready:
	case err := <-h.closed:
		t.Fatalf("session closed before ready: %v", err)
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for ready")
	}
}

func (h *recHandler) waitClosed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.closed:
		return err
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for close")
		return nil
	}
}

func (h *recHandler) waitMessage(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case m := <-h.msgs:
		return m
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for message")
		return protocol.Message{}
	}
}

// listen starts a loopback listener and delivers accepted connections.
func listen(t *testing.T) (port int, conns <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port, acceptAll(t, ln)
}

// acceptAll delivers accepted connections. TLS connections complete their
// handshake first, as a real server would before reading.
func acceptAll(t *testing.T, ln net.Listener) <-chan net.Conn {
	t.Helper()
	ch := make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				if tc, ok := c.(*tls.Conn); ok {
					if err := tc.Handshake(); err != nil {
						_ = c.Close()
						return
					}
				}
				ch <- c
			}()
		}
	}()
	return ch
}

func waitConn(t *testing.T, conns <-chan net.Conn) net.Conn {
	t.Helper()
	select {
	case c := <-conns:
		return c
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for accept")
		return nil
	}
}

// closedPort returns a loopback port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// --- PKI ---

type testPKI struct {
	dir        string
	caPool     *x509.CertPool
	serverCert tls.Certificate
}

// newTestPKI writes ca.pem, client.pem and client-key.pem into a temp dir
// and returns a server certificate valid for sf.test and 127.0.0.1.
func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	dir := t.TempDir()

	caKey := mustKey(t)
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "sfcluster test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create ca: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parse ca: %v", err)
	}

	leaf := func(serial int64, usage x509.ExtKeyUsage) ([]byte, []byte) {
		key := mustKey(t)
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(serial),
			Subject:      pkix.Name{CommonName: "sf.test"},
			DNSNames:     []string{"sf.test"},
			IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(24 * time.Hour),
			KeyUsage:     x509.KeyUsageDigitalSignature,
			ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, &key.PublicKey, caKey)
		if err != nil {
			t.Fatalf("create leaf: %v", err)
		}
		keyDER, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			t.Fatalf("marshal key: %v", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
			pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	}

	serverPEM, serverKeyPEM := leaf(2, x509.ExtKeyUsageServerAuth)
	clientPEM, clientKeyPEM := leaf(3, x509.ExtKeyUsageClientAuth)

	writeFile(t, filepath.Join(dir, "ca.pem"), pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER}))
	writeFile(t, filepath.Join(dir, "client.pem"), clientPEM)
	writeFile(t, filepath.Join(dir, "client-key.pem"), clientKeyPEM)

	serverCert, err := tls.X509KeyPair(serverPEM, serverKeyPEM)
	if err != nil {
		t.Fatalf("server key pair: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	return &testPKI{dir: dir, caPool: pool, serverCert: serverCert}
}

// listenTLS starts a loopback listener that requires a client certificate.
func (p *testPKI) listenTLS(t *testing.T) (port int, conns <-chan net.Conn) {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{p.serverCert},
		ClientCAs:    p.caPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		t.Fatalf("tls listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port, acceptAll(t, ln)
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
