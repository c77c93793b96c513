package workerproxy

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSFiles names the PEM files a pod uses to dial or accept worker-RPC
// connections. Grounded on the teacher's pkg/security cert-directory
// convention (cert/key/CA triple per node), simplified here to plain file
// paths supplied by configuration rather than issued over a join-token
// flow — that issuance machinery has no SPEC_FULL.md component to serve
// yet (see DESIGN.md's pkg/security note).
type TLSFiles struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// ServerConfig builds a *tls.Config for accepting worker-RPC connections
// from peer pods, requiring and verifying client certificates.
func ServerConfig(files TLSFiles) (*tls.Config, error) {
	cert, pool, err := loadCertAndPool(files)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientConfig builds a *tls.Config for dialing a peer pod's worker-RPC
// endpoint, presenting this pod's certificate for mutual authentication.
func ClientConfig(files TLSFiles) (*tls.Config, error) {
	cert, pool, err := loadCertAndPool(files)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func loadCertAndPool(files TLSFiles) (tls.Certificate, *x509.CertPool, error) {
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("workerproxy: load keypair: %w", err)
	}
	caPEM, err := os.ReadFile(files.CAFile)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("workerproxy: read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return tls.Certificate{}, nil, fmt.Errorf("workerproxy: no valid CA certificate in %s", files.CAFile)
	}
	return cert, pool, nil
}
