// Package cert maintains the CA and leaf certificates that secure the link
// between tunnel managers and the central status collector.
package cert

import (
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
)

const (
	caCertFile     = "ca.pem"
	caKeyFile      = "ca-key.pem"
	serverCertFile = "collector.pem"
	serverKeyFile  = "collector-key.pem"
	clustersDir    = "clusters"
)

type Service struct {
	Dir         string
	DomainNames []string
	IPAddresses []net.IP
}

type Options struct {
	DomainNames []string
	IPAddresses []net.IP
}

// New loads the CA and collector certificate from dir, generating whichever
// is missing.
func New(dir string, opts *Options) (*Service, error) {
	s := &Service{Dir: dir}
	if opts != nil {
		s.DomainNames = opts.DomainNames
		s.IPAddresses = opts.IPAddresses
	}
	if len(s.DomainNames) == 0 {
		s.DomainNames = []string{"localhost"}
	}
	if len(s.IPAddresses) == 0 {
		s.IPAddresses = []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}
	}

	if err := s.ensureCertificates(); err != nil {
		return nil, fmt.Errorf("failed to ensure certificates: %w", err)
	}
	return s, nil
}

func (s *Service) CACertPath() string     { return filepath.Join(s.Dir, caCertFile) }
func (s *Service) CAKeyPath() string      { return filepath.Join(s.Dir, caKeyFile) }
func (s *Service) ServerCertPath() string { return filepath.Join(s.Dir, serverCertFile) }
func (s *Service) ServerKeyPath() string  { return filepath.Join(s.Dir, serverKeyFile) }

func (s *Service) ClusterCertPath(clusterID string) string {
	return filepath.Join(s.Dir, clustersDir, clusterID+".pem")
}

func (s *Service) ClusterKeyPath(clusterID string) string {
	return filepath.Join(s.Dir, clustersDir, clusterID+"-key.pem")
}

func (s *Service) ensureCertificates() error {
	var caCert *x509.Certificate
	var caKey *ecdsa.PrivateKey

	if !fileExists(s.CACertPath()) || !fileExists(s.CAKeyPath()) {
		slog.Info("CA certificate not found, generating new CA", "cert_path", s.CACertPath())

		var err error
		caCert, caKey, err = generateCA()
		if err != nil {
			return fmt.Errorf("failed to generate CA certificate: %w", err)
		}
		if err := writePair(caCert, caKey, s.CACertPath(), s.CAKeyPath()); err != nil {
			return err
		}
	} else {
		var err error
		caCert, caKey, err = loadCA(s.CACertPath(), s.CAKeyPath())
		if err != nil {
			return fmt.Errorf("failed to load existing CA certificate: %w", err)
		}
		slog.Debug("Using existing CA certificate", "cert_path", s.CACertPath())
	}

	if fileExists(s.ServerCertPath()) && fileExists(s.ServerKeyPath()) {
		slog.Debug("Using existing collector certificate", "cert_path", s.ServerCertPath())
		return nil
	}

	slog.Info("Generating collector certificate",
		"cert_path", s.ServerCertPath(),
		"domains", s.DomainNames,
		"ips", s.IPAddresses)

	serverCert, serverKey, err := generateServerCert(caCert, caKey, s.DomainNames, s.IPAddresses)
	if err != nil {
		return fmt.Errorf("failed to generate collector certificate: %w", err)
	}
	return writePair(serverCert, serverKey, s.ServerCertPath(), s.ServerKeyPath())
}

// IssueClusterCert signs a client certificate whose common name is the
// cluster id, for a tunnel manager reporting to the collector.
func (s *Service) IssueClusterCert(clusterID string) (*x509.Certificate, error) {
	if clusterID == "" {
		return nil, fmt.Errorf("cluster id is required")
	}

	caCert, caKey, err := loadCA(s.CACertPath(), s.CAKeyPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load CA: %w", err)
	}

	clusterCert, clusterKey, err := generateClientCert(caCert, caKey, clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cluster certificate: %w", err)
	}
	if err := writePair(clusterCert, clusterKey, s.ClusterCertPath(clusterID), s.ClusterKeyPath(clusterID)); err != nil {
		return nil, err
	}

	slog.Info("Issued cluster certificate", "cluster_id", clusterID, "cert_path", s.ClusterCertPath(clusterID))
	return clusterCert, nil
}
