package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/withobsrvr/streamctl/internal/utils/logger"
	"go.uber.org/zap"
)

// TLSMode represents the mode of TLS operation
type TLSMode string

const (
	// TLSModeDisabled talks plain HTTP
	TLSModeDisabled TLSMode = "disabled"

	// TLSModeEnabled verifies the server certificate
	TLSModeEnabled TLSMode = "enabled"

	// TLSModeMutual additionally presents a client certificate
	TLSModeMutual TLSMode = "mutual"
)

// TLSConfig contains TLS configuration options
type TLSConfig struct {
	Mode       TLSMode `mapstructure:"mode" yaml:"mode"`
	CertFile   string  `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile    string  `mapstructure:"key_file" yaml:"key_file"`
	CAFile     string  `mapstructure:"ca_file" yaml:"ca_file"`
	SkipVerify bool    `mapstructure:"skip_verify" yaml:"skip_verify"`
	ServerName string  `mapstructure:"server_name" yaml:"server_name"`
}

// Validate checks if the TLS configuration is valid
func (c TLSConfig) Validate() error {
	switch c.Mode {
	case "", TLSModeDisabled:
		return nil
	case TLSModeEnabled:
	case TLSModeMutual:
		if c.CertFile == "" || c.KeyFile == "" {
			return fmt.Errorf("cert_file and key_file are required for mutual TLS")
		}
	default:
		return fmt.Errorf("unknown TLS mode: %s", c.Mode)
	}

	for _, f := range []string{c.CertFile, c.KeyFile, c.CAFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); os.IsNotExist(err) {
			return fmt.Errorf("TLS file does not exist: %s", f)
		}
	}
	return nil
}

// Enabled reports whether TLS is in use.
func (c TLSConfig) Enabled() bool {
	return c.Mode == TLSModeEnabled || c.Mode == TLSModeMutual
}

// ClientTLSConfig builds the client side *tls.Config for the control-plane
// transport. It returns nil when TLS is disabled.
func (c TLSConfig) ClientTLSConfig() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}

	logger.Debug("Loading TLS settings for control plane client",
		zap.String("mode", string(c.Mode)),
		zap.String("server_name", c.ServerName),
		zap.Bool("skip_verify", c.SkipVerify))

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.SkipVerify,
		ServerName:         c.ServerName,
	}

	if c.Mode == TLSModeMutual {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate and key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		pool, err := loadCertPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// ServerTLSConfig builds the *tls.Config used by the local control-plane
// emulator. In mutual mode client certificates are required and verified
// against CAFile.
func (c TLSConfig) ServerTLSConfig() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate and key: %w", err)
	}
	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}

	if c.Mode == TLSModeMutual {
		if c.CAFile == "" {
			return nil, fmt.Errorf("ca_file is required to verify client certificates")
		}
		pool, err := loadCertPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConfig, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to add CA certificate to pool")
	}
	return pool, nil
}
