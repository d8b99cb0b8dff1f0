// Package tlsutil builds client TLS configurations for upload
// transports. Ingest endpoints behind private CAs and mutual-TLS
// deployments are configured here; the zero value means "system trust
// store, TLS 1.2 floor" and loads to a nil *tls.Config so transports
// can keep their defaults.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/pointstream/errors"
)

// Config holds client-side TLS settings for one remote.
type Config struct {
	// CAFiles are PEM bundles trusted in addition to the system CA
	// pool.
	CAFiles []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`

	// CertFile and KeyFile present a client certificate when the
	// endpoint requires mutual TLS. Both or neither must be set.
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`

	// InsecureSkipVerify disables server certificate verification.
	// Development and test use only.
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"`

	// MinVersion is the protocol floor: "1.2" or "1.3". Empty means
	// 1.2.
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"`
}

// Customized reports whether the configuration departs from the
// transport defaults. Load returns nil for an uncustomized config.
func (c Config) Customized() bool {
	return len(c.CAFiles) > 0 ||
		c.CertFile != "" ||
		c.KeyFile != "" ||
		c.InsecureSkipVerify ||
		c.MinVersion != ""
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.WrapInvalidParam(
			fmt.Errorf("cert_file and key_file must be set together"),
			"tlsutil", "Validate", "client certificate check")
	}
	switch c.MinVersion {
	case "", "1.2", "1.3":
	default:
		return errors.WrapInvalidParam(
			fmt.Errorf("unknown min_version %q", c.MinVersion),
			"tlsutil", "Validate", "version check")
	}
	return nil
}

// Load builds a tls.Config from the settings. The system CA pool is
// always the base; CAFiles add to it. Returns nil when nothing is
// customized so callers can leave transport defaults untouched.
func (c Config) Load() (*tls.Config, error) {
	if !c.Customized() {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		MinVersion:         parseTLSVersion(c.MinVersion),
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	if len(c.CAFiles) > 0 {
		rootCAs, err := x509.SystemCertPool()
		if err != nil {
			rootCAs = x509.NewCertPool()
		}
		for _, caFile := range c.CAFiles {
			caPEM, err := os.ReadFile(caFile)
			if err != nil {
				return nil, errors.WrapIO(err, "tlsutil", "Load",
					fmt.Sprintf("read CA file %s", caFile))
			}
			if !rootCAs.AppendCertsFromPEM(caPEM) {
				return nil, errors.WrapInvalidParam(
					fmt.Errorf("no certificates in PEM data"),
					"tlsutil", "Load",
					fmt.Sprintf("parse CA file %s", caFile))
			}
		}
		cfg.RootCAs = rootCAs
	}

	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, errors.WrapIO(err, "tlsutil", "Load", "load client certificate")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// parseTLSVersion converts a version string to its crypto/tls
// constant. Unrecognized input falls back to TLS 1.2.
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	case "1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS12
	}
}
