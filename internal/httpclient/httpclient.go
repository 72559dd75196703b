// Package httpclient builds the pooled, TLS-hardened retryablehttp client
// used by the token exchange engine's transport and the federation
// syncer's peer clients (spec.md §5 "Scheduling model" / §9 "breaker owns retry
// decisions"). Grounded on the teacher's use of hashicorp/go-cleanhttp and
// hashicorp/go-rootcerts for its trust-root transport.
package httpclient

import (
	"crypto/tls"
	"net/http"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	rootcerts "github.com/hashicorp/go-rootcerts"
)

// Config configures the shared transport (spec.md §4.2, §4.5, §4.8 "TLS
// with the spoke's client credentials").
type Config struct {
	CABundlePath string
	ClientCert   tls.Certificate
	HaveClientCert bool
	Timeout      time.Duration
}

// New builds an *http.Client whose transport is hardened with the
// configured CA bundle and pooled per cleanhttp.DefaultPooledTransport.
// RetryMax is deliberately 0: retry/backoff policy belongs to the
// breaker and the caller's own loop, not to this transport (spec.md §4.3
// "the breaker is the only retry authority").
func New(cfg Config) (*http.Client, error) {
	transport := cleanhttp.DefaultPooledTransport()

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CABundlePath != "" {
		if err := rootcerts.ConfigureTLS(tlsConfig, &rootcerts.Config{CAFile: cfg.CABundlePath}); err != nil {
			return nil, err
		}
	}
	if cfg.HaveClientCert {
		tlsConfig.Certificates = []tls.Certificate{cfg.ClientCert}
	}
	transport.TLSClientConfig = tlsConfig

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport, Timeout: timeout}
	rc.RetryMax = 0
	rc.Logger = nil // the hub logs at the call site via internal/logging, not per-retry here.

	return rc.StandardClient(), nil
}
