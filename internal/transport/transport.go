// Package transport builds the HTTP client used to reach the probe server.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/certifi/gocertifi"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
)

const (
	dialTimeout = 5 * time.Second
	keepAlive   = 30 * time.Second
)

// Options configures Build. Timeout bounds each attempt; RetryWait and
// RetryWaitMax bound the exponential backoff between attempts.
type Options struct {
	Timeout      time.Duration
	Retries      int
	RetryWait    time.Duration
	RetryWaitMax time.Duration
	CAFile       string
	Insecure     bool
}

// Build returns an *http.Client that retries transient failures against a
// single endpoint up to opts.Retries times. Failover between endpoints is
// left to the caller. The returned client has no overall deadline, so
// callers must not set one that would cut the retries short.
func Build(opts Options, log zerolog.Logger) (*http.Client, error) {
	tlsConfig, err := tlsConfig(opts, log)
	if err != nil {
		return nil, err
	}

	t := cleanhttp.DefaultPooledTransport()
	t.DialContext = (&net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: keepAlive,
	}).DialContext
	t.TLSClientConfig = tlsConfig
	if err := http2.ConfigureTransport(t); err != nil {
		return nil, fmt.Errorf("enabling HTTP/2: %w", err)
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: t,
		Timeout:   opts.Timeout,
	}
	rc.RetryMax = opts.Retries
	rc.RetryWaitMin = opts.RetryWait
	rc.RetryWaitMax = opts.RetryWaitMax
	if rc.RetryWaitMax < rc.RetryWaitMin {
		rc.RetryWaitMax = rc.RetryWaitMin
	}
	rc.Logger = leveledLogger{log: log}

	log.Debug().
		Dur("timeout", opts.Timeout).
		Int("retry_max", rc.RetryMax).
		Dur("retry_wait_min", rc.RetryWaitMin).
		Dur("retry_wait_max", rc.RetryWaitMax).
		Bool("insecure", opts.Insecure).
		Msg("HTTP client initialized")

	return rc.StandardClient(), nil
}

func tlsConfig(opts Options, log zerolog.Logger) (*tls.Config, error) {
	if opts.Insecure {
		log.Warn().Msg("TLS certificate verification disabled")
		return &tls.Config{InsecureSkipVerify: true}, nil
	}

	pool, err := rootCAs(opts.CAFile, log)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// rootCAs loads caFile when given, otherwise the system pool, falling back
// to the bundled certifi roots when the system pool is unavailable.
func rootCAs(caFile string, log zerolog.Logger) (*x509.CertPool, error) {
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file %s: %w", caFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA file %s", caFile)
		}
		return pool, nil
	}

	pool, err := x509.SystemCertPool()
	if err == nil && pool != nil {
		return pool, nil
	}

	log.Debug().Err(err).Msg("System certificate pool unavailable, using bundled roots")
	pool, err = gocertifi.CACerts()
	if err != nil {
		return nil, fmt.Errorf("loading bundled CA certificates: %w", err)
	}
	return pool, nil
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Trace().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg(msg) }

var _ retryablehttp.LeveledLogger = leveledLogger{}
