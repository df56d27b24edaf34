// Package session sends authenticated reports to the probe server, failing
// over from the primary server to the backup servers in order.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"probeclient/internal/report"
	"probeclient/internal/sysinfo"
	"probeclient/pkg/config"
	"probeclient/pkg/telemetry"
)

// Probe supplies the local data carried by reports.
type Probe interface {
	Register(ctx context.Context) (*sysinfo.RegisterData, error)
	Collect(ctx context.Context) (*sysinfo.Statistics, error)
}

// Options carries the collaborators of a Session.
type Options struct {
	Version    string
	HTTPClient *http.Client
	Probe      Probe
	Telemetry  *telemetry.Telemetry
	Log        zerolog.Logger
}

// Session is the reporter: one configured set of endpoints and credentials.
type Session struct {
	endpoints  []string
	token      string
	uuid       string
	version    string
	statistics bool
	sign       bool
	compress   bool

	client *resty.Client
	probe  Probe
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	tel    *telemetry.Telemetry
	log    zerolog.Logger
}

// New builds a Session from a validated configuration. cfg.Identification
// must already be set.
func New(cfg *config.Config, opts Options) (*Session, error) {
	if cfg.Identification == nil || cfg.Identification.Token == "" {
		return nil, errors.New("identification token is not set")
	}
	if opts.Probe == nil {
		return nil, errors.New("probe is required")
	}
	// The HTTP client owns the per-attempt deadline. A client-wide timeout
	// here would also cover the retry backoff of a transport.Build client.
	hc := opts.HTTPClient
	if hc == nil {
		timeout, err := cfg.Server.ParseTimeout()
		if err != nil {
			return nil, fmt.Errorf("parsing timeout: %w", err)
		}
		hc = &http.Client{Timeout: timeout}
	}

	client := resty.NewWithClient(hc).
		SetAuthToken(cfg.Server.Token).
		SetHeader("User-Agent", "probe-client/"+opts.Version).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetLogger(restyLogger{log: opts.Log})

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: failed to create decoder: %w", err)
	}

	s := &Session{
		endpoints:  cfg.Server.Endpoints(),
		token:      cfg.Server.Token,
		uuid:       cfg.Identification.Token,
		version:    opts.Version,
		statistics: cfg.Statistics.Enabled,
		sign:       cfg.Server.SignRequests,
		compress:   cfg.Server.Compression == "zstd",
		client:     client,
		probe:      opts.Probe,
		dec:        dec,
		tel:        opts.Telemetry,
		log:        opts.Log,
	}

	if s.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("zstd: failed to create encoder: %w", err)
		}
		s.enc = enc
	}
	return s, nil
}

// Close releases the compression codecs.
func (s *Session) Close() {
	s.dec.Close()
	if s.enc != nil {
		s.enc.Close()
	}
}

// Endpoints returns the endpoints in the order they are tried.
func (s *Session) Endpoints() []string {
	return append([]string(nil), s.endpoints...)
}

// Register announces the client to the server with its hostname and boot time.
func (s *Session) Register(ctx context.Context) (*Result, error) {
	data, err := s.probe.Register(ctx)
	if err != nil {
		return &Result{}, fmt.Errorf("collecting register data: %w", err)
	}
	body, err := sonic.MarshalString(data)
	if err != nil {
		return &Result{}, fmt.Errorf("marshaling register data: %w", err)
	}
	return s.send(ctx, report.ActionRegister, body)
}

// Heartbeat sends one heartbeat. Statistics are collected and attached only
// when enabled in the configuration.
func (s *Session) Heartbeat(ctx context.Context) (*Result, error) {
	var body string
	if s.statistics {
		stats, err := s.probe.Collect(ctx)
		if err != nil {
			return &Result{}, fmt.Errorf("collecting statistics: %w", err)
		}
		body, err = sonic.MarshalString(stats)
		if err != nil {
			return &Result{}, fmt.Errorf("marshaling statistics: %w", err)
		}
	}
	return s.send(ctx, report.ActionHeartbeat, body)
}

func (s *Session) send(ctx context.Context, action, body string) (*Result, error) {
	msg := report.Message{
		Version: s.version,
		Action:  action,
		UUID:    s.uuid,
		Body:    body,
	}
	payload, err := sonic.Marshal(msg)
	if err != nil {
		return &Result{}, fmt.Errorf("marshaling %s message: %w", action, err)
	}
	if s.compress {
		payload = s.enc.EncodeAll(payload, nil)
	}

	result := &Result{}
	for _, endpoint := range s.endpoints {
		start := time.Now()
		resp, err := s.post(ctx, endpoint, payload)
		s.observe(action, endpoint, start, err)

		if err != nil {
			result.Attempts = append(result.Attempts, Attempt{Endpoint: endpoint, Err: err})
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			s.log.Warn().
				Err(err).
				Str("endpoint", endpoint).
				Str("action", action).
				Msg("Endpoint failed, trying next")
			continue
		}

		result.Attempts = append(result.Attempts, Attempt{Endpoint: endpoint})
		result.Endpoint = endpoint

		if err := resp.Err(); err != nil {
			return result, err
		}

		s.log.Debug().
			Str("endpoint", endpoint).
			Str("action", action).
			Dur("took", time.Since(start)).
			Msg("Report accepted")
		return result, nil
	}

	return result, &FailoverError{Attempts: result.Attempts}
}

func (s *Session) post(ctx context.Context, endpoint string, payload []byte) (*report.Response, error) {
	req := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload)
	if s.compress {
		req.SetHeader("Content-Encoding", "zstd")
	}
	if s.sign {
		req.SetHeader(report.SignatureHeader, report.Sign(payload, s.token))
	}

	resp, err := req.Post(endpoint)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	data := resp.Body()
	if strings.Contains(strings.ToLower(resp.Header().Get("Content-Encoding")), "zstd") {
		data, err = s.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: failed to decompress response: %w", err)
		}
	}

	var out report.Response
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

func (s *Session) observe(action, endpoint string, start time.Time, err error) {
	if s.tel == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	labels := []metrics.Label{
		{Name: "action", Value: action},
		{Name: "endpoint", Value: endpoint},
		{Name: "outcome", Value: outcome},
	}
	s.tel.IncrCounterWithLabels([]string{"report", "attempt"}, 1, labels)
	s.tel.MeasureSinceWithLabels([]string{"report", "duration"}, start, labels[:2])
}

// restyLogger adapts zerolog to resty.Logger.
type restyLogger struct {
	log zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) { l.log.Error().Msgf(format, v...) }
func (l restyLogger) Warnf(format string, v ...interface{})  { l.log.Warn().Msgf(format, v...) }
func (l restyLogger) Debugf(format string, v ...interface{}) { l.log.Debug().Msgf(format, v...) }

var _ resty.Logger = restyLogger{}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}
