// Package heartbeat drives the report loop: register once, then send a
// heartbeat every interval until the context is cancelled.
package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/rs/zerolog"

	"probeclient/internal/report"
	"probeclient/internal/session"
	"probeclient/internal/store"
	"probeclient/pkg/telemetry"
)

// Reporter sends reports to the server.
type Reporter interface {
	Register(ctx context.Context) (*session.Result, error)
	Heartbeat(ctx context.Context) (*session.Result, error)
}

// Recorder persists the outcome of each report.
type Recorder interface {
	Append(rec store.ReportRecord) error
}

// State is a snapshot of the scheduler's progress.
type State struct {
	Registered   bool
	Ticks        uint64
	Failures     uint64
	LastTick     time.Time
	NextTick     time.Time
	LastEndpoint string
	LastError    string
}

// Options carries the optional collaborators of a Scheduler.
type Options struct {
	Recorder  Recorder
	Telemetry *telemetry.Telemetry
	Log       zerolog.Logger
}

// Scheduler runs the report loop.
type Scheduler struct {
	interval time.Duration
	reporter Reporter
	recorder Recorder
	tel      *telemetry.Telemetry
	log      zerolog.Logger

	// after is swapped out in tests.
	after func(time.Duration) <-chan time.Time
	now   func() time.Time

	mu    sync.Mutex
	state State
}

// New creates a Scheduler that waits interval between heartbeats.
func New(interval time.Duration, reporter Reporter, opts Options) *Scheduler {
	return &Scheduler{
		interval: interval,
		reporter: reporter,
		recorder: opts.Recorder,
		tel:      opts.Telemetry,
		log:      opts.Log,
		after:    time.After,
		now:      time.Now,
	}
}

// State returns a copy of the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run registers the client and then loops until ctx is done. A failed
// registration is returned as an error; failed heartbeats are logged and
// the loop waits for the next interval. Run returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.register(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	s.log.Info().
		Dur("interval", s.interval).
		Msg("Heartbeat loop started")

	for {
		s.tick(ctx)
		if ctx.Err() != nil {
			s.log.Info().Msg("Heartbeat loop stopped")
			return nil
		}

		s.mu.Lock()
		s.state.NextTick = s.now().Add(s.interval)
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			s.log.Info().Msg("Heartbeat loop stopped")
			return nil
		case <-s.after(s.interval):
		}
	}
}

func (s *Scheduler) register(ctx context.Context) error {
	start := s.now()
	result, err := s.reporter.Register(ctx)
	s.record(report.ActionRegister, start, result, err)
	if err != nil {
		return fmt.Errorf("registering: %w", err)
	}

	s.mu.Lock()
	s.state.Registered = true
	s.mu.Unlock()

	s.log.Info().
		Str("endpoint", result.Endpoint).
		Msg("Registered with server")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	start := s.now()
	result, err := s.reporter.Heartbeat(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}
	s.record(report.ActionHeartbeat, start, result, err)

	s.mu.Lock()
	s.state.Ticks++
	s.state.LastTick = start
	s.state.LastError = ""
	if result != nil {
		s.state.LastEndpoint = result.Endpoint
	}
	if err != nil {
		s.state.Failures++
		s.state.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().
			Err(err).
			Msg("Heartbeat failed, waiting for next interval")
		return
	}
	s.log.Info().
		Str("endpoint", result.Endpoint).
		Dur("took", s.now().Sub(start)).
		Msg("Heartbeat sent")
}

func (s *Scheduler) record(action string, start time.Time, result *session.Result, err error) {
	if s.tel != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.tel.IncrCounterWithLabels([]string{"tick"}, 1, []metrics.Label{
			{Name: "action", Value: action},
			{Name: "outcome", Value: outcome},
		})
	}

	if s.recorder == nil {
		return
	}
	rec := store.ReportRecord{
		Action:    action,
		StartedAt: start,
		Duration:  s.now().Sub(start),
		Success:   err == nil,
	}
	if result != nil {
		rec.Endpoint = result.Endpoint
		rec.Attempted = result.Attempted()
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if err := s.recorder.Append(rec); err != nil {
		s.log.Warn().Err(err).Msg("Failed to record report")
	}
}
