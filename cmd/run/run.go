// Package run implements the probe-client run command: the long-running
// heartbeat reporter.
package run

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"probeclient/internal/heartbeat"
	"probeclient/internal/rpc"
	"probeclient/internal/session"
	"probeclient/internal/store"
	"probeclient/internal/sysinfo"
	"probeclient/internal/transport"
	"probeclient/pkg/config"
	"probeclient/pkg/logger"
	"probeclient/pkg/telemetry"
)

const pruneEvery = time.Hour

// Run starts the reporter and blocks until SIGINT or SIGTERM.
func Run(configPath, version string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return run(context.Background(), configPath, version, sigCh)
}

func run(parent context.Context, configPath, version string, sigCh <-chan os.Signal) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.Init(logger.Level(cfg.Client.LogLevel))

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	go func() {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	created, err := config.EnsureIdentification(configPath, cfg)
	if err != nil {
		return err
	}
	if created {
		log.Info().
			Str("uuid", cfg.Identification.Token).
			Str("config", configPath).
			Msg("Generated client identification")
	}

	tel, err := telemetry.New("probe_client")
	if err != nil {
		return err
	}

	timeout, err := cfg.Server.ParseTimeout()
	if err != nil {
		return fmt.Errorf("parsing timeout: %w", err)
	}
	retryWait, err := cfg.Server.ParseRetryWait()
	if err != nil {
		return fmt.Errorf("parsing retry wait: %w", err)
	}
	retryWaitMax, err := cfg.Server.ParseRetryWaitMax()
	if err != nil {
		return fmt.Errorf("parsing retry wait max: %w", err)
	}

	hc, err := transport.Build(transport.Options{
		Timeout:      timeout,
		Retries:      cfg.Server.Retries,
		RetryWait:    retryWait,
		RetryWaitMax: retryWaitMax,
		CAFile:       cfg.Server.CAFile,
		Insecure:     cfg.Server.Insecure,
	}, log)
	if err != nil {
		return fmt.Errorf("building HTTP client: %w", err)
	}

	sess, err := session.New(cfg, session.Options{
		Version:    version,
		HTTPClient: hc,
		Probe:      sysinfo.NewCollector(log),
		Telemetry:  tel,
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer sess.Close()

	opts := heartbeat.Options{Telemetry: tel, Log: log}
	var history rpc.History

	if cfg.Client.HistoryPath != "" {
		retention, err := cfg.Client.ParseHistoryRetention()
		if err != nil {
			return fmt.Errorf("parsing history retention: %w", err)
		}

		db, err := store.New(cfg.Client.HistoryPath, log)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer db.Close()

		db.RunPrune(ctx, pruneEvery, retention)
		opts.Recorder = db
		history = db
	}

	sched := heartbeat.New(cfg.Server.IntervalDuration(), sess, opts)

	if cfg.Client.RPCSocket != "" {
		svc := rpc.NewService(rpc.Info{
			Version:    version,
			UUID:       cfg.Identification.Token,
			Endpoints:  sess.Endpoints(),
			Interval:   cfg.Server.IntervalDuration(),
			Statistics: cfg.Statistics.Enabled,
		}, sched, history, tel, log)

		srv, err := rpc.StartServer(ctx, cfg.Client.RPCSocket, svc, log)
		if err != nil {
			return fmt.Errorf("starting RPC server: %w", err)
		}
		defer srv.Close()
	}

	log.Info().
		Str("version", version).
		Str("uuid", cfg.Identification.Token).
		Strs("endpoints", sess.Endpoints()).
		Dur("interval", cfg.Server.IntervalDuration()).
		Bool("statistics", cfg.Statistics.Enabled).
		Msg("Starting probe client")

	return sched.Run(ctx)
}
