// Package rpc provides Unix socket IPC between the running probe client and
// the status command.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	netrpc "net/rpc"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"probeclient/internal/heartbeat"
	"probeclient/internal/store"
	"probeclient/pkg/telemetry"
)

// DefaultRecent is how many history records Status returns when the caller
// does not ask for a specific number.
const DefaultRecent = 10

// StateSource reports the scheduler's progress.
type StateSource interface {
	State() heartbeat.State
}

// History lists recorded reports.
type History interface {
	Recent(n int) ([]store.ReportRecord, error)
}

// Info is the static part of the status reply.
type Info struct {
	Version    string
	UUID       string
	Endpoints  []string
	Interval   time.Duration
	Statistics bool
}

// Service is the RPC service exposed by the running client.
type Service struct {
	info      Info
	state     StateSource
	history   History
	telemetry *telemetry.Telemetry
	log       zerolog.Logger
}

// NewService creates a Service. history and tel may be nil.
func NewService(info Info, state StateSource, history History, tel *telemetry.Telemetry, log zerolog.Logger) *Service {
	return &Service{info: info, state: state, history: history, telemetry: tel, log: log}
}

// StatusArgs is the request for Status.
type StatusArgs struct {
	Recent int
}

// StatusReply is the response for Status.
type StatusReply struct {
	Info     Info
	State    heartbeat.State
	Recent   []store.ReportRecord
	Counters []telemetry.Counter
}

// Status returns the client's identity, scheduler state, recent history
// and counters.
func (s *Service) Status(args *StatusArgs, reply *StatusReply) error {
	reply.Info = s.info
	if s.state != nil {
		reply.State = s.state.State()
	}
	if s.history != nil {
		n := args.Recent
		if n <= 0 {
			n = DefaultRecent
		}
		recent, err := s.history.Recent(n)
		if err != nil {
			return fmt.Errorf("fetching history: %w", err)
		}
		reply.Recent = recent
	}
	if s.telemetry != nil {
		reply.Counters = s.telemetry.Counters()
	}
	return nil
}

// Server is a running RPC listener.
type Server struct {
	listener net.Listener
	path     string
}

// StartServer starts the Unix socket RPC server. It stops when ctx is done
// or Close is called.
func StartServer(ctx context.Context, socketPath string, service *Service, log zerolog.Logger) (*Server, error) {
	server := netrpc.NewServer()
	if err := server.Register(service); err != nil {
		return nil, fmt.Errorf("registering RPC service: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	// Stale socket from a previous run.
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	if err := os.Chmod(socketPath, 0660); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	log.Info().Str("socket", socketPath).Msg("RPC server started")

	s := &Server{listener: listener, path: socketPath}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("RPC accept error")
				continue
			}
			go server.ServeConn(conn)
		}
	}()

	return s, nil
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	err := s.listener.Close()
	os.Remove(s.path)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Client is a client for the probe client RPC service.
type Client struct {
	client *netrpc.Client
}

// NewClient dials the Unix socket and returns an RPC client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC socket %s: %w", socketPath, err)
	}
	return &Client{client: netrpc.NewClient(conn)}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Status fetches the running client's status with up to recent history records.
func (c *Client) Status(recent int) (*StatusReply, error) {
	args := &StatusArgs{Recent: recent}
	reply := &StatusReply{}
	if err := c.client.Call("Service.Status", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}
