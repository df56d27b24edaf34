// Package status implements the probe-client status command, which queries a
// running client over its RPC socket.
package status

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"probeclient/internal/rpc"
	"probeclient/internal/store"
	"probeclient/pkg/config"
	"probeclient/pkg/telemetry"
)

const recentReports = 10

// Run prints the state of the running client.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Client.RPCSocket == "" {
		return fmt.Errorf("client.rpc_socket is not set in %s", configPath)
	}

	client, err := rpc.NewClient(cfg.Client.RPCSocket)
	if err != nil {
		return fmt.Errorf("connecting to client: %w\nIs 'probe-client run' running?", err)
	}
	defer client.Close()

	reply, err := client.Status(recentReports)
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}

	display(os.Stdout, reply, time.Now())
	return nil
}

func display(w io.Writer, reply *rpc.StatusReply, now time.Time) {
	info, state := reply.Info, reply.State

	fmt.Fprintf(w, "\n  probe-client v%s (%s)\n\n", info.Version, info.UUID)
	fmt.Fprintf(w, "  %-12s %v\n", "Registered", state.Registered)
	fmt.Fprintf(w, "  %-12s %s\n", "Interval", info.Interval)
	fmt.Fprintf(w, "  %-12s %v\n", "Statistics", info.Statistics)
	fmt.Fprintf(w, "  %-12s %d (%d failed)\n", "Ticks", state.Ticks, state.Failures)
	if !state.LastTick.IsZero() {
		fmt.Fprintf(w, "  %-12s %s ago via %s\n", "Last tick", now.Sub(state.LastTick).Round(time.Second), orDash(state.LastEndpoint))
	}
	if !state.NextTick.IsZero() {
		fmt.Fprintf(w, "  %-12s in %s\n", "Next tick", state.NextTick.Sub(now).Round(time.Second))
	}
	if state.LastError != "" {
		fmt.Fprintf(w, "  %-12s %s\n", "Last error", state.LastError)
	}

	fmt.Fprintf(w, "\n  Endpoints\n")
	for i, e := range info.Endpoints {
		role := "backup"
		if i == 0 {
			role = "primary"
		}
		fmt.Fprintf(w, "  %-4d %-8s %s\n", i+1, role, e)
	}

	if len(reply.Recent) > 0 {
		fmt.Fprintf(w, "\n  Recent reports (%d)\n\n", len(reply.Recent))
		displayHistory(w, reply.Recent)
	}
	if len(reply.Counters) > 0 {
		fmt.Fprintf(w, "\n  Counters\n\n")
		displayCounters(w, reply.Counters)
	}
	fmt.Fprintln(w)
}

func displayHistory(w io.Writer, records []store.ReportRecord) {
	fmt.Fprintf(w, "  %-10s %-10s %-8s %-3s %-40s %s\n",
		"Time", "Action", "Took", "OK", "Endpoint", "Error")
	fmt.Fprintf(w, "  %s %s %s %s %s %s\n",
		strings.Repeat("─", 10),
		strings.Repeat("─", 10),
		strings.Repeat("─", 8),
		strings.Repeat("─", 3),
		strings.Repeat("─", 40),
		strings.Repeat("─", 5))

	for _, r := range records {
		ok := "✗"
		if r.Success {
			ok = "✓"
		}
		fmt.Fprintf(w, "  %-10s %-10s %-8s %-3s %-40s %s\n",
			r.StartedAt.Format("15:04:05"),
			r.Action,
			r.Duration.Round(time.Millisecond),
			ok,
			truncate(orDash(r.Endpoint), 40),
			truncate(r.Error, 60),
		)
	}
}

func displayCounters(w io.Writer, counters []telemetry.Counter) {
	for _, c := range counters {
		labels := make([]string, 0, len(c.Labels))
		for _, k := range []string{"action", "endpoint", "outcome"} {
			if v, ok := c.Labels[k]; ok {
				labels = append(labels, k+"="+v)
			}
		}
		fmt.Fprintf(w, "  %-32s %-6d %s\n", c.Name, c.Count, strings.Join(labels, " "))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len([]rune(s)) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen-1]) + "…"
}
