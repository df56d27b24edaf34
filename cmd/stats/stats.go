// Package stats implements the probe-client stats command, which prints the
// statistics snapshot a heartbeat would carry.
package stats

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"

	"probeclient/internal/sysinfo"
	"probeclient/pkg/logger"
)

// Run collects one snapshot and prints it as indented JSON. It does not
// need a configuration file.
func Run() error {
	log := logger.Init(logger.Level("warn"))
	return printSnapshot(context.Background(), sysinfo.NewCollector(log), os.Stdout)
}

type collector interface {
	Collect(ctx context.Context) (*sysinfo.Statistics, error)
}

func printSnapshot(ctx context.Context, c collector, out io.Writer) error {
	stats, err := c.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collecting statistics: %w", err)
	}
	data, err := sonic.ConfigStd.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling statistics: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
