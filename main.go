// probe-client: periodic heartbeat reporter with primary/backup failover
//
// Usage:
//
//	probe-client run    : register and send heartbeats until interrupted
//	probe-client init   : create a configuration file interactively
//	probe-client status : query the running client
package main

import (
	"fmt"
	"os"

	"probeclient/cmd/configure"
	"probeclient/cmd/run"
	"probeclient/cmd/stats"
	"probeclient/cmd/status"
)

const (
	defaultConfigPath = "data/probe_client.toml"
	version           = "0.3.0"
)

func main() {
	configPath := defaultConfigPath

	// Parse --config flag if present
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			args = append(args[:i], args[i+2:]...)
			i--
			continue
		}
		if len(arg) > 9 && arg[:9] == "--config=" {
			configPath = arg[9:]
			args = append(args[:i], args[i+1:]...)
			i--
			continue
		}
	}

	// No subcommand runs the reporter, so the binary can be started bare by a supervisor.
	subcommand := "run"
	if len(args) > 0 {
		subcommand = args[0]
	}

	var err error

	switch subcommand {
	case "run":
		err = run.Run(configPath, version)
	case "init":
		err = configure.Init(configPath)
	case "edit":
		err = configure.EditConfig(configPath)
	case "stats":
		err = stats.Run()
	case "status":
		err = status.Run(configPath)
	case "version":
		fmt.Printf("probe-client v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`probe-client v%s: heartbeat reporter with backup server failover

Usage:
  probe-client [command] [--config <path>]

Commands:
  run      Register and send heartbeats until interrupted (default)
  init     Create the configuration file interactively
  edit     Edit the configuration file in your system editor
  stats    Print one system statistics snapshot as JSON
  status   Show the state of the running client
  version  Print version information
  help     Show this help message

Options:
  --config <path>  Path to config file (default: %s)

Environment:
  PROBE_CLIENT_LOG  Log level (trace, debug, info, warn, error, off)

`, version, defaultConfigPath)
}
