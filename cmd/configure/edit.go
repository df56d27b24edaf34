// Package configure implements the commands that create and edit the
// probe-client configuration file.
package configure

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const defaultConfigTemplate = `[server]
  server_address = "https://probe.example.com/api/report"
  token          = "CHANGE_ME"
  backup_servers = []
  interval       = 300
  timeout        = "10s"
  retries        = 0
  retry_wait     = "1s"
  retry_wait_max = "8s"
  compression    = ""
  sign_requests  = false

[statistics]
  enabled = false

[client]
  log_level         = "info"
  history_path      = "data/history.db"
  history_retention = "168h"
  rpc_socket        = "data/probe-client.sock"
`

// EditConfig opens the configuration file in the system editor.
// If the file does not exist, it creates it with default values.
func EditConfig(path string) error {
	if err := writeTemplate(path); err != nil {
		return err
	}

	editor, err := findEditor()
	if err != nil {
		return err
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

// writeTemplate creates path from the default template unless it already exists.
func writeTemplate(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("Creating new config file at %s...\n", path)
		if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0600); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}
	return nil
}

func findEditor() (string, error) {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor, nil
	}
	for _, e := range []string{"vi", "nano", "vim"} {
		if _, err := exec.LookPath(e); err == nil {
			return e, nil
		}
	}
	return "", fmt.Errorf("no editor found ($EDITOR environment variable not set, and vi/nano/vim not in PATH)")
}
