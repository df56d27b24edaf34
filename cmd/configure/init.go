package configure

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"probeclient/pkg/config"
)

// Init interactively creates a configuration file at path.
func Init(path string) error {
	reader := bufio.NewReader(os.Stdin)
	return initConfig(path, reader, os.Stdout, func() (string, error) {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return readLine(reader)
		}
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return strings.TrimSpace(string(secret)), nil
	})
}

func initConfig(path string, reader *bufio.Reader, out io.Writer, readSecret func() (string, error)) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "Config %s already exists. Overwrite? [y/N]: ", path)
		ans, err := readLine(reader)
		if err != nil {
			return err
		}
		if strings.ToLower(ans) != "y" {
			return fmt.Errorf("not overwriting %s", path)
		}
	}

	cfg := &config.Config{}

	fmt.Fprint(out, "Server address: ")
	addr, err := readLine(reader)
	if err != nil {
		return err
	}
	cfg.Server.ServerAddress = addr

	fmt.Fprint(out, "Token: ")
	token, err := readSecret()
	if err != nil {
		return err
	}
	cfg.Server.Token = token

	fmt.Fprint(out, "Backup servers (comma separated, empty for none): ")
	backups, err := readLine(reader)
	if err != nil {
		return err
	}
	for _, b := range strings.Split(backups, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.Server.BackupServers = append(cfg.Server.BackupServers, b)
		}
	}

	fmt.Fprintf(out, "Interval in seconds [%d]: ", config.DefaultInterval)
	intervalStr, err := readLine(reader)
	if err != nil {
		return err
	}
	if intervalStr != "" {
		interval, err := strconv.Atoi(intervalStr)
		if err != nil {
			return fmt.Errorf("invalid interval: %s", intervalStr)
		}
		cfg.Server.Interval = &interval
	}

	fmt.Fprint(out, "Send system statistics? [y/N]: ")
	stats, err := readLine(reader)
	if err != nil {
		return err
	}
	cfg.Statistics.Enabled = strings.ToLower(stats) == "y"

	cfg.Client.HistoryPath = "data/history.db"
	cfg.Client.RPCSocket = "data/probe-client.sock"

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}

	fmt.Fprintf(out, "✓ Wrote %s\n", path)
	return nil
}

// readLine reads one line, treating EOF after a partial line as its end.
func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
