package config

import (
	"fmt"

	"github.com/google/uuid"
)

// EnsureIdentification makes sure cfg carries a client identity. When none is
// configured a random UUID is generated and the whole configuration is written
// back to path, so the same identity survives restarts. It reports whether a
// new identity was created.
func EnsureIdentification(path string, cfg *Config) (bool, error) {
	if cfg.Identification != nil && cfg.Identification.Token != "" {
		return false, nil
	}

	cfg.Identification = &IdentificationConfig{Token: uuid.NewString()}
	if err := Save(path, cfg); err != nil {
		return true, fmt.Errorf("persisting identification: %w", err)
	}
	return true, nil
}
