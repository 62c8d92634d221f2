package config

import (
	"fmt"
	"strings"

	"github.com/beacon-control/bcc/internal/ibeacon"
)

// Validate checks the configuration for values the controller cannot run with.
func Validate(cfg *Config) error {
	if cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d must be <= 65535", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeoutSec <= 0 || cfg.Server.WriteTimeoutSec <= 0 || cfg.Server.IdleTimeoutSec <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	if strings.TrimSpace(cfg.Bluetooth.Interface) == "" {
		return fmt.Errorf("bluetooth interface must be set")
	}
	if cfg.Bluetooth.CommandTimeoutMs <= 0 {
		return fmt.Errorf("bluetooth command timeout must be positive, got %d ms", cfg.Bluetooth.CommandTimeoutMs)
	}

	if _, err := ibeacon.ParseIdentity(cfg.Beacon.UUID, cfg.Beacon.Major, cfg.Beacon.Minor, cfg.Beacon.RSSI); err != nil {
		return fmt.Errorf("default beacon: %w", err)
	}
	if _, err := ibeacon.EncodeInterval(cfg.Beacon.IntervalMs, cfg.Beacon.IntervalMs); err != nil {
		return fmt.Errorf("beacon interval: %w", err)
	}

	if cfg.Multiplex.DwellMs < 50 || cfg.Multiplex.DwellMs > 60000 {
		return fmt.Errorf("multiplex dwell %d ms is outside range [50, 60000]", cfg.Multiplex.DwellMs)
	}
	if cfg.Multiplex.StopGraceMs < cfg.Multiplex.DwellMs {
		return fmt.Errorf("multiplex stop grace %d ms must be at least one dwell (%d ms)", cfg.Multiplex.StopGraceMs, cfg.Multiplex.DwellMs)
	}

	if cfg.USB.Port <= 0 {
		return fmt.Errorf("usb port must be positive, got %d", cfg.USB.Port)
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store path must be set")
	}
	if cfg.Telemetry.BufferSize <= 0 {
		return fmt.Errorf("telemetry buffer size must be positive")
	}

	validLevels := []string{"trace", "debug", "info", "warn", "warning", "error"}
	if !contains(validLevels, strings.ToLower(cfg.Log.Level)) {
		return fmt.Errorf("invalid log level %s, must be one of: %v", cfg.Log.Level, validLevels)
	}
	validFormats := []string{"text", "json"}
	if !contains(validFormats, cfg.Log.Format) {
		return fmt.Errorf("invalid log format %s, must be one of: %v", cfg.Log.Format, validFormats)
	}

	if cfg.Auth.Enabled {
		switch cfg.Auth.Algorithm {
		case "HS256":
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("auth algorithm HS256 requires a secret")
			}
		case "RS256":
			if cfg.Auth.PublicKeyPEM == "" {
				return fmt.Errorf("auth algorithm RS256 requires a public key")
			}
		default:
			return fmt.Errorf("unsupported auth algorithm %s", cfg.Auth.Algorithm)
		}
	}

	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
