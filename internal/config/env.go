package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides applies BCC_* environment variables to cfg.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"BCC_HOST":            &cfg.Server.Host,
		"BCC_WEB_DIR":         &cfg.Server.WebDir,
		"BCC_BT_INTERFACE":    &cfg.Bluetooth.Interface,
		"BCC_HCICONFIG_PATH":  &cfg.Bluetooth.HciconfigPath,
		"BCC_HCITOOL_PATH":    &cfg.Bluetooth.HcitoolPath,
		"BCC_BEACON_UUID":     &cfg.Beacon.UUID,
		"BCC_USB_LOCATION":    &cfg.USB.Location,
		"BCC_UHUBCTL_PATH":    &cfg.USB.UhubctlPath,
		"BCC_STORE_PATH":      &cfg.Store.Path,
		"BCC_AUDIT_DIR":       &cfg.Audit.Dir,
		"BCC_LOG_LEVEL":       &cfg.Log.Level,
		"BCC_LOG_FORMAT":      &cfg.Log.Format,
		"BCC_LOG_FILE":        &cfg.Log.File,
		"BCC_AUTH_ALGORITHM":  &cfg.Auth.Algorithm,
		"BCC_AUTH_SECRET":     &cfg.Auth.Secret,
		"BCC_AUTH_PUBLIC_KEY": &cfg.Auth.PublicKeyPEM,
		"BCC_AUTH_ISSUER":     &cfg.Auth.Issuer,
	}
	for key, dst := range strs {
		if val, ok := os.LookupEnv(key); ok {
			*dst = val
		}
	}

	ints := map[string]*int{
		"BCC_PORT":               &cfg.Server.Port,
		"BCC_BEACON_MAJOR":       &cfg.Beacon.Major,
		"BCC_BEACON_MINOR":       &cfg.Beacon.Minor,
		"BCC_BEACON_RSSI":        &cfg.Beacon.RSSI,
		"BCC_BEACON_INTERVAL_MS": &cfg.Beacon.IntervalMs,
		"BCC_USB_PORT":           &cfg.USB.Port,
		"BCC_COMMAND_TIMEOUT_MS": &cfg.Bluetooth.CommandTimeoutMs,
	}
	for key, dst := range ints {
		if val := os.Getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*int{
		"BCC_MULTIPLEX_DWELL":      &cfg.Multiplex.DwellMs,
		"BCC_MULTIPLEX_STOP_GRACE": &cfg.Multiplex.StopGraceMs,
	}
	for key, dst := range durations {
		if val := os.Getenv(key); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = int(d / time.Millisecond)
		}
	}

	bools := map[string]*bool{
		"BCC_USE_SUDO":     &cfg.Bluetooth.UseSudo,
		"BCC_AUTH_ENABLED": &cfg.Auth.Enabled,
	}
	for key, dst := range bools {
		if val := os.Getenv(key); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	return nil
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
