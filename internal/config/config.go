package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config represents the complete controller configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Beacon    BeaconConfig    `yaml:"beacon"`
	Multiplex MultiplexConfig `yaml:"multiplex"`
	USB       USBConfig       `yaml:"usb"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Audit     AuditConfig     `yaml:"audit"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig holds HTTP server settings. Port <= 0 selects one-shot mode.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeoutSec  int    `yaml:"readTimeoutSec"`
	WriteTimeoutSec int    `yaml:"writeTimeoutSec"`
	IdleTimeoutSec  int    `yaml:"idleTimeoutSec"`
	WebDir          string `yaml:"webDir"`
}

// BluetoothConfig selects the controller and the host tools driving it.
type BluetoothConfig struct {
	Interface        string `yaml:"interface"`
	UseSudo          bool   `yaml:"useSudo"`
	HciconfigPath    string `yaml:"hciconfigPath"`
	HcitoolPath      string `yaml:"hcitoolPath"`
	CommandTimeoutMs int    `yaml:"commandTimeoutMs"`
}

// BeaconConfig holds the default identity and radio interval.
type BeaconConfig struct {
	UUID       string `yaml:"uuid"`
	Major      int    `yaml:"major"`
	Minor      int    `yaml:"minor"`
	RSSI       int    `yaml:"rssi"`
	IntervalMs int    `yaml:"intervalMs"`
}

// MultiplexConfig holds rotation timing.
type MultiplexConfig struct {
	DwellMs     int `yaml:"dwellMs"`
	StopGraceMs int `yaml:"stopGraceMs"`
}

// USBConfig locates the hub port powering the radio dongle.
type USBConfig struct {
	Port        int    `yaml:"port"`
	Location    string `yaml:"location"`
	UhubctlPath string `yaml:"uhubctlPath"`
}

// StoreConfig locates the saved beacon list.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// TelemetryConfig sizes the event stream.
type TelemetryConfig struct {
	BufferSize           int `yaml:"bufferSize"`
	HeartbeatIntervalSec int `yaml:"heartbeatIntervalSec"`
}

// AuditConfig holds audit log location and rotation.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// LogConfig holds application log settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// AuthConfig enables bearer-token auth on the control API.
type AuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Algorithm    string `yaml:"algorithm"`
	Secret       string `yaml:"secret"`
	PublicKeyPEM string `yaml:"publicKeyPem"`
	Issuer       string `yaml:"issuer"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 30,
			IdleTimeoutSec:  120,
			WebDir:          ".",
		},
		Bluetooth: BluetoothConfig{
			Interface:        "hci0",
			UseSudo:          true,
			HciconfigPath:    "hciconfig",
			HcitoolPath:      "hcitool",
			CommandTimeoutMs: 5000,
		},
		Beacon: BeaconConfig{
			UUID:       "bbbbbbbb-aaaa-dddd-beef-0000000000fe",
			Major:      1,
			Minor:      2,
			RSSI:       -59,
			IntervalMs: 100,
		},
		Multiplex: MultiplexConfig{
			DwellMs:     400,
			StopGraceMs: 1200,
		},
		USB: USBConfig{
			Port:        2,
			Location:    "1-1",
			UhubctlPath: "uhubctl",
		},
		Store: StoreConfig{
			Path: "beacons_config.json",
		},
		Telemetry: TelemetryConfig{
			BufferSize:           100,
			HeartbeatIntervalSec: 15,
		},
		Audit: AuditConfig{
			Dir:        "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: AuthConfig{
			Algorithm: "HS256",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path (falling back to BCC_CONFIG) and environment overrides. Flags are
// applied by the caller afterwards, followed by Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("BCC_CONFIG")
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// OneShot reports whether the process should advertise once and exit.
func (c *Config) OneShot() bool {
	return c.Server.Port <= 0
}

// Dwell returns the multiplex slot duration.
func (c *Config) Dwell() time.Duration {
	return time.Duration(c.Multiplex.DwellMs) * time.Millisecond
}

// StopGrace returns the bound on waiting for the multiplex loop to exit.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Multiplex.StopGraceMs) * time.Millisecond
}

// CommandTimeout returns the bound on a single host tool invocation.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Bluetooth.CommandTimeoutMs) * time.Millisecond
}

// Marshal renders the configuration as YAML, with secrets masked.
func (c *Config) Marshal() ([]byte, error) {
	masked := *c
	if masked.Auth.Secret != "" {
		masked.Auth.Secret = "***"
	}
	return yaml.Marshal(&masked)
}
