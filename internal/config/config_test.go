package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bcc.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.Dwell() != 400*time.Millisecond {
		t.Errorf("Expected 400ms dwell, got %v", cfg.Dwell())
	}
	if cfg.StopGrace() != 3*cfg.Dwell() {
		t.Errorf("Expected stop grace of three dwells, got %v", cfg.StopGrace())
	}
	if cfg.Addr() != "0.0.0.0:8000" {
		t.Errorf("Expected 0.0.0.0:8000, got %s", cfg.Addr())
	}
	if cfg.OneShot() {
		t.Error("Default config should serve, not one-shot")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, `
bluetooth:
  interface: hci1
  useSudo: false
multiplex:
  dwellMs: 250
  stopGraceMs: 750
usb:
  location: "2-1"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bluetooth.Interface != "hci1" || cfg.Bluetooth.UseSudo {
		t.Errorf("Unexpected bluetooth config %+v", cfg.Bluetooth)
	}
	if cfg.Dwell() != 250*time.Millisecond {
		t.Errorf("Expected 250ms dwell, got %v", cfg.Dwell())
	}
	if cfg.USB.Location != "2-1" || cfg.USB.Port != 2 {
		t.Errorf("Expected file value merged over defaults, got %+v", cfg.USB)
	}
	if cfg.Beacon.RSSI != -59 {
		t.Errorf("Expected default rssi kept, got %d", cfg.Beacon.RSSI)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "bluetooth:\n  iface: hci1\n")
	if _, err := Load(path); err == nil {
		t.Error("Expected unknown key to fail strict decoding")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadUsesBCCConfigEnv(t *testing.T) {
	path := writeFile(t, "server:\n  port: 9000\n")
	t.Setenv("BCC_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Expected port 9000 from BCC_CONFIG, got %d", cfg.Server.Port)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "bluetooth:\n  interface: hci1\n")
	t.Setenv("BCC_BT_INTERFACE", "hci2")
	t.Setenv("BCC_PORT", "8100")
	t.Setenv("BCC_MULTIPLEX_DWELL", "1s")
	t.Setenv("BCC_USE_SUDO", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bluetooth.Interface != "hci2" {
		t.Errorf("Expected env interface hci2, got %s", cfg.Bluetooth.Interface)
	}
	if cfg.Server.Port != 8100 {
		t.Errorf("Expected port 8100, got %d", cfg.Server.Port)
	}
	if cfg.Multiplex.DwellMs != 1000 {
		t.Errorf("Expected dwell 1000ms, got %d", cfg.Multiplex.DwellMs)
	}
	if cfg.Bluetooth.UseSudo {
		t.Error("Expected sudo disabled by env")
	}
}

func TestEnvOverrideErrors(t *testing.T) {
	for key, val := range map[string]string{
		"BCC_PORT":            "eighty",
		"BCC_MULTIPLEX_DWELL": "soon",
		"BCC_AUTH_ENABLED":    "maybe",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(""); err == nil || !strings.Contains(err.Error(), key) {
				t.Errorf("Expected error naming %s, got %v", key, err)
			}
		})
	}
}

func TestFlagsApplyOnlyExplicit(t *testing.T) {
	cfg := Default()
	cfg.Bluetooth.Interface = "hci1"

	fs := flag.NewFlagSet("bcc", flag.ContinueOnError)
	f := RegisterFlags(fs)
	if err := fs.Parse([]string{"-M", "7", "--minor", "9", "-p", "-1", "-r", "-70"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	f.Apply(cfg)

	if cfg.Beacon.Major != 7 || cfg.Beacon.Minor != 9 || cfg.Beacon.RSSI != -70 {
		t.Errorf("Unexpected beacon config %+v", cfg.Beacon)
	}
	if !cfg.OneShot() {
		t.Error("Expected -p -1 to select one-shot mode")
	}
	if cfg.Bluetooth.Interface != "hci1" {
		t.Errorf("Unset flag overwrote interface: %s", cfg.Bluetooth.Interface)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"bad uuid":        func(c *Config) { c.Beacon.UUID = "nope" },
		"major range":     func(c *Config) { c.Beacon.Major = 70000 },
		"interval":        func(c *Config) { c.Beacon.IntervalMs = 5 },
		"dwell":           func(c *Config) { c.Multiplex.DwellMs = 10 },
		"grace":           func(c *Config) { c.Multiplex.StopGraceMs = 100 },
		"iface":           func(c *Config) { c.Bluetooth.Interface = " " },
		"log level":       func(c *Config) { c.Log.Level = "loud" },
		"log format":      func(c *Config) { c.Log.Format = "xml" },
		"auth secret":     func(c *Config) { c.Auth.Enabled = true },
		"auth algorithm":  func(c *Config) { c.Auth.Enabled = true; c.Auth.Algorithm = "none" },
		"usb port":        func(c *Config) { c.USB.Port = 0 },
		"server port":     func(c *Config) { c.Server.Port = 70000 },
		"command timeout": func(c *Config) { c.Bluetooth.CommandTimeoutMs = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestMarshalMasksSecret(t *testing.T) {
	cfg := Default()
	cfg.Auth.Secret = "hunter2"

	out, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(out), "hunter2") {
		t.Error("Secret leaked into marshaled config")
	}
	if cfg.Auth.Secret != "hunter2" {
		t.Error("Marshal modified the original config")
	}
}
