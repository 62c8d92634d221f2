package config

import (
	"flag"
)

// Flags are the command-line overrides. Only flags given explicitly are
// applied, so a YAML or environment value survives an unset flag.
type Flags struct {
	ConfigPath string

	fs          *flag.FlagSet
	uuid        string
	major       int
	minor       int
	interval    int
	rssi        int
	port        int
	usbPort     int
	usbLocation string
	iface       string
}

// RegisterFlags defines the controller flags on fs. Long and short names
// match the legacy beacon tool.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs}

	fs.StringVar(&f.ConfigPath, "config", "", "path to YAML config file")

	for _, name := range []string{"uuid", "u"} {
		fs.StringVar(&f.uuid, name, d.Beacon.UUID, "UUID of the ibeacon")
	}
	for _, name := range []string{"major", "M"} {
		fs.IntVar(&f.major, name, d.Beacon.Major, "major of the beacon [0-65535]")
	}
	for _, name := range []string{"minor", "m"} {
		fs.IntVar(&f.minor, name, d.Beacon.Minor, "minor of the beacon [0-65535]")
	}
	for _, name := range []string{"interval", "i"} {
		fs.IntVar(&f.interval, name, d.Beacon.IntervalMs, "advertisement interval in ms")
	}
	for _, name := range []string{"rssi", "r"} {
		fs.IntVar(&f.rssi, name, d.Beacon.RSSI, "RSSI in dBm at 1 meter")
	}
	for _, name := range []string{"port", "p"} {
		fs.IntVar(&f.port, name, d.Server.Port, "port to listen on, <= 0 advertises once and exits")
	}
	for _, name := range []string{"usb-port", "P"} {
		fs.IntVar(&f.usbPort, name, d.USB.Port, "USB port to control")
	}
	for _, name := range []string{"usb-location", "L"} {
		fs.StringVar(&f.usbLocation, name, d.USB.Location, "USB hub location to control")
	}
	for _, name := range []string{"bluetooth-interface", "I"} {
		fs.StringVar(&f.iface, name, d.Bluetooth.Interface, "Bluetooth interface to control")
	}

	return f
}

// Apply copies explicitly set flags into cfg.
func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "uuid", "u":
			cfg.Beacon.UUID = f.uuid
		case "major", "M":
			cfg.Beacon.Major = f.major
		case "minor", "m":
			cfg.Beacon.Minor = f.minor
		case "interval", "i":
			cfg.Beacon.IntervalMs = f.interval
		case "rssi", "r":
			cfg.Beacon.RSSI = f.rssi
		case "port", "p":
			cfg.Server.Port = f.port
		case "usb-port", "P":
			cfg.USB.Port = f.usbPort
		case "usb-location", "L":
			cfg.USB.Location = f.usbLocation
		case "bluetooth-interface", "I":
			cfg.Bluetooth.Interface = f.iface
		}
	})
}
