// Package shdcconfig loads hub and sensor CLI configuration from flags
// (stdlib flag, in the style of the teacher's examples/common/flags.go) and
// an optional JSON file, per spec.md §1's "configuration and persistent
// storage formats" out-of-core carve-out: it is the CLI-facing layer the
// engine itself knows nothing about.
package shdcconfig

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

// HubOptions holds the settings cmd/shdc-hub needs to construct a
// keystore, transport, and engine.Hub.
type HubOptions struct {
	ListenAddr                string        `json:"listen_addr"`
	MulticastInterface        string        `json:"multicast_interface"`
	BroadcastAddr             string        `json:"broadcast_addr"`
	Capabilities              string        `json:"capabilities"`
	BroadcastRotationInterval time.Duration `json:"broadcast_rotation_interval"`
	SessionRotationInterval   time.Duration `json:"session_rotation_interval"`
}

// DefaultHubOptions returns the defaults the teacher's ParseFlags pattern
// applies before overlaying a config file or explicit flags.
func DefaultHubOptions() HubOptions {
	return HubOptions{
		ListenAddr:                fmt.Sprintf(":%d", 56700),
		Capabilities:              "shdc/1.0",
		BroadcastRotationInterval: 15 * time.Minute,
		SessionRotationInterval:   24 * time.Hour,
	}
}

// SensorOptions holds the settings cmd/shdc-sensor needs to construct a
// keystore, transport, and engine.Sensor, plus the discover/join call
// parameters main() drives at startup.
type SensorOptions struct {
	ListenAddr      string        `json:"listen_addr"`
	DiscoveryAddr   string        `json:"discovery_addr"`
	HubAddr         string        `json:"hub_addr"`
	DeviceInfo      string        `json:"device_info"`
	DiscoverTimeout time.Duration `json:"discover_timeout"`
	JoinTimeout     time.Duration `json:"join_timeout"`
}

// DefaultSensorOptions mirrors DefaultHubOptions for the sensor role.
func DefaultSensorOptions() SensorOptions {
	return SensorOptions{
		ListenAddr:      ":0",
		DiscoveryAddr:   fmt.Sprintf("255.255.255.255:%d", 56700),
		DeviceInfo:      "shdc-sensor",
		DiscoverTimeout: 5 * time.Minute,
		JoinTimeout:     30 * time.Second,
	}
}

// LoadFile overlays JSON file contents at path onto opts. A missing file is
// not an error: flags alone are a complete configuration.
func LoadFile(path string, opts interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("shdcconfig: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, opts); err != nil {
		return fmt.Errorf("shdcconfig: parse %s: %w", path, err)
	}
	return nil
}

// ParseHubFlags parses args (typically os.Args[1:]) into a HubOptions,
// starting from defaults, then overlaying -config's JSON file, then
// explicit flags, so flags always win. The shape follows the teacher's
// ParseFlags: one *FlagSet, flag.DurationVar/StringVar per field.
func ParseHubFlags(args []string) (HubOptions, error) {
	opts := DefaultHubOptions()
	configPath := peekConfigFlag(args)
	if err := LoadFile(configPath, &opts); err != nil {
		return HubOptions{}, err
	}

	fs := flag.NewFlagSet("shdc-hub", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", configPath, "path to a JSON config file")
	fs.StringVar(&opts.ListenAddr, "listen", opts.ListenAddr, "UDP listen address")
	fs.StringVar(&opts.MulticastInterface, "multicast-iface", opts.MulticastInterface, "network interface to join the discovery multicast group on")
	fs.StringVar(&opts.BroadcastAddr, "broadcast-addr", opts.BroadcastAddr, "address BROADCAST_COMMAND is sent to (empty = fan out to known sensors)")
	fs.StringVar(&opts.Capabilities, "capabilities", opts.Capabilities, "capability string advertised in HUB_DISCOVERY_RESP")
	fs.DurationVar(&opts.BroadcastRotationInterval, "broadcast-rotation", opts.BroadcastRotationInterval, "broadcast key rotation interval")
	fs.DurationVar(&opts.SessionRotationInterval, "session-rotation", opts.SessionRotationInterval, "session key rotation interval")
	if err := fs.Parse(args); err != nil {
		return HubOptions{}, err
	}
	return opts, nil
}

// ParseSensorFlags is ParseHubFlags's sensor-side counterpart.
func ParseSensorFlags(args []string) (SensorOptions, error) {
	opts := DefaultSensorOptions()
	configPath := peekConfigFlag(args)
	if err := LoadFile(configPath, &opts); err != nil {
		return SensorOptions{}, err
	}

	fs := flag.NewFlagSet("shdc-sensor", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", configPath, "path to a JSON config file")
	fs.StringVar(&opts.ListenAddr, "listen", opts.ListenAddr, "UDP listen address")
	fs.StringVar(&opts.DiscoveryAddr, "discovery-addr", opts.DiscoveryAddr, "address HUB_DISCOVERY_REQ is sent to")
	fs.StringVar(&opts.HubAddr, "hub-addr", opts.HubAddr, "hub address to Join directly, skipping Discover")
	fs.StringVar(&opts.DeviceInfo, "device-info", opts.DeviceInfo, "free-text device description")
	fs.DurationVar(&opts.DiscoverTimeout, "discover-timeout", opts.DiscoverTimeout, "Discover deadline")
	fs.DurationVar(&opts.JoinTimeout, "join-timeout", opts.JoinTimeout, "Join deadline")
	if err := fs.Parse(args); err != nil {
		return SensorOptions{}, err
	}
	return opts, nil
}

// peekConfigFlag extracts a leading "-config"/"--config" value from args,
// so the JSON file it names can be loaded before the full flag set (whose
// defaults depend on that file's contents) is parsed.
func peekConfigFlag(args []string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
