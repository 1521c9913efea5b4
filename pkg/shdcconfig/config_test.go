package shdcconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseHubFlagsDefaults(t *testing.T) {
	opts, err := ParseHubFlags(nil)
	if err != nil {
		t.Fatalf("ParseHubFlags: %v", err)
	}
	if opts.Capabilities != "shdc/1.0" {
		t.Fatalf("got capabilities %q, want default", opts.Capabilities)
	}
	if opts.BroadcastRotationInterval != 15*time.Minute {
		t.Fatalf("got rotation %v, want 15m default", opts.BroadcastRotationInterval)
	}
}

func TestParseHubFlagsOverridesDefaults(t *testing.T) {
	opts, err := ParseHubFlags([]string{"-listen", ":9999", "-broadcast-rotation", "1h"})
	if err != nil {
		t.Fatalf("ParseHubFlags: %v", err)
	}
	if opts.ListenAddr != ":9999" {
		t.Fatalf("got listen addr %q, want :9999", opts.ListenAddr)
	}
	if opts.BroadcastRotationInterval != time.Hour {
		t.Fatalf("got rotation %v, want 1h", opts.BroadcastRotationInterval)
	}
}

func TestParseHubFlagsConfigFileThenFlagOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.json")
	if err := os.WriteFile(path, []byte(`{"capabilities": "shdc/custom", "listen_addr": ":1111"}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	opts, err := ParseHubFlags([]string{"-config", path, "-listen", ":2222"})
	if err != nil {
		t.Fatalf("ParseHubFlags: %v", err)
	}
	if opts.Capabilities != "shdc/custom" {
		t.Fatalf("got capabilities %q, want value from config file", opts.Capabilities)
	}
	if opts.ListenAddr != ":2222" {
		t.Fatalf("got listen addr %q, want explicit flag to win over config file", opts.ListenAddr)
	}
}

func TestParseSensorFlagsDefaults(t *testing.T) {
	opts, err := ParseSensorFlags(nil)
	if err != nil {
		t.Fatalf("ParseSensorFlags: %v", err)
	}
	if opts.DeviceInfo != "shdc-sensor" {
		t.Fatalf("got device info %q, want default", opts.DeviceInfo)
	}
	if opts.HubAddr != "" {
		t.Fatalf("got hub addr %q, want empty (discover, not direct join)", opts.HubAddr)
	}
}

func TestParseSensorFlagsHubAddrOverride(t *testing.T) {
	opts, err := ParseSensorFlags([]string{"-hub-addr", "10.0.0.5:56700"})
	if err != nil {
		t.Fatalf("ParseSensorFlags: %v", err)
	}
	if opts.HubAddr != "10.0.0.5:56700" {
		t.Fatalf("got hub addr %q, want 10.0.0.5:56700", opts.HubAddr)
	}
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	var opts HubOptions
	if err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.json"), &opts); err != nil {
		t.Fatalf("LoadFile on missing file: %v", err)
	}
}
