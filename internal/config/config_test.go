package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"RTPMIDI_CONTROL_PORT", "RTPMIDI_STATUS_PORT", "RTPMIDI_NAME",
		"RTPMIDI_MIDI_DEVICE", "RTPMIDI_LOG_LEVEL", "RTPMIDI_LOG_FORMAT",
		"RTPMIDI_MDNS",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ControlPort != DefaultControlPort {
		t.Errorf("ControlPort = %d, want %d", cfg.ControlPort, DefaultControlPort)
	}
	if cfg.StatusPort != defaultStatusPort {
		t.Errorf("StatusPort = %d, want %d", cfg.StatusPort, defaultStatusPort)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if !cfg.EnableMDNS {
		t.Error("EnableMDNS = false, want true by default")
	}
}

func TestLoadEnvVarOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("RTPMIDI_CONTROL_PORT", "6004")
	t.Setenv("RTPMIDI_LOG_LEVEL", "debug")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ControlPort != 6004 {
		t.Errorf("ControlPort = %d, want 6004", cfg.ControlPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadFlagTakesPrecedenceOverEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("RTPMIDI_CONTROL_PORT", "6004")

	cfg, err := Load([]string{"-control-port", "7004"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ControlPort != 7004 {
		t.Errorf("ControlPort = %d, want 7004 (flag should win over env)", cfg.ControlPort)
	}
}

func TestLoadPositionalArgsArePeers(t *testing.T) {
	clearEnv(t)
	cfg, err := Load([]string{"10.0.0.5:5004", "10.0.0.6:5004"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Peers) != 2 {
		t.Fatalf("Peers = %v, want 2 entries", cfg.Peers)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	clearEnv(t)
	if _, err := Load([]string{"-control-port", "0"}); err == nil {
		t.Fatal("expected error for control-port 0")
	}
}

func TestLoadRejectsMalformedPeer(t *testing.T) {
	clearEnv(t)
	if _, err := Load([]string{"not-a-host-port"}); err == nil {
		t.Fatal("expected error for a peer without host:port form")
	}
}
