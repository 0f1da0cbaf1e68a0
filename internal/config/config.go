// Package config loads runtime configuration for the bridge: CLI flags
// override environment variables, which override built-in defaults.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the bridge.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	ControlPort int
	StatusPort  int
	LocalName   string
	MIDIDevice  string   // path to a local MIDI character device; empty disables the sequencer collaborator
	Peers       []string // host:port pairs to connect to at startup
	LogLevel    string
	LogFormat   string // "text" or "json"
	EnableMDNS  bool
}

const (
	// DefaultControlPort is the bridge's default AppleMIDI control port
	// (the data port is always control-port+1). Exported so other
	// packages that need the protocol's default port — e.g. discovery,
	// which uses it for every discovered peer because it does not decode
	// the advertised port — stay consistent with this one definition.
	DefaultControlPort = 10008
	defaultStatusPort  = 9108
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
)

const envPrefix = "RTPMIDI_"

// Load parses configuration from CLI flags and environment variables.
// Positional arguments after the flags are host:port peers to connect to
// at startup.
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("rtpmidi-bridge", flag.ContinueOnError)

	fs.IntVar(&cfg.ControlPort, "control-port", DefaultControlPort, "AppleMIDI control port (data port is control-port+1)")
	fs.IntVar(&cfg.StatusPort, "status-port", defaultStatusPort, "HTTP port for /healthz, /metrics and /sessions")
	fs.StringVar(&cfg.LocalName, "name", defaultLocalName(), "session display name advertised to peers")
	fs.StringVar(&cfg.MIDIDevice, "midi-device", "", "local MIDI character device path (disabled if empty)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.BoolVar(&cfg.EnableMDNS, "mdns", true, "discover AppleMIDI peers via mDNS")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	cfg.Peers = fs.Args()

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func defaultLocalName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "rtpmidi-bridge"
	}
	return host + " - ALSA SEQ"
}

// applyEnvOverrides checks environment variables for any flag not
// explicitly provided on the command line, preserving CLI > env >
// default precedence.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	envMap := map[string]string{
		"control-port": envPrefix + "CONTROL_PORT",
		"status-port":  envPrefix + "STATUS_PORT",
		"name":         envPrefix + "NAME",
		"midi-device":  envPrefix + "MIDI_DEVICE",
		"log-level":    envPrefix + "LOG_LEVEL",
		"log-format":   envPrefix + "LOG_FORMAT",
		"mdns":         envPrefix + "MDNS",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "control-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.ControlPort = v
			}
		case "status-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.StatusPort = v
			}
		case "name":
			cfg.LocalName = val
		case "midi-device":
			cfg.MIDIDevice = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "mdns":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.EnableMDNS = v
			}
		}
	}
}

func (c *Config) validate() error {
	if c.ControlPort < 1 || c.ControlPort > 65534 {
		return fmt.Errorf("control-port must be between 1 and 65534, got %d", c.ControlPort)
	}
	if c.StatusPort < 1 || c.StatusPort > 65535 {
		return fmt.Errorf("status-port must be between 1 and 65535, got %d", c.StatusPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	for _, peer := range c.Peers {
		if peer == "test" {
			continue
		}
		if !strings.Contains(peer, ":") {
			return fmt.Errorf("peer %q must be host:port", peer)
		}
	}
	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate
// format and level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log
// level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
