// Package config provides TOML configuration file loading and parsing for the bridge.
// The configuration file lives at ~/.btbridge/config.toml by default, but can be
// overridden with the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/btaudio/bridge/internal/apperrors"
)

// Config represents the bridge configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Addr is the host:port for the HTTP/WebSocket server.
	// Default: 0.0.0.0:8000
	Addr string `toml:"addr"`

	// StreamPath is the URL path the encoded stream is served on.
	// Default: /live.mp3
	StreamPath string `toml:"stream_path"`

	// DBPath is the path to the SQLite database for the event journal.
	// Default: ~/.btbridge/events.db
	DBPath string `toml:"db_path"`

	// LogFile is the path for daemon log output. Empty means stderr.
	LogFile string `toml:"log_file"`

	// PIDFile is the path to write the daemon PID file.
	// Default: ~/.btbridge/bridge.pid
	PIDFile string `toml:"pid_file"`

	// MdnsEnabled advertises the bridge on the local network so LAN
	// players can discover the stream without typing IP addresses.
	// Default: false (disabled - must be explicitly enabled)
	MdnsEnabled bool `toml:"mdns_enabled"`

	Audio     Audio     `toml:"audio"`
	Bluetooth Bluetooth `toml:"bluetooth"`
	Fallback  Fallback  `toml:"fallback"`
	Streaming Streaming `toml:"streaming"`
	Cast      Cast      `toml:"cast"`
}

// Audio holds the parameters passed to the external encoder.
type Audio struct {
	// Bitrate is the encoder output bitrate, e.g. "192k".
	Bitrate string `toml:"bitrate"`

	// SampleRate is the capture/encode sample rate in Hz.
	SampleRate int `toml:"sample_rate"`

	// Channels is the channel count (2 = stereo).
	Channels int `toml:"channels"`

	// Format is the output container/codec format, e.g. "mp3".
	Format string `toml:"format"`

	// BufferSize is the chunk size in bytes for stream relaying.
	BufferSize int `toml:"buffer_size"`
}

// Bluetooth holds connection-monitor settings.
type Bluetooth struct {
	// AutoReconnect restarts the stream when a device reconnects.
	AutoReconnect bool `toml:"auto_reconnect"`

	// PollIntervalSec is the monitor tick interval in seconds.
	PollIntervalSec int `toml:"poll_interval_sec"`

	// PreferredSource, when set, is used verbatim as the capture source
	// and skips source resolution entirely.
	PreferredSource string `toml:"preferred_source"`
}

// Fallback controls behavior when no Bluetooth source is available.
type Fallback struct {
	// UseDefaultSource falls back to the system default input when no
	// Bluetooth source can be resolved.
	UseDefaultSource bool `toml:"use_default_source"`

	// MaxRetries is the number of encoder start attempts per restart request.
	MaxRetries int `toml:"max_retries"`

	// RetryDelaySec is the base delay between attempts; doubled per attempt.
	RetryDelaySec int `toml:"retry_delay_sec"`
}

// Streaming holds status-feed settings.
type Streaming struct {
	// StatusIntervalSec is the broadcaster tick interval in seconds.
	StatusIntervalSec int `toml:"status_interval_sec"`

	// EnableRMSMeter enables parsing the encoder's diagnostic stream
	// for signal-level metering.
	EnableRMSMeter bool `toml:"enable_rms_meter"`
}

// Cast holds cast-receiver discovery settings.
type Cast struct {
	// DiscoverEnabled enables mDNS discovery of cast receivers.
	DiscoverEnabled bool `toml:"discover_enabled"`

	// DiscoveryTimeoutSec bounds how long a discovery browse runs.
	DiscoveryTimeoutSec int `toml:"discovery_timeout_sec"`
}

// DefaultConfigPath returns the default config file location: ~/.btbridge/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".btbridge", "config.toml"), nil
}

// WriteDefault creates a config file with LAN-ready defaults at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string) error {
	// Check if file already exists - never overwrite
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, nothing to do
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Build minimal TOML config with LAN-ready defaults
	// Using raw string to control formatting exactly
	content := `# btbridge configuration
# Created by 'btbridge start'

# Listen on all interfaces so LAN players can reach the stream
addr = "0.0.0.0:8000"

[audio]
bitrate = "192k"
sample_rate = 44100
channels = 2
format = "mp3"

[bluetooth]
auto_reconnect = true

[fallback]
use_default_source = true
`

	// Write with restrictive permissions (owner read/write only)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config
// with defaults applied for any field the file leaves unset.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.btbridge/config.toml). Returns the defaults without error if the
//     default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		// This allows the bridge to start without any config file.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			// Can't determine home dir, return defaults
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			// Default config doesn't exist, that's fine
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		// This matches user expectation: if they specify a config file, it should exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	// Parse the TOML file over the defaults. Any parse error is fatal since
	// the user expects the config to be applied.
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return apperrors.ConfigInvalid("addr must not be empty")
	}
	if c.Audio.SampleRate <= 0 {
		return apperrors.ConfigInvalid(fmt.Sprintf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels <= 0 {
		return apperrors.ConfigInvalid(fmt.Sprintf("audio.channels must be positive, got %d", c.Audio.Channels))
	}
	if c.Audio.Format == "" {
		return apperrors.ConfigInvalid("audio.format must not be empty")
	}
	if c.Audio.BufferSize <= 0 {
		return apperrors.ConfigInvalid(fmt.Sprintf("audio.buffer_size must be positive, got %d", c.Audio.BufferSize))
	}
	if c.Fallback.MaxRetries < 1 {
		return apperrors.ConfigInvalid(fmt.Sprintf("fallback.max_retries must be at least 1, got %d", c.Fallback.MaxRetries))
	}
	if c.Fallback.RetryDelaySec < 0 {
		return apperrors.ConfigInvalid("fallback.retry_delay_sec must not be negative")
	}
	if c.Bluetooth.PollIntervalSec <= 0 {
		return apperrors.ConfigInvalid(fmt.Sprintf("bluetooth.poll_interval_sec must be positive, got %d", c.Bluetooth.PollIntervalSec))
	}
	if c.Streaming.StatusIntervalSec <= 0 {
		return apperrors.ConfigInvalid(fmt.Sprintf("streaming.status_interval_sec must be positive, got %d", c.Streaming.StatusIntervalSec))
	}
	return nil
}
