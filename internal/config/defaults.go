package config

import (
	"os"
	"path/filepath"
)

// DefaultAddr is the default listen address for the HTTP server.
const DefaultAddr = "0.0.0.0:8000"

// DefaultStreamPath is the default URL path for the encoded stream.
const DefaultStreamPath = "/live.mp3"

// Default returns a Config populated with the stock defaults.
// Load decodes the TOML file on top of this, so the file only needs
// to mention the fields it changes.
func Default() *Config {
	return &Config{
		Addr:       DefaultAddr,
		StreamPath: DefaultStreamPath,
		DBPath:     defaultHomePath("events.db"),
		PIDFile:    defaultHomePath("bridge.pid"),
		Audio: Audio{
			Bitrate:    "192k",
			SampleRate: 44100,
			Channels:   2,
			Format:     "mp3",
			BufferSize: 4096,
		},
		Bluetooth: Bluetooth{
			AutoReconnect:   true,
			PollIntervalSec: 3,
		},
		Fallback: Fallback{
			UseDefaultSource: true,
			MaxRetries:       3,
			RetryDelaySec:    5,
		},
		Streaming: Streaming{
			StatusIntervalSec: 2,
			EnableRMSMeter:    true,
		},
		Cast: Cast{
			DiscoverEnabled:     true,
			DiscoveryTimeoutSec: 10,
		},
	}
}

// defaultHomePath joins name onto ~/.btbridge, falling back to a relative
// path when the home directory cannot be determined.
func defaultHomePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".btbridge", name)
}
