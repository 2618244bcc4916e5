// Package mdns provides optional mDNS/Bonjour advertisement of the bridge.
//
// When enabled, the bridge advertises itself on the local network using
// DNS-SD, so LAN media players and companion apps can find the stream
// without manual IP entry. This is opt-in.
//
// The advertisement includes:
//   - Service type: _btbridge._tcp
//   - TXT records with the stream path, audio format, and version
package mdns

import (
	"fmt"
	"os"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type for bridge hosts.
// Follows the standard Bonjour naming convention: _<service>._<protocol>
const ServiceType = "_btbridge._tcp"

// ProtocolVersion identifies the advertisement format for compatibility.
const ProtocolVersion = "1"

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the server port to advertise (e.g., 8000).
	Port int

	// StreamPath is the URL path of the encoded stream (e.g., /live.mp3).
	StreamPath string

	// Format is the stream's audio format (e.g., mp3).
	Format string

	// Name is a human-readable name for this bridge.
	// Defaults to the system hostname if empty.
	Name string
}

// Advertiser manages mDNS/DNS-SD service registration.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates a new mDNS advertiser with the given configuration.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{
		config: cfg,
	}
}

// Start begins advertising the service via mDNS.
//
// Start is safe to call multiple times; subsequent calls are no-ops
// if already running.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Already running
	if a.server != nil {
		return nil
	}

	name := a.config.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "btbridge"
		} else {
			name = hostname
		}
	}

	// TXT records tell clients where the stream lives before they connect.
	txtRecords := []string{
		fmt.Sprintf("version=%s", ProtocolVersion),
		fmt.Sprintf("path=%s", a.config.StreamPath),
		fmt.Sprintf("format=%s", a.config.Format),
	}

	server, err := zeroconf.Register(
		name,        // Instance name (e.g., "livingroom-pi")
		ServiceType, // Service type
		"local.",    // Domain
		a.config.Port,
		txtRecords,
		nil, // Network interfaces (nil = all)
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop stops the mDNS advertisement and unregisters the service.
// It is safe to call Stop multiple times or on an advertiser that
// was never started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning returns true if the advertiser is currently running.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}
