package bluetooth

import (
	"context"
	"errors"
	"log"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/btaudio/bridge/internal/apperrors"
)

// scanDuration is how long a discovery scan runs before the device list is
// read back.
const scanDuration = 15 * time.Second

// pairTimeout bounds pair/connect attempts. Pairing stalls indefinitely
// when the peer is not in pairing mode; the caller gets a timeout status
// instead of a hung request.
const pairTimeout = 30 * time.Second

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// ValidMAC reports whether s is a colon-separated Bluetooth MAC address.
func ValidMAC(s string) bool {
	return macPattern.MatchString(s)
}

// PeerDevice is one device known to the adapter after a scan.
type PeerDevice struct {
	MAC  string `json:"mac"`
	Name string `json:"name"`
}

// Pairing outcome statuses.
const (
	StatusConnected    = "connected"
	StatusPaired       = "paired"
	StatusFailed       = "failed"
	StatusTimeout      = "timeout"
	StatusDisconnected = "disconnected"
)

// PairResult is the outcome of a pair, connect, or disconnect request.
// Failures are ordinary outcomes, not errors: the tool ran, the peer just
// didn't cooperate.
type PairResult struct {
	Status  string `json:"status"`
	MAC     string `json:"mac"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

// Pairer drives bluetoothctl for discoverable mode, device scanning, and
// per-device pair/connect/disconnect.
type Pairer struct {
	// run invokes bluetoothctl with the given arguments, returning its
	// combined output. Substituted in tests.
	run func(timeout time.Duration, args ...string) (string, error)
}

// NewPairer creates a pairer backed by the system bluetoothctl.
func NewPairer() *Pairer {
	return &Pairer{run: runBluetoothctl}
}

// SetDiscoverable makes this machine visible and pairable, with a
// no-input-no-output agent so headless pairing needs no PIN confirmation.
func (p *Pairer) SetDiscoverable() error {
	cmds := [][]string{
		{"discoverable", "on"},
		{"pairable", "on"},
		{"agent", "NoInputNoOutput"},
		{"default-agent"},
	}
	for _, args := range cmds {
		if _, err := p.run(toolTimeout, args...); err != nil {
			return apperrors.BluetoothToolFailed(err)
		}
	}
	return nil
}

// Scan runs a bounded discovery scan and returns the adapter's device
// list. The scan command's own failure is non-fatal (the adapter may
// already be scanning); an unreadable device list is.
func (p *Pairer) Scan() ([]PeerDevice, error) {
	if _, err := p.run(scanDuration+toolTimeout, "--timeout", "15", "scan", "on"); err != nil {
		log.Printf("bluetooth: scan window failed: %v", err)
	}

	out, err := p.run(toolTimeout, "devices")
	if err != nil {
		return nil, apperrors.BluetoothToolFailed(err)
	}
	return parseDeviceList(out), nil
}

// Pair pairs with the peer, trusts it, and then attempts a connection.
// A peer that pairs but refuses the connection reports "paired": some
// devices require the final accept on their end.
func (p *Pairer) Pair(mac string) PairResult {
	out, err := p.run(pairTimeout, "pair", mac)
	if isTimeout(err) {
		return PairResult{
			Status:  StatusTimeout,
			MAC:     mac,
			Message: "pairing timed out, put the device in pairing mode and retry",
		}
	}

	lower := strings.ToLower(out)
	paired := err == nil ||
		strings.Contains(lower, "already exists") ||
		strings.Contains(lower, "pairing successful")
	if !paired {
		return PairResult{
			Status:  StatusFailed,
			MAC:     mac,
			Message: "pairing failed",
			Details: strings.TrimSpace(out),
		}
	}

	// Trust so the device can reconnect on its own later.
	if _, err := p.run(toolTimeout, "trust", mac); err != nil {
		log.Printf("bluetooth: trust %s failed: %v", mac, err)
	}

	conn := p.Connect(mac)
	if conn.Status == StatusConnected {
		conn.Message = "paired and connected"
		return conn
	}
	return PairResult{
		Status:  StatusPaired,
		MAC:     mac,
		Message: "paired, but connecting may require action on the device",
		Details: conn.Details,
	}
}

// Connect connects to an already-paired peer.
func (p *Pairer) Connect(mac string) PairResult {
	out, err := p.run(pairTimeout, "connect", mac)
	if isTimeout(err) {
		return PairResult{Status: StatusTimeout, MAC: mac, Message: "connection timed out"}
	}
	if err == nil || strings.Contains(strings.ToLower(out), "successful") {
		return PairResult{Status: StatusConnected, MAC: mac}
	}
	return PairResult{Status: StatusFailed, MAC: mac, Details: strings.TrimSpace(out)}
}

// Disconnect disconnects the peer. Disconnecting an absent peer is treated
// as success, matching the tool's behavior.
func (p *Pairer) Disconnect(mac string) PairResult {
	if _, err := p.run(pairTimeout, "disconnect", mac); err != nil {
		log.Printf("bluetooth: disconnect %s: %v", mac, err)
	}
	return PairResult{Status: StatusDisconnected, MAC: mac}
}

// parseDeviceList parses `bluetoothctl devices` output:
//
//	Device AA:BB:CC:DD:EE:FF Some Speaker Name
func parseDeviceList(out string) []PeerDevice {
	devices := []PeerDevice{}
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
		if len(parts) < 3 || parts[0] != "Device" {
			continue
		}
		devices = append(devices, PeerDevice{MAC: parts[1], Name: parts[2]})
	}
	return devices
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// runBluetoothctl invokes bluetoothctl, returning combined output so
// failure text (which the tool prints with a zero or non-zero exit,
// depending on version) is available either way. A deadline surfaces as
// context.DeadlineExceeded.
func runBluetoothctl(timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "bluetoothctl", args...).CombinedOutput()
	if ctx.Err() != nil {
		return string(out), ctx.Err()
	}
	return string(out), err
}
