package bluetooth

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/btaudio/bridge/internal/apperrors"
)

// PlaceholderName is used when a Bluetooth capture source exists but no
// display name can be derived from its metadata.
const PlaceholderName = "Bluetooth Device"

// toolTimeout bounds each external query. A timeout is indistinguishable
// from command failure: both leave the monitor with no new information.
const toolTimeout = 5 * time.Second

var deviceDescPattern = regexp.MustCompile(`device\.description = "([^"]+)"`)

// CLITool queries the connected peer through bluetoothctl, falling back to
// PulseAudio source metadata when bluetoothctl reports nothing useful.
//
// `bluetoothctl info` without a MAC describes the default (connected)
// device; a connected peer shows "Connected: yes" plus a "Name:" field.
// The fallback scans `pactl list sources` for a bluez-backed source block
// and lifts its device.description property.
type CLITool struct{}

// ConnectedPeerName returns the connected audio peer's display name, or ""
// when no peer is connected. An error means both query paths failed.
func (CLITool) ConnectedPeerName() (string, error) {
	out, btErr := runTool("bluetoothctl", "info")
	if btErr == nil {
		if name, ok := parseBluetoothctlInfo(out); ok {
			return name, nil
		}
	}

	// bluetoothctl saw no connected device (or failed); a bluez capture
	// source showing up in PulseAudio still means a device is connected.
	out, paErr := runTool("pactl", "list", "sources")
	if paErr == nil {
		if name, ok := parsePactlSources(out); ok {
			return name, nil
		}
		return "", nil
	}

	// The fallback failed. When the primary query answered, its "no
	// connected device" result stands on its own; only a double failure
	// leaves the monitor without information.
	if btErr == nil {
		return "", nil
	}
	return "", apperrors.BluetoothToolFailed(btErr)
}

// parseBluetoothctlInfo extracts the device name from `bluetoothctl info`
// output when it reports a connected device.
func parseBluetoothctlInfo(out string) (string, bool) {
	connected := false
	name := ""
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Connected:") {
			connected = strings.Contains(line, "yes")
		}
		if strings.HasPrefix(line, "Name:") {
			name = strings.TrimSpace(strings.TrimPrefix(line, "Name:"))
		}
	}
	if connected && name != "" {
		return name, true
	}
	return "", false
}

// parsePactlSources scans verbose `pactl list sources` output for a
// bluez-backed source and derives a display name from its description,
// defaulting to PlaceholderName when the block carries none.
func parsePactlSources(out string) (string, bool) {
	// Blocks start with "Source #N"; track whether the current block is
	// bluez-backed and remember its description.
	inBluez := false
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Source #") {
			// A bluez block ended without a description line.
			if inBluez {
				return PlaceholderName, true
			}
			inBluez = false
			continue
		}
		if strings.HasPrefix(trimmed, "Name:") && strings.Contains(trimmed, "bluez") {
			inBluez = true
			continue
		}
		if inBluez {
			if m := deviceDescPattern.FindStringSubmatch(trimmed); m != nil {
				return m[1], true
			}
		}
	}
	if inBluez {
		return PlaceholderName, true
	}
	return "", false
}

// runTool is a variable so tests can substitute tool output.
var runTool = func(name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
