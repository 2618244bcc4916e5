package audio

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/btaudio/bridge/internal/apperrors"
)

// pactlTimeout bounds every pactl invocation. A hung PulseAudio daemon
// must not stall the resolver or the monitor loops; a timeout is treated
// the same as a failed command.
const pactlTimeout = 5 * time.Second

// PactlEnumerator enumerates audio sources and sinks through pactl.
//
// `pactl list sources short` emits one tab-separated line per source:
//
//	<index>\t<name>\t<driver>\t<sample spec>\t<state>
//
// Bluetooth-backed entries carry "bluez" in the name; A2DP-profile entries
// carry "a2dp".
type PactlEnumerator struct{}

// Inputs lists capture sources via `pactl list sources short`.
func (PactlEnumerator) Inputs() ([]Source, error) {
	out, err := runPactl("list", "sources", "short")
	if err != nil {
		return nil, err
	}

	var sources []Source
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[1]
		lower := strings.ToLower(name)
		sources = append(sources, Source{
			ID:        name,
			Bluetooth: strings.Contains(lower, "bluez"),
			A2DP:      strings.Contains(lower, "a2dp"),
		})
	}
	return sources, nil
}

// Sinks lists playback sinks via `pactl list sinks short`.
func (PactlEnumerator) Sinks() ([]Sink, error) {
	out, err := runPactl("list", "sinks", "short")
	if err != nil {
		return nil, err
	}

	var sinks []Sink
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[1]
		sinks = append(sinks, Sink{
			ID:        name,
			Bluetooth: strings.Contains(strings.ToLower(name), "bluez"),
		})
	}
	return sinks, nil
}

// DefaultSource returns the system default input via `pactl get-default-source`.
func (PactlEnumerator) DefaultSource() (string, error) {
	out, err := runPactl("get-default-source")
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(out)
	if name == "" {
		return "", apperrors.EnumerateFailed("pactl", nil)
	}
	return name, nil
}

func runPactl(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pactlTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "pactl", args...).Output()
	if err != nil {
		return "", apperrors.EnumerateFailed("pactl", err)
	}
	return string(out), nil
}
