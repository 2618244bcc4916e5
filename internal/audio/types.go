// Package audio resolves which audio input the encoder should capture from.
//
// Enumeration of live sources is delegated to an external tool (PulseAudio's
// pactl on the systems this runs on); the resolver itself is a pure decision
// over that snapshot, so it can be tested against fakes.
package audio

// Source is one enumerable audio input.
type Source struct {
	// ID is the tool-level source identifier, e.g.
	// "bluez_source.AA_BB_CC_DD_EE_FF.a2dp_source".
	ID string `json:"id"`

	// Bluetooth reports whether the source is backed by a Bluetooth device.
	Bluetooth bool `json:"bluetooth"`

	// A2DP reports whether the source uses the A2DP profile, the preferred
	// profile for stereo capture quality.
	A2DP bool `json:"a2dp"`
}

// Sink is one enumerable audio output. A sink's monitor source captures
// whatever is being played to it.
type Sink struct {
	ID        string `json:"id"`
	Bluetooth bool   `json:"bluetooth"`
}

// Enumerator provides a live snapshot of the system's audio topology.
// Implemented by PactlEnumerator for real systems and by fakes in tests.
type Enumerator interface {
	// Inputs lists capture sources.
	Inputs() ([]Source, error)

	// Sinks lists playback sinks.
	Sinks() ([]Sink, error)

	// DefaultSource returns the system's current default input id.
	DefaultSource() (string, error)
}
