package audio

import (
	"log"

	"github.com/btaudio/bridge/internal/apperrors"
)

// Via identifies which rule of the resolution chain produced a selection.
type Via string

const (
	ViaPreferred Via = "preferred" // operator-configured source, used verbatim
	ViaA2DP      Via = "a2dp"      // A2DP-profile Bluetooth input
	ViaBluetooth Via = "bluetooth" // non-A2DP Bluetooth input
	ViaMonitor   Via = "monitor"   // monitor source derived from a Bluetooth sink
	ViaDefault   Via = "default"   // system default input (degraded mode)
)

// Selection is the resolver's decision.
type Selection struct {
	Source string
	Via    Via

	// Degraded marks a fallback to the system default input, an event of
	// interest to operators: the stream is running but not from Bluetooth.
	Degraded bool
}

// Resolver decides which audio input to capture from.
type Resolver struct {
	enum Enumerator

	// useDefault enables the final fallback to the system default input.
	useDefault bool
}

// NewResolver creates a resolver over the given enumerator.
func NewResolver(enum Enumerator, useDefaultFallback bool) *Resolver {
	return &Resolver{enum: enum, useDefault: useDefaultFallback}
}

// Resolve picks a capture source, in priority order:
//
//  1. A configured preferred source is used verbatim, with no validation
//     against the live enumeration - the operator asserts it is valid.
//  2. The first A2DP-profile Bluetooth input, else the first Bluetooth
//     input, in enumeration order.
//  3. A monitor source derived from the first Bluetooth sink, capturing
//     what is being played out to that device.
//  4. The system default input, if the fallback is enabled.
//  5. Failure with source.unavailable.
//
// Enumeration failures are logged and treated as empty results so a broken
// tool degrades the chain instead of aborting it.
func (r *Resolver) Resolve(preferred string) (Selection, error) {
	if preferred != "" {
		return Selection{Source: preferred, Via: ViaPreferred}, nil
	}

	inputs, err := r.enum.Inputs()
	if err != nil {
		log.Printf("audio: source enumeration failed: %v", err)
	}

	var firstBluetooth *Source
	for i := range inputs {
		src := inputs[i]
		if !src.Bluetooth {
			continue
		}
		if src.A2DP {
			return Selection{Source: src.ID, Via: ViaA2DP}, nil
		}
		if firstBluetooth == nil {
			firstBluetooth = &src
		}
	}
	if firstBluetooth != nil {
		return Selection{Source: firstBluetooth.ID, Via: ViaBluetooth}, nil
	}

	sinks, err := r.enum.Sinks()
	if err != nil {
		log.Printf("audio: sink enumeration failed: %v", err)
	}
	for _, sink := range sinks {
		if sink.Bluetooth {
			return Selection{Source: sink.ID + ".monitor", Via: ViaMonitor}, nil
		}
	}

	if r.useDefault {
		def, err := r.enum.DefaultSource()
		if err != nil {
			log.Printf("audio: default source query failed: %v", err)
		} else if def != "" {
			return Selection{Source: def, Via: ViaDefault, Degraded: true}, nil
		}
	}

	return Selection{}, apperrors.SourceUnavailable()
}
