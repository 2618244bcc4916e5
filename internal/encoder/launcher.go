// Package encoder owns the lifecycle of the external audio-encoding process:
// start, graceful-then-forced stop, output-stream exposure, and parsing of
// the diagnostic stream for signal-level metering.
package encoder

import "io"

// Params are the encoder launch parameters, sourced from configuration.
type Params struct {
	// Source is the capture source id the encoder reads from.
	Source string

	Channels   int
	SampleRate int
	Bitrate    string // e.g. "192k"
	Format     string // output container/codec, e.g. "mp3"
	BufferSize int    // relay chunk size in bytes

	// Meter enables emission of RMS level lines on the diagnostic stream.
	Meter bool
}

// Handle is a running encoder process.
//
// Shutdown is a two-phase contract: Stop requests graceful termination,
// Kill forces it. Wait blocks until the process has exited and is safe to
// call exactly once.
type Handle interface {
	// Output is the encoded byte stream.
	Output() io.Reader

	// Diagnostics is the line-oriented diagnostic stream, or nil when the
	// process exposes none.
	Diagnostics() io.Reader

	// Stop requests graceful termination.
	Stop() error

	// Kill forces termination.
	Kill() error

	// Wait blocks until the process exits.
	Wait() error

	// Pid identifies the process for logging.
	Pid() int
}

// Launcher spawns encoder processes. The ffmpeg implementation is used in
// production; tests substitute fakes.
type Launcher interface {
	Launch(p Params) (Handle, error)
}
