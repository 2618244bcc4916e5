// Package state holds the shared record of the streaming pipeline's health:
// whether the encoder is running, which source it is bound to, the current
// signal level, Bluetooth connectivity, and bounded histories of connection
// events and errors.
//
// A single PipelineState instance is created at startup and injected into
// every component that reads or writes it. All access goes through its
// methods, which take the internal mutex; readers that need a consistent
// view take a Snapshot.
package state

import (
	"sync"
	"time"
)

// Ring capacities. Oldest entries are evicted first once full.
const (
	// HistoryCapacity bounds the connection-event history.
	HistoryCapacity = 50

	// ErrorLogCapacity bounds the error log.
	ErrorLogCapacity = 100
)

// EventSink receives a copy of every appended history entry, letting the
// wiring layer persist events beyond the in-memory rings. Appends must not
// block; implementations are called with the state lock held.
type EventSink interface {
	AppendEvent(kind, category, detail string, at time.Time)
}

// Event kinds passed to EventSink.
const (
	KindConnection = "connection"
	KindError      = "error"
)

// PipelineState is the shared, mutable record of current streaming status.
// One logical owner, guarded by a single mutex; every component mutates it
// only through these methods.
type PipelineState struct {
	mu sync.Mutex

	streaming       bool
	selectedSource  string // empty when no source bound
	meterLevel      int    // 0..100
	streamStartedAt time.Time
	btDeviceName    string // empty when no device connected
	btReconnects    int

	audioBitrate    string
	audioSampleRate int

	connectionHistory *EntryRing
	errorLog          *EntryRing
	lastError         string

	sink EventSink

	now func() time.Time
}

// New creates an empty PipelineState.
func New() *PipelineState {
	return &PipelineState{
		connectionHistory: NewEntryRing(HistoryCapacity),
		errorLog:          NewEntryRing(ErrorLogCapacity),
		now:               time.Now,
	}
}

// SetEventSink attaches a sink that mirrors every appended entry.
// Pass nil to detach. Intended to be called once during wiring.
func (s *PipelineState) SetEventSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// MarkStarted records a successful encoder start: streaming becomes true,
// the source is bound, the start time is stamped, the last error is
// cleared, and a connection event is appended. selectedSource is only ever
// set here, so it always reflects a source the encoder actually started on.
func (s *PipelineState) MarkStarted(source, bitrate string, sampleRate int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.streaming = true
	s.selectedSource = source
	s.streamStartedAt = s.now()
	s.audioBitrate = bitrate
	s.audioSampleRate = sampleRate
	s.lastError = ""
	s.appendConnectionLocked("stream_started", "source "+source)
}

// MarkStopped records an encoder stop: streaming becomes false, the start
// time is cleared, and a connection event is appended. The selected source
// is kept for display; it no longer implies a running encoder.
func (s *PipelineState) MarkStopped(detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.streaming = false
	s.streamStartedAt = time.Time{}
	s.meterLevel = 0
	s.appendConnectionLocked("stream_stopped", detail)
}

// Streaming reports whether the encoder is currently believed healthy.
func (s *PipelineState) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// SelectedSource returns the audio input currently bound to the encoder,
// or "" when none has been bound yet.
func (s *PipelineState) SelectedSource() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedSource
}

// SetMeterLevel stores the most recent normalized signal-level sample,
// clamped to [0,100].
func (s *PipelineState) SetMeterLevel(level int) {
	if level < 0 {
		level = 0
	} else if level > 100 {
		level = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meterLevel = level
}

// MeterLevel returns the most recent signal-level sample.
func (s *PipelineState) MeterLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meterLevel
}

// SetBluetoothDevice records the connected peer's display name, or clears
// it with "". Returns true when this call is an absent-to-present edge,
// which is the signal the wiring layer may use to restart the stream.
func (s *PipelineState) SetBluetoothDevice(name string) (reconnected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reconnected = name != "" && s.btDeviceName == ""
	if name != s.btDeviceName {
		if name == "" {
			s.appendConnectionLocked("bluetooth_disconnected", s.btDeviceName)
		} else {
			s.appendConnectionLocked("bluetooth_connected", name)
		}
	}
	s.btDeviceName = name
	return reconnected
}

// BluetoothDevice returns the last known connected peer name, or "".
func (s *PipelineState) BluetoothDevice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.btDeviceName
}

// IncReconnectAttempts bumps the reconnect counter and returns the new value.
func (s *PipelineState) IncReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.btReconnects++
	return s.btReconnects
}

// RecordConnectionEvent appends a {timestamp, category, detail} entry to
// the bounded connection history.
func (s *PipelineState) RecordConnectionEvent(category, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendConnectionLocked(category, detail)
}

// RecordError appends a {timestamp, category, message} entry to the bounded
// error log and mirrors the message into lastError.
func (s *PipelineState) RecordError(category, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	s.errorLog.Append(Entry{Time: at, Category: category, Detail: message})
	s.lastError = message
	if s.sink != nil {
		s.sink.AppendEvent(KindError, category, message, at)
	}
}

// LastError returns the most recent error message, or "" after a
// successful recovery.
func (s *PipelineState) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *PipelineState) appendConnectionLocked(category, detail string) {
	at := s.now()
	s.connectionHistory.Append(Entry{Time: at, Category: category, Detail: detail})
	if s.sink != nil {
		s.sink.AppendEvent(KindConnection, category, detail, at)
	}
}

// Snapshot builds an immutable point-in-time copy suitable for external
// transmission. The whole copy is taken under the lock so observers never
// see a partially-updated record.
func (s *PipelineState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Version:           SnapshotVersion,
		Streaming:         s.streaming,
		SelectedSource:    s.selectedSource,
		MeterLevel:        s.meterLevel,
		BluetoothDevice:   s.btDeviceName,
		ReconnectAttempts: s.btReconnects,
		AudioBitrate:      s.audioBitrate,
		AudioSampleRate:   s.audioSampleRate,
		LastError:         s.lastError,
		ConnectionHistory: s.connectionHistory.Entries(),
		ErrorLog:          s.errorLog.Entries(),
	}
	if s.streaming && !s.streamStartedAt.IsZero() {
		snap.StreamDurationSec = s.now().Sub(s.streamStartedAt).Seconds()
	}
	return snap
}
