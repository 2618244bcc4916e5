package server

import "github.com/btaudio/bridge/internal/state"

// Client command message types.
const (
	MessageTypeGetStatus = "get_status"
	MessageTypeRestart   = "restart"
	MessageTypeSetSource = "set_source"
)

// Server push message types.
const (
	MessageTypeStatus = "status"
	MessageTypeResult = "result"
	MessageTypeError  = "error"
)

// Message is an inbound client command.
type Message struct {
	Type string `json:"type"`

	// Source is the capture source for set_source commands.
	Source string `json:"source,omitempty"`
}

// StatusMessage wraps a pipeline snapshot for the status feed.
type StatusMessage struct {
	Type     string         `json:"type"` // always "status"
	Snapshot state.Snapshot `json:"snapshot"`
}

// ResultMessage reports the outcome of a client command.
type ResultMessage struct {
	Type    string `json:"type"` // always "result"
	Request string `json:"request"`
	OK      bool   `json:"ok"`

	// Attempts is set for restart results.
	Attempts int `json:"attempts,omitempty"`

	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newStatusMessage(snap state.Snapshot) StatusMessage {
	return StatusMessage{Type: MessageTypeStatus, Snapshot: snap}
}
