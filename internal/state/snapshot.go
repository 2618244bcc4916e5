package state

// SnapshotVersion identifies the snapshot schema. Fields are only ever
// added, never repurposed; clients can gate on this to stay compatible.
const SnapshotVersion = 1

// Snapshot is an immutable point-in-time copy of PipelineState suitable
// for serialization to observers.
type Snapshot struct {
	Version           int     `json:"version"`
	Streaming         bool    `json:"streaming"`
	SelectedSource    string  `json:"selected_source,omitempty"`
	MeterLevel        int     `json:"meter_level"`
	StreamDurationSec float64 `json:"stream_duration_sec"`
	BluetoothDevice   string  `json:"bluetooth_device,omitempty"`
	ReconnectAttempts int     `json:"reconnect_attempts"`
	AudioBitrate      string  `json:"audio_bitrate,omitempty"`
	AudioSampleRate   int     `json:"audio_sample_rate,omitempty"`
	LastError         string  `json:"last_error,omitempty"`
	ConnectionHistory []Entry `json:"connection_history"`
	ErrorLog          []Entry `json:"error_log"`
}
