package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/btaudio/bridge/internal/audio"
	"github.com/btaudio/bridge/internal/bluetooth"
	"github.com/btaudio/bridge/internal/encoder"
	"github.com/btaudio/bridge/internal/pipeline"
	"github.com/btaudio/bridge/internal/state"
	"github.com/btaudio/bridge/internal/storage"
)

type fakeEnumerator struct {
	inputs     []audio.Source
	sinks      []audio.Sink
	defaultSrc string
}

func (f *fakeEnumerator) Inputs() ([]audio.Source, error) { return f.inputs, nil }
func (f *fakeEnumerator) Sinks() ([]audio.Sink, error)    { return f.sinks, nil }
func (f *fakeEnumerator) DefaultSource() (string, error)  { return f.defaultSrc, nil }

type fakeHandle struct {
	out      io.Reader
	exitCh   chan struct{}
	exitOnce sync.Once
}

func newFakeHandle(output string) *fakeHandle {
	return &fakeHandle{out: strings.NewReader(output), exitCh: make(chan struct{})}
}

func (h *fakeHandle) Output() io.Reader      { return h.out }
func (h *fakeHandle) Diagnostics() io.Reader { return nil }
func (h *fakeHandle) Pid() int               { return 1 }
func (h *fakeHandle) Stop() error            { h.exitOnce.Do(func() { close(h.exitCh) }); return nil }
func (h *fakeHandle) Kill() error            { h.exitOnce.Do(func() { close(h.exitCh) }); return nil }
func (h *fakeHandle) Wait() error            { <-h.exitCh; return nil }

type fakeLauncher struct {
	output string
}

func (l *fakeLauncher) Launch(p encoder.Params) (encoder.Handle, error) {
	return newFakeHandle(l.output), nil
}

func newTestServer(t *testing.T) (*Server, *pipeline.Pipeline) {
	t.Helper()

	ps := state.New()
	sup := encoder.NewSupervisor(&fakeLauncher{output: "mp3bytes"}, ps)
	sup.SetGracePeriod(20 * time.Millisecond)
	enum := &fakeEnumerator{
		inputs:     []audio.Source{{ID: "bluez_source.AA.a2dp_source", Bluetooth: true, A2DP: true}},
		sinks:      []audio.Sink{{ID: "alsa_output.pci.analog-stereo"}},
		defaultSrc: "alsa_input.pci.analog-stereo",
	}
	pipe := pipeline.New(audio.NewResolver(enum, true), sup, ps, pipeline.Options{
		Params:      encoder.Params{Channels: 2, SampleRate: 44100, Bitrate: "192k", Format: "mp3", BufferSize: 4096},
		Policy:      pipeline.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		SettleDelay: time.Millisecond,
	})

	s := NewServer("127.0.0.1:0", pipe)
	s.SetEnumerator(enum)
	return s, pipe
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.createMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestStatusEndpointLoopbackOnly(t *testing.T) {
	s, pipe := newTestServer(t)
	mux := s.createMux()

	// Non-loopback request is rejected.
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = "192.168.1.50:4444"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-loopback status = %d, want 403", rec.Code)
	}

	// Loopback request succeeds and carries the pipeline snapshot.
	if err := pipe.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pipe.Stop()

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = "127.0.0.1:4444"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("loopback status = %d, want 200", rec.Code)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Pipeline.Streaming {
		t.Error("snapshot should report streaming")
	}
	if resp.Pipeline.SelectedSource != "bluez_source.AA.a2dp_source" {
		t.Errorf("selected source = %q", resp.Pipeline.SelectedSource)
	}
}

func TestStreamEndpoint(t *testing.T) {
	s, pipe := newTestServer(t)
	mux := s.createMux()

	// Stopped pipeline: 503.
	req := httptest.NewRequest(http.MethodGet, "/live.mp3", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("stopped stream status = %d, want 503", rec.Code)
	}

	// Running pipeline: relay until end-of-stream.
	if err := pipe.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pipe.Stop()

	req = httptest.NewRequest(http.MethodGet, "/live.mp3", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stream status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Errorf("Content-Type = %q, want audio/mpeg", got)
	}
	if rec.Body.String() != "mp3bytes" {
		t.Errorf("body = %q, want mp3bytes", rec.Body.String())
	}
}

func TestSourcesEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	rec := httptest.NewRecorder()

	s.createMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	// Wire keys are snake_case like every other payload.
	if body := rec.Body.String(); !strings.Contains(body, `"id"`) || !strings.Contains(body, `"a2dp"`) {
		t.Errorf("body = %q, want snake_case source keys", body)
	}
	var resp sourcesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Inputs) != 1 || !resp.Inputs[0].A2DP {
		t.Errorf("inputs = %+v", resp.Inputs)
	}
	if resp.DefaultSource != "alsa_input.pci.analog-stereo" {
		t.Errorf("default source = %q", resp.DefaultSource)
	}
}

func TestRestartEndpoint(t *testing.T) {
	s, pipe := newTestServer(t)
	defer pipe.Stop()
	mux := s.createMux()

	// GET is rejected.
	req := httptest.NewRequest(http.MethodGet, "/api/restart", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET restart status = %d, want 405", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/restart", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("restart status = %d, want 200", rec.Code)
	}

	var resp restartResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.Attempts != 1 {
		t.Errorf("resp = %+v, want success on first attempt", resp)
	}
}

func TestSetSourceEndpoint(t *testing.T) {
	s, pipe := newTestServer(t)
	mux := s.createMux()

	body := strings.NewReader(`{"source":"alsa_input.usb-Turntable.analog-stereo"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/source", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("set source status = %d, want 200", rec.Code)
	}

	snap := pipe.Snapshot()
	if snap.SelectedSource != "alsa_input.usb-Turntable.analog-stereo" {
		t.Errorf("selected source = %q, want the override", snap.SelectedSource)
	}

	found := false
	for _, e := range snap.ConnectionHistory {
		if e.Category == "source_override" {
			found = true
		}
	}
	if !found {
		t.Error("expected a source_override connection event")
	}
	pipe.Stop()
}

func TestEventsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	store, err := storage.NewEventStore(":memory:")
	if err != nil {
		t.Fatalf("NewEventStore: %v", err)
	}
	defer store.Close()
	s.SetEventStore(store)

	if err := store.Append("connection", "stream_started", "source x", time.Now()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/events?limit=10", nil)
	rec := httptest.NewRecorder()
	s.createMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d, want 200", rec.Code)
	}

	var resp struct {
		Events []storage.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Category != "stream_started" {
		t.Errorf("events = %+v", resp.Events)
	}
}

type fakePairer struct {
	devices    []bluetooth.PeerDevice
	pairStatus string
	lastOp     string
	lastMAC    string
}

func (f *fakePairer) SetDiscoverable() error { return nil }

func (f *fakePairer) Scan() ([]bluetooth.PeerDevice, error) { return f.devices, nil }

func (f *fakePairer) Pair(mac string) bluetooth.PairResult {
	f.lastOp, f.lastMAC = "pair", mac
	return bluetooth.PairResult{Status: f.pairStatus, MAC: mac}
}

func (f *fakePairer) Connect(mac string) bluetooth.PairResult {
	f.lastOp, f.lastMAC = "connect", mac
	return bluetooth.PairResult{Status: bluetooth.StatusConnected, MAC: mac}
}

func (f *fakePairer) Disconnect(mac string) bluetooth.PairResult {
	f.lastOp, f.lastMAC = "disconnect", mac
	return bluetooth.PairResult{Status: bluetooth.StatusDisconnected, MAC: mac}
}

func TestScanBluetoothEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.createMux()

	// No pairer injected: unavailable.
	req := httptest.NewRequest(http.MethodGet, "/api/scan-bt", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no-pairer status = %d, want 503", rec.Code)
	}

	s.SetPairer(&fakePairer{devices: []bluetooth.PeerDevice{
		{MAC: "AA:BB:CC:DD:EE:FF", Name: "JBL Flip 6"},
	}})

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scan-bt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scan status = %d, want 200", rec.Code)
	}

	var resp struct {
		Status  string                 `json:"status"`
		Devices []bluetooth.PeerDevice `json:"devices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "scanning" {
		t.Errorf("status = %q, want scanning", resp.Status)
	}
	if len(resp.Devices) != 1 || resp.Devices[0].Name != "JBL Flip 6" {
		t.Errorf("devices = %+v", resp.Devices)
	}
}

func TestPairModeEndpoint(t *testing.T) {
	s, pipe := newTestServer(t)
	s.SetPairer(&fakePairer{})

	req := httptest.NewRequest(http.MethodGet, "/api/pair-mode", nil)
	rec := httptest.NewRecorder()
	s.createMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("pair-mode status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"discoverable"`) {
		t.Errorf("body = %q", rec.Body.String())
	}

	found := false
	for _, e := range pipe.Snapshot().ConnectionHistory {
		if e.Category == "pairing" {
			found = true
		}
	}
	if !found {
		t.Error("expected a pairing connection event")
	}
}

func TestBluetoothPairEndpoint(t *testing.T) {
	s, pipe := newTestServer(t)
	pairer := &fakePairer{pairStatus: bluetooth.StatusConnected}
	s.SetPairer(pairer)
	mux := s.createMux()

	// Invalid MAC is rejected before the tool runs.
	req := httptest.NewRequest(http.MethodPost, "/api/bt/pair/not-a-mac", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid mac status = %d, want 400", rec.Code)
	}
	if pairer.lastOp != "" {
		t.Errorf("pairer invoked for invalid mac: %q", pairer.lastOp)
	}

	// GET is rejected.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bt/pair/AA:BB:CC:DD:EE:FF", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/bt/pair/AA:BB:CC:DD:EE:FF", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("pair status = %d, want 200", rec.Code)
	}

	var result bluetooth.PairResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Status != bluetooth.StatusConnected || result.MAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("result = %+v", result)
	}
	if pairer.lastOp != "pair" || pairer.lastMAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("pairer saw op=%q mac=%q", pairer.lastOp, pairer.lastMAC)
	}

	// The outcome lands in the connection history.
	found := false
	for _, e := range pipe.Snapshot().ConnectionHistory {
		if e.Category == "pairing" && strings.Contains(e.Detail, "connected") {
			found = true
		}
	}
	if !found {
		t.Error("expected the pairing outcome in the connection history")
	}
}

func TestBluetoothDisconnectEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	pairer := &fakePairer{}
	s.SetPairer(pairer)

	req := httptest.NewRequest(http.MethodPost, "/api/bt/disconnect/AA:BB:CC:DD:EE:FF", nil)
	rec := httptest.NewRecorder()
	s.createMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d, want 200", rec.Code)
	}
	if pairer.lastOp != "disconnect" {
		t.Errorf("op = %q, want disconnect", pairer.lastOp)
	}
	if !strings.Contains(rec.Body.String(), `"disconnected"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestWebSocketStatusFeed(t *testing.T) {
	s, pipe := newTestServer(t)
	pipe.StartBackground()
	defer pipe.Shutdown()

	ts := httptest.NewServer(s.createMux())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The initial snapshot arrives without waiting for a tick.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg StatusMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != MessageTypeStatus {
		t.Errorf("type = %q, want status", msg.Type)
	}
	if msg.Snapshot.Version != state.SnapshotVersion {
		t.Errorf("snapshot version = %d, want %d", msg.Snapshot.Version, state.SnapshotVersion)
	}

	// get_status round-trips a fresh snapshot.
	if err := conn.WriteJSON(Message{Type: MessageTypeGetStatus}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != MessageTypeStatus {
		t.Errorf("type = %q, want status", msg.Type)
	}
}
