package pipeline

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btaudio/bridge/internal/apperrors"
	"github.com/btaudio/bridge/internal/audio"
	"github.com/btaudio/bridge/internal/encoder"
	"github.com/btaudio/bridge/internal/state"
)

type fakeEnumerator struct {
	inputs     []audio.Source
	sinks      []audio.Sink
	defaultSrc string
}

func (f *fakeEnumerator) Inputs() ([]audio.Source, error) { return f.inputs, nil }
func (f *fakeEnumerator) Sinks() ([]audio.Sink, error)    { return f.sinks, nil }
func (f *fakeEnumerator) DefaultSource() (string, error)  { return f.defaultSrc, nil }

// fakeHandle is a minimal running-process stand-in whose Stop always exits.
type fakeHandle struct {
	exitCh   chan struct{}
	exitOnce sync.Once
}

func newFakeHandle() *fakeHandle { return &fakeHandle{exitCh: make(chan struct{})} }

func (h *fakeHandle) Output() io.Reader      { return strings.NewReader("") }
func (h *fakeHandle) Diagnostics() io.Reader { return nil }
func (h *fakeHandle) Pid() int               { return 1 }
func (h *fakeHandle) Stop() error            { h.exitOnce.Do(func() { close(h.exitCh) }); return nil }
func (h *fakeHandle) Kill() error            { h.exitOnce.Do(func() { close(h.exitCh) }); return nil }
func (h *fakeHandle) Wait() error            { <-h.exitCh; return nil }

// flakyLauncher fails the first failures launches, then succeeds.
type flakyLauncher struct {
	mu       sync.Mutex
	failures int
	launches int
}

func (l *flakyLauncher) Launch(p encoder.Params) (encoder.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.launches <= l.failures {
		return nil, errors.New("spawn failed")
	}
	return newFakeHandle(), nil
}

func newTestPipeline(launcher encoder.Launcher, enum audio.Enumerator, policy RetryPolicy) (*Pipeline, *state.PipelineState) {
	ps := state.New()
	sup := encoder.NewSupervisor(launcher, ps)
	sup.SetGracePeriod(20 * time.Millisecond)
	resolver := audio.NewResolver(enum, false)
	p := New(resolver, sup, ps, Options{
		Params: encoder.Params{
			Channels:   2,
			SampleRate: 44100,
			Bitrate:    "192k",
			Format:     "mp3",
			BufferSize: 4096,
		},
		Policy:      policy,
		SettleDelay: time.Millisecond,
	})
	return p, ps
}

func btEnum() *fakeEnumerator {
	return &fakeEnumerator{
		inputs: []audio.Source{{ID: "bluez_source.AA.a2dp_source", Bluetooth: true, A2DP: true}},
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestStartAndStop(t *testing.T) {
	p, ps := newTestPipeline(&flakyLauncher{}, btEnum(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})

	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.Streaming() {
		t.Error("pipeline should be streaming")
	}
	if ps.SelectedSource() != "bluez_source.AA.a2dp_source" {
		t.Errorf("SelectedSource = %q", ps.SelectedSource())
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.Streaming() {
		t.Error("pipeline should not be streaming after stop")
	}
}

func TestStartSourceUnavailable(t *testing.T) {
	p, ps := newTestPipeline(&flakyLauncher{}, &fakeEnumerator{}, RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond})

	err := p.Start()
	if err == nil {
		t.Fatal("expected source.unavailable")
	}
	if !apperrors.IsCode(err, apperrors.CodeSourceUnavailable) {
		t.Errorf("error code = %q", apperrors.GetCode(err))
	}
	if ps.LastError() == "" {
		t.Error("lastError should be recorded")
	}
}

func TestRestartFirstAttemptSucceeds(t *testing.T) {
	p, _ := newTestPipeline(&flakyLauncher{}, btEnum(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour})

	// BaseDelay of an hour proves no delay is incurred when the first
	// attempt succeeds.
	start := time.Now()
	outcome, err := p.Restart(RetryPolicy{})
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if !outcome.Success || outcome.AttemptsUsed != 1 {
		t.Errorf("outcome = %+v, want success with 1 attempt", outcome)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("restart took %v, should not have slept", elapsed)
	}
	if !p.Streaming() {
		t.Error("pipeline should be streaming after restart")
	}
}

func TestRestartRecoversAfterFailure(t *testing.T) {
	l := &flakyLauncher{failures: 1}
	p, _ := newTestPipeline(l, btEnum(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})

	outcome, err := p.Restart(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if !outcome.Success || outcome.AttemptsUsed != 2 {
		t.Errorf("outcome = %+v, want success with 2 attempts", outcome)
	}
}

func TestRestartExhausted(t *testing.T) {
	l := &flakyLauncher{failures: 100}
	p, ps := newTestPipeline(l, btEnum(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})

	outcome, err := p.Restart(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	if err == nil {
		t.Fatal("expected restart.exhausted")
	}
	if !apperrors.IsCode(err, apperrors.CodeRestartExhausted) {
		t.Errorf("error code = %q, want %q", apperrors.GetCode(err), apperrors.CodeRestartExhausted)
	}
	if outcome.Success || outcome.AttemptsUsed != 3 {
		t.Errorf("outcome = %+v, want failure after 3 attempts", outcome)
	}
	if p.Streaming() {
		t.Error("pipeline should end stopped")
	}

	snap := ps.Snapshot()
	launchFailures := 0
	exhausted := 0
	for _, e := range snap.ErrorLog {
		switch e.Category {
		case apperrors.CodeEncoderLaunchFailed:
			launchFailures++
		case apperrors.CodeRestartExhausted:
			exhausted++
		}
	}
	if launchFailures != 3 {
		t.Errorf("launch failure entries = %d, want 3", launchFailures)
	}
	if exhausted != 1 {
		t.Errorf("restart.exhausted entries = %d, want 1", exhausted)
	}
}

func TestRestartZeroPolicySingleAttempt(t *testing.T) {
	// Both the request and the pipeline default leave MaxAttempts unset;
	// the floor is one attempt, not an unbounded retry loop.
	l := &flakyLauncher{failures: 100}
	p, _ := newTestPipeline(l, btEnum(), RetryPolicy{})

	outcome, err := p.Restart(RetryPolicy{})
	if err == nil {
		t.Fatal("expected restart.exhausted")
	}
	if outcome.Success || outcome.AttemptsUsed != 1 {
		t.Errorf("outcome = %+v, want failure after exactly 1 attempt", outcome)
	}
}

func TestManualSourceOverride(t *testing.T) {
	p, ps := newTestPipeline(&flakyLauncher{}, &fakeEnumerator{}, RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond})

	// The fake enumerator is empty, so only the override can succeed.
	p.SetPreferredSource("alsa_input.usb-Turntable.analog-stereo")
	if err := p.Start(); err != nil {
		t.Fatalf("Start with override: %v", err)
	}
	if ps.SelectedSource() != "alsa_input.usb-Turntable.analog-stereo" {
		t.Errorf("SelectedSource = %q", ps.SelectedSource())
	}
}

func TestRecordExternalEvent(t *testing.T) {
	p, ps := newTestPipeline(&flakyLauncher{}, btEnum(), RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond})

	p.RecordExternalEvent("pairing", "paired AA:BB:CC:DD:EE:FF")

	snap := ps.Snapshot()
	if len(snap.ConnectionHistory) != 1 {
		t.Fatalf("connection history size = %d, want 1", len(snap.ConnectionHistory))
	}
	if snap.ConnectionHistory[0].Category != "pairing" {
		t.Errorf("category = %q, want pairing", snap.ConnectionHistory[0].Category)
	}
}
