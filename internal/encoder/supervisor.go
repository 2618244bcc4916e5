package encoder

import (
	"io"
	"log"
	"sync"
	"time"

	"github.com/btaudio/bridge/internal/apperrors"
	"github.com/btaudio/bridge/internal/state"
)

// State is the supervisor's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// StopGracePeriod is how long a graceful stop waits before force-killing.
const StopGracePeriod = 2 * time.Second

// Supervisor owns the single encoder process. Exactly one process may be
// active at a time: Start while running is a safe no-op, never a second
// concurrent process.
//
// Failures (spawn, unexpected exit) are recorded into the shared pipeline
// state rather than returned to callers that cannot act on them; restart
// policy belongs to the pipeline layer.
type Supervisor struct {
	mu       sync.Mutex
	launcher Launcher
	ps       *state.PipelineState
	grace    time.Duration

	st            State
	handle        Handle
	stopRequested bool
	exited        chan struct{} // closed when the current process exits
}

// NewSupervisor creates a stopped supervisor.
func NewSupervisor(launcher Launcher, ps *state.PipelineState) *Supervisor {
	return &Supervisor{
		launcher: launcher,
		ps:       ps,
		grace:    StopGracePeriod,
	}
}

// SetGracePeriod overrides the graceful-stop timeout. Intended for tests.
func (s *Supervisor) SetGracePeriod(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grace = d
}

// CurrentState returns the supervisor's lifecycle state.
func (s *Supervisor) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// Start launches the encoder bound to the given source and parameters.
// If the encoder is already running this is a no-op, logged for
// observability. On launch failure the supervisor returns to Stopped and
// the failure is appended to the shared error log.
func (s *Supervisor) Start(p Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st != StateStopped {
		log.Printf("encoder: start ignored, state is %s", s.st)
		return nil
	}

	s.st = StateStarting
	h, err := s.launcher.Launch(p)
	if err != nil {
		s.st = StateStopped
		coded := apperrors.LaunchFailed(p.Source, err)
		s.ps.RecordError(apperrors.CodeEncoderLaunchFailed, coded.Message)
		log.Printf("encoder: launch failed for source %s: %v", p.Source, err)
		return coded
	}

	s.handle = h
	s.stopRequested = false
	s.exited = make(chan struct{})
	s.st = StateRunning
	s.ps.MarkStarted(p.Source, p.Bitrate, p.SampleRate)
	log.Printf("encoder: started pid=%d source=%s", h.Pid(), p.Source)

	if diag := h.Diagnostics(); diag != nil && p.Meter {
		// Dedicated goroutine: reads against the process pipe block, and
		// must not stall the broadcaster or the output relay.
		go drainDiagnostics(diag, s.ps.SetMeterLevel)
	} else {
		s.ps.SetMeterLevel(0)
	}

	go s.waitForExit(h, s.exited)
	return nil
}

// waitForExit reaps the process and detects unexpected exits. Runs once
// per launched process.
func (s *Supervisor) waitForExit(h Handle, exited chan struct{}) {
	err := h.Wait()
	close(exited)

	s.mu.Lock()
	defer s.mu.Unlock()

	// A requested stop reaps the process itself; only react if this is
	// still the current process and nobody asked it to die.
	if s.handle != h || s.stopRequested {
		return
	}

	s.handle = nil
	s.st = StateStopped

	detail := "exited cleanly"
	if err != nil {
		detail = err.Error()
	}
	coded := apperrors.UnexpectedExit(detail)
	s.ps.RecordError(apperrors.CodeEncoderUnexpectedExit, coded.Message)
	s.ps.MarkStopped("encoder exited unexpectedly")
	log.Printf("encoder: unexpected exit: %s", detail)
}

// Stop terminates the encoder: graceful first, forced after the grace
// period. Stopping an already-stopped encoder is a no-op that produces no
// error-log entry.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.st != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.st = StateStopping
	s.stopRequested = true
	h := s.handle
	exited := s.exited
	grace := s.grace
	s.mu.Unlock()

	if err := h.Stop(); err != nil {
		log.Printf("encoder: graceful stop failed: %v", err)
	}

	select {
	case <-exited:
	case <-time.After(grace):
		log.Printf("encoder: no exit within %s, force killing pid=%d", grace, h.Pid())
		if err := h.Kill(); err != nil {
			log.Printf("encoder: kill failed: %v", err)
		}
		<-exited
	}

	s.mu.Lock()
	s.handle = nil
	s.st = StateStopped
	s.mu.Unlock()

	s.ps.MarkStopped("stop requested")
	log.Printf("encoder: stopped")
	return nil
}

// ReadOutputChunk performs a blocking read from the encoder's output
// stream into buf. Returns 0, io.EOF when the encoder is not running or
// its output has ended.
func (s *Supervisor) ReadOutputChunk(buf []byte) (int, error) {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h == nil {
		return 0, io.EOF
	}
	out := h.Output()
	if out == nil {
		return 0, io.EOF
	}
	return out.Read(buf)
}
