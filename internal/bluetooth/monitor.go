// Package bluetooth polls external tooling to track whether an
// audio-capable Bluetooth peer is currently connected, and under what name.
package bluetooth

import (
	"log"
	"sync"
	"time"

	"github.com/btaudio/bridge/internal/apperrors"
	"github.com/btaudio/bridge/internal/state"
)

// DefaultPollInterval is the monitor tick interval.
const DefaultPollInterval = 3 * time.Second

// QueryTool answers "which audio peer is connected right now".
// An empty name with a nil error means no peer is connected.
type QueryTool interface {
	ConnectedPeerName() (string, error)
}

// Monitor periodically writes the connected peer's name into the shared
// pipeline state. It never restarts the encoder itself: the reconnect edge
// is reported through the OnReconnect callback and the wiring layer decides
// the policy.
type Monitor struct {
	tool     QueryTool
	ps       *state.PipelineState
	interval time.Duration

	// OnReconnect, when set, is invoked (on the monitor goroutine) each
	// time the peer transitions from absent to present.
	OnReconnect func(name string)

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	toolDown bool // last query failed; used to log/record only edges
}

// NewMonitor creates a monitor. A non-positive interval selects the default.
func NewMonitor(tool QueryTool, ps *state.PipelineState, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Monitor{
		tool:     tool,
		ps:       ps,
		interval: interval,
	}
}

// Start launches the polling loop. Safe to call multiple times; subsequent
// calls are no-ops while running.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stop, m.done)
}

// Stop cancels the polling loop and waits for it to finish. Safe to call
// multiple times or on a monitor that was never started.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop := m.stop
	done := m.done
	m.stop = nil
	m.done = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (m *Monitor) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Immediate first poll so state is populated before the first tick.
	m.poll()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	name, err := m.tool.ConnectedPeerName()
	if err != nil {
		// Record only the failure edge; a dead daemon would otherwise
		// drown the error log at every tick.
		m.mu.Lock()
		wasDown := m.toolDown
		m.toolDown = true
		m.mu.Unlock()
		if !wasDown {
			m.ps.RecordError(apperrors.CodeBluetoothToolFailed, apperrors.GetMessage(err))
			log.Printf("bluetooth: query failed: %v", err)
		}
		return
	}

	m.mu.Lock()
	m.toolDown = false
	m.mu.Unlock()

	if reconnected := m.ps.SetBluetoothDevice(name); reconnected {
		log.Printf("bluetooth: device connected: %s", name)
		if m.OnReconnect != nil {
			m.OnReconnect(name)
		}
	}
}
