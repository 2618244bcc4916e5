// Package server exposes the bridge over HTTP and WebSocket: the encoded
// audio stream, a pushed status feed, and control endpoints for the CLI
// and LAN clients.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	// gorilla/websocket provides the WebSocket protocol implementation
	// with ping/pong and close handling.
	"github.com/gorilla/websocket"

	"github.com/btaudio/bridge/internal/audio"
	"github.com/btaudio/bridge/internal/pipeline"
	"github.com/btaudio/bridge/internal/storage"
)

// channelBufferSize is the per-client send channel buffer. It absorbs
// bursts without blocking the broadcaster; when a client's buffer is full,
// status pushes are dropped for that client rather than stalling others.
const channelBufferSize = 64

// Server serves the audio stream and the status feed. It owns the set of
// connected WebSocket clients; each client is also registered as a
// subscriber on the pipeline's broadcaster.
type Server struct {
	addr string

	upgrader websocket.Upgrader

	pipe *pipeline.Pipeline

	mu      sync.RWMutex
	clients map[*Client]bool

	httpServer *http.Server
	listener   net.Listener

	// Boundary collaborators, injected before Start.
	enum        audio.Enumerator
	store       *storage.EventStore
	pairer      BluetoothPairer
	castEnabled bool
	castTimeout time.Duration

	streamPath string
	format     string
	bufferSize int

	startTime time.Time
}

// NewServer creates a server for the given listen address and pipeline.
func NewServer(addr string, pipe *pipeline.Pipeline) *Server {
	return &Server{
		addr: addr,
		pipe: pipe,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Status and control carry no credentials; any LAN origin
			// may subscribe, same as the stream itself.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:     make(map[*Client]bool),
		streamPath:  "/live.mp3",
		format:      "mp3",
		bufferSize:  4096,
		castTimeout: 10 * time.Second,
	}
}

// SetStream configures the stream endpoint path, format, and relay chunk size.
func (s *Server) SetStream(path, format string, bufferSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path != "" {
		s.streamPath = path
	}
	if format != "" {
		s.format = format
	}
	if bufferSize > 0 {
		s.bufferSize = bufferSize
	}
}

// SetEnumerator injects the audio enumerator used by the sources debug
// endpoint.
func (s *Server) SetEnumerator(enum audio.Enumerator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enum = enum
}

// SetEventStore injects the persistent event journal for /api/events.
func (s *Server) SetEventStore(store *storage.EventStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
}

// SetCastDiscovery configures the cast receiver discovery endpoint.
func (s *Server) SetCastDiscovery(enabled bool, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.castEnabled = enabled
	if timeout > 0 {
		s.castTimeout = timeout
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// createMux builds the route table.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(s.streamPath, s.handleStream)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/status", NewStatusHandler(s))
	mux.HandleFunc("/api/restart", s.handleRestart)
	mux.HandleFunc("/api/source", s.handleSetSource)
	mux.HandleFunc("/api/sources", s.handleSources)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/scan-bt", s.handleScanBluetooth)
	mux.HandleFunc("/api/pair-mode", s.handlePairMode)
	mux.HandleFunc("/api/bt/pair/", s.handleBluetoothDevice("pair"))
	mux.HandleFunc("/api/bt/connect/", s.handleBluetoothDevice("connect"))
	mux.HandleFunc("/api/bt/disconnect/", s.handleBluetoothDevice("disconnect"))
	return mux
}

// StartAsync begins listening and serving in the background. The listener
// is created synchronously so address-in-use errors surface immediately;
// later serve errors are reported on the returned channel.
func (s *Server) StartAsync() (<-chan error, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.createMux()}
	s.startTime = time.Now()
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server: listening on %s", s.addr)
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

// Start begins listening and blocks until the server stops.
func (s *Server) Start() error {
	errCh, err := s.StartAsync()
	if err != nil {
		return err
	}
	return <-errCh
}

// Stop shuts the server down: all WebSocket clients are signaled to close
// and in-flight HTTP requests get a short drain window. Safe to call on a
// server that never started.
func (s *Server) Stop() error {
	s.mu.Lock()
	for client := range s.clients {
		client.closeSend()
	}
	httpServer := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return httpServer.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// isLoopbackRequest reports whether the request came from the local
// machine. Used to restrict CLI-facing endpoints.
func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If we can't parse the address, be conservative and reject
		log.Printf("server: failed to parse RemoteAddr %q: %v", r.RemoteAddr, err)
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		log.Printf("server: failed to parse IP from host %q", host)
		return false
	}

	return ip.IsLoopback()
}
