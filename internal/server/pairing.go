package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/btaudio/bridge/internal/apperrors"
	"github.com/btaudio/bridge/internal/bluetooth"
)

// BluetoothPairer drives the adapter's pairing surface. Implemented by
// bluetooth.Pairer; faked in tests.
type BluetoothPairer interface {
	SetDiscoverable() error
	Scan() ([]bluetooth.PeerDevice, error)
	Pair(mac string) bluetooth.PairResult
	Connect(mac string) bluetooth.PairResult
	Disconnect(mac string) bluetooth.PairResult
}

// SetPairer injects the Bluetooth pairing controller.
func (s *Server) SetPairer(p BluetoothPairer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairer = p
}

func (s *Server) getPairer() BluetoothPairer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pairer
}

// handleScanBluetooth implements GET /api/scan-bt: enter discoverable
// mode, run a bounded scan, and return every device the adapter knows.
// The request blocks for the scan window.
func (s *Server) handleScanBluetooth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pairer := s.getPairer()
	if pairer == nil {
		http.Error(w, "Bluetooth control unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := pairer.SetDiscoverable(); err != nil {
		code, msg := apperrors.ToCodeAndMessage(err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error_code": code, "error": msg})
		return
	}

	devices, err := pairer.Scan()
	if err != nil {
		code, msg := apperrors.ToCodeAndMessage(err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error_code": code, "error": msg})
		return
	}

	s.pipe.RecordExternalEvent("pairing", fmt.Sprintf("scan finished, %d device(s) visible", len(devices)))
	writeJSON(w, http.StatusOK, map[string]any{"status": "scanning", "devices": devices})
}

// handlePairMode implements GET /api/pair-mode: make this machine
// discoverable and pairable so a phone can initiate pairing from its side.
func (s *Server) handlePairMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pairer := s.getPairer()
	if pairer == nil {
		http.Error(w, "Bluetooth control unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := pairer.SetDiscoverable(); err != nil {
		code, msg := apperrors.ToCodeAndMessage(err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error_code": code, "error": msg})
		return
	}

	s.pipe.RecordExternalEvent("pairing", "pair mode enabled, adapter discoverable")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "discoverable",
		"message": "Device is now discoverable and pairable.",
	})
}

// handleBluetoothDevice dispatches POST /api/bt/{pair,connect,disconnect}/{mac}.
// Pairing outcomes, including failures, are recorded as connection events:
// they explain later stream state to anyone reading the history.
func (s *Server) handleBluetoothDevice(op string) http.HandlerFunc {
	prefix := "/api/bt/" + op + "/"
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		pairer := s.getPairer()
		if pairer == nil {
			http.Error(w, "Bluetooth control unavailable", http.StatusServiceUnavailable)
			return
		}

		mac := strings.TrimPrefix(r.URL.Path, prefix)
		if !bluetooth.ValidMAC(mac) {
			coded := apperrors.InvalidMessage("invalid MAC address format")
			writeJSON(w, http.StatusBadRequest, map[string]string{"error_code": coded.Code, "error": coded.Message})
			return
		}

		var result bluetooth.PairResult
		switch op {
		case "pair":
			result = pairer.Pair(mac)
		case "connect":
			result = pairer.Connect(mac)
		case "disconnect":
			result = pairer.Disconnect(mac)
		}

		s.pipe.RecordExternalEvent("pairing", fmt.Sprintf("%s %s: %s", op, mac, result.Status))
		writeJSON(w, http.StatusOK, result)
	}
}
