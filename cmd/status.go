package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/btaudio/bridge/internal/config"
	"github.com/btaudio/bridge/internal/server"
)

// httpTimeout bounds CLI requests to the local daemon. Loopback either
// answers fast or the daemon isn't running.
const httpTimeout = 5 * time.Second

// runStatus implements "btbridge status": query the running daemon's
// /status endpoint and print a human-readable summary.
func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.btbridge/config.toml)")
	addr := fs.String("addr", "", "Daemon address, overrides config")
	asJSON := fs.Bool("json", false, "Print the raw JSON response")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	base, code := apiBaseFromFlags(*configPath, *addr, stderr)
	if code != 0 {
		return code
	}

	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Get(base + "/status")
	if err != nil {
		fmt.Fprintf(stderr, "Error: bridge is not running at %s (%v)\n", base, err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Error: status request failed: HTTP %d\n", resp.StatusCode)
		return 1
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to read response: %v\n", err)
		return 1
	}

	if *asJSON {
		fmt.Fprintln(stdout, string(body))
		return 0
	}

	var status server.StatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		fmt.Fprintf(stderr, "Error: failed to parse response: %v\n", err)
		return 1
	}

	printStatus(stdout, status)
	return 0
}

func printStatus(w io.Writer, status server.StatusResponse) {
	fmt.Fprintln(w, "Bridge status:")
	fmt.Fprintf(w, "  Listening:    %s\n", status.ListeningAddress)
	fmt.Fprintf(w, "  Stream:       %s\n", status.StreamPath)
	fmt.Fprintf(w, "  Uptime:       %s\n", formatUptime(status.UptimeSeconds))
	fmt.Fprintf(w, "  WS clients:   %d\n", status.ConnectedClients)

	snap := status.Pipeline
	if snap.Streaming {
		fmt.Fprintf(w, "  Pipeline:     streaming from %s (%s @ %d Hz)\n",
			snap.SelectedSource, snap.AudioBitrate, snap.AudioSampleRate)
		fmt.Fprintf(w, "  Stream time:  %s\n", formatUptime(int64(snap.StreamDurationSec)))
		fmt.Fprintf(w, "  Level:        %d/100\n", snap.MeterLevel)
	} else {
		fmt.Fprintln(w, "  Pipeline:     stopped")
	}
	if snap.BluetoothDevice != "" {
		fmt.Fprintf(w, "  Bluetooth:    %s connected\n", snap.BluetoothDevice)
	} else {
		fmt.Fprintln(w, "  Bluetooth:    no device connected")
	}
	if snap.LastError != "" {
		fmt.Fprintf(w, "  Last error:   %s\n", snap.LastError)
	}
}

// formatUptime renders seconds as 1h02m03s style, dropping zero leads.
func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// apiBaseFromFlags resolves the daemon base URL from --addr or the config
// file. Returns a non-zero exit code on config errors.
func apiBaseFromFlags(configPath, addr string, stderr io.Writer) (string, int) {
	if addr != "" {
		return localAPIBase(addr), 0
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return "", 1
	}
	return localAPIBase(cfg.Addr), 0
}
