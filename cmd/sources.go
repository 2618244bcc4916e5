package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"

	"github.com/btaudio/bridge/internal/audio"
)

// runSources implements "btbridge sources": print the audio topology as
// the running daemon's enumerator sees it.
func runSources(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sources", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.btbridge/config.toml)")
	addr := fs.String("addr", "", "Daemon address, overrides config")

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
	resp, err := client.Get(base + "/api/sources")
	if err != nil {
		fmt.Fprintf(stderr, "Error: bridge is not running at %s (%v)\n", base, err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Error: sources request failed: HTTP %d\n", resp.StatusCode)
		return 1
	}

	var topology struct {
		Inputs        []audio.Source `json:"inputs"`
		Sinks         []audio.Sink   `json:"sinks"`
		DefaultSource string         `json:"default_source"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&topology); err != nil {
		fmt.Fprintf(stderr, "Error: failed to parse response: %v\n", err)
		return 1
	}

	if len(topology.Inputs) == 0 {
		fmt.Fprintln(stdout, "No capture sources found.")
	} else {
		fmt.Fprintln(stdout, "Capture sources:")
		for _, src := range topology.Inputs {
			fmt.Fprintf(stdout, "  %s%s\n", src.ID, sourceTags(src))
		}
	}

	if len(topology.Sinks) > 0 {
		fmt.Fprintln(stdout, "Sinks:")
		for _, sink := range topology.Sinks {
			tag := ""
			if sink.Bluetooth {
				tag = "  [bluetooth]"
			}
			fmt.Fprintf(stdout, "  %s%s\n", sink.ID, tag)
		}
	}

	if topology.DefaultSource != "" {
		fmt.Fprintf(stdout, "Default source: %s\n", topology.DefaultSource)
	}
	return 0
}

func sourceTags(src audio.Source) string {
	switch {
	case src.A2DP:
		return "  [bluetooth a2dp]"
	case src.Bluetooth:
		return "  [bluetooth]"
	default:
		return ""
	}
}
