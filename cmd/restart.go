package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// restartHTTPTimeout leaves room for the daemon's settle delay plus a full
// backoff sequence before the CLI gives up.
const restartHTTPTimeout = 2 * time.Minute

// runRestart implements "btbridge restart": ask the running daemon to
// restart the pipeline, optionally switching the capture source first.
func runRestart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("restart", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.btbridge/config.toml)")
	addr := fs.String("addr", "", "Daemon address, overrides config")
	source := fs.String("source", "", "Switch to this capture source (empty keeps the current one)")

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

	endpoint := base + "/api/restart"
	var body io.Reader
	if *source != "" {
		endpoint = base + "/api/source"
		payload, _ := json.Marshal(map[string]string{"source": *source})
		body = strings.NewReader(string(payload))
	}

	client := &http.Client{Timeout: restartHTTPTimeout}
	resp, err := client.Post(endpoint, "application/json", body)
	if err != nil {
		fmt.Fprintf(stderr, "Error: bridge is not running at %s (%v)\n", base, err)
		return 1
	}
	defer resp.Body.Close()

	var result struct {
		Success   bool   `json:"success"`
		Attempts  int    `json:"attempts"`
		ErrorCode string `json:"error_code"`
		Error     string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fmt.Fprintf(stderr, "Error: failed to parse response: %v\n", err)
		return 1
	}

	if !result.Success {
		if result.Error != "" {
			fmt.Fprintf(stderr, "Restart failed after %d attempt(s): %s (%s)\n",
				result.Attempts, result.Error, result.ErrorCode)
		} else {
			fmt.Fprintf(stderr, "Restart failed after %d attempt(s)\n", result.Attempts)
		}
		return 1
	}

	fmt.Fprintf(stdout, "Pipeline restarted (attempt %d)\n", result.Attempts)
	return 0
}
