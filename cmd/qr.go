package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"

	"github.com/btaudio/bridge/internal/config"
)

// runQR implements "btbridge qr": print the stream URL as an ASCII QR
// code so a phone can open the stream without typing an IP address.
func runQR(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("qr", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.btbridge/config.toml)")
	addr := fs.String("addr", "", "Bridge address, overrides config")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	displayStreamQR(stdout, lanStreamURL(cfg.Addr, cfg.StreamPath))
	return 0
}

// displayStreamQR renders the stream URL as a compact QR code with a
// plain-text fallback underneath.
func displayStreamQR(w io.Writer, streamURL string) {
	qr, err := qrcode.New(streamURL, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Stream URL: %s\n", streamURL)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Scan to listen:")
	fmt.Fprintln(w, "")
	// ToSmallString(false) produces compact half-block output without a border.
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintf(w, "\n%s\n", streamURL)
}
