package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/btaudio/bridge/internal/audio"
	"github.com/btaudio/bridge/internal/bluetooth"
	"github.com/btaudio/bridge/internal/config"
	"github.com/btaudio/bridge/internal/encoder"
	"github.com/btaudio/bridge/internal/mdns"
	"github.com/btaudio/bridge/internal/pipeline"
	"github.com/btaudio/bridge/internal/server"
	"github.com/btaudio/bridge/internal/state"
	"github.com/btaudio/bridge/internal/storage"
)

// runStart implements "btbridge start": it wires the whole bridge together
// and runs until SIGINT/SIGTERM.
//
// Startup order matters: the HTTP server comes up before the pipeline so a
// failed encoder start still leaves the control surface reachable (the CLI
// and WebSocket clients can inspect the error and pick another source).
func runStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.btbridge/config.toml)")
	addr := fs.String("addr", "", "Listen address, overrides config (e.g. 0.0.0.0:8000)")
	source := fs.String("source", "", "Capture source to use verbatim, skipping resolution")
	mdnsFlag := fs.Bool("mdns", false, "Advertise the stream via mDNS/Bonjour")
	qrFlag := fs.Bool("qr", false, "Display the stream URL as a QR code on startup")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: btbridge start [options]

Start the bridge daemon: select an audio source, launch the encoder,
serve the stream over HTTP, and push status over WebSocket.

A missing config file is created with LAN-ready defaults on first run.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// First run convenience: materialize the default config so users have
	// a file to edit.
	if *configPath == "" {
		if defaultPath, err := config.DefaultConfigPath(); err == nil {
			if err := config.WriteDefault(defaultPath); err != nil {
				fmt.Fprintf(stderr, "Warning: failed to create default config: %v\n", err)
			}
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *source != "" {
		cfg.Bluetooth.PreferredSource = *source
	}
	if *mdnsFlag {
		cfg.MdnsEnabled = true
	}

	// Daemon logs go to the configured file when set; the console stays
	// reserved for the startup summary.
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		log.SetOutput(f)
	}

	if err := writePIDFile(cfg.PIDFile); err != nil {
		fmt.Fprintf(stderr, "Warning: failed to write PID file: %v\n", err)
	} else {
		defer os.Remove(cfg.PIDFile)
	}

	// Persistent event journal. The bridge runs without it if the database
	// cannot be opened; history just won't survive restarts.
	ps := state.New()
	var store *storage.EventStore
	if cfg.DBPath != "" {
		store, err = storage.NewEventStore(cfg.DBPath)
		if err != nil {
			log.Printf("main: event journal unavailable: %v", err)
		} else {
			defer store.Close()
			ps.SetEventSink(storage.NewSink(store))
		}
	}

	enum := audio.PactlEnumerator{}
	resolver := audio.NewResolver(enum, cfg.Fallback.UseDefaultSource)
	sup := encoder.NewSupervisor(&encoder.FFmpegLauncher{}, ps)

	pipe := pipeline.New(resolver, sup, ps, pipeline.Options{
		Preferred: cfg.Bluetooth.PreferredSource,
		Params: encoder.Params{
			Channels:   cfg.Audio.Channels,
			SampleRate: cfg.Audio.SampleRate,
			Bitrate:    cfg.Audio.Bitrate,
			Format:     cfg.Audio.Format,
			BufferSize: cfg.Audio.BufferSize,
			Meter:      cfg.Streaming.EnableRMSMeter,
		},
		Policy: pipeline.RetryPolicy{
			MaxAttempts: cfg.Fallback.MaxRetries,
			BaseDelay:   time.Duration(cfg.Fallback.RetryDelaySec) * time.Second,
		},
		StatusInterval: time.Duration(cfg.Streaming.StatusIntervalSec) * time.Second,
	})

	monitor := bluetooth.NewMonitor(bluetooth.CLITool{}, ps,
		time.Duration(cfg.Bluetooth.PollIntervalSec)*time.Second)
	if cfg.Bluetooth.AutoReconnect {
		monitor.OnReconnect = func(name string) {
			ps.IncReconnectAttempts()
			log.Printf("main: %s reconnected, restarting pipeline", name)
			// Restart sleeps through settle and backoff delays; keep the
			// monitor goroutine free to poll.
			go pipe.Restart(pipe.DefaultPolicy())
		}
	}

	srv := server.NewServer(cfg.Addr, pipe)
	srv.SetStream(cfg.StreamPath, cfg.Audio.Format, cfg.Audio.BufferSize)
	srv.SetEnumerator(enum)
	srv.SetPairer(bluetooth.NewPairer())
	if store != nil {
		srv.SetEventStore(store)
	}
	srv.SetCastDiscovery(cfg.Cast.DiscoverEnabled,
		time.Duration(cfg.Cast.DiscoveryTimeoutSec)*time.Second)

	serverErrCh, err := srv.StartAsync()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var advertiser *mdns.Advertiser
	if cfg.MdnsEnabled {
		if port, err := listenPort(cfg.Addr); err == nil {
			advertiser = mdns.NewAdvertiser(mdns.Config{
				Port:       port,
				StreamPath: cfg.StreamPath,
				Format:     cfg.Audio.Format,
			})
			if err := advertiser.Start(); err != nil {
				log.Printf("main: mdns advertisement failed: %v", err)
				advertiser = nil
			}
		} else {
			log.Printf("main: mdns disabled, cannot parse port from %q: %v", cfg.Addr, err)
		}
	}

	// Status broadcaster runs regardless of whether the encoder is up.
	pipe.StartBackground()
	monitor.Start()

	if err := pipe.Start(); err != nil {
		// Not fatal: the server is up and a restart command can recover
		// once a source appears.
		log.Printf("main: initial pipeline start failed: %v", err)
		fmt.Fprintf(stderr, "Warning: stream not started: %v\n", err)
	}

	printStartSummary(stdout, cfg, *qrFlag)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Fprintf(stdout, "\nReceived %v, shutting down...\n", sig)
	case err := <-serverErrCh:
		if err != nil {
			fmt.Fprintf(stderr, "Error: server failed: %v\n", err)
		}
	}

	monitor.Stop()
	if advertiser != nil {
		advertiser.Stop()
	}
	if err := srv.Stop(); err != nil {
		log.Printf("main: server stop: %v", err)
	}
	pipe.Shutdown()
	return 0
}

// printStartSummary tells the user where the stream is reachable.
func printStartSummary(stdout io.Writer, cfg *config.Config, withQR bool) {
	streamURL := lanStreamURL(cfg.Addr, cfg.StreamPath)

	fmt.Fprintln(stdout, "btbridge is running")
	fmt.Fprintf(stdout, "  Stream:  %s\n", streamURL)
	fmt.Fprintf(stdout, "  Status:  %s/status (local only)\n", localAPIBase(cfg.Addr))
	fmt.Fprintf(stdout, "  Control: btbridge status | restart | sources\n")
	if withQR {
		displayStreamQR(stdout, streamURL)
	}
	fmt.Fprintln(stdout, "Press Ctrl+C to stop.")
}

// writePIDFile records the daemon PID so wrapper scripts can signal it.
func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0600)
}

// listenPort extracts the numeric port from a host:port listen address.
func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
