// Package main provides CLI commands for the btbridge daemon.
// This file centralizes address derivation for local CLI commands.
package main

import (
	"fmt"
	"net"
	"strings"
)

// localAPIBase derives the local HTTP base URL for CLI commands from the
// daemon's configured listen address. A wildcard host (0.0.0.0, ::, or
// empty) maps to loopback since the CLI always talks to its own machine.
func localAPIBase(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// Bare port like ":8000" fails SplitHostPort only when the colon
		// is missing entirely; treat the whole value as a port then.
		port = strings.TrimPrefix(addr, ":")
		host = ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, port))
}

// lanStreamURL builds the URL a LAN player would use to reach the stream.
// A wildcard listen host is replaced with the machine's preferred outbound
// IP so the URL is reachable from other devices.
func lanStreamURL(addr, streamPath string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		port = strings.TrimPrefix(addr, ":")
		host = ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		if ip := GetPreferredOutboundIP(); ip != "" {
			host = ip
		} else {
			host = "127.0.0.1"
		}
	}
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(host, port), streamPath)
}

// GetPreferredOutboundIP returns the machine's preferred outbound IPv4 address.
// It works by dialing a UDP connection to a public IP (no actual traffic sent)
// and checking which local address was selected by the OS routing table.
// Returns empty string if detection fails.
func GetPreferredOutboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
