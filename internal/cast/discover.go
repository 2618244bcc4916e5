// Package cast discovers cast-capable receivers on the local network.
//
// Discovery only lists devices; driving a cast session is delegated to the
// receiver-side player pulling the HTTP stream. Receivers advertise
// themselves over mDNS as _googlecast._tcp with a friendly name in the
// "fn" TXT record.
package cast

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type cast receivers register under.
const ServiceType = "_googlecast._tcp"

// Device is a discovered cast receiver.
type Device struct {
	// Name is the friendly name (fn TXT record), falling back to the
	// mDNS instance name.
	Name string `json:"name"`

	// Host is the receiver's IP address.
	Host string `json:"host"`

	// Port is the receiver's cast port (usually 8009).
	Port int `json:"port"`

	// Model is the receiver model (md TXT record), when advertised.
	Model string `json:"model,omitempty"`
}

// Discover browses for cast receivers until the context is done and
// returns everything found. Callers bound the browse with a context
// timeout; cancelling releases the underlying listener resources.
func Discover(ctx context.Context) ([]Device, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("cast resolver: %w", err)
	}

	var (
		devices []Device
		mu      sync.Mutex
		wg      sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			dev := deviceFromEntry(entry)
			mu.Lock()
			devices = append(devices, dev)
			mu.Unlock()
		}
	}()

	err = resolver.Browse(ctx, ServiceType, "local.", entries)
	if err != nil {
		return nil, fmt.Errorf("cast browse: %w", err)
	}

	// The zeroconf library closes the entries channel when the context is
	// done; wait for the collector to finish processing.
	<-ctx.Done()
	wg.Wait()

	return devices, nil
}

// deviceFromEntry maps one mDNS service entry to a Device, preferring the
// IPv4 address and the fn/md TXT records over raw instance data.
func deviceFromEntry(entry *zeroconf.ServiceEntry) Device {
	dev := Device{
		Name: entry.Instance,
		Port: entry.Port,
	}

	if len(entry.AddrIPv4) > 0 {
		dev.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		dev.Host = entry.AddrIPv6[0].String()
	}

	for _, txt := range entry.Text {
		switch {
		case strings.HasPrefix(txt, "fn="):
			dev.Name = txt[3:]
		case strings.HasPrefix(txt, "md="):
			dev.Model = txt[3:]
		}
	}
	return dev
}
