package bluetooth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeRunner scripts bluetoothctl responses keyed by the first argument
// (or the subcommand for flag-prefixed invocations).
type fakeRunner struct {
	responses map[string]struct {
		out string
		err error
	}
	calls []string
}

func (f *fakeRunner) run(timeout time.Duration, args ...string) (string, error) {
	key := args[0]
	if strings.HasPrefix(key, "--") {
		key = args[2] // "--timeout 15 scan on" keys on "scan"
	}
	f.calls = append(f.calls, key)
	r := f.responses[key]
	return r.out, r.err
}

func newFakePairer() (*Pairer, *fakeRunner) {
	fr := &fakeRunner{responses: map[string]struct {
		out string
		err error
	}{}}
	return &Pairer{run: fr.run}, fr
}

func (f *fakeRunner) respond(cmd, out string, err error) {
	f.responses[cmd] = struct {
		out string
		err error
	}{out, err}
}

func TestValidMAC(t *testing.T) {
	tests := []struct {
		mac  string
		want bool
	}{
		{"AA:BB:CC:DD:EE:FF", true},
		{"aa:bb:cc:dd:ee:ff", true},
		{"AA:BB:CC:DD:EE", false},
		{"AA-BB-CC-DD-EE-FF", false},
		{"AA:BB:CC:DD:EE:FF; rm -rf /", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidMAC(tt.mac); got != tt.want {
			t.Errorf("ValidMAC(%q) = %v, want %v", tt.mac, got, tt.want)
		}
	}
}

func TestParseDeviceList(t *testing.T) {
	out := `Device AA:BB:CC:DD:EE:FF JBL Flip 6
Device 11:22:33:44:55:66 Pixel 9
garbage line
Device 77:88:99:AA:BB:CC Speaker With Spaces In Name
`
	devices := parseDeviceList(out)
	if len(devices) != 3 {
		t.Fatalf("len = %d, want 3", len(devices))
	}
	if devices[0].MAC != "AA:BB:CC:DD:EE:FF" || devices[0].Name != "JBL Flip 6" {
		t.Errorf("devices[0] = %+v", devices[0])
	}
	if devices[2].Name != "Speaker With Spaces In Name" {
		t.Errorf("devices[2].Name = %q", devices[2].Name)
	}
}

func TestScan(t *testing.T) {
	p, fr := newFakePairer()
	// The scan window failing (adapter busy) must not abort the listing.
	fr.respond("scan", "", errors.New("org.bluez.Error.InProgress"))
	fr.respond("devices", "Device AA:BB:CC:DD:EE:FF JBL Flip 6\n", nil)

	devices, err := p.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(devices) != 1 || devices[0].Name != "JBL Flip 6" {
		t.Errorf("devices = %+v", devices)
	}
}

func TestPairAndConnectSucceeds(t *testing.T) {
	p, fr := newFakePairer()
	fr.respond("pair", "Pairing successful\n", nil)
	fr.respond("trust", "trust succeeded\n", nil)
	fr.respond("connect", "Connection successful\n", nil)

	res := p.Pair("AA:BB:CC:DD:EE:FF")
	if res.Status != StatusConnected {
		t.Errorf("status = %q, want %q (details: %q)", res.Status, StatusConnected, res.Details)
	}
	if res.MAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("mac = %q", res.MAC)
	}

	// pair, trust, connect, in that order
	want := []string{"pair", "trust", "connect"}
	if len(fr.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", fr.calls, want)
	}
	for i := range want {
		if fr.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, fr.calls[i], want[i])
		}
	}
}

func TestPairAlreadyPairedConnectRefused(t *testing.T) {
	p, fr := newFakePairer()
	fr.respond("pair", "Failed to pair: org.bluez.Error.AlreadyExists\n", errors.New("exit status 1"))
	fr.respond("connect", "Failed to connect: org.bluez.Error.Failed br-connection-refused\n", errors.New("exit status 1"))

	res := p.Pair("AA:BB:CC:DD:EE:FF")
	if res.Status != StatusPaired {
		t.Errorf("status = %q, want %q", res.Status, StatusPaired)
	}
	if !strings.Contains(res.Details, "br-connection-refused") {
		t.Errorf("details = %q, want the connect failure carried through", res.Details)
	}
}

func TestPairFailure(t *testing.T) {
	p, fr := newFakePairer()
	fr.respond("pair", "Failed to pair: org.bluez.Error.AuthenticationFailed\n", errors.New("exit status 1"))

	res := p.Pair("AA:BB:CC:DD:EE:FF")
	if res.Status != StatusFailed {
		t.Errorf("status = %q, want %q", res.Status, StatusFailed)
	}
	if !strings.Contains(res.Details, "AuthenticationFailed") {
		t.Errorf("details = %q", res.Details)
	}
	if len(fr.calls) != 1 {
		t.Errorf("calls = %v, want pair only", fr.calls)
	}
}

func TestPairTimeout(t *testing.T) {
	p, fr := newFakePairer()
	fr.respond("pair", "", context.DeadlineExceeded)

	res := p.Pair("AA:BB:CC:DD:EE:FF")
	if res.Status != StatusTimeout {
		t.Errorf("status = %q, want %q", res.Status, StatusTimeout)
	}
}

func TestConnect(t *testing.T) {
	p, fr := newFakePairer()
	fr.respond("connect", "Connection successful\n", nil)

	res := p.Connect("AA:BB:CC:DD:EE:FF")
	if res.Status != StatusConnected {
		t.Errorf("status = %q, want %q", res.Status, StatusConnected)
	}
}

func TestDisconnect(t *testing.T) {
	p, fr := newFakePairer()
	fr.respond("disconnect", "Successful disconnected\n", nil)

	res := p.Disconnect("AA:BB:CC:DD:EE:FF")
	if res.Status != StatusDisconnected {
		t.Errorf("status = %q, want %q", res.Status, StatusDisconnected)
	}
}

func TestSetDiscoverableToolFailure(t *testing.T) {
	p, fr := newFakePairer()
	fr.respond("discoverable", "", errors.New("no adapter"))

	if err := p.SetDiscoverable(); err == nil {
		t.Fatal("expected error when the tool fails")
	}
}
