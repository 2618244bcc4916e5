package encoder

import (
	"strings"
	"testing"
)

func TestDBToMeter(t *testing.T) {
	tests := []struct {
		db   float64
		want int
	}{
		{-60, 0},
		{0, 100},
		{-30, 50},
		{-90, 0},   // below floor clamps to 0
		{3.5, 100}, // above ceiling clamps to 100
		{-15, 75},
	}

	for _, tt := range tests {
		if got := DBToMeter(tt.db); got != tt.want {
			t.Errorf("DBToMeter(%v) = %d, want %d", tt.db, got, tt.want)
		}
	}
}

func TestParseMeterLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		wantDB float64
		wantOK bool
	}{
		{"astats metadata", "lavfi.astats.Overall.RMS_level=-23.5", -23.5, true},
		{"summary colon", "RMS level dB: -18.2", -18.2, true},
		{"summary lowercase", "rms_level=-42.0", -42.0, true},
		{"unrelated line", "size=    1024kB time=00:00:32.78 bitrate= 192.0kbits/s", 0, false},
		{"empty line", "", 0, false},
		{"no number", "RMS level dB: silence", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, ok := ParseMeterLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && db != tt.wantDB {
				t.Errorf("db = %v, want %v", db, tt.wantDB)
			}
		})
	}
}

func TestDrainDiagnostics(t *testing.T) {
	input := strings.Join([]string{
		"Stream mapping:",
		"lavfi.astats.Overall.RMS_level=-60.0",
		"lavfi.astats.Overall.RMS_level=-30.0",
		"frame=  100 fps= 25",
		"lavfi.astats.Overall.RMS_level=0.0",
	}, "\n")

	var levels []int
	drainDiagnostics(strings.NewReader(input), func(v int) {
		levels = append(levels, v)
	})

	// Three recognized lines, then the end-of-stream decay to zero.
	want := []int{0, 50, 100, 0}
	if len(levels) != len(want) {
		t.Fatalf("levels = %v, want %v", levels, want)
	}
	for i := range want {
		if levels[i] != want[i] {
			t.Errorf("levels[%d] = %d, want %d", i, levels[i], want[i])
		}
	}
}
