package encoder

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
)

// The encoder's diagnostic stream encodes signal level in one of two known
// textual forms, depending on tool version and filter configuration:
//
//	RMS level dB: -23.5        (astats summary output)
//	lavfi.astats.Overall.RMS_level=-23.5   (ametadata print output)
//
// Matching is best-effort: lines that fit neither pattern are ignored, and
// neither format is a guaranteed contract of the external tool.
var (
	rmsLevelPattern = regexp.MustCompile(`(?i)RMS[_\s]?level[:\s=]+([-\d.]+)`)
	astatsPattern   = regexp.MustCompile(`lavfi\.astats\.\w+\.RMS_level=([-\d.]+)`)
)

// ParseMeterLine extracts a decibel reading from a diagnostic line.
// Returns ok=false for lines that carry no level measurement.
func ParseMeterLine(line string) (db float64, ok bool) {
	m := astatsPattern.FindStringSubmatch(line)
	if m == nil {
		m = rmsLevelPattern.FindStringSubmatch(line)
	}
	if m == nil {
		return 0, false
	}
	db, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return db, true
}

// DBToMeter converts a decibel reading to the 0-100 meter scale:
// -60 dB maps to 0, 0 dB maps to 100, linear in between, clamped outside.
func DBToMeter(db float64) int {
	v := (db + 60) * 100 / 60
	if v < 0 {
		v = 0
	} else if v > 100 {
		v = 100
	}
	return int(v)
}

// drainDiagnostics reads the diagnostic stream line by line, publishing a
// meter sample for every recognized level line. It runs on its own
// goroutine for the life of one encoder process; blocking reads against
// the process pipe must never stall the broadcaster or the output relay.
// When the stream ends the meter decays to zero.
func drainDiagnostics(r io.Reader, setLevel func(int)) {
	scanner := bufio.NewScanner(r)
	// Level lines are short, but ffmpeg can emit long unrelated lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	for scanner.Scan() {
		if db, ok := ParseMeterLine(scanner.Text()); ok {
			setLevel(DBToMeter(db))
		}
	}
	setLevel(0)
}
