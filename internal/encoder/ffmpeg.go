package encoder

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"syscall"
)

// astatsFilter makes ffmpeg print per-window RMS level lines on stderr,
// which the meter parser consumes. reset=1 gives a fresh measurement per
// window instead of a running aggregate.
const astatsFilter = "astats=metadata=1:reset=1,ametadata=print:key=lavfi.astats.Overall.RMS_level"

// FFmpegLauncher launches ffmpeg reading from a PulseAudio source and
// writing the encoded stream to stdout. Diagnostic output (including RMS
// level lines when metering is on) arrives on stderr.
type FFmpegLauncher struct {
	// Binary overrides the ffmpeg executable path. Empty means "ffmpeg"
	// resolved from PATH.
	Binary string
}

// Launch builds and starts the ffmpeg command:
//
//	ffmpeg -f pulse -i <source> -ac <channels> -ar <rate> -b:a <bitrate>
//	       [-af astats...] -f <format> -fflags +nobuffer -flags +low_delay pipe:1
//
// The nobuffer/low_delay flags keep end-to-end latency down; listeners are
// live, not archival.
func (l *FFmpegLauncher) Launch(p Params) (Handle, error) {
	bin := l.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	args := []string{
		"-hide_banner",
		"-f", "pulse",
		"-i", p.Source,
		"-ac", strconv.Itoa(p.Channels),
		"-ar", strconv.Itoa(p.SampleRate),
		"-b:a", p.Bitrate,
	}
	if p.Meter {
		args = append(args, "-af", astatsFilter)
	}
	args = append(args,
		"-f", p.Format,
		"-fflags", "+nobuffer",
		"-flags", "+low_delay",
		"pipe:1",
	)

	cmd := exec.Command(bin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	return &ffmpegHandle{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type ffmpegHandle struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (h *ffmpegHandle) Output() io.Reader      { return h.stdout }
func (h *ffmpegHandle) Diagnostics() io.Reader { return h.stderr }

// Stop sends SIGTERM, letting ffmpeg flush and close its outputs.
func (h *ffmpegHandle) Stop() error {
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

// Kill terminates the process immediately.
func (h *ffmpegHandle) Kill() error {
	return h.cmd.Process.Kill()
}

func (h *ffmpegHandle) Wait() error {
	return h.cmd.Wait()
}

func (h *ffmpegHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}
