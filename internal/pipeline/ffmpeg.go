// Package pipeline decodes catalog clips into the fixed PCM format the voice
// layer consumes (48 kHz, stereo, signed 16-bit little-endian) by spawning an
// external ffmpeg process per playback.
//
// When loudness normalization is enabled the EBU R128 loudnorm filter is
// applied with operator-configurable targets; otherwise the clip is only
// decoded. Either way the output stream is consumed lazily as audio is sent.
package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
)

// Output format constants. Discord voice consumes 48 kHz stereo s16le.
const (
	outputSampleRate = 48000
	outputChannels   = 2
)

// Config holds the loudness-normalization targets.
type Config struct {
	// Normalize toggles the loudnorm filter. When false, clips are decoded
	// without loudness adjustment.
	Normalize bool

	// IntegratedLoudness is the loudnorm I target in LUFS. Default: -16.
	IntegratedLoudness float64

	// LoudnessRange is the loudnorm LRA target in LU. Default: 11.
	LoudnessRange float64

	// TruePeak is the loudnorm TP ceiling in dBTP. Default: -1.5.
	TruePeak float64

	// FFmpegPath overrides the ffmpeg binary path. Default: "ffmpeg" on $PATH.
	FFmpegPath string
}

// DefaultConfig returns the pipeline defaults: normalization on with the
// targets the service has always shipped with.
func DefaultConfig() Config {
	return Config{
		Normalize:          true,
		IntegratedLoudness: -16,
		LoudnessRange:      11,
		TruePeak:           -1.5,
	}
}

// Decoder turns clip file paths into PCM streams.
// Decoder is safe for concurrent use; each Open spawns its own process.
type Decoder struct {
	cfg Config
}

// NewDecoder creates a Decoder with the given config, filling zero-valued
// normalization targets with the defaults.
func NewDecoder(cfg Config) *Decoder {
	def := DefaultConfig()
	if cfg.IntegratedLoudness == 0 {
		cfg.IntegratedLoudness = def.IntegratedLoudness
	}
	if cfg.LoudnessRange == 0 {
		cfg.LoudnessRange = def.LoudnessRange
	}
	if cfg.TruePeak == 0 {
		cfg.TruePeak = def.TruePeak
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	return &Decoder{cfg: cfg}
}

// args builds the ffmpeg argument list for decoding path.
func (d *Decoder) args(path string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-i", path}
	if d.cfg.Normalize {
		filter := fmt.Sprintf("loudnorm=I=%s:LRA=%s:TP=%s",
			formatTarget(d.cfg.IntegratedLoudness),
			formatTarget(d.cfg.LoudnessRange),
			formatTarget(d.cfg.TruePeak),
		)
		args = append(args, "-af", filter)
	}
	return append(args,
		"-f", "s16le",
		"-ar", strconv.Itoa(outputSampleRate),
		"-ac", strconv.Itoa(outputChannels),
		"pipe:1",
	)
}

// Open starts an ffmpeg process decoding the clip at path and returns its
// PCM output stream. Closing the stream kills the process and reaps it.
func (d *Decoder) Open(path string) (io.ReadCloser, error) {
	cmd := exec.Command(d.cfg.FFmpegPath, d.args(path)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipeline: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pipeline: start ffmpeg: %w", err)
	}

	slog.Debug("pipeline: ffmpeg started", "clip", path, "pid", cmd.Process.Pid, "normalize", d.cfg.Normalize)

	return &processStream{ReadCloser: stdout, cmd: cmd}, nil
}

// processStream ties the lifetime of the ffmpeg process to the stream. Close
// is safe to call while a reader is mid-Read and more than once.
type processStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (p *processStream) Close() error {
	err := p.ReadCloser.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	// Reap the process; the exit status after a kill is expected noise.
	_ = p.cmd.Wait()
	return err
}

// formatTarget renders a loudnorm target without a trailing ".0" for whole
// numbers, matching the filter syntax ffmpeg documents.
func formatTarget(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
