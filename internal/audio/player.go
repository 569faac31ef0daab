package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/generators"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

const (
	// SampleRate is the speaker rate. Background files are resampled to it and
	// tones are generated at it, so every tone frequency stays below Nyquist.
	SampleRate = beep.SampleRate(44100)

	// toneGain is the base-2 volume applied to every tone (-1 halves the amplitude).
	toneGain = -1.0

	// bufferLatency is the speaker buffer length.
	bufferLatency = 100 * time.Millisecond

	// toneSlack is how long past its expected end a tone may take before the
	// output is considered stalled.
	toneSlack = time.Second
)

var (
	// ErrNotOpen is returned when the speaker has not been initialised by Open.
	ErrNotOpen = errors.New("audio output not open")

	// ErrStalled is returned when the output stops consuming samples.
	ErrStalled = errors.New("audio output stalled")
)

// DeviceError reports a failure to drive the audio output.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Player loops a background sound through the speaker and plays tones over it.
type Player struct {
	mu     sync.Mutex
	logger *slog.Logger

	// Whether speaker has been initialized
	initialized bool

	// Sample rate for the speaker
	sampleRate beep.SampleRate

	// Background loop, wrapped in a volume effect. Fields of background are
	// mutated under speaker.Lock once playback has started.
	path       string
	background *effects.Volume
	percent    int
}

// NewPlayer creates a new audio player.
func NewPlayer(logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}

	return &Player{
		logger:     logger,
		sampleRate: SampleRate,
	}
}

// Open decodes path, initialises the speaker and starts looping the file at
// the given volume percentage.
// Supports WAV, OGG, and MP3 formats.
func (p *Player) Open(path string, percent int) error {
	path = expandPath(path)

	buffer, err := decodeFile(path)
	if err != nil {
		return err
	}

	if err := p.ensureInitialized(); err != nil {
		return err
	}

	loop, err := p.loop(buffer)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.background != nil {
		return fmt.Errorf("background sound already playing: %s", p.path)
	}

	percent = clampPercent(percent)
	p.background = &effects.Volume{Streamer: loop, Base: 2}
	applyPercent(p.background, percent)
	p.path = path
	p.percent = percent

	speaker.Play(p.background)
	p.logger.Info("background sound playing", "path", path, "volume", percent)
	return nil
}

// Reload re-decodes the background file and swaps it into the running loop.
// The current volume is kept.
func (p *Player) Reload() error {
	p.mu.Lock()
	path := p.path
	background := p.background
	p.mu.Unlock()

	if background == nil {
		return &DeviceError{Op: "reload", Err: ErrNotOpen}
	}

	buffer, err := decodeFile(path)
	if err != nil {
		return err
	}

	loop, err := p.loop(buffer)
	if err != nil {
		return err
	}

	speaker.Lock()
	background.Streamer = loop
	speaker.Unlock()

	p.logger.Info("background sound reloaded", "path", path)
	return nil
}

// SetVolume sets the background volume as a percentage (0 to 100).
func (p *Player) SetVolume(percent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.background == nil {
		return &DeviceError{Op: "set volume", Err: ErrNotOpen}
	}

	percent = clampPercent(percent)
	speaker.Lock()
	applyPercent(p.background, percent)
	speaker.Unlock()

	p.percent = percent
	return nil
}

// Volume returns the current background volume percentage.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent
}

// Tone plays a sine tone of freq Hz over the background and blocks until it
// has finished or ctx is done. A tone that does not finish shortly after its
// duration fails with ErrStalled.
func (p *Player) Tone(ctx context.Context, freq float64, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	p.mu.Lock()
	initialized := p.initialized
	sampleRate := p.sampleRate
	p.mu.Unlock()

	if !initialized {
		return &DeviceError{Op: "tone", Err: ErrNotOpen}
	}

	tone, err := toneStreamer(sampleRate, freq, d)
	if err != nil {
		return &DeviceError{Op: "tone", Err: err}
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(tone, beep.Callback(func() { close(done) })))

	return waitTone(ctx, done, d+bufferLatency+toneSlack)
}

// waitTone waits for done, ctx or the limit, whichever comes first.
func waitTone(ctx context.Context, done <-chan struct{}, limit time.Duration) error {
	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return &DeviceError{Op: "tone", Err: ErrStalled}
	}
}

// Close stops all playback and releases the speaker.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		speaker.Clear()
		speaker.Close()
		p.initialized = false
	}
	p.background = nil
	p.logger.Debug("audio player closed")
}

// ensureInitialized initializes the speaker if not already done.
func (p *Player) ensureInitialized() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	bufferSize := p.sampleRate.N(bufferLatency)

	if err := speaker.Init(p.sampleRate, bufferSize); err != nil {
		return &DeviceError{Op: "init", Err: err}
	}

	p.initialized = true
	p.logger.Debug("speaker initialized", "sample_rate", p.sampleRate)
	return nil
}

// loop turns a decoded buffer into an endless streamer at the speaker's rate.
func (p *Player) loop(buffer *beep.Buffer) (beep.Streamer, error) {
	if buffer.Len() == 0 {
		return nil, errors.New("sound file contains no audio")
	}

	loop, err := beep.Loop2(buffer.Streamer(0, buffer.Len()))
	if err != nil {
		return nil, fmt.Errorf("failed to loop sound: %w", err)
	}

	p.mu.Lock()
	sampleRate := p.sampleRate
	p.mu.Unlock()

	if buffer.Format().SampleRate != sampleRate {
		loop = beep.Resample(4, buffer.Format().SampleRate, sampleRate, loop)
	}
	return loop, nil
}

// toneStreamer returns a finite sine tone lasting d at the given sample rate.
func toneStreamer(sampleRate beep.SampleRate, freq float64, d time.Duration) (beep.Streamer, error) {
	sine, err := generators.SineTone(sampleRate, freq)
	if err != nil {
		return nil, fmt.Errorf("invalid tone %.0fHz: %w", freq, err)
	}
	return beep.Take(sampleRate.N(d), &effects.Volume{
		Streamer: sine,
		Base:     2,
		Volume:   toneGain,
	}), nil
}

// decodeFile loads and decodes a sound file into a buffer.
func decodeFile(path string) (*beep.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sound file: %w", err)
	}
	defer func() { _ = f.Close() }()

	ext := strings.ToLower(filepath.Ext(path))

	var streamer beep.StreamSeekCloser
	var format beep.Format

	switch ext {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".ogg":
		streamer, format, err = vorbis.Decode(f)
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s", ext)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode sound: %w", err)
	}
	defer func() { _ = streamer.Close() }()

	buffer := beep.NewBuffer(format)
	buffer.Append(streamer)

	return buffer, nil
}

// applyPercent maps a 0-100 percentage onto a base-2 volume effect.
func applyPercent(v *effects.Volume, percent int) {
	if percent <= 0 {
		v.Silent = true
		v.Volume = 0
		return
	}
	v.Silent = false
	v.Volume = math.Log2(float64(percent) / 100)
}

func clampPercent(percent int) int {
	return min(max(percent, 0), 100)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
