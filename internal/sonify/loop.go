// Package sonify runs the polling loop that turns log activity into sound.
//
// Each iteration samples Graylog, sets the background volume from the message
// rate and plays one tone per active severity. Iterations run strictly in
// sequence and are spaced by the poll interval measured from the start of each
// iteration; a slow iteration shortens the following wait but never overlaps it.
package sonify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/aura/internal/config"
	"github.com/jmylchreest/aura/internal/model"
)

// rampSteps is the number of volume changes used to glide to a new level.
const rampSteps = 10

// Searcher samples log activity.
type Searcher interface {
	Search(ctx context.Context) (*model.Sample, error)
}

// Mixer is the audio output driven by the loop.
type Mixer interface {
	SetVolume(percent int) error
	Volume() int
	Tone(ctx context.Context, freq float64, d time.Duration) error
}

// Alerter is told when audio output keeps failing.
type Alerter interface {
	NotifyAudioError(err error)
}

// Options configures the loop.
type Options struct {
	Interval      time.Duration
	Mean          float64
	Tones         TonePolicy
	Ramp          time.Duration // time to glide to a new volume; 0 jumps
	SlowThreshold time.Duration // 0 disables the slow tone
	FailureTone   bool
	AlertAfter    int // consecutive audio failures before alerting; 0 disables
}

// OptionsFromConfig derives loop options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		Interval: cfg.Interval(),
		Mean:     cfg.Graylog.Mean,
		Tones: TonePolicy{
			Scale:    cfg.Tones.Scale.Duration(),
			MinCount: cfg.Tones.MinCount,
			Max:      cfg.Tones.MaxDuration.Duration(),
		},
		Ramp:          cfg.Volume.Ramp.Duration(),
		SlowThreshold: cfg.Graylog.SlowThreshold.Duration(),
		FailureTone:   cfg.Tones.Failure,
	}
	if cfg.Alerts.Enabled {
		opts.AlertAfter = cfg.Alerts.AfterFailures
	}
	return opts
}

// Result describes what one iteration did.
type Result struct {
	Sample  *model.Sample // nil when the search failed
	Elapsed time.Duration // time spent waiting on the search
	Volume  int           // volume requested; -1 when left unchanged
	Tones   []Tone
	Err     error // search failure, if any
}

// Loop is the sonification loop. It is driven by a single goroutine.
type Loop struct {
	opts     Options
	searcher Searcher
	mixer    Mixer
	alerter  Alerter
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// Consecutive audio failures and whether the operator was told.
	audioFailures int
	alerted       bool
}

// New creates a loop sampling searcher and driving mixer.
func New(opts Options, searcher Searcher, mixer Mixer, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		opts:     opts,
		searcher: searcher,
		mixer:    mixer,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// SetAlerter sets the receiver for persistent audio failure alerts.
func (l *Loop) SetAlerter(a Alerter) {
	l.alerter = a
}

// Run iterates until ctx is done and then returns ctx.Err().
// Search and audio failures are logged and never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("sonification loop started", "interval", l.opts.Interval, "mean", l.opts.Mean)

	for {
		start := l.now()
		l.Tick(ctx)

		if err := ctx.Err(); err != nil {
			return err
		}

		if wait := l.opts.Interval - l.now().Sub(start); wait > 0 {
			l.logger.Debug("idle", "wait", wait)
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
}

// Tick performs a single iteration: sample, set volume, play tones.
func (l *Loop) Tick(ctx context.Context) Result {
	start := l.now()
	sample, err := l.searcher.Search(ctx)
	res := Result{Sample: sample, Elapsed: l.now().Sub(start), Volume: -1}

	if ctx.Err() != nil {
		res.Err = ctx.Err()
		return res
	}

	if l.opts.SlowThreshold > 0 && res.Elapsed > l.opts.SlowThreshold {
		l.logger.Warn("graylog responded slowly", "elapsed", res.Elapsed, "threshold", l.opts.SlowThreshold)
		res.Tones = append(res.Tones, Tone{Name: "slow", Frequency: FreqSlow, Duration: SignalDuration})
	}

	if err != nil {
		res.Err = err
		res.Sample = nil
		l.logger.Warn("graylog query failed, skipping sonification", "elapsed", res.Elapsed, "error", err)
		if l.opts.FailureTone {
			res.Tones = append(res.Tones, Tone{Name: "failure", Frequency: FreqFailure, Duration: SignalDuration})
		}
		l.playTones(ctx, res.Tones)
		return res
	}

	res.Volume = VolumePercent(sample.Messages, l.opts.Mean)
	l.applyVolume(ctx, res.Volume)

	res.Tones = append(res.Tones, SeverityTones(sample, l.opts.Tones)...)
	l.playTones(ctx, res.Tones)

	l.logger.Info("tick",
		"sample", sample.ID,
		"messages", humanize.Comma(int64(sample.Messages)),
		"warnings", humanize.Comma(int64(sample.Warnings)),
		"errors", humanize.Comma(int64(sample.Errors)),
		"volume", res.Volume,
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)
	return res
}

// applyVolume glides from the current volume to target over the ramp duration.
func (l *Loop) applyVolume(ctx context.Context, target int) {
	from := l.mixer.Volume()
	diff := target - from

	if diff == 0 {
		return
	}

	if l.opts.Ramp <= 0 {
		l.audioResult(l.mixer.SetVolume(target))
		return
	}

	step := l.opts.Ramp / rampSteps
	for i := 1; i <= rampSteps; i++ {
		level := from + diff*i/rampSteps
		if err := l.mixer.SetVolume(level); err != nil {
			l.audioResult(err)
			return
		}
		if i < rampSteps {
			if err := l.sleep(ctx, step); err != nil {
				return
			}
		}
	}
	l.audioResult(nil)
}

// playTones plays tones back to back.
func (l *Loop) playTones(ctx context.Context, tones []Tone) {
	for _, t := range tones {
		l.logger.Debug("tone", "name", t.Name, "freq", t.Frequency, "duration", t.Duration)
		err := l.mixer.Tone(ctx, t.Frequency, t.Duration)
		if ctx.Err() != nil {
			return
		}
		l.audioResult(err)
	}
}

// audioResult tracks consecutive audio failures and raises an alert once
// they reach the configured threshold.
func (l *Loop) audioResult(err error) {
	if err == nil {
		if l.audioFailures > 0 {
			l.logger.Info("audio output recovered", "failures", l.audioFailures)
		}
		l.audioFailures = 0
		l.alerted = false
		return
	}

	l.audioFailures++
	l.logger.Warn("audio output failed", "failures", l.audioFailures, "error", err)

	if l.alerter == nil || l.opts.AlertAfter <= 0 || l.alerted {
		return
	}
	if l.audioFailures >= l.opts.AlertAfter {
		l.alerted = true
		l.alerter.NotifyAudioError(err)
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsCancelled reports whether err is the result of the loop being stopped.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
