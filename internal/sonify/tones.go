package sonify

import (
	"math"
	"time"

	"github.com/jmylchreest/aura/internal/model"
)

// Tone frequencies in Hz. Signals are told apart by pitch alone.
const (
	FreqError   = 1000.0
	FreqWarning = 4000.0
	FreqSlow    = 512.0  // the API took longer than the slow threshold
	FreqFailure = 2048.0 // the API could not be queried
)

// SignalDuration is the length of the slow and failure tones.
const SignalDuration = time.Second

// severityTones maps each counted severity to its tone, in playback order.
var severityTones = []struct {
	Severity  model.Severity
	Frequency float64
}{
	{model.SeverityError, FreqError},
	{model.SeverityWarning, FreqWarning},
}

// Tone is a single beep scheduled for this tick.
type Tone struct {
	Name      string
	Frequency float64
	Duration  time.Duration
}

// TonePolicy converts counts into tone durations.
type TonePolicy struct {
	Scale    time.Duration // duration per counted message
	MinCount int           // counts below this produce no tone
	Max      time.Duration // cap on a single tone; 0 means uncapped
}

// ToneDuration returns how long a tone for count messages should last.
// It is zero when count is below the policy's minimum and never exceeds Max.
func ToneDuration(count int, p TonePolicy) time.Duration {
	if count <= 0 || count < p.MinCount || p.Scale <= 0 {
		return 0
	}
	if p.Max > 0 && int64(count) > int64(p.Max/p.Scale) {
		return p.Max
	}
	return time.Duration(count) * p.Scale
}

// VolumePercent maps observed throughput onto 0-100: the ratio of count to the
// expected mean, as a rounded percentage, clamped to the valid range.
func VolumePercent(count int, mean float64) int {
	if mean <= 0 || count <= 0 {
		return 0
	}
	v := math.Round(float64(count) / mean * 100)
	return int(min(max(v, 0), 100))
}

// SeverityTones returns the severity tones for a sample, errors first.
func SeverityTones(s *model.Sample, p TonePolicy) []Tone {
	var tones []Tone
	for _, st := range severityTones {
		if d := ToneDuration(s.Count(st.Severity), p); d > 0 {
			tones = append(tones, Tone{
				Name:      st.Severity.String(),
				Frequency: st.Frequency,
				Duration:  d,
			})
		}
	}
	return tones
}
