package sonify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jmylchreest/aura/internal/model"
)

func TestVolumePercent(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		mean     float64
		expected int
	}{
		{"half of mean", 50, 100, 50},
		{"at mean", 100, 100, 100},
		{"clamped above mean", 300, 100, 100},
		{"no messages", 0, 100, 0},
		{"negative count", -5, 100, 0},
		{"rounds half up", 1, 200, 1},
		{"rounds down", 1, 300, 0},
		{"fractional mean", 3, 7.5, 40},
		{"non-positive mean", 10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, VolumePercent(tt.count, tt.mean))
		})
	}
}

func TestVolumePercent_BoundedAndMonotonic(t *testing.T) {
	for _, mean := range []float64{0.5, 1, 3, 42, 100, 1234.5} {
		prev := 0
		for count := 0; count <= 5000; count++ {
			v := VolumePercent(count, mean)
			assert.GreaterOrEqual(t, v, 0)
			assert.LessOrEqual(t, v, 100)
			if v < prev {
				t.Fatalf("volume decreased for mean %v at count %d: %d < %d", mean, count, v, prev)
			}
			prev = v
		}
	}
}

func TestToneDuration(t *testing.T) {
	policy := TonePolicy{Scale: time.Millisecond, MinCount: 1, Max: 2 * time.Second}

	assert.Equal(t, time.Duration(0), ToneDuration(0, policy))
	assert.Equal(t, 3*time.Millisecond, ToneDuration(3, policy))
	assert.Equal(t, 2*time.Second, ToneDuration(2000, policy))
	assert.Equal(t, 2*time.Second, ToneDuration(1_000_000, policy))

	scaled := TonePolicy{Scale: 10 * time.Millisecond, MinCount: 25}
	assert.Equal(t, time.Duration(0), ToneDuration(24, scaled))
	assert.Equal(t, 250*time.Millisecond, ToneDuration(25, scaled))

	assert.Equal(t, time.Duration(0), ToneDuration(5, TonePolicy{}))
}

func TestSeverityTones(t *testing.T) {
	policy := TonePolicy{Scale: time.Millisecond, MinCount: 1}

	assert.Empty(t, SeverityTones(&model.Sample{Messages: 10}, policy))

	tones := SeverityTones(&model.Sample{Messages: 10, Errors: 3}, policy)
	assert.Equal(t, []Tone{{Name: "error", Frequency: 1000, Duration: 3 * time.Millisecond}}, tones)

	tones = SeverityTones(&model.Sample{Messages: 10, Errors: 2, Warnings: 5}, policy)
	assert.Equal(t, []Tone{
		{Name: "error", Frequency: 1000, Duration: 2 * time.Millisecond},
		{Name: "warning", Frequency: 4000, Duration: 5 * time.Millisecond},
	}, tones)
}
