package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts the clip to the target sample rate using a pure Go
// band-limited resampler. Same-rate input is returned unchanged.
func Resample(c *Clip, targetRate int) (*Clip, error) {
	if c.SampleRate == targetRate || len(c.Samples) == 0 {
		return c, nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(c.SampleRate),
		OutputRate: float64(targetRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}

	input := make([]float64, len(c.Samples))
	for i, s := range c.Samples {
		input[i] = float64(s) / 32768.0
	}
	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}

	samples := make([]int16, len(output))
	for i, f := range output {
		switch {
		case f > 1.0:
			samples[i] = 32767
		case f < -1.0:
			samples[i] = -32768
		default:
			samples[i] = int16(f * 32767.0)
		}
	}
	return &Clip{SampleRate: targetRate, Samples: samples}, nil
}
