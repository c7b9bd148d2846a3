// Package audio provides the small PCM toolbox the worker pipeline needs:
// WAV encode/decode, clip slicing and concatenation, silence generation,
// energy and pitch measurements, and sample-rate conversion.
//
// All clips are 16-bit signed little-endian mono. Stereo input is downmixed
// on decode.
package audio

import (
	"fmt"
	"math"
)

// Clip is a mono 16-bit PCM buffer.
type Clip struct {
	SampleRate int
	Samples    []int16
}

// DurationMs returns the clip length in milliseconds.
func (c *Clip) DurationMs() int {
	if c.SampleRate == 0 {
		return 0
	}
	return len(c.Samples) * 1000 / c.SampleRate
}

// SliceMs returns the sub-clip covering [startMs, endMs). The range is
// clamped to the clip bounds; the returned clip shares backing memory.
func (c *Clip) SliceMs(startMs, endMs int) *Clip {
	start := c.SampleRate * startMs / 1000
	end := c.SampleRate * endMs / 1000
	if start < 0 {
		start = 0
	}
	if end > len(c.Samples) {
		end = len(c.Samples)
	}
	if start >= end {
		return &Clip{SampleRate: c.SampleRate}
	}
	return &Clip{SampleRate: c.SampleRate, Samples: c.Samples[start:end]}
}

// RMS returns the root-mean-square energy normalized to [0, 1].
func (c *Clip) RMS() float64 {
	if len(c.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range c.Samples {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(c.Samples)))
}

// Silence returns a clip of zeros with the given duration.
func Silence(sampleRate, ms int) *Clip {
	if ms < 0 {
		ms = 0
	}
	return &Clip{
		SampleRate: sampleRate,
		Samples:    make([]int16, sampleRate*ms/1000),
	}
}

// Concat joins clips in order. All clips must share one sample rate;
// convert with Resample first if they do not.
func Concat(clips ...*Clip) (*Clip, error) {
	var out *Clip
	for _, c := range clips {
		if c == nil || len(c.Samples) == 0 {
			continue
		}
		if out == nil {
			out = &Clip{SampleRate: c.SampleRate}
		} else if c.SampleRate != out.SampleRate {
			return nil, fmt.Errorf("audio: concat rate mismatch: %d != %d", c.SampleRate, out.SampleRate)
		}
		out.Samples = append(out.Samples, c.Samples...)
	}
	if out == nil {
		return &Clip{}, nil
	}
	return out, nil
}

// EstimatePitch returns the fundamental frequency in Hz using normalized
// autocorrelation, bounded to the speech range [minHz, maxHz]. Returns 0
// for unvoiced or silent input.
func EstimatePitch(c *Clip, minHz, maxHz float64) float64 {
	n := len(c.Samples)
	if n == 0 || c.SampleRate == 0 {
		return 0
	}
	if c.RMS() < 0.01 {
		return 0
	}

	minLag := int(float64(c.SampleRate) / maxHz)
	maxLag := int(float64(c.SampleRate) / minHz)
	if maxLag >= n {
		maxLag = n - 1
	}
	if minLag < 1 || minLag >= maxLag {
		return 0
	}

	samples := make([]float64, n)
	var mean float64
	for i, s := range c.Samples {
		samples[i] = float64(s)
		mean += samples[i]
	}
	mean /= float64(n)
	var energy float64
	for i := range samples {
		samples[i] -= mean
		energy += samples[i] * samples[i]
	}
	if energy == 0 {
		return 0
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := 0; i < n-lag; i++ {
			corr += samples[i] * samples[i+lag]
		}
		corr /= energy
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	// Weak periodicity reads as unvoiced.
	if bestLag == 0 || bestCorr < 0.3 {
		return 0
	}
	return float64(c.SampleRate) / float64(bestLag)
}
