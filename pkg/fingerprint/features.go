package fingerprint

import (
	"github.com/isopen-io/meeshy-sub000/pkg/audio"
)

// Features are the acoustic measurements a fingerprint is built from.
type Features struct {
	MeanPitchHz      float64
	PitchRangeHz     float64
	SpectralCentroid float64 // normalized zero-crossing rate, 0..1
	HighBandRatio    float64 // share of energy above the crossing midpoint
	VoicedRatio      float64 // fraction of windows with a detectable f0
	EnergyMean       float64
}

// Extract measures fingerprint features over 500 ms windows.
func Extract(clip *audio.Clip) Features {
	const windowMs = 500

	var f Features
	if clip == nil || len(clip.Samples) == 0 {
		return f
	}

	dur := clip.DurationMs()
	var (
		pitches  []float64
		voiced   int
		windows  int
		energies float64
	)
	for start := 0; start < dur; start += windowMs {
		w := clip.SliceMs(start, start+windowMs)
		if len(w.Samples) == 0 {
			break
		}
		windows++
		energies += w.RMS()
		if f0 := audio.EstimatePitch(w, 50, 500); f0 > 0 {
			voiced++
			pitches = append(pitches, f0)
		}
	}
	if windows == 0 {
		return f
	}

	if len(pitches) > 0 {
		var sum, lo, hi float64
		lo, hi = pitches[0], pitches[0]
		for _, p := range pitches {
			sum += p
			if p < lo {
				lo = p
			}
			if p > hi {
				hi = p
			}
		}
		f.MeanPitchHz = sum / float64(len(pitches))
		f.PitchRangeHz = hi - lo
	}
	f.VoicedRatio = float64(voiced) / float64(windows)
	f.EnergyMean = energies / float64(windows)
	f.SpectralCentroid = zeroCrossingRate(clip)
	f.HighBandRatio = highBandRatio(clip)
	return f
}

// zeroCrossingRate approximates spectral brightness: higher-pitched,
// noisier voices cross zero more often.
func zeroCrossingRate(c *audio.Clip) float64 {
	if len(c.Samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(c.Samples); i++ {
		if (c.Samples[i-1] >= 0) != (c.Samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(c.Samples)-1)
}

// highBandRatio estimates the energy share of the fast-varying component
// via a one-tap difference filter.
func highBandRatio(c *audio.Clip) float64 {
	if len(c.Samples) < 2 {
		return 0
	}
	var total, high float64
	for i := 1; i < len(c.Samples); i++ {
		s := float64(c.Samples[i]) / 32768.0
		d := float64(c.Samples[i]-c.Samples[i-1]) / 32768.0
		total += s * s
		high += d * d / 4
	}
	if total == 0 {
		return 0
	}
	r := high / total
	if r > 1 {
		r = 1
	}
	return r
}
