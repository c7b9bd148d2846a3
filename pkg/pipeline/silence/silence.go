// Package silence measures the gaps between speech segments so synthesis
// can rebuild a track with the original pacing.
package silence

import (
	"github.com/isopen-io/meeshy-sub000/pkg/audio"
	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

// Gap is one detected silence between two adjacent segments.
type Gap struct {
	StartMs       int
	EndMs         int
	DurationMs    int
	BeforeSegment int // index of the segment preceding the gap
	AfterSegment  int // index of the segment following the gap
}

// Config tunes detection and reinsertion.
type Config struct {
	// Preserve controls whether reinsertion happens at all.
	Preserve bool

	// MinSilenceMs is the smallest gap worth preserving. Default 100.
	MinSilenceMs int

	// MaxSilenceMs caps a reinserted gap. Long pauses in the source are
	// clamped rather than reproduced. Default 3000.
	MaxSilenceMs int
}

func (c *Config) setDefaults() {
	if c.MinSilenceMs == 0 {
		c.MinSilenceMs = 100
	}
	if c.MaxSilenceMs == 0 {
		c.MaxSilenceMs = 3000
	}
}

// Manager detects and reinserts inter-segment silence.
type Manager struct {
	cfg Config
}

// NewManager creates a manager. A zero Config only measures gaps; callers
// that want them reinserted must set Preserve explicitly.
func NewManager(cfg Config) *Manager {
	cfg.setDefaults()
	return &Manager{cfg: cfg}
}

// Preserve reports whether reinsertion is enabled.
func (m *Manager) Preserve() bool { return m.cfg.Preserve }

// DetectFromSegments measures the pause between each pair of adjacent
// segments. Gaps below the minimum are ignored; longer gaps are clamped to
// the maximum. Segments must be ordered by start time.
func (m *Manager) DetectFromSegments(segments []wire.Segment) []Gap {
	var gaps []Gap
	for i := 0; i+1 < len(segments); i++ {
		pause := segments[i+1].StartMs - segments[i].EndMs
		if pause < m.cfg.MinSilenceMs {
			continue
		}
		d := pause
		if d > m.cfg.MaxSilenceMs {
			d = m.cfg.MaxSilenceMs
		}
		gaps = append(gaps, Gap{
			StartMs:       segments[i].EndMs,
			EndMs:         segments[i].EndMs + pause,
			DurationMs:    d,
			BeforeSegment: i,
			AfterSegment:  i + 1,
		})
	}
	return gaps
}

// GapAfter returns the preserved gap duration following segment index i,
// or 0 when no gap was detected there.
func GapAfter(gaps []Gap, i int) int {
	for _, g := range gaps {
		if g.BeforeSegment == i {
			return g.DurationMs
		}
	}
	return 0
}

// Assemble concatenates synthesized clips in order, reinserting the
// detected gaps between them. ratio scales each gap proportionally to how
// much the synthesized speech stretched or shrank relative to the source
// (1.0 keeps source pacing). With Preserve off the clips are joined
// back to back.
func (m *Manager) Assemble(clips []*audio.Clip, gaps []Gap, ratio float64) (*audio.Clip, error) {
	if ratio <= 0 {
		ratio = 1.0
	}
	var parts []*audio.Clip
	var rate int
	for _, c := range clips {
		if c != nil && c.SampleRate > 0 {
			rate = c.SampleRate
			break
		}
	}
	for i, c := range clips {
		parts = append(parts, c)
		if !m.cfg.Preserve || rate == 0 {
			continue
		}
		if pause := GapAfter(gaps, i); pause > 0 {
			scaled := int(float64(pause) * ratio)
			if scaled > m.cfg.MaxSilenceMs {
				scaled = m.cfg.MaxSilenceMs
			}
			parts = append(parts, audio.Silence(rate, scaled))
		}
	}
	return audio.Concat(parts...)
}
