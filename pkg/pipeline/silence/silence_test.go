package silence

import (
	"testing"

	"github.com/isopen-io/meeshy-sub000/pkg/audio"
	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

func seg(startMs, endMs int) wire.Segment {
	return wire.Segment{StartMs: startMs, EndMs: endMs, Text: "x", SpeakerID: "s0"}
}

func TestDetectFromSegments(t *testing.T) {
	m := NewManager(Config{Preserve: true})
	segments := []wire.Segment{
		seg(0, 1000),
		seg(1050, 2000),  // 50ms, below minimum
		seg(2400, 3000),  // 400ms gap
		seg(8000, 9000),  // 5000ms gap, clamped to 3000
	}

	gaps := m.DetectFromSegments(segments)
	if len(gaps) != 2 {
		t.Fatalf("gaps = %d, want 2", len(gaps))
	}
	if gaps[0].DurationMs != 400 || gaps[0].BeforeSegment != 1 || gaps[0].AfterSegment != 2 {
		t.Fatalf("first gap = %+v", gaps[0])
	}
	if gaps[1].DurationMs != 3000 {
		t.Fatalf("long gap duration = %d, want clamp at 3000", gaps[1].DurationMs)
	}
	if gaps[1].EndMs-gaps[1].StartMs != 5000 {
		t.Fatalf("gap span should keep source bounds, got %d", gaps[1].EndMs-gaps[1].StartMs)
	}
}

func TestDetectCustomBounds(t *testing.T) {
	m := NewManager(Config{Preserve: true, MinSilenceMs: 200, MaxSilenceMs: 500})
	gaps := m.DetectFromSegments([]wire.Segment{seg(0, 100), seg(250, 400), seg(1200, 1500)})
	if len(gaps) != 1 {
		t.Fatalf("gaps = %d, want 1", len(gaps))
	}
	if gaps[0].DurationMs != 500 {
		t.Fatalf("duration = %d, want 500", gaps[0].DurationMs)
	}
}

func TestAssembleReinsertsGaps(t *testing.T) {
	m := NewManager(Config{Preserve: true})
	clips := []*audio.Clip{
		audio.Silence(16000, 300),
		audio.Silence(16000, 300),
	}
	gaps := []Gap{{DurationMs: 400, BeforeSegment: 0, AfterSegment: 1}}

	out, err := m.Assemble(clips, gaps, 1.0)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := out.DurationMs(); got != 1000 {
		t.Fatalf("duration = %dms, want 1000ms", got)
	}
}

func TestAssembleScalesProportionally(t *testing.T) {
	m := NewManager(Config{Preserve: true})
	clips := []*audio.Clip{
		audio.Silence(16000, 100),
		audio.Silence(16000, 100),
	}
	gaps := []Gap{{DurationMs: 1000, BeforeSegment: 0, AfterSegment: 1}}

	// Synthesized speech came out at half the source duration.
	out, err := m.Assemble(clips, gaps, 0.5)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := out.DurationMs(); got != 700 {
		t.Fatalf("duration = %dms, want 700ms", got)
	}
}

func TestAssemblePreserveOff(t *testing.T) {
	m := NewManager(Config{Preserve: false})
	clips := []*audio.Clip{
		audio.Silence(16000, 100),
		audio.Silence(16000, 100),
	}
	gaps := []Gap{{DurationMs: 1000, BeforeSegment: 0, AfterSegment: 1}}

	out, err := m.Assemble(clips, gaps, 1.0)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := out.DurationMs(); got != 200 {
		t.Fatalf("duration = %dms, want 200ms (no reinsertion)", got)
	}
}
