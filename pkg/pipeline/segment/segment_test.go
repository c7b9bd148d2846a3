package segment

import (
	"reflect"
	"testing"

	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

func mk(text string, startMs, endMs int, speaker string) wire.Segment {
	return wire.Segment{Text: text, StartMs: startMs, EndMs: endMs, SpeakerID: speaker, Confidence: 0.9}
}

func TestMergeShortFragments(t *testing.T) {
	m := NewMerger(MergeConfig{})
	in := []wire.Segment{
		mk("Ah", 0, 400, "s0"),
		mk("oui", 450, 700, "s0"), // 50ms pause, "Ah oui" fits the tight cap
	}
	out := m.Merge(in)
	if len(out) != 1 {
		t.Fatalf("segments = %d, want 1", len(out))
	}
	if out[0].Text != "Ah oui" {
		t.Fatalf("text = %q", out[0].Text)
	}
	if out[0].StartMs != 0 || out[0].EndMs != 700 {
		t.Fatalf("bounds = [%d,%d]", out[0].StartMs, out[0].EndMs)
	}
}

func TestMergeNeverCrossesSpeakers(t *testing.T) {
	m := NewMerger(MergeConfig{})
	in := []wire.Segment{
		mk("oui", 0, 300, "s0"),
		mk("non", 310, 600, "s1"), // 10ms pause but different speaker
	}
	out := m.Merge(in)
	if len(out) != 2 {
		t.Fatalf("segments = %d, want 2 (speaker change is a hard stop)", len(out))
	}
}

func TestMergeStopsAtSentenceBoundary(t *testing.T) {
	m := NewMerger(MergeConfig{})
	in := []wire.Segment{
		mk("Bonjour.", 0, 500, "s0"),
		mk("Comment vas-tu?", 600, 1200, "s0"),
	}
	out := m.Merge(in)
	if len(out) != 2 {
		t.Fatalf("segments = %d, want 2 (terminal punctuation blocks merge)", len(out))
	}
	if out[0].Text != "Bonjour." || out[1].Text != "Comment vas-tu?" {
		t.Fatalf("texts = %q, %q", out[0].Text, out[1].Text)
	}
}

func TestMergeBoundaryRunes(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"fine", false},
		{"done.", true},
		{"vraiment ?", true},
		{"好的。", true},
		{"ok\n", true},
		{"great 🎉", true},
		{"version 2.", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := endsSentence(tt.text); got != tt.want {
			t.Errorf("endsSentence(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestMergeRelaxedPass(t *testing.T) {
	m := NewMerger(MergeConfig{})
	// Back-to-back fragments with no pause. "je crois que" is over the
	// tight cap, so only the relaxed pass joins it; adding "c'est bon"
	// would put the combined text over the relaxed cap too.
	in := []wire.Segment{
		mk("je", 0, 100, "s0"),
		mk("crois que", 100, 400, "s0"),
		mk("c'est bon", 400, 800, "s0"),
	}
	out := m.Merge(in)
	if len(out) != 2 {
		t.Fatalf("segments = %d, want 2, got %+v", len(out), out)
	}
	if out[0].Text != "je crois que" || out[1].Text != "c'est bon" {
		t.Fatalf("texts = %q, %q", out[0].Text, out[1].Text)
	}
}

func TestMergeCombinedLengthCapped(t *testing.T) {
	m := NewMerger(MergeConfig{})
	// Both fragments are individually under the relaxed cap, but their
	// combined text is 22 runes; the cap applies to the merged length,
	// not just the accumulated side.
	in := []wire.Segment{
		mk("je crois que", 0, 400, "s0"),
		mk("c'est bon", 400, 800, "s0"),
	}
	out := m.Merge(in)
	if len(out) != 2 {
		t.Fatalf("segments = %d, want 2 (combined text exceeds the cap)", len(out))
	}
	if out[0].Text != "je crois que" || out[1].Text != "c'est bon" {
		t.Fatalf("texts = %q, %q", out[0].Text, out[1].Text)
	}
}

func TestMergeRespectsRuneCap(t *testing.T) {
	m := NewMerger(MergeConfig{})
	in := []wire.Segment{
		mk("une phrase déjà assez longue", 0, 1000, "s0"),
		mk("et la suite", 1020, 1500, "s0"),
	}
	out := m.Merge(in)
	if len(out) != 2 {
		t.Fatalf("segments = %d, want 2 (length cap blocks merge)", len(out))
	}
}

func TestMergeWeightsConfidence(t *testing.T) {
	m := NewMerger(MergeConfig{})
	in := []wire.Segment{
		{Text: "ab", StartMs: 0, EndMs: 300, SpeakerID: "s0", Confidence: 1.0},
		{Text: "cd", StartMs: 310, EndMs: 1210, SpeakerID: "s0", Confidence: 0.6},
	}
	out := m.Merge(in)
	if len(out) != 1 {
		t.Fatalf("segments = %d, want 1", len(out))
	}
	// 300ms at 1.0 and 900ms at 0.6 averages to 0.7.
	if got := out[0].Confidence; got < 0.69 || got > 0.71 {
		t.Fatalf("confidence = %.3f, want 0.7", got)
	}
}

func TestMergeCJKJoinsWithoutSpace(t *testing.T) {
	m := NewMerger(MergeConfig{})
	in := []wire.Segment{
		mk("你好", 0, 300, "s0"),
		mk("世界", 320, 600, "s0"),
	}
	out := m.Merge(in)
	if len(out) != 1 {
		t.Fatalf("segments = %d, want 1", len(out))
	}
	if out[0].Text != "你好世界" {
		t.Fatalf("text = %q", out[0].Text)
	}
}

func TestSplitWords(t *testing.T) {
	seg := mk("one two three four five six seven eight", 1000, 1800, "s0")
	chunks := SplitWords(seg, 5)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].Text != "one two three four five" || chunks[1].Text != "six seven eight" {
		t.Fatalf("texts = %q, %q", chunks[0].Text, chunks[1].Text)
	}
	if chunks[0].StartMs != 1000 {
		t.Fatalf("first start = %d", chunks[0].StartMs)
	}
	if chunks[0].EndMs != 1500 { // 5/8 of the 800ms span
		t.Fatalf("first end = %d, want 1500", chunks[0].EndMs)
	}
	if chunks[1].StartMs != 1500 || chunks[1].EndMs != 1800 {
		t.Fatalf("second bounds = [%d,%d]", chunks[1].StartMs, chunks[1].EndMs)
	}
}

func TestSplitWordsShortPassthrough(t *testing.T) {
	seg := mk("just three words", 0, 900, "s1")
	chunks := SplitWords(seg, 5)
	if !reflect.DeepEqual(chunks, []wire.Segment{seg}) {
		t.Fatalf("short segment must pass through unchanged, got %+v", chunks)
	}
}
