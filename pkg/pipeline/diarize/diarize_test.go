package diarize

import (
	"context"
	"math"
	"testing"

	"github.com/isopen-io/meeshy-sub000/pkg/audio"
	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

func sine(rate int, freq float64, ms int, amp float64) *audio.Clip {
	n := rate * ms / 1000
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return &audio.Clip{SampleRate: rate, Samples: samples}
}

// loudnessExtractor is a stand-in embedding model that separates voices
// by clip energy: quiet clips map near [1,0], loud clips near [0,1].
type loudnessExtractor struct{}

func (loudnessExtractor) Extract(_ context.Context, c *audio.Clip) ([]float32, error) {
	if c.RMS() < 0.35 {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

// twoSpeakerClip alternates a quiet voice and a loud voice in 2 s spans.
func twoSpeakerClip() (*audio.Clip, []wire.Segment) {
	parts := []*audio.Clip{
		sine(16000, 120, 2000, 0.3),
		sine(16000, 280, 2000, 0.9),
		sine(16000, 120, 2000, 0.3),
		sine(16000, 280, 2000, 0.9),
	}
	clip, _ := audio.Concat(parts...)
	segs := []wire.Segment{
		{Text: "a", StartMs: 0, EndMs: 2000, Confidence: 0.9},
		{Text: "b", StartMs: 2000, EndMs: 4000, Confidence: 0.9},
		{Text: "c", StartMs: 4000, EndMs: 6000, Confidence: 0.9},
		{Text: "d", StartMs: 6000, EndMs: 8000, Confidence: 0.9},
	}
	return clip, segs
}

func embedEngine() *Engine {
	return New(Config{
		Extractor:     loudnessExtractor{},
		EmbedWindowMs: 2000,
		EmbedHopMs:    2000,
	})
}

func TestEmbeddingPathSplitsTwoSpeakers(t *testing.T) {
	clip, segs := twoSpeakerClip()
	res, err := embedEngine().Diarize(context.Background(), clip, segs, nil)
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if res.Method != "embedding" {
		t.Fatalf("method = %q, want embedding", res.Method)
	}
	if len(res.Speakers) != 2 {
		t.Fatalf("speakers = %d, want 2", len(res.Speakers))
	}
	if res.Segments[0].SpeakerID != "s0" || res.Segments[1].SpeakerID != "s1" {
		t.Fatalf("speaker ids = %q, %q", res.Segments[0].SpeakerID, res.Segments[1].SpeakerID)
	}
	if res.Segments[2].SpeakerID != "s0" || res.Segments[3].SpeakerID != "s1" {
		t.Fatalf("alternation lost: %q, %q", res.Segments[2].SpeakerID, res.Segments[3].SpeakerID)
	}
	if res.PrimarySpeakerID == "" {
		t.Fatal("primary speaker must always be set")
	}
	for _, sp := range res.Speakers {
		if sp.SpeakingRatio < 0.4 || sp.SpeakingRatio > 0.6 {
			t.Fatalf("speaker %s ratio = %.2f, want ~0.5", sp.ID, sp.SpeakingRatio)
		}
	}
}

func TestSenderIdentifiedAboveThreshold(t *testing.T) {
	clip, segs := twoSpeakerClip()
	// Profile matching the loud voice, which appears second.
	res, err := embedEngine().Diarize(context.Background(), clip, segs, []float32{0, 1})
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if !res.SenderIdentified {
		t.Fatal("sender should be identified")
	}
	if res.SenderSpeakerID != "s1" {
		t.Fatalf("sender = %q, want s1", res.SenderSpeakerID)
	}
	if res.SenderSimilarity < 0.6 {
		t.Fatalf("similarity = %.2f, must be >= threshold", res.SenderSimilarity)
	}
}

func TestSenderNeverGuessedBelowThreshold(t *testing.T) {
	clip, segs := twoSpeakerClip()
	// Profile dissimilar to both detected voices.
	res, err := embedEngine().Diarize(context.Background(), clip, segs, []float32{-1, 0.2})
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if res.SenderIdentified {
		t.Fatal("low similarity must not identify a sender")
	}
	if res.SenderSpeakerID != "" {
		t.Fatalf("sender id = %q, must stay empty (not the primary speaker)", res.SenderSpeakerID)
	}
	if res.PrimarySpeakerID == "" {
		t.Fatal("primary speaker is independent of sender identification")
	}
}

func TestNoProfileMeansNoSender(t *testing.T) {
	clip, segs := twoSpeakerClip()
	res, err := embedEngine().Diarize(context.Background(), clip, segs, nil)
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if res.SenderIdentified || res.SenderSpeakerID != "" {
		t.Fatal("absent profile must yield no sender identification")
	}
}

func TestPitchFallbackSplitsTwoSpeakers(t *testing.T) {
	parts := []*audio.Clip{
		sine(16000, 120, 3000, 0.6),
		sine(16000, 280, 3000, 0.6),
	}
	clip, _ := audio.Concat(parts...)
	segs := []wire.Segment{
		{Text: "low", StartMs: 0, EndMs: 3000, Confidence: 0.9},
		{Text: "high", StartMs: 3000, EndMs: 6000, Confidence: 0.9},
	}

	res, err := New(Config{}).Diarize(context.Background(), clip, segs, nil)
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if res.Method != "pitch" {
		t.Fatalf("method = %q, want pitch", res.Method)
	}
	if len(res.Speakers) != 2 {
		t.Fatalf("speakers = %d, want 2", len(res.Speakers))
	}
	if res.Segments[0].SpeakerID == res.Segments[1].SpeakerID {
		t.Fatal("distinct pitches must map to distinct speakers")
	}
}

func TestSingleSpeakerFallback(t *testing.T) {
	clip := audio.Silence(16000, 4000)
	segs := []wire.Segment{
		{Text: "a", StartMs: 0, EndMs: 2000},
		{Text: "b", StartMs: 2000, EndMs: 4000},
	}

	res, err := New(Config{}).Diarize(context.Background(), clip, segs, nil)
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if res.Method != "single" {
		t.Fatalf("method = %q, want single", res.Method)
	}
	if len(res.Speakers) != 1 || res.Speakers[0].ID != "s0" {
		t.Fatalf("speakers = %+v, want single s0", res.Speakers)
	}
	if res.Speakers[0].SpeakingRatio != 1.0 {
		t.Fatalf("ratio = %.2f, want 1.0", res.Speakers[0].SpeakingRatio)
	}
	if res.Confidence != 0.5 {
		t.Fatalf("confidence = %.2f, want 0.5", res.Confidence)
	}
	for _, s := range res.Segments {
		if s.SpeakerID != "s0" {
			t.Fatalf("segment speaker = %q, want s0", s.SpeakerID)
		}
	}
}

func TestMergedDurationOverlaps(t *testing.T) {
	got := mergedDuration([][2]int{{0, 1000}, {500, 1500}, {3000, 3500}})
	if got != 2000 {
		t.Fatalf("merged duration = %d, want 2000", got)
	}
}

func TestSilhouetteSeparatesCleanClusters(t *testing.T) {
	vectors := [][]float32{{1, 0}, {1, 0.01}, {0, 1}, {0.01, 1}}
	labels := agglomerative(vectors, 2)
	if labels[0] != labels[1] || labels[2] != labels[3] || labels[0] == labels[2] {
		t.Fatalf("labels = %v", labels)
	}
	if sil := silhouette(vectors, labels); sil < 0.9 {
		t.Fatalf("silhouette = %.2f, want near 1", sil)
	}
}

func TestVoiceSimilarityMerge(t *testing.T) {
	// Nearly identical pitch and energy profiles collapse to one voice.
	centers := mergeSimilarVoices([][]float32{{0.30, 0.5}, {0.31, 0.5}})
	if len(centers) != 1 {
		t.Fatalf("centers = %d, want 1 after merge", len(centers))
	}
	// Clearly distinct profiles stay apart.
	centers = mergeSimilarVoices([][]float32{{0.24, 0.4}, {0.56, 0.4}})
	if len(centers) != 2 {
		t.Fatalf("centers = %d, want 2", len(centers))
	}
}
