package fingerprint

import (
	"math"
	"strings"
	"testing"

	"github.com/isopen-io/meeshy-sub000/pkg/audio"
)

func sine(rate int, freq float64, ms int, amp float64) *audio.Clip {
	n := rate * ms / 1000
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return &audio.Clip{SampleRate: rate, Samples: samples}
}

func TestNewFingerprintShape(t *testing.T) {
	f := Extract(sine(16000, 150, 2000, 0.6))
	fp := New(f, []float32{0.1, 0.9, 0.3})

	if !strings.HasPrefix(fp.ID, "vfp_") || len(fp.ID) != 16 {
		t.Fatalf("id = %q, want vfp_ plus 12 hex chars", fp.ID)
	}
	for name, h := range map[string]string{
		"pitch":    fp.PitchHash,
		"spectral": fp.SpectralHash,
		"prosody":  fp.ProsodyHash,
		"sig":      fp.Signature,
	} {
		if len(h) != 16 {
			t.Fatalf("%s hash = %q, want 16 hex chars", name, h)
		}
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	f := Extract(sine(16000, 150, 2000, 0.6))
	a := New(f, nil)
	b := New(f, nil)
	if a.ID != b.ID || a.Signature != b.Signature {
		t.Fatalf("same features must produce the same identity: %q vs %q", a.ID, b.ID)
	}
}

func TestSimilaritySameVoice(t *testing.T) {
	clip := sine(16000, 150, 3000, 0.6)
	emb := []float32{0.2, 0.8, 0.1}
	a := New(Extract(clip), emb)
	b := New(Extract(clip), emb)

	if got := Similarity(a, b); got < MatchThreshold {
		t.Fatalf("similarity = %.2f, want >= %.2f", got, MatchThreshold)
	}
	if !Matches(a, b) {
		t.Fatal("identical voice must match")
	}
}

func TestSimilarityDifferentVoice(t *testing.T) {
	a := New(Extract(sine(16000, 110, 3000, 0.4)), []float32{1, 0, 0})
	b := New(Extract(sine(16000, 320, 3000, 0.9)), []float32{0, 1, 0})

	if got := Similarity(a, b); got >= MatchThreshold {
		t.Fatalf("similarity = %.2f, different voices must not match", got)
	}
}

func TestSimilarityWithoutEmbeddingRenormalizes(t *testing.T) {
	f := Extract(sine(16000, 150, 2000, 0.6))
	a := New(f, nil)
	b := New(f, nil)
	if got := Similarity(a, b); got != 1.0 {
		t.Fatalf("hash-only identical similarity = %.2f, want 1.0", got)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	fp := New(Extract(sine(16000, 200, 1500, 0.5)), []float32{0.5, -0.25, 0.125})
	data, err := fp.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID != fp.ID || got.Signature != fp.Signature {
		t.Fatalf("identity changed across serialization: %q vs %q", got.ID, fp.ID)
	}
	if len(got.Embedding) != 3 || got.Embedding[0] != 0.5 {
		t.Fatalf("embedding = %v", got.Embedding)
	}
}

func TestExtractSilence(t *testing.T) {
	f := Extract(audio.Silence(16000, 1000))
	if f.MeanPitchHz != 0 || f.VoicedRatio != 0 {
		t.Fatalf("silence features = %+v, want zero pitch and voicing", f)
	}
}
