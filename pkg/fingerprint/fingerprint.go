// Package fingerprint derives compact voice fingerprints from speaker
// audio. A fingerprint combines three quantized component hashes (pitch,
// spectral shape, prosody) with the raw speaker embedding; comparing two
// fingerprints weighs hash agreement and embedding cosine similarity into
// a single score.
//
// Component hashes are deliberately coarse: feature values are bucketed
// before hashing so that two recordings of the same voice tend to collide
// while different voices do not. The embedding term then separates the
// borderline cases.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Fingerprint is a stored voice identity.
type Fingerprint struct {
	// ID is "vfp_" plus the first 12 hex chars of the signature hash.
	ID string `msgpack:"id" json:"id"`

	PitchHash    string `msgpack:"pitch_hash" json:"pitchHash"`
	SpectralHash string `msgpack:"spectral_hash" json:"spectralHash"`
	ProsodyHash  string `msgpack:"prosody_hash" json:"prosodyHash"`

	// Signature summarizes the three component hashes.
	Signature string `msgpack:"signature" json:"signature"`

	Embedding []float32 `msgpack:"embedding" json:"embedding,omitempty"`

	CreatedAt time.Time `msgpack:"created_at" json:"createdAt"`
}

// Similarity weights. The embedding carries the most information; the
// prosody hash the least.
const (
	weightPitch     = 0.3
	weightSpectral  = 0.2
	weightProsody   = 0.1
	weightEmbedding = 0.4

	// MatchThreshold is the similarity at which two fingerprints are
	// considered the same voice.
	MatchThreshold = 0.85
)

// New builds a fingerprint from extracted features and an optional
// embedding.
func New(f Features, embedding []float32) *Fingerprint {
	fp := &Fingerprint{
		PitchHash:    componentHash("pitch", quantize(f.MeanPitchHz, 20), quantize(f.PitchRangeHz, 30)),
		SpectralHash: componentHash("spectral", quantize(f.SpectralCentroid, 0.05), quantize(f.HighBandRatio, 0.1)),
		ProsodyHash:  componentHash("prosody", quantize(f.VoicedRatio, 0.1), quantize(f.EnergyMean, 0.05)),
		Embedding:    embedding,
		CreatedAt:    time.Now().UTC(),
	}
	sig := sha256.Sum256([]byte(fp.PitchHash + fp.SpectralHash + fp.ProsodyHash))
	fp.Signature = hex.EncodeToString(sig[:])[:16]
	fp.ID = "vfp_" + hex.EncodeToString(sig[:])[4:16]
	return fp
}

// Similarity scores two fingerprints in [0,1]. Component hashes count
// fully on exact match and zero otherwise; the embedding term is cosine
// similarity mapped from [-1,1] into [0,1]. When either side lacks an
// embedding, the hash weights are renormalized to cover the full score.
func Similarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil {
		return 0
	}
	score := 0.0
	if a.PitchHash == b.PitchHash {
		score += weightPitch
	}
	if a.SpectralHash == b.SpectralHash {
		score += weightSpectral
	}
	if a.ProsodyHash == b.ProsodyHash {
		score += weightProsody
	}
	if len(a.Embedding) == 0 || len(b.Embedding) == 0 {
		return score / (weightPitch + weightSpectral + weightProsody)
	}
	cos := cosine(a.Embedding, b.Embedding)
	return score + weightEmbedding*(cos+1)/2
}

// Matches reports whether two fingerprints score at or above the match
// threshold.
func Matches(a, b *Fingerprint) bool {
	return Similarity(a, b) >= MatchThreshold
}

// Marshal serializes the fingerprint, embedding included.
func (fp *Fingerprint) Marshal() ([]byte, error) {
	return msgpack.Marshal(fp)
}

// Unmarshal parses a serialized fingerprint.
func Unmarshal(data []byte) (*Fingerprint, error) {
	var fp Fingerprint
	if err := msgpack.Unmarshal(data, &fp); err != nil {
		return nil, fmt.Errorf("fingerprint: unmarshal: %w", err)
	}
	return &fp, nil
}

// componentHash hashes a labeled bucket sequence to 16 hex chars.
func componentHash(label string, buckets ...int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:", label)
	for _, b := range buckets {
		fmt.Fprintf(h, "%d,", b)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// quantize maps a value onto a bucket index of the given width.
func quantize(v, width float64) int {
	if width <= 0 {
		return 0
	}
	return int(math.Floor(v / width))
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
