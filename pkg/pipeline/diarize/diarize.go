// Package diarize splits a recording into speaker turns. It tries a
// cascade of methods: embedding clustering when a speaker-embedding model
// is available, pitch-contour clustering as a lower-accuracy fallback,
// and single-speaker assignment when neither yields a confident split.
// It can also match a detected speaker against a stored sender voice
// profile, and it never substitutes the primary speaker for the sender
// when that match fails.
package diarize

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/isopen-io/meeshy-sub000/pkg/audio"
	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

// EmbeddingExtractor produces a fixed-size speaker embedding for a clip.
type EmbeddingExtractor interface {
	Extract(ctx context.Context, clip *audio.Clip) ([]float32, error)
}

// Speaker is one detected voice within a run.
type Speaker struct {
	ID             string
	IsPrimary      bool
	SpeakingTimeMs int
	SpeakingRatio  float64
	SegmentCount   int
	Embedding      []float32
}

// Result is the outcome of one diarization run.
type Result struct {
	// Method is "embedding", "pitch", or "single".
	Method string

	Speakers []Speaker

	// Segments are the input segments with SpeakerID filled in.
	Segments []wire.Segment

	// PrimarySpeakerID is the speaker with the most speaking time. It is
	// a descriptive statistic, not an identity claim.
	PrimarySpeakerID string

	// SenderIdentified is true only when a stored profile matched a
	// detected speaker at or above the similarity threshold.
	SenderIdentified bool
	SenderSpeakerID  string
	SenderSimilarity float64

	Confidence float64
}

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	// Extractor enables the embedding path. Nil skips straight to pitch
	// clustering.
	Extractor EmbeddingExtractor

	MaxSpeakers     int     // default 3
	SenderThreshold float64 // default 0.60

	EmbedWindowMs   int     // default 1500
	EmbedHopMs      int     // default 1000
	EmbedSilhouette float64 // default 0.40

	PitchWindowMs   int     // default 1000, hop is half the window
	PitchSilhouette float64 // default 0.30

	MinTurnMs int // default 500

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.MaxSpeakers == 0 {
		c.MaxSpeakers = 3
	}
	if c.SenderThreshold == 0 {
		c.SenderThreshold = 0.60
	}
	if c.EmbedWindowMs == 0 {
		c.EmbedWindowMs = 1500
	}
	if c.EmbedHopMs == 0 {
		c.EmbedHopMs = 1000
	}
	if c.EmbedSilhouette == 0 {
		c.EmbedSilhouette = 0.40
	}
	if c.PitchWindowMs == 0 {
		c.PitchWindowMs = 1000
	}
	if c.PitchSilhouette == 0 {
		c.PitchSilhouette = 0.30
	}
	if c.MinTurnMs == 0 {
		c.MinTurnMs = 500
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine runs the diarization cascade.
type Engine struct {
	cfg Config
}

// New creates an engine.
func New(cfg Config) *Engine {
	cfg.setDefaults()
	return &Engine{cfg: cfg}
}

// Diarize attributes each segment to a speaker. senderEmbedding, when
// non-nil, is the stored voice profile of the message sender; a match at
// or above the configured threshold sets SenderIdentified. Segments must
// be ordered by start time.
func (e *Engine) Diarize(ctx context.Context, clip *audio.Clip, segments []wire.Segment, senderEmbedding []float32) (*Result, error) {
	if clip == nil || len(clip.Samples) == 0 {
		return nil, fmt.Errorf("diarize: empty clip")
	}

	segs := make([]wire.Segment, len(segments))
	copy(segs, segments)

	var res *Result
	if e.cfg.Extractor != nil {
		r, err := e.embeddingPath(ctx, clip, segs)
		if err != nil {
			e.cfg.Logger.Warn("embedding diarization failed, falling back", "error", err)
		} else if r != nil {
			res = r
		}
	}
	if res == nil {
		if r := e.pitchPath(clip, segs); r != nil {
			res = r
		}
	}
	if res == nil {
		res = e.singlePath(clip, segs)
	}

	e.finalize(clip, res)
	e.identifySender(ctx, clip, res, senderEmbedding)
	return res, nil
}

// embeddingPath clusters window embeddings agglomeratively and assigns
// segments to the nearest cluster centroid. Returns nil when the split is
// not confident enough.
func (e *Engine) embeddingPath(ctx context.Context, clip *audio.Clip, segs []wire.Segment) (*Result, error) {
	dur := clip.DurationMs()
	var windows []*audio.Clip
	for start := 0; start == 0 || start+e.cfg.EmbedWindowMs <= dur; start += e.cfg.EmbedHopMs {
		end := start + e.cfg.EmbedWindowMs
		if end > dur {
			end = dur
		}
		w := clip.SliceMs(start, end)
		if w.RMS() >= 0.01 {
			windows = append(windows, w)
		}
		if end == dur {
			break
		}
	}
	if len(windows) < 4 {
		return nil, nil
	}

	embs := make([][]float32, 0, len(windows))
	for _, w := range windows {
		emb, err := e.cfg.Extractor.Extract(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("extract window embedding: %w", err)
		}
		embs = append(embs, emb)
	}

	bestK, bestSil := 0, 0.0
	var bestLabels []int
	for k := 2; k <= e.cfg.MaxSpeakers && k < len(embs); k++ {
		labels := agglomerative(embs, k)
		if sil := silhouette(embs, labels); sil > bestSil {
			bestK, bestSil, bestLabels = k, sil, labels
		}
	}
	if bestK == 0 || bestSil <= e.cfg.EmbedSilhouette {
		return nil, nil
	}

	centroids := make([][]float32, bestK)
	for c := 0; c < bestK; c++ {
		var members [][]float32
		for i, l := range bestLabels {
			if l == c {
				members = append(members, embs[i])
			}
		}
		centroids[c] = centroid(members)
	}

	// Assign each segment by its own embedding.
	assign := make([]int, len(segs))
	for i, s := range segs {
		emb, err := e.cfg.Extractor.Extract(ctx, clip.SliceMs(s.StartMs, s.EndMs))
		if err != nil {
			return nil, fmt.Errorf("extract segment embedding: %w", err)
		}
		best, bd := 0, 2.0
		for c, ctr := range centroids {
			if d := cosineDist(emb, ctr); d < bd {
				bd, best = d, c
			}
		}
		assign[i] = best
	}

	minRatio := 0.25
	if dur < 15000 {
		minRatio = 0.20
	}
	assign = e.filterClusters(segs, assign, len(centroids), dur, minRatio, 0, func(dropped, i int) int {
		return nearestOther(centroids, dropped)
	})

	res := &Result{Method: "embedding", Confidence: bestSil}
	applyLabels(segs, assign, res)
	attachCentroids(res, assign, centroids)
	return res, nil
}

// pitchPath clusters windows on (f0, energy) features. Returns nil when
// no confident multi-speaker split exists.
func (e *Engine) pitchPath(clip *audio.Clip, segs []wire.Segment) *Result {
	dur := clip.DurationMs()
	hop := e.cfg.PitchWindowMs / 2

	var feats [][]float32
	for start := 0; start+e.cfg.PitchWindowMs <= dur; start += hop {
		w := clip.SliceMs(start, start+e.cfg.PitchWindowMs)
		f0 := audio.EstimatePitch(w, 50, 500)
		if f0 == 0 {
			continue
		}
		feats = append(feats, []float32{float32(f0 / 500.0), float32(w.RMS())})
	}
	if len(feats) < 4 {
		return nil
	}

	bestK, bestSil := 0, 0.0
	var bestLabels []int
	for k := 2; k <= e.cfg.MaxSpeakers && k < len(feats); k++ {
		labels := kmeans(feats, k, 25)
		if sil := euclidSilhouette(feats, labels); sil > bestSil {
			bestK, bestSil, bestLabels = k, sil, labels
		}
	}
	if bestK == 0 || bestSil <= e.cfg.PitchSilhouette {
		return nil
	}

	centers := featureCenters(feats, bestLabels, bestK)
	centers = mergeSimilarVoices(centers)
	if len(centers) < 2 {
		return nil
	}

	// Assign segments by their own pitch features.
	assign := make([]int, len(segs))
	for i, s := range segs {
		w := clip.SliceMs(s.StartMs, s.EndMs)
		f0 := audio.EstimatePitch(w, 50, 500)
		f := []float32{float32(f0 / 500.0), float32(w.RMS())}
		best, bd := 0, -1.0
		for c, ctr := range centers {
			d := float64(f[0]-ctr[0])*float64(f[0]-ctr[0]) + float64(f[1]-ctr[1])*float64(f[1]-ctr[1])
			if bd < 0 || d < bd {
				bd, best = d, c
			}
		}
		assign[i] = best
	}

	assign = e.filterClusters(segs, assign, len(centers), dur, 0.15, 3, func(dropped, i int) int {
		return nearestOtherFeature(centers, dropped)
	})

	res := &Result{Method: "pitch", Confidence: bestSil}
	applyLabels(segs, assign, res)
	return res
}

func (e *Engine) singlePath(clip *audio.Clip, segs []wire.Segment) *Result {
	assign := make([]int, len(segs))
	res := &Result{Method: "single", Confidence: 0.5}
	applyLabels(segs, assign, res)
	if len(res.Speakers) == 0 {
		res.Speakers = []Speaker{{ID: "s0"}}
	}
	return res
}

// filterClusters drops implausible speakers: speaking ratio below
// minRatio and, when maxSegments > 0, fewer than that many segments, or a
// total turn shorter than the minimum. Their segments are reassigned via
// fallback.
func (e *Engine) filterClusters(segs []wire.Segment, assign []int, clusters int, totalMs int, minRatio float64, maxSegments int, fallback func(dropped, i int) int) []int {
	if totalMs <= 0 {
		return assign
	}
	timeMs := make([]int, clusters)
	count := make([]int, clusters)
	for i, s := range segs {
		timeMs[assign[i]] += s.DurationMs()
		count[assign[i]]++
	}

	dropped := make([]bool, clusters)
	kept := 0
	for c := 0; c < clusters; c++ {
		ratio := float64(timeMs[c]) / float64(totalMs)
		switch {
		case count[c] == 0:
			dropped[c] = true
		case timeMs[c] < e.cfg.MinTurnMs:
			dropped[c] = true
		case maxSegments > 0 && ratio < minRatio && count[c] < maxSegments:
			dropped[c] = true
		case maxSegments == 0 && ratio < minRatio:
			dropped[c] = true
		default:
			kept++
		}
	}
	if kept == 0 {
		return assign
	}
	for i := range assign {
		for dropped[assign[i]] {
			next := fallback(assign[i], i)
			if next == assign[i] || dropped[next] {
				// Fall back to the largest surviving cluster.
				best, bt := -1, -1
				for c := 0; c < clusters; c++ {
					if !dropped[c] && timeMs[c] > bt {
						best, bt = c, timeMs[c]
					}
				}
				next = best
			}
			assign[i] = next
		}
	}
	return assign
}

// applyLabels converts numeric cluster labels into stable speaker ids in
// order of first appearance and fills res.Segments and res.Speakers.
func applyLabels(segs []wire.Segment, assign []int, res *Result) {
	ids := map[int]string{}
	var order []int
	for _, c := range assign {
		if _, ok := ids[c]; !ok {
			ids[c] = fmt.Sprintf("s%d", len(ids))
			order = append(order, c)
		}
	}
	for i := range segs {
		segs[i].SpeakerID = ids[assign[i]]
	}
	res.Segments = segs
	for _, c := range order {
		sp := Speaker{ID: ids[c]}
		for i := range segs {
			if assign[i] == c {
				sp.SegmentCount++
			}
		}
		res.Speakers = append(res.Speakers, sp)
	}
}

func attachCentroids(res *Result, assign []int, centroids [][]float32) {
	for si := range res.Speakers {
		for i, s := range res.Segments {
			if s.SpeakerID == res.Speakers[si].ID {
				res.Speakers[si].Embedding = centroids[assign[i]]
				break
			}
		}
	}
}

// finalize computes speaking time from overlap-merged intervals, ratios,
// and the primary speaker.
func (e *Engine) finalize(clip *audio.Clip, res *Result) {
	total := clip.DurationMs()
	times := map[string]int{}
	for si := range res.Speakers {
		id := res.Speakers[si].ID
		var intervals [][2]int
		for _, s := range res.Segments {
			if s.SpeakerID == id {
				intervals = append(intervals, [2]int{s.StartMs, s.EndMs})
			}
		}
		times[id] = mergedDuration(intervals)
	}

	primary, best := "", -1
	for si := range res.Speakers {
		sp := &res.Speakers[si]
		sp.SpeakingTimeMs = times[sp.ID]
		if total > 0 {
			sp.SpeakingRatio = float64(sp.SpeakingTimeMs) / float64(total)
		}
		if sp.SpeakingTimeMs > best {
			primary, best = sp.ID, sp.SpeakingTimeMs
		}
	}
	if len(res.Speakers) == 1 {
		res.Speakers[0].SpeakingRatio = 1.0
	}
	for si := range res.Speakers {
		res.Speakers[si].IsPrimary = res.Speakers[si].ID == primary
	}
	res.PrimarySpeakerID = primary
}

// identifySender matches detected speakers against the stored profile.
// Without a profile, or below threshold, both sender fields stay unset.
// The primary speaker is never used as a guess.
func (e *Engine) identifySender(ctx context.Context, clip *audio.Clip, res *Result, profile []float32) {
	if len(profile) == 0 {
		return
	}
	bestID, bestSim := "", -1.0
	for si := range res.Speakers {
		sp := &res.Speakers[si]
		if sp.Embedding == nil && e.cfg.Extractor != nil {
			if seg, ok := longestSegment(res.Segments, sp.ID); ok {
				if emb, err := e.cfg.Extractor.Extract(ctx, clip.SliceMs(seg.StartMs, seg.EndMs)); err == nil {
					sp.Embedding = emb
				}
			}
		}
		if sp.Embedding == nil {
			continue
		}
		if sim := cosineSim(sp.Embedding, profile); sim > bestSim {
			bestID, bestSim = sp.ID, sim
		}
	}
	if bestID != "" && bestSim >= e.cfg.SenderThreshold {
		res.SenderIdentified = true
		res.SenderSpeakerID = bestID
		res.SenderSimilarity = bestSim
	}
}

// longestSegment returns the longest segment attributed to a speaker.
func longestSegment(segs []wire.Segment, speakerID string) (wire.Segment, bool) {
	best, found := wire.Segment{}, false
	for _, s := range segs {
		if s.SpeakerID == speakerID && (!found || s.DurationMs() > best.DurationMs()) {
			best, found = s, true
		}
	}
	return best, found
}

// mergedDuration sums interval lengths after merging overlaps.
func mergedDuration(intervals [][2]int) int {
	if len(intervals) == 0 {
		return 0
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i][0] < intervals[j][0] })
	total := 0
	cur := intervals[0]
	for _, iv := range intervals[1:] {
		if iv[0] <= cur[1] {
			if iv[1] > cur[1] {
				cur[1] = iv[1]
			}
			continue
		}
		total += cur[1] - cur[0]
		cur = iv
	}
	return total + cur[1] - cur[0]
}

func nearestOther(centroids [][]float32, dropped int) int {
	best, bd := dropped, 3.0
	for c := range centroids {
		if c == dropped {
			continue
		}
		if d := cosineDist(centroids[dropped], centroids[c]); d < bd {
			bd, best = d, c
		}
	}
	return best
}

func nearestOtherFeature(centers [][]float32, dropped int) int {
	best, bd := dropped, -1.0
	for c := range centers {
		if c == dropped {
			continue
		}
		var d float64
		for j := range centers[c] {
			diff := float64(centers[dropped][j] - centers[c][j])
			d += diff * diff
		}
		if bd < 0 || d < bd {
			bd, best = d, c
		}
	}
	return best
}

// featureCenters returns per-cluster mean features.
func featureCenters(feats [][]float32, labels []int, k int) [][]float32 {
	centers := make([][]float32, 0, k)
	for c := 0; c < k; c++ {
		var members [][]float32
		for i, l := range labels {
			if l == c {
				members = append(members, feats[i])
			}
		}
		if m := centroid(members); m != nil {
			centers = append(centers, m)
		}
	}
	return centers
}

// mergeSimilarVoices collapses clusters whose pitch and energy profiles
// are close enough to be one voice. Similarity weights pitch 0.7 and
// energy 0.3; clusters at or above 0.85 merge.
func mergeSimilarVoices(centers [][]float32) [][]float32 {
	for {
		merged := false
		for i := 0; i < len(centers) && !merged; i++ {
			for j := i + 1; j < len(centers); j++ {
				if voiceSimilarity(centers[i], centers[j]) >= 0.85 {
					centers[i] = centroid([][]float32{centers[i], centers[j]})
					centers = append(centers[:j], centers[j+1:]...)
					merged = true
					break
				}
			}
		}
		if !merged {
			return centers
		}
	}
}

func voiceSimilarity(a, b []float32) float64 {
	return 0.7*ratioSim(float64(a[0]), float64(b[0])) + 0.3*ratioSim(float64(a[1]), float64(b[1]))
}

// ratioSim maps two positive magnitudes to [0,1]: 1 when equal, falling
// toward 0 as they diverge.
func ratioSim(a, b float64) float64 {
	hi := a
	if b > hi {
		hi = b
	}
	if hi == 0 {
		return 1
	}
	d := a - b
	if d < 0 {
		d = -d
	}
	return 1 - d/hi
}
