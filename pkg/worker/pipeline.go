package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/isopen-io/meeshy-sub000/pkg/audio"
	"github.com/isopen-io/meeshy-sub000/pkg/docstore"
	"github.com/isopen-io/meeshy-sub000/pkg/fingerprint"
	"github.com/isopen-io/meeshy-sub000/pkg/pipeline/diarize"
	"github.com/isopen-io/meeshy-sub000/pkg/pipeline/segment"
	"github.com/isopen-io/meeshy-sub000/pkg/pipeline/silence"
	"github.com/isopen-io/meeshy-sub000/pkg/pipeline/synth"
	"github.com/isopen-io/meeshy-sub000/pkg/profile"
	"github.com/isopen-io/meeshy-sub000/pkg/storage"
	"github.com/isopen-io/meeshy-sub000/pkg/translate"
	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

// maxInlineAudio caps how much audio a single envelope may carry inline.
const maxInlineAudio = 16 << 20

// Transcriber converts speech to a transcript. Used only when the request
// carries no mobile transcription.
type Transcriber interface {
	Transcribe(ctx context.Context, clip *audio.Clip, languageHint string) (*wire.Transcription, error)
}

// PipelineConfig wires the pipeline's backends. Nil backends disable the
// operations that need them; jobs hitting a disabled backend fail with
// the pipeline_unavailable code.
type PipelineConfig struct {
	Transcriber Transcriber
	Translator  translate.Translator
	Engine      synth.Engine
	Embedder    diarize.EmbeddingExtractor

	Profiles  *profile.Store
	Docs      *docstore.Store
	Artifacts *storage.Artifacts

	// SampleRate is the output rate for synthesized audio. Default 24000.
	SampleRate int

	// HTTPClient fetches AudioURL sources. Default: 30s timeout.
	HTTPClient *http.Client

	Logger *slog.Logger
}

func (c *PipelineConfig) setDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 24000
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline implements the task handlers.
type Pipeline struct {
	cfg      PipelineConfig
	diarizer *diarize.Engine
	merger   *segment.Merger
}

// NewPipeline creates the pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	cfg.setDefaults()
	return &Pipeline{
		cfg: cfg,
		diarizer: diarize.New(diarize.Config{
			Extractor: cfg.Embedder,
			Logger:    cfg.Logger,
		}),
		merger: segment.NewMerger(segment.MergeConfig{}),
	}
}

// Register installs every handler on the server.
func (p *Pipeline) Register(s *Server) {
	s.Handle(wire.TaskAudioProcess, p.HandleAudioProcess)
	s.Handle(wire.TaskTranscriptionOnly, p.HandleTranscriptionOnly)
	s.Handle(wire.TaskTranslation, p.HandleTranslation)
	s.Handle(wire.TaskVoiceProfile, p.HandleVoiceProfile)
	s.Handle(wire.TaskVoiceAPI, p.HandleVoiceAPI)
}

// acquireClip resolves the job's audio, trying the binary frame, the
// base64 field, the URL and the local path in that order.
func (p *Pipeline) acquireClip(ctx context.Context, env *wire.Envelope, b64, url, path string) (*audio.Clip, error) {
	if frame := env.Frame(wire.SlotAudio); len(frame) > 0 {
		return audio.DecodeWAV(frame)
	}
	if b64 != "" {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decode audio base64: %w", err)
		}
		return audio.DecodeWAV(data)
	}
	if url != "" {
		return p.fetchClip(ctx, url)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read audio file: %w", err)
		}
		return audio.DecodeWAV(data)
	}
	return nil, errors.New("no audio provided")
}

func (p *Pipeline) fetchClip(ctx context.Context, url string) (*audio.Clip, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch audio: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxInlineAudio+1))
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	if len(data) > maxInlineAudio {
		return nil, fmt.Errorf("fetch audio: exceeds %d bytes", maxInlineAudio)
	}
	return audio.DecodeWAV(data)
}

// transcribe prefers the device transcription and falls back to the
// speech backend.
func (p *Pipeline) transcribe(ctx context.Context, clip *audio.Clip, mobile *wire.Transcription) (*wire.Transcription, error) {
	if mobile != nil && mobile.Text != "" {
		if mobile.Source == "" {
			mobile.Source = "mobile"
		}
		return mobile, nil
	}
	if p.cfg.Transcriber == nil {
		return nil, fmt.Errorf("%w: no transcriber configured and no mobile transcription", ErrUnavailable)
	}
	tr, err := p.cfg.Transcriber.Transcribe(ctx, clip, "")
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	return tr, nil
}

// prepareSegments normalizes the transcript into word-bounded segments
// ready for diarization. A transcript without timing becomes one segment
// spanning the clip, then long segments are split for finer attribution.
func prepareSegments(tr *wire.Transcription, clip *audio.Clip) []wire.Segment {
	segs := tr.Segments
	if len(segs) == 0 {
		segs = []wire.Segment{{
			Text:       tr.Text,
			StartMs:    0,
			EndMs:      clip.DurationMs(),
			Confidence: tr.Confidence,
		}}
	}
	out := make([]wire.Segment, 0, len(segs))
	for _, seg := range segs {
		out = append(out, segment.SplitWords(seg, 5)...)
	}
	return out
}

// senderEmbedding loads the stored voice embedding of the message sender.
func (p *Pipeline) senderEmbedding(ctx context.Context, existing *wire.ExistingProfile) []float32 {
	if existing == nil || p.cfg.Profiles == nil {
		return nil
	}
	prof, err := p.cfg.Profiles.Get(ctx, existing.UserID)
	if err != nil {
		p.cfg.Logger.Debug("stored profile unavailable", "userId", existing.UserID, "error", err)
		return nil
	}
	return prof.Embedding()
}

// diarize runs the cascade. A failure degrades to unattributed segments
// rather than failing the job.
func (p *Pipeline) diarize(ctx context.Context, clip *audio.Clip, segs []wire.Segment, existing *wire.ExistingProfile) *diarize.Result {
	res, err := p.diarizer.Diarize(ctx, clip, segs, p.senderEmbedding(ctx, existing))
	if err != nil {
		p.cfg.Logger.Warn("diarization failed, segments left unattributed", "error", err)
		return nil
	}
	return res
}

func joinTexts(segs []wire.Segment) string {
	texts := make([]string, 0, len(segs))
	for _, s := range segs {
		texts = append(texts, s.Text)
	}
	return strings.Join(texts, " ")
}

// voiceModelID is the stable model name of a user's stored clone voice.
func voiceModelID(userID string) string { return "voice_" + userID }

// HandleAudioProcess runs the full pipeline: transcription, diarization,
// per-language translation, voice-cloned synthesis and persistence.
func (p *Pipeline) HandleAudioProcess(ctx context.Context, env *wire.Envelope, pub Publisher) error {
	started := time.Now()

	var req wire.AudioProcessRequest
	if err := env.DecodePayload(&req); err != nil {
		return err
	}
	if len(req.TargetLanguages) == 0 {
		return errors.New("audio_process: no target languages")
	}
	if p.cfg.Translator == nil || p.cfg.Engine == nil {
		return fmt.Errorf("%w: translation or synthesis backend not configured", ErrUnavailable)
	}

	clip, err := p.acquireClip(ctx, env, req.AudioBase64, req.AudioURL, req.AudioPath)
	if err != nil {
		return err
	}

	tr, err := p.transcribe(ctx, clip, req.MobileTranscription)
	if err != nil {
		return err
	}

	segs := prepareSegments(tr, clip)
	diar := p.diarize(ctx, clip, segs, req.ExistingVoiceProfile)
	if diar != nil {
		segs = diar.Segments
	}
	merged := p.merger.Merge(segs)
	tr.Segments = merged
	if tr.Text == "" {
		tr.Text = joinTexts(merged)
	}

	texts := make([]string, len(merged))
	for i, seg := range merged {
		texts[i] = seg.Text
	}

	translations := make(map[string][]string)
	targets := make([]string, 0, len(req.TargetLanguages))
	for _, lang := range req.TargetLanguages {
		if lang == tr.Language {
			continue
		}
		res, err := p.cfg.Translator.Translate(ctx, &translate.Request{
			SourceLanguage: tr.Language,
			TargetLanguage: lang,
			Texts:          texts,
		})
		if err != nil {
			return fmt.Errorf("translate %s: %w", lang, err)
		}
		if tr.Language == "" && res.DetectedSourceLanguage != "" {
			tr.Language = res.DetectedSourceLanguage
		}
		if tr.Language == lang {
			continue
		}
		translations[lang] = res.Texts
		targets = append(targets, lang)
	}

	in := &synth.Input{
		RunID:           env.TaskID,
		Clip:            clip,
		Segments:        merged,
		SourceLanguage:  tr.Language,
		TargetLanguages: targets,
		Translations:    translations,
		AttachmentID:    req.AttachmentID,
	}
	if req.CloningParams != nil {
		in.Params = *req.CloningParams
	}
	if diar != nil && diar.SenderIdentified {
		in.SenderSpeakerID = diar.SenderSpeakerID
		if req.UseOriginalVoice && req.ExistingVoiceProfile != nil {
			in.SenderModelID = voiceModelID(req.ExistingVoiceProfile.UserID)
		}
	}

	var outputs []synth.Output
	if len(targets) > 0 {
		preserve := req.PreserveSilences == nil || *req.PreserveSilences
		syn, err := synth.New(synth.Config{
			Engine:     p.cfg.Engine,
			Silence:    silence.NewManager(silence.Config{Preserve: preserve}),
			SampleRate: p.cfg.SampleRate,
			Logger:     p.cfg.Logger,
		})
		if err != nil {
			return err
		}
		outputs, err = syn.Synthesize(ctx, in)
		if err != nil {
			return err
		}
	}

	result := wire.AudioProcessResult{
		TaskID:        env.TaskID,
		MessageID:     req.MessageID,
		AttachmentID:  req.AttachmentID,
		Transcription: tr,
	}
	if diar != nil && diar.SenderIdentified && req.ExistingVoiceProfile != nil {
		result.VoiceModelUserID = req.ExistingVoiceProfile.UserID
		result.VoiceModelQuality = req.ExistingVoiceProfile.QualityScore
	}

	type track struct {
		slot string
		wav  []byte
	}
	var tracks []track
	for i := range outputs {
		o := &outputs[i]
		ta := o.Result
		wav := audio.EncodeWAV(o.Audio)
		if p.cfg.Artifacts != nil {
			path, url, err := p.cfg.Artifacts.Put(ctx, storage.TranslatedAudioPath(req.AttachmentID, o.Language), wav)
			if err != nil {
				p.cfg.Logger.Warn("artifact upload failed", "lang", o.Language, "error", err)
			} else {
				ta.AudioPath = path
				ta.AudioURL = url
			}
		}
		if p.cfg.Docs != nil {
			if _, err := p.cfg.Docs.UpsertTranslation(ctx, req.AttachmentID, ta); err != nil {
				p.cfg.Logger.Warn("translation upsert failed", "lang", o.Language, "error", err)
			}
		}
		result.TranslatedAudios = append(result.TranslatedAudios, ta)
		if len(wav) <= maxInlineAudio {
			tracks = append(tracks, track{slot: wire.SlotAudioLang(o.Language), wav: wav})
		}
	}
	if p.cfg.Docs != nil {
		if _, err := p.cfg.Docs.SetTranscription(ctx, req.AttachmentID, req.MessageID, tr); err != nil {
			p.cfg.Logger.Warn("transcription save failed", "attachmentId", req.AttachmentID, "error", err)
		}
	}

	if req.GenerateVoiceClone && req.SenderID != "" {
		if sum := p.maybeCreateProfile(ctx, clip, merged, diar, req.SenderID); sum != nil {
			result.NewVoiceProfile = sum
		}
	}

	result.ProcessingTimeMs = int(time.Since(started).Milliseconds())
	result.Timestamp = time.Now().UnixMilli()

	out, err := wire.NewEnvelope(wire.TaskType(wire.ResultAudioProcessCompleted.String()), env.TaskID, result)
	if err != nil {
		return err
	}
	for _, t := range tracks {
		out.AttachFrame(t.slot, t.wav, "audio/wav")
	}
	if diar != nil && diar.SenderIdentified {
		if emb := speakerEmbedding(diar, diar.SenderSpeakerID); emb != nil {
			if data, err := wire.EncodeVector(emb); err == nil {
				out.AttachFrame(wire.SlotEmbedding, data, "application/msgpack")
			}
		}
	}
	return pub.Publish(ctx, out)
}

func speakerEmbedding(diar *diarize.Result, speakerID string) []float32 {
	for _, sp := range diar.Speakers {
		if sp.ID == speakerID {
			return sp.Embedding
		}
	}
	return nil
}

// maybeCreateProfile builds and stores a voice profile for the sender.
// The sender's audio must be attributable: either diarization matched the
// stored profile, or the recording has exactly one speaker. Ambiguous
// multi-speaker audio never produces a profile.
func (p *Pipeline) maybeCreateProfile(ctx context.Context, clip *audio.Clip, segs []wire.Segment, diar *diarize.Result, userID string) *wire.ProfileSummary {
	if p.cfg.Profiles == nil {
		return nil
	}
	speakerID := ""
	switch {
	case diar == nil:
		return nil
	case diar.SenderIdentified:
		speakerID = diar.SenderSpeakerID
	case len(diar.Speakers) == 1:
		speakerID = diar.Speakers[0].ID
	default:
		p.cfg.Logger.Info("skipping voice profile, sender not attributable",
			"userId", userID, "speakers", len(diar.Speakers))
		return nil
	}

	voice := speakerAudio(clip, segs, speakerID)
	if voice == nil || len(voice.Samples) == 0 {
		return nil
	}

	feats := fingerprint.Extract(voice)
	emb := speakerEmbedding(diar, speakerID)
	if emb == nil && p.cfg.Embedder != nil {
		if v, err := p.cfg.Embedder.Extract(ctx, voice); err == nil {
			emb = v
		}
	}
	fp := fingerprint.New(feats, emb)

	prof := &profile.Profile{
		UserID:          userID,
		ProfileID:       fp.ID,
		QualityScore:    qualityScore(feats, voice.DurationMs()),
		AudioCount:      1,
		TotalDurationMs: voice.DurationMs(),
		Fingerprint:     fp,
	}
	if err := p.cfg.Profiles.Put(ctx, prof); err != nil {
		p.cfg.Logger.Warn("voice profile save failed", "userId", userID, "error", err)
		return nil
	}
	if p.cfg.Artifacts != nil {
		if _, _, err := p.cfg.Artifacts.Put(ctx, storage.CloneSamplePath(userID), audio.EncodeWAV(voice)); err != nil {
			p.cfg.Logger.Warn("clone sample upload failed", "userId", userID, "error", err)
		}
	}
	s := prof.Summary()
	return &s
}

// speakerAudio concatenates one speaker's segments from the source clip.
func speakerAudio(clip *audio.Clip, segs []wire.Segment, speakerID string) *audio.Clip {
	var parts []*audio.Clip
	for _, seg := range segs {
		if seg.SpeakerID != speakerID {
			continue
		}
		parts = append(parts, clip.SliceMs(seg.StartMs, seg.EndMs))
	}
	out, err := audio.Concat(parts...)
	if err != nil {
		return nil
	}
	return out
}

// qualityScore rates a profile sample: mostly how voiced the audio is,
// with a bonus for length up to ten seconds.
func qualityScore(f fingerprint.Features, durationMs int) float64 {
	lengthScore := float64(durationMs) / 10000
	if lengthScore > 1 {
		lengthScore = 1
	}
	score := 0.6*f.VoicedRatio + 0.4*lengthScore
	if score > 1 {
		score = 1
	}
	return score
}

// HandleTranscriptionOnly transcribes and diarizes without translating.
func (p *Pipeline) HandleTranscriptionOnly(ctx context.Context, env *wire.Envelope, pub Publisher) error {
	var req wire.TranscriptionOnlyRequest
	if err := env.DecodePayload(&req); err != nil {
		return err
	}

	clip, err := p.acquireClip(ctx, env, req.AudioBase64, req.AudioURL, req.AudioPath)
	if err != nil {
		return err
	}
	tr, err := p.transcribe(ctx, clip, req.MobileTranscription)
	if err != nil {
		return err
	}

	segs := prepareSegments(tr, clip)
	diar := p.diarize(ctx, clip, segs, req.ExistingVoiceProfile)
	if diar != nil {
		segs = diar.Segments
	}
	tr.Segments = p.merger.Merge(segs)
	if tr.Text == "" {
		tr.Text = joinTexts(tr.Segments)
	}

	if p.cfg.Docs != nil {
		if _, err := p.cfg.Docs.SetTranscription(ctx, req.AttachmentID, req.MessageID, tr); err != nil {
			p.cfg.Logger.Warn("transcription save failed", "attachmentId", req.AttachmentID, "error", err)
		}
	}

	result := wire.TranscriptionResult{
		TaskID:        env.TaskID,
		MessageID:     req.MessageID,
		AttachmentID:  req.AttachmentID,
		Transcription: tr,
		Timestamp:     time.Now().UnixMilli(),
	}
	if diar != nil {
		result.Diarization = diarizationReport(diar)
	}
	out, err := wire.NewEnvelope(wire.TaskType(wire.ResultTranscriptionCompleted.String()), env.TaskID, result)
	if err != nil {
		return err
	}
	return pub.Publish(ctx, out)
}

// speakerInfo is the public shape of one detected speaker.
type speakerInfo struct {
	ID             string  `json:"id"`
	IsPrimary      bool    `json:"isPrimary"`
	SpeakingTimeMs int     `json:"speakingTimeMs"`
	SpeakingRatio  float64 `json:"speakingRatio"`
	SegmentCount   int     `json:"segmentCount"`
}

// diarizationInfo is the Diarization field of transcription results.
type diarizationInfo struct {
	Method           string        `json:"method"`
	Speakers         []speakerInfo `json:"speakers"`
	PrimarySpeakerID string        `json:"primarySpeakerId,omitempty"`
	SenderIdentified bool          `json:"senderIdentified"`
	SenderSpeakerID  string        `json:"senderSpeakerId,omitempty"`
	SenderSimilarity float64       `json:"senderSimilarity,omitempty"`
	Confidence       float64       `json:"confidence,omitempty"`
}

func diarizationReport(diar *diarize.Result) diarizationInfo {
	info := diarizationInfo{
		Method:           diar.Method,
		PrimarySpeakerID: diar.PrimarySpeakerID,
		SenderIdentified: diar.SenderIdentified,
		SenderSpeakerID:  diar.SenderSpeakerID,
		SenderSimilarity: diar.SenderSimilarity,
		Confidence:       diar.Confidence,
	}
	for _, sp := range diar.Speakers {
		info.Speakers = append(info.Speakers, speakerInfo{
			ID:             sp.ID,
			IsPrimary:      sp.IsPrimary,
			SpeakingTimeMs: sp.SpeakingTimeMs,
			SpeakingRatio:  sp.SpeakingRatio,
			SegmentCount:   sp.SegmentCount,
		})
	}
	return info
}

// HandleTranslation translates text into each target language, publishing
// one event per language. A target equal to the source language is
// acknowledged as skipped rather than round-tripped through the backend.
func (p *Pipeline) HandleTranslation(ctx context.Context, env *wire.Envelope, pub Publisher) error {
	var req wire.TranslationRequest
	if err := env.DecodePayload(&req); err != nil {
		return err
	}
	if req.Text == "" {
		return errors.New("translation: empty text")
	}
	if len(req.TargetLanguages) == 0 {
		return errors.New("translation: no target languages")
	}
	if p.cfg.Translator == nil {
		return fmt.Errorf("%w: no translation backend configured", ErrUnavailable)
	}

	for _, lang := range req.TargetLanguages {
		result := wire.TranslationResult{
			TaskID:         env.TaskID,
			MessageID:      req.MessageID,
			SourceLanguage: req.SourceLanguage,
			TargetLanguage: lang,
			Timestamp:      time.Now().UnixMilli(),
		}
		if lang == req.SourceLanguage && lang != "" {
			result.TranslatedText = req.Text
			result.Skipped = true
		} else {
			res, err := p.cfg.Translator.Translate(ctx, &translate.Request{
				SourceLanguage: req.SourceLanguage,
				TargetLanguage: lang,
				Texts:          []string{req.Text},
			})
			if err != nil {
				return fmt.Errorf("translate %s: %w", lang, err)
			}
			src := req.SourceLanguage
			if res.DetectedSourceLanguage != "" {
				src = res.DetectedSourceLanguage
			}
			result.SourceLanguage = src
			if src == lang {
				result.TranslatedText = req.Text
				result.Skipped = true
			} else {
				result.TranslatedText = strings.Join(res.Texts, " ")
			}
		}

		out, err := wire.NewEnvelope(wire.TaskType(wire.ResultTranslationCompleted.String()), env.TaskID, result)
		if err != nil {
			return err
		}
		if err := pub.Publish(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

// HandleVoiceProfile analyzes, verifies or compares voice fingerprints.
// The sample arrives in the audio frame; compare reads its second input
// from the voiceProfile frame, either a serialized fingerprint or raw WAV.
func (p *Pipeline) HandleVoiceProfile(ctx context.Context, env *wire.Envelope, pub Publisher) error {
	var req wire.VoiceProfileRequest
	if err := env.DecodePayload(&req); err != nil {
		return err
	}
	frame := env.Frame(wire.SlotAudio)
	if len(frame) == 0 {
		return errors.New("voice_profile: missing audio frame")
	}
	clip, err := audio.DecodeWAV(frame)
	if err != nil {
		return err
	}
	fp := p.fingerprintClip(ctx, clip)

	switch req.Op {
	case wire.VoiceProfileOpAnalyze:
		result := wire.VoiceProfileAnalyzeResult{
			TaskID:      env.TaskID,
			UserID:      req.UserID,
			Fingerprint: fp.Signature,
		}
		if req.UserID != "" && p.cfg.Profiles != nil {
			prof := &profile.Profile{
				UserID:          req.UserID,
				ProfileID:       fp.ID,
				QualityScore:    qualityScore(fingerprint.Extract(clip), clip.DurationMs()),
				AudioCount:      1,
				TotalDurationMs: clip.DurationMs(),
				Fingerprint:     fp,
			}
			if req.ProfileID != "" {
				prof.ProfileID = req.ProfileID
			}
			if err := p.cfg.Profiles.Put(ctx, prof); err != nil {
				return fmt.Errorf("store profile: %w", err)
			}
			s := prof.Summary()
			result.Profile = &s
		}
		return publishResult(ctx, pub, wire.ResultVoiceProfileAnalyze, env.TaskID, result)

	case wire.VoiceProfileOpVerify:
		if p.cfg.Profiles == nil {
			return fmt.Errorf("%w: no profile store configured", ErrUnavailable)
		}
		stored, err := p.cfg.Profiles.Get(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("verify user %s: %w", req.UserID, err)
		}
		sim := fingerprint.Similarity(stored.Fingerprint, fp)
		thr := req.Threshold
		if thr == 0 {
			thr = fingerprint.MatchThreshold
		}
		return publishResult(ctx, pub, wire.ResultVoiceProfileVerify, env.TaskID, wire.VoiceProfileVerifyResult{
			TaskID:     env.TaskID,
			UserID:     req.UserID,
			Match:      sim >= thr,
			Similarity: sim,
			Threshold:  thr,
		})

	case wire.VoiceProfileOpCompare:
		other := env.Frame(wire.SlotVoiceProfile)
		if len(other) == 0 {
			return errors.New("voice_profile: compare needs a second sample")
		}
		fpB, err := fingerprint.Unmarshal(other)
		if err != nil || fpB == nil || fpB.Signature == "" {
			clipB, err := audio.DecodeWAV(other)
			if err != nil {
				return fmt.Errorf("voice_profile: second sample is neither fingerprint nor WAV: %w", err)
			}
			fpB = p.fingerprintClip(ctx, clipB)
		}
		sim := fingerprint.Similarity(fp, fpB)
		return publishResult(ctx, pub, wire.ResultVoiceProfileCompare, env.TaskID, wire.VoiceProfileCompareResult{
			TaskID:     env.TaskID,
			Match:      sim >= fingerprint.MatchThreshold,
			Similarity: sim,
		})
	}
	return fmt.Errorf("voice_profile: unknown op %q", req.Op)
}

func (p *Pipeline) fingerprintClip(ctx context.Context, clip *audio.Clip) *fingerprint.Fingerprint {
	var emb []float32
	if p.cfg.Embedder != nil {
		if v, err := p.cfg.Embedder.Extract(ctx, clip); err == nil {
			emb = v
		} else {
			p.cfg.Logger.Debug("embedding extraction failed", "error", err)
		}
	}
	return fingerprint.New(fingerprint.Extract(clip), emb)
}

// HandleVoiceAPI is a direct synthesis call with progress reporting.
func (p *Pipeline) HandleVoiceAPI(ctx context.Context, env *wire.Envelope, pub Publisher) error {
	var req wire.VoiceAPIRequest
	if err := env.DecodePayload(&req); err != nil {
		return err
	}
	if req.Text == "" {
		return errors.New("voice_api: empty text")
	}
	if req.Format != "" && req.Format != "wav" {
		return fmt.Errorf("voice_api: unsupported format %q", req.Format)
	}
	if p.cfg.Engine == nil {
		return fmt.Errorf("%w: no synthesis backend configured", ErrUnavailable)
	}

	p.progress(ctx, pub, env.TaskID, "synthesizing", 0)

	speak := &synth.SpeakRequest{
		Text:     req.Text,
		Language: req.Language,
		ModelID:  req.VoiceModelID,
	}
	if req.CloningParams != nil {
		speak.Params = *req.CloningParams
	}
	syn, err := p.cfg.Engine.Speak(ctx, speak)
	if err != nil {
		return fmt.Errorf("voice_api: %w", err)
	}

	p.progress(ctx, pub, env.TaskID, "encoding", 90)

	clip := syn.Clip
	if clip.SampleRate != p.cfg.SampleRate {
		clip, err = audio.Resample(clip, p.cfg.SampleRate)
		if err != nil {
			return fmt.Errorf("voice_api: %w", err)
		}
	}
	wav := audio.EncodeWAV(clip)

	out, err := wire.NewEnvelope(wire.TaskType(wire.ResultVoiceAPISuccess.String()), env.TaskID, wire.VoiceAPIResult{
		TaskID:     env.TaskID,
		DurationMs: clip.DurationMs(),
		Format:     "wav",
	})
	if err != nil {
		return err
	}
	out.AttachFrame(wire.SlotAudio, wav, "audio/wav")

	p.progress(ctx, pub, env.TaskID, "complete", 100)
	return pub.Publish(ctx, out)
}

func (p *Pipeline) progress(ctx context.Context, pub Publisher, taskID, stage string, percent float64) {
	out, err := wire.NewEnvelope(wire.TaskType(wire.ResultVoiceJobProgress.String()), taskID, wire.VoiceProgress{
		TaskID:  taskID,
		Stage:   stage,
		Percent: percent,
	})
	if err != nil {
		return
	}
	if err := pub.Publish(ctx, out); err != nil {
		p.cfg.Logger.Debug("progress publish failed", "taskId", taskID, "error", err)
	}
}

func publishResult(ctx context.Context, pub Publisher, rt wire.ResultType, taskID string, payload any) error {
	out, err := wire.NewEnvelope(wire.TaskType(rt.String()), taskID, payload)
	if err != nil {
		return err
	}
	return pub.Publish(ctx, out)
}
