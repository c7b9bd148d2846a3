// Package synth turns a diarized, translated transcript back into audio.
// Each speaker gets a voice: the identified sender reuses their stored
// voice model, everyone else gets an ephemeral clone built from their own
// longest segment. Segments are synthesized per target language, then
// reassembled in source time order with the measured silences reinserted.
package synth

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/isopen-io/meeshy-sub000/pkg/audio"
	"github.com/isopen-io/meeshy-sub000/pkg/pipeline/silence"
	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

// SpeakRequest is one synthesis call against the TTS engine.
type SpeakRequest struct {
	Text     string
	Language string
	ModelID  string
	Params   wire.CloningParams
}

// Synthesis is the engine's output for one segment.
type Synthesis struct {
	Clip *audio.Clip

	// VoiceSimilarity scores how close the synthesized voice is to the
	// cloning sample, when the engine reports it.
	VoiceSimilarity float64
}

// Engine is the text-to-speech backend.
type Engine interface {
	// Clone registers a voice model from a reference sample.
	Clone(ctx context.Context, modelID string, sample *audio.Clip) error

	// Speak synthesizes one text with a registered model.
	Speak(ctx context.Context, req *SpeakRequest) (*Synthesis, error)

	// Delete removes a model. Ephemeral clones are deleted after a run.
	Delete(ctx context.Context, modelID string) error
}

// VoiceAssignment maps a speaker to a voice model for one run.
type VoiceAssignment struct {
	SpeakerID string
	ModelID   string

	// Ephemeral marks a temporary clone that is deleted after the run.
	Ephemeral bool
}

// Input is one synthesis run over a fully processed recording.
type Input struct {
	RunID string

	Clip     *audio.Clip
	Segments []wire.Segment

	SourceLanguage  string
	TargetLanguages []string

	// Translations maps target language to per-segment translated text,
	// parallel to Segments.
	Translations map[string][]string

	// SenderSpeakerID and SenderModelID are set when diarization matched
	// the sender to a stored voice profile with a usable model.
	SenderSpeakerID string
	SenderModelID   string

	Params wire.CloningParams

	AttachmentID string
}

// Provenance records where one output segment came from.
type Provenance struct {
	SpeakerID       string  `json:"speakerId"`
	SourceStartMs   int     `json:"sourceStartMs"`
	SourceEndMs     int     `json:"sourceEndMs"`
	SynthDurationMs int     `json:"synthDurationMs"`
	VoiceSimilarity float64 `json:"voiceSimilarity,omitempty"`

	// Cloned is true whenever the voice came from a reference sample of
	// the speaker, stored or ephemeral. StoredVoice marks reuse of a
	// persisted model rather than a per-run clone.
	Cloned      bool `json:"cloned"`
	StoredVoice bool `json:"storedVoice,omitempty"`
}

// Output is the synthesized track for one target language.
type Output struct {
	Language   string
	Audio      *audio.Clip
	Cloned     bool
	Provenance []Provenance
	Result     wire.TranslatedAudio
}

// Config tunes the synthesizer.
type Config struct {
	Engine      Engine
	Silence     *silence.Manager
	SampleRate  int // default 24000
	Concurrency int // parallel target languages, default 2
	Logger      *slog.Logger
}

func (c *Config) setDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 24000
	}
	if c.Concurrency == 0 {
		c.Concurrency = 2
	}
	if c.Silence == nil {
		c.Silence = silence.NewManager(silence.Config{Preserve: true})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Synthesizer renders translated audio for every target language.
type Synthesizer struct {
	cfg Config
}

// New creates a synthesizer.
func New(cfg Config) (*Synthesizer, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("synth: engine is required")
	}
	cfg.setDefaults()
	return &Synthesizer{cfg: cfg}, nil
}

// AssignVoices resolves a voice model per distinct speaker. The sender
// reuses their stored model when one is known; every other speaker gets
// an ephemeral clone from their longest segment. Returned assignments are
// keyed by speaker id.
func (s *Synthesizer) AssignVoices(ctx context.Context, in *Input) (map[string]VoiceAssignment, error) {
	assignments := make(map[string]VoiceAssignment)
	for _, seg := range in.Segments {
		if seg.SpeakerID == "" {
			continue
		}
		if _, ok := assignments[seg.SpeakerID]; ok {
			continue
		}
		if seg.SpeakerID == in.SenderSpeakerID && in.SenderModelID != "" {
			assignments[seg.SpeakerID] = VoiceAssignment{
				SpeakerID: seg.SpeakerID,
				ModelID:   in.SenderModelID,
			}
			continue
		}
		modelID := fmt.Sprintf("temp_%s_%s", seg.SpeakerID, in.RunID)
		sample := longestSegmentAudio(in.Clip, in.Segments, seg.SpeakerID)
		if err := s.cfg.Engine.Clone(ctx, modelID, sample); err != nil {
			return nil, fmt.Errorf("synth: clone voice for %s: %w", seg.SpeakerID, err)
		}
		assignments[seg.SpeakerID] = VoiceAssignment{
			SpeakerID: seg.SpeakerID,
			ModelID:   modelID,
			Ephemeral: true,
		}
	}
	return assignments, nil
}

// ReleaseVoices deletes the ephemeral models created for a run.
func (s *Synthesizer) ReleaseVoices(ctx context.Context, assignments map[string]VoiceAssignment) {
	for _, a := range assignments {
		if !a.Ephemeral {
			continue
		}
		if err := s.cfg.Engine.Delete(ctx, a.ModelID); err != nil {
			s.cfg.Logger.Warn("delete ephemeral voice", "model", a.ModelID, "error", err)
		}
	}
}

// Synthesize renders one output per target language, running languages
// concurrently up to the configured limit. Ephemeral voices are cleaned
// up before return.
func (s *Synthesizer) Synthesize(ctx context.Context, in *Input) ([]Output, error) {
	if len(in.Segments) == 0 {
		return nil, fmt.Errorf("synth: no segments")
	}
	assignments, err := s.AssignVoices(ctx, in)
	if err != nil {
		return nil, err
	}
	defer s.ReleaseVoices(ctx, assignments)

	gaps := s.cfg.Silence.DetectFromSegments(in.Segments)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		sem      = make(chan struct{}, s.cfg.Concurrency)
		outputs  []Output
		firstErr error
	)
	for _, lang := range in.TargetLanguages {
		wg.Add(1)
		go func(lang string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out, err := s.renderLanguage(ctx, in, assignments, gaps, lang)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("synth: render %s: %w", lang, err)
				}
				return
			}
			outputs = append(outputs, *out)
		}(lang)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Language < outputs[j].Language })
	return outputs, nil
}

// renderLanguage synthesizes every segment into one language and
// reassembles the track.
func (s *Synthesizer) renderLanguage(ctx context.Context, in *Input, assignments map[string]VoiceAssignment, gaps []silence.Gap, lang string) (*Output, error) {
	texts, ok := in.Translations[lang]
	if !ok || len(texts) != len(in.Segments) {
		return nil, fmt.Errorf("missing translations for %q", lang)
	}

	out := &Output{Language: lang}
	clips := make([]*audio.Clip, len(in.Segments))
	var sourceSpeechMs, synthSpeechMs int

	for i, seg := range in.Segments {
		a, ok := assignments[seg.SpeakerID]
		if !ok {
			return nil, fmt.Errorf("no voice for speaker %q", seg.SpeakerID)
		}
		params := adjustParams(in.Params, in.SourceLanguage, lang)
		syn, err := s.cfg.Engine.Speak(ctx, &SpeakRequest{
			Text:     texts[i],
			Language: lang,
			ModelID:  a.ModelID,
			Params:   params,
		})
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		clip, err := audio.Resample(syn.Clip, s.cfg.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		clips[i] = clip
		sourceSpeechMs += seg.DurationMs()
		synthSpeechMs += clip.DurationMs()

		// Every assignment speaks through a clone of the speaker's own
		// voice; only the model lifetime differs.
		out.Cloned = true
		out.Provenance = append(out.Provenance, Provenance{
			SpeakerID:       seg.SpeakerID,
			SourceStartMs:   seg.StartMs,
			SourceEndMs:     seg.EndMs,
			SynthDurationMs: clip.DurationMs(),
			VoiceSimilarity: syn.VoiceSimilarity,
			Cloned:          true,
			StoredVoice:     !a.Ephemeral,
		})
	}

	ratio := 1.0
	if sourceSpeechMs > 0 {
		ratio = float64(synthSpeechMs) / float64(sourceSpeechMs)
	}
	track, err := s.cfg.Silence.Assemble(clips, gaps, ratio)
	if err != nil {
		return nil, err
	}
	out.Audio = track
	out.Result = wire.TranslatedAudio{
		TargetLanguage: lang,
		TranslatedText: strings.Join(texts, " "),
		DurationMs:     track.DurationMs(),
		VoiceCloned:    out.Cloned,
		AudioMimeType:  "audio/wav",
		CreatedAt:      time.Now().UnixMilli(),
	}
	return out, nil
}

// adjustParams applies per-language parameter rules. Cross-language
// cloning forces the guidance weight to zero: carrying the sample's
// prosody into a different language drags its accent along with it.
func adjustParams(p wire.CloningParams, sourceLang, targetLang string) wire.CloningParams {
	if sourceLang != "" && targetLang != "" && sourceLang != targetLang {
		p.GuidanceWeight = 0.0
	}
	return p
}

// longestSegmentAudio slices the audio of the speaker's longest segment
// for use as a cloning sample.
func longestSegmentAudio(clip *audio.Clip, segments []wire.Segment, speakerID string) *audio.Clip {
	best := wire.Segment{}
	for _, seg := range segments {
		if seg.SpeakerID == speakerID && seg.DurationMs() > best.DurationMs() {
			best = seg
		}
	}
	if clip == nil || best.DurationMs() == 0 {
		return &audio.Clip{}
	}
	return clip.SliceMs(best.StartMs, best.EndMs)
}
