// Package segment turns fine-grained ASR output into display and
// synthesis-ready segments: a splitter that breaks long recognizer spans
// into short word chunks with interpolated timestamps, and a merger that
// glues fragments back together under pause, length, and speaker rules.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

// MergeConfig tunes the two merge passes. The tight pass joins fragments
// separated by a short breath pause; the relaxed pass then joins
// back-to-back fragments that the first pass left split only because of
// the length cap.
type MergeConfig struct {
	TightPauseMs  int // default 90
	TightMaxRunes int // default 8
	RelaxPauseMs  int // default 10
	RelaxMaxRunes int // default 15
}

func (c *MergeConfig) setDefaults() {
	if c.TightPauseMs == 0 {
		c.TightPauseMs = 90
	}
	if c.TightMaxRunes == 0 {
		c.TightMaxRunes = 8
	}
	if c.RelaxPauseMs == 0 {
		c.RelaxPauseMs = 10
	}
	if c.RelaxMaxRunes == 0 {
		c.RelaxMaxRunes = 15
	}
}

// Merger merges adjacent same-speaker segments.
type Merger struct {
	cfg MergeConfig
}

// NewMerger creates a merger with defaults filled in.
func NewMerger(cfg MergeConfig) *Merger {
	cfg.setDefaults()
	return &Merger{cfg: cfg}
}

// Merge runs both passes over segments ordered by start time. Input is
// not modified. A merge happens only when every condition holds: the
// pause between segments is under the pass threshold, the combined text
// stays within the pass rune cap, both segments carry the same speaker,
// and the earlier text does not already end a sentence. A speaker change
// or sentence boundary is a hard stop regardless of pause.
func (m *Merger) Merge(segments []wire.Segment) []wire.Segment {
	out := mergePass(segments, m.cfg.TightPauseMs, m.cfg.TightMaxRunes)
	return mergePass(out, m.cfg.RelaxPauseMs, m.cfg.RelaxMaxRunes)
}

func mergePass(segments []wire.Segment, pauseMs, maxRunes int) []wire.Segment {
	if len(segments) == 0 {
		return nil
	}
	out := make([]wire.Segment, 0, len(segments))
	acc := segments[0]
	for _, next := range segments[1:] {
		pause := next.StartMs - acc.EndMs
		merged := join(acc, next)
		switch {
		case acc.SpeakerID != next.SpeakerID,
			endsSentence(acc.Text),
			pause >= pauseMs,
			utf8.RuneCountInString(merged.Text) > maxRunes:
			out = append(out, acc)
			acc = next
		default:
			acc = merged
		}
	}
	return append(out, acc)
}

// join combines two segments, keeping the first start and last end and
// weighting confidence by segment duration.
func join(a, b wire.Segment) wire.Segment {
	da, db := a.DurationMs(), b.DurationMs()
	conf := a.Confidence
	if da+db > 0 {
		conf = (a.Confidence*float64(da) + b.Confidence*float64(db)) / float64(da+db)
	}
	text := strings.TrimSpace(a.Text)
	bt := strings.TrimSpace(b.Text)
	if text == "" {
		text = bt
	} else if bt != "" {
		if noSpaceJoin(text, bt) {
			text += bt
		} else {
			text += " " + bt
		}
	}
	return wire.Segment{
		Text:       text,
		StartMs:    a.StartMs,
		EndMs:      b.EndMs,
		SpeakerID:  a.SpeakerID,
		Confidence: conf,
		Language:   a.Language,
	}
}

// noSpaceJoin reports whether the boundary between the two texts sits in
// a script written without word spacing.
func noSpaceJoin(a, b string) bool {
	last, _ := utf8.DecodeLastRuneInString(a)
	first, _ := utf8.DecodeRuneInString(b)
	return unicode.Is(unicode.Han, last) || unicode.Is(unicode.Han, first) ||
		unicode.Is(unicode.Hiragana, last) || unicode.Is(unicode.Hiragana, first) ||
		unicode.Is(unicode.Katakana, last) || unicode.Is(unicode.Katakana, first)
}

// endsSentence reports whether text finishes a sentence: terminal
// punctuation (including CJK forms), an emoji, or an explicit line break.
func endsSentence(text string) bool {
	text = strings.TrimRight(text, " \t")
	r, size := utf8.DecodeLastRuneInString(text)
	if size == 0 {
		return false
	}
	switch r {
	case '.', '。', '？', '！', '…', '～', '?', '!', '¿', '¡', '\r', '\n', '„', '・':
		return true
	}
	// Emoji and pictographs also close a message fragment.
	if r >= 0x1F000 && r <= 0x1FAFF {
		return true
	}
	if r >= 0x2600 && r <= 0x27BF {
		return true
	}
	return false
}

// SplitWords breaks a recognizer segment into chunks of at most maxWords
// words, interpolating timestamps linearly across the word count. The
// final chunk always ends exactly at the segment end. maxWords <= 0 uses
// the default of 5.
func SplitWords(seg wire.Segment, maxWords int) []wire.Segment {
	if maxWords <= 0 {
		maxWords = 5
	}
	words := strings.Fields(seg.Text)
	if len(words) <= maxWords {
		return []wire.Segment{seg}
	}

	total := len(words)
	span := seg.EndMs - seg.StartMs
	var out []wire.Segment
	for i := 0; i < total; i += maxWords {
		j := i + maxWords
		if j > total {
			j = total
		}
		start := seg.StartMs + span*i/total
		end := seg.StartMs + span*j/total
		if j == total {
			end = seg.EndMs
		}
		out = append(out, wire.Segment{
			Text:       strings.Join(words[i:j], " "),
			StartMs:    start,
			EndMs:      end,
			SpeakerID:  seg.SpeakerID,
			Confidence: seg.Confidence,
			Language:   seg.Language,
		})
	}
	return out
}
