// Package translate provides text translation backends for the pipeline.
// Each backend batches the segments of one speaker turn into a single
// model call and returns translations in segment order. Model output is
// requested as JSON and repaired before parsing, since LLM responses are
// not always syntactically clean.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Request is one batched translation call.
type Request struct {
	// SourceLanguage is an ISO 639-1 code, or "" for auto-detection.
	SourceLanguage string

	// TargetLanguage is the ISO 639-1 code to translate into.
	TargetLanguage string

	// Texts are the segment texts, translated in order.
	Texts []string
}

// Result carries the translated segments.
type Result struct {
	Texts []string

	// DetectedSourceLanguage is set when the backend reports the source
	// language it detected.
	DetectedSourceLanguage string
}

// Translator is a translation backend.
type Translator interface {
	Translate(ctx context.Context, req *Request) (*Result, error)
}

// buildPrompt renders the shared instruction and the numbered segments.
func buildPrompt(req *Request) (system, user string) {
	src := req.SourceLanguage
	if src == "" {
		src = "the detected language"
	}
	system = fmt.Sprintf(
		"You are a translation engine. Translate each numbered segment from %s to %s. "+
			"Preserve tone and register; keep names, numbers, and emoji unchanged. "+
			`Reply with JSON only: {"detectedSourceLanguage": "<iso 639-1>", "translations": ["<segment 1>", ...]} `+
			"with exactly one entry per input segment, in the same order.",
		src, req.TargetLanguage)

	var sb strings.Builder
	for i, t := range req.Texts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, t)
	}
	return system, sb.String()
}

// responsePayload is the JSON shape the backends ask the model for.
type responsePayload struct {
	DetectedSourceLanguage string   `json:"detectedSourceLanguage"`
	Translations           []string `json:"translations"`
}

// parseResponse decodes a model reply, repairing malformed JSON, and
// validates the segment count.
func parseResponse(raw string, want int) (*Result, error) {
	raw = strings.TrimSpace(raw)
	// Models sometimes wrap JSON in a markdown fence.
	if after, ok := strings.CutPrefix(raw, "```json"); ok {
		raw = after
	} else if after, ok := strings.CutPrefix(raw, "```"); ok {
		raw = after
	}
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")

	var payload responsePayload
	if err := unmarshalJSON([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("translate: parse response: %w", err)
	}
	if len(payload.Translations) != want {
		return nil, fmt.Errorf("translate: got %d translations, want %d", len(payload.Translations), want)
	}
	return &Result{
		Texts:                  payload.Translations,
		DetectedSourceLanguage: payload.DetectedSourceLanguage,
	}, nil
}

// unmarshalJSON unmarshals JSON data into v, attempting to repair
// malformed JSON. If the initial unmarshal fails with a syntax error, it
// tries to repair the JSON using jsonrepair before retrying.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, err := jsonrepair.JSONRepair(string(data))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}
