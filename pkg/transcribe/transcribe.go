// Package transcribe provides speech-to-text backends for the pipeline.
//
// The Whisper client speaks the OpenAI audio transcription API and works
// with any compatible gateway (OpenAI, Groq, a local faster-whisper
// server) through a custom base URL.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/isopen-io/meeshy-sub000/pkg/audio"
	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

const (
	// DefaultBaseURL is the OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is the transcription model.
	DefaultModel = "whisper-1"

	// DefaultTimeout bounds one transcription round trip.
	DefaultTimeout = 120 * time.Second
)

// WhisperConfig configures the client.
type WhisperConfig struct {
	// APIKey authenticates against the API.
	APIKey string

	// BaseURL overrides the endpoint (optional).
	BaseURL string

	// Model overrides the transcription model (optional).
	Model string

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Whisper transcribes audio through the OpenAI transcription API.
type Whisper struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewWhisper creates the client.
func NewWhisper(cfg WhisperConfig) *Whisper {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Whisper{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    client,
	}
}

type whisperSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

type whisperError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe implements the worker Transcriber contract. The clip is
// shipped as WAV; segment timestamps come back in seconds and are
// converted to milliseconds.
func (w *Whisper) Transcribe(ctx context.Context, clip *audio.Clip, languageHint string) (*wire.Transcription, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if _, err := part.Write(audio.EncodeWAV(clip)); err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if err := mw.WriteField("model", w.model); err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if languageHint != "" {
		if err := mw.WriteField("language", languageHint); err != nil {
			return nil, fmt.Errorf("transcribe: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var we whisperError
		if json.Unmarshal(data, &we) == nil && we.Error.Message != "" {
			return nil, fmt.Errorf("transcribe: status %d: %s", resp.StatusCode, we.Error.Message)
		}
		return nil, fmt.Errorf("transcribe: status %d", resp.StatusCode)
	}

	var wr whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("transcribe: decode response: %w", err)
	}

	tr := &wire.Transcription{
		Text:     strings.TrimSpace(wr.Text),
		Language: wr.Language,
		Source:   "whisper",
	}
	for _, seg := range wr.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		tr.Segments = append(tr.Segments, wire.Segment{
			Text:    text,
			StartMs: int(seg.Start * 1000),
			EndMs:   int(seg.End * 1000),
		})
	}
	return tr, nil
}
