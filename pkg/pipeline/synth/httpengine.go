package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/isopen-io/meeshy-sub000/pkg/audio"
)

// DefaultSpeakTimeout bounds one synthesis round trip. Cloned synthesis
// of a long segment can take tens of seconds.
const DefaultSpeakTimeout = 120 * time.Second

// HTTPEngineConfig configures the REST-backed TTS engine.
type HTTPEngineConfig struct {
	// BaseURL is the engine endpoint, e.g. "http://tts.internal:8004".
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// HTTPEngine talks to a voice-clone TTS service over REST:
//
//	POST   /voices       register a clone from a reference sample
//	POST   /tts          synthesize text with a registered voice
//	DELETE /voices/{id}  remove a voice model
type HTTPEngine struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPEngine creates the engine.
func NewHTTPEngine(cfg HTTPEngineConfig) (*HTTPEngine, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("synth: engine base URL is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultSpeakTimeout}
	}
	return &HTTPEngine{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    client,
	}, nil
}

type cloneRequest struct {
	VoiceID     string `json:"voiceId"`
	AudioBase64 string `json:"audioBase64"`
	SampleRate  int    `json:"sampleRate"`
}

type speakRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	VoiceID  string `json:"voiceId,omitempty"`
	Params   any    `json:"params,omitempty"`
}

type speakResponse struct {
	AudioBase64     string  `json:"audioBase64"`
	VoiceSimilarity float64 `json:"voiceSimilarity,omitempty"`
}

type engineError struct {
	Error string `json:"error"`
}

// Clone registers a voice model from a reference sample.
func (e *HTTPEngine) Clone(ctx context.Context, modelID string, sample *audio.Clip) error {
	body := cloneRequest{
		VoiceID:     modelID,
		AudioBase64: base64.StdEncoding.EncodeToString(audio.EncodeWAV(sample)),
		SampleRate:  sample.SampleRate,
	}
	return e.do(ctx, http.MethodPost, "/voices", body, nil)
}

// Speak synthesizes one text with a registered model.
func (e *HTTPEngine) Speak(ctx context.Context, req *SpeakRequest) (*Synthesis, error) {
	body := speakRequest{
		Text:     req.Text,
		Language: req.Language,
		VoiceID:  req.ModelID,
		Params:   req.Params,
	}
	var resp speakResponse
	if err := e.do(ctx, http.MethodPost, "/tts", body, &resp); err != nil {
		return nil, err
	}
	wav, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("synth: bad audio payload: %w", err)
	}
	clip, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("synth: %w", err)
	}
	return &Synthesis{Clip: clip, VoiceSimilarity: resp.VoiceSimilarity}, nil
}

// Delete removes a voice model. Missing models are not an error.
func (e *HTTPEngine) Delete(ctx context.Context, modelID string) error {
	err := e.do(ctx, http.MethodDelete, "/voices/"+modelID, nil, nil)
	if err != nil && strings.Contains(err.Error(), "status 404") {
		return nil
	}
	return err
}

func (e *HTTPEngine) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("synth: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("synth: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("synth: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var ee engineError
		if json.Unmarshal(data, &ee) == nil && ee.Error != "" {
			return fmt.Errorf("synth: %s %s: status %d: %s", method, path, resp.StatusCode, ee.Error)
		}
		return fmt.Errorf("synth: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("synth: decode response: %w", err)
	}
	return nil
}
